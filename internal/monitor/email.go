package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/jonesrussell/north-cloud/avd-crawler/internal/domain"
)

// Email defaults.
const (
	DefaultSMTPPort = 587
	smtpTimeout     = 30 * time.Second
)

// ErrEmailConfig is returned for an enabled email section missing a required field.
var ErrEmailConfig = errors.New("invalid email configuration")

// EmailConfig configures alert delivery by email.
type EmailConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	SMTPServer string   `json:"smtp_server" yaml:"smtp_server" mapstructure:"smtp_server"`
	SMTPPort   int      `json:"smtp_port" yaml:"smtp_port" mapstructure:"smtp_port"`
	UseTLS     bool     `json:"use_tls" yaml:"use_tls" mapstructure:"use_tls"`
	From       string   `json:"from" yaml:"from" mapstructure:"from"`
	To         []string `json:"to" yaml:"to" mapstructure:"to"`
	Username   string   `json:"username" yaml:"username" mapstructure:"username"`
	Password   string   `json:"-" yaml:"password" mapstructure:"password"`
}

// Validate checks the fields needed to send. A disabled section is always valid.
func (c EmailConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch {
	case c.SMTPServer == "":
		return fmt.Errorf("%w: smtp_server is required", ErrEmailConfig)
	case c.From == "":
		return fmt.Errorf("%w: from is required", ErrEmailConfig)
	case len(c.To) == 0:
		return fmt.Errorf("%w: at least one recipient is required", ErrEmailConfig)
	}
	return nil
}

// Mailer delivers composed messages. *mail.Client satisfies it.
type Mailer interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// EmailNotifier sends alert emails.
type EmailNotifier struct {
	cfg    EmailConfig
	mailer Mailer
}

// NewEmailNotifier builds a notifier for cfg. A nil mailer dials cfg's SMTP server.
func NewEmailNotifier(cfg EmailConfig, mailer Mailer) (*EmailNotifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.SMTPPort == 0 {
		cfg.SMTPPort = DefaultSMTPPort
	}
	if mailer == nil {
		client, err := newSMTPClient(cfg)
		if err != nil {
			return nil, err
		}
		mailer = client
	}
	return &EmailNotifier{cfg: cfg, mailer: mailer}, nil
}

func newSMTPClient(cfg EmailConfig) (*mail.Client, error) {
	policy := mail.NoTLS
	if cfg.UseTLS {
		policy = mail.TLSMandatory
	}
	opts := []mail.Option{
		mail.WithPort(cfg.SMTPPort),
		mail.WithTimeout(smtpTimeout),
		mail.WithTLSPolicy(policy),
	}
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.SMTPServer, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return client, nil
}

// Notify emails an alert for a.
func (n *EmailNotifier) Notify(ctx context.Context, now time.Time, a Analysis) error {
	msg := mail.NewMsg()
	if err := msg.From(n.cfg.From); err != nil {
		return fmt.Errorf("sender address: %w", err)
	}
	if err := msg.To(n.cfg.To...); err != nil {
		return fmt.Errorf("recipient address: %w", err)
	}
	msg.Subject(AlertSubject(a))
	msg.SetDateWithValue(now)
	msg.SetBodyString(mail.TypeTextPlain, AlertBody(now, a))

	if err := n.mailer.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send alert email: %w", err)
	}
	return nil
}

// AlertSubject is the subject line of an alert email.
func AlertSubject(a Analysis) string {
	return fmt.Sprintf("Advisory alert: %d critical vulnerabilities found", a.CriticalCount)
}

// AlertBody renders the plain-text body of an alert email.
func AlertBody(now time.Time, a Analysis) string {
	var b strings.Builder

	b.WriteString("Advisory monitoring alert\n\n")
	fmt.Fprintf(&b, "Checked at: %s\n\n", now.Format(reportTimeLayout))

	b.WriteString("=== Overview ===\n")
	fmt.Fprintf(&b, "New advisories: %d\n", a.TotalCount)
	fmt.Fprintf(&b, "Critical: %d\n", a.CriticalCount)
	fmt.Fprintf(&b, "High: %d\n", a.HighRiskCount)

	b.WriteString("\n=== Severity distribution ===\n")
	for _, sev := range domain.Severities {
		if count := a.SeverityDistribution[sev]; count > 0 {
			fmt.Fprintf(&b, "%s: %d\n", sev, count)
		}
	}

	if s := a.CVSSStats; s != nil {
		b.WriteString("\n=== CVSS statistics ===\n")
		fmt.Fprintf(&b, "Average: %.2f\n", s.Average)
		fmt.Fprintf(&b, "Max: %.1f\n", s.Max)
		fmt.Fprintf(&b, "Min: %.1f\n", s.Min)
	}

	if len(a.RecentCritical) > 0 {
		b.WriteString("\n=== Critical advisories ===\n")
		for _, h := range a.RecentCritical[:min(len(a.RecentCritical), topN)] {
			fmt.Fprintf(&b, "- %s (CVSS: %.1f)\n  %s\n\n", h.CVEID, h.CVSSScore, h.Description)
		}
	}

	b.WriteString("\nReview and remediate the affected systems promptly.\n")
	return b.String()
}
