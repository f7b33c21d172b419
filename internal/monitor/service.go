package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jonesrussell/north-cloud/avd-crawler/internal/engine"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/logger"
)

// Defaults for the monitoring service.
const (
	DefaultSchedule = "0 */6 * * *"
	DefaultStateDir = "./monitoring_data"
	alertType       = "cve_security_alert"
)

var (
	// ErrAlreadyStarted is returned by Start on a running service.
	ErrAlreadyStarted = errors.New("monitor already started")
	// ErrIncomplete is returned by CheckOnce when the crawl failed or was stopped.
	ErrIncomplete = errors.New("incremental crawl did not complete")
)

// Config configures the monitoring service.
type Config struct {
	Schedule   string      `json:"schedule" yaml:"schedule" mapstructure:"schedule"`
	StateDir   string      `json:"state_dir" yaml:"state_dir" mapstructure:"state_dir"`
	Thresholds Thresholds  `json:"thresholds" yaml:"thresholds" mapstructure:"thresholds"`
	Email      EmailConfig `json:"email" yaml:"email" mapstructure:"email"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Schedule == "" {
		c.Schedule = DefaultSchedule
	}
	if c.StateDir == "" {
		c.StateDir = DefaultStateDir
	}
	if c.Thresholds == (Thresholds{}) {
		c.Thresholds = DefaultThresholds()
	}
	if c.Email.SMTPPort == 0 {
		c.Email.SMTPPort = DefaultSMTPPort
	}
}

// Crawler runs one crawl. *engine.Engine satisfies it.
type Crawler interface {
	Run(ctx context.Context, req engine.Request) (engine.Result, error)
}

// Outcome describes one check.
type Outcome struct {
	LookbackDays int
	Result       engine.Result
	Analysis     Analysis
	Alerts       []string
	SnapshotPath string
	ReportPath   string
	// Emailed is true when the alert email was sent.
	Emailed bool
}

// Service checks for new advisories on a cron schedule.
type Service struct {
	cfg     Config
	crawler Crawler
	state   *StateDir
	logger  logger.Logger
	now     func() time.Time
	known   *engine.KnownSet
	mailer  Mailer
	email   *EmailNotifier

	mu   sync.Mutex
	cron *cron.Cron
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(s *Service) { s.logger = logger.OrNop(log) }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithKnown records every reported identifier in known, so later checks
// reported through an engine sharing the set skip them.
func WithKnown(known *engine.KnownSet) Option {
	return func(s *Service) { s.known = known }
}

// WithMailer sends alert emails through m instead of dialing the configured
// SMTP server.
func WithMailer(m Mailer) Option {
	return func(s *Service) { s.mailer = m }
}

// NewService creates a Service persisting its state under cfg.StateDir.
func NewService(cfg Config, crawler Crawler, opts ...Option) (*Service, error) {
	cfg.SetDefaults()
	if _, err := cronParser().Parse(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", cfg.Schedule, err)
	}
	state, err := NewStateDir(cfg.StateDir)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:     cfg,
		crawler: crawler,
		state:   state,
		logger:  logger.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.Email.Enabled {
		if s.email, err = NewEmailNotifier(cfg.Email, s.mailer); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// State returns the state directory.
func (s *Service) State() *StateDir {
	return s.state
}

// CheckOnce runs one incremental crawl sized by the last-check marker. The
// marker advances only when the crawl completed.
func (s *Service) CheckOnce(ctx context.Context) (Outcome, error) {
	started := s.now()

	marker, err := s.state.LoadMarker()
	if err != nil {
		s.logger.Warn("Ignoring unreadable last-check marker", logger.Error(err))
		marker = nil
	}
	out := Outcome{LookbackDays: LookbackDays(started, marker)}
	s.logger.Info("Monitoring check started", logger.Int("lookback_days", out.LookbackDays))

	res, err := s.crawler.Run(ctx, engine.Request{Mode: engine.ModeIncremental, LookbackDays: out.LookbackDays})
	out.Result = res
	if err != nil {
		return out, fmt.Errorf("incremental crawl: %w", err)
	}
	if res.State != engine.StateCompleted {
		return out, fmt.Errorf("%w: %s", ErrIncomplete, res.State)
	}

	if len(res.New) > 0 {
		if err = s.record(ctx, started, &out); err != nil {
			return out, err
		}
	} else {
		s.logger.Info("No new advisories")
	}

	if err = s.state.SaveMarker(started); err != nil {
		return out, err
	}
	if s.known != nil {
		for _, rec := range res.New {
			s.known.Add(rec.CVEID)
		}
	}
	s.logger.Info("Monitoring check finished",
		logger.Int("new", len(res.New)),
		logger.Strings("alerts", out.Alerts),
	)
	return out, nil
}

func (s *Service) record(ctx context.Context, now time.Time, out *Outcome) error {
	records := out.Result.New
	out.Analysis = Analyze(records)

	path, err := s.state.SaveSnapshot(now, records, out.Analysis)
	if err != nil {
		return err
	}
	out.SnapshotPath = path

	out.Alerts = s.cfg.Thresholds.Evaluate(out.Analysis)
	if len(out.Alerts) > 0 {
		s.logger.Warn("Advisory alert raised",
			logger.Strings("reasons", out.Alerts),
			logger.Int("critical", out.Analysis.CriticalCount),
			logger.Int("high", out.Analysis.HighRiskCount),
		)
		alert := Alert{Timestamp: now, Type: alertType, Reasons: out.Alerts, Analysis: out.Analysis}
		if err = s.state.AppendAlert(alert); err != nil {
			return err
		}
		out.Emailed = s.sendAlert(ctx, now, out.Analysis)
	}

	out.ReportPath, err = s.state.SaveReport(now, out.Analysis)
	return err
}

// sendAlert emails the alert when email is enabled. Delivery failures are
// logged; the alert log remains the record.
func (s *Service) sendAlert(ctx context.Context, now time.Time, a Analysis) bool {
	if s.email == nil {
		s.logger.Debug("Email notification disabled, alert not sent")
		return false
	}
	if err := s.email.Notify(ctx, now, a); err != nil {
		s.logger.Error("Failed to send alert email", logger.Error(err))
		return false
	}
	s.logger.Info("Alert email sent", logger.Strings("to", s.cfg.Email.To))
	return true
}

// Start schedules CheckOnce. Checks never overlap; a trigger that fires while a
// check is running is skipped.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return ErrAlreadyStarted
	}

	c := cron.New(
		cron.WithParser(cronParser()),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	_, err := c.AddFunc(s.cfg.Schedule, func() {
		if _, checkErr := s.CheckOnce(ctx); checkErr != nil {
			s.logger.Error("Monitoring check failed", logger.Error(checkErr))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule check: %w", err)
	}
	c.Start()
	s.cron = c

	s.logger.Info("Monitoring service started", logger.String("schedule", s.cfg.Schedule))
	return nil
}

// Stop unschedules checks and waits for a running one to finish or ctx to end.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func cronParser() cron.Parser {
	return cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
}
