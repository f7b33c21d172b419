package monitor_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"

	"github.com/jonesrussell/north-cloud/avd-crawler/internal/config/crawl"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/domain"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/engine"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/monitor"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/testutils/catalog"
)

var testNow = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

func record(id string, score float64) domain.NormalizedRecord {
	return domain.NormalizedRecord{
		CVEID:       id,
		CVSSScore:   score,
		Severity:    domain.SeverityFromScore(score),
		Description: "Description of " + id,
	}
}

type fakeCrawler struct {
	requests []engine.Request
	result   engine.Result
	err      error
}

func (f *fakeCrawler) Run(_ context.Context, req engine.Request) (engine.Result, error) {
	f.requests = append(f.requests, req)
	return f.result, f.err
}

func TestLookbackDays(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		marker *monitor.Marker
		want   int
	}{
		{name: "first run", marker: nil, want: 1},
		{name: "zero marker", marker: &monitor.Marker{}, want: 1},
		{name: "hours ago", marker: &monitor.Marker{LastCheck: testNow.Add(-6 * time.Hour)}, want: 1},
		{name: "two days ago", marker: &monitor.Marker{LastCheck: testNow.Add(-49 * time.Hour)}, want: 3},
		{name: "a month ago", marker: &monitor.Marker{LastCheck: testNow.AddDate(0, -1, 0)}, want: 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, monitor.LookbackDays(testNow, tt.marker))
		})
	}
}

func TestAnalyze(t *testing.T) {
	t.Parallel()

	long := record("CVE-2024-0007", 4.0)
	long.Description = strings.Repeat("x", 150)
	records := []domain.NormalizedRecord{
		record("CVE-2024-0001", 9.5),
		record("CVE-2024-0002", 7.0),
		record("CVE-2024-0003", 9.8),
		record("CVE-2024-0004", 7.5),
		record("CVE-2024-0005", 7.2),
		record("CVE-2024-0006", 0),
		long,
	}

	a := monitor.Analyze(records)
	assert.Equal(t, 7, a.TotalCount)
	assert.Equal(t, 2, a.CriticalCount)
	assert.Equal(t, 3, a.HighRiskCount)
	assert.Equal(t, map[domain.Severity]int{
		domain.SeverityCritical: 2,
		domain.SeverityHigh:     3,
		domain.SeverityMedium:   1,
		domain.SeverityLow:      1,
	}, a.SeverityDistribution)

	require.NotNil(t, a.CVSSStats)
	assert.Equal(t, 6, a.CVSSStats.Count)
	assert.InDelta(t, 9.8, a.CVSSStats.Max, 0.001)
	assert.InDelta(t, 4.0, a.CVSSStats.Min, 0.001)
	assert.InDelta(t, 45.0/6, a.CVSSStats.Average, 0.001)

	require.Len(t, a.TopCVSS, 5)
	assert.Equal(t, "CVE-2024-0003", a.TopCVSS[0].CVEID)
	assert.Equal(t, "CVE-2024-0001", a.TopCVSS[1].CVEID)
	assert.Equal(t, "CVE-2024-0002", a.TopCVSS[4].CVEID)
	assert.Len(t, a.RecentCritical, 2)

	b := monitor.Analyze([]domain.NormalizedRecord{long})
	assert.Equal(t, strings.Repeat("x", 100)+"...", b.TopCVSS[0].Description)
}

func TestAnalyze_Empty(t *testing.T) {
	t.Parallel()

	a := monitor.Analyze(nil)
	assert.Zero(t, a.TotalCount)
	assert.Nil(t, a.CVSSStats)
	assert.Empty(t, a.TopCVSS)
}

func TestThresholds_Evaluate(t *testing.T) {
	t.Parallel()

	th := monitor.DefaultThresholds()
	assert.Empty(t, th.Evaluate(monitor.Analyze([]domain.NormalizedRecord{record("a", 5.0)})))
	assert.Equal(t, []string{"critical_count", "cvss_average"},
		th.Evaluate(monitor.Analyze([]domain.NormalizedRecord{record("a", 9.1)})))
	assert.Equal(t, []string{"high_risk_count"},
		th.Evaluate(monitor.Analyze([]domain.NormalizedRecord{
			record("a", 7.0), record("b", 7.0), record("c", 7.0), record("d", 2.0),
		})))
}

func TestStateDir_MarkerRoundTrip(t *testing.T) {
	t.Parallel()

	dir, err := monitor.NewStateDir(t.TempDir())
	require.NoError(t, err)

	m, err := dir.LoadMarker()
	require.NoError(t, err)
	assert.Nil(t, m)

	require.NoError(t, dir.SaveMarker(testNow))
	m, err = dir.LoadMarker()
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.True(t, testNow.Equal(m.LastCheck))
}

func TestStateDir_AlertLogKeepsNewest(t *testing.T) {
	t.Parallel()

	dir, err := monitor.NewStateDir(t.TempDir())
	require.NoError(t, err)

	for i := range monitor.MaxAlerts + 5 {
		require.NoError(t, dir.AppendAlert(monitor.Alert{
			Timestamp: testNow.Add(time.Duration(i) * time.Minute),
			Type:      fmt.Sprintf("alert-%d", i),
		}))
	}

	alerts, err := dir.LoadAlerts()
	require.NoError(t, err)
	require.Len(t, alerts, monitor.MaxAlerts)
	assert.Equal(t, "alert-5", alerts[0].Type)
	assert.Equal(t, fmt.Sprintf("alert-%d", monitor.MaxAlerts+4), alerts[len(alerts)-1].Type)
}

func TestRenderReport(t *testing.T) {
	t.Parallel()

	a := monitor.Analyze([]domain.NormalizedRecord{record("CVE-2024-0001", 9.5), record("CVE-2024-0002", 5.0)})
	report := monitor.RenderReport(testNow, a)

	assert.Contains(t, report, "**Generated**: 2024-06-10 12:00:00")
	assert.Contains(t, report, "- **New advisories**: 2")
	assert.Contains(t, report, "- **CRITICAL**: 1 (50.0%)")
	assert.Contains(t, report, "- **Average**: 7.25")
	assert.Contains(t, report, "1. **CVE-2024-0001** (CVSS: 9.5)")
	assert.NotContains(t, report, "**LOW**")
}

func TestService_CheckOnce(t *testing.T) {
	t.Parallel()

	now := testNow
	crawler := &fakeCrawler{result: engine.Result{
		State: engine.StateCompleted,
		New:   []domain.NormalizedRecord{record("CVE-2024-0001", 9.5), record("CVE-2024-0002", 7.5)},
	}}
	stateDir := t.TempDir()
	svc, err := monitor.NewService(monitor.Config{StateDir: stateDir}, crawler,
		monitor.WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	out, err := svc.CheckOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, out.LookbackDays)
	assert.Equal(t, engine.Request{Mode: engine.ModeIncremental, LookbackDays: 1}, crawler.requests[0])
	assert.Equal(t, []string{"critical_count", "cvss_average"}, out.Alerts)
	assert.FileExists(t, out.SnapshotPath)
	assert.FileExists(t, out.ReportPath)
	assert.FileExists(t, filepath.Join(stateDir, monitor.AlertsFileName))

	now = now.Add(50 * time.Hour)
	out, err = svc.CheckOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, out.LookbackDays)

	alerts, err := svc.State().LoadAlerts()
	require.NoError(t, err)
	assert.Len(t, alerts, 2)
}

func TestService_IncompleteRunKeepsMarker(t *testing.T) {
	t.Parallel()

	crawler := &fakeCrawler{result: engine.Result{State: engine.StateStopped}}
	svc, err := monitor.NewService(monitor.Config{StateDir: t.TempDir()}, crawler,
		monitor.WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)

	_, err = svc.CheckOnce(context.Background())
	require.ErrorIs(t, err, monitor.ErrIncomplete)

	m, err := svc.State().LoadMarker()
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestService_NoNewAdvisoriesWritesNoReport(t *testing.T) {
	t.Parallel()

	stateDir := t.TempDir()
	crawler := &fakeCrawler{result: engine.Result{State: engine.StateCompleted}}
	svc, err := monitor.NewService(monitor.Config{StateDir: stateDir}, crawler)
	require.NoError(t, err)

	out, err := svc.CheckOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, out.ReportPath)

	entries, err := os.ReadDir(filepath.Join(stateDir, monitor.ReportsDirName))
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.FileExists(t, filepath.Join(stateDir, monitor.MarkerFileName))
}

func TestService_WithEngineSkipsKnownOnNextCheck(t *testing.T) {
	t.Parallel()

	c := catalog.New(catalog.Generate("2024-1", 3, "2024-06-10", "8.8"))
	cfg, err := crawl.New(crawl.WithMaxPages(5))
	require.NoError(t, err)

	known := engine.NewKnownSet()
	clock := func() time.Time { return testNow }
	eng := engine.New(cfg,
		engine.WithOpener(c),
		engine.WithKnown(known),
		engine.WithClock(clock),
		engine.WithSleeper(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
	)
	svc, err := monitor.NewService(monitor.Config{StateDir: t.TempDir()}, eng,
		monitor.WithKnown(known), monitor.WithClock(clock))
	require.NoError(t, err)

	out, err := svc.CheckOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, out.Result.New, 3)
	assert.Equal(t, 3, known.Len())

	out, err = svc.CheckOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, out.Result.New)
	assert.Len(t, out.Result.Records, 3)
}

func TestNewService_InvalidSchedule(t *testing.T) {
	t.Parallel()

	_, err := monitor.NewService(monitor.Config{StateDir: t.TempDir(), Schedule: "every day"}, &fakeCrawler{})
	require.Error(t, err)
}

func TestService_StartStop(t *testing.T) {
	t.Parallel()

	svc, err := monitor.NewService(monitor.Config{StateDir: t.TempDir()}, &fakeCrawler{})
	require.NoError(t, err)

	require.NoError(t, svc.Start(context.Background()))
	require.ErrorIs(t, svc.Start(context.Background()), monitor.ErrAlreadyStarted)
	require.NoError(t, svc.Stop(context.Background()))
	require.NoError(t, svc.Stop(context.Background()))
}

type fakeMailer struct {
	sent []*mail.Msg
	err  error
}

func (f *fakeMailer) DialAndSendWithContext(_ context.Context, msgs ...*mail.Msg) error {
	f.sent = append(f.sent, msgs...)
	return f.err
}

func alertingCrawler() *fakeCrawler {
	return &fakeCrawler{result: engine.Result{
		State: engine.StateCompleted,
		New:   []domain.NormalizedRecord{record("CVE-2024-0001", 9.5), record("CVE-2024-0002", 7.5)},
	}}
}

func emailConfig() monitor.EmailConfig {
	return monitor.EmailConfig{
		Enabled:    true,
		SMTPServer: "smtp.example.com",
		UseTLS:     true,
		From:       "monitor@example.com",
		To:         []string{"security@example.com"},
	}
}

func TestAlertBody(t *testing.T) {
	t.Parallel()

	a := monitor.Analyze([]domain.NormalizedRecord{record("CVE-2024-0001", 9.5), record("CVE-2024-0002", 7.5)})
	body := monitor.AlertBody(testNow, a)

	for _, want := range []string{
		"Checked at: 2024-06-10 12:00:00",
		"New advisories: 2",
		"Critical: 1",
		"High: 1",
		"CRITICAL: 1",
		"HIGH: 1",
		"Average: 8.50",
		"- CVE-2024-0001 (CVSS: 9.5)\n  Description of CVE-2024-0001",
	} {
		assert.Contains(t, body, want)
	}
	assert.NotContains(t, body, "CVE-2024-0002 (CVSS", "only critical advisories are detailed")
	assert.Equal(t, "Advisory alert: 1 critical vulnerabilities found", monitor.AlertSubject(a))
}

func TestService_EmailsAlert(t *testing.T) {
	t.Parallel()

	mailer := &fakeMailer{}
	svc, err := monitor.NewService(monitor.Config{StateDir: t.TempDir(), Email: emailConfig()}, alertingCrawler(),
		monitor.WithMailer(mailer), monitor.WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)

	out, err := svc.CheckOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, out.Emailed)
	require.Len(t, mailer.sent, 1)

	msg := mailer.sent[0]
	assert.Equal(t, []string{"Advisory alert: 1 critical vulnerabilities found"}, msg.GetGenHeader(mail.HeaderSubject))
	rcpts, err := msg.GetRecipients()
	require.NoError(t, err)
	assert.Equal(t, []string{"security@example.com"}, rcpts)
}

func TestService_EmailDisabled(t *testing.T) {
	t.Parallel()

	mailer := &fakeMailer{}
	stateDir := t.TempDir()
	cfg := monitor.Config{StateDir: stateDir, Email: emailConfig()}
	cfg.Email.Enabled = false
	svc, err := monitor.NewService(cfg, alertingCrawler(), monitor.WithMailer(mailer))
	require.NoError(t, err)

	out, err := svc.CheckOnce(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, out.Alerts)
	assert.False(t, out.Emailed)
	assert.Empty(t, mailer.sent)
	assert.FileExists(t, filepath.Join(stateDir, monitor.AlertsFileName))
}

func TestService_EmailFailureKeepsCheck(t *testing.T) {
	t.Parallel()

	mailer := &fakeMailer{err: errors.New("connection refused")}
	stateDir := t.TempDir()
	svc, err := monitor.NewService(monitor.Config{StateDir: stateDir, Email: emailConfig()}, alertingCrawler(),
		monitor.WithMailer(mailer))
	require.NoError(t, err)

	out, err := svc.CheckOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, out.Emailed)
	assert.FileExists(t, filepath.Join(stateDir, monitor.MarkerFileName))
}

func TestNewService_InvalidEmailConfig(t *testing.T) {
	t.Parallel()

	tests := map[string]func(*monitor.EmailConfig){
		"no server":     func(c *monitor.EmailConfig) { c.SMTPServer = "" },
		"no sender":     func(c *monitor.EmailConfig) { c.From = "" },
		"no recipients": func(c *monitor.EmailConfig) { c.To = nil },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			cfg := emailConfig()
			mutate(&cfg)
			_, err := monitor.NewService(monitor.Config{StateDir: t.TempDir(), Email: cfg}, &fakeCrawler{},
				monitor.WithMailer(&fakeMailer{}))
			require.ErrorIs(t, err, monitor.ErrEmailConfig)
		})
	}
}

func TestNewEmailNotifier_DialsConfiguredServer(t *testing.T) {
	t.Parallel()

	n, err := monitor.NewEmailNotifier(emailConfig(), nil)
	require.NoError(t, err)
	assert.NotNil(t, n)
}
