package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/avd-crawler/internal/cache"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/config/crawl"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/domain"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/engine"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/parser"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/session"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/testutils/catalog"
)

var testNow = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func newEngine(t *testing.T, c *catalog.Catalog, maxPages int, opts ...engine.Option) *engine.Engine {
	t.Helper()

	cfg, err := crawl.New(crawl.WithMaxPages(maxPages), crawl.WithDataDir(t.TempDir()))
	require.NoError(t, err)

	base := []engine.Option{
		engine.WithOpener(c),
		engine.WithStore(cache.NewMemoryStore(cfg.CacheTTL)),
		engine.WithSleeper(noSleep),
		engine.WithJitter(func(time.Duration, time.Duration) time.Duration { return 0 }),
		engine.WithClock(func() time.Time { return testNow }),
	}
	return engine.New(cfg, append(base, opts...)...)
}

func ids(records []domain.NormalizedRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.CVEID
	}
	return out
}

func isDetail(url string) bool {
	return strings.Contains(url, "/detail?")
}

func TestCrawlAll_TwoPages(t *testing.T) {
	t.Parallel()

	c := catalog.New(
		catalog.Generate("2024-1", 5, "2024-06-01", "9.5"),
		catalog.Generate("2024-2", 3, "2024-05-01", "5.0"),
		catalog.Generate("2024-3", 4, "2024-04-01", "5.0"),
	)
	e := newEngine(t, c, 2)

	records, err := e.CrawlAll(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, records, 8)
	assert.Equal(t, []string{
		"CVE-2024-1001", "CVE-2024-1002", "CVE-2024-1003", "CVE-2024-1004", "CVE-2024-1005",
		"CVE-2024-2001", "CVE-2024-2002", "CVE-2024-2003",
	}, ids(records), "records keep discovery order")
	assert.Equal(t, domain.SeverityCritical, records[0].Severity)
	assert.Equal(t, domain.SeverityMedium, records[7].Severity)

	m := e.GetMetrics()
	assert.Equal(t, 2, m.PagesCrawled)
	assert.Equal(t, 8, m.RecordsFound)
	assert.Zero(t, m.Errors)
	require.NotNil(t, m.StartTime)
	require.NotNil(t, m.EndTime)

	assert.Equal(t, engine.StateCompleted, e.State())
	assert.Equal(t, []int{1, 2}, c.FetchedPages())
	opened, closed := c.Sessions()
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, closed)
}

func TestCrawlAll_EndOfCatalog(t *testing.T) {
	t.Parallel()

	c := catalog.New(catalog.Generate("2024-1", 2, "2024-06-01", "7.0"))
	e := newEngine(t, c, 10)

	records, err := e.CrawlAll(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, 1, e.GetMetrics().PagesCrawled)
	assert.Equal(t, []int{1, 2}, c.FetchedPages())
}

func TestRun_PermanentItemFailureIsAbsorbed(t *testing.T) {
	t.Parallel()

	c := catalog.New(catalog.Generate("2024-1", 5, "2024-06-01", "7.0"))
	c.FailDetail("CVE-2024-1003", &parser.ParseError{URL: "detail", Err: parser.ErrNotDetailPage})
	e := newEngine(t, c, 1)

	res, err := e.Run(context.Background(), engine.Request{Mode: engine.ModeFull})
	require.NoError(t, err)

	assert.Len(t, res.Records, 4)
	assert.NotContains(t, ids(res.Records), "CVE-2024-1003")
	assert.Equal(t, []string{"CVE-2024-1003"}, res.Failed)
	assert.Equal(t, 1, res.Metrics.Errors)
	assert.Equal(t, engine.StateCompleted, res.State)
	assert.Equal(t, 1, c.DetailFetches("CVE-2024-1003"), "parse failures are not retried")
}

func TestRun_TemporaryItemFailureRetried(t *testing.T) {
	t.Parallel()

	c := catalog.New(catalog.Generate("2024-1", 2, "2024-06-01", "7.0"))
	temp := &session.FetchError{URL: "detail", StatusCode: 503, Temporary: true, Err: errors.New("unavailable")}
	c.FailDetail("CVE-2024-1001", temp, temp, temp)
	c.FailDetail("CVE-2024-1002", temp)
	e := newEngine(t, c, 1)

	res, err := e.Run(context.Background(), engine.Request{})
	require.NoError(t, err)
	assert.Equal(t, []string{"CVE-2024-1002"}, ids(res.Records))
	assert.Equal(t, []string{"CVE-2024-1001"}, res.Failed)
	assert.Equal(t, 3, c.DetailFetches("CVE-2024-1001"))
	assert.Equal(t, 2, c.DetailFetches("CVE-2024-1002"))
}

func TestRun_SessionFailure(t *testing.T) {
	t.Parallel()

	c := catalog.New(catalog.Generate("2024-1", 5, "2024-06-01", "7.0"))
	c.FailOpen(errors.New("executable file not found"))
	e := newEngine(t, c, 1)

	records, err := e.CrawlAll(context.Background(), 1, 1)
	require.Error(t, err)
	var se *session.Error
	require.ErrorAs(t, err, &se)
	assert.Contains(t, err.Error(), "could not start")
	assert.Empty(t, records)
	assert.Equal(t, engine.StateFailed, e.State())
	assert.NotNil(t, e.GetMetrics().EndTime)
	assert.Empty(t, c.Fetched())
}

func TestRun_UnknownDriverIsSessionError(t *testing.T) {
	t.Parallel()

	cfg, err := crawl.New()
	require.NoError(t, err)
	e := engine.New(cfg, engine.WithDriver("lynx"))

	_, err = e.CrawlAll(context.Background(), 1, 1)
	var se *session.Error
	require.ErrorAs(t, err, &se)
	require.ErrorIs(t, err, session.ErrUnknownDriver)
}

func TestRun_FullModePageFailureAbortsRun(t *testing.T) {
	t.Parallel()

	c := catalog.New(
		catalog.Generate("2024-1", 5, "2024-06-01", "7.0"),
		catalog.Generate("2024-2", 3, "2024-06-01", "7.0"),
		catalog.Generate("2024-3", 3, "2024-06-01", "7.0"),
	)
	c.FailPage(2, &session.FetchError{URL: "page", Temporary: true, Err: errors.New("timeout")})
	e := newEngine(t, c, 3)

	res, err := e.Run(context.Background(), engine.Request{Mode: engine.ModeFull})
	require.NoError(t, err, "page failures never escape")
	assert.Equal(t, engine.StateFailed, res.State)
	assert.Len(t, res.Records, 5)
	require.Error(t, res.Err)
	assert.Equal(t, 1, res.Metrics.Errors)
	assert.Equal(t, []int{1, 2}, c.FetchedPages())
	_, closed := c.Sessions()
	assert.Equal(t, 1, closed)
}

func TestRun_IncrementalPageFailureReturnsPartial(t *testing.T) {
	t.Parallel()

	c := catalog.New(
		catalog.Generate("2024-1", 2, "2024-06-09", "7.0"),
		catalog.Generate("2024-2", 2, "2024-06-09", "7.0"),
	)
	c.FailPage(2, errors.New("connection reset"))
	e := newEngine(t, c, 10)

	res, err := e.Run(context.Background(), engine.Request{Mode: engine.ModeIncremental, LookbackDays: 3})
	require.NoError(t, err)
	assert.Equal(t, engine.StateCompleted, res.State)
	assert.Len(t, res.Records, 2)
	assert.Error(t, res.Err)
}

func TestCrawlIncremental_ShortCircuits(t *testing.T) {
	t.Parallel()

	page2 := append(
		catalog.Generate("2024-2", 1, "2024-06-09", "7.0"),
		catalog.Generate("2024-9", 3, "2024-05-01", "7.0")...,
	)
	c := catalog.New(
		catalog.Generate("2024-1", 3, "2024-06-10", "9.0"),
		page2,
		catalog.Generate("2024-3", 3, "2024-04-01", "7.0"),
	)
	e := newEngine(t, c, 100)

	records, err := e.CrawlIncremental(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"CVE-2024-1001", "CVE-2024-1002", "CVE-2024-1003", "CVE-2024-2001"}, ids(records))
	assert.Equal(t, []int{1, 2}, c.FetchedPages())
	assert.Zero(t, c.DetailFetches("CVE-2024-9001"))
}

func TestCrawlIncremental_FiltersKnown(t *testing.T) {
	t.Parallel()

	c := catalog.New(catalog.Generate("2024-1", 3, "2024-06-10", "9.0"))
	known := engine.NewKnownSet("CVE-2024-1002")
	e := newEngine(t, c, 5, engine.WithKnown(known))

	records, err := e.CrawlIncremental(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"CVE-2024-1001", "CVE-2024-1003"}, ids(records))
	assert.Len(t, e.LastResult().Records, 3)
}

func TestRun_DuplicateStubsFetchedOnce(t *testing.T) {
	t.Parallel()

	page := catalog.Generate("2024-1", 2, "2024-06-01", "7.0")
	c := catalog.New(page, page)
	e := newEngine(t, c, 2)

	records, err := e.CrawlAll(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, 2, e.GetMetrics().PagesCrawled)
	assert.Equal(t, 1, c.DetailFetches("CVE-2024-1001"))
}

func TestCrawlAll_IdempotentAcrossRuns(t *testing.T) {
	t.Parallel()

	c := catalog.New(
		catalog.Generate("2024-1", 3, "2024-06-01", "7.0"),
		catalog.Generate("2024-2", 2, "2024-06-01", "4.0"),
	)
	e := newEngine(t, c, 2)

	first, err := e.CrawlAll(context.Background(), 1, 2)
	require.NoError(t, err)
	second, err := e.CrawlAll(context.Background(), 1, 2)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 5, e.GetMetrics().RecordsFound, "metrics are per run")
	assert.Equal(t, 1, c.DetailFetches("CVE-2024-1001"), "second run is served from cache")
	opened, closed := c.Sessions()
	assert.Equal(t, 2, opened)
	assert.Equal(t, 2, closed)
}

func TestRequestStop_HonoredAtItemBoundary(t *testing.T) {
	t.Parallel()

	c := catalog.New(
		catalog.Generate("2024-1", 5, "2024-06-01", "7.0"),
		catalog.Generate("2024-2", 5, "2024-06-01", "7.0"),
	)
	e := newEngine(t, c, 2)
	c.OnFetch(func(url string) {
		if strings.HasSuffix(url, "CVE-2024-1003") {
			e.RequestStop()
		}
	})

	res, err := e.Run(context.Background(), engine.Request{Mode: engine.ModeFull})
	require.NoError(t, err)

	assert.Equal(t, engine.StateStopped, res.State)
	assert.Len(t, res.Records, 3, "the in-flight fetch completes")
	assert.LessOrEqual(t, len(res.Records), 10)
	assert.NotNil(t, res.Metrics.EndTime)
	assert.Equal(t, []int{1}, c.FetchedPages())
	_, closed := c.Sessions()
	assert.Equal(t, 1, closed)
}

func blockOn(c *catalog.Catalog, id string) (entered, release chan struct{}) {
	entered = make(chan struct{})
	release = make(chan struct{})
	c.OnFetch(func(url string) {
		if strings.HasSuffix(url, id) {
			close(entered)
			<-release
		}
	})
	return entered, release
}

func TestRunHandle_StopKeepsInFlightRecord(t *testing.T) {
	t.Parallel()

	c := catalog.New(catalog.Generate("2024-1", 5, "2024-06-01", "7.0"))
	entered, release := blockOn(c, "CVE-2024-1002")
	e := newEngine(t, c, 1)

	h := e.Start(context.Background(), engine.Request{Mode: engine.ModeFull})
	<-entered
	h.Stop()
	close(release)

	res, err := h.Result()
	require.NoError(t, err)
	assert.Equal(t, engine.StateStopped, res.State)
	assert.Equal(t, []string{"CVE-2024-1001", "CVE-2024-1002"}, ids(res.Records))
	assert.Empty(t, res.Failed)
	assert.Zero(t, c.DetailFetches("CVE-2024-1003"))
}

func TestClose_InFlightFetchIsNotAFailure(t *testing.T) {
	t.Parallel()

	c := catalog.New(catalog.Generate("2024-1", 5, "2024-06-01", "7.0"))
	entered, release := blockOn(c, "CVE-2024-1002")
	e := newEngine(t, c, 1)

	h := e.Start(context.Background(), engine.Request{Mode: engine.ModeFull})
	<-entered
	require.NoError(t, e.Close())
	close(release)

	res, err := h.Result()
	require.NoError(t, err)
	assert.Equal(t, engine.StateStopped, res.State)
	assert.Equal(t, []string{"CVE-2024-1001"}, ids(res.Records))
	assert.Empty(t, res.Failed, "a closed session is not an item failure")
	assert.Zero(t, res.Metrics.Errors)
}

func TestRun_FailedItemNotRetriedOnLaterPage(t *testing.T) {
	t.Parallel()

	page := catalog.Generate("2024-1", 2, "2024-06-01", "7.0")
	c := catalog.New(page, page)
	c.FailDetail("CVE-2024-1002", &parser.ParseError{URL: "detail", Err: parser.ErrNotDetailPage})
	e := newEngine(t, c, 2)

	res, err := e.Run(context.Background(), engine.Request{Mode: engine.ModeFull})
	require.NoError(t, err)
	assert.Equal(t, []string{"CVE-2024-1001"}, ids(res.Records))
	assert.Equal(t, []string{"CVE-2024-1002"}, res.Failed)
	assert.Equal(t, 1, c.DetailFetches("CVE-2024-1002"))
}

func TestRunHandle_StopBeforeFirstPage(t *testing.T) {
	t.Parallel()

	c := catalog.New(catalog.Generate("2024-1", 5, "2024-06-01", "7.0"))
	release := make(chan struct{})
	c.OnFetch(func(string) { <-release })
	e := newEngine(t, c, 1)

	h := e.Start(context.Background(), engine.Request{Mode: engine.ModeFull})
	h.Stop()
	close(release)

	res, err := h.Result()
	require.NoError(t, err)
	assert.Equal(t, engine.StateStopped, res.State)
	assert.Empty(t, res.Records)
	assert.Empty(t, c.Fetched())
	assert.True(t, h.Finished())
}

func TestRunHandle_SecondRunRejectedWhileBusy(t *testing.T) {
	t.Parallel()

	c := catalog.New(catalog.Generate("2024-1", 2, "2024-06-01", "7.0"))
	entered := make(chan struct{})
	release := make(chan struct{})
	c.OnFetch(func(url string) {
		if !isDetail(url) {
			select {
			case <-entered:
			default:
				close(entered)
			}
			<-release
		}
	})
	e := newEngine(t, c, 1)

	h := e.Start(context.Background(), engine.Request{Mode: engine.ModeFull})
	<-entered
	assert.Equal(t, engine.StateRunning, e.State())
	assert.NotNil(t, e.GetMetrics().StartTime)

	_, err := e.Run(context.Background(), engine.Request{Mode: engine.ModeFull})
	require.ErrorIs(t, err, engine.ErrRunInProgress)

	close(release)
	res, err := h.Result()
	require.NoError(t, err)
	assert.Len(t, res.Records, 2)
	assert.Equal(t, engine.StateCompleted, e.State())
}

func TestRun_ContextCancelledStopsRun(t *testing.T) {
	t.Parallel()

	c := catalog.New(catalog.Generate("2024-1", 5, "2024-06-01", "7.0"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.OnFetch(func(url string) {
		if strings.HasSuffix(url, "CVE-2024-1002") {
			cancel()
		}
	})
	e := newEngine(t, c, 1)

	res, err := e.Run(ctx, engine.Request{Mode: engine.ModeFull})
	require.NoError(t, err)
	assert.Equal(t, engine.StateStopped, res.State)
	assert.Len(t, res.Records, 1, "cancellation aborts the in-flight fetch")
	assert.Empty(t, res.Failed, "cancellation is not an item failure")
}

func TestRun_UnknownMode(t *testing.T) {
	t.Parallel()

	e := newEngine(t, catalog.New(), 1)
	_, err := e.Run(context.Background(), engine.Request{Mode: "sideways"})
	require.ErrorIs(t, err, engine.ErrUnknownMode)
	assert.Equal(t, engine.StateIdle, e.State())
}

func TestGetMetrics_BeforeAnyRun(t *testing.T) {
	t.Parallel()

	e := newEngine(t, catalog.New(), 1)
	m := e.GetMetrics().AsMap()
	for _, key := range []string{"pages_crawled", "cves_found", "errors", "start_time", "end_time"} {
		assert.Contains(t, m, key)
	}
	assert.Nil(t, m["start_time"])
	assert.Equal(t, engine.StateIdle, e.State())
}

func TestClampLookback(t *testing.T) {
	t.Parallel()

	tests := map[int]int{-3: 1, 0: 1, 1: 1, 4: 4, 7: 7, 30: 7}
	for in, want := range tests {
		assert.Equal(t, want, engine.ClampLookback(in), "days=%d", in)
	}
}

func TestPackageCrawlAll(t *testing.T) {
	t.Parallel()

	c := catalog.New(catalog.Generate("2024-1", 2, "2024-06-01", "7.0"))
	cfg, err := crawl.New(crawl.WithCacheTTL(0))
	require.NoError(t, err)

	records, err := engine.CrawlAll(context.Background(), cfg, 1,
		engine.WithOpener(c),
		engine.WithSleeper(noSleep),
	)
	require.NoError(t, err)
	assert.Len(t, records, 2)
	_, closed := c.Sessions()
	assert.Equal(t, 1, closed)
}
