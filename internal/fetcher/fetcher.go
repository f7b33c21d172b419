// Package fetcher turns listing stubs into normalized advisory records.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonesrussell/north-cloud/avd-crawler/internal/cache"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/config/crawl"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/domain"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/logger"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/parser"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/retry"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/session"
)

// Failure stages reported by Error.
const (
	StageDetail = "detail"
	StageParse  = "parse"
)

// Source fetches page markup. A session.Session satisfies it.
type Source interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Observer receives per-item measurements. *metrics.Recorder satisfies it.
type Observer interface {
	CacheLookup(hit bool)
	DetailFetched(d time.Duration)
}

type nopObserver struct{}

func (nopObserver) CacheLookup(bool)            {}
func (nopObserver) DetailFetched(time.Duration) {}

// Error reports that one advisory could not be produced.
type Error struct {
	CVEID string
	Stage string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.CVEID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Fetcher resolves one stub at a time through the cache and the session.
type Fetcher struct {
	cfg      crawl.Config
	source   Source
	store    cache.Store
	observer Observer
	logger   logger.Logger
	retry    retry.Config
	now      func() time.Time
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithStore sets the detail cache. Without one, every stub is fetched.
func WithStore(store cache.Store) Option {
	return func(f *Fetcher) { f.store = store }
}

// WithObserver sets the measurement sink.
func WithObserver(o Observer) Option {
	return func(f *Fetcher) {
		if o != nil {
			f.observer = o
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(f *Fetcher) { f.logger = logger.OrNop(log) }
}

// WithRetry replaces the retry policy. IsRetryable is always session.IsTemporary.
func WithRetry(cfg retry.Config) Option {
	return func(f *Fetcher) { f.retry = cfg }
}

// WithClock sets the time source used for fetch durations.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

// New creates a Fetcher reading detail pages from source.
func New(cfg crawl.Config, source Source, opts ...Option) *Fetcher {
	f := &Fetcher{
		cfg:      cfg,
		source:   source,
		observer: nopObserver{},
		logger:   logger.NewNop(),
		retry:    retry.DefaultConfig(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.retry.IsRetryable = session.IsTemporary
	return f
}

// Fetch produces the record for stub. A cache hit within TTL skips the network.
// Temporary fetch failures are retried; parse failures are not. The returned
// error is always an *Error.
func (f *Fetcher) Fetch(ctx context.Context, stub domain.ListingStub) (domain.NormalizedRecord, error) {
	if payload, ok := f.lookup(ctx, stub.CVEID); ok {
		return f.normalize(payload.MergeStub(stub)), nil
	}

	detailURL := stub.DetailURL
	if detailURL == "" {
		detailURL = f.cfg.DetailURL(stub.CVEID)
	}

	var payload domain.DetailPayload
	started := f.now()
	retryCfg := f.retry
	retryCfg.OnRetry = func(attempt int, wait time.Duration, err error) {
		f.logger.Warn("Retrying detail fetch",
			logger.String("cve_id", stub.CVEID),
			logger.Int("attempt", attempt),
			logger.Duration("wait", wait),
			logger.Error(err),
		)
	}

	err := retry.Do(ctx, retryCfg, func(ctx context.Context) error {
		html, fetchErr := f.source.Fetch(ctx, detailURL)
		if fetchErr != nil {
			return fetchErr
		}
		parsed, parseErr := parser.ParseDetail(detailURL, html, f.cfg.ResolveURL)
		if parseErr != nil {
			return parseErr
		}
		payload = parsed
		return nil
	})
	f.observer.DetailFetched(f.now().Sub(started))
	if err != nil {
		return domain.NormalizedRecord{}, &Error{CVEID: stub.CVEID, Stage: stageOf(err), Err: err}
	}

	payload = payload.MergeStub(stub)
	f.save(ctx, stub.CVEID, payload)
	return f.normalize(payload), nil
}

func (f *Fetcher) lookup(ctx context.Context, id string) (domain.DetailPayload, bool) {
	if f.store == nil || !f.cfg.CacheEnabled() {
		return domain.DetailPayload{}, false
	}
	payload, hit, err := f.store.Get(ctx, id)
	if err != nil {
		f.logger.Warn("Cache lookup failed",
			logger.String("cve_id", id),
			logger.String("stage", "cache"),
			logger.Error(err),
		)
		hit = false
	}
	f.observer.CacheLookup(hit)
	return payload, hit
}

func (f *Fetcher) save(ctx context.Context, id string, payload domain.DetailPayload) {
	if f.store == nil || !f.cfg.CacheEnabled() {
		return
	}
	if err := f.store.Put(ctx, id, payload); err != nil {
		f.logger.Warn("Cache write failed",
			logger.String("cve_id", id),
			logger.String("stage", "cache"),
			logger.Error(err),
		)
	}
}

func (f *Fetcher) normalize(payload domain.DetailPayload) domain.NormalizedRecord {
	rec, issues := domain.NormalizeWithIssues(payload)
	for _, issue := range issues {
		f.logger.Debug("Field defaulted during normalization",
			logger.String("cve_id", rec.CVEID),
			logger.String("field", issue.Field),
			logger.String("value", issue.Value),
		)
	}
	return rec
}

func stageOf(err error) string {
	var pe *parser.ParseError
	if errors.As(err, &pe) {
		return StageParse
	}
	return StageDetail
}
