// Package engine drives crawl runs: one session per run, listing pages in
// order, one detail fetch per new stub.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonesrussell/north-cloud/avd-crawler/internal/cache"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/config/crawl"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/domain"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/logger"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/metrics"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/paginator"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/retry"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/session"
)

var (
	// ErrRunInProgress is returned when a run is started on a busy engine.
	ErrRunInProgress = errors.New("a crawl run is already in progress")
	// ErrUnknownMode is returned for a request with an unsupported mode.
	ErrUnknownMode = errors.New("unknown crawl mode")
)

// Run modes.
const (
	ModeFull        = "full"
	ModeIncremental = "incremental"
)

// State is the lifecycle state of the engine's current or most recent run.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateStopped   State = "stopped"
	StateFailed    State = "failed"
)

// Engine runs crawls against one configuration. It runs one crawl at a time;
// use one Engine per concurrent run.
type Engine struct {
	cfg        crawl.Config
	opener     session.Opener
	driver     string
	store      cache.Store
	collectors *metrics.Collectors
	known      KnownRegistry
	logger     logger.Logger
	now        func() time.Time
	sleep      retry.Sleeper
	jitter     func(minDelay, maxDelay time.Duration) time.Duration
	retry      retry.Config

	mu      sync.RWMutex
	state   State
	current *run
	last    Result
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(e *Engine) { e.logger = logger.OrNop(log) }
}

// WithOpener sets how sessions are started. Without it, the driver's opener is used.
func WithOpener(opener session.Opener) Option {
	return func(e *Engine) { e.opener = opener }
}

// WithDriver selects the session driver by name.
func WithDriver(driver string) Option {
	return func(e *Engine) { e.driver = driver }
}

// WithStore sets the detail cache shared across runs.
func WithStore(store cache.Store) Option {
	return func(e *Engine) { e.store = store }
}

// WithCollectors exports run measurements to Prometheus.
func WithCollectors(c *metrics.Collectors) Option {
	return func(e *Engine) { e.collectors = c }
}

// WithKnown sets the registry of identifiers already seen by the caller.
func WithKnown(known KnownRegistry) Option {
	return func(e *Engine) { e.known = known }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithSleeper replaces the inter-page and retry sleeps.
func WithSleeper(s retry.Sleeper) Option {
	return func(e *Engine) {
		e.sleep = s
		e.retry.Sleep = s
	}
}

// WithJitter replaces the inter-page delay draw.
func WithJitter(j func(minDelay, maxDelay time.Duration) time.Duration) Option {
	return func(e *Engine) { e.jitter = j }
}

// WithRetry sets the detail retry attempts and backoff.
func WithRetry(maxAttempts int, backoff retry.Backoff) Option {
	return func(e *Engine) {
		e.retry.MaxAttempts = maxAttempts
		e.retry.Backoff = backoff
	}
}

// New creates an idle Engine.
func New(cfg crawl.Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:    cfg,
		driver: session.DriverBrowser,
		logger: logger.NewNop(),
		now:    time.Now,
		sleep:  retry.Sleep,
		jitter: paginator.UniformDelay,
		retry:  retry.DefaultConfig(),
		state:  StateIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the engine configuration.
func (e *Engine) Config() crawl.Config {
	return e.cfg
}

// State returns the state of the current or most recent run.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// RequestStop asks the current run to stop at its next page or item boundary.
// An in-flight fetch completes first. Safe to call from any goroutine.
func (e *Engine) RequestStop() {
	e.mu.RLock()
	r := e.current
	e.mu.RUnlock()
	if r != nil {
		r.requestStop()
	}
}

// GetMetrics returns the metrics of the current or most recent run. Safe to
// call while a run is in progress.
func (e *Engine) GetMetrics() domain.RunMetrics {
	e.mu.RLock()
	r := e.current
	last := e.last
	e.mu.RUnlock()
	if r != nil {
		return r.recorder.Snapshot()
	}
	return last.Metrics
}

// LastResult returns the result of the most recent finished run.
func (e *Engine) LastResult() Result {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last
}

// Close releases the session of an in-progress run, if any. The run observes a
// stop request and returns what it has.
func (e *Engine) Close() error {
	e.mu.RLock()
	r := e.current
	e.mu.RUnlock()
	if r != nil {
		r.requestStop()
		r.sessions.Close()
	}
	return nil
}

// CrawlAll walks pages startPage..startPage+maxPages-1 and returns records in
// discovery order. Values below 1 fall back to the configuration. Only a
// session failure is returned as an error.
func (e *Engine) CrawlAll(ctx context.Context, startPage, maxPages int) ([]domain.NormalizedRecord, error) {
	res, err := e.Run(ctx, Request{Mode: ModeFull, StartPage: startPage, MaxPages: maxPages})
	return res.Records, err
}

// CrawlIncremental walks from page 1 until an advisory older than lookbackDays
// is listed. lookbackDays is clamped to [1, 7]. With a known registry, only
// records it does not contain are returned.
func (e *Engine) CrawlIncremental(ctx context.Context, lookbackDays int) ([]domain.NormalizedRecord, error) {
	res, err := e.Run(ctx, Request{Mode: ModeIncremental, LookbackDays: lookbackDays})
	return res.New, err
}

// Run executes one crawl synchronously.
func (e *Engine) Run(ctx context.Context, req Request) (Result, error) {
	r, err := e.begin(req)
	if err != nil {
		return Result{Mode: req.Mode, State: e.State()}, err
	}
	return e.execute(ctx, r)
}

func (e *Engine) begin(req Request) (*run, error) {
	req, err := req.normalize(e.cfg)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current != nil {
		return nil, ErrRunInProgress
	}

	opener := e.opener
	if opener == nil {
		opener = session.OpenerFunc(func(ctx context.Context, cfg crawl.Config) (session.Session, error) {
			o, openerErr := session.NewOpener(e.driver)
			if openerErr != nil {
				return nil, openerErr
			}
			return o.Open(ctx, cfg)
		})
	}

	r := newRun(req, e.cfg, session.NewManager(opener, e.cfg, e.driver, e.logger), metrics.NewRecorder(e.collectors, req.Mode))
	e.current = r
	e.state = StateRunning
	return r, nil
}

func (e *Engine) finish(r *run, res Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == r {
		e.current = nil
	}
	e.state = res.State
	e.last = res
}
