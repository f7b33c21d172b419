// Package paginator walks catalog listing pages in order and yields their stubs.
package paginator

import (
	"context"
	"errors"
	"iter"
	"math/rand/v2"
	"time"

	"github.com/jonesrussell/north-cloud/avd-crawler/internal/config/crawl"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/domain"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/logger"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/parser"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/retry"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/session"
)

// PageSource fetches page markup. A session.Session satisfies it.
type PageSource interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Page is one fetched listing page.
type Page struct {
	Number int
	Stubs  []domain.ListingStub
	// CutoffReached is set on the last incremental page when a stub older than
	// the cutoff was found; that stub and the rest of the page are dropped.
	CutoffReached bool
}

// Paginator produces listing pages lazily. It is not safe for concurrent use.
type Paginator struct {
	cfg     crawl.Config
	source  PageSource
	logger  logger.Logger
	sleep   retry.Sleeper
	jitter  func(minDelay, maxDelay time.Duration) time.Duration
	now     func() time.Time
	stopped func() bool
}

// Option configures a Paginator.
type Option func(*Paginator)

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(p *Paginator) { p.logger = logger.OrNop(log) }
}

// WithSleeper replaces the inter-page sleep.
func WithSleeper(s retry.Sleeper) Option {
	return func(p *Paginator) { p.sleep = s }
}

// WithJitter replaces the delay draw.
func WithJitter(j func(minDelay, maxDelay time.Duration) time.Duration) Option {
	return func(p *Paginator) { p.jitter = j }
}

// WithClock sets the time source for the incremental cutoff.
func WithClock(now func() time.Time) Option {
	return func(p *Paginator) { p.now = now }
}

// WithStopCheck installs the cooperative stop flag, consulted before every page.
func WithStopCheck(stopped func() bool) Option {
	return func(p *Paginator) { p.stopped = stopped }
}

// New creates a Paginator reading pages from source.
func New(cfg crawl.Config, source PageSource, opts ...Option) *Paginator {
	p := &Paginator{
		cfg:     cfg,
		source:  source,
		logger:  logger.NewNop(),
		sleep:   retry.Sleep,
		jitter:  UniformDelay,
		now:     time.Now,
		stopped: func() bool { return false },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// UniformDelay draws a duration uniformly from [minDelay, maxDelay].
func UniformDelay(minDelay, maxDelay time.Duration) time.Duration {
	if maxDelay <= minDelay {
		return minDelay
	}
	return minDelay + time.Duration(rand.Int64N(int64(maxDelay-minDelay)+1))
}

// Full yields pages startPage through startPage+maxPages-1 in catalog order.
// It ends early on an empty page, a stop request, or a page error; a page error
// is yielded once as a *session.FetchError and ends the sequence.
func (p *Paginator) Full(ctx context.Context, startPage, maxPages int) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		last := startPage + maxPages - 1
		for n := startPage; n <= last; n++ {
			stubs, ok, err := p.fetchPage(ctx, n, n == startPage)
			if !ok {
				return
			}
			if err != nil {
				yield(Page{Number: n}, err)
				return
			}
			if len(stubs) == 0 {
				p.logger.Info("Empty listing page, end of catalog", logger.Int("page", n))
				return
			}
			if !yield(Page{Number: n, Stubs: stubs}, nil) {
				return
			}
		}
	}
}

// Incremental yields pages from 1 until a stub disclosed before now-lookbackDays
// is found. The catalog is newest first, so nothing after that stub can be newer.
// maxPages bounds the walk when the cutoff is never crossed.
func (p *Paginator) Incremental(ctx context.Context, lookbackDays, maxPages int) iter.Seq2[Page, error] {
	cutoff := p.now().Add(-time.Duration(lookbackDays) * 24 * time.Hour)

	return func(yield func(Page, error) bool) {
		for n := 1; n <= maxPages; n++ {
			stubs, ok, err := p.fetchPage(ctx, n, n == 1)
			if !ok {
				return
			}
			if err != nil {
				yield(Page{Number: n}, err)
				return
			}
			if len(stubs) == 0 {
				p.logger.Info("Empty listing page, end of catalog", logger.Int("page", n))
				return
			}

			kept, crossed := splitAtCutoff(stubs, cutoff)
			if crossed {
				p.logger.Info("Incremental cutoff reached",
					logger.Int("page", n),
					logger.Int("kept", len(kept)),
					logger.Time("cutoff", cutoff),
				)
			}
			if !yield(Page{Number: n, Stubs: kept, CutoffReached: crossed}, nil) || crossed {
				return
			}
		}
	}
}

// splitAtCutoff keeps stubs up to, not including, the first one disclosed
// strictly before cutoff. Stubs with unparsable dates are kept.
func splitAtCutoff(stubs []domain.ListingStub, cutoff time.Time) ([]domain.ListingStub, bool) {
	for i, stub := range stubs {
		disclosed, err := domain.ParseDate(stub.DisclosureDate)
		if err != nil {
			continue
		}
		if disclosed.Before(cutoff) {
			return stubs[:i], true
		}
	}
	return stubs, false
}

// fetchPage waits out the inter-page delay and fetches page n. ok is false when
// the walk must end silently: stop requested or ctx done.
func (p *Paginator) fetchPage(ctx context.Context, n int, first bool) ([]domain.ListingStub, bool, error) {
	if p.stopped() || ctx.Err() != nil {
		return nil, false, nil
	}

	if !first {
		delay := p.jitter(p.cfg.DelayMin, p.cfg.DelayMax)
		if err := p.sleep(ctx, delay); err != nil {
			return nil, false, nil
		}
		if p.stopped() {
			return nil, false, nil
		}
	}

	pageURL := p.cfg.ListURL(n)
	p.logger.Debug("Fetching listing page", logger.Int("page", n), logger.String("url", pageURL))

	html, err := p.source.Fetch(ctx, pageURL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, nil
		}
		return nil, true, asFetchError(pageURL, err)
	}

	stubs, err := parser.ParseListing(pageURL, html, p.cfg.ResolveURL)
	if err != nil {
		return nil, true, asFetchError(pageURL, err)
	}

	for i := range stubs {
		if stubs[i].DetailURL == "" {
			stubs[i].DetailURL = p.cfg.DetailURL(stubs[i].CVEID)
		}
	}
	return stubs, true, nil
}

func asFetchError(pageURL string, err error) error {
	var fe *session.FetchError
	if errors.As(err, &fe) {
		return err
	}
	return &session.FetchError{URL: pageURL, Err: err}
}
