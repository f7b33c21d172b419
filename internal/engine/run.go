package engine

import (
	"context"
	"errors"
	"iter"
	"sync/atomic"

	"github.com/jonesrussell/north-cloud/avd-crawler/internal/config/crawl"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/domain"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/fetcher"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/logger"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/metrics"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/paginator"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/session"
)

const stagePage = "page"

// run holds the mutable state of one crawl. It is owned by the goroutine
// executing the crawl; only stop and recorder are shared.
type run struct {
	req      Request
	cfg      crawl.Config
	sessions *session.Manager
	recorder *metrics.Recorder
	stop     atomic.Bool

	// seen holds normalized identifiers, skipped holds failed ones.
	seen    map[string]struct{}
	skipped map[string]struct{}
	failed  []string
	records []domain.NormalizedRecord
}

func newRun(req Request, cfg crawl.Config, sessions *session.Manager, recorder *metrics.Recorder) *run {
	return &run{
		req:      req,
		cfg:      cfg,
		sessions: sessions,
		recorder: recorder,
		seen:     make(map[string]struct{}),
		skipped:  make(map[string]struct{}),
		records:  make([]domain.NormalizedRecord, 0),
		failed:   make([]string, 0),
	}
}

func (r *run) requestStop() {
	r.stop.Store(true)
}

func (r *run) stopped() bool {
	return r.stop.Load()
}

func (e *Engine) execute(ctx context.Context, r *run) (Result, error) {
	log := e.logger.With(logger.String("mode", r.req.Mode))
	r.recorder.Start(e.now())
	log.Info("Crawl run started",
		logger.Int("start_page", r.req.StartPage),
		logger.Int("max_pages", r.req.MaxPages),
		logger.Int("lookback_days", r.req.LookbackDays),
	)

	defer r.sessions.Close()

	sess, err := r.sessions.Open(ctx)
	if err != nil {
		log.Error("Browsing session could not start", logger.Error(err))
		r.recorder.Error("session")
		res := e.conclude(r, StateFailed, nil)
		return res, err
	}

	pg := paginator.New(r.cfg, sess,
		paginator.WithLogger(log),
		paginator.WithSleeper(e.sleep),
		paginator.WithJitter(e.jitter),
		paginator.WithClock(e.now),
		paginator.WithStopCheck(r.stopped),
	)
	fetch := fetcher.New(r.cfg, sess,
		fetcher.WithStore(e.store),
		fetcher.WithObserver(r.recorder),
		fetcher.WithLogger(log),
		fetcher.WithRetry(e.retry),
		fetcher.WithClock(e.now),
	)

	var pages iter.Seq2[paginator.Page, error]
	if r.req.Mode == ModeIncremental {
		pages = pg.Incremental(ctx, r.req.LookbackDays, r.req.MaxPages)
	} else {
		pages = pg.Full(ctx, r.req.StartPage, r.req.MaxPages)
	}

	pageErr := e.walk(ctx, r, pages, fetch, log)

	state := StateCompleted
	switch {
	case pageErr != nil && r.req.Mode == ModeFull:
		state = StateFailed
	case r.stopped() || ctx.Err() != nil:
		state = StateStopped
	}
	return e.conclude(r, state, pageErr), nil
}

// walk consumes pages and fetches each unseen stub in order. It returns the
// page error that ended the walk, if any.
func (e *Engine) walk(ctx context.Context, r *run, pages iter.Seq2[paginator.Page, error], fetch *fetcher.Fetcher, log logger.Logger) error {
	for page, err := range pages {
		if err != nil {
			r.recorder.Error(stagePage)
			log.Error("Listing page failed",
				logger.Int("page", page.Number),
				logger.String("stage", stagePage),
				logger.Error(err),
			)
			return err
		}
		r.recorder.PageCrawled()
		log.Info("Listing page crawled",
			logger.Int("page", page.Number),
			logger.Int("stubs", len(page.Stubs)),
		)

		for _, stub := range page.Stubs {
			if r.stopped() || ctx.Err() != nil {
				return nil
			}
			if r.visited(stub.CVEID) {
				continue
			}

			rec, fetchErr := fetch.Fetch(ctx, stub)
			if fetchErr != nil {
				// A fetch cut short by a stop or cancellation is dropped, not failed.
				if r.stopped() || ctx.Err() != nil {
					return nil
				}
				r.fail(stub.CVEID, fetchErr, log)
				continue
			}
			r.seen[stub.CVEID] = struct{}{}
			r.records = append(r.records, rec)
			r.recorder.RecordFound()
		}
	}
	return nil
}

func (r *run) visited(id string) bool {
	if _, ok := r.seen[id]; ok {
		return true
	}
	_, ok := r.skipped[id]
	return ok
}

func (r *run) fail(id string, err error, log logger.Logger) {
	stage := fetcher.StageDetail
	var fe *fetcher.Error
	if errors.As(err, &fe) {
		stage = fe.Stage
	}
	r.skipped[id] = struct{}{}
	r.failed = append(r.failed, id)
	r.recorder.Error(stage)
	log.Warn("Advisory skipped",
		logger.String("cve_id", id),
		logger.String("stage", stage),
		logger.Error(err),
	)
}

func (e *Engine) conclude(r *run, state State, pageErr error) Result {
	r.sessions.Close()
	r.recorder.Finish(e.now(), string(state))

	res := Result{
		Mode:    r.req.Mode,
		State:   state,
		Records: r.records,
		New:     e.filterKnown(r.records),
		Failed:  r.failed,
		Metrics: r.recorder.Snapshot(),
		Err:     pageErr,
	}
	e.logger.Info("Crawl run finished",
		logger.String("mode", r.req.Mode),
		logger.String("state", string(state)),
		logger.Int("pages_crawled", res.Metrics.PagesCrawled),
		logger.Int("records", len(res.Records)),
		logger.Int("new", len(res.New)),
		logger.Int("errors", res.Metrics.Errors),
	)
	e.finish(r, res)
	return res
}

func (e *Engine) filterKnown(records []domain.NormalizedRecord) []domain.NormalizedRecord {
	if e.known == nil {
		return records
	}
	out := make([]domain.NormalizedRecord, 0, len(records))
	for _, rec := range records {
		if !e.known.Contains(rec.CVEID) {
			out = append(out, rec)
		}
	}
	return out
}
