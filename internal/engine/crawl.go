package engine

import (
	"context"

	"github.com/jonesrussell/north-cloud/avd-crawler/internal/config/crawl"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/domain"
)

// CrawlAll runs a one-off full crawl of maxPages pages from the configured
// start page. The engine is closed on return.
func CrawlAll(ctx context.Context, cfg crawl.Config, maxPages int, opts ...Option) ([]domain.NormalizedRecord, error) {
	e := New(cfg, opts...)
	defer e.Close()
	return e.CrawlAll(ctx, cfg.StartPage, maxPages)
}

// CrawlIncremental runs a one-off incremental crawl over the last days days.
func CrawlIncremental(ctx context.Context, cfg crawl.Config, days int, opts ...Option) ([]domain.NormalizedRecord, error) {
	e := New(cfg, opts...)
	defer e.Close()
	return e.CrawlIncremental(ctx, days)
}
