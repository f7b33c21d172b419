package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/jonesrussell/north-cloud/avd-crawler/internal/config/crawl"
)

// BrowserOpener starts a headless Chrome through chromedp.
type BrowserOpener struct {
	// ExecPath overrides the Chrome binary lookup when set.
	ExecPath string
}

// Open launches the browser and verifies it responds.
func (o *BrowserOpener) Open(ctx context.Context, cfg crawl.Config) (Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.UserAgent(cfg.UserAgent),
		chromedp.DisableGPU,
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
	)
	if o.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(o.ExecPath))
	}

	// The browser lives until Close, not until the caller's ctx ends.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	startCtx, startCancel := context.WithTimeout(browserCtx, cfg.Timeout)
	defer startCancel()
	stop := context.AfterFunc(ctx, startCancel)
	defer stop()

	if err := chromedp.Run(startCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	return &browserSession{
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
		timeout:       cfg.Timeout,
	}, nil
}

type browserSession struct {
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	timeout       time.Duration

	mu     sync.Mutex
	closed bool
}

// Fetch renders url in a fresh tab and returns the document markup.
func (s *browserSession) Fetch(ctx context.Context, url string) (string, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return "", newFetchError(url, 0, ErrClosed)
	}

	tabCtx, tabCancel := chromedp.NewContext(s.browserCtx)
	defer tabCancel()
	reqCtx, reqCancel := context.WithTimeout(tabCtx, s.timeout)
	defer reqCancel()
	stop := context.AfterFunc(ctx, reqCancel)
	defer stop()

	resp, err := chromedp.RunResponse(reqCtx, chromedp.Navigate(url))
	if err != nil {
		return "", newFetchError(url, 0, contextCause(ctx, reqCtx, err))
	}
	if resp != nil && resp.Status >= 400 {
		return "", newFetchError(url, int(resp.Status), nil)
	}

	var html string
	if runErr := chromedp.Run(reqCtx,
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); runErr != nil {
		return "", newFetchError(url, 0, contextCause(ctx, reqCtx, runErr))
	}
	return html, nil
}

func (s *browserSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.browserCancel()
	s.allocCancel()
	return nil
}

// contextCause prefers the caller's cancellation over the request deadline.
func contextCause(parent, req context.Context, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("%w: %w", parent.Err(), err)
	}
	if req.Err() != nil {
		return fmt.Errorf("%w: %w", req.Err(), err)
	}
	return err
}
