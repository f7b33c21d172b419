package session

import (
	"context"
	"net/http"
	"sync"
	"time"

	colly "github.com/gocolly/colly/v2"

	"github.com/jonesrussell/north-cloud/avd-crawler/internal/config/crawl"
)

const (
	defaultMaxIdleConns        = 10
	defaultIdleConnTimeout     = 90 * time.Second
	defaultMaxBodySize         = 10 * 1024 * 1024
	defaultTLSHandshakeTimeout = 10 * time.Second
)

// HTTPOpener fetches pages without a browser. It suits catalogs that render
// server-side and is the driver used when Chrome is unavailable.
type HTTPOpener struct {
	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

// Open prepares a transport shared by every fetch of the run.
func (o *HTTPOpener) Open(_ context.Context, cfg crawl.Config) (Session, error) {
	transport := o.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        defaultMaxIdleConns,
			IdleConnTimeout:     defaultIdleConnTimeout,
			TLSHandshakeTimeout: defaultTLSHandshakeTimeout,
		}
	}
	return &httpSession{
		transport: transport,
		userAgent: cfg.UserAgent,
		timeout:   cfg.Timeout,
	}, nil
}

type httpSession struct {
	transport http.RoundTripper
	userAgent string
	timeout   time.Duration

	mu     sync.Mutex
	closed bool
}

// Fetch performs one synchronous colly visit bound to ctx.
func (s *httpSession) Fetch(ctx context.Context, url string) (string, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return "", newFetchError(url, 0, ErrClosed)
	}

	c := colly.NewCollector(
		colly.StdlibContext(ctx),
		colly.UserAgent(s.userAgent),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.MaxBodySize(defaultMaxBodySize),
	)
	c.WithTransport(s.transport)
	c.SetRequestTimeout(s.timeout)

	var (
		body   string
		status int
	)
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = string(r.Body)
	})
	c.OnError(func(r *colly.Response, _ error) {
		if r != nil {
			status = r.StatusCode
		}
	})

	if err := c.Visit(url); err != nil {
		return "", newFetchError(url, status, err)
	}
	if status >= http.StatusBadRequest {
		return "", newFetchError(url, status, nil)
	}
	return body, nil
}

func (s *httpSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if t, ok := s.transport.(interface{ CloseIdleConnections() }); ok {
		t.CloseIdleConnections()
	}
	return nil
}
