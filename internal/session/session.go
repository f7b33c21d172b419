// Package session owns the browsing resource used for one crawl run.
package session

//go:generate mockgen -source=session.go -destination=../testutils/mocks/session/session_mock.go -package=session

import (
	"context"
	"fmt"
	"sync"

	"github.com/jonesrussell/north-cloud/avd-crawler/internal/config/crawl"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/logger"
)

// Driver names.
const (
	DriverBrowser = "browser"
	DriverHTTP    = "http"
)

// Session fetches rendered page markup. Fetch applies the configured per-request
// timeout on top of ctx.
type Session interface {
	Fetch(ctx context.Context, url string) (string, error)
	Close() error
}

// Opener starts a Session for a run.
type Opener interface {
	Open(ctx context.Context, cfg crawl.Config) (Session, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, cfg crawl.Config) (Session, error)

func (f OpenerFunc) Open(ctx context.Context, cfg crawl.Config) (Session, error) {
	return f(ctx, cfg)
}

// NewOpener returns the Opener for driver.
func NewOpener(driver string) (Opener, error) {
	switch driver {
	case "", DriverBrowser:
		return &BrowserOpener{}, nil
	case DriverHTTP:
		return &HTTPOpener{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

// Manager scopes one Session to one run. Close is idempotent and safe to defer
// on every exit path.
type Manager struct {
	opener Opener
	cfg    crawl.Config
	driver string
	logger logger.Logger

	mu      sync.Mutex
	session Session
	closed  bool
}

// NewManager creates a Manager that will open sessions through opener.
func NewManager(opener Opener, cfg crawl.Config, driver string, log logger.Logger) *Manager {
	return &Manager{
		opener: opener,
		cfg:    cfg,
		driver: driver,
		logger: logger.OrNop(log),
	}
}

// Open acquires the session. Failures are returned as *Error.
func (m *Manager) Open(ctx context.Context) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, &Error{Driver: m.driver, Err: ErrClosed}
	}
	if m.session != nil {
		return m.session, nil
	}

	sess, err := m.opener.Open(ctx, m.cfg)
	if err != nil {
		return nil, &Error{Driver: m.driver, Err: err}
	}
	if sess == nil {
		return nil, &Error{Driver: m.driver, Err: ErrNoSession}
	}

	m.session = sess
	m.logger.Debug("Browsing session opened", logger.String("driver", m.driver))
	return sess, nil
}

// Close releases the session. Errors are logged, never returned.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true

	if m.session == nil {
		return
	}
	if err := m.session.Close(); err != nil {
		m.logger.Warn("Failed to close browsing session",
			logger.String("driver", m.driver),
			logger.Error(err),
		)
	}
	m.session = nil
	m.logger.Debug("Browsing session closed", logger.String("driver", m.driver))
}
