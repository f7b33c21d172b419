// Package api exposes crawl runs over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonesrussell/north-cloud/avd-crawler/internal/config/crawl"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/engine"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/logger"
)

const (
	readHeaderTimeout = 10 * time.Second
	// DefaultMaxActive is the number of runs allowed at once.
	DefaultMaxActive = 1
)

var (
	// ErrTooManyRuns is returned when the active run limit is reached.
	ErrTooManyRuns = errors.New("too many active runs")
	// ErrRunNotFound is returned for an unknown run identifier.
	ErrRunNotFound = errors.New("run not found")
	// ErrInvalidRequest wraps every rejection of a run request body.
	ErrInvalidRequest = errors.New("invalid run request")
)

// EngineFactory builds a fresh engine for one run.
type EngineFactory func(cfg crawl.Config) *engine.Engine

// Server owns the runs started over HTTP. Each run gets its own engine.
type Server struct {
	base      crawl.Config
	newEngine EngineFactory
	gatherer  prometheus.Gatherer
	logger    logger.Logger
	maxActive int
	now       func() time.Time
	newID     func() string

	// runs outlive the request that started them
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.RWMutex
	runs  map[string]*runEntry
	order []string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(log logger.Logger) Option {
	return func(s *Server) {
		s.logger = logger.OrNop(log)
	}
}

// WithGatherer serves g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithMaxActive limits concurrent runs; n below 1 keeps the default.
func WithMaxActive(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxActive = n
		}
	}
}

// WithClock sets the time source for run timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// NewServer creates a Server whose runs start from base.
func NewServer(base crawl.Config, factory EngineFactory, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		base:      base,
		newEngine: factory,
		gatherer:  prometheus.DefaultGatherer,
		logger:    logger.NewNop(),
		maxActive: DefaultMaxActive,
		now:       time.Now,
		newID:     uuid.NewString,
		ctx:       ctx,
		cancel:    cancel,
		runs:      make(map[string]*runEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the gin engine with every route.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggingMiddleware(s.logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "active_runs": s.active()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	v1 := router.Group("/api/v1")
	v1.POST("/runs", s.createRun)
	v1.GET("/runs", s.listRuns)
	v1.GET("/runs/:id", s.getRun)
	v1.POST("/runs/:id/stop", s.stopRun)

	return router
}

// HTTPServer wraps Router in an http.Server listening on addr.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// Shutdown stops every active run and waits for them to release their
// sessions, or for ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	entries := make([]*runEntry, 0, len(s.runs))
	for _, e := range s.runs {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	for _, e := range entries {
		e.handle.Stop()
	}
	for _, e := range entries {
		select {
		case <-e.handle.Done():
		case <-ctx.Done():
			s.cancel()
			return ctx.Err()
		}
	}
	s.cancel()
	return nil
}

func loggingMiddleware(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		fields := []logger.Field{
			logger.String("method", c.Request.Method),
			logger.String("path", path),
			logger.Int("status", c.Writer.Status()),
			logger.Duration("duration", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, logger.String("errors", c.Errors.String()))
			log.Error("HTTP request with errors", fields...)
			return
		}
		log.Debug("HTTP request", fields...)
	}
}
