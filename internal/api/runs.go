package api

import (
	"fmt"
	"time"

	"github.com/jonesrussell/north-cloud/avd-crawler/internal/config"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/config/crawl"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/domain"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/engine"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/logger"
)

// StateStopping is reported for a running run that was asked to stop.
const StateStopping = "stopping"

type runEntry struct {
	id        string
	req       engine.Request
	cfg       crawl.Config
	createdAt time.Time
	engine    *engine.Engine
	handle    *engine.RunHandle
	stopping  bool
}

// RunRequest is the body of POST /api/v1/runs.
type RunRequest struct {
	Mode      string         `json:"mode"`
	StartPage int            `json:"start_page"`
	MaxPages  int            `json:"max_pages"`
	Days      int            `json:"days"`
	Overrides map[string]any `json:"overrides"`
}

// RunView describes a run in API responses.
type RunView struct {
	ID        string                    `json:"run_id"`
	Mode      string                    `json:"mode"`
	State     string                    `json:"state"`
	CreatedAt time.Time                 `json:"created_at"`
	Metrics   map[string]any            `json:"metrics"`
	Failed    []string                  `json:"failed,omitempty"`
	Records   []domain.NormalizedRecord `json:"records,omitempty"`
	New       []string                  `json:"new,omitempty"`
	Error     string                    `json:"error,omitempty"`
}

// Start registers and launches a run. It fails with ErrTooManyRuns when the
// active limit is reached, and with a validation error for a bad request.
func (s *Server) Start(body RunRequest) (RunView, error) {
	req, cfg, err := s.prepare(body)
	if err != nil {
		return RunView{}, err
	}

	s.mu.Lock()
	if s.activeLocked() >= s.maxActive {
		s.mu.Unlock()
		return RunView{}, ErrTooManyRuns
	}
	e := &runEntry{
		id:        s.newID(),
		req:       req,
		cfg:       cfg,
		createdAt: s.now(),
		engine:    s.newEngine(cfg),
	}
	e.handle = e.engine.Start(s.ctx, req)
	s.runs[e.id] = e
	s.order = append(s.order, e.id)
	s.mu.Unlock()

	s.logger.Info("Run started",
		logger.String("run_id", e.id),
		logger.String("mode", req.Mode),
		logger.Int("max_pages", cfg.MaxPages),
	)
	go s.watch(e)

	return s.view(e, false), nil
}

// Stop asks a run to stop. Stopping a finished run is a no-op.
func (s *Server) Stop(id string) (RunView, error) {
	s.mu.Lock()
	e, ok := s.runs[id]
	if ok && !e.handle.Finished() {
		e.stopping = true
	}
	s.mu.Unlock()
	if !ok {
		return RunView{}, ErrRunNotFound
	}
	e.handle.Stop()
	return s.view(e, false), nil
}

// Get returns a run; records are included once it has finished.
func (s *Server) Get(id string, withRecords bool) (RunView, error) {
	s.mu.RLock()
	e, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		return RunView{}, ErrRunNotFound
	}
	return s.view(e, withRecords), nil
}

// List returns every run in creation order without records.
func (s *Server) List() []RunView {
	s.mu.RLock()
	entries := make([]*runEntry, 0, len(s.order))
	for _, id := range s.order {
		entries = append(entries, s.runs[id])
	}
	s.mu.RUnlock()

	views := make([]RunView, 0, len(entries))
	for _, e := range entries {
		views = append(views, s.view(e, false))
	}
	return views
}

func (s *Server) prepare(body RunRequest) (engine.Request, crawl.Config, error) {
	switch body.Mode {
	case "", engine.ModeFull, engine.ModeIncremental:
	default:
		return engine.Request{}, crawl.Config{}, fmt.Errorf("%w: %w: %q", ErrInvalidRequest, engine.ErrUnknownMode, body.Mode)
	}

	overrides, err := config.DecodeOverrides(body.Overrides)
	if err != nil {
		return engine.Request{}, crawl.Config{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	cfg, err := overrides.Apply(s.base)
	if err != nil {
		return engine.Request{}, crawl.Config{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	days := body.Days
	if days == 0 && overrides.Days != nil {
		days = *overrides.Days
	}
	req := engine.Request{
		Mode:         body.Mode,
		StartPage:    body.StartPage,
		MaxPages:     body.MaxPages,
		LookbackDays: days,
	}
	return req, cfg, nil
}

func (s *Server) watch(e *runEntry) {
	res, err := e.handle.Result()
	fields := []logger.Field{
		logger.String("run_id", e.id),
		logger.String("state", string(res.State)),
		logger.Int("records", len(res.Records)),
		logger.Int("failed", len(res.Failed)),
	}
	if err != nil {
		s.logger.Error("Run failed", append(fields, logger.Error(err))...)
		return
	}
	s.logger.Info("Run finished", fields...)
}

func (s *Server) active() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeLocked()
}

func (s *Server) activeLocked() int {
	n := 0
	for _, e := range s.runs {
		if !e.handle.Finished() {
			n++
		}
	}
	return n
}

func (s *Server) view(e *runEntry, withRecords bool) RunView {
	s.mu.RLock()
	stopping := e.stopping
	s.mu.RUnlock()

	v := RunView{
		ID:        e.id,
		Mode:      e.req.Mode,
		CreatedAt: e.createdAt,
	}
	if v.Mode == "" {
		v.Mode = engine.ModeFull
	}

	if !e.handle.Finished() {
		v.State = string(engine.StateRunning)
		if stopping {
			v.State = StateStopping
		}
		v.Metrics = e.handle.Metrics().AsMap()
		return v
	}

	res, err := e.handle.Result()
	v.State = string(res.State)
	v.Metrics = res.Metrics.AsMap()
	v.Failed = res.Failed
	switch {
	case err != nil:
		v.Error = err.Error()
	case res.Err != nil:
		v.Error = res.Err.Error()
	}
	if withRecords {
		v.Records = res.Records
		v.New = recordIDs(res.New)
	}
	return v
}

func recordIDs(records []domain.NormalizedRecord) []string {
	if len(records) == 0 {
		return nil
	}
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.CVEID
	}
	return out
}
