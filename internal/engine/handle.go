package engine

import (
	"context"

	"github.com/jonesrussell/north-cloud/avd-crawler/internal/domain"
)

// RunHandle tracks a run started with Start.
type RunHandle struct {
	done   chan struct{}
	run    *run
	result Result
	err    error
}

// Start launches a run in its own goroutine and returns immediately. The run
// is registered before Start returns, so a Stop issued right after is honored.
func (e *Engine) Start(ctx context.Context, req Request) *RunHandle {
	h := &RunHandle{done: make(chan struct{})}

	r, err := e.begin(req)
	if err != nil {
		h.result = Result{Mode: req.Mode, State: e.State()}
		h.err = err
		close(h.done)
		return h
	}
	h.run = r

	go func() {
		defer close(h.done)
		h.result, h.err = e.execute(ctx, r)
	}()
	return h
}

// Done is closed when the run has finished and its session is released.
func (h *RunHandle) Done() <-chan struct{} {
	return h.done
}

// Result blocks until the run finishes.
func (h *RunHandle) Result() (Result, error) {
	<-h.done
	return h.result, h.err
}

// Stop requests a cooperative stop of this run.
func (h *RunHandle) Stop() {
	if h.run != nil {
		h.run.requestStop()
	}
}

// Metrics returns the run's live metrics.
func (h *RunHandle) Metrics() domain.RunMetrics {
	if h.run == nil {
		return domain.RunMetrics{}
	}
	return h.run.recorder.Snapshot()
}

// Finished reports whether the run has ended without blocking.
func (h *RunHandle) Finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}
