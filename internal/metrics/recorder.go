// Package metrics accumulates per-run counters and exports process-wide Prometheus metrics.
package metrics

import (
	"sync"
	"time"

	"github.com/jonesrussell/north-cloud/avd-crawler/internal/domain"
)

// Recorder accumulates the metrics of one run. It is safe for concurrent reads
// while the run goroutine writes.
type Recorder struct {
	mu      sync.RWMutex
	current domain.RunMetrics
	prom    *Collectors
	mode    string
}

// NewRecorder creates a zeroed Recorder. prom may be nil.
func NewRecorder(prom *Collectors, mode string) *Recorder {
	return &Recorder{prom: prom, mode: mode}
}

// Start stamps the run start.
func (r *Recorder) Start(now time.Time) {
	r.mu.Lock()
	r.current.StartTime = &now
	r.mu.Unlock()
	r.prom.runStarted(r.mode)
}

// Finish stamps the run end and records its terminal state.
func (r *Recorder) Finish(now time.Time, state string) {
	r.mu.Lock()
	r.current.EndTime = &now
	var elapsed time.Duration
	if r.current.StartTime != nil {
		elapsed = now.Sub(*r.current.StartTime)
	}
	r.mu.Unlock()
	r.prom.runFinished(r.mode, state, elapsed)
}

// PageCrawled counts one fetched listing page.
func (r *Recorder) PageCrawled() {
	r.mu.Lock()
	r.current.PagesCrawled++
	r.mu.Unlock()
	r.prom.pageCrawled(r.mode)
}

// RecordFound counts one normalized record.
func (r *Recorder) RecordFound() {
	r.mu.Lock()
	r.current.RecordsFound++
	r.mu.Unlock()
	r.prom.recordFound(r.mode)
}

// Error counts one absorbed failure at stage.
func (r *Recorder) Error(stage string) {
	r.mu.Lock()
	r.current.Errors++
	r.mu.Unlock()
	r.prom.errorSeen(stage)
}

// CacheLookup records a cache hit or miss.
func (r *Recorder) CacheLookup(hit bool) {
	r.prom.cacheLookup(hit)
}

// DetailFetched observes one detail fetch duration.
func (r *Recorder) DetailFetched(d time.Duration) {
	r.prom.detailFetched(d)
}

// Snapshot returns a copy of the current counters.
func (r *Recorder) Snapshot() domain.RunMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := r.current
	if snap.StartTime != nil {
		t := *snap.StartTime
		snap.StartTime = &t
	}
	if snap.EndTime != nil {
		t := *snap.EndTime
		snap.EndTime = &t
	}
	return snap
}
