package metrics_test

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/avd-crawler/internal/metrics"
)

func TestRecorder_Lifecycle(t *testing.T) {
	t.Parallel()

	r := metrics.NewRecorder(nil, "full")
	snap := r.Snapshot()
	assert.Zero(t, snap.PagesCrawled)
	assert.Nil(t, snap.StartTime)
	assert.Nil(t, snap.EndTime)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.Start(start)
	r.PageCrawled()
	r.PageCrawled()
	r.RecordFound()
	r.Error("detail")
	r.CacheLookup(true)
	r.DetailFetched(time.Second)
	r.Finish(start.Add(time.Minute), "completed")

	snap = r.Snapshot()
	assert.Equal(t, 2, snap.PagesCrawled)
	assert.Equal(t, 1, snap.RecordsFound)
	assert.Equal(t, 1, snap.Errors)
	require.NotNil(t, snap.StartTime)
	require.NotNil(t, snap.EndTime)
	assert.Equal(t, time.Minute, snap.Duration(time.Now()))

	// Snapshots are copies.
	*snap.StartTime = time.Time{}
	assert.Equal(t, start, *r.Snapshot().StartTime)
}

func TestRecorder_ConcurrentReads(t *testing.T) {
	t.Parallel()

	r := metrics.NewRecorder(nil, "incremental")
	r.Start(time.Now())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for range 100 {
			r.RecordFound()
		}
	}()
	go func() {
		defer wg.Done()
		for range 100 {
			_ = r.Snapshot()
		}
	}()
	wg.Wait()

	assert.Equal(t, 100, r.Snapshot().RecordsFound)
}

func TestCollectors(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollectors(reg)
	r := metrics.NewRecorder(c, "full")

	start := time.Now()
	r.Start(start)
	assert.InDelta(t, 1, testutil.ToFloat64(c.RunsInProgress), 0)

	r.PageCrawled()
	r.RecordFound()
	r.RecordFound()
	r.Error("parse")
	r.CacheLookup(false)
	r.Finish(start.Add(time.Second), "completed")

	assert.InDelta(t, 0, testutil.ToFloat64(c.RunsInProgress), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.PagesCrawledTotal.WithLabelValues("full")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(c.RecordsFoundTotal.WithLabelValues("full")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.ErrorsTotal.WithLabelValues("parse")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.CacheLookupsTotal.WithLabelValues("miss")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.RunsTotal.WithLabelValues("full", "completed")), 0)
}
