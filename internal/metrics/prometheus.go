package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the namespace for all crawler metrics.
	Namespace = "avd"
	// Subsystem is the subsystem for crawl engine metrics.
	Subsystem = "crawler"
)

// Collectors holds the process-wide Prometheus metrics. A nil *Collectors is a
// valid no-op.
type Collectors struct {
	RunsTotal          *prometheus.CounterVec
	RunsInProgress     prometheus.Gauge
	RunDurationSeconds *prometheus.HistogramVec
	PagesCrawledTotal  *prometheus.CounterVec
	RecordsFoundTotal  *prometheus.CounterVec
	ErrorsTotal        *prometheus.CounterVec
	CacheLookupsTotal  *prometheus.CounterVec
	DetailFetchSeconds prometheus.Histogram
}

// NewCollectors creates and registers the crawler metrics on reg.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collectors{
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "runs_total",
			Help:      "Total number of finished crawl runs by mode and terminal state",
		}, []string{"mode", "state"}),
		RunsInProgress: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "runs_in_progress",
			Help:      "Number of crawl runs currently executing",
		}),
		RunDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "run_duration_seconds",
			Help:      "Crawl run duration in seconds",
			Buckets:   []float64{10, 30, 60, 300, 900, 1800, 3600, 7200},
		}, []string{"mode"}),
		PagesCrawledTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "pages_crawled_total",
			Help:      "Total number of listing pages fetched",
		}, []string{"mode"}),
		RecordsFoundTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "records_found_total",
			Help:      "Total number of advisories normalized",
		}, []string{"mode"}),
		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "errors_total",
			Help:      "Total number of absorbed failures by stage",
		}, []string{"stage"}),
		CacheLookupsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "cache_lookups_total",
			Help:      "Detail cache lookups by result",
		}, []string{"result"}),
		DetailFetchSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "detail_fetch_duration_seconds",
			Help:      "Time spent fetching one detail page, retries included",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (c *Collectors) runStarted(string) {
	if c == nil {
		return
	}
	c.RunsInProgress.Inc()
}

func (c *Collectors) runFinished(mode, state string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.RunsInProgress.Dec()
	c.RunsTotal.WithLabelValues(mode, state).Inc()
	c.RunDurationSeconds.WithLabelValues(mode).Observe(elapsed.Seconds())
}

func (c *Collectors) pageCrawled(mode string) {
	if c == nil {
		return
	}
	c.PagesCrawledTotal.WithLabelValues(mode).Inc()
}

func (c *Collectors) recordFound(mode string) {
	if c == nil {
		return
	}
	c.RecordsFoundTotal.WithLabelValues(mode).Inc()
}

func (c *Collectors) errorSeen(stage string) {
	if c == nil {
		return
	}
	c.ErrorsTotal.WithLabelValues(stage).Inc()
}

func (c *Collectors) cacheLookup(hit bool) {
	if c == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.CacheLookupsTotal.WithLabelValues(result).Inc()
}

func (c *Collectors) detailFetched(d time.Duration) {
	if c == nil {
		return
	}
	c.DetailFetchSeconds.Observe(d.Seconds())
}
