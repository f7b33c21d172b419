package domain

import "time"

// RunMetrics is a point-in-time snapshot of one crawl run.
type RunMetrics struct {
	PagesCrawled int        `json:"pages_crawled"`
	RecordsFound int        `json:"cves_found"`
	Errors       int        `json:"errors"`
	StartTime    *time.Time `json:"start_time"`
	EndTime      *time.Time `json:"end_time"`
}

// Duration is the elapsed run time, measured to now while the run is in progress.
func (m RunMetrics) Duration(now time.Time) time.Duration {
	if m.StartTime == nil {
		return 0
	}
	if m.EndTime != nil {
		return m.EndTime.Sub(*m.StartTime)
	}
	return now.Sub(*m.StartTime)
}

// AsMap exposes the snapshot as a plain field mapping. Every key is present
// even before a run starts.
func (m RunMetrics) AsMap() map[string]any {
	out := map[string]any{
		"pages_crawled": m.PagesCrawled,
		"cves_found":    m.RecordsFound,
		"errors":        m.Errors,
		"start_time":    nil,
		"end_time":      nil,
	}
	if m.StartTime != nil {
		out["start_time"] = *m.StartTime
	}
	if m.EndTime != nil {
		out["end_time"] = *m.EndTime
	}
	return out
}
