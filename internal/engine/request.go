package engine

import (
	"fmt"

	"github.com/jonesrussell/north-cloud/avd-crawler/internal/config/crawl"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/domain"
)

// Lookback bounds for incremental runs, in days.
const (
	MinLookbackDays = 1
	MaxLookbackDays = 7
)

// Request describes one run.
type Request struct {
	Mode string `json:"mode"`
	// StartPage and MaxPages apply to full runs; values below 1 use the configuration.
	StartPage int `json:"start_page,omitempty"`
	MaxPages  int `json:"max_pages,omitempty"`
	// LookbackDays applies to incremental runs and is clamped to [1, 7].
	LookbackDays int `json:"days,omitempty"`
}

// Result is the outcome of one run.
type Result struct {
	Mode    string                    `json:"mode"`
	State   State                     `json:"state"`
	Records []domain.NormalizedRecord `json:"records"`
	// New holds the records absent from the known registry, or every record
	// when no registry is set.
	New     []domain.NormalizedRecord `json:"-"`
	Failed  []string                  `json:"failed"`
	Metrics domain.RunMetrics         `json:"metrics"`
	// Err is the page failure that ended the run early, if any.
	Err error `json:"-"`
}

// ClampLookback bounds days to [MinLookbackDays, MaxLookbackDays].
func ClampLookback(days int) int {
	return min(max(days, MinLookbackDays), MaxLookbackDays)
}

func (r Request) normalize(cfg crawl.Config) (Request, error) {
	switch r.Mode {
	case "", ModeFull:
		r.Mode = ModeFull
		if r.StartPage < 1 {
			r.StartPage = cfg.StartPage
		}
		if r.MaxPages < 1 {
			r.MaxPages = cfg.MaxPages
		}
	case ModeIncremental:
		r.LookbackDays = ClampLookback(r.LookbackDays)
		r.StartPage = 1
		r.MaxPages = cfg.MaxPages
	default:
		return r, fmt.Errorf("%w: %q", ErrUnknownMode, r.Mode)
	}
	return r, nil
}
