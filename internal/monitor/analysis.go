package monitor

import (
	"cmp"
	"slices"

	"github.com/jonesrussell/north-cloud/avd-crawler/internal/domain"
)

const (
	topN           = 5
	summaryRunes   = 100
	summaryEllipse = "..."
)

// Highlight is a short reference to one record in an analysis.
type Highlight struct {
	CVEID       string  `json:"cve_id"`
	CVSSScore   float64 `json:"cvss_score"`
	Description string  `json:"description"`
}

// CVSSStats summarizes scores above zero.
type CVSSStats struct {
	Average float64 `json:"average"`
	Max     float64 `json:"max"`
	Min     float64 `json:"min"`
	Count   int     `json:"count"`
}

// Analysis summarizes the records of one check.
type Analysis struct {
	TotalCount           int                     `json:"total_count"`
	SeverityDistribution map[domain.Severity]int `json:"severity_distribution"`
	CVSSStats            *CVSSStats              `json:"cvss_stats,omitempty"`
	CriticalCount        int                     `json:"critical_count"`
	// HighRiskCount counts HIGH records; CRITICAL ones are in CriticalCount.
	HighRiskCount  int         `json:"high_risk_count"`
	RecentCritical []Highlight `json:"recent_critical"`
	TopCVSS        []Highlight `json:"top_cvss"`
}

// Analyze computes the severity distribution, score statistics and highlights.
func Analyze(records []domain.NormalizedRecord) Analysis {
	a := Analysis{
		TotalCount:           len(records),
		SeverityDistribution: make(map[domain.Severity]int),
		RecentCritical:       []Highlight{},
		TopCVSS:              []Highlight{},
	}

	var scored []Highlight
	var sum float64
	for _, rec := range records {
		a.SeverityDistribution[rec.Severity]++
		switch rec.Severity {
		case domain.SeverityCritical:
			a.CriticalCount++
			a.RecentCritical = append(a.RecentCritical, highlight(rec))
		case domain.SeverityHigh:
			a.HighRiskCount++
		}

		if rec.CVSSScore <= 0 {
			continue
		}
		scored = append(scored, highlight(rec))
		sum += rec.CVSSScore
		if a.CVSSStats == nil {
			a.CVSSStats = &CVSSStats{Max: rec.CVSSScore, Min: rec.CVSSScore}
		}
		a.CVSSStats.Max = max(a.CVSSStats.Max, rec.CVSSScore)
		a.CVSSStats.Min = min(a.CVSSStats.Min, rec.CVSSScore)
	}

	if a.CVSSStats != nil {
		a.CVSSStats.Count = len(scored)
		a.CVSSStats.Average = sum / float64(len(scored))

		slices.SortStableFunc(scored, func(x, y Highlight) int {
			return cmp.Compare(y.CVSSScore, x.CVSSScore)
		})
		a.TopCVSS = scored[:min(topN, len(scored))]
	}
	return a
}

func highlight(rec domain.NormalizedRecord) Highlight {
	return Highlight{CVEID: rec.CVEID, CVSSScore: rec.CVSSScore, Description: summarize(rec.Description)}
}

func summarize(s string) string {
	runes := []rune(s)
	if len(runes) <= summaryRunes {
		return s
	}
	return string(runes[:summaryRunes]) + summaryEllipse
}

// Thresholds decide when a check raises an alert.
type Thresholds struct {
	Critical int     `json:"critical" yaml:"critical" mapstructure:"critical"`
	HighRisk int     `json:"high_risk" yaml:"high_risk" mapstructure:"high_risk"`
	CVSS     float64 `json:"cvss" yaml:"cvss" mapstructure:"cvss"`
}

// Default alert thresholds.
const (
	DefaultCriticalThreshold = 1
	DefaultHighRiskThreshold = 3
	DefaultCVSSThreshold     = 8.0
)

// DefaultThresholds returns the default alert thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Critical: DefaultCriticalThreshold,
		HighRisk: DefaultHighRiskThreshold,
		CVSS:     DefaultCVSSThreshold,
	}
}

// Evaluate returns the reasons a raises an alert, or nil.
func (t Thresholds) Evaluate(a Analysis) []string {
	var reasons []string
	if t.Critical > 0 && a.CriticalCount >= t.Critical {
		reasons = append(reasons, "critical_count")
	}
	if t.HighRisk > 0 && a.HighRiskCount >= t.HighRisk {
		reasons = append(reasons, "high_risk_count")
	}
	if t.CVSS > 0 && a.CVSSStats != nil && a.CVSSStats.Average >= t.CVSS {
		reasons = append(reasons, "cvss_average")
	}
	return reasons
}
