package domain

// Severity is the category derived from a CVSS score.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// Score breakpoints for severity categories.
const (
	CriticalThreshold = 9.0
	HighThreshold     = 7.0
	MediumThreshold   = 4.0
)

// Severities lists categories from most to least severe.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

// SeverityFromScore maps a score onto its category.
func SeverityFromScore(score float64) Severity {
	switch {
	case score >= CriticalThreshold:
		return SeverityCritical
	case score >= HighThreshold:
		return SeverityHigh
	case score >= MediumThreshold:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
