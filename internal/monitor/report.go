package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/jonesrussell/north-cloud/avd-crawler/internal/domain"
)

const reportTimeLayout = "2006-01-02 15:04:05"

// RenderReport renders a as a markdown report generated at now.
func RenderReport(now time.Time, a Analysis) string {
	var b strings.Builder

	b.WriteString("# Advisory Monitoring Report\n\n")
	fmt.Fprintf(&b, "**Generated**: %s\n\n", now.Format(reportTimeLayout))

	b.WriteString("## Overview\n\n")
	fmt.Fprintf(&b, "- **New advisories**: %d\n", a.TotalCount)
	fmt.Fprintf(&b, "- **Critical**: %d\n", a.CriticalCount)
	fmt.Fprintf(&b, "- **High**: %d\n", a.HighRiskCount)

	b.WriteString("\n## Severity distribution\n\n")
	for _, sev := range domain.Severities {
		count := a.SeverityDistribution[sev]
		if count == 0 {
			continue
		}
		pct := float64(count) / float64(a.TotalCount) * 100
		fmt.Fprintf(&b, "- **%s**: %d (%.1f%%)\n", sev, count, pct)
	}

	if s := a.CVSSStats; s != nil {
		b.WriteString("\n## CVSS statistics\n\n")
		fmt.Fprintf(&b, "- **Average**: %.2f\n", s.Average)
		fmt.Fprintf(&b, "- **Max**: %.1f\n", s.Max)
		fmt.Fprintf(&b, "- **Min**: %.1f\n", s.Min)
		fmt.Fprintf(&b, "- **Scored**: %d\n", s.Count)
	}

	if len(a.TopCVSS) > 0 {
		fmt.Fprintf(&b, "\n## Top %d by CVSS\n\n", len(a.TopCVSS))
		for i, h := range a.TopCVSS {
			fmt.Fprintf(&b, "%d. **%s** (CVSS: %.1f)\n   %s\n\n", i+1, h.CVEID, h.CVSSScore, h.Description)
		}
	}
	return b.String()
}
