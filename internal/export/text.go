package export

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jonesrussell/north-cloud/avd-crawler/internal/domain"
)

const (
	textRule    = 80
	textDivider = 60
)

// Text writes a human-readable listing.
func Text(w io.Writer, records []domain.NormalizedRecord, now time.Time) error {
	bw := bufio.NewWriter(w)

	rule := strings.Repeat("=", textRule)
	fmt.Fprintln(bw, rule)
	fmt.Fprintln(bw, "Vulnerability advisory export")
	fmt.Fprintf(bw, "Exported: %s\n", now.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(bw, "Total: %d\n", len(records))
	fmt.Fprintln(bw, rule)
	fmt.Fprintln(bw)

	divider := strings.Repeat("-", textDivider)
	for i, rec := range records {
		fmt.Fprintf(bw, "%d. %s\n", i+1, rec.CVEID)
		fmt.Fprintf(bw, "   Severity: %s\n", rec.Severity)
		fmt.Fprintf(bw, "   CVSS: %.1f\n", rec.CVSSScore)
		fmt.Fprintf(bw, "   Published: %s\n", formatDate(rec.PublishedDate))
		fmt.Fprintf(bw, "   Description: %s\n", rec.Description)
		if len(rec.References) > 0 {
			refs := rec.References
			more := ""
			if len(refs) > textRefLimit {
				refs, more = refs[:textRefLimit], "..."
			}
			fmt.Fprintf(bw, "   References: %s%s\n", strings.Join(refs, listSep), more)
		}
		fmt.Fprintln(bw, divider)
		fmt.Fprintln(bw)
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write text export: %w", err)
	}
	return nil
}
