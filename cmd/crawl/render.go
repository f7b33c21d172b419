package crawl

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/jonesrussell/north-cloud/avd-crawler/internal/domain"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/engine"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/monitor"
)

const titleWidth = 60

// renderSummary prints the run state, metrics and severity counts.
func renderSummary(w io.Writer, res engine.Result) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Crawl summary")

	m := res.Metrics
	t.AppendRow(table.Row{"Mode", res.Mode})
	t.AppendRow(table.Row{"State", res.State})
	t.AppendRow(table.Row{"Pages crawled", m.PagesCrawled})
	t.AppendRow(table.Row{"Advisories", m.RecordsFound})
	t.AppendRow(table.Row{"Errors", m.Errors})
	t.AppendRow(table.Row{"Duration", m.Duration(time.Now()).Round(time.Millisecond)})
	if len(res.Failed) > 0 {
		t.AppendRow(table.Row{"Failed", len(res.Failed)})
	}

	a := monitor.Analyze(res.Records)
	t.AppendSeparator()
	for _, sev := range domain.Severities {
		if n := a.SeverityDistribution[sev]; n > 0 {
			t.AppendRow(table.Row{string(sev), n})
		}
	}
	if a.CVSSStats != nil {
		t.AppendRow(table.Row{"Average CVSS", fmt.Sprintf("%.2f", a.CVSSStats.Average)})
	}
	t.Render()
}

// renderRecords prints up to limit records.
func renderRecords(w io.Writer, records []domain.NormalizedRecord, limit int) {
	if len(records) == 0 {
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"CVE", "Severity", "CVSS", "Published", "Title"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 5, WidthMax: titleWidth},
	})

	for i, rec := range records {
		if i == limit {
			break
		}
		published := ""
		if !domain.IsUnknownTime(rec.PublishedDate) {
			published = rec.PublishedDate.Format("2006-01-02")
		}
		t.AppendRow(table.Row{
			rec.CVEID,
			string(rec.Severity),
			fmt.Sprintf("%.1f", rec.CVSSScore),
			published,
			rec.Title,
		})
	}
	if len(records) > limit {
		t.AppendFooter(table.Row{"", "", "", "", fmt.Sprintf("%d more", len(records)-limit)})
	}
	t.Render()
}
