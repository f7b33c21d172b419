package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jonesrussell/north-cloud/avd-crawler/internal/domain"
)

// Section and metric labels, in the catalog's language and in English.
var (
	labelCVEID       = []string{"CVE编号", "CVE ID"}
	labelDisclosed   = []string{"披露时间", "Disclosure Date", "Published"}
	labelModified    = []string{"更新时间", "Last Modified", "Modified"}
	labelScore       = []string{"CVSS", "评分"}
	labelDescription = []string{"漏洞描述", "Description"}
	labelSolution    = []string{"解决建议", "Solution"}
	labelReferences  = []string{"参考链接", "References"}
	labelAffected    = []string{"受影响软件", "Affected"}
)

// ParseDetail extracts the raw fields of one advisory detail page.
func ParseDetail(pageURL, html string, resolve ResolveFunc) (domain.DetailPayload, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return domain.DetailPayload{}, &ParseError{URL: pageURL, Err: err}
	}

	var p domain.DetailPayload
	p.Title = firstText(doc, ".header__title__text", "h5.header__title", "h1")

	metrics := parseMetrics(doc)
	if v := lookup(metrics, labelCVEID); v != "" {
		p.CVEID = strings.ToUpper(cveIDPattern.FindString(v))
	}
	p.DisclosureDate = lookup(metrics, labelDisclosed)
	p.ModifiedDate = lookup(metrics, labelModified)
	p.CVSSScore = firstText(doc, ".cvss-breakdown__score", ".cvss-score")
	if p.CVSSScore == "" {
		p.CVSSScore = lookup(metrics, labelScore)
	}

	doc.Find("h6, h5.section-title").Each(func(_ int, heading *goquery.Selection) {
		label := cleanText(heading.Text())
		body := heading.NextFiltered("div, table, ul, p")
		switch {
		case matches(label, labelDescription):
			p.Description = cleanText(body.Text())
		case matches(label, labelSolution):
			p.Solution = cleanText(body.Text())
		case matches(label, labelReferences):
			p.References = appendLinks(p.References, body, resolve)
		case matches(label, labelAffected):
			p.AffectedProducts = append(p.AffectedProducts, parseProducts(body)...)
		}
	})

	var cwes []string
	doc.Find("td, .cwe").Each(func(_ int, s *goquery.Selection) {
		text := cleanText(s.Text())
		if strings.HasPrefix(strings.ToUpper(text), "CWE-") {
			cwes = append(cwes, text)
		}
	})
	p.CWEType = strings.Join(cwes, ", ")

	if p.CVEID == "" && p.Title == "" && p.Description == "" {
		return domain.DetailPayload{}, &ParseError{URL: pageURL, Err: ErrNotDetailPage}
	}
	return p, nil
}

// parseMetrics reads label/value pairs rendered as .metric blocks.
func parseMetrics(doc *goquery.Document) map[string]string {
	out := make(map[string]string)
	doc.Find(".metric").Each(func(_ int, s *goquery.Selection) {
		label := cleanText(s.Find(".metric-label").Text())
		value := cleanText(s.Find(".metric-value").Text())
		if label != "" {
			out[label] = value
		}
	})
	return out
}

func lookup(metrics map[string]string, labels []string) string {
	for key, value := range metrics {
		if matches(key, labels) {
			return value
		}
	}
	return ""
}

func matches(text string, labels []string) bool {
	lower := strings.ToLower(text)
	for _, l := range labels {
		if strings.Contains(lower, strings.ToLower(l)) {
			return true
		}
	}
	return false
}

func firstText(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if text := cleanText(doc.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

func appendLinks(refs []string, body *goquery.Selection, resolve ResolveFunc) []string {
	body.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
			return
		}
		if resolve != nil {
			href = resolve(href)
		}
		refs = append(refs, href)
	})
	return refs
}

// parseProducts reads affected-software rows, skipping the leading type column.
func parseProducts(body *goquery.Selection) []string {
	var products []string
	body.Find("tbody tr").Each(func(_ int, row *goquery.Selection) {
		var parts []string
		row.Find("td").Each(func(i int, td *goquery.Selection) {
			if i == 0 {
				return
			}
			if text := cleanText(td.Text()); text != "" && text != "-" {
				parts = append(parts, text)
			}
		})
		if len(parts) > 0 {
			products = append(products, strings.Join(parts, " "))
		}
	})
	return products
}
