package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jonesrussell/north-cloud/avd-crawler/internal/domain"
)

// Listing column positions in the catalog table.
const (
	colID = iota
	colTitle
	colCWE
	colDate
	colScore
	minListingCols = colDate + 1
)

var cveIDPattern = regexp.MustCompile(`(?i)\bCVE-\d{4}-\d{4,}\b`)

// ResolveFunc turns a possibly relative href into an absolute URL.
type ResolveFunc func(ref string) string

// ParseListing extracts stubs from one catalog page, in page order. A page
// without a listing table, or with an empty one, yields no stubs.
func ParseListing(pageURL, html string, resolve ResolveFunc) ([]domain.ListingStub, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, &ParseError{URL: pageURL, Err: err}
	}

	rows := doc.Find("table tbody tr")
	if rows.Length() == 0 {
		return nil, nil
	}

	stubs := make([]domain.ListingStub, 0, rows.Length())
	rows.Each(func(_ int, row *goquery.Selection) {
		if stub, ok := parseListingRow(row, resolve); ok {
			stubs = append(stubs, stub)
		}
	})

	if len(stubs) == 0 {
		return nil, &ParseError{URL: pageURL, Err: fmt.Errorf("%w: %d rows", ErrNoRows, rows.Length())}
	}
	return stubs, nil
}

func parseListingRow(row *goquery.Selection, resolve ResolveFunc) (domain.ListingStub, bool) {
	cells := row.Find("td")
	if cells.Length() < minListingCols {
		return domain.ListingStub{}, false
	}

	idCell := cells.Eq(colID)
	id := cveIDPattern.FindString(cleanText(idCell.Text()))
	if id == "" {
		return domain.ListingStub{}, false
	}
	id = strings.ToUpper(id)

	href, _ := idCell.Find("a[href]").First().Attr("href")
	detailURL := ""
	if href != "" && resolve != nil {
		detailURL = resolve(href)
	}

	stub := domain.ListingStub{
		CVEID:          id,
		Title:          cleanText(cells.Eq(colTitle).Text()),
		CWEType:        cleanText(cells.Eq(colCWE).Text()),
		DisclosureDate: cleanText(cells.Eq(colDate).Text()),
		DetailURL:      detailURL,
	}
	if cells.Length() > colScore {
		stub.CVSSScore = cleanText(cells.Eq(colScore).Text())
	}
	return stub, true
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
