// Package catalog provides an in-memory advisory catalog that serves listing and
// detail markup through the session interfaces, for tests.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jonesrussell/north-cloud/avd-crawler/internal/config/crawl"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/session"
)

// Advisory is one synthetic catalog entry.
type Advisory struct {
	ID          string
	Title       string
	CWE         string
	Date        string
	Score       string
	Description string
}

// Catalog serves pages of advisories. Pages are 1-based.
type Catalog struct {
	mu      sync.Mutex
	pages   [][]Advisory
	faults  map[string][]error
	fetched []string
	opened  int
	closed  int
	openErr error
	onFetch func(url string)
}

// New creates a catalog whose page i holds pages[i-1].
func New(pages ...[]Advisory) *Catalog {
	return &Catalog{pages: pages, faults: make(map[string][]error)}
}

// Generate builds a page of n advisories. Identifiers are CVE-<prefix><seq>
// with a three digit sequence, so prefix "2024-1" yields CVE-2024-1001.
func Generate(prefix string, n int, date, score string) []Advisory {
	out := make([]Advisory, n)
	for i := range out {
		id := fmt.Sprintf("CVE-%s%03d", prefix, i+1)
		out[i] = Advisory{
			ID:          id,
			Title:       "Advisory " + id,
			CWE:         "CWE-79",
			Date:        date,
			Score:       score,
			Description: "Description of " + id,
		}
	}
	return out
}

// FailDetail queues errors returned by successive fetches of id's detail page.
func (c *Catalog) FailDetail(id string, errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := "detail:" + id
	c.faults[key] = append(c.faults[key], errs...)
}

// FailPage queues errors returned by successive fetches of listing page n.
func (c *Catalog) FailPage(n int, errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := "page:" + strconv.Itoa(n)
	c.faults[key] = append(c.faults[key], errs...)
}

// FailOpen makes Open return err.
func (c *Catalog) FailOpen(err error) {
	c.mu.Lock()
	c.openErr = err
	c.mu.Unlock()
}

// OnFetch installs a hook run at the start of every fetch.
func (c *Catalog) OnFetch(fn func(url string)) {
	c.mu.Lock()
	c.onFetch = fn
	c.mu.Unlock()
}

// Fetched returns every URL requested so far, in order.
func (c *Catalog) Fetched() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.fetched...)
}

// FetchedPages returns the listing page numbers requested so far.
func (c *Catalog) FetchedPages() []int {
	var pages []int
	for _, u := range c.Fetched() {
		if n, ok := pageNumber(u); ok {
			pages = append(pages, n)
		}
	}
	return pages
}

// DetailFetches counts detail requests for id.
func (c *Catalog) DetailFetches(id string) int {
	n := 0
	for _, u := range c.Fetched() {
		if detailID(u) == id {
			n++
		}
	}
	return n
}

// Sessions reports how many sessions were opened and closed.
func (c *Catalog) Sessions() (opened, closed int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened, c.closed
}

// Open implements session.Opener.
func (c *Catalog) Open(context.Context, crawl.Config) (session.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openErr != nil {
		return nil, c.openErr
	}
	c.opened++
	return &catalogSession{catalog: c}, nil
}

type catalogSession struct {
	catalog *Catalog
	once    sync.Once
	closed  atomic.Bool
}

// Fetch fails with session.ErrClosed when the session was closed while the
// request was in flight, like the real drivers.
func (s *catalogSession) Fetch(ctx context.Context, rawURL string) (string, error) {
	body, err := s.catalog.fetch(ctx, rawURL)
	if s.closed.Load() {
		return "", session.ErrClosed
	}
	return body, err
}

func (s *catalogSession) Close() error {
	s.closed.Store(true)
	s.once.Do(func() {
		s.catalog.mu.Lock()
		s.catalog.closed++
		s.catalog.mu.Unlock()
	})
	return nil
}

func (c *Catalog) fetch(ctx context.Context, rawURL string) (string, error) {
	c.mu.Lock()
	hook := c.onFetch
	c.fetched = append(c.fetched, rawURL)
	c.mu.Unlock()

	if hook != nil {
		hook(rawURL)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if n, ok := pageNumber(rawURL); ok {
		if err := c.popFault("page:" + strconv.Itoa(n)); err != nil {
			return "", err
		}
		return c.listingHTML(n), nil
	}
	if id := detailID(rawURL); id != "" {
		if err := c.popFault("detail:" + id); err != nil {
			return "", err
		}
		return c.detailHTML(id), nil
	}
	return "", &session.FetchError{URL: rawURL, StatusCode: 404, Err: errors.New("not found")}
}

func (c *Catalog) popFault(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	queue := c.faults[key]
	if len(queue) == 0 {
		return nil
	}
	c.faults[key] = queue[1:]
	return queue[0]
}

func (c *Catalog) listingHTML(n int) string {
	var b strings.Builder
	b.WriteString("<html><body><table><tbody>")
	if n >= 1 && n <= len(c.pages) {
		for _, a := range c.pages[n-1] {
			fmt.Fprintf(&b,
				`<tr><td><a href="/detail?id=%s">%s</a></td><td>%s</td><td>%s</td><td>%s</td><td>%s</td></tr>`,
				url.QueryEscape(a.ID), a.ID, html.EscapeString(a.Title), a.CWE, a.Date, a.Score)
		}
	}
	b.WriteString("</tbody></table></body></html>")
	return b.String()
}

func (c *Catalog) detailHTML(id string) string {
	for _, page := range c.pages {
		for _, a := range page {
			if a.ID != id {
				continue
			}
			return fmt.Sprintf(`<html><body>
<h5 class="header__title"><span class="header__title__text">%s</span></h5>
<div class="metric"><p class="metric-label">CVE编号</p><p class="metric-value">%s</p></div>
<div class="metric"><p class="metric-label">披露时间</p><p class="metric-value">%s</p></div>
<div class="cvss-breakdown__score">%s</div>
<h6>漏洞描述</h6><div class="text-detail">%s</div>
<h6>解决建议</h6><div class="text-detail">Upgrade.</div>
<h6>参考链接</h6><div><a href="https://example.com/%s">ref</a></div>
</body></html>`, html.EscapeString(a.Title), a.ID, a.Date, a.Score, html.EscapeString(a.Description), a.ID)
		}
	}
	return "<html><body><div>not found</div></body></html>"
}

func pageNumber(rawURL string) (int, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || !strings.HasSuffix(u.Path, "/list") {
		return 0, false
	}
	n, err := strconv.Atoi(u.Query().Get("page"))
	return n, err == nil
}

func detailID(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || !strings.HasSuffix(u.Path, "/detail") {
		return ""
	}
	return u.Query().Get("id")
}
