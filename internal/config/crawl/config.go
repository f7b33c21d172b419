// Package crawl holds the immutable run configuration for the advisory crawler.
// A Config is built once per run with New, validated, and then passed by value.
package crawl

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Default configuration values.
const (
	DefaultBaseURL   = "https://avd.aliyun.com"
	DefaultMaxPages  = 100
	DefaultStartPage = 1
	DefaultDelayMin  = 1 * time.Second
	DefaultDelayMax  = 3 * time.Second
	DefaultTimeout   = 30 * time.Second
	DefaultHeadless  = true
	DefaultDataDir   = "./data/aliyun_cve"
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	DefaultCacheTTL = 24 * time.Hour
)

// Config is the run configuration consumed by the engine.
type Config struct {
	// BaseURL is the catalog root; listing and detail URLs are resolved against it.
	BaseURL   string `env:"CRAWLER_BASE_URL"   json:"base_url"   yaml:"base_url"`
	MaxPages  int    `env:"CRAWLER_MAX_PAGES"  json:"max_pages"  yaml:"max_pages"`
	StartPage int    `env:"CRAWLER_START_PAGE" json:"start_page" yaml:"start_page"`
	// DelayMin and DelayMax bound the random pause between listing pages.
	DelayMin  time.Duration `env:"CRAWLER_DELAY_MIN"  json:"delay_min"  yaml:"delay_min"`
	DelayMax  time.Duration `env:"CRAWLER_DELAY_MAX"  json:"delay_max"  yaml:"delay_max"`
	Timeout   time.Duration `env:"CRAWLER_TIMEOUT"    json:"timeout"    yaml:"timeout"`
	Headless  bool          `env:"CRAWLER_HEADLESS"   json:"headless"   yaml:"headless"`
	DataDir   string        `env:"CRAWLER_DATA_DIR"   json:"data_dir"   yaml:"data_dir"`
	UserAgent string        `env:"CRAWLER_USER_AGENT" json:"user_agent" yaml:"user_agent"`
	// CacheTTL of zero disables detail caching.
	CacheTTL time.Duration `env:"CRAWLER_CACHE_TTL" json:"cache_ttl" yaml:"cache_ttl"`
}

// Option mutates a Config under construction.
type Option func(*Config)

// Defaults returns the default configuration without validating it.
func Defaults() Config {
	return Config{
		BaseURL:   DefaultBaseURL,
		MaxPages:  DefaultMaxPages,
		StartPage: DefaultStartPage,
		DelayMin:  DefaultDelayMin,
		DelayMax:  DefaultDelayMax,
		Timeout:   DefaultTimeout,
		Headless:  DefaultHeadless,
		DataDir:   DefaultDataDir,
		UserAgent: DefaultUserAgent,
		CacheTTL:  DefaultCacheTTL,
	}
}

// New builds a validated Config from the defaults and opts.
func New(opts ...Option) (Config, error) {
	cfg := Defaults()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// With returns a validated copy of c with opts applied. c is left untouched.
func (c Config) With(opts ...Option) (Config, error) {
	next := c
	for _, opt := range opts {
		opt(&next)
	}
	if err := next.Validate(); err != nil {
		return Config{}, err
	}
	return next, nil
}

// Validate checks every field constraint.
func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("base_url must not be empty")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("base_url must be an absolute URL: %q", c.BaseURL)
	}
	if c.MaxPages < 1 {
		return errors.New("max_pages must be at least 1")
	}
	if c.StartPage < 1 {
		return errors.New("start_page must be at least 1")
	}
	if c.DelayMin < 0 {
		return errors.New("delay_min must be non-negative")
	}
	if c.DelayMax < c.DelayMin {
		return errors.New("delay_max must not be less than delay_min")
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return errors.New("data_dir must not be empty")
	}
	if c.CacheTTL < 0 {
		return errors.New("cache_ttl must be non-negative")
	}
	return nil
}

// CacheEnabled reports whether detail payloads are cached.
func (c Config) CacheEnabled() bool {
	return c.CacheTTL > 0
}

// EnsureDataDir creates DataDir if needed and verifies it is writable.
func (c Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data_dir: %w", err)
	}
	probe, err := os.CreateTemp(c.DataDir, ".probe-*")
	if err != nil {
		return fmt.Errorf("data_dir is not writable: %w", err)
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	return nil
}

// DataPath joins name onto DataDir.
func (c Config) DataPath(name string) string {
	return filepath.Join(c.DataDir, name)
}

// ListURL is the catalog listing URL for page.
func (c Config) ListURL(page int) string {
	return strings.TrimRight(c.BaseURL, "/") + "/nvd/list?page=" + strconv.Itoa(page)
}

// DetailURL is the detail page URL for a CVE identifier.
func (c Config) DetailURL(cveID string) string {
	return strings.TrimRight(c.BaseURL, "/") + "/detail?id=" + url.QueryEscape(cveID)
}

// ResolveURL resolves ref, possibly relative, against BaseURL.
func (c Config) ResolveURL(ref string) string {
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return ref
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ref
	}
	return base.ResolveReference(r).String()
}

// ParseDuration accepts Go duration strings ("30s") or bare numbers as seconds ("30", "1.5").
func ParseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, errors.New("duration cannot be empty")
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", value, err)
	}
	return time.Duration(f * float64(time.Second)), nil
}
