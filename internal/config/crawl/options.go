package crawl

import "time"

// WithBaseURL sets the catalog root.
func WithBaseURL(u string) Option {
	return func(c *Config) {
		c.BaseURL = u
	}
}

// WithMaxPages sets the page budget for a full sweep.
func WithMaxPages(n int) Option {
	return func(c *Config) {
		c.MaxPages = n
	}
}

// WithStartPage sets the first listing page of a full sweep.
func WithStartPage(n int) Option {
	return func(c *Config) {
		c.StartPage = n
	}
}

// WithDelayRange sets the bounds of the random inter-page pause.
func WithDelayRange(minDelay, maxDelay time.Duration) Option {
	return func(c *Config) {
		c.DelayMin = minDelay
		c.DelayMax = maxDelay
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Timeout = d
	}
}

// WithHeadless toggles headless browsing.
func WithHeadless(headless bool) Option {
	return func(c *Config) {
		c.Headless = headless
	}
}

// WithDataDir sets the directory holding the cache and run artifacts.
func WithDataDir(dir string) Option {
	return func(c *Config) {
		c.DataDir = dir
	}
}

// WithUserAgent sets the User-Agent sent by the session.
func WithUserAgent(ua string) Option {
	return func(c *Config) {
		c.UserAgent = ua
	}
}

// WithCacheTTL sets the detail cache TTL; zero disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.CacheTTL = ttl
	}
}
