package crawl_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/avd-crawler/internal/config/crawl"
)

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := crawl.New()
	require.NoError(t, err)

	assert.Equal(t, "https://avd.aliyun.com", cfg.BaseURL)
	assert.Equal(t, 100, cfg.MaxPages)
	assert.Equal(t, 1, cfg.StartPage)
	assert.Equal(t, time.Second, cfg.DelayMin)
	assert.Equal(t, 3*time.Second, cfg.DelayMax)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.True(t, cfg.Headless)
	assert.Equal(t, 24*time.Hour, cfg.CacheTTL)
	assert.True(t, cfg.CacheEnabled())
}

func TestNew_CustomOptions(t *testing.T) {
	t.Parallel()

	cfg, err := crawl.New(
		crawl.WithMaxPages(50),
		crawl.WithDelayRange(2*time.Second, 5*time.Second),
		crawl.WithHeadless(false),
		crawl.WithTimeout(time.Minute),
		crawl.WithCacheTTL(0),
	)
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.MaxPages)
	assert.Equal(t, 2*time.Second, cfg.DelayMin)
	assert.Equal(t, 5*time.Second, cfg.DelayMax)
	assert.False(t, cfg.Headless)
	assert.Equal(t, time.Minute, cfg.Timeout)
	assert.False(t, cfg.CacheEnabled())
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		opt     crawl.Option
		wantErr string
	}{
		{"empty base url", crawl.WithBaseURL(""), "base_url must not be empty"},
		{"relative base url", crawl.WithBaseURL("/nvd"), "absolute URL"},
		{"zero max pages", crawl.WithMaxPages(0), "max_pages"},
		{"zero start page", crawl.WithStartPage(0), "start_page"},
		{"negative delay", crawl.WithDelayRange(-time.Second, time.Second), "delay_min"},
		{"inverted delay", crawl.WithDelayRange(3*time.Second, time.Second), "delay_max"},
		{"zero timeout", crawl.WithTimeout(0), "timeout"},
		{"empty data dir", crawl.WithDataDir(" "), "data_dir"},
		{"negative ttl", crawl.WithCacheTTL(-time.Second), "cache_ttl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := crawl.New(tt.opt)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWith_LeavesOriginalUntouched(t *testing.T) {
	t.Parallel()

	base, err := crawl.New()
	require.NoError(t, err)

	next, err := base.With(crawl.WithMaxPages(3))
	require.NoError(t, err)
	assert.Equal(t, 3, next.MaxPages)
	assert.Equal(t, crawl.DefaultMaxPages, base.MaxPages)

	_, err = base.With(crawl.WithMaxPages(-1))
	require.Error(t, err)
}

func TestURLs(t *testing.T) {
	t.Parallel()

	cfg, err := crawl.New(crawl.WithBaseURL("https://avd.aliyun.com/"))
	require.NoError(t, err)

	assert.Equal(t, "https://avd.aliyun.com/nvd/list?page=2", cfg.ListURL(2))
	assert.Equal(t, "https://avd.aliyun.com/detail?id=CVE-2024-1234", cfg.DetailURL("CVE-2024-1234"))
	assert.Equal(t, "https://avd.aliyun.com/detail?id=CVE-1", cfg.ResolveURL("/detail?id=CVE-1"))
	assert.Equal(t, "https://example.com/x", cfg.ResolveURL("https://example.com/x"))
}

func TestEnsureDataDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested", "cache")
	cfg, err := crawl.New(crawl.WithDataDir(dir))
	require.NoError(t, err)

	require.NoError(t, cfg.EnsureDataDir())
	assert.DirExists(t, dir)
	assert.Equal(t, filepath.Join(dir, "cache.db"), cfg.DataPath("cache.db"))
}

func TestParseDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"30s", 30 * time.Second, false},
		{"30", 30 * time.Second, false},
		{"1.5", 1500 * time.Millisecond, false},
		{"", 0, true},
		{"soon", 0, true},
	}

	for _, tt := range tests {
		got, err := crawl.ParseDuration(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
