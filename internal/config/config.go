// Package config assembles the application configuration from defaults, an
// optional YAML file, .env files and environment variables.
//
// Environment variables follow the config keys with "." replaced by "_", so
// crawler.max_pages is read from CRAWLER_MAX_PAGES. A few aliases are bound
// explicitly (LOG_LEVEL, APP_DEBUG, REDIS_ADDR).
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/jonesrussell/north-cloud/avd-crawler/internal/cache"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/config/crawl"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/logger"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/monitor"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/session"
)

// DefaultServerAddress is the httpd listen address.
const DefaultServerAddress = ":8060"

// Config is the application configuration.
type Config struct {
	Crawler crawl.Config
	Cache   cache.Config
	Session SessionConfig
	Logger  logger.Config
	Server  ServerConfig
	Monitor monitor.Config
}

// SessionConfig selects the browsing driver.
type SessionConfig struct {
	Driver string `yaml:"driver"`
}

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// LoadEnvFiles loads .env files in priority order: ENV_FILE alone when set,
// otherwise .env.local then .env. Missing files are ignored; godotenv never
// overwrites variables that are already set.
func LoadEnvFiles() error {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
		return nil
	}
	if err := godotenv.Load(".env.local"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env.local: %w", err)
	}
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// Setup prepares v: config file lookup, environment binding and defaults.
// An empty file means config.yml in ".", "./config" or the working directory.
func Setup(v *viper.Viper, file string) error {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	SetDefaults(v)

	return bindEnvVars(v)
}

// ReadFile reads the configured file. A missing file is not an error when no
// explicit path was given.
func ReadFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper) {
	d := crawl.Defaults()
	v.SetDefault("crawler.base_url", d.BaseURL)
	v.SetDefault("crawler.max_pages", d.MaxPages)
	v.SetDefault("crawler.start_page", d.StartPage)
	v.SetDefault("crawler.delay_min", d.DelayMin.String())
	v.SetDefault("crawler.delay_max", d.DelayMax.String())
	v.SetDefault("crawler.timeout", d.Timeout.String())
	v.SetDefault("crawler.headless", d.Headless)
	v.SetDefault("crawler.data_dir", d.DataDir)
	v.SetDefault("crawler.user_agent", d.UserAgent)
	v.SetDefault("crawler.cache_ttl", d.CacheTTL.String())

	v.SetDefault("cache.backend", cache.BackendSQLite)
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.prefix", cache.DefaultRedisPrefix)

	v.SetDefault("session.driver", session.DriverBrowser)

	v.SetDefault("logger.level", logger.DefaultLevel)
	v.SetDefault("logger.development", false)
	v.SetDefault("logger.output_paths", logger.DefaultOutputPaths)

	v.SetDefault("server.address", DefaultServerAddress)

	th := monitor.DefaultThresholds()
	v.SetDefault("monitor.schedule", monitor.DefaultSchedule)
	v.SetDefault("monitor.state_dir", monitor.DefaultStateDir)
	v.SetDefault("monitor.thresholds.critical", th.Critical)
	v.SetDefault("monitor.thresholds.high_risk", th.HighRisk)
	v.SetDefault("monitor.thresholds.cvss", th.CVSS)
	v.SetDefault("monitor.email.enabled", false)
	v.SetDefault("monitor.email.smtp_server", "")
	v.SetDefault("monitor.email.smtp_port", monitor.DefaultSMTPPort)
	v.SetDefault("monitor.email.use_tls", true)
	v.SetDefault("monitor.email.from", "")
	v.SetDefault("monitor.email.to", []string{})
	v.SetDefault("monitor.email.username", "")
	v.SetDefault("monitor.email.password", "")
}

func bindEnvVars(v *viper.Viper) error {
	bindings := map[string][]string{
		"logger.level":              {"LOG_LEVEL"},
		"logger.development":        {"APP_DEBUG"},
		"cache.redis.addr":          {"CACHE_REDIS_ADDR", "REDIS_ADDR"},
		"cache.redis.password":      {"CACHE_REDIS_PASSWORD", "REDIS_PASSWORD"},
		"server.address":            {"SERVER_ADDRESS", "HTTPD_ADDRESS"},
		"monitor.email.smtp_server": {"SMTP_HOST"},
		"monitor.email.smtp_port":   {"SMTP_PORT"},
		"monitor.email.username":    {"SMTP_USERNAME"},
		"monitor.email.password":    {"SMTP_PASSWORD"},
	}
	for key, envs := range bindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}

// Load builds and validates a Config from v.
func Load(v *viper.Viper) (*Config, error) {
	crawlCfg, err := loadCrawler(v)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Crawler: crawlCfg,
		Cache: cache.Config{
			Backend: v.GetString("cache.backend"),
			Redis: cache.RedisConfig{
				Addr:     v.GetString("cache.redis.addr"),
				Password: v.GetString("cache.redis.password"),
				DB:       v.GetInt("cache.redis.db"),
				Prefix:   v.GetString("cache.redis.prefix"),
			},
		},
		Session: SessionConfig{Driver: v.GetString("session.driver")},
		Logger: logger.Config{
			Level:       v.GetString("logger.level"),
			Development: v.GetBool("logger.development"),
			OutputPaths: v.GetStringSlice("logger.output_paths"),
		},
		Server: ServerConfig{Address: v.GetString("server.address")},
		Monitor: monitor.Config{
			Schedule: v.GetString("monitor.schedule"),
			StateDir: v.GetString("monitor.state_dir"),
			Thresholds: monitor.Thresholds{
				Critical: v.GetInt("monitor.thresholds.critical"),
				HighRisk: v.GetInt("monitor.thresholds.high_risk"),
				CVSS:     v.GetFloat64("monitor.thresholds.cvss"),
			},
			Email: monitor.EmailConfig{
				Enabled:    v.GetBool("monitor.email.enabled"),
				SMTPServer: v.GetString("monitor.email.smtp_server"),
				SMTPPort:   v.GetInt("monitor.email.smtp_port"),
				UseTLS:     v.GetBool("monitor.email.use_tls"),
				From:       v.GetString("monitor.email.from"),
				To:         v.GetStringSlice("monitor.email.to"),
				Username:   v.GetString("monitor.email.username"),
				Password:   v.GetString("monitor.email.password"),
			},
		},
	}
	cfg.Logger.SetDefaults()
	cfg.Monitor.SetDefaults()

	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the sections not covered by crawl.Config.Validate.
func (c *Config) Validate() error {
	if err := c.Crawler.Validate(); err != nil {
		return fmt.Errorf("crawler: %w", err)
	}
	switch c.Cache.Backend {
	case cache.BackendMemory, cache.BackendSQLite:
	case cache.BackendRedis:
		if c.Cache.Redis.Addr == "" {
			return errors.New("cache: redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("cache: %w: %q", cache.ErrUnknownBackend, c.Cache.Backend)
	}
	if err := c.Monitor.Email.Validate(); err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	switch c.Session.Driver {
	case session.DriverBrowser, session.DriverHTTP:
	default:
		return fmt.Errorf("session: %w: %q", session.ErrUnknownDriver, c.Session.Driver)
	}
	if c.Server.Address == "" {
		return errors.New("server: address must not be empty")
	}
	return nil
}

func loadCrawler(v *viper.Viper) (crawl.Config, error) {
	durations := map[string]*time.Duration{}
	var delayMin, delayMax, timeout, ttl time.Duration
	durations["crawler.delay_min"] = &delayMin
	durations["crawler.delay_max"] = &delayMax
	durations["crawler.timeout"] = &timeout
	durations["crawler.cache_ttl"] = &ttl
	for key, dst := range durations {
		d, err := crawl.ParseDuration(v.GetString(key))
		if err != nil {
			return crawl.Config{}, fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
	}

	cfg, err := crawl.New(
		crawl.WithBaseURL(v.GetString("crawler.base_url")),
		crawl.WithMaxPages(v.GetInt("crawler.max_pages")),
		crawl.WithStartPage(v.GetInt("crawler.start_page")),
		crawl.WithDelayRange(delayMin, delayMax),
		crawl.WithTimeout(timeout),
		crawl.WithHeadless(v.GetBool("crawler.headless")),
		crawl.WithDataDir(v.GetString("crawler.data_dir")),
		crawl.WithUserAgent(v.GetString("crawler.user_agent")),
		crawl.WithCacheTTL(ttl),
	)
	if err != nil {
		return crawl.Config{}, fmt.Errorf("crawler: %w", err)
	}
	return cfg, nil
}
