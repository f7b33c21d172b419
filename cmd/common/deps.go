// Package common provides shared utilities for command implementations.
package common

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/viper"

	"github.com/jonesrussell/north-cloud/avd-crawler/internal/cache"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/config"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/config/crawl"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/engine"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/logger"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/metrics"
)

var (
	// ErrLoggerRequired is returned when CommandDeps.Logger is nil.
	ErrLoggerRequired = errors.New("logger is required")
	// ErrConfigRequired is returned when CommandDeps.Config is nil.
	ErrConfigRequired = errors.New("config is required")
)

// CommandDeps holds the dependencies shared by every command.
type CommandDeps struct {
	Logger logger.Logger
	Config *config.Config
}

// NewCommandDeps loads the configuration from v and builds the logger.
func NewCommandDeps(v *viper.Viper) (*CommandDeps, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	deps := &CommandDeps{Logger: log, Config: cfg}
	if err = deps.Validate(); err != nil {
		return nil, err
	}
	return deps, nil
}

// Validate ensures all required dependencies are present.
func (d *CommandDeps) Validate() error {
	if d.Logger == nil {
		return ErrLoggerRequired
	}
	if d.Config == nil {
		return ErrConfigRequired
	}
	return nil
}

// OpenStore prepares the data directory and opens the configured cache.
func (d *CommandDeps) OpenStore(ctx context.Context, cfg crawl.Config) (cache.Store, error) {
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, err
	}
	store, err := cache.Open(ctx, d.Config.Cache, cfg.DataDir, cfg.CacheTTL)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	d.Logger.Debug("Cache opened",
		logger.String("backend", d.Config.Cache.Backend),
		logger.Duration("ttl", cfg.CacheTTL),
	)
	return store, nil
}

// NewEngine builds an engine for cfg with the configured driver.
func (d *CommandDeps) NewEngine(
	cfg crawl.Config,
	store cache.Store,
	collectors *metrics.Collectors,
	opts ...engine.Option,
) *engine.Engine {
	base := []engine.Option{
		engine.WithLogger(d.Logger),
		engine.WithDriver(d.Config.Session.Driver),
		engine.WithStore(store),
		engine.WithCollectors(collectors),
	}
	return engine.New(cfg, append(base, opts...)...)
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// SignalStop calls stop on the first SIGINT or SIGTERM and cancels the returned
// context on the second.
func SignalStop(parent context.Context, stop func()) (context.Context, context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	ctx, cancel := StopOnSignals(parent, sigs, stop)
	return ctx, func() {
		signal.Stop(sigs)
		cancel()
	}
}

// StopOnSignals calls stop on the first value received from sigs and cancels
// the returned context on the second.
func StopOnSignals(parent context.Context, sigs <-chan os.Signal, stop func()) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-sigs:
			stop()
		}
		select {
		case <-ctx.Done():
		case <-sigs:
			cancel()
		}
	}()
	return ctx, cancel
}
