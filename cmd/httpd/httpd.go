// Package httpd implements the httpd command serving the run control API.
package httpd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdcommon "github.com/jonesrussell/north-cloud/avd-crawler/cmd/common"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/api"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/config/crawl"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/engine"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/logger"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/metrics"
)

const (
	shutdownTimeout        = 30 * time.Second
	errorChannelBufferSize = 1
)

// Command returns the httpd command.
func Command() *cobra.Command {
	var (
		address   string
		maxActive int
	)

	cmd := &cobra.Command{
		Use:   "httpd",
		Short: "Serve the crawl control API",
		Long: `Start an HTTP server exposing crawl runs under /api/v1/runs, a health check
on /health and Prometheus metrics on /metrics.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := cmdcommon.NewCommandDeps(viper.GetViper())
			if err != nil {
				return fmt.Errorf("failed to initialize dependencies: %w", err)
			}
			defer func() { _ = deps.Logger.Sync() }()

			if address == "" {
				address = deps.Config.Server.Address
			}
			return serve(cmd.Context(), deps, address, maxActive)
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "listen address (default from config)")
	cmd.Flags().IntVar(&maxActive, "max-active", api.DefaultMaxActive, "number of runs allowed at once")
	return cmd
}

func serve(parent context.Context, deps *cmdcommon.CommandDeps, address string, maxActive int) error {
	ctx, cancel := cmdcommon.SignalContext(parent)
	defer cancel()

	base := deps.Config.Crawler
	store, err := deps.OpenStore(ctx, base)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	collectors := metrics.NewCollectors(prometheus.DefaultRegisterer)
	factory := func(cfg crawl.Config) *engine.Engine {
		return deps.NewEngine(cfg, store, collectors)
	}

	gin.SetMode(gin.ReleaseMode)
	apiServer := api.NewServer(base, factory,
		api.WithLogger(deps.Logger),
		api.WithGatherer(prometheus.DefaultGatherer),
		api.WithMaxActive(maxActive),
	)
	server := apiServer.HTTPServer(address)

	errChan := make(chan error, errorChannelBufferSize)
	go func() {
		deps.Logger.Info("Starting HTTP server", logger.String("addr", address))
		if serveErr := server.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errChan <- serveErr
		}
	}()

	select {
	case serveErr := <-errChan:
		deps.Logger.Error("Server error", logger.Error(serveErr))
		return fmt.Errorf("server error: %w", serveErr)
	case <-ctx.Done():
		deps.Logger.Info("Shutdown signal received")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err = server.Shutdown(shutdownCtx); err != nil {
		deps.Logger.Error("Failed to shut down HTTP server", logger.Error(err))
	}
	if err = apiServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("stop runs: %w", err)
	}
	deps.Logger.Info("Server stopped")
	return nil
}
