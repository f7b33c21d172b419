// Package monitor implements the monitor command.
package monitor

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdcommon "github.com/jonesrussell/north-cloud/avd-crawler/cmd/common"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/engine"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/logger"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/monitor"
)

const shutdownTimeout = 30 * time.Second

// Command returns the monitor command.
func Command() *cobra.Command {
	var (
		once     bool
		schedule string
		stateDir string
	)

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Watch the catalog for new advisories",
		Long: `Run incremental crawls on a cron schedule. Each check looks back to the
previous successful check (1 to 7 days), stores a snapshot of new advisories,
logs alerts when thresholds are crossed and writes a markdown report.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := cmdcommon.NewCommandDeps(viper.GetViper())
			if err != nil {
				return fmt.Errorf("failed to initialize dependencies: %w", err)
			}
			defer func() { _ = deps.Logger.Sync() }()

			cfg := deps.Config.Monitor
			if schedule != "" {
				cfg.Schedule = schedule
			}
			if stateDir != "" {
				cfg.StateDir = stateDir
			}
			return run(cmd.Context(), cmd.OutOrStdout(), deps, cfg, once)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single check and exit")
	cmd.Flags().StringVar(&schedule, "schedule", "", "cron schedule (default from config)")
	cmd.Flags().StringVar(&stateDir, "state-dir", "", "directory for marker, snapshots, alerts and reports")
	return cmd
}

func run(parent context.Context, out io.Writer, deps *cmdcommon.CommandDeps, cfg monitor.Config, once bool) error {
	crawlCfg := deps.Config.Crawler
	store, err := deps.OpenStore(parent, crawlCfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	known := engine.NewKnownSet()
	e := deps.NewEngine(crawlCfg, store, nil, engine.WithKnown(known))
	defer func() { _ = e.Close() }()

	svc, err := monitor.NewService(cfg, e, monitor.WithLogger(deps.Logger), monitor.WithKnown(known))
	if err != nil {
		return err
	}

	stopping := make(chan struct{})
	ctx, cancel := cmdcommon.SignalStop(parent, func() {
		deps.Logger.Info("Stopping after the current advisory; interrupt again to abort")
		e.RequestStop()
		close(stopping)
	})
	defer cancel()

	if once {
		outcome, checkErr := svc.CheckOnce(ctx)
		if checkErr != nil {
			return fmt.Errorf("monitoring check: %w", checkErr)
		}
		renderOutcome(out, outcome)
		return nil
	}

	if err = svc.Start(ctx); err != nil {
		return err
	}
	select {
	case <-stopping:
	case <-ctx.Done():
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()
	if err = svc.Stop(stopCtx); err != nil {
		deps.Logger.Error("Monitoring service did not stop cleanly", logger.Error(err))
		return err
	}
	return nil
}

func renderOutcome(w io.Writer, o monitor.Outcome) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Monitoring check")
	t.AppendRow(table.Row{"Lookback days", o.LookbackDays})
	t.AppendRow(table.Row{"Advisories listed", len(o.Result.Records)})
	t.AppendRow(table.Row{"New advisories", len(o.Result.New)})
	t.AppendRow(table.Row{"Critical", o.Analysis.CriticalCount})
	t.AppendRow(table.Row{"High", o.Analysis.HighRiskCount})
	for _, reason := range o.Alerts {
		t.AppendRow(table.Row{"Alert", reason})
	}
	if o.ReportPath != "" {
		t.AppendRow(table.Row{"Report", o.ReportPath})
	}
	t.Render()
}
