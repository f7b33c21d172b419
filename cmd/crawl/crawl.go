// Package crawl implements the crawl and incremental commands.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdcommon "github.com/jonesrussell/north-cloud/avd-crawler/cmd/common"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/config"
	crawlcfg "github.com/jonesrussell/north-cloud/avd-crawler/internal/config/crawl"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/engine"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/export"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/logger"
)

const defaultShowRows = 20

// flags shared by both commands
type runFlags struct {
	output       string
	settings     string
	saveSettings bool
	show         int
	// daysSet is true when --days was given explicitly
	daysSet bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.output, "output", "o", "",
		"write records to a file; format follows the extension (.json, .csv, .txt, .xlsx)")
	cmd.Flags().StringVar(&f.settings, "settings", "",
		"JSON or YAML settings document whose crawler section overrides the configuration")
	cmd.Flags().BoolVar(&f.saveSettings, "save-settings", false,
		"persist the effective settings back to --settings")
	cmd.Flags().IntVar(&f.show, "show", defaultShowRows, "number of records to print, 0 for none")
}

// Command returns the crawl command.
func Command() *cobra.Command {
	var (
		flags     runFlags
		maxPages  int
		startPage int
	)

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl the advisory catalog",
		Long: `Walk the advisory listing from --start-page for up to --max-pages pages and
fetch the detail of every advisory found. Interrupting the command lets the advisory
being fetched finish, then stops and keeps the records collected so far. A
second interrupt aborts at once.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return execute(cmd.Context(), cmd.OutOrStdout(), flags,
				engine.Request{Mode: engine.ModeFull, StartPage: startPage, MaxPages: maxPages})
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "number of listing pages to walk (default from config)")
	cmd.Flags().IntVar(&startPage, "start-page", 0, "first listing page (default from config)")
	return cmd
}

// IncrementalCommand returns the incremental command.
func IncrementalCommand() *cobra.Command {
	var (
		flags runFlags
		days  int
	)

	cmd := &cobra.Command{
		Use:   "incremental",
		Short: "Fetch advisories published in the last few days",
		Long: `Walk the advisory listing from page 1 and stop at the first advisory older
than --days days (clamped to 1..7).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags.daysSet = cmd.Flags().Changed("days")
			return execute(cmd.Context(), cmd.OutOrStdout(), flags,
				engine.Request{Mode: engine.ModeIncremental, LookbackDays: days})
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVar(&days, "days", 1, "lookback window in days")
	return cmd
}

func execute(parent context.Context, out io.Writer, flags runFlags, req engine.Request) error {
	deps, err := cmdcommon.NewCommandDeps(viper.GetViper())
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer func() { _ = deps.Logger.Sync() }()

	cfg, err := effectiveConfig(deps, flags, &req)
	if err != nil {
		return err
	}

	store, err := deps.OpenStore(parent, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			deps.Logger.Warn("Failed to close cache", logger.Error(closeErr))
		}
	}()

	e := deps.NewEngine(cfg, store, nil)
	defer func() { _ = e.Close() }()

	ctx, cancel := cmdcommon.SignalStop(parent, func() {
		deps.Logger.Info("Stopping after the current advisory; interrupt again to abort")
		e.RequestStop()
	})
	defer cancel()

	res, err := e.Run(ctx, req)
	if err != nil {
		return fmt.Errorf("crawl failed: %w", err)
	}

	renderSummary(out, res)
	if flags.show > 0 {
		renderRecords(out, res.Records, flags.show)
	}

	if flags.output != "" {
		if err = export.WriteFile(flags.output, res.Records, time.Now()); err != nil {
			return fmt.Errorf("export records: %w", err)
		}
		deps.Logger.Info("Records exported",
			logger.String("path", flags.output),
			logger.Int("count", len(res.Records)),
		)
	}

	if res.Err != nil {
		return fmt.Errorf("crawl ended early: %w", res.Err)
	}
	return nil
}

// effectiveConfig layers the settings document on the loaded configuration.
func effectiveConfig(deps *cmdcommon.CommandDeps, flags runFlags, req *engine.Request) (crawlcfg.Config, error) {
	cfg := deps.Config.Crawler
	if flags.settings == "" {
		if flags.saveSettings {
			return crawlcfg.Config{}, errors.New("--save-settings requires --settings")
		}
		return cfg, nil
	}

	overrides, err := config.LoadOverrides(flags.settings)
	if err != nil {
		return crawlcfg.Config{}, err
	}
	if cfg, err = overrides.Apply(cfg); err != nil {
		return crawlcfg.Config{}, err
	}
	if req.Mode == engine.ModeIncremental && overrides.Days != nil && !flags.daysSet {
		req.LookbackDays = *overrides.Days
	}

	if flags.saveSettings {
		if err = config.SaveOverrides(flags.settings, config.FromConfig(cfg)); err != nil {
			return crawlcfg.Config{}, err
		}
		deps.Logger.Info("Settings saved", logger.String("path", flags.settings))
	}
	return cfg, nil
}
