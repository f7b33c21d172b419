// Package cmd implements the command-line interface for the advisory crawler.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jonesrussell/north-cloud/avd-crawler/cmd/crawl"
	"github.com/jonesrussell/north-cloud/avd-crawler/cmd/httpd"
	"github.com/jonesrussell/north-cloud/avd-crawler/cmd/monitor"
	"github.com/jonesrussell/north-cloud/avd-crawler/internal/config"
)

// version is set at build time with -ldflags "-X .../cmd.version=...".
var version = "dev"

var (
	// cfgFile holds the path to the configuration file.
	cfgFile string

	// Debug enables debug logging for all commands.
	Debug bool

	rootCmd = &cobra.Command{
		Use:   "avd-crawler",
		Short: "Vulnerability advisory crawler",
		Long: `Crawl a public vulnerability advisory catalog, normalize every advisory and
keep a local cache of fetched details.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	// Assigned here rather than in the literal to avoid an initialization
	// cycle (initConfig refers to rootCmd).
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return initConfig()
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is ./config.yml or ./config/config.yml)")
	rootCmd.PersistentFlags().BoolVar(&Debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "avd-crawler version %s\n", version)
		},
	})

	rootCmd.AddCommand(crawl.Command())
	rootCmd.AddCommand(crawl.IncrementalCommand())
	rootCmd.AddCommand(monitor.Command())
	rootCmd.AddCommand(httpd.Command())
}

// initConfig loads .env files, the config file and the environment into viper.
func initConfig() error {
	if err := config.LoadEnvFiles(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	v := viper.GetViper()
	if err := config.Setup(v, cfgFile); err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}
	if err := config.ReadFile(v); err != nil {
		return err
	}
	if err := v.BindPFlag("app.debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		return fmt.Errorf("failed to bind debug flag: %w", err)
	}
	if Debug || v.GetBool("app.debug") {
		v.Set("logger.development", true)
	}
	return nil
}
