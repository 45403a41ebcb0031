// Command respondr runs the incident record manager and its maintenance
// tasks.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/respondr-uk/respondr/internal/config"
	"github.com/respondr-uk/respondr/internal/pkg/logging"
	"github.com/respondr-uk/respondr/internal/version"
	"github.com/spf13/cobra"
)

var configPath string

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "respondr",
		Short:        "Respondr - incident record manager",
		Long:         `Respondr tracks incidents, their status history, comments and activity log.`,
		Version:      version.Get().String(),
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (environment variables override it)")

	rootCmd.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
		newDBCheckCommand(),
	)

	return rootCmd
}

// loadConfig reads the configuration and installs the default logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	return cfg, nil
}

// requirePostgres rejects commands that need a database when none is configured.
func requirePostgres(cfg *config.Config) error {
	if cfg.Database.URL == "" {
		return errors.New("database.url is not set (RESPONDR_DATABASE__URL)")
	}
	return nil
}
