package main

import (
	"fmt"
	"log/slog"

	"github.com/respondr-uk/respondr/internal/pkg/postgres"
	"github.com/spf13/cobra"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration tools",
		Long:  `Apply, roll back or inspect the embedded database migrations.`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Run all pending migrations",
			RunE: func(_ *cobra.Command, _ []string) error {
				return withMigrator(func(m *postgres.Migrator) error {
					return m.Up()
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			RunE: func(_ *cobra.Command, _ []string) error {
				return withMigrator(func(m *postgres.Migrator) error {
					return m.Down()
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Show the applied schema version",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(func(m *postgres.Migrator) error {
					v, dirty, err := m.Version()
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "version: %d, dirty: %t\n", v, dirty)
					return nil
				})
			},
		},
	)

	return cmd
}

func withMigrator(fn func(*postgres.Migrator) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := requirePostgres(cfg); err != nil {
		return err
	}

	migrator, err := postgres.NewMigrator(cfg.Database.URL)
	if err != nil {
		return err
	}
	defer func() {
		if err := migrator.Close(); err != nil {
			slog.Warn("failed to close migrator", "error", err)
		}
	}()

	return fn(migrator)
}
