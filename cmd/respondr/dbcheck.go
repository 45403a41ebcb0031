package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/respondr-uk/respondr/internal/pkg/postgres"
	"github.com/spf13/cobra"
)

func newDBCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dbcheck",
		Short: "Check database connectivity",
		Long:  `Connect to the configured database and print the server version and tables.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := requirePostgres(cfg); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Database.ConnectTimeout)
			defer cancel()

			pool, err := postgres.Connect(ctx, postgres.Config{
				URL:             cfg.Database.URL,
				MaxOpenConns:    1,
				ConnectAttempts: 1,
			})
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			defer pool.Close()

			d, err := postgres.Check(ctx, pool)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "server: %s\n", d.ServerVersion)
			if len(d.Tables) == 0 {
				fmt.Fprintln(out, "tables: none (run `respondr migrate up`)")
				return nil
			}
			fmt.Fprintf(out, "tables: %s\n", strings.Join(d.Tables, ", "))
			return nil
		},
	}
}
