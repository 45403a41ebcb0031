package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/respondr-uk/respondr/internal/app"
	"github.com/respondr-uk/respondr/internal/config"
	"github.com/respondr-uk/respondr/internal/pkg/postgres"
	"github.com/spf13/cobra"
)

func newServeCommand() *cobra.Command {
	var autoMigrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long:  `Start the API server and, when enabled, the notification workers.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), autoMigrate)
		},
	}

	cmd.Flags().BoolVar(&autoMigrate, "migrate", false, "Apply pending database migrations before starting")

	return cmd
}

func runServe(ctx context.Context, autoMigrate bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if autoMigrate && cfg.Storage.Driver == config.StorageDriverPostgres {
		if err := migrateUp(cfg.Database.URL); err != nil {
			return err
		}
	}

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Run()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
		return nil
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("server stopped")
	return nil
}

func migrateUp(databaseURL string) error {
	migrator, err := postgres.NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if err := migrator.Close(); err != nil {
			slog.Warn("failed to close migrator", "error", err)
		}
	}()

	return migrator.Up()
}
