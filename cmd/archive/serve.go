package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"archive_server/internal/bootstrap"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the query API server",
	Long: `Serves the read-only JSON API plus the vote endpoint. Refuses to
start when the database schema is behind; run "archive updatedb" first.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	deps, cleanup, err := bootstrap.NewDependencies(cfg, bootstrap.Options{})
	if err != nil {
		cleanup()
		return err
	}
	defer cleanup()

	app := bootstrap.NewAPI(deps)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		deps.Log.Info().Dur("timeout", shutdownTimeout).Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		done := make(chan error, 1)
		go func() { done <- app.Shutdown() }()
		select {
		case err := <-done:
			if err != nil {
				deps.Log.Error().Err(err).Msg("shutdown failed")
			}
		case <-ctx.Done():
			deps.Log.Warn().Msg("shutdown timed out, forcing exit")
		}
	}()

	deps.Log.Info().Str("addr", cfg.HTTPAddr).Msg("starting query API")
	return app.Listen(cfg.HTTPAddr)
}
