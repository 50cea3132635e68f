package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"PriceKeeper/internal/api"
	"PriceKeeper/internal/scheduler"
)

var noAPI bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler, chat commands and read API",
	Long: `Runs the update on schedule.update_cron, answers chat commands when
telegram is configured, and serves the read API on api.listen. Ctrl+C stops it.`,
	RunE: runDaemon,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read API only",
	RunE:  runServe,
}

func init() {
	runCmd.Flags().BoolVar(&noAPI, "no-api", false, "do not start the read API")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	sched := scheduler.NewScheduler(ctx, a.runner, a.store, a.recorder, a.messenger())
	if err := sched.RegisterAll(cfg.Schedule.UpdateCron, cfg.Schedule.ReviewCron); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	if a.telegram != nil {
		go a.telegram.StartPolling(ctx, sched.HandleCommand)
		log.Info().Msg("telegram polling started")
	}

	if cfg.Schedule.RunOnStart {
		log.Info().Msg("run_on_start enabled, executing update now")
		sched.RunUpdateAsync()
	}

	log.Info().Str("update_cron", cfg.Schedule.UpdateCron).Msg("PriceKeeper is running. Press Ctrl+C to stop.")
	if noAPI {
		<-ctx.Done()
		log.Info().Msg("shutdown signal received, stopping...")
		return nil
	}
	return serveAPI(ctx, a)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return serveAPI(ctx, a)
}

// serveAPI blocks until ctx is cancelled, then shuts the server down.
func serveAPI(ctx context.Context, a *app) error {
	server := &http.Server{
		Addr:         cfg.API.Listen,
		Handler:      api.NewRouter(api.Config{Store: a.store, Recorder: a.recorder}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("address", server.Addr).Msg("read API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutdown signal received, stopping server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	log.Info().Msg("PriceKeeper stopped")
	return nil
}
