package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jwalitptl/rx-ledger/pkg/worker"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and the outbox workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if port, _ := cmd.Flags().GetInt("port"); port > 0 {
				cfg.Server.Port = port
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.close(); err != nil {
					log.Error().Err(err).Msg("Failed to release resources")
				}
			}()
			return a.run(ctx)
		},
	}
	cmd.Flags().IntP("port", "p", 0, "listen port (overrides server.port)")
	return cmd
}

// run serves HTTP and, when enabled, drains and prunes the outbox until ctx
// is cancelled, then shuts everything down gracefully. Workers are stopped
// after the server so in-flight requests can still enqueue events.
func (a *app) run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:      a.router.Engine(),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	var wg sync.WaitGroup

	if a.cfg.Outbox.Enabled {
		if err := a.startWorkers(workerCtx, &wg); err != nil {
			return err
		}
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Int("port", a.cfg.Server.Port).Str("environment", a.cfg.Environment).
			Str("storage", a.cfg.Storage.Driver).Str("broker", a.broker.Name()).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("failed to start server: %w", err)
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
	}

	log.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("server forced to shutdown: %w", err))
	}

	stopWorkers()
	wg.Wait()
	log.Info().Msg("Server exited properly")
	return runErr
}

// startWorkers launches the outbox processor and the cleanup worker; both
// stop when ctx is cancelled.
func (a *app) startWorkers(ctx context.Context, wg *sync.WaitGroup) error {
	processor, err := worker.NewOutboxProcessor(a.repos.Outbox, a.broker, worker.OutboxProcessorConfig{
		BatchSize:     a.cfg.Outbox.BatchSize,
		PollInterval:  a.cfg.Outbox.PollInterval,
		RetryAttempts: a.cfg.Outbox.RetryAttempts,
		RetryDelay:    a.cfg.Outbox.RetryDelay,
	}, a.logger, a.metrics)
	if err != nil {
		return fmt.Errorf("outbox processor: %w", err)
	}
	cleanup := worker.NewOutboxCleanupWorker(a.repos.Outbox, a.cfg.Outbox.Retention, a.cfg.Outbox.CleanupInterval, a.logger)

	wg.Add(2)
	go func() {
		defer wg.Done()
		processor.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		cleanup.Start(ctx)
	}()
	return nil
}
