package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jwalitptl/rx-ledger/internal/config"
	"github.com/jwalitptl/rx-ledger/internal/handler/health"
	metricshandler "github.com/jwalitptl/rx-ledger/internal/handler/metrics"
	"github.com/jwalitptl/rx-ledger/internal/middleware"
	"github.com/jwalitptl/rx-ledger/pkg/logger"
	"github.com/jwalitptl/rx-ledger/pkg/metrics"
)

var errWorkerStorage = errors.New("worker requires storage.driver=postgres")

func workerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run only the outbox publisher and cleanup against the shared database",
		Long: `Run the outbox publisher and cleanup as a separate process.

The publisher expects to be the only one per database: set outbox.enabled=false
on the serve instances when running this command.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			healthPort, _ := cmd.Flags().GetInt("health-port")

			ctx := cmd.Context()
			a, err := newWorkerApp(ctx, cfg, prometheus.DefaultRegisterer)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.close(); err != nil {
					log.Error().Err(err).Msg("Failed to release resources")
				}
			}()
			return a.runWorkers(ctx, healthPort, prometheus.DefaultGatherer)
		},
	}
	cmd.Flags().Int("health-port", 8081, "port for /health and metrics")
	return cmd
}

// newWorkerApp opens only what the outbox workers need. The ledger is left
// closed since its store allows a single process.
func newWorkerApp(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (a *app, err error) {
	if cfg.Storage.Driver != config.StoragePostgres {
		return nil, errWorkerStorage
	}

	a = &app{cfg: cfg, logger: logger.NewLogger(loggerConfig(cfg))}
	defer func() {
		if err != nil {
			_ = a.close()
		}
	}()

	if err := a.openStorage(ctx); err != nil {
		return nil, err
	}
	a.broker, err = newBroker(ctx, cfg, a.logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.broker.Close)
	a.metrics = metrics.New(reg)
	return a, nil
}

func (a *app) runWorkers(ctx context.Context, healthPort int, gatherer prometheus.Gatherer) error {
	if !a.cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(middleware.Recovery())
	health.NewHandler(health.Check{Name: "storage", Fn: a.repos.Health.Ping}).RegisterRoutes(engine)
	if a.cfg.Metrics.Enabled {
		engine.GET(a.cfg.Metrics.Path, metricshandler.New(gatherer, a.metrics).Handler())
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", healthPort),
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	var wg sync.WaitGroup
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	if err := a.startWorkers(workerCtx, &wg); err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Int("health_port", healthPort).Str("broker", a.broker.Name()).Msg("Starting outbox worker")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("health server: %w", err)
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
	}

	stopWorkers()
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}
	log.Info().Msg("Worker exited properly")
	return runErr
}
