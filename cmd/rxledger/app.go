package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/rx-ledger/internal/config"
	audithandler "github.com/jwalitptl/rx-ledger/internal/handler/audit"
	directoryhandler "github.com/jwalitptl/rx-ledger/internal/handler/directory"
	"github.com/jwalitptl/rx-ledger/internal/handler/doctor"
	"github.com/jwalitptl/rx-ledger/internal/handler/health"
	metricshandler "github.com/jwalitptl/rx-ledger/internal/handler/metrics"
	notificationhandler "github.com/jwalitptl/rx-ledger/internal/handler/notification"
	prescriptionhandler "github.com/jwalitptl/rx-ledger/internal/handler/prescription"
	"github.com/jwalitptl/rx-ledger/internal/ledger"
	"github.com/jwalitptl/rx-ledger/internal/middleware"
	"github.com/jwalitptl/rx-ledger/internal/repository"
	"github.com/jwalitptl/rx-ledger/internal/repository/memory"
	"github.com/jwalitptl/rx-ledger/internal/repository/postgres"
	"github.com/jwalitptl/rx-ledger/internal/router"
	"github.com/jwalitptl/rx-ledger/internal/service/audit"
	"github.com/jwalitptl/rx-ledger/internal/service/directory"
	"github.com/jwalitptl/rx-ledger/internal/service/dispense"
	"github.com/jwalitptl/rx-ledger/internal/service/keys"
	"github.com/jwalitptl/rx-ledger/internal/service/notification"
	"github.com/jwalitptl/rx-ledger/internal/service/prescription"
	"github.com/jwalitptl/rx-ledger/internal/service/token"
	"github.com/jwalitptl/rx-ledger/internal/service/verification"
	"github.com/jwalitptl/rx-ledger/pkg/auth"
	"github.com/jwalitptl/rx-ledger/pkg/circuitbreaker"
	"github.com/jwalitptl/rx-ledger/pkg/logger"
	"github.com/jwalitptl/rx-ledger/pkg/messaging"
	"github.com/jwalitptl/rx-ledger/pkg/messaging/kafka"
	"github.com/jwalitptl/rx-ledger/pkg/messaging/redis"
	"github.com/jwalitptl/rx-ledger/pkg/metrics"
)

// loadConfig reads the config named by --config and configures the global
// logger from it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	file, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(file)
	if err != nil {
		return nil, err
	}
	logger.Setup(loggerConfig(cfg))
	return cfg, nil
}

func loggerConfig(cfg *config.Config) *logger.Config {
	return &logger.Config{
		Level:   logger.ParseLevel(cfg.Log.Level),
		Console: strings.EqualFold(cfg.Log.Format, "console"),
	}
}

// app holds everything serve runs. close releases resources in reverse
// order of acquisition.
type app struct {
	cfg     *config.Config
	repos   *repository.Set
	ledger  *ledger.LevelLedger
	broker  messaging.Broker
	metrics *metrics.Metrics
	router  *router.Router
	logger  *logger.Logger
	closers []func() error
}

func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func newApp(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, gatherer prometheus.Gatherer) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger.NewLogger(loggerConfig(cfg))}
	defer func() {
		if err != nil {
			_ = a.close()
		}
	}()

	if err := a.openStorage(ctx); err != nil {
		return nil, err
	}

	a.ledger, err = ledger.Open(cfg.Ledger.Path, cfg.Ledger.Network)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.ledger.Close)

	a.broker, err = newBroker(ctx, cfg, a.logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.broker.Close)

	a.metrics = metrics.New(reg)

	issuer, err := token.NewIssuer(cfg.Token.Secret, cfg.Token.TTL)
	if err != nil {
		return nil, fmt.Errorf("token issuer: %w", err)
	}

	anchorer := ledger.NewBreakerAnchorer(a.ledger, circuitbreaker.Settings{
		Name:        "ledger",
		MaxFailures: cfg.Ledger.MaxFailures,
		Timeout:     cfg.Ledger.BreakerTimeout,
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			log.Warn().Str("breaker", name).Str("from", string(from)).Str("to", string(to)).Msg("Circuit breaker state changed")
		},
	})

	auditor := audit.NewService(a.repos.Audit)
	keySvc := keys.NewService(a.repos.DoctorKeys, cfg.Keys.CacheTTL, auditor)
	dir := directory.NewService(directory.Deps{
		Patients:          a.repos.Patients,
		Doctors:           a.repos.Doctors,
		Assignments:       a.repos.Assignments,
		Medications:       a.repos.Medications,
		Auditor:           auditor,
		EnforceAssignment: cfg.Directory.EnforceAssignment,
		EnforceCatalog:    cfg.Directory.EnforceCatalog,
	})
	rx := prescription.NewService(prescription.Deps{
		Repo:      a.repos.Prescriptions,
		Keys:      keySvc,
		Directory: dir,
		Anchorer:  anchorer,
		Tokens:    issuer,
		Auditor:   auditor,
		Metrics:   a.metrics,
	})
	verifier := verification.NewService(issuer, rx, auditor, a.metrics)
	gate := dispense.NewGate(issuer, rx, auditor, a.metrics)

	checks := []health.Check{
		{Name: "storage", Fn: a.repos.Health.Ping},
		{Name: "ledger", Fn: func(context.Context) error {
			if anchorer.State() == circuitbreaker.StateOpen {
				return circuitbreaker.ErrOpen
			}
			_, err := a.ledger.Height()
			return err
		}},
	}

	handlers := router.Handlers{
		Prescription: prescriptionhandler.NewHandler(rx, verifier, gate, cfg.QR.ImageSize),
		Notification: notificationhandler.NewHandler(notification.NewService(a.repos.Notifications)),
		Doctor:       doctor.NewHandler(keySvc),
		Directory:    directoryhandler.NewHandler(dir),
		Audit:        audithandler.NewHandler(auditor),
		Health:       health.NewHandler(checks...),
	}
	if cfg.Metrics.Enabled {
		handlers.Metrics = metricshandler.New(gatherer, a.metrics)
	}

	corsConfig := middleware.DefaultCORSConfig()
	corsConfig.AllowOrigins = cfg.CORS.AllowedOrigins

	routerConfig := router.RouterConfig{
		CORSConfig:     corsConfig,
		SecurityConfig: middleware.DefaultSecurityConfig(),
		RequestTimeout: cfg.Server.WriteTimeout,
		MetricsPath:    cfg.Metrics.Path,
		ReleaseMode:    !cfg.IsDevelopment(),
	}
	if cfg.RateLimit.Enabled {
		routerConfig.RateLimiter = middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:    rate.Limit(cfg.RateLimit.RequestsPerSecond),
			Burst:   cfg.RateLimit.Burst,
			IdleTTL: cfg.RateLimit.IdleTTL,
		})
	}

	if cfg.Auth.DevHeaders {
		log.Warn().Msg("Development identity headers are enabled")
	}
	authMiddleware := middleware.NewAuthMiddleware(auth.NewJWTService(cfg.Auth.JWTSecret), cfg.Auth.DevHeaders)

	a.router = router.NewRouter(authMiddleware, handlers, routerConfig)
	a.router.Setup()
	return a, nil
}

func (a *app) openStorage(ctx context.Context) error {
	switch a.cfg.Storage.Driver {
	case config.StoragePostgres:
		db, err := postgres.NewDB(ctx, a.cfg.Database)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, db.Close)
		if _, err := postgres.Migrate(ctx, db); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		a.repos = postgres.NewRepositories(db)
	default:
		log.Warn().Msg("Using in-memory storage; data is lost on restart")
		a.repos = memory.NewStore().Repositories()
	}
	return nil
}

// newBroker builds the configured brokers. With none enabled, events are
// only logged.
func newBroker(ctx context.Context, cfg *config.Config, l *logger.Logger) (messaging.Broker, error) {
	var brokers []messaging.Broker
	if cfg.Redis.Enabled {
		b, err := redis.NewRedisBroker(ctx, redisConfig(cfg), l)
		if err != nil {
			return nil, err
		}
		brokers = append(brokers, b)
	}
	if cfg.Kafka.Enabled {
		b, err := kafka.NewKafkaBroker(kafka.Config{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			BatchTimeout: cfg.Kafka.BatchTimeout,
		})
		if err != nil {
			for _, prev := range brokers {
				_ = prev.Close()
			}
			return nil, err
		}
		brokers = append(brokers, b)
	}

	switch len(brokers) {
	case 0:
		return messaging.NewLogBroker(l), nil
	case 1:
		return brokers[0], nil
	default:
		return messaging.NewMultiBroker(brokers...), nil
	}
}

func redisConfig(cfg *config.Config) redis.Config {
	return redis.Config{
		URL:          cfg.Redis.URL,
		Channel:      cfg.Redis.Channel,
		MaxRetries:   cfg.Redis.MaxRetries,
		RetryBackoff: cfg.Redis.RetryBackoff,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}
}
