package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/utafrali/ordersaga/pkg/database"
	"github.com/utafrali/ordersaga/pkg/health"
	"github.com/utafrali/ordersaga/pkg/httpclient"
	pkgkafka "github.com/utafrali/ordersaga/pkg/kafka"
	"github.com/utafrali/ordersaga/pkg/saga"
	"github.com/utafrali/ordersaga/pkg/tracing"
	"github.com/utafrali/ordersaga/services/order/internal/client"
	"github.com/utafrali/ordersaga/services/order/internal/config"
	"github.com/utafrali/ordersaga/services/order/internal/event"
	handler "github.com/utafrali/ordersaga/services/order/internal/handler/http"
	"github.com/utafrali/ordersaga/services/order/internal/orchestrator"
	"github.com/utafrali/ordersaga/services/order/internal/repository"
	"github.com/utafrali/ordersaga/services/order/internal/repository/postgres"
	redisrepo "github.com/utafrali/ordersaga/services/order/internal/repository/redis"
	"github.com/utafrali/ordersaga/services/order/internal/service"
	"github.com/utafrali/ordersaga/services/order/migrations"
)

const serviceName = "order"

// App wires together all dependencies and runs the order service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *goredis.Client
	producer       *pkgkafka.Producer
	tracker        *saga.Tracker
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	a := &App{
		cfg:            cfg,
		logger:         logger,
		tracker:        saga.NewTracker(),
		tracerShutdown: tracerShutdown,
	}

	pgCfg := database.PostgresConfig{
		Host:            cfg.PostgresHost,
		Port:            cfg.PostgresPort,
		User:            cfg.PostgresUser,
		Password:        cfg.PostgresPass,
		DBName:          cfg.PostgresDB,
		SSLMode:         cfg.PostgresSSL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: time.Duration(cfg.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(cfg.DBMaxConnIdleTimeMins) * time.Minute,
	}
	pool, err := database.NewPostgresPool(ctx, &pgCfg, logger)
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	a.pool = pool
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	database.RegisterPoolMetrics(pool, serviceName)

	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	if cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger)
	}

	repo := postgres.NewOrderRepository(pool)

	var numbers repository.NumberAllocator = repo
	if cfg.OrderNumberBackend == config.NumberBackendRedis {
		rdb, err := database.NewRedisClient(ctx, database.RedisConfig{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			a.closeAll()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.redis = rdb
		numbers = redisrepo.NewSequenceAllocator(rdb, repo, redisrepo.DefaultSequenceTTL)
		logger.Info("order numbers allocated from redis",
			slog.String("host", cfg.RedisHost),
			slog.Int("port", cfg.RedisPort),
		)
	}

	// A nil publisher turns the event producer into a no-op.
	var publisher event.Publisher
	if cfg.KafkaEnabled {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		publisher = a.producer
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	} else {
		logger.Warn("kafka disabled, order events will not be published")
	}
	eventProducer := event.NewProducer(publisher, logger)

	baseClient := httpclient.New(httpclient.Config{
		Timeout:         time.Duration(cfg.HTTPClientTimeoutSeconds) * time.Second,
		MaxRetries:      cfg.HTTPClientMaxRetries,
		RetryWaitMin:    500 * time.Millisecond,
		RetryWaitMax:    5 * time.Second,
		MaxConnsPerHost: 100,
	})
	inventory := client.NewInventoryClient(a.breaker(baseClient, "order-inventory"), cfg.InventoryServiceURL, logger)
	payments := client.NewPaymentClient(a.breaker(baseClient, "order-payment"), cfg.PaymentServiceURL, logger)

	sagas := orchestrator.New(orchestrator.Deps{
		Inventory: inventory,
		Payments:  payments,
		Orders:    repo,
		Numbers:   numbers,
		Events:    eventProducer,
		Tracker:   a.tracker,
		Observers: []saga.Observer{saga.NewMetricsObserver(), saga.NewTracingObserver()},
	}, orchestrator.Config{
		TaxRateBasisPoints: cfg.TaxRateBasisPoints,
		DefaultCurrency:    cfg.DefaultCurrency,
	}, logger)

	orderService := service.NewOrderService(sagas, repo, eventProducer, logger)

	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	if a.redis != nil {
		rdb := a.redis
		healthHandler.RegisterCritical("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}
	if a.producer != nil {
		producer := a.producer
		healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
			return producer.Ping(ctx)
		})
	}

	router := handler.NewRouter(orderService, healthHandler, logger, cfg.PprofAllowedCIDRs)

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

func (a *App) breaker(base *httpclient.Client, name string) *httpclient.CircuitBreakerClient {
	cbCfg := httpclient.CircuitBreakerConfig{
		Name:         name,
		MaxRequests:  a.cfg.CBMaxRequests,
		Interval:     time.Duration(a.cfg.CBInterval) * time.Second,
		Timeout:      time.Duration(a.cfg.CBTimeout) * time.Second,
		FailureRatio: a.cfg.CBFailureRatio,
		MinRequests:  a.cfg.CBMinRequests,
	}
	a.logger.Info("circuit breaker initialized",
		slog.String("name", cbCfg.Name),
		slog.Uint64("max_requests", uint64(cbCfg.MaxRequests)),
		slog.Int("timeout_seconds", a.cfg.CBTimeout),
		slog.Uint64("min_requests", uint64(cbCfg.MinRequests)),
	)
	return httpclient.NewCircuitBreakerClient(base, cbCfg, a.logger)
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.closeAll()
		return err
	}

	return a.Shutdown()
}

// Shutdown stops the service in order: HTTP server, running sagas, tracer,
// then the Kafka producer, Redis and PostgreSQL.
//
// Saga progress is not persisted. A saga still running when the budget runs
// out is abandoned and logged with the step it had reached, so its partial
// effects can be reconciled by hand.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if err := a.drainSagas(time.Duration(a.cfg.ShutdownTimeoutSeconds) * time.Second); err != nil {
		errs = append(errs, err)
	}

	errs = append(errs, a.closeAll())

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

func (a *App) drainSagas(budget time.Duration) error {
	if a.tracker.Len() == 0 {
		return nil
	}
	a.logger.Info("waiting for running sagas", slog.Int("count", a.tracker.Len()))

	ctx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()
	if err := a.tracker.Wait(ctx); err != nil {
		for _, s := range a.tracker.InFlight() {
			a.logger.Error("abandoning running saga",
				slog.String("saga", s.Name),
				slog.String("correlation_id", s.CorrelationID),
				slog.String("step", s.Step),
				slog.Time("started_at", s.StartedAt),
			)
		}
		return fmt.Errorf("wait for sagas: %w", err)
	}
	return nil
}

// closeAll releases whatever has been initialised so far.
func (a *App) closeAll() error {
	var errs []error

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.tracerShutdown = nil
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.producer = nil
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.redis = nil
	}

	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}

	return errors.Join(errs...)
}
