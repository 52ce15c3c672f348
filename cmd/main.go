package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"basis/internal/adapters/clickhouse"
	"basis/internal/adapters/config"
	"basis/internal/adapters/errors/noop"
	"basis/internal/adapters/errors/sentry"
	"basis/internal/adapters/exchanges"
	"basis/internal/adapters/exchanges/ratelimit"
	"basis/internal/adapters/kafka"
	"basis/internal/adapters/postgres"
	"basis/internal/adapters/redis"
	"basis/internal/events"
	"basis/internal/httpserver"
	"basis/internal/locks"
	"basis/internal/metrics"
	chrepo "basis/internal/repository/clickhouse"
	pgrepo "basis/internal/repository/postgres"
	hedgesvc "basis/internal/services/hedge"
	"basis/internal/workers"
	"basis/pkg/errors"
	"basis/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	log := logger.Get()
	log.Infof("Starting %s in %s mode", cfg.App.Name, cfg.App.Env)

	errorTracker := initErrorTracker(cfg, log)
	logger.SetErrorTracker(errorTracker)

	// Databases
	pgClient, err := postgres.NewClient(cfg.Postgres)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer pgClient.Close()

	chClient, err := clickhouse.NewClient(cfg.ClickHouse)
	if err != nil {
		log.Fatalf("Failed to connect to ClickHouse: %v", err)
	}
	defer chClient.Close()

	// Locks
	lockManager, lockCleanup, err := initLockManager(cfg, log)
	if err != nil {
		log.Fatalf("Failed to init lock manager: %v", err)
	}
	defer lockCleanup()

	// Kafka
	producer := kafka.NewProducer(kafka.ProducerConfig{Brokers: cfg.Kafka.Brokers})
	defer producer.Close()
	publisher := events.NewPublisher(producer)

	// Exchanges
	registry := exchanges.NewRegistry()
	registerVenues(cfg, registry, log)
	executor := exchanges.NewLegExecutor(registry, ratelimit.NewVenueLimiters(), cfg.Hedge.LegTimeout)

	// Repositories
	positionRepo := pgrepo.NewPositionRepository(pgClient.DB())
	tradeRepo := pgrepo.NewTradeRepository(pgClient.DB())
	auditRepo := chrepo.NewAuditRepository(chClient)

	// Services
	service := hedgesvc.NewService(
		positionRepo,
		tradeRepo,
		lockManager,
		executor,
		auditRepo,
		publisher,
		publisher,
	)

	// Workers
	scheduler := workers.NewScheduler()
	scheduler.RegisterWorker(workers.NewReconcilerWorker(
		positionRepo,
		auditRepo,
		publisher,
		cfg.Workers.ReconcilerInterval,
		cfg.Hedge.LockTTL,
		cfg.Workers.ReconcilerEnabled,
	))
	scheduler.RegisterWorker(workers.NewFundingWorker(
		positionRepo,
		registry,
		cfg.Workers.FundingInterval,
		cfg.Workers.FundingEnabled,
	))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := scheduler.Start(ctx); err != nil {
		log.Fatalf("Failed to start workers: %v", err)
	}

	metricsServer := startMetricsServer(cfg, log)
	apiServer := startAPIServer(cfg, service, log)

	log.Info("System initialized successfully")

	waitForShutdown(cancel, log)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := scheduler.Stop(); err != nil {
		log.Warnf("Worker shutdown: %v", err)
	}
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Warnf("API server shutdown: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Warnf("Metrics server shutdown: %v", err)
	}
	if err := errorTracker.Flush(shutdownCtx); err != nil {
		log.Warnf("Error tracker flush: %v", err)
	}

	log.Info("Shutdown complete")
}

// initErrorTracker initializes error tracking (Sentry or no-op)
func initErrorTracker(cfg *config.Config, log *logger.Logger) errors.Tracker {
	if !cfg.ErrorTracking.Enabled || cfg.ErrorTracking.SentryDSN == "" {
		log.Info("Error tracking disabled")
		return noop.New()
	}

	tracker, err := sentry.New(cfg.ErrorTracking.SentryDSN, cfg.ErrorTracking.Environment)
	if err != nil {
		log.Warnf("Failed to initialize Sentry: %v", err)
		return noop.New()
	}

	log.Info("Error tracking initialized (Sentry)")
	return tracker
}

// initLockManager selects the lock backend. Redis gives cross-process
// exclusion for multi-instance deployments; memory suffices for one process.
func initLockManager(cfg *config.Config, log *logger.Logger) (locks.Manager, func(), error) {
	switch cfg.Hedge.LockBackend {
	case "redis":
		redisClient, err := redis.NewClient(cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		log.Info("Using Redis lock backend")
		return locks.NewRedisManager(redisClient.Client(), cfg.Hedge.LockTTL), func() {
			redisClient.Close()
		}, nil

	case "memory":
		log.Info("Using in-memory lock backend")
		manager := locks.NewMemoryManager(cfg.Hedge.LockTTL)
		return manager, manager.Close, nil

	default:
		return nil, nil, errors.Newf("unknown lock backend: %s", cfg.Hedge.LockBackend)
	}
}

// registerVenues registers configured exchange adapters.
// TODO(venues): register binance/bybit/okx adapters once their transport
// packages land; the registry and credentials plumbing are already in place.
func registerVenues(cfg *config.Config, registry *exchanges.Registry, log *logger.Logger) {
	names := registry.Names()
	if len(names) == 0 {
		log.Warnw("No exchange venues registered, every leg execution will fail until adapters are configured")
		return
	}
	log.Infow("Venue registry initialized", "venues", names)
}

// startAPIServer serves the hedge lifecycle API
func startAPIServer(cfg *config.Config, service *hedgesvc.Service, log *logger.Logger) *http.Server {
	router := httpserver.NewRouter(httpserver.NewHandler(service))

	server := &http.Server{
		Addr:    cfg.App.HTTPAddr,
		Handler: router,
	}

	go func() {
		log.Infow("API server listening", "addr", cfg.App.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("API server failed: %v", err)
		}
	}()

	return server
}

// startMetricsServer exposes Prometheus metrics
func startMetricsServer(cfg *config.Config, log *logger.Logger) *http.Server {
	metrics.Register()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Addr:    cfg.App.MetricsAddr,
		Handler: mux,
	}

	go func() {
		log.Infow("Metrics server listening", "addr", cfg.App.MetricsAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Metrics server failed: %v", err)
		}
	}()

	return server
}

// waitForShutdown blocks until SIGINT/SIGTERM
func waitForShutdown(cancel context.CancelFunc, log *logger.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	log.Infof("Received signal %s, shutting down...", sig)
	cancel()
}
