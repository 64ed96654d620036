package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ayo6706/payment-orchestrator/internal/api"
	"github.com/ayo6706/payment-orchestrator/internal/api/handler"
	"github.com/ayo6706/payment-orchestrator/internal/catalog"
	"github.com/ayo6706/payment-orchestrator/internal/config"
	"github.com/ayo6706/payment-orchestrator/internal/db"
	"github.com/ayo6706/payment-orchestrator/internal/events"
	"github.com/ayo6706/payment-orchestrator/internal/gateway"
	"github.com/ayo6706/payment-orchestrator/internal/idempotency"
	"github.com/ayo6706/payment-orchestrator/internal/observability"
	"github.com/ayo6706/payment-orchestrator/internal/registry"
	"github.com/ayo6706/payment-orchestrator/internal/repository"
	"github.com/ayo6706/payment-orchestrator/internal/routing"
	"github.com/ayo6706/payment-orchestrator/internal/service"
	"github.com/ayo6706/payment-orchestrator/internal/worker"
	"github.com/redis/go-redis/v9"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// sandboxPayoutFailureRate is the share of sandbox payouts that fail downstream.
const sandboxPayoutFailureRate = 0.02

// Run bootstraps the HTTP server and background workers, blocking until shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockz.RealClock
	deps := map[string]handler.Pinger{}

	store, closeStore, err := OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	deps["store"] = store

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = NewRedisClient(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisClient.Close()
		deps["redis"] = handler.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	var idemStore idempotency.Store
	if redisClient != nil {
		idemStore = idempotency.NewRedisStore(redisClient, cfg.IdempotencyTTL, clock)
	} else {
		logger.Warn("REDIS_URL not set; idempotent replay is local to this process")
		idemStore = idempotency.NewMemoryStore(cfg.IdempotencyTTL, clock)
	}

	cat, err := LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return err
	}
	gateways := registry.NewGatewayRegistry(cat.Gateways, clock)
	mids := registry.NewMIDRegistry(cat.MIDs, clock)
	engine := routing.NewEngine(cat.Rules, gateways, mids)
	logger.Info("catalog loaded", zap.Strings("summary", cat.Summary()))

	bus := events.NewBus(
		events.WithQueueSize(cfg.EventQueueSize),
		events.WithWorkers(cfg.EventWorkers),
		events.WithHandlerTimeout(cfg.EventHandlerTimeout),
	)
	defer bus.Close()
	events.RegisterDefaults(bus, logger)

	var (
		executor       gateway.Executor
		payoutExecutor gateway.PayoutExecutor
	)
	switch cfg.GatewayMode {
	case config.GatewayModeHTTP:
		client := &http.Client{Timeout: cfg.GatewayTimeout}
		executor = gateway.NewHTTPExecutor(client)
		payoutExecutor = gateway.NewHTTPPayoutExecutor(client, cfg.PayoutAPIURL)
	default:
		executor = gateway.NewSandbox(clock)
		payoutExecutor = gateway.NewSandboxPayouts(clock, sandboxPayoutFailureRate)
	}

	locks := service.NewAccountLocks()
	health := service.NewHealthService(gateways, mids, gateway.NewHTTPProber(cfg.ProbeTimeout), store, bus, clock, cfg.ProbeTimeout)
	payments := service.NewPaymentService(store, engine, executor, gateways, mids, bus, clock, cfg.GatewayTimeout)
	payouts := service.NewPayoutService(store, registry.NewPayoutMethods(cat.PayoutMethods), payoutExecutor, locks, bus, clock)
	escrow := service.NewEscrowService(store, bus, locks, clock, service.EscrowConfig{
		DefaultHoldDays: cfg.DefaultHoldDays,
		MaxHoldAmount:   cfg.MaxHoldMicros,
	})
	webhooks := service.NewWebhookService(store, health, cfg.WebhookHMACKey, cfg.WebhookSkipSignature, clock)
	reconciliation := service.NewReconciliationService(store)

	releaseWorker := worker.NewReleaseWorker(escrow).
		WithInterval(cfg.AutoReleaseInterval).
		WithBatchSize(cfg.AutoReleaseBatchSize)
	if redisClient != nil {
		releaseWorker.WithLease(worker.NewRedisLease(redisClient))
	}
	stops := []func(){
		worker.NewPayoutWorker(payouts).
			WithPollInterval(cfg.PayoutPollInterval).
			WithBatchSize(cfg.PayoutBatchSize).
			Run(ctx),
		releaseWorker.Run(ctx),
		worker.NewMIDHealthWorker(health).WithInterval(cfg.MIDHealthInterval).Run(ctx),
		worker.NewGatewayHealthWorker(health).WithInterval(cfg.GatewayHealthInterval).Run(ctx),
		worker.NewReconciliationWorker(reconciliation).WithPayments(payments).WithInterval(cfg.ReconcileInterval).Run(ctx),
	}
	logger.Info("workers started",
		zap.Duration("payout_interval", cfg.PayoutPollInterval),
		zap.Duration("release_interval", cfg.AutoReleaseInterval),
		zap.Duration("mid_health_interval", cfg.MIDHealthInterval),
		zap.Duration("gateway_health_interval", cfg.GatewayHealthInterval),
		zap.Duration("reconcile_interval", cfg.ReconcileInterval),
	)

	router := api.NewRouter(cfg, logger, idemStore, deps, api.Services{
		Payments: payments,
		Payouts:  payouts,
		Escrow:   escrow,
		Health:   health,
		Webhooks: webhooks,
		Rules:    engine,
	})

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.GatewayTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort), zap.String("store", cfg.StoreDriver), zap.String("gateway_mode", cfg.GatewayMode))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("stopping workers")
	for _, stop := range stops {
		stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

// Store is the persistence the services and readiness probe share.
type Store interface {
	service.QueryStore
	handler.Pinger
}

// OpenStore returns the configured store and its close function. The postgres
// store applies the embedded migrations before use.
func OpenStore(ctx context.Context, cfg *config.Config) (Store, func(), error) {
	if cfg.StoreDriver != config.StorePostgres {
		return repository.NewMemoryStore(), func() {}, nil
	}
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	return repository.NewPostgresStore(pool), pool.Close, nil
}

// LoadCatalog reads the catalog file, or the built-in catalog when path is empty.
func LoadCatalog(path string) (*catalog.Catalog, error) {
	cat, err := catalog.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	return cat, nil
}

func NewLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func NewRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
