// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"settlement-service/config"
	"settlement-service/internal/cache"
	"settlement-service/internal/events"
	"settlement-service/internal/gateway"
	"settlement-service/internal/handler"
	"settlement-service/internal/middleware"
	"settlement-service/internal/repository"
	"settlement-service/internal/repository/memory"
	"settlement-service/internal/router"
	"settlement-service/internal/usecase"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// pingFunc adapts a bare function to handler.Pinger.
type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	logger, err := newLogger(cfg)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("starting settlement service",
		zap.String("environment", cfg.Server.Env),
		zap.String("port", cfg.Server.Port),
		zap.String("store", cfg.Database.Driver))

	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = "dev-only-secret"
		logger.Warn("JWT_SECRET not set, using an insecure development secret")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ============================================
	// STORAGE
	// ============================================
	var store repository.Store
	switch cfg.Database.Driver {
	case "memory":
		logger.Warn("using in-memory store, state is lost on restart")
		store = memory.New()
	default:
		pool, err := repository.ConnectDB(ctx, cfg.Database, logger)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		if cfg.Database.Migrate {
			if err := repository.Migrate(ctx, pool); err != nil {
				logger.Fatal("failed to apply schema", zap.Error(err))
			}
			logger.Info("database schema applied")
		}
		store = repository.NewPostgresStore(pool)
	}
	defer store.Close()

	healthDeps := map[string]handler.Pinger{"database": store}

	// ============================================
	// CACHE + NOTIFICATIONS
	// ============================================
	hub := events.NewHub(logger)
	var (
		balanceCache cache.BalanceCache     = cache.NewMemoryBalanceCache()
		notifier     events.BalanceNotifier = hub
		fanout       *events.RedisFanout
		rdb          *redis.Client
	)
	if cfg.Redis.Enabled {
		rdb, err = cache.NewRedisClient(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer rdb.Close()

		balanceCache = cache.NewRedisBalanceCache(rdb, cfg.Redis.CacheTTL, logger)
		fanout = events.NewRedisFanout(rdb, hub, logger)
		notifier = fanout
		healthDeps["redis"] = pingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	} else {
		logger.Warn("redis disabled, balance cache and websocket updates are local to this instance")
	}

	// ============================================
	// OUTBOX
	// ============================================
	var writer events.MessageWriter = events.LogWriter{Logger: logger.Named("outbox")}
	if cfg.Kafka.Enabled {
		kw := events.NewKafkaWriter(cfg.Kafka, logger.Named("kafka"))
		defer kw.Close()
		writer = kw
		logger.Info("kafka producer configured", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	// ============================================
	// USECASES
	// ============================================
	gw := gateway.NewHTTPGateway(cfg.Gateway, logger)

	ledgerUC := usecase.NewLedgerUsecase(store, balanceCache, notifier, cfg.Ledger, logger)
	entityUC := usecase.NewEntityUsecase(store, ledgerUC, cfg.Ledger.DefaultCurrency, logger)
	guard := usecase.NewGuard(store, gw, cfg.Guard, logger)
	verifyUC := usecase.NewVerifyUsecase(guard, entityUC, ledgerUC, logger)
	withdrawalUC := usecase.NewWithdrawalUsecase(store, ledgerUC, cfg.Ledger, logger)

	sweeper := usecase.NewSweeper(store, entityUC, cfg.Workers, logger)
	relay := events.NewRelay(store, writer, cfg.Workers, logger)

	// ============================================
	// HTTP
	// ============================================
	auth := middleware.NewAuthenticator(cfg.Auth, logger)
	routes := router.SetupRoutes(router.Handlers{
		Payment:    handler.NewPaymentHandler(verifyUC, entityUC, logger),
		Entity:     handler.NewEntityHandler(entityUC, logger),
		Wallet:     handler.NewWalletHandler(ledgerUC, hub, logger),
		Withdrawal: handler.NewWithdrawalHandler(withdrawalUC, logger),
		Health:     handler.NewHealthHandler(healthDeps, logger),
	}, auth, router.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		// verification may wait out a concurrent reservation
		RequestTimeout: cfg.Guard.WaitTimeout + cfg.Gateway.Timeout,
	}, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      routes,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	if floor := cfg.Guard.WaitTimeout + cfg.Gateway.Timeout; srv.WriteTimeout < floor {
		srv.WriteTimeout = floor + 5*time.Second
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error { return relay.Run(gctx) })
	g.Go(func() error { return sweeper.Run(gctx) })
	if fanout != nil {
		g.Go(func() error { return fanout.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server forced to shutdown", zap.Error(err))
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("settlement service exited with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsDevelopment() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
