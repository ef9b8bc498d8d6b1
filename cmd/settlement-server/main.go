package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/attaboy/settlement/internal/auth"
	"github.com/attaboy/settlement/internal/cache"
	"github.com/attaboy/settlement/internal/clock"
	"github.com/attaboy/settlement/internal/guard"
	"github.com/attaboy/settlement/internal/handler"
	"github.com/attaboy/settlement/internal/infra"
	"github.com/attaboy/settlement/internal/integrity"
	"github.com/attaboy/settlement/internal/ledger"
	"github.com/attaboy/settlement/internal/reconcile"
	"github.com/attaboy/settlement/internal/repository"
	"github.com/attaboy/settlement/internal/walletserver"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(os.Getenv("LOG_LEVEL"))}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("settlement server failed", "error", err)
		os.Exit(1)
	}
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	if cfg.MigrateOnStart {
		if err := infra.RunMigrations(cfg.DSN(), cfg.MigrationsDir, logger); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	pool, err := infra.NewPostgresPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	logger.Info("connected to postgres")

	// Cache: Redis when configured, process memory otherwise.
	var (
		store       cache.Store
		redisClient *redis.Client
	)
	if cfg.RedisURL != "" {
		redisClient, err = infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisClient.Close()
		store = cache.NewRedisStore(redisClient, cfg.RedisPrefix)
		logger.Info("connected to redis")
	} else {
		store = cache.NewInMemoryStore()
		logger.Warn("REDIS_URL not set; sessions and projections are process-local")
	}

	clk := clock.RealClock{}
	metrics := infra.NewMetrics(prometheus.DefaultRegisterer)

	// Repositories & ledger
	runner := repository.NewTxRunner(pool)
	users := repository.NewUserRepository()
	games := repository.NewGameRepository()
	wallets := repository.NewWalletRepository()
	transactions := repository.NewTransactionRepository()
	bets := repository.NewBetRepository()
	outbox := repository.NewOutboxRepository()
	engine := ledger.NewEngine(
		wallets,
		transactions,
		bets,
		repository.NewCancellationRepository(),
		repository.NewRoundRepository(),
		outbox,
		clk,
	)

	signer, err := integrity.NewSigner(cfg.ProviderSecret, cfg.HashAlgorithm)
	if err != nil {
		return fmt.Errorf("signer: %w", err)
	}
	burstMode, err := guard.ParseBurstMode(cfg.DuplicateBurstMode)
	if err != nil {
		return fmt.Errorf("burst mode: %w", err)
	}
	sessions := cache.NewSessionStore(store, cfg.SessionTTL, clk)

	health := func(ctx context.Context) error {
		if err := infra.HealthCheck(ctx, pool); err != nil {
			return err
		}
		if redisClient != nil {
			return infra.RedisHealthCheck(ctx, redisClient)
		}
		return nil
	}

	srv := walletserver.New(walletserver.Deps{
		Runner:          runner,
		Engine:          engine,
		Users:           users,
		Games:           games,
		Wallets:         wallets,
		Transactions:    transactions,
		Sessions:        sessions,
		Cache:           store,
		Breaker:         guard.NewCircuitBreaker(cfg.CacheFailThreshold, cfg.CacheResetTimeout, clk),
		Burst:           guard.NewBurstDetector(burstMode, cfg.DuplicateBurstWindow, store, logger),
		Signer:          signer,
		Clock:           clk,
		Metrics:         metrics,
		Logger:          logger,
		UnifiedWallet:   cfg.UnifiedWallet,
		DefaultCategory: cfg.DefaultGameCategory,
		Health:          health,
	})

	reconciler := reconcile.New(reconcile.Config{
		Runner:       runner,
		Wallets:      wallets,
		Transactions: transactions,
		Bets:         bets,
		Outbox:       outbox,
		Cache:        store,
		Clock:        clk,
		Metrics:      metrics,
		Logger:       logger,
		Apply:        cfg.ReconcileApply,
		BatchSize:    cfg.ReconcileBatchSize,
	})
	reconciler.Start(ctx, cfg.ReconcileInterval)

	jwtMgr := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTAdminExpiry, cfg.JWTServiceExpiry)
	adminRouter := handler.NewAdminRouter(handler.AdminRouterConfig{
		Handler:     handler.NewAdminHandler(runner, wallets, transactions, reconciler, sessions, logger),
		JWT:         jwtMgr,
		Logger:      logger,
		CORSOrigin:  cfg.CORSAllowedOrigins,
		Metrics:     promhttp.Handler(),
		HealthCheck: health,
	})

	servers := []*http.Server{
		newServer(cfg.SettlementPort, srv.NewRouter()),
		newServer(cfg.AdminPort, adminRouter),
	}

	errCh := make(chan error, len(servers))
	for _, s := range servers {
		go func(s *http.Server) {
			logger.Info("listener starting", "addr", s.Addr)
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("listen %s: %w", s.Addr, err)
			}
		}(s)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var shutdownErr error
	for _, s := range servers {
		if err := s.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown %s: %w", s.Addr, err))
		}
	}
	if shutdownErr != nil {
		return shutdownErr
	}

	logger.Info("settlement server stopped gracefully")
	return nil
}

func newServer(port int, h http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      h,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
}
