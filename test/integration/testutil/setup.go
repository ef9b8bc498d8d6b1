//go:build integration

package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
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
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	TestJWTSecret      = "integration-test-secret-0123456789abcdef"
	TestProviderSecret = "integration-provider-secret"
	TestDBHost         = "localhost"
	TestDBPort         = 5435
	TestDBUser         = "settlement"
	TestDBPass         = "settlement"
	TestDBName         = "settlement_test"
)

// Repos bundles the pgx repositories the tests drive directly.
type Repos struct {
	Users         repository.UserRepository
	Games         repository.GameRepository
	Wallets       repository.WalletRepository
	Transactions  repository.TransactionRepository
	Bets          repository.BetRepository
	Cancellations repository.CancellationRepository
	Rounds        repository.RoundRepository
	Outbox        repository.OutboxRepository
}

// TestEnv holds all resources for an integration test: the callback server,
// the admin server and the Postgres pool both are backed by.
type TestEnv struct {
	Server     *httptest.Server
	Admin      *httptest.Server
	Pool       *pgxpool.Pool
	Runner     repository.TxRunner
	Repos      Repos
	Engine     *ledger.Engine
	Signer     *integrity.Signer
	Sessions   *cache.SessionStore
	Cache      *cache.InMemoryStore
	Reconciler *reconcile.Service
	JWTMgr     *auth.JWTManager
	t          *testing.T
}

var (
	sharedPool *pgxpool.Pool
	poolOnce   sync.Once
	poolErr    error
)

func testDSN() string {
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		return dsn
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		TestDBUser, TestDBPass, TestDBHost, TestDBPort, TestDBName)
}

func bootstrapDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		TestDBUser, TestDBPass, TestDBHost, TestDBPort, "settlement")
}

func ensureTestDB() error {
	if os.Getenv("TEST_DATABASE_URL") != "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bPool, err := pgxpool.New(ctx, bootstrapDSN())
	if err != nil {
		return fmt.Errorf("connect bootstrap db: %w", err)
	}
	defer bPool.Close()

	var exists bool
	err = bPool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", TestDBName).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check db exists: %w", err)
	}

	if !exists {
		if _, err = bPool.Exec(ctx, fmt.Sprintf("CREATE DATABASE %s", TestDBName)); err != nil {
			return fmt.Errorf("create test db: %w", err)
		}
	}
	return nil
}

// findProjectRoot walks up from the working directory to the go.mod.
func findProjectRoot() string {
	dir, _ := os.Getwd()
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "."
		}
		dir = parent
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func getSharedPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	poolOnce.Do(func() {
		if err := ensureTestDB(); err != nil {
			poolErr = err
			return
		}

		dir := filepath.Join(findProjectRoot(), "db", "migrations")
		if err := infra.RunMigrations(testDSN(), dir, quietLogger()); err != nil {
			poolErr = fmt.Errorf("run migrations: %w", err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		poolCfg, err := pgxpool.ParseConfig(testDSN())
		if err != nil {
			poolErr = fmt.Errorf("parse pool config: %w", err)
			return
		}
		poolCfg.MaxConns = 20
		poolCfg.MinConns = 1

		sharedPool, err = pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			poolErr = fmt.Errorf("create pool: %w", err)
		}
	})

	if poolErr != nil {
		t.Fatalf("failed to initialize test pool: %v", poolErr)
	}
	return sharedPool
}

// NewTestEnv wires the callback and admin routers against the test database
// the same way cmd/settlement-server does, with an in-process cache.
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	pool := getSharedPool(t)
	logger := quietLogger()
	clk := clock.RealClock{}

	repos := Repos{
		Users:         repository.NewUserRepository(),
		Games:         repository.NewGameRepository(),
		Wallets:       repository.NewWalletRepository(),
		Transactions:  repository.NewTransactionRepository(),
		Bets:          repository.NewBetRepository(),
		Cancellations: repository.NewCancellationRepository(),
		Rounds:        repository.NewRoundRepository(),
		Outbox:        repository.NewOutboxRepository(),
	}
	runner := repository.NewTxRunner(pool)
	engine := ledger.NewEngine(repos.Wallets, repos.Transactions, repos.Bets, repos.Cancellations, repos.Rounds, repos.Outbox, clk)

	signer, err := integrity.NewSigner(TestProviderSecret, integrity.SHA256)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	kv := cache.NewInMemoryStore()
	sessions := cache.NewSessionStore(kv, time.Hour, clk)
	metrics := infra.NewMetrics(prometheus.NewRegistry())
	health := func(ctx context.Context) error { return infra.HealthCheck(ctx, pool) }

	callback := walletserver.New(walletserver.Deps{
		Runner:          runner,
		Engine:          engine,
		Users:           repos.Users,
		Games:           repos.Games,
		Wallets:         repos.Wallets,
		Transactions:    repos.Transactions,
		Sessions:        sessions,
		Cache:           kv,
		Breaker:         guard.NewCircuitBreaker(5, 30*time.Second, clk),
		Signer:          signer,
		Clock:           clk,
		Metrics:         metrics,
		Logger:          logger,
		UnifiedWallet:   true,
		DefaultCategory: "slots",
		Health:          health,
	})

	reconciler := reconcile.New(reconcile.Config{
		Runner:       runner,
		Wallets:      repos.Wallets,
		Transactions: repos.Transactions,
		Bets:         repos.Bets,
		Outbox:       repos.Outbox,
		Cache:        kv,
		Clock:        clk,
		Metrics:      metrics,
		Logger:       logger,
		Apply:        true,
	})

	jwtMgr := auth.NewJWTManager(TestJWTSecret, time.Hour, time.Hour)
	admin := handler.NewAdminRouter(handler.AdminRouterConfig{
		Handler:     handler.NewAdminHandler(runner, repos.Wallets, repos.Transactions, reconciler, sessions, logger),
		JWT:         jwtMgr,
		Logger:      logger,
		HealthCheck: health,
	})

	env := &TestEnv{
		Server:     httptest.NewServer(callback.NewRouter()),
		Admin:      httptest.NewServer(admin),
		Pool:       pool,
		Runner:     runner,
		Repos:      repos,
		Engine:     engine,
		Signer:     signer,
		Sessions:   sessions,
		Cache:      kv,
		Reconciler: reconciler,
		JWTMgr:     jwtMgr,
		t:          t,
	}

	t.Cleanup(func() {
		env.Server.Close()
		env.Admin.Close()
		env.CleanAll()
	})

	// Clean before test to ensure isolation
	env.CleanAll()

	return env
}
