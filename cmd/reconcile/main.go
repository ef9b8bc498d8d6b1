// Command reconcile rebuilds wallet snapshots from the transaction log once
// and prints the result as JSON. By default it only reports; pass -apply to
// overwrite drifted snapshots.
//
//	reconcile -user 42            reconcile every wallet of user 42
//	reconcile -all -apply         repair every wallet
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/attaboy/settlement/internal/cache"
	"github.com/attaboy/settlement/internal/clock"
	"github.com/attaboy/settlement/internal/infra"
	"github.com/attaboy/settlement/internal/reconcile"
	"github.com/attaboy/settlement/internal/repository"
	"github.com/joho/godotenv"
)

// errDrift signals a clean run that found drift, so scripts can alert on it.
var errDrift = errors.New("drift detected")

func main() {
	_ = godotenv.Load()

	var (
		userID = flag.String("user", "", "reconcile the wallets of this user")
		all    = flag.Bool("all", false, "reconcile every wallet")
		apply  = flag.Bool("apply", false, "overwrite drifted snapshots with the recomputed state")
		batch  = flag.Int("batch", 0, "wallets per page for -all (default RECONCILE_BATCH_SIZE)")
	)
	flag.Parse()

	// Logs go to stderr; stdout carries the JSON result.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if (*userID == "") == !*all {
		fmt.Fprintln(os.Stderr, "exactly one of -user or -all is required")
		flag.Usage()
		os.Exit(2)
	}

	err := run(logger, *userID, *apply, *batch)
	switch {
	case errors.Is(err, errDrift):
		os.Exit(3)
	case err != nil:
		logger.Error("reconcile failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, userID string, apply bool, batch int) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if batch <= 0 {
		batch = cfg.ReconcileBatchSize
	}

	pool, err := infra.NewPostgresPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	// Projection refresh only makes sense against the shared cache.
	var store cache.Store
	if apply && cfg.RedisURL != "" {
		client, err := infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer client.Close()
		store = cache.NewRedisStore(client, cfg.RedisPrefix)
	}

	svc := reconcile.New(reconcile.Config{
		Runner:       repository.NewTxRunner(pool),
		Wallets:      repository.NewWalletRepository(),
		Transactions: repository.NewTransactionRepository(),
		Bets:         repository.NewBetRepository(),
		Outbox:       repository.NewOutboxRepository(),
		Cache:        store,
		Clock:        clock.RealClock{},
		Logger:       logger,
		Apply:        apply,
		BatchSize:    batch,
	})

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if userID != "" {
		reports, err := svc.ReconcileUser(ctx, userID)
		if err != nil {
			return err
		}
		if err := enc.Encode(reports); err != nil {
			return fmt.Errorf("encode reports: %w", err)
		}
		for _, rep := range reports {
			if rep.Drift && !rep.Applied {
				return errDrift
			}
		}
		return nil
	}

	sum, err := svc.ReconcileAll(ctx)
	if err != nil {
		return err
	}
	if err := enc.Encode(sum); err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	if sum.Drifted > sum.Applied {
		return errDrift
	}
	return nil
}
