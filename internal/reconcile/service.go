// Package reconcile rebuilds wallet snapshots from the transaction log and
// reports, or repairs, any drift between the two.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/attaboy/settlement/internal/cache"
	"github.com/attaboy/settlement/internal/clock"
	"github.com/attaboy/settlement/internal/domain"
	"github.com/attaboy/settlement/internal/infra"
	"github.com/attaboy/settlement/internal/ledger"
	"github.com/attaboy/settlement/internal/money"
	"github.com/attaboy/settlement/internal/repository"
	"github.com/jackc/pgx/v5"
)

const defaultBatchSize = 200

// Report is the outcome of reconciling one wallet.
type Report struct {
	UserID           string                  `json:"user_id"`
	Category         string                  `json:"category"`
	TransactionCount int                     `json:"transaction_count"`
	Stored           WalletTotals            `json:"stored"`
	Recomputed       WalletTotals            `json:"recomputed"`
	Drift            bool                    `json:"drift"`
	Applied          bool                    `json:"applied"`
	Violations       []ledger.InvariantCheck `json:"violations,omitempty"`
}

// WalletTotals is the set of columns the log owns.
type WalletTotals struct {
	Balance        string `json:"balance"`
	LockedBalance  string `json:"locked_balance"`
	TotalDeposited string `json:"total_deposited"`
	TotalWithdrawn string `json:"total_withdrawn"`
	TotalWagered   string `json:"total_wagered"`
	TotalWon       string `json:"total_won"`
}

func totalsOf(w domain.Wallet) WalletTotals {
	return WalletTotals{
		Balance:        money.Format(w.Balance),
		LockedBalance:  money.Format(w.LockedBalance),
		TotalDeposited: money.Format(w.TotalDeposited),
		TotalWithdrawn: money.Format(w.TotalWithdrawn),
		TotalWagered:   money.Format(w.TotalWagered),
		TotalWon:       money.Format(w.TotalWon),
	}
}

// Summary aggregates a full pass.
type Summary struct {
	Wallets int `json:"wallets"`
	Drifted int `json:"drifted"`
	Applied int `json:"applied"`
	Failed  int `json:"failed"`
}

// Config wires the service.
type Config struct {
	Runner       repository.TxRunner
	Wallets      repository.WalletRepository
	Transactions repository.TransactionRepository
	Bets         repository.BetRepository
	Outbox       repository.OutboxRepository
	Cache        cache.Store
	Clock        clock.Clock
	Metrics      *infra.Metrics
	Logger       *slog.Logger

	// Apply overwrites drifted snapshots with the recomputed state.
	Apply     bool
	BatchSize int
}

// Service reconciles wallet snapshots against the log.
type Service struct {
	runner       repository.TxRunner
	wallets      repository.WalletRepository
	transactions repository.TransactionRepository
	bets         repository.BetRepository
	outbox       repository.OutboxRepository
	cache        cache.Store
	clock        clock.Clock
	metrics      *infra.Metrics
	logger       *slog.Logger
	apply        bool
	batchSize    int
}

// New creates a reconciliation service.
func New(cfg Config) *Service {
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	// A short page ends ReconcileAll, so never ask for more than ListKeys returns.
	if cfg.BatchSize > repository.MaxKeyPage {
		cfg.BatchSize = repository.MaxKeyPage
	}
	return &Service{
		runner:       cfg.Runner,
		wallets:      cfg.Wallets,
		transactions: cfg.Transactions,
		bets:         cfg.Bets,
		outbox:       cfg.Outbox,
		cache:        cfg.Cache,
		clock:        cfg.Clock,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		apply:        cfg.Apply,
		batchSize:    cfg.BatchSize,
	}
}

// ReconcileUser reconciles every wallet of a user, one unit of work each.
func (s *Service) ReconcileUser(ctx context.Context, userID string) ([]Report, error) {
	var keys []domain.WalletKey
	err := s.runner.InTx(ctx, func(tx pgx.Tx) error {
		wallets, err := s.wallets.ListByUser(ctx, tx, userID)
		if err != nil {
			return fmt.Errorf("list wallets: %w", err)
		}
		for i := range wallets {
			keys = append(keys, wallets[i].Key())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, domain.ErrNotFound("wallets for user", userID)
	}

	reports := make([]Report, 0, len(keys))
	for _, key := range keys {
		rep, err := s.ReconcileWallet(ctx, key)
		if err != nil {
			return reports, err
		}
		reports = append(reports, *rep)
	}
	return reports, nil
}

// ReconcileWallet replays one wallet's log and compares it with the snapshot.
// With Apply on, the snapshot is read under its row lock so the overwrite
// cannot lose a concurrent posting.
func (s *Service) ReconcileWallet(ctx context.Context, key domain.WalletKey) (*Report, error) {
	var (
		rep      *Report
		repaired *domain.Wallet
	)
	err := s.runner.InTx(ctx, func(tx pgx.Tx) error {
		stored, err := s.snapshot(ctx, tx, key)
		if err != nil {
			return err
		}
		entries, err := s.transactions.ListByWallet(ctx, tx, key)
		if err != nil {
			return fmt.Errorf("list transactions: %w", err)
		}
		pending, err := s.bets.ListPendingByWallet(ctx, tx, key)
		if err != nil {
			return fmt.Errorf("list pending bets: %w", err)
		}

		result := ledger.Replay(key, entries, pending)
		rep = &Report{
			UserID:           key.UserID,
			Category:         key.Category,
			TransactionCount: result.TransactionCount,
			Stored:           totalsOf(*stored),
			Recomputed:       totalsOf(result.Apply(*stored)),
			Drift:            result.Drift(*stored),
			Violations:       result.Invariants,
		}
		if !rep.Drift || !s.apply {
			return nil
		}
		if result.Balance.IsNegative() {
			s.logger.Error("reconcile refused negative balance",
				"user_id", key.UserID,
				"category", key.Category,
				"recomputed", money.Format(result.Balance),
			)
			return nil
		}

		fixed := result.Apply(*stored)
		fixed.UpdatedAt = s.clock.Now()
		if err := s.wallets.Overwrite(ctx, tx, &fixed); err != nil {
			return fmt.Errorf("overwrite wallet: %w", err)
		}
		if err := s.outbox.Insert(ctx, tx, domain.NewWalletReconciledEvent(stored, &fixed, fixed.UpdatedAt)); err != nil {
			return fmt.Errorf("insert outbox event: %w", err)
		}
		rep.Applied = true
		repaired = &fixed
		return nil
	})
	s.metrics.ObserveReconcile(rep != nil && rep.Drift, err)
	if err != nil {
		return nil, err
	}

	if rep.Drift {
		s.logger.Warn("wallet drift",
			"user_id", key.UserID,
			"category", key.Category,
			"stored_balance", rep.Stored.Balance,
			"recomputed_balance", rep.Recomputed.Balance,
			"applied", rep.Applied,
		)
	}
	if repaired != nil && s.cache != nil {
		if err := cache.UpdateBalance(ctx, s.cache, repaired); err != nil {
			s.metrics.ObserveCacheWriteFailure()
			s.logger.Warn("balance projection refresh failed", "user_id", key.UserID, "error", err)
		}
	}
	return rep, nil
}

func (s *Service) snapshot(ctx context.Context, tx pgx.Tx, key domain.WalletKey) (*domain.Wallet, error) {
	var (
		w   *domain.Wallet
		err error
	)
	if s.apply {
		w, err = s.wallets.LockForUpdate(ctx, tx, key)
	} else {
		w, err = s.wallets.FindByKey(ctx, tx, key)
	}
	if err != nil {
		return nil, fmt.Errorf("load wallet: %w", err)
	}
	if w == nil {
		return nil, domain.ErrNotFound("wallet", key.UserID+"/"+key.Category)
	}
	return w, nil
}

// ReconcileAll pages through every wallet. A failing wallet is logged and
// counted; the pass continues.
func (s *Service) ReconcileAll(ctx context.Context) (*Summary, error) {
	sum := &Summary{}
	var after *domain.WalletKey
	for {
		var keys []domain.WalletKey
		err := s.runner.InTx(ctx, func(tx pgx.Tx) error {
			var err error
			keys, err = s.wallets.ListKeys(ctx, tx, after, s.batchSize)
			return err
		})
		if err != nil {
			return sum, fmt.Errorf("list wallet keys: %w", err)
		}

		for _, key := range keys {
			if err := ctx.Err(); err != nil {
				return sum, err
			}
			sum.Wallets++
			rep, err := s.ReconcileWallet(ctx, key)
			if err != nil {
				sum.Failed++
				s.logger.Error("reconcile wallet failed", "user_id", key.UserID, "category", key.Category, "error", err)
				continue
			}
			if rep.Drift {
				sum.Drifted++
			}
			if rep.Applied {
				sum.Applied++
			}
		}

		if len(keys) < s.batchSize {
			break
		}
		last := keys[len(keys)-1]
		after = &last
	}

	s.metrics.ObserveReconcilePass(s.clock.Now())
	return sum, nil
}

// Start runs ReconcileAll every interval until ctx is cancelled. A
// non-positive interval disables the loop.
func (s *Service) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		s.logger.Info("reconciler disabled")
		return
	}
	s.logger.Info("reconciler started", "interval", interval, "apply", s.apply, "batch_size", s.batchSize)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("reconciler stopped")
				return
			case <-ticker.C:
				sum, err := s.ReconcileAll(ctx)
				if err != nil && !errors.Is(err, context.Canceled) {
					s.logger.Error("reconcile pass failed", "error", err)
					continue
				}
				if sum != nil {
					s.logger.Info("reconcile pass complete",
						"wallets", sum.Wallets,
						"drifted", sum.Drifted,
						"applied", sum.Applied,
						"failed", sum.Failed,
					)
				}
			}
		}
	}()
}
