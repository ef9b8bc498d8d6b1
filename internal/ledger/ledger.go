package ledger

import (
	"context"
	"fmt"

	"github.com/attaboy/settlement/internal/clock"
	"github.com/attaboy/settlement/internal/domain"
	"github.com/attaboy/settlement/internal/repository"
	"github.com/jackc/pgx/v5"
)

// Engine provides the 3 foundational ledger operations:
//  1. LockWallet: row-level pessimistic lock on the balance snapshot
//  2. FindExisting: idempotency check
//  3. PostLedgerEntry: atomic balance update + append-only insert + outbox event
//
// Every Execute* command is built from these and runs inside the caller's tx.
type Engine struct {
	wallets       repository.WalletRepository
	transactions  repository.TransactionRepository
	bets          repository.BetRepository
	cancellations repository.CancellationRepository
	rounds        repository.RoundRepository
	outbox        repository.OutboxRepository
	clock         clock.Clock
}

// NewEngine creates a ledger engine with the given repositories.
func NewEngine(
	wallets repository.WalletRepository,
	transactions repository.TransactionRepository,
	bets repository.BetRepository,
	cancellations repository.CancellationRepository,
	rounds repository.RoundRepository,
	outbox repository.OutboxRepository,
	clk clock.Clock,
) *Engine {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Engine{
		wallets:       wallets,
		transactions:  transactions,
		bets:          bets,
		cancellations: cancellations,
		rounds:        rounds,
		outbox:        outbox,
		clock:         clk,
	}
}

// LockWallet materializes the wallet at zero if needed, then acquires its row lock.
// Must be called within a transaction.
func (e *Engine) LockWallet(ctx context.Context, tx pgx.Tx, key domain.WalletKey, currency string) (*domain.Wallet, error) {
	if err := e.wallets.Ensure(ctx, tx, key, currency); err != nil {
		return nil, fmt.Errorf("lock wallet: %w", err)
	}
	wallet, err := e.wallets.LockForUpdate(ctx, tx, key)
	if err != nil {
		return nil, fmt.Errorf("lock wallet: %w", err)
	}
	if wallet == nil {
		return nil, domain.ErrNotFound("wallet", key.UserID+"/"+key.Category)
	}
	return wallet, nil
}

// PostLedgerEntry atomically updates wallet balances and appends a ledger entry.
// This is the core write primitive; every balance-moving command delegates to it.
//
// Steps:
//  1. Update wallet balances using server-side arithmetic; before/after come back from the same statement
//  2. Insert the transaction carrying that before/after pair
//  3. Insert outbox event
//
// All 3 steps run within the caller's transaction.
func (e *Engine) PostLedgerEntry(ctx context.Context, tx pgx.Tx, params domain.PostLedgerEntryParams) (*domain.Transaction, *domain.Wallet, error) {
	change, err := e.wallets.UpdateBalances(ctx, tx, params.Wallet, params.BalanceUpdate)
	if err != nil {
		return nil, nil, fmt.Errorf("update balances: %w", err)
	}

	entry, err := e.transactions.Insert(ctx, tx, &domain.Transaction{
		UserID:            params.Wallet.UserID,
		WalletCategory:    params.Wallet.Category,
		Type:              params.Type,
		Amount:            params.Amount,
		BalanceBefore:     change.Before,
		BalanceAfter:      change.After,
		Currency:          params.Currency,
		Status:            params.Status,
		ExternalReference: params.ExternalReference,
		Metadata:          ensureJSON(params.Metadata),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("insert transaction: %w", err)
	}

	event := domain.NewTransactionPostedEvent(entry)
	if err := e.outbox.Insert(ctx, tx, event); err != nil {
		return nil, nil, fmt.Errorf("insert outbox event: %w", err)
	}

	return entry, change.Wallet, nil
}

// resolveBet applies an outcome to a pending bet and queues its event.
func (e *Engine) resolveBet(ctx context.Context, tx pgx.Tx, bet *domain.Bet, res domain.BetResolution) (*domain.Bet, domain.OutboxDraft, error) {
	resolved, err := e.bets.Resolve(ctx, tx, bet.ID, res)
	if err != nil {
		return nil, domain.OutboxDraft{}, fmt.Errorf("resolve bet %d: %w", bet.ID, err)
	}
	event := domain.NewBetResolvedEvent(resolved)
	if err := e.outbox.Insert(ctx, tx, event); err != nil {
		return nil, domain.OutboxDraft{}, fmt.Errorf("insert outbox event: %w", err)
	}
	return resolved, event, nil
}

// releaseStake removes a resolved bet's stake from its wallet's locked balance.
func (e *Engine) releaseStake(ctx context.Context, tx pgx.Tx, bet *domain.Bet) (*domain.Wallet, error) {
	key := domain.WalletKey{UserID: bet.UserID, Category: bet.WalletCategory}
	change, err := e.wallets.UpdateBalances(ctx, tx, key, domain.BalanceUpdate{LockedBalance: bet.BetAmount.Neg()})
	if err != nil {
		return nil, fmt.Errorf("release stake: %w", err)
	}
	return change.Wallet, nil
}

// findMatchingBet prefers an exact round match and falls back to the newest
// pending bet on the same game. A named round that already holds only settled
// bets matches nothing: its settlement must not land on another round.
func (e *Engine) findMatchingBet(ctx context.Context, tx pgx.Tx, userID, gameID, roundID string) (*domain.Bet, error) {
	if roundID != "" {
		key := domain.RoundKey{UserID: userID, GameID: gameID, RoundID: roundID}
		bet, err := e.bets.FindPendingByRound(ctx, tx, key)
		if err != nil {
			return nil, fmt.Errorf("find pending bet: %w", err)
		}
		if bet != nil {
			return bet, nil
		}
		known, err := e.bets.RoundExists(ctx, tx, key)
		if err != nil {
			return nil, fmt.Errorf("find pending bet: %w", err)
		}
		if known {
			return nil, nil
		}
	}
	if gameID == "" {
		return nil, nil
	}
	bet, err := e.bets.FindLatestPendingByGame(ctx, tx, userID, gameID)
	if err != nil {
		return nil, fmt.Errorf("find pending bet: %w", err)
	}
	return bet, nil
}
