package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/attaboy/settlement/internal/domain"
	"github.com/attaboy/settlement/internal/money"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// ExecutePlaceBet debits the stake, moves it into locked balance and opens a
// pending Bet for the round.
// Pattern: Lock → Idempotency → balance check → PostLedgerEntry → bet row
func (e *Engine) ExecutePlaceBet(ctx context.Context, tx pgx.Tx, params domain.PlaceBetParams) (*domain.CommandResult, error) {
	amount := money.Round(params.Amount)
	if err := domain.ValidatePositiveAmount(amount); err != nil {
		return nil, err
	}

	// Lock
	wallet, err := e.LockWallet(ctx, tx, params.Wallet, params.Currency)
	if err != nil {
		return nil, fmt.Errorf("place bet: %w", err)
	}

	// Idempotency check
	existing, err := e.FindExisting(ctx, tx, params.Wallet.UserID, params.ExternalReference)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return replay(existing, wallet), nil
	}

	if wallet.Balance.LessThan(amount) {
		return nil, domain.ErrInsufficientBalance()
	}

	meta := mergeMeta(params.Metadata, roundMeta(params.GameID, params.RoundID, params.SessionID, params.Wallet.Category))

	entry, updated, err := e.PostLedgerEntry(ctx, tx, domain.PostLedgerEntryParams{
		Wallet: params.Wallet,
		Type:   domain.TxBet,
		Amount: amount,
		BalanceUpdate: domain.BalanceUpdate{
			Balance:       amount.Neg(),
			LockedBalance: amount,
			TotalWagered:  amount,
		},
		Currency:          currencyOr(params.Currency, wallet.Currency),
		ExternalReference: params.ExternalReference,
		Metadata:          meta,
	})
	if err != nil {
		return nil, fmt.Errorf("place bet post: %w", err)
	}

	bet, err := e.bets.Insert(ctx, tx, &domain.Bet{
		UserID:         params.Wallet.UserID,
		GameID:         params.GameID,
		WalletCategory: params.Wallet.Category,
		TransactionID:  entry.ID,
		BetAmount:      amount,
		WinAmount:      decimal.Zero,
		Multiplier:     decimal.Zero,
		Outcome:        domain.OutcomePending,
		RoundID:        params.RoundID,
		SessionID:      params.SessionID,
		PlacedAt:       e.clock.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("place bet insert bet: %w", err)
	}

	return &domain.CommandResult{
		Transaction: entry,
		Wallet:      updated,
		Bets:        []domain.Bet{*bet},
		Events:      []domain.OutboxDraft{domain.NewTransactionPostedEvent(entry)},
	}, nil
}

func mergeMeta(base json.RawMessage, extra map[string]interface{}) json.RawMessage {
	merged := make(map[string]interface{})
	if len(base) > 0 {
		_ = json.Unmarshal(base, &merged)
	}
	for k, v := range extra {
		merged[k] = v
	}
	out, _ := json.Marshal(merged)
	return out
}

// roundMeta keeps only the keys that carry a value.
func roundMeta(gameID, roundID, sessionID, category string) map[string]interface{} {
	m := make(map[string]interface{}, 4)
	for k, v := range map[string]string{
		"game_id":    gameID,
		"round_id":   roundID,
		"session_id": sessionID,
		"category":   category,
	} {
		if v != "" {
			m[k] = v
		}
	}
	return m
}

func currencyOr(currency, fallback string) string {
	if currency != "" {
		return currency
	}
	return fallback
}
