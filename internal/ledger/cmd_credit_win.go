package ledger

import (
	"context"
	"fmt"

	"github.com/attaboy/settlement/internal/domain"
	"github.com/attaboy/settlement/internal/money"
	"github.com/jackc/pgx/v5"
)

// ExecuteCreditWin credits a win and resolves the matching pending bet.
//
// Bet matching: exact round_id first, else the newest pending bet on the same
// game. A win with no pending bet is still credited.
func (e *Engine) ExecuteCreditWin(ctx context.Context, tx pgx.Tx, params domain.CreditWinParams) (*domain.CommandResult, error) {
	amount := money.Round(params.Amount)
	if err := domain.ValidatePositiveAmount(amount); err != nil {
		return nil, err
	}

	// Lock
	wallet, err := e.LockWallet(ctx, tx, params.Wallet, params.Currency)
	if err != nil {
		return nil, fmt.Errorf("credit win: %w", err)
	}

	// Idempotency check
	existing, err := e.FindExisting(ctx, tx, params.Wallet.UserID, params.ExternalReference)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return replay(existing, wallet), nil
	}

	bet, err := e.findMatchingBet(ctx, tx, params.Wallet.UserID, params.GameID, params.RoundID)
	if err != nil {
		return nil, fmt.Errorf("credit win: %w", err)
	}

	delta := domain.BalanceUpdate{Balance: amount, TotalWon: amount}
	sameWallet := bet != nil && bet.WalletCategory == params.Wallet.Category
	if sameWallet {
		delta.LockedBalance = bet.BetAmount.Neg()
	}

	meta := mergeMeta(params.Metadata, roundMeta(params.GameID, params.RoundID, params.SessionID, params.Wallet.Category))

	entry, updated, err := e.PostLedgerEntry(ctx, tx, domain.PostLedgerEntryParams{
		Wallet:            params.Wallet,
		Type:              domain.TxWin,
		Amount:            amount,
		BalanceUpdate:     delta,
		Currency:          currencyOr(params.Currency, wallet.Currency),
		ExternalReference: params.ExternalReference,
		Metadata:          meta,
	})
	if err != nil {
		return nil, fmt.Errorf("credit win post: %w", err)
	}

	result := &domain.CommandResult{
		Transaction: entry,
		Wallet:      updated,
		Events:      []domain.OutboxDraft{domain.NewTransactionPostedEvent(entry)},
	}
	if bet == nil {
		return result, nil
	}

	if !sameWallet {
		if _, err := e.releaseStake(ctx, tx, bet); err != nil {
			return nil, fmt.Errorf("credit win: %w", err)
		}
	}

	winTxID := entry.ID
	resolved, event, err := e.resolveBet(ctx, tx, bet, domain.BetResolution{
		Outcome:          domain.OutcomeWin,
		WinAmount:        amount,
		Multiplier:       money.Ratio(amount, bet.BetAmount, domain.MultiplierPlaces),
		WinTransactionID: &winTxID,
		ResultAt:         e.clock.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("credit win: %w", err)
	}
	result.Bets = []domain.Bet{*resolved}
	result.Events = append(result.Events, event)
	return result, nil
}
