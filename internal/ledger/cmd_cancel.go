package ledger

import (
	"context"
	"fmt"

	"github.com/attaboy/settlement/internal/domain"
	"github.com/jackc/pgx/v5"
)

// ExecuteCancel reverses a previous transaction identified by its external
// reference. The stored owner of the transaction is authoritative; the
// caller-supplied user only breaks ties when several users share a reference.
//
// Reversal is flat: a BET refunds its stake and a WIN deducts its amount, with
// no netting against the paired entry of the same round.
func (e *Engine) ExecuteCancel(ctx context.Context, tx pgx.Tx, params domain.CancelParams) (*domain.CommandResult, error) {
	target, err := e.findCancelTarget(ctx, tx, params)
	if err != nil {
		return nil, err
	}
	key := domain.WalletKey{UserID: target.UserID, Category: target.WalletCategory}

	// Lock the owner's wallet, then re-read the target under the lock.
	wallet, err := e.LockWallet(ctx, tx, key, target.Currency)
	if err != nil {
		return nil, fmt.Errorf("cancel: %w", err)
	}
	target, err = e.transactions.FindByID(ctx, tx, target.ID)
	if err != nil {
		return nil, fmt.Errorf("cancel reload target: %w", err)
	}
	if target == nil {
		return nil, domain.ErrTransactionNotFound(params.ExternalReference)
	}

	// Idempotency: either marker is enough to short-circuit.
	record, err := e.cancellations.FindByOriginal(ctx, tx, target.ID)
	if err != nil {
		return nil, fmt.Errorf("cancel find record: %w", err)
	}
	if target.Cancelled() || record != nil {
		return replay(target, wallet), nil
	}

	if target.Type == domain.TxAdjustment {
		return nil, domain.ErrValidation(fmt.Sprintf("transaction %s is an adjustment and cannot be cancelled", params.ExternalReference))
	}

	reversal := target.SignedAmount().Neg()
	delta := domain.BalanceUpdate{Balance: reversal}
	switch target.Type {
	case domain.TxBet:
		delta.TotalWagered = target.Amount.Neg()
	case domain.TxWin:
		delta.TotalWon = target.Amount.Neg()
	case domain.TxDeposit:
		delta.TotalDeposited = target.Amount.Neg()
	case domain.TxWithdrawal:
		delta.TotalWithdrawn = target.Amount.Neg()
	}

	var bet *domain.Bet
	if target.Type == domain.TxBet {
		bet, err = e.bets.FindByTransactionID(ctx, tx, target.ID)
		if err != nil {
			return nil, fmt.Errorf("cancel find bet: %w", err)
		}
		if bet != nil && bet.Pending() {
			delta.LockedBalance = bet.BetAmount.Neg()
		}
	}

	direction := domain.DirectionCredit
	if reversal.IsNegative() {
		direction = domain.DirectionDebit
	}
	meta := mergeMeta(target.Metadata, map[string]interface{}{
		"direction":               direction,
		"original_transaction_id": target.ID,
		"reason":                  cancelReason(params.Reason),
	})

	entry, updated, err := e.PostLedgerEntry(ctx, tx, domain.PostLedgerEntryParams{
		Wallet:            key,
		Type:              domain.TxAdjustment,
		Amount:            target.Amount,
		BalanceUpdate:     delta,
		Currency:          target.Currency,
		ExternalReference: CancelReference(target.ExternalReference),
		Metadata:          meta,
	})
	if err != nil {
		return nil, fmt.Errorf("cancel post: %w", err)
	}

	if err := e.transactions.MarkCancelled(ctx, tx, target.ID); err != nil {
		return nil, fmt.Errorf("cancel mark original: %w", err)
	}

	result := &domain.CommandResult{
		Transaction: entry,
		Wallet:      updated,
		Events:      []domain.OutboxDraft{domain.NewTransactionPostedEvent(entry)},
	}

	if bet != nil && bet.Outcome != domain.OutcomeCancelled {
		resolved, event, err := e.resolveBet(ctx, tx, bet, domain.BetResolution{
			Outcome:          domain.OutcomeCancelled,
			WinAmount:        bet.WinAmount,
			Multiplier:       bet.Multiplier,
			WinTransactionID: bet.WinTransactionID,
			ResultAt:         e.clock.Now(),
		})
		if err != nil {
			return nil, fmt.Errorf("cancel: %w", err)
		}
		result.Bets = []domain.Bet{*resolved}
		result.Events = append(result.Events, event)
	}

	cancelledBy := params.RequestedBy
	if cancelledBy == "" {
		cancelledBy = target.UserID
	}
	if err := e.cancellations.Insert(ctx, tx, &domain.CancellationRecord{
		OriginalTransactionID: target.ID,
		OriginalType:          target.Type,
		OriginalAmount:        target.Amount,
		BalanceAdjustment:     reversal,
		Reason:                cancelReason(params.Reason),
		CancelledBy:           cancelledBy,
		CreatedAt:             e.clock.Now(),
	}); err != nil {
		return nil, fmt.Errorf("cancel insert record: %w", err)
	}

	return result, nil
}

// findCancelTarget resolves the transaction to reverse from its reference.
func (e *Engine) findCancelTarget(ctx context.Context, tx pgx.Tx, params domain.CancelParams) (*domain.Transaction, error) {
	candidates, err := e.transactions.ListByReference(ctx, tx, params.ExternalReference)
	if err != nil {
		return nil, fmt.Errorf("cancel find target: %w", err)
	}
	if len(candidates) == 0 {
		return nil, domain.ErrTransactionNotFound(params.ExternalReference)
	}
	for i := range candidates {
		if candidates[i].UserID == params.RequestedBy {
			return &candidates[i], nil
		}
	}
	return &candidates[0], nil
}

func cancelReason(reason string) string {
	if reason == "" {
		return "provider cancel"
	}
	return reason
}
