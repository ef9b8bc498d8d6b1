package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/attaboy/settlement/internal/domain"
	"github.com/attaboy/settlement/internal/money"
	"github.com/jackc/pgx/v5"
)

// ExecuteCredit posts a plain credit (deposit, bonus, cashback, refund) coming
// from a collaborator outside the provider protocol, such as a payment adapter.
// Pattern: Lock → Idempotency → PostLedgerEntry
func (e *Engine) ExecuteCredit(ctx context.Context, tx pgx.Tx, params domain.CreditParams) (*domain.CommandResult, error) {
	switch params.Type {
	case domain.TxDeposit, domain.TxBonus, domain.TxCashback, domain.TxRefund:
	default:
		return nil, domain.ErrValidation(fmt.Sprintf("%s is not a credit type", params.Type))
	}
	amount := money.Round(params.Amount)
	if err := domain.ValidatePositiveAmount(amount); err != nil {
		return nil, err
	}

	// Lock
	wallet, err := e.LockWallet(ctx, tx, params.Wallet, params.Currency)
	if err != nil {
		return nil, fmt.Errorf("credit: %w", err)
	}

	// Idempotency check
	existing, err := e.FindExisting(ctx, tx, params.Wallet.UserID, params.ExternalReference)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return replay(existing, wallet), nil
	}

	delta := domain.BalanceUpdate{Balance: amount}
	if params.Type == domain.TxDeposit {
		delta.TotalDeposited = amount
	}

	entry, updated, err := e.PostLedgerEntry(ctx, tx, domain.PostLedgerEntryParams{
		Wallet:            params.Wallet,
		Type:              params.Type,
		Amount:            amount,
		BalanceUpdate:     delta,
		Currency:          currencyOr(params.Currency, wallet.Currency),
		ExternalReference: params.ExternalReference,
		Metadata:          ensureJSON(params.Metadata),
	})
	if err != nil {
		return nil, fmt.Errorf("credit post: %w", err)
	}

	return &domain.CommandResult{
		Transaction: entry,
		Wallet:      updated,
		Events:      []domain.OutboxDraft{domain.NewTransactionPostedEvent(entry)},
	}, nil
}

func ensureJSON(data json.RawMessage) json.RawMessage {
	if data == nil {
		return json.RawMessage(`{}`)
	}
	return data
}
