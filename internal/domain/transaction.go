package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType enumerates all wallet transaction types.
type TransactionType string

const (
	TxDeposit    TransactionType = "deposit"
	TxWithdrawal TransactionType = "withdrawal"
	TxBet        TransactionType = "bet"
	TxWin        TransactionType = "win"
	TxBonus      TransactionType = "bonus"
	TxCashback   TransactionType = "cashback"
	TxRefund     TransactionType = "refund"
	TxAdjustment TransactionType = "adjustment"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TxDeposit, TxWithdrawal, TxBet, TxWin, TxBonus, TxCashback, TxRefund, TxAdjustment:
		return true
	}
	return false
}

// IsDebit reports whether the type removes funds from the wallet.
// Adjustments carry their direction in metadata; see Transaction.SignedAmount.
func (t TransactionType) IsDebit() bool {
	return t == TxWithdrawal || t == TxBet
}

// TransactionStatus is the lifecycle state of a ledger entry.
type TransactionStatus string

const (
	StatusCompleted TransactionStatus = "completed"
	StatusCancelled TransactionStatus = "cancelled"
	StatusPending   TransactionStatus = "pending"
	StatusFailed    TransactionStatus = "failed"
)

// Direction of an adjustment entry.
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// CancelReferencePrefix prefixes the external reference of cancellation adjustments.
const CancelReferencePrefix = "cancel_"

// Transaction is an append-only ledger entry. Only Status ever changes after insert.
type Transaction struct {
	ID                int64             `json:"id"`
	UserID            string            `json:"user_id"`
	WalletCategory    string            `json:"wallet_category"`
	Type              TransactionType   `json:"type"`
	Amount            decimal.Decimal   `json:"amount"`
	BalanceBefore     decimal.Decimal   `json:"balance_before"`
	BalanceAfter      decimal.Decimal   `json:"balance_after"`
	Currency          string            `json:"currency"`
	Status            TransactionStatus `json:"status"`
	ExternalReference string            `json:"external_reference"`
	Metadata          json.RawMessage   `json:"metadata"`
	CreatedAt         time.Time         `json:"created_at"`
}

// TxMeta is the typed view of Transaction.Metadata.
type TxMeta struct {
	GameID                string    `json:"game_id,omitempty"`
	RoundID               string    `json:"round_id,omitempty"`
	SessionID             string    `json:"session_id,omitempty"`
	Category              string    `json:"category,omitempty"`
	Direction             Direction `json:"direction,omitempty"`
	OriginalTransactionID int64     `json:"original_transaction_id,omitempty"`
	Reason                string    `json:"reason,omitempty"`
}

// Meta decodes the metadata; malformed metadata yields the zero value.
func (t *Transaction) Meta() TxMeta {
	var m TxMeta
	if len(t.Metadata) > 0 {
		_ = json.Unmarshal(t.Metadata, &m)
	}
	return m
}

// Cancelled reports whether the entry has been reversed.
func (t *Transaction) Cancelled() bool {
	return t.Status == StatusCancelled
}

// SignedAmount returns the balance effect of the entry: negative for debits.
func (t *Transaction) SignedAmount() decimal.Decimal {
	if t.Type == TxAdjustment {
		if t.Meta().Direction == DirectionDebit {
			return t.Amount.Neg()
		}
		return t.Amount
	}
	if t.Type.IsDebit() {
		return t.Amount.Neg()
	}
	return t.Amount
}

// CancellationRecord marks a transaction as reversed. At most one exists per original.
type CancellationRecord struct {
	OriginalTransactionID int64           `json:"original_transaction_id"`
	OriginalType          TransactionType `json:"original_type"`
	OriginalAmount        decimal.Decimal `json:"original_amount"`
	BalanceAdjustment     decimal.Decimal `json:"balance_adjustment"`
	Reason                string          `json:"reason"`
	CancelledBy           string          `json:"cancelled_by"`
	CreatedAt             time.Time       `json:"created_at"`
}
