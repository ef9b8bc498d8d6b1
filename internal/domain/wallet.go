package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// MainCategory is the unified wallet shared by every game.
const MainCategory = "main"

// WalletKey addresses one balance snapshot row.
type WalletKey struct {
	UserID   string
	Category string
}

// MainWallet returns the unified wallet key for a user.
func MainWallet(userID string) WalletKey {
	return WalletKey{UserID: userID, Category: MainCategory}
}

// Wallet is the cached balance snapshot. The transaction log is authoritative;
// the snapshot can always be rebuilt from it.
type Wallet struct {
	UserID         string          `json:"user_id"`
	Category       string          `json:"category"`
	Currency       string          `json:"currency"`
	Balance        decimal.Decimal `json:"balance"`
	LockedBalance  decimal.Decimal `json:"locked_balance"`
	BonusBalance   decimal.Decimal `json:"bonus_balance"`
	TotalDeposited decimal.Decimal `json:"total_deposited"`
	TotalWithdrawn decimal.Decimal `json:"total_withdrawn"`
	TotalWagered   decimal.Decimal `json:"total_wagered"`
	TotalWon       decimal.Decimal `json:"total_won"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Key returns the wallet's address.
func (w *Wallet) Key() WalletKey {
	return WalletKey{UserID: w.UserID, Category: w.Category}
}

// BalanceUpdate describes which columns to update and by how much.
// Used by PostLedgerEntry to build the dynamic UPDATE statement.
type BalanceUpdate struct {
	Balance        decimal.Decimal // delta for balance column
	LockedBalance  decimal.Decimal
	BonusBalance   decimal.Decimal
	TotalDeposited decimal.Decimal
	TotalWithdrawn decimal.Decimal
	TotalWagered   decimal.Decimal
	TotalWon       decimal.Decimal
}

// IsZero returns true if no column changes.
func (u BalanceUpdate) IsZero() bool {
	return u.Balance.IsZero() && u.LockedBalance.IsZero() && u.BonusBalance.IsZero() &&
		u.TotalDeposited.IsZero() && u.TotalWithdrawn.IsZero() &&
		u.TotalWagered.IsZero() && u.TotalWon.IsZero()
}

// BalanceChange is the result of one atomic balance update. Before and After
// come from the same statement, never from two separate reads.
type BalanceChange struct {
	Wallet *Wallet
	Before decimal.Decimal
	After  decimal.Decimal
}

// PostLedgerEntryParams is the input to the atomic PostLedgerEntry operation.
type PostLedgerEntryParams struct {
	Wallet            WalletKey
	Type              TransactionType
	Amount            decimal.Decimal
	BalanceUpdate     BalanceUpdate
	Currency          string
	Status            TransactionStatus
	ExternalReference string
	Metadata          json.RawMessage
}

// CommandResult is the return value from every ledger command.
type CommandResult struct {
	Transaction *Transaction
	Wallet      *Wallet
	Bets        []Bet
	Events      []OutboxDraft
	Idempotent  bool // true if this was a duplicate that returned existing state
}

// PlaceBetParams holds the input for ExecutePlaceBet.
type PlaceBetParams struct {
	Wallet            WalletKey
	GameID            string
	Amount            decimal.Decimal
	Currency          string
	ExternalReference string
	RoundID           string
	SessionID         string
	Metadata          json.RawMessage
}

// CreditWinParams holds the input for ExecuteCreditWin.
type CreditWinParams struct {
	Wallet            WalletKey
	GameID            string
	Amount            decimal.Decimal
	Currency          string
	ExternalReference string
	RoundID           string
	SessionID         string
	Metadata          json.RawMessage
}

// SettleLossParams holds the input for ExecuteSettleLoss.
type SettleLossParams struct {
	Wallet            WalletKey
	GameID            string
	RoundID           string
	Currency          string
	ExternalReference string
}

// CancelParams holds the input for ExecuteCancel.
type CancelParams struct {
	ExternalReference string
	// RequestedBy is the caller-supplied user. The stored owner always wins.
	RequestedBy string
	Reason      string
}

// FinishRoundParams holds the input for ExecuteFinishRound.
type FinishRoundParams struct {
	Wallet   WalletKey
	GameID   string
	RoundID  string
	Currency string
}

// CreditParams holds the input for ExecuteCredit (deposit, bonus, cashback, refund).
type CreditParams struct {
	Wallet            WalletKey
	Type              TransactionType
	Amount            decimal.Decimal
	Currency          string
	ExternalReference string
	Metadata          json.RawMessage
}
