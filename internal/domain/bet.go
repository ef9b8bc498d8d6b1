package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BetOutcome is the resolution state of a Bet.
type BetOutcome string

const (
	OutcomePending   BetOutcome = "pending"
	OutcomeWin       BetOutcome = "win"
	OutcomeLose      BetOutcome = "lose"
	OutcomeCancelled BetOutcome = "cancelled"
)

// MultiplierPlaces is the precision of Bet.Multiplier.
const MultiplierPlaces = 4

// Bet is one play event, tied 1:1 to a bet-type Transaction.
type Bet struct {
	ID               int64           `json:"id"`
	UserID           string          `json:"user_id"`
	GameID           string          `json:"game_id"`
	WalletCategory   string          `json:"wallet_category"`
	TransactionID    int64           `json:"transaction_id"`
	WinTransactionID *int64          `json:"win_transaction_id,omitempty"`
	BetAmount        decimal.Decimal `json:"bet_amount"`
	WinAmount        decimal.Decimal `json:"win_amount"`
	Multiplier       decimal.Decimal `json:"multiplier"`
	Outcome          BetOutcome      `json:"outcome"`
	RoundID          string          `json:"round_id,omitempty"`
	SessionID        string          `json:"session_id,omitempty"`
	SettledReference string          `json:"settled_reference,omitempty"`
	PlacedAt         time.Time       `json:"placed_at"`
	ResultAt         *time.Time      `json:"result_at,omitempty"`
}

// Pending reports whether the bet still awaits a WIN/LOSS/finishround.
func (b *Bet) Pending() bool {
	return b.Outcome == OutcomePending
}

// BetResolution is the update applied when a pending bet is settled.
type BetResolution struct {
	Outcome          BetOutcome
	WinAmount        decimal.Decimal
	Multiplier       decimal.Decimal
	WinTransactionID *int64
	// SettledReference records the provider reference of a settlement that
	// writes no transaction (LOSS). Empty leaves the stored value alone.
	SettledReference string
	ResultAt         time.Time
}

// RoundKey identifies a provider round for one player.
type RoundKey struct {
	UserID  string
	GameID  string
	RoundID string
}
