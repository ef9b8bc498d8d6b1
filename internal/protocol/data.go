package protocol

import (
	"fmt"
	"strings"

	"github.com/attaboy/settlement/internal/domain"
	"github.com/attaboy/settlement/internal/money"
	"github.com/shopspring/decimal"
)

// Validator is implemented by every command data struct.
type Validator interface {
	Missing() []string
}

// Identity is the token-or-user_id pair most commands accept.
type Identity struct {
	Token  string `json:"token,omitempty"`
	UserID string `json:"user_id,omitempty"`
}

// HasIdentity reports whether either field is set.
func (id Identity) HasIdentity() bool {
	return id.Token != "" || id.UserID != ""
}

// AuthenticateData is the data of authenticate.
type AuthenticateData struct {
	Token  string `json:"token"`
	GameID string `json:"game_id,omitempty"`
}

func (d *AuthenticateData) Missing() []string {
	if d.Token == "" {
		return []string{"token"}
	}
	return nil
}

// BalanceData is the data of balance.
type BalanceData struct {
	Token  string `json:"token"`
	GameID string `json:"game_id,omitempty"`
}

func (d *BalanceData) Missing() []string {
	if d.Token == "" {
		return []string{"token"}
	}
	return nil
}

// ChangeBalanceData is the data of changebalance.
type ChangeBalanceData struct {
	Identity
	Amount          *decimal.Decimal `json:"amount"`
	TransactionID   string           `json:"transaction_id"`
	GameID          string           `json:"game_id,omitempty"`
	SessionID       string           `json:"session_id,omitempty"`
	RoundID         string           `json:"round_id,omitempty"`
	TransactionType string           `json:"transaction_type,omitempty"`
	RoundFinished   bool             `json:"round_finished,omitempty"`
	Currency        string           `json:"currency,omitempty"`
}

func (d *ChangeBalanceData) Missing() []string {
	var missing []string
	if !d.HasIdentity() {
		missing = append(missing, "token|user_id")
	}
	if d.Amount == nil {
		missing = append(missing, "amount")
	}
	if d.TransactionID == "" {
		missing = append(missing, "transaction_id")
	}
	return missing
}

// StatusData is the data of status.
type StatusData struct {
	Identity
	TransactionID string `json:"transaction_id"`
}

func (d *StatusData) Missing() []string {
	var missing []string
	if !d.HasIdentity() {
		missing = append(missing, "token|user_id")
	}
	if d.TransactionID == "" {
		missing = append(missing, "transaction_id")
	}
	return missing
}

// CancelData is the data of cancel.
type CancelData struct {
	Identity
	TransactionID string `json:"transaction_id"`
	Reason        string `json:"reason,omitempty"`
}

func (d *CancelData) Missing() []string {
	var missing []string
	if !d.HasIdentity() {
		missing = append(missing, "token|user_id")
	}
	if d.TransactionID == "" {
		missing = append(missing, "transaction_id")
	}
	return missing
}

// FinishRoundData is the data of finishround.
type FinishRoundData struct {
	Identity
	GameID  string `json:"game_id"`
	RoundID string `json:"round_id"`
}

func (d *FinishRoundData) Missing() []string {
	var missing []string
	if !d.HasIdentity() {
		missing = append(missing, "user_id")
	}
	if d.GameID == "" {
		missing = append(missing, "game_id")
	}
	if d.RoundID == "" {
		missing = append(missing, "round_id")
	}
	return missing
}

// TransactionKind classifies a changebalance message.
type TransactionKind string

const (
	KindBet  TransactionKind = "BET"
	KindWin  TransactionKind = "WIN"
	KindLoss TransactionKind = "LOSS"
)

// Classify returns the kind and the absolute amount of a changebalance
// message. An explicit transaction_type wins over the sign of amount; without
// it a negative amount is a BET and a positive one a WIN. A WIN of exactly 0
// is a LOSS. A zero BET is invalid.
func (d *ChangeBalanceData) Classify() (TransactionKind, decimal.Decimal, error) {
	amount := money.Round(*d.Amount)
	abs := amount.Abs()

	var kind TransactionKind
	switch strings.ToUpper(strings.TrimSpace(d.TransactionType)) {
	case "":
		switch {
		case amount.IsNegative():
			kind = KindBet
		case amount.IsZero():
			kind = KindLoss
		default:
			kind = KindWin
		}
	case "BET", "DEBIT":
		kind = KindBet
	case "WIN", "CREDIT":
		kind = KindWin
	case "LOSS", "LOSE":
		kind = KindLoss
	default:
		return "", decimal.Zero, domain.ErrValidation(fmt.Sprintf("unknown transaction_type: %s", d.TransactionType))
	}

	if kind == KindWin && abs.IsZero() {
		kind = KindLoss
	}
	if kind == KindBet && abs.IsZero() {
		return "", decimal.Zero, domain.ErrValidation("bet amount must be positive")
	}
	return kind, abs, nil
}
