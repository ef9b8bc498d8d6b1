package ledger

import (
	"fmt"

	"github.com/attaboy/settlement/internal/domain"
	"github.com/attaboy/settlement/internal/money"
	"github.com/shopspring/decimal"
)

// ReplayResult holds the wallet state recomputed from the transaction log.
type ReplayResult struct {
	Wallet           domain.WalletKey
	TransactionCount int
	Balance          decimal.Decimal
	LockedBalance    decimal.Decimal
	TotalDeposited   decimal.Decimal
	TotalWithdrawn   decimal.Decimal
	TotalWagered     decimal.Decimal
	TotalWon         decimal.Decimal
	Invariants       []InvariantCheck
	AllPassed        bool
}

// InvariantCheck records a single invariant validation.
type InvariantCheck struct {
	Name          string `json:"name"`
	TransactionID int64  `json:"transaction_id,omitempty"`
	Passed        bool   `json:"passed"`
	Detail        string `json:"detail"`
}

// Replay folds a wallet's full log (ordered by id) into the balances it
// implies. The log is authoritative: balance is the sum of signed amounts over
// every entry, cancelled originals included, since each cancellation appended
// its own offsetting adjustment. Running totals skip cancelled entries.
// Locked balance is the sum of stakes of bets still pending; those stakes are
// already inside balance and are not subtracted again.
//
// Invariants:
//  1. Entry parity: balance_after = balance_before ± amount for every entry
//  2. Chain continuity: each entry starts from the previous entry's balance_after
//  3. Non-negativity: the recomputed balance is >= 0
func Replay(key domain.WalletKey, entries []domain.Transaction, pending []domain.Bet) *ReplayResult {
	res := &ReplayResult{
		Wallet:           key,
		TransactionCount: len(entries),
		Balance:          decimal.Zero,
		LockedBalance:    decimal.Zero,
		TotalDeposited:   decimal.Zero,
		TotalWithdrawn:   decimal.Zero,
		TotalWagered:     decimal.Zero,
		TotalWon:         decimal.Zero,
		AllPassed:        true,
	}

	fail := func(check InvariantCheck) {
		res.Invariants = append(res.Invariants, check)
		res.AllPassed = false
	}

	var prevAfter *decimal.Decimal
	for i := range entries {
		tx := &entries[i]
		signed := tx.SignedAmount()

		if want := money.Add(tx.BalanceBefore, signed); !money.Equal(want, tx.BalanceAfter) {
			fail(InvariantCheck{
				Name:          "entry_parity",
				TransactionID: tx.ID,
				Detail: fmt.Sprintf("%s %s: before=%s after=%s want=%s",
					tx.Type, tx.ExternalReference, money.Format(tx.BalanceBefore), money.Format(tx.BalanceAfter), money.Format(want)),
			})
		}
		if prevAfter != nil && !money.Equal(*prevAfter, tx.BalanceBefore) {
			fail(InvariantCheck{
				Name:          "chain_continuity",
				TransactionID: tx.ID,
				Detail:        fmt.Sprintf("previous after=%s, before=%s", money.Format(*prevAfter), money.Format(tx.BalanceBefore)),
			})
		}
		after := tx.BalanceAfter
		prevAfter = &after

		res.Balance = money.Add(res.Balance, signed)
		if tx.Cancelled() {
			continue
		}
		switch tx.Type {
		case domain.TxDeposit:
			res.TotalDeposited = money.Add(res.TotalDeposited, tx.Amount)
		case domain.TxWithdrawal:
			res.TotalWithdrawn = money.Add(res.TotalWithdrawn, tx.Amount)
		case domain.TxBet:
			res.TotalWagered = money.Add(res.TotalWagered, tx.Amount)
		case domain.TxWin:
			res.TotalWon = money.Add(res.TotalWon, tx.Amount)
		}
	}

	for i := range pending {
		if pending[i].Pending() {
			res.LockedBalance = money.Add(res.LockedBalance, pending[i].BetAmount)
		}
	}

	if res.Balance.IsNegative() {
		fail(InvariantCheck{
			Name:   "balance_non_negative",
			Detail: fmt.Sprintf("recomputed balance=%s", money.Format(res.Balance)),
		})
	}

	return res
}

// Apply copies the recomputed balances onto a snapshot, keeping identity and
// the columns the log does not own (bonus balance).
func (r *ReplayResult) Apply(w domain.Wallet) domain.Wallet {
	w.Balance = r.Balance
	w.LockedBalance = r.LockedBalance
	w.TotalDeposited = r.TotalDeposited
	w.TotalWithdrawn = r.TotalWithdrawn
	w.TotalWagered = r.TotalWagered
	w.TotalWon = r.TotalWon
	return w
}

// Drift reports whether w differs from the recomputed state beyond tolerance.
func (r *ReplayResult) Drift(w domain.Wallet) bool {
	return !money.Equal(w.Balance, r.Balance) ||
		!money.Equal(w.LockedBalance, r.LockedBalance) ||
		!money.Equal(w.TotalDeposited, r.TotalDeposited) ||
		!money.Equal(w.TotalWithdrawn, r.TotalWithdrawn) ||
		!money.Equal(w.TotalWagered, r.TotalWagered) ||
		!money.Equal(w.TotalWon, r.TotalWon)
}
