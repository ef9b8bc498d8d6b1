package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/attaboy/settlement/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// ExecuteSettleLoss resolves the matching pending bet as lost. The stake was
// debited at BET time, so the balance does not move and no ledger entry is
// written; only the locked stake is released. The LOSS reference is stored on
// the resolved bet so a retry finds it instead of matching another bet.
func (e *Engine) ExecuteSettleLoss(ctx context.Context, tx pgx.Tx, params domain.SettleLossParams) (*domain.CommandResult, error) {
	wallet, err := e.LockWallet(ctx, tx, params.Wallet, params.Currency)
	if err != nil {
		return nil, fmt.Errorf("settle loss: %w", err)
	}

	settled, err := e.bets.FindBySettledReference(ctx, tx, params.Wallet.UserID, params.ExternalReference)
	if err != nil {
		return nil, fmt.Errorf("settle loss: %w", err)
	}
	if settled != nil {
		return &domain.CommandResult{Wallet: wallet, Bets: []domain.Bet{*settled}, Idempotent: true}, nil
	}

	bet, err := e.findMatchingBet(ctx, tx, params.Wallet.UserID, params.GameID, params.RoundID)
	if err != nil {
		return nil, fmt.Errorf("settle loss: %w", err)
	}
	if bet == nil {
		// nothing pending: a replayed LOSS lands here
		return &domain.CommandResult{Wallet: wallet, Idempotent: true}, nil
	}

	updated, err := e.releaseStake(ctx, tx, bet)
	if err != nil {
		return nil, fmt.Errorf("settle loss: %w", err)
	}
	if bet.WalletCategory != params.Wallet.Category {
		updated = wallet
	}

	res := loseResolution(e.clock.Now())
	res.SettledReference = params.ExternalReference
	resolved, event, err := e.resolveBet(ctx, tx, bet, res)
	if err != nil {
		return nil, fmt.Errorf("settle loss: %w", err)
	}

	return &domain.CommandResult{
		Wallet: updated,
		Bets:   []domain.Bet{*resolved},
		Events: []domain.OutboxDraft{event},
	}, nil
}

func loseResolution(at time.Time) domain.BetResolution {
	return domain.BetResolution{
		Outcome:    domain.OutcomeLose,
		WinAmount:  decimal.Zero,
		Multiplier: decimal.Zero,
		ResultAt:   at,
	}
}
