package ledger

import (
	"context"
	"fmt"

	"github.com/attaboy/settlement/internal/domain"
	"github.com/jackc/pgx/v5"
)

// ExecuteFinishRound forces every still-pending bet of a round to lose and
// records the round marker. A second call for the same round is a no-op.
func (e *Engine) ExecuteFinishRound(ctx context.Context, tx pgx.Tx, params domain.FinishRoundParams) (*domain.CommandResult, error) {
	wallet, err := e.LockWallet(ctx, tx, params.Wallet, params.Currency)
	if err != nil {
		return nil, fmt.Errorf("finish round: %w", err)
	}

	key := domain.RoundKey{UserID: params.Wallet.UserID, GameID: params.GameID, RoundID: params.RoundID}
	created, err := e.rounds.MarkFinished(ctx, tx, key)
	if err != nil {
		return nil, fmt.Errorf("finish round mark: %w", err)
	}
	if !created {
		return &domain.CommandResult{Wallet: wallet, Idempotent: true}, nil
	}

	pending, err := e.bets.ListPendingByRound(ctx, tx, key)
	if err != nil {
		return nil, fmt.Errorf("finish round list bets: %w", err)
	}

	result := &domain.CommandResult{Wallet: wallet}
	now := e.clock.Now()
	for i := range pending {
		bet := &pending[i]
		updated, err := e.releaseStake(ctx, tx, bet)
		if err != nil {
			return nil, fmt.Errorf("finish round: %w", err)
		}
		if bet.WalletCategory == params.Wallet.Category {
			result.Wallet = updated
		}
		resolved, event, err := e.resolveBet(ctx, tx, bet, loseResolution(now))
		if err != nil {
			return nil, fmt.Errorf("finish round: %w", err)
		}
		result.Bets = append(result.Bets, *resolved)
		result.Events = append(result.Events, event)
	}

	event := domain.NewRoundFinishedEvent(key, len(pending), now)
	if err := e.outbox.Insert(ctx, tx, event); err != nil {
		return nil, fmt.Errorf("finish round outbox: %w", err)
	}
	result.Events = append(result.Events, event)
	return result, nil
}
