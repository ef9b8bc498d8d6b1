package walletserver

import (
	"context"
	"fmt"

	"github.com/attaboy/settlement/internal/domain"
	"github.com/attaboy/settlement/internal/guard"
	"github.com/attaboy/settlement/internal/money"
	"github.com/attaboy/settlement/internal/protocol"
	"github.com/jackc/pgx/v5"
)

// changeBalance settles a BET, WIN or LOSS.
//
// Order: validate, resolve player (blocked check), resolve game (disabled
// check), then the ledger command, which does the idempotency check under the
// wallet lock. The disabled check runs ahead of idempotency so a retry of a
// since-disabled game answers OP_35 deterministically.
func (s *Server) changeBalance(ctx context.Context, req *protocol.Request) (interface{}, error) {
	var data protocol.ChangeBalanceData
	if err := req.Decode(&data); err != nil {
		return nil, err
	}
	kind, amount, err := data.Classify()
	if err != nil {
		return nil, err
	}

	var (
		wallet *domain.Wallet
		burst  *guard.BurstKey
	)
	err = s.inTx(ctx, func(tx pgx.Tx) error {
		c, err := s.resolveCaller(ctx, tx, data.Identity)
		if err != nil {
			return err
		}
		// A WIN keyed only by user_id settles a BET that was already accepted.
		if c.user.Blocked() && (kind == protocol.KindBet || c.withToken()) {
			return domain.ErrPlayerBlocked(c.user.ID)
		}
		cur, err := currency(c.user, data.Currency)
		if err != nil {
			return err
		}

		gameID := c.gameID(data.GameID)
		game, err := s.resolveGame(ctx, tx, gameID)
		if err != nil {
			return err
		}
		if game != nil && !game.IsActive && kind != protocol.KindLoss {
			return domain.ErrGameDisabled(game.ID)
		}

		key, err := s.walletKey(ctx, tx, c, game)
		if err != nil {
			return err
		}

		var res *domain.CommandResult
		switch kind {
		case protocol.KindBet:
			burst = &guard.BurstKey{UserID: c.user.ID, GameID: gameID, Amount: amount, Reference: data.TransactionID}
			if err := s.checkBurst(ctx, *burst); err != nil {
				burst = nil
				return err
			}
			res, err = s.engine.ExecutePlaceBet(ctx, tx, domain.PlaceBetParams{
				Wallet:            key,
				GameID:            gameID,
				Amount:            amount,
				Currency:          cur,
				ExternalReference: data.TransactionID,
				RoundID:           data.RoundID,
				SessionID:         data.SessionID,
			})
		case protocol.KindWin:
			res, err = s.engine.ExecuteCreditWin(ctx, tx, domain.CreditWinParams{
				Wallet:            key,
				GameID:            gameID,
				Amount:            amount,
				Currency:          cur,
				ExternalReference: data.TransactionID,
				RoundID:           data.RoundID,
				SessionID:         data.SessionID,
			})
		case protocol.KindLoss:
			res, err = s.engine.ExecuteSettleLoss(ctx, tx, domain.SettleLossParams{
				Wallet:            key,
				GameID:            gameID,
				RoundID:           data.RoundID,
				Currency:          cur,
				ExternalReference: data.TransactionID,
			})
		default:
			return fmt.Errorf("unhandled transaction kind %q", kind)
		}
		if err != nil {
			return err
		}
		wallet = res.Wallet

		if data.RoundFinished && data.RoundID != "" && gameID != "" {
			fin, err := s.engine.ExecuteFinishRound(ctx, tx, domain.FinishRoundParams{
				Wallet:   key,
				GameID:   gameID,
				RoundID:  data.RoundID,
				Currency: cur,
			})
			if err != nil {
				return err
			}
			wallet = fin.Wallet
		}

		if res.Idempotent {
			s.logger.Info("changebalance replay",
				"user_id", c.user.ID,
				"transaction_id", data.TransactionID,
				"kind", string(kind),
			)
		}
		return nil
	})
	if err != nil {
		// The BET rolled back, so its burst window must not block the next one.
		if burst != nil {
			s.burst.Release(ctx, *burst)
		}
		return nil, err
	}

	s.project(ctx, wallet)
	return protocol.ChangeBalanceResult{
		Balance:       money.JSON(wallet.Balance),
		Currency:      wallet.Currency,
		TransactionID: data.TransactionID,
	}, nil
}

func (s *Server) checkBurst(ctx context.Context, k guard.BurstKey) error {
	res := s.burst.Check(ctx, k)
	if res.Guard == "" {
		return nil
	}
	s.metrics.ObserveBurst(string(s.burst.Mode()))
	if !res.Allowed {
		return domain.ErrDuplicateBurst(res.Reason)
	}
	return nil
}
