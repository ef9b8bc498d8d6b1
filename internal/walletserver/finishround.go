package walletserver

import (
	"context"

	"github.com/attaboy/settlement/internal/domain"
	"github.com/attaboy/settlement/internal/money"
	"github.com/attaboy/settlement/internal/protocol"
	"github.com/jackc/pgx/v5"
)

// finishRound forces every pending bet of the round to lose. Neither a
// blocked player nor a disabled game stops it; no money moves.
func (s *Server) finishRound(ctx context.Context, req *protocol.Request) (interface{}, error) {
	var data protocol.FinishRoundData
	if err := req.Decode(&data); err != nil {
		return nil, err
	}

	var res *domain.CommandResult
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		c, err := s.resolveCaller(ctx, tx, data.Identity)
		if err != nil {
			return err
		}
		game, err := s.resolveGame(ctx, tx, data.GameID)
		if err != nil {
			return err
		}
		key, err := s.walletKey(ctx, tx, c, game)
		if err != nil {
			return err
		}
		res, err = s.engine.ExecuteFinishRound(ctx, tx, domain.FinishRoundParams{
			Wallet:   key,
			GameID:   data.GameID,
			RoundID:  data.RoundID,
			Currency: c.user.Currency,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.project(ctx, res.Wallet)
	return protocol.BalanceResult{Balance: money.JSON(res.Wallet.Balance), Currency: res.Wallet.Currency}, nil
}
