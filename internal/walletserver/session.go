package walletserver

import (
	"context"

	"github.com/attaboy/settlement/internal/domain"
	"github.com/attaboy/settlement/internal/money"
	"github.com/attaboy/settlement/internal/protocol"
	"github.com/jackc/pgx/v5"
)

// authenticate resolves the session and reports the player's balance.
// Blocked players are refused.
func (s *Server) authenticate(ctx context.Context, req *protocol.Request) (interface{}, error) {
	var data protocol.AuthenticateData
	if err := req.Decode(&data); err != nil {
		return nil, err
	}

	var result protocol.AuthenticateResult
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		c, err := s.resolveCaller(ctx, tx, protocol.Identity{Token: data.Token})
		if err != nil {
			return err
		}
		if c.user.Blocked() {
			return domain.ErrPlayerBlocked(c.user.ID)
		}
		w, err := s.sessionWallet(ctx, tx, c, data.GameID)
		if err != nil {
			return err
		}
		result = protocol.AuthenticateResult{
			UserID:   c.user.ID,
			Username: c.user.Username,
			Balance:  money.JSON(w.Balance),
			Currency: w.Currency,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// balance reports the balance of the wallet the session's game settles against.
func (s *Server) balance(ctx context.Context, req *protocol.Request) (interface{}, error) {
	var data protocol.BalanceData
	if err := req.Decode(&data); err != nil {
		return nil, err
	}

	var result protocol.BalanceResult
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		c, err := s.resolveCaller(ctx, tx, protocol.Identity{Token: data.Token})
		if err != nil {
			return err
		}
		w, err := s.sessionWallet(ctx, tx, c, data.GameID)
		if err != nil {
			return err
		}
		result = protocol.BalanceResult{Balance: money.JSON(w.Balance), Currency: w.Currency}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Server) sessionWallet(ctx context.Context, tx pgx.Tx, c *caller, gameID string) (*domain.Wallet, error) {
	game, err := s.resolveGame(ctx, tx, c.gameID(gameID))
	if err != nil {
		return nil, err
	}
	key, err := s.walletKey(ctx, tx, c, game)
	if err != nil {
		return nil, err
	}
	return s.readWallet(ctx, tx, key, c.user)
}
