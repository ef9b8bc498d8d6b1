package walletserver

import (
	"context"
	"fmt"

	"github.com/attaboy/settlement/internal/domain"
	"github.com/attaboy/settlement/internal/money"
	"github.com/attaboy/settlement/internal/protocol"
	"github.com/jackc/pgx/v5"
)

// status reports OK or CANCELED for a reference of the caller. Read-only.
func (s *Server) status(ctx context.Context, req *protocol.Request) (interface{}, error) {
	var data protocol.StatusData
	if err := req.Decode(&data); err != nil {
		return nil, err
	}

	var result protocol.StatusResult
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		c, err := s.resolveCaller(ctx, tx, data.Identity)
		if err != nil {
			return err
		}
		entry, err := s.transactions.FindByReference(ctx, tx, c.user.ID, data.TransactionID)
		if err != nil {
			return fmt.Errorf("find transaction: %w", err)
		}
		if entry == nil {
			return domain.ErrTransactionNotFound(data.TransactionID)
		}
		result = protocol.StatusResult{TransactionID: data.TransactionID, TransactionStatus: protocol.TxStatusOK}
		if entry.Cancelled() {
			result.TransactionStatus = protocol.TxStatusCanceled
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// cancel reverses a transaction. The wallet touched is the stored owner's,
// whoever the caller claims to be.
func (s *Server) cancel(ctx context.Context, req *protocol.Request) (interface{}, error) {
	var data protocol.CancelData
	if err := req.Decode(&data); err != nil {
		return nil, err
	}

	var res *domain.CommandResult
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		c, err := s.resolveCaller(ctx, tx, data.Identity)
		if err != nil {
			return err
		}
		res, err = s.engine.ExecuteCancel(ctx, tx, domain.CancelParams{
			ExternalReference: data.TransactionID,
			RequestedBy:       c.user.ID,
			Reason:            data.Reason,
		})
		if err != nil {
			return err
		}
		if res.Transaction != nil && res.Transaction.UserID != c.user.ID {
			s.logger.Warn("cancel applied to stored owner",
				"requested_by", c.user.ID,
				"owner", res.Transaction.UserID,
				"transaction_id", data.TransactionID,
			)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.project(ctx, res.Wallet)
	return protocol.ChangeBalanceResult{
		Balance:       money.JSON(res.Wallet.Balance),
		Currency:      res.Wallet.Currency,
		TransactionID: data.TransactionID,
	}, nil
}
