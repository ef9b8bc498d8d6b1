package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/attaboy/settlement/internal/domain"
	"github.com/jackc/pgx/v5"
)

type cancellationRepo struct{}

// NewCancellationRepository returns a pgx-backed CancellationRepository.
func NewCancellationRepository() CancellationRepository {
	return &cancellationRepo{}
}

func (r *cancellationRepo) FindByOriginal(ctx context.Context, db DBTX, originalTxID int64) (*domain.CancellationRecord, error) {
	var rec domain.CancellationRecord
	err := db.QueryRow(ctx, `
		SELECT original_transaction_id, original_type, original_amount, balance_adjustment,
		       reason, cancelled_by, created_at
		FROM cancellations WHERE original_transaction_id = $1`, originalTxID).Scan(
		&rec.OriginalTransactionID, &rec.OriginalType,
		num(&rec.OriginalAmount), num(&rec.BalanceAdjustment),
		&rec.Reason, &rec.CancelledBy, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan cancellation: %w", err)
	}
	return &rec, nil
}

func (r *cancellationRepo) Insert(ctx context.Context, db DBTX, rec *domain.CancellationRecord) error {
	_, err := db.Exec(ctx, `
		INSERT INTO cancellations
		  (original_transaction_id, original_type, original_amount, balance_adjustment, reason, cancelled_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.OriginalTransactionID, string(rec.OriginalType),
		numArg(rec.OriginalAmount), numArg(rec.BalanceAdjustment),
		rec.Reason, rec.CancelledBy, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert cancellation: %w", err)
	}
	return nil
}
