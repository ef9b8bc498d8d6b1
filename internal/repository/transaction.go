package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/attaboy/settlement/internal/domain"
	"github.com/jackc/pgx/v5"
)

type transactionRepo struct{}

// NewTransactionRepository returns a pgx-backed TransactionRepository.
func NewTransactionRepository() TransactionRepository {
	return &transactionRepo{}
}

const transactionColumns = `id, user_id, wallet_category, type, amount, balance_before, balance_after,
	currency, status, external_reference, metadata, created_at`

func (r *transactionRepo) FindByReference(ctx context.Context, db DBTX, userID, ref string) (*domain.Transaction, error) {
	row := db.QueryRow(ctx, `SELECT `+transactionColumns+`
		FROM transactions
		WHERE user_id = $1 AND external_reference = $2`, userID, ref)
	return scanTransaction(row)
}

func (r *transactionRepo) ListByReference(ctx context.Context, db DBTX, ref string) ([]domain.Transaction, error) {
	rows, err := db.Query(ctx, `SELECT `+transactionColumns+`
		FROM transactions
		WHERE external_reference = $1
		ORDER BY id ASC`, ref)
	if err != nil {
		return nil, fmt.Errorf("query transactions by reference: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func (r *transactionRepo) FindByID(ctx context.Context, db DBTX, id int64) (*domain.Transaction, error) {
	row := db.QueryRow(ctx, `SELECT `+transactionColumns+`
		FROM transactions WHERE id = $1`, id)
	return scanTransaction(row)
}

func (r *transactionRepo) Insert(ctx context.Context, db DBTX, tx *domain.Transaction) (*domain.Transaction, error) {
	meta := tx.Metadata
	if len(meta) == 0 {
		meta = json.RawMessage(`{}`)
	}
	status := tx.Status
	if status == "" {
		status = domain.StatusCompleted
	}

	row := db.QueryRow(ctx, `
		INSERT INTO transactions
		  (user_id, wallet_category, type, amount, balance_before, balance_after,
		   currency, status, external_reference, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+transactionColumns,
		tx.UserID,
		tx.WalletCategory,
		string(tx.Type),
		numArg(tx.Amount),
		numArg(tx.BalanceBefore),
		numArg(tx.BalanceAfter),
		tx.Currency,
		string(status),
		tx.ExternalReference,
		meta,
	)
	entry, err := scanTransaction(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateReference
		}
		return nil, err
	}
	return entry, nil
}

func (r *transactionRepo) MarkCancelled(ctx context.Context, db DBTX, id int64) error {
	tag, err := db.Exec(ctx, `
		UPDATE transactions SET status = 'cancelled'
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark cancelled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound("transaction", fmt.Sprint(id))
	}
	return nil
}

func (r *transactionRepo) ListByWallet(ctx context.Context, db DBTX, key domain.WalletKey) ([]domain.Transaction, error) {
	rows, err := db.Query(ctx, `SELECT `+transactionColumns+`
		FROM transactions
		WHERE user_id = $1 AND wallet_category = $2
		ORDER BY id ASC`, key.UserID, key.Category)
	if err != nil {
		return nil, fmt.Errorf("query wallet transactions: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var tx domain.Transaction
	err := row.Scan(
		&tx.ID, &tx.UserID, &tx.WalletCategory, &tx.Type,
		num(&tx.Amount), num(&tx.BalanceBefore), num(&tx.BalanceAfter),
		&tx.Currency, &tx.Status, &tx.ExternalReference, &tx.Metadata, &tx.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	return &tx, nil
}

func collectTransactions(rows pgx.Rows) ([]domain.Transaction, error) {
	var txs []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *tx)
	}
	return txs, rows.Err()
}
