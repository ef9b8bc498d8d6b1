package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/attaboy/settlement/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

type walletRepo struct{}

// NewWalletRepository returns a pgx-backed WalletRepository.
func NewWalletRepository() WalletRepository {
	return &walletRepo{}
}

const walletColumns = `user_id, category, currency, balance, locked_balance, bonus_balance,
	total_deposited, total_withdrawn, total_wagered, total_won, updated_at`

const checkViolation = "23514"

func (r *walletRepo) Ensure(ctx context.Context, db DBTX, key domain.WalletKey, currency string) error {
	_, err := db.Exec(ctx, `
		INSERT INTO wallets (user_id, category, currency)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, category) DO NOTHING`,
		key.UserID, key.Category, currency)
	if err != nil {
		return fmt.Errorf("ensure wallet: %w", err)
	}
	return nil
}

func (r *walletRepo) Exists(ctx context.Context, db DBTX, key domain.WalletKey) (bool, error) {
	var exists bool
	err := db.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM wallets WHERE user_id = $1 AND category = $2)`,
		key.UserID, key.Category).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("wallet exists: %w", err)
	}
	return exists, nil
}

func (r *walletRepo) FindByKey(ctx context.Context, db DBTX, key domain.WalletKey) (*domain.Wallet, error) {
	row := db.QueryRow(ctx, `SELECT `+walletColumns+`
		FROM wallets WHERE user_id = $1 AND category = $2`, key.UserID, key.Category)
	return scanWallet(row)
}

func (r *walletRepo) ListByUser(ctx context.Context, db DBTX, userID string) ([]domain.Wallet, error) {
	rows, err := db.Query(ctx, `SELECT `+walletColumns+`
		FROM wallets WHERE user_id = $1 ORDER BY category ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query wallets: %w", err)
	}
	defer rows.Close()

	var wallets []domain.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, *w)
	}
	return wallets, rows.Err()
}

func (r *walletRepo) ListKeys(ctx context.Context, db DBTX, after *domain.WalletKey, limit int) ([]domain.WalletKey, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > MaxKeyPage {
		limit = MaxKeyPage
	}

	var rows pgx.Rows
	var err error
	if after != nil {
		rows, err = db.Query(ctx, `
			SELECT user_id, category FROM wallets
			WHERE (user_id, category) > ($1, $2)
			ORDER BY user_id ASC, category ASC
			LIMIT $3`, after.UserID, after.Category, limit)
	} else {
		rows, err = db.Query(ctx, `
			SELECT user_id, category FROM wallets
			ORDER BY user_id ASC, category ASC
			LIMIT $1`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query wallet keys: %w", err)
	}
	defer rows.Close()

	var keys []domain.WalletKey
	for rows.Next() {
		var k domain.WalletKey
		if err := rows.Scan(&k.UserID, &k.Category); err != nil {
			return nil, fmt.Errorf("scan wallet key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (r *walletRepo) LockForUpdate(ctx context.Context, tx pgx.Tx, key domain.WalletKey) (*domain.Wallet, error) {
	row := tx.QueryRow(ctx, `SELECT `+walletColumns+`
		FROM wallets WHERE user_id = $1 AND category = $2 FOR UPDATE`, key.UserID, key.Category)
	return scanWallet(row)
}

// UpdateBalances uses server-side arithmetic with dynamic SET clauses. The prev
// CTE reads the locked row so before/after come from one statement.
func (r *walletRepo) UpdateBalances(ctx context.Context, tx pgx.Tx, key domain.WalletKey, delta domain.BalanceUpdate) (*domain.BalanceChange, error) {
	setClauses := []string{"updated_at = now()"}
	args := []interface{}{key.UserID, key.Category}
	argIdx := 3

	add := func(column string, d decimal.Decimal) {
		if d.IsZero() {
			return
		}
		setClauses = append(setClauses, fmt.Sprintf("%[1]s = round(w.%[1]s + $%[2]d, 2)", column, argIdx))
		args = append(args, numArg(d))
		argIdx++
	}
	add("balance", delta.Balance)
	add("bonus_balance", delta.BonusBalance)
	add("total_deposited", delta.TotalDeposited)
	add("total_withdrawn", delta.TotalWithdrawn)
	add("total_wagered", delta.TotalWagered)
	add("total_won", delta.TotalWon)
	if !delta.LockedBalance.IsZero() {
		// pending stake can never go below zero even if the snapshot drifted
		setClauses = append(setClauses, fmt.Sprintf("locked_balance = GREATEST(round(w.locked_balance + $%d, 2), 0)", argIdx))
		args = append(args, numArg(delta.LockedBalance))
		argIdx++
	}

	query := fmt.Sprintf(`
		WITH prev AS (
			SELECT balance FROM wallets WHERE user_id = $1 AND category = $2 FOR UPDATE
		)
		UPDATE wallets w SET %s
		FROM prev
		WHERE w.user_id = $1 AND w.category = $2
		RETURNING prev.balance, w.user_id, w.category, w.currency, w.balance, w.locked_balance, w.bonus_balance,
		          w.total_deposited, w.total_withdrawn, w.total_wagered, w.total_won, w.updated_at`,
		strings.Join(setClauses, ", "))

	var change domain.BalanceChange
	var w domain.Wallet
	err := tx.QueryRow(ctx, query, args...).Scan(
		num(&change.Before),
		&w.UserID, &w.Category, &w.Currency,
		num(&w.Balance), num(&w.LockedBalance), num(&w.BonusBalance),
		num(&w.TotalDeposited), num(&w.TotalWithdrawn), num(&w.TotalWagered), num(&w.TotalWon),
		&w.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == checkViolation {
			return nil, domain.ErrInsufficientBalance()
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound("wallet", key.UserID+"/"+key.Category)
		}
		return nil, fmt.Errorf("update balances: %w", err)
	}
	change.Wallet = &w
	change.After = w.Balance
	return &change, nil
}

func (r *walletRepo) Overwrite(ctx context.Context, tx pgx.Tx, w *domain.Wallet) error {
	tag, err := tx.Exec(ctx, `
		UPDATE wallets SET
			balance = $3, locked_balance = $4, bonus_balance = $5,
			total_deposited = $6, total_withdrawn = $7, total_wagered = $8, total_won = $9,
			updated_at = now()
		WHERE user_id = $1 AND category = $2`,
		w.UserID, w.Category,
		numArg(w.Balance), numArg(w.LockedBalance), numArg(w.BonusBalance),
		numArg(w.TotalDeposited), numArg(w.TotalWithdrawn), numArg(w.TotalWagered), numArg(w.TotalWon),
	)
	if err != nil {
		return fmt.Errorf("overwrite wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound("wallet", w.UserID+"/"+w.Category)
	}
	return nil
}

func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	var w domain.Wallet
	err := row.Scan(
		&w.UserID, &w.Category, &w.Currency,
		num(&w.Balance), num(&w.LockedBalance), num(&w.BonusBalance),
		num(&w.TotalDeposited), num(&w.TotalWithdrawn), num(&w.TotalWagered), num(&w.TotalWon),
		&w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan wallet: %w", err)
	}
	return &w, nil
}
