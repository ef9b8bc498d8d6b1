package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/attaboy/settlement/internal/domain"
	"github.com/jackc/pgx/v5"
)

type betRepo struct{}

// NewBetRepository returns a pgx-backed BetRepository.
func NewBetRepository() BetRepository {
	return &betRepo{}
}

const betColumns = `id, user_id, game_id, wallet_category, transaction_id, win_transaction_id,
	bet_amount, win_amount, multiplier, outcome, round_id, session_id, settled_reference, placed_at, result_at`

func (r *betRepo) Insert(ctx context.Context, db DBTX, bet *domain.Bet) (*domain.Bet, error) {
	outcome := bet.Outcome
	if outcome == "" {
		outcome = domain.OutcomePending
	}
	row := db.QueryRow(ctx, `
		INSERT INTO bets
		  (user_id, game_id, wallet_category, transaction_id, bet_amount, win_amount, multiplier,
		   outcome, round_id, session_id, placed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+betColumns,
		bet.UserID, bet.GameID, bet.WalletCategory, bet.TransactionID,
		numArg(bet.BetAmount), numArg(bet.WinAmount), numArg(bet.Multiplier),
		string(outcome), bet.RoundID, bet.SessionID, bet.PlacedAt,
	)
	return scanBet(row)
}

func (r *betRepo) FindPendingByRound(ctx context.Context, db DBTX, key domain.RoundKey) (*domain.Bet, error) {
	row := db.QueryRow(ctx, `SELECT `+betColumns+`
		FROM bets
		WHERE user_id = $1 AND game_id = $2 AND round_id = $3 AND outcome = 'pending'
		ORDER BY id DESC
		LIMIT 1`, key.UserID, key.GameID, key.RoundID)
	return scanBet(row)
}

func (r *betRepo) FindLatestPendingByGame(ctx context.Context, db DBTX, userID, gameID string) (*domain.Bet, error) {
	row := db.QueryRow(ctx, `SELECT `+betColumns+`
		FROM bets
		WHERE user_id = $1 AND game_id = $2 AND outcome = 'pending'
		ORDER BY id DESC
		LIMIT 1`, userID, gameID)
	return scanBet(row)
}

func (r *betRepo) ListPendingByRound(ctx context.Context, db DBTX, key domain.RoundKey) ([]domain.Bet, error) {
	rows, err := db.Query(ctx, `SELECT `+betColumns+`
		FROM bets
		WHERE user_id = $1 AND game_id = $2 AND round_id = $3 AND outcome = 'pending'
		ORDER BY id ASC`, key.UserID, key.GameID, key.RoundID)
	if err != nil {
		return nil, fmt.Errorf("query round bets: %w", err)
	}
	defer rows.Close()
	return collectBets(rows)
}

func (r *betRepo) ListPendingByWallet(ctx context.Context, db DBTX, key domain.WalletKey) ([]domain.Bet, error) {
	rows, err := db.Query(ctx, `SELECT `+betColumns+`
		FROM bets
		WHERE user_id = $1 AND wallet_category = $2 AND outcome = 'pending'
		ORDER BY id ASC`, key.UserID, key.Category)
	if err != nil {
		return nil, fmt.Errorf("query pending bets: %w", err)
	}
	defer rows.Close()
	return collectBets(rows)
}

func (r *betRepo) FindByTransactionID(ctx context.Context, db DBTX, txID int64) (*domain.Bet, error) {
	row := db.QueryRow(ctx, `SELECT `+betColumns+`
		FROM bets WHERE transaction_id = $1`, txID)
	return scanBet(row)
}

func (r *betRepo) FindBySettledReference(ctx context.Context, db DBTX, userID, ref string) (*domain.Bet, error) {
	if ref == "" {
		return nil, nil
	}
	row := db.QueryRow(ctx, `SELECT `+betColumns+`
		FROM bets WHERE user_id = $1 AND settled_reference = $2`, userID, ref)
	return scanBet(row)
}

func (r *betRepo) RoundExists(ctx context.Context, db DBTX, key domain.RoundKey) (bool, error) {
	var exists bool
	err := db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM bets WHERE user_id = $1 AND game_id = $2 AND round_id = $3)`,
		key.UserID, key.GameID, key.RoundID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query round bets: %w", err)
	}
	return exists, nil
}

func (r *betRepo) Resolve(ctx context.Context, db DBTX, betID int64, res domain.BetResolution) (*domain.Bet, error) {
	row := db.QueryRow(ctx, `
		UPDATE bets SET
			outcome = $2, win_amount = $3, multiplier = $4,
			win_transaction_id = COALESCE($5, win_transaction_id), result_at = $6,
			settled_reference = COALESCE(NULLIF($7, ''), settled_reference)
		WHERE id = $1
		RETURNING `+betColumns,
		betID, string(res.Outcome), numArg(res.WinAmount), numArg(res.Multiplier),
		res.WinTransactionID, res.ResultAt, res.SettledReference,
	)
	bet, err := scanBet(row)
	if err != nil {
		return nil, err
	}
	if bet == nil {
		return nil, domain.ErrNotFound("bet", fmt.Sprint(betID))
	}
	return bet, nil
}

func scanBet(row pgx.Row) (*domain.Bet, error) {
	var b domain.Bet
	err := row.Scan(
		&b.ID, &b.UserID, &b.GameID, &b.WalletCategory, &b.TransactionID, &b.WinTransactionID,
		num(&b.BetAmount), num(&b.WinAmount), num(&b.Multiplier),
		&b.Outcome, &b.RoundID, &b.SessionID, &b.SettledReference, &b.PlacedAt, &b.ResultAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan bet: %w", err)
	}
	return &b, nil
}

func collectBets(rows pgx.Rows) ([]domain.Bet, error) {
	var bets []domain.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		bets = append(bets, *b)
	}
	return bets, rows.Err()
}
