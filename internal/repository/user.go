package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/attaboy/settlement/internal/domain"
	"github.com/jackc/pgx/v5"
)

type userRepo struct{}

// NewUserRepository returns a pgx-backed UserRepository.
func NewUserRepository() UserRepository {
	return &userRepo{}
}

func (r *userRepo) FindByID(ctx context.Context, db DBTX, id string) (*domain.User, error) {
	var u domain.User
	err := db.QueryRow(ctx, `
		SELECT id, username, currency, status, created_at
		FROM users WHERE id = $1`, id).Scan(&u.ID, &u.Username, &u.Currency, &u.Status, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

type gameRepo struct{}

// NewGameRepository returns a pgx-backed GameRepository.
func NewGameRepository() GameRepository {
	return &gameRepo{}
}

// FindOrCreate upserts with a no-op update so the existing row is always returned.
func (r *gameRepo) FindOrCreate(ctx context.Context, db DBTX, gameID, defaultCategory string) (*domain.Game, error) {
	var g domain.Game
	err := db.QueryRow(ctx, `
		INSERT INTO games (id, category, is_active)
		VALUES ($1, $2, true)
		ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id
		RETURNING id, category, is_active, created_at`, gameID, defaultCategory).
		Scan(&g.ID, &g.Category, &g.IsActive, &g.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("find or create game: %w", err)
	}
	return &g, nil
}
