package repository

import (
	"context"
	"fmt"

	"github.com/attaboy/settlement/internal/domain"
)

type roundRepo struct{}

// NewRoundRepository returns a pgx-backed RoundRepository.
func NewRoundRepository() RoundRepository {
	return &roundRepo{}
}

func (r *roundRepo) MarkFinished(ctx context.Context, db DBTX, key domain.RoundKey) (bool, error) {
	tag, err := db.Exec(ctx, `
		INSERT INTO round_markers (user_id, game_id, round_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, game_id, round_id) DO NOTHING`,
		key.UserID, key.GameID, key.RoundID)
	if err != nil {
		return false, fmt.Errorf("insert round marker: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
