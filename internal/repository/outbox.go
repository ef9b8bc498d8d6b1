package repository

import (
	"context"
	"fmt"

	"github.com/attaboy/settlement/internal/domain"
)

type outboxRepo struct{}

// NewOutboxRepository returns a pgx-backed OutboxRepository.
func NewOutboxRepository() OutboxRepository {
	return &outboxRepo{}
}

func (r *outboxRepo) Insert(ctx context.Context, db DBTX, draft domain.OutboxDraft) error {
	_, err := db.Exec(ctx, `
		INSERT INTO event_outbox
		  (event_id, aggregate_type, aggregate_id, event_type, partition_key, headers, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		draft.EventID,
		string(draft.AggregateType),
		draft.AggregateID,
		string(draft.EventType),
		draft.PartitionKey,
		draft.Headers,
		draft.Payload,
		draft.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

func (r *outboxRepo) FetchUnpublished(ctx context.Context, db DBTX, limit int) ([]domain.OutboxDraft, error) {
	rows, err := db.Query(ctx, `
		SELECT id, event_id, aggregate_type, aggregate_id, event_type,
		       partition_key, headers, payload, occurred_at
		FROM event_outbox
		ORDER BY id ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch unpublished events: %w", err)
	}
	defer rows.Close()

	var events []domain.OutboxDraft
	for rows.Next() {
		var d domain.OutboxDraft
		err := rows.Scan(&d.SeqID, &d.EventID, &d.AggregateType, &d.AggregateID,
			&d.EventType, &d.PartitionKey, &d.Headers, &d.Payload, &d.OccurredAt)
		if err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		events = append(events, d)
	}
	return events, rows.Err()
}

func (r *outboxRepo) MarkPublished(ctx context.Context, db DBTX, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := db.Exec(ctx, `DELETE FROM event_outbox WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("mark published: %w", err)
	}
	return nil
}

// OutboxFeed binds an OutboxRepository to a connection so the relay can drain
// it without knowing about DBTX. Run a single relay per database.
type OutboxFeed struct {
	db   DBTX
	repo OutboxRepository
}

// NewOutboxFeed creates a feed over repo on db.
func NewOutboxFeed(db DBTX, repo OutboxRepository) *OutboxFeed {
	return &OutboxFeed{db: db, repo: repo}
}

// Fetch returns up to limit unpublished events, oldest first.
func (f *OutboxFeed) Fetch(ctx context.Context, limit int) ([]domain.OutboxDraft, error) {
	return f.repo.FetchUnpublished(ctx, f.db, limit)
}

// Ack removes published events.
func (f *OutboxFeed) Ack(ctx context.Context, seqIDs []int64) error {
	return f.repo.MarkPublished(ctx, f.db, seqIDs)
}
