package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/attaboy/settlement/internal/domain"
)

// OutboxSource is the event_outbox table as seen by the poller.
type OutboxSource interface {
	Fetch(ctx context.Context, limit int) ([]domain.OutboxDraft, error)
	Ack(ctx context.Context, seqIDs []int64) error
}

// Publisher sends one message to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// OutboxPoller polls the event_outbox table and publishes events to Kafka.
type OutboxPoller struct {
	source      OutboxSource
	publisher   Publisher
	metrics     *Metrics
	logger      *slog.Logger
	topicPrefix string
	interval    time.Duration
	batchSize   int
}

// NewOutboxPoller creates a new outbox poller.
func NewOutboxPoller(source OutboxSource, publisher Publisher, metrics *Metrics, logger *slog.Logger) *OutboxPoller {
	if logger == nil {
		logger = slog.Default()
	}
	return &OutboxPoller{
		source:      source,
		publisher:   publisher,
		metrics:     metrics,
		logger:      logger,
		topicPrefix: "settlement",
		interval:    500 * time.Millisecond,
		batchSize:   100,
	}
}

// WithInterval overrides the poll interval and batch size.
func (p *OutboxPoller) WithInterval(interval time.Duration, batchSize int) *OutboxPoller {
	if interval > 0 {
		p.interval = interval
	}
	if batchSize > 0 {
		p.batchSize = batchSize
	}
	return p
}

// WithTopicPrefix sets the first segment of every topic name.
func (p *OutboxPoller) WithTopicPrefix(prefix string) *OutboxPoller {
	if prefix != "" {
		p.topicPrefix = prefix
	}
	return p
}

// Run polls until ctx is cancelled.
func (p *OutboxPoller) Run(ctx context.Context) {
	p.logger.Info("outbox poller started", "interval", p.interval, "batch_size", p.batchSize)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("outbox poller stopped")
			return
		case <-ticker.C:
			if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error("outbox poll error", "error", err)
			}
		}
	}
}

// Topic returns the Kafka topic of an event.
func (p *OutboxPoller) Topic(e domain.OutboxDraft) string {
	return fmt.Sprintf("%s.%s.%s", p.topicPrefix, e.AggregateType, e.EventType)
}

// Poll relays one batch and returns how many events were published. Events
// are acked only after a successful publish; a failed one stays for the next
// poll, so delivery is at-least-once.
func (p *OutboxPoller) Poll(ctx context.Context) (int, error) {
	events, err := p.source.Fetch(ctx, p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch outbox: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	acked := make([]int64, 0, len(events))
	failed := 0
	for _, e := range events {
		msg, err := json.Marshal(map[string]interface{}{
			"event_id":       e.EventID,
			"aggregate_type": e.AggregateType,
			"aggregate_id":   e.AggregateID,
			"event_type":     e.EventType,
			"headers":        e.Headers,
			"payload":        e.Payload,
			"occurred_at":    e.OccurredAt,
		})
		if err != nil {
			failed++
			p.logger.Error("outbox encode failed", "event_id", e.EventID, "error", err)
			continue
		}

		if err := p.publisher.Publish(ctx, p.Topic(e), []byte(e.PartitionKey), msg); err != nil {
			failed++
			p.logger.Error("kafka publish failed", "event_id", e.EventID, "error", err)
			continue
		}
		acked = append(acked, e.SeqID)
	}

	p.metrics.ObserveOutbox(len(acked), failed)
	if len(acked) == 0 {
		return 0, nil
	}
	if err := p.source.Ack(ctx, acked); err != nil {
		return 0, fmt.Errorf("mark published: %w", err)
	}

	p.logger.Debug("outbox poll complete", "published", len(acked), "failed", failed)
	return len(acked), nil
}
