package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates all domain event types.
type EventType string

const (
	EventTransactionPosted EventType = "settlement.transaction.posted"
	EventBetResolved       EventType = "settlement.bet.resolved"
	EventRoundFinished     EventType = "settlement.round.finished"
	EventWalletReconciled  EventType = "settlement.balance.reconciled"
)

// AggregateType enumerates the aggregate root types for outbox events.
type AggregateType string

const (
	AggregateWallet AggregateType = "wallet"
	AggregateBet    AggregateType = "bet"
	AggregateRound  AggregateType = "round"
)

// OutboxDraft is the payload written to the event_outbox table.
type OutboxDraft struct {
	SeqID         int64           `json:"-"`
	EventID       uuid.UUID       `json:"eventId"`
	AggregateType AggregateType   `json:"aggregateType"`
	AggregateID   string          `json:"aggregateId"`
	EventType     EventType       `json:"eventType"`
	PartitionKey  string          `json:"partitionKey"`
	Headers       json.RawMessage `json:"headers"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurredAt"`
}
