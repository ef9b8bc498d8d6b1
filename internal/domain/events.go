package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// NewTransactionPostedEvent creates the standard wallet event for a ledger entry.
func NewTransactionPostedEvent(tx *Transaction) OutboxDraft {
	payload, _ := json.Marshal(tx)
	return newDraft(AggregateWallet, tx.UserID, EventTransactionPosted, payload, tx.CreatedAt)
}

// NewBetResolvedEvent is emitted when a pending bet reaches win, lose or cancelled.
func NewBetResolvedEvent(bet *Bet) OutboxDraft {
	payload, _ := json.Marshal(bet)
	occurred := time.Now().UTC()
	if bet.ResultAt != nil {
		occurred = *bet.ResultAt
	}
	return newDraft(AggregateBet, bet.UserID, EventBetResolved, payload, occurred)
}

// NewRoundFinishedEvent records a finishround and the bets it forced to lose.
func NewRoundFinishedEvent(key RoundKey, settled int, at time.Time) OutboxDraft {
	payload, _ := json.Marshal(map[string]interface{}{
		"user_id":      key.UserID,
		"game_id":      key.GameID,
		"round_id":     key.RoundID,
		"settled_bets": settled,
	})
	return newDraft(AggregateRound, key.UserID, EventRoundFinished, payload, at)
}

// NewWalletReconciledEvent records a snapshot overwrite by reconciliation.
func NewWalletReconciledEvent(before, after *Wallet, at time.Time) OutboxDraft {
	payload, _ := json.Marshal(map[string]interface{}{
		"user_id":  after.UserID,
		"category": after.Category,
		"before":   before,
		"after":    after,
	})
	return newDraft(AggregateWallet, after.UserID, EventWalletReconciled, payload, at)
}

func newDraft(agg AggregateType, userID string, evt EventType, payload json.RawMessage, at time.Time) OutboxDraft {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return OutboxDraft{
		EventID:       uuid.New(),
		AggregateType: agg,
		AggregateID:   userID,
		EventType:     evt,
		PartitionKey:  userID,
		Headers:       json.RawMessage(`{}`),
		Payload:       payload,
		OccurredAt:    at,
	}
}
