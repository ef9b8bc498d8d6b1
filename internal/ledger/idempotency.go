package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/attaboy/settlement/internal/domain"
	"github.com/attaboy/settlement/internal/repository"
	"github.com/jackc/pgx/v5"
)

// FindExisting checks whether a transaction with the same (user, reference) key
// exists. Returns nil if no duplicate found. Callers must hold the user's wallet lock.
func (e *Engine) FindExisting(ctx context.Context, tx pgx.Tx, userID, ref string) (*domain.Transaction, error) {
	if ref == "" {
		return nil, nil
	}
	existing, err := e.transactions.FindByReference(ctx, tx, userID, ref)
	if err != nil {
		return nil, fmt.Errorf("find existing transaction: %w", err)
	}
	return existing, nil
}

// IsDuplicate reports whether err came from the idempotency unique constraint,
// meaning another node committed the same reference first. The unit of work
// must be rolled back and retried; the retry finds the committed entry.
func IsDuplicate(err error) bool {
	return errors.Is(err, repository.ErrDuplicateReference)
}

// CancelReference is the external reference of the adjustment reversing ref.
func CancelReference(ref string) string {
	return domain.CancelReferencePrefix + ref
}

func replay(existing *domain.Transaction, wallet *domain.Wallet) *domain.CommandResult {
	return &domain.CommandResult{Transaction: existing, Wallet: wallet, Idempotent: true}
}
