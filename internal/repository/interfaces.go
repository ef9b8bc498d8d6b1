package repository

import (
	"context"

	"github.com/attaboy/settlement/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// MaxKeyPage is the largest page WalletRepository.ListKeys returns.
const MaxKeyPage = 1000

// DBTX abstracts pgx.Tx and pgxpool.Pool so repositories work with both.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// TxRunner runs fn as one all-or-nothing unit of work. A non-nil error from fn
// rolls back every write made through the tx.
type TxRunner interface {
	InTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// WalletRepository provides access to the wallets balance snapshot table.
type WalletRepository interface {
	// Ensure creates the wallet row at zero if it does not exist.
	Ensure(ctx context.Context, db DBTX, key domain.WalletKey, currency string) error

	// Exists reports whether a snapshot row exists for key.
	Exists(ctx context.Context, db DBTX, key domain.WalletKey) (bool, error)

	// FindByKey returns the wallet or nil.
	FindByKey(ctx context.Context, db DBTX, key domain.WalletKey) (*domain.Wallet, error)

	// ListByUser returns every wallet owned by a user.
	ListByUser(ctx context.Context, db DBTX, userID string) ([]domain.Wallet, error)

	// ListKeys pages through wallet keys ordered by (user_id, category).
	// limit is capped at MaxKeyPage.
	ListKeys(ctx context.Context, db DBTX, after *domain.WalletKey, limit int) ([]domain.WalletKey, error)

	// LockForUpdate acquires a row-level lock (SELECT FOR UPDATE) and returns the wallet.
	LockForUpdate(ctx context.Context, tx pgx.Tx, key domain.WalletKey) (*domain.Wallet, error)

	// UpdateBalances atomically applies delta using server-side arithmetic and
	// returns the balance before and after from the same statement.
	// A result that would make balance negative fails with INSUFFICIENT_BALANCE.
	UpdateBalances(ctx context.Context, tx pgx.Tx, key domain.WalletKey, delta domain.BalanceUpdate) (*domain.BalanceChange, error)

	// Overwrite replaces every balance column (reconciliation only).
	Overwrite(ctx context.Context, tx pgx.Tx, w *domain.Wallet) error
}

// TransactionRepository provides access to the append-only transactions log.
type TransactionRepository interface {
	// FindByReference is the idempotency index lookup keyed by (user_id, external_reference).
	FindByReference(ctx context.Context, db DBTX, userID, ref string) (*domain.Transaction, error)

	// ListByReference returns every entry carrying ref, across users, oldest first.
	ListByReference(ctx context.Context, db DBTX, ref string) ([]domain.Transaction, error)

	// FindByID returns a transaction by ID.
	FindByID(ctx context.Context, db DBTX, id int64) (*domain.Transaction, error)

	// Insert appends a ledger entry. A duplicate (user_id, external_reference)
	// fails with ErrDuplicateReference.
	Insert(ctx context.Context, db DBTX, tx *domain.Transaction) (*domain.Transaction, error)

	// MarkCancelled flips status to cancelled; it is the only mutation allowed.
	MarkCancelled(ctx context.Context, db DBTX, id int64) error

	// ListByWallet returns the full log of one wallet ordered by id ASC.
	ListByWallet(ctx context.Context, db DBTX, key domain.WalletKey) ([]domain.Transaction, error)
}

// BetRepository provides access to bets.
type BetRepository interface {
	Insert(ctx context.Context, db DBTX, bet *domain.Bet) (*domain.Bet, error)

	// FindPendingByRound returns the newest pending bet for an exact round, or nil.
	FindPendingByRound(ctx context.Context, db DBTX, key domain.RoundKey) (*domain.Bet, error)

	// FindLatestPendingByGame returns the newest pending bet for user+game, or nil.
	FindLatestPendingByGame(ctx context.Context, db DBTX, userID, gameID string) (*domain.Bet, error)

	// ListPendingByRound returns every pending bet of a round.
	ListPendingByRound(ctx context.Context, db DBTX, key domain.RoundKey) ([]domain.Bet, error)

	// ListPendingByWallet returns every pending bet staked from a wallet.
	ListPendingByWallet(ctx context.Context, db DBTX, key domain.WalletKey) ([]domain.Bet, error)

	// FindByTransactionID returns the bet tied to a bet-type transaction, or nil.
	FindByTransactionID(ctx context.Context, db DBTX, txID int64) (*domain.Bet, error)

	// FindBySettledReference returns the bet a LOSS with this reference
	// resolved, or nil.
	FindBySettledReference(ctx context.Context, db DBTX, userID, ref string) (*domain.Bet, error)

	// RoundExists reports whether any bet, settled or not, belongs to the round.
	RoundExists(ctx context.Context, db DBTX, key domain.RoundKey) (bool, error)

	// Resolve applies an outcome to a bet and returns the updated row.
	Resolve(ctx context.Context, db DBTX, betID int64, res domain.BetResolution) (*domain.Bet, error)
}

// CancellationRepository provides access to cancellation records.
type CancellationRepository interface {
	FindByOriginal(ctx context.Context, db DBTX, originalTxID int64) (*domain.CancellationRecord, error)
	Insert(ctx context.Context, db DBTX, rec *domain.CancellationRecord) error
}

// RoundRepository records finished-round activity markers.
type RoundRepository interface {
	// MarkFinished inserts the marker if absent and reports whether it was new.
	MarkFinished(ctx context.Context, db DBTX, key domain.RoundKey) (bool, error)
}

// OutboxRepository provides access to the event_outbox table.
type OutboxRepository interface {
	// Insert writes an outbox event (within the same transaction as the ledger entry).
	Insert(ctx context.Context, db DBTX, draft domain.OutboxDraft) error

	// FetchUnpublished returns unpublished events for the outbox poller, oldest first.
	FetchUnpublished(ctx context.Context, db DBTX, limit int) ([]domain.OutboxDraft, error)

	// MarkPublished deletes published events by sequence id.
	MarkPublished(ctx context.Context, db DBTX, ids []int64) error
}

// UserRepository is the user/player-status collaborator.
type UserRepository interface {
	FindByID(ctx context.Context, db DBTX, id string) (*domain.User, error)
}

// GameRepository is the game catalog collaborator.
type GameRepository interface {
	// FindOrCreate returns the game, lazily materializing an unknown id with
	// defaultCategory and is_active = true.
	FindOrCreate(ctx context.Context, db DBTX, gameID, defaultCategory string) (*domain.Game, error)
}
