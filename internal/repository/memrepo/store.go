// Package memrepo is an in-memory implementation of every repository in
// internal/repository. Units of work run one at a time; a failed unit restores
// the state it started from, so tests observe the same all-or-nothing behavior
// as the Postgres implementation.
package memrepo

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/attaboy/settlement/internal/domain"
	"github.com/attaboy/settlement/internal/repository"
	"github.com/jackc/pgx/v5"
)

// Store holds all tables.
type Store struct {
	txMu sync.Mutex // serializes units of work
	mu   sync.Mutex // guards the fields below

	state  state
	faults map[string]error
	now    func() time.Time
}

type state struct {
	users   map[string]domain.User
	games   map[string]domain.Game
	wallets map[domain.WalletKey]domain.Wallet
	txs     []domain.Transaction // id == index+1
	bets    []domain.Bet         // id == index+1
	cancels map[int64]domain.CancellationRecord
	rounds  map[domain.RoundKey]time.Time
	outbox  []domain.OutboxDraft
	seq     int64
}

// New returns an empty store.
func New() *Store {
	return &Store{
		state: state{
			users:   make(map[string]domain.User),
			games:   make(map[string]domain.Game),
			wallets: make(map[domain.WalletKey]domain.Wallet),
			cancels: make(map[int64]domain.CancellationRecord),
			rounds:  make(map[domain.RoundKey]time.Time),
		},
		faults: make(map[string]error),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s state) clone() state {
	return state{
		users:   maps.Clone(s.users),
		games:   maps.Clone(s.games),
		wallets: maps.Clone(s.wallets),
		txs:     slices.Clone(s.txs),
		bets:    slices.Clone(s.bets),
		cancels: maps.Clone(s.cancels),
		rounds:  maps.Clone(s.rounds),
		outbox:  slices.Clone(s.outbox),
		seq:     s.seq,
	}
}

// InTx implements repository.TxRunner. fn receives a nil pgx.Tx; memrepo
// repositories ignore the handle.
func (s *Store) InTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	snapshot := s.state.clone()
	s.mu.Unlock()

	if err := fn(nil); err != nil {
		s.mu.Lock()
		s.state = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// InjectFault makes the next call of op fail with err. Ops are named
// "<table>.<method>", e.g. "bets.insert".
func (s *Store) InjectFault(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = err
}

// fault must be called with mu held.
func (s *Store) fault(op string) error {
	if err, ok := s.faults[op]; ok {
		delete(s.faults, op)
		return err
	}
	return nil
}

// --- seeding and inspection helpers ---

// PutUser inserts or replaces a user.
func (s *Store) PutUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.Status == "" {
		u.Status = domain.UserActive
	}
	if u.Currency == "" {
		u.Currency = "EUR"
	}
	s.state.users[u.ID] = u
}

// PutGame inserts or replaces a game.
func (s *Store) PutGame(g domain.Game) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.games[g.ID] = g
}

// PutWallet inserts or replaces a wallet snapshot without touching the log.
func (s *Store) PutWallet(w domain.Wallet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.wallets[w.Key()] = w
}

// Wallet returns a copy of the snapshot for key.
func (s *Store) Wallet(key domain.WalletKey) (domain.Wallet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.state.wallets[key]
	return w, ok
}

// Transactions returns a copy of the whole log.
func (s *Store) Transactions() []domain.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.state.txs)
}

// Bets returns a copy of every bet.
func (s *Store) Bets() []domain.Bet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.state.bets)
}

// Cancellations returns every cancellation record.
func (s *Store) Cancellations() []domain.CancellationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Collect(maps.Values(s.state.cancels))
}

// Outbox returns every unpublished event.
func (s *Store) Outbox() []domain.OutboxDraft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.state.outbox)
}

// Repositories bundles the repository views of one store.
type Repositories struct {
	Wallets       repository.WalletRepository
	Transactions  repository.TransactionRepository
	Bets          repository.BetRepository
	Cancellations repository.CancellationRepository
	Rounds        repository.RoundRepository
	Outbox        repository.OutboxRepository
	Users         repository.UserRepository
	Games         repository.GameRepository
}

// Repos returns repository views backed by s.
func (s *Store) Repos() Repositories {
	return Repositories{
		Wallets:       walletRepo{s},
		Transactions:  transactionRepo{s},
		Bets:          betRepo{s},
		Cancellations: cancellationRepo{s},
		Rounds:        roundRepo{s},
		Outbox:        outboxRepo{s},
		Users:         userRepo{s},
		Games:         gameRepo{s},
	}
}

func notFound(entity string, id interface{}) error {
	return domain.ErrNotFound(entity, fmt.Sprint(id))
}
