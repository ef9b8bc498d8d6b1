package memrepo

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/attaboy/settlement/internal/domain"
	"github.com/attaboy/settlement/internal/money"
	"github.com/attaboy/settlement/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// --- wallets ---

type walletRepo struct{ s *Store }

func (r walletRepo) Ensure(_ context.Context, _ repository.DBTX, key domain.WalletKey, currency string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("wallets.ensure"); err != nil {
		return err
	}
	if _, ok := r.s.state.wallets[key]; ok {
		return nil
	}
	r.s.state.wallets[key] = domain.Wallet{
		UserID:    key.UserID,
		Category:  key.Category,
		Currency:  currency,
		UpdatedAt: r.s.now(),
	}
	return nil
}

func (r walletRepo) Exists(_ context.Context, _ repository.DBTX, key domain.WalletKey) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.state.wallets[key]
	return ok, nil
}

func (r walletRepo) FindByKey(_ context.Context, _ repository.DBTX, key domain.WalletKey) (*domain.Wallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.state.wallets[key]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (r walletRepo) ListByUser(_ context.Context, _ repository.DBTX, userID string) ([]domain.Wallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Wallet
	for k, w := range r.s.state.wallets {
		if k.UserID == userID {
			out = append(out, w)
		}
	}
	slices.SortFunc(out, func(a, b domain.Wallet) int { return cmp.Compare(a.Category, b.Category) })
	return out, nil
}

func (r walletRepo) ListKeys(_ context.Context, _ repository.DBTX, after *domain.WalletKey, limit int) ([]domain.WalletKey, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > repository.MaxKeyPage {
		limit = repository.MaxKeyPage
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	keys := make([]domain.WalletKey, 0, len(r.s.state.wallets))
	for k := range r.s.state.wallets {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeys)

	out := make([]domain.WalletKey, 0, limit)
	for _, k := range keys {
		if after != nil && compareKeys(k, *after) <= 0 {
			continue
		}
		out = append(out, k)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func compareKeys(a, b domain.WalletKey) int {
	if c := cmp.Compare(a.UserID, b.UserID); c != 0 {
		return c
	}
	return cmp.Compare(a.Category, b.Category)
}

func (r walletRepo) LockForUpdate(ctx context.Context, _ pgx.Tx, key domain.WalletKey) (*domain.Wallet, error) {
	r.s.mu.Lock()
	if err := r.s.fault("wallets.lock"); err != nil {
		r.s.mu.Unlock()
		return nil, err
	}
	r.s.mu.Unlock()
	return r.FindByKey(ctx, nil, key)
}

func (r walletRepo) UpdateBalances(_ context.Context, _ pgx.Tx, key domain.WalletKey, d domain.BalanceUpdate) (*domain.BalanceChange, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("wallets.update"); err != nil {
		return nil, err
	}

	w, ok := r.s.state.wallets[key]
	if !ok {
		return nil, notFound("wallet", key.UserID+"/"+key.Category)
	}
	before := w.Balance

	next := money.Add(w.Balance, d.Balance)
	if next.IsNegative() {
		return nil, domain.ErrInsufficientBalance()
	}
	w.Balance = next
	w.LockedBalance = decimal.Max(money.Add(w.LockedBalance, d.LockedBalance), decimal.Zero)
	w.BonusBalance = money.Add(w.BonusBalance, d.BonusBalance)
	w.TotalDeposited = money.Add(w.TotalDeposited, d.TotalDeposited)
	w.TotalWithdrawn = money.Add(w.TotalWithdrawn, d.TotalWithdrawn)
	w.TotalWagered = money.Add(w.TotalWagered, d.TotalWagered)
	w.TotalWon = money.Add(w.TotalWon, d.TotalWon)
	w.UpdatedAt = r.s.now()
	r.s.state.wallets[key] = w

	out := w
	return &domain.BalanceChange{Wallet: &out, Before: before, After: w.Balance}, nil
}

func (r walletRepo) Overwrite(_ context.Context, _ pgx.Tx, w *domain.Wallet) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.state.wallets[w.Key()]; !ok {
		return notFound("wallet", w.UserID+"/"+w.Category)
	}
	cp := *w
	cp.UpdatedAt = r.s.now()
	r.s.state.wallets[w.Key()] = cp
	return nil
}

// --- transactions ---

type transactionRepo struct{ s *Store }

func (r transactionRepo) FindByReference(_ context.Context, _ repository.DBTX, userID, ref string) (*domain.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, tx := range r.s.state.txs {
		if tx.UserID == userID && tx.ExternalReference == ref {
			return &tx, nil
		}
	}
	return nil, nil
}

func (r transactionRepo) ListByReference(_ context.Context, _ repository.DBTX, ref string) ([]domain.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Transaction
	for _, tx := range r.s.state.txs {
		if tx.ExternalReference == ref {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (r transactionRepo) FindByID(_ context.Context, _ repository.DBTX, id int64) (*domain.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if id <= 0 || int(id) > len(r.s.state.txs) {
		return nil, nil
	}
	tx := r.s.state.txs[id-1]
	return &tx, nil
}

func (r transactionRepo) Insert(_ context.Context, _ repository.DBTX, tx *domain.Transaction) (*domain.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("transactions.insert"); err != nil {
		return nil, err
	}
	for _, existing := range r.s.state.txs {
		if existing.UserID == tx.UserID && existing.ExternalReference == tx.ExternalReference {
			return nil, repository.ErrDuplicateReference
		}
	}

	entry := *tx
	entry.ID = int64(len(r.s.state.txs) + 1)
	if entry.Status == "" {
		entry.Status = domain.StatusCompleted
	}
	if len(entry.Metadata) == 0 {
		entry.Metadata = json.RawMessage(`{}`)
	}
	entry.CreatedAt = r.s.now()
	r.s.state.txs = append(r.s.state.txs, entry)
	return &entry, nil
}

func (r transactionRepo) MarkCancelled(_ context.Context, _ repository.DBTX, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("transactions.cancel"); err != nil {
		return err
	}
	if id <= 0 || int(id) > len(r.s.state.txs) {
		return notFound("transaction", id)
	}
	r.s.state.txs[id-1].Status = domain.StatusCancelled
	return nil
}

func (r transactionRepo) ListByWallet(_ context.Context, _ repository.DBTX, key domain.WalletKey) ([]domain.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Transaction
	for _, tx := range r.s.state.txs {
		if tx.UserID == key.UserID && tx.WalletCategory == key.Category {
			out = append(out, tx)
		}
	}
	return out, nil
}

// --- bets ---

type betRepo struct{ s *Store }

func (r betRepo) Insert(_ context.Context, _ repository.DBTX, bet *domain.Bet) (*domain.Bet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("bets.insert"); err != nil {
		return nil, err
	}
	b := *bet
	b.ID = int64(len(r.s.state.bets) + 1)
	if b.Outcome == "" {
		b.Outcome = domain.OutcomePending
	}
	r.s.state.bets = append(r.s.state.bets, b)
	return &b, nil
}

// lastPending scans newest first. Must be called with mu held.
func (r betRepo) lastPending(match func(b *domain.Bet) bool) *domain.Bet {
	for i := len(r.s.state.bets) - 1; i >= 0; i-- {
		b := r.s.state.bets[i]
		if b.Pending() && match(&b) {
			return &b
		}
	}
	return nil
}

func (r betRepo) FindPendingByRound(_ context.Context, _ repository.DBTX, key domain.RoundKey) (*domain.Bet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.lastPending(func(b *domain.Bet) bool {
		return b.UserID == key.UserID && b.GameID == key.GameID && b.RoundID == key.RoundID
	}), nil
}

func (r betRepo) FindLatestPendingByGame(_ context.Context, _ repository.DBTX, userID, gameID string) (*domain.Bet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.lastPending(func(b *domain.Bet) bool {
		return b.UserID == userID && b.GameID == gameID
	}), nil
}

func (r betRepo) ListPendingByRound(_ context.Context, _ repository.DBTX, key domain.RoundKey) ([]domain.Bet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Bet
	for _, b := range r.s.state.bets {
		if b.Pending() && b.UserID == key.UserID && b.GameID == key.GameID && b.RoundID == key.RoundID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r betRepo) ListPendingByWallet(_ context.Context, _ repository.DBTX, key domain.WalletKey) ([]domain.Bet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Bet
	for _, b := range r.s.state.bets {
		if b.Pending() && b.UserID == key.UserID && b.WalletCategory == key.Category {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r betRepo) FindByTransactionID(_ context.Context, _ repository.DBTX, txID int64) (*domain.Bet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, b := range r.s.state.bets {
		if b.TransactionID == txID {
			return &b, nil
		}
	}
	return nil, nil
}

func (r betRepo) FindBySettledReference(_ context.Context, _ repository.DBTX, userID, ref string) (*domain.Bet, error) {
	if ref == "" {
		return nil, nil
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, b := range r.s.state.bets {
		if b.UserID == userID && b.SettledReference == ref {
			return &b, nil
		}
	}
	return nil, nil
}

func (r betRepo) RoundExists(_ context.Context, _ repository.DBTX, key domain.RoundKey) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, b := range r.s.state.bets {
		if b.UserID == key.UserID && b.GameID == key.GameID && b.RoundID == key.RoundID {
			return true, nil
		}
	}
	return false, nil
}

func (r betRepo) Resolve(_ context.Context, _ repository.DBTX, betID int64, res domain.BetResolution) (*domain.Bet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("bets.resolve"); err != nil {
		return nil, err
	}
	if betID <= 0 || int(betID) > len(r.s.state.bets) {
		return nil, notFound("bet", betID)
	}
	b := &r.s.state.bets[betID-1]
	b.Outcome = res.Outcome
	b.WinAmount = res.WinAmount
	b.Multiplier = res.Multiplier
	if res.WinTransactionID != nil {
		id := *res.WinTransactionID
		b.WinTransactionID = &id
	}
	if res.SettledReference != "" {
		b.SettledReference = res.SettledReference
	}
	at := res.ResultAt
	b.ResultAt = &at
	out := *b
	return &out, nil
}

// --- cancellations ---

type cancellationRepo struct{ s *Store }

func (r cancellationRepo) FindByOriginal(_ context.Context, _ repository.DBTX, originalTxID int64) (*domain.CancellationRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.state.cancels[originalTxID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (r cancellationRepo) Insert(_ context.Context, _ repository.DBTX, rec *domain.CancellationRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("cancellations.insert"); err != nil {
		return err
	}
	if _, ok := r.s.state.cancels[rec.OriginalTransactionID]; ok {
		return fmt.Errorf("insert cancellation: %w", repository.ErrDuplicateReference)
	}
	r.s.state.cancels[rec.OriginalTransactionID] = *rec
	return nil
}

// --- rounds ---

type roundRepo struct{ s *Store }

func (r roundRepo) MarkFinished(_ context.Context, _ repository.DBTX, key domain.RoundKey) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.state.rounds[key]; ok {
		return false, nil
	}
	r.s.state.rounds[key] = r.s.now()
	return true, nil
}

// --- outbox ---

type outboxRepo struct{ s *Store }

func (r outboxRepo) Insert(_ context.Context, _ repository.DBTX, draft domain.OutboxDraft) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("outbox.insert"); err != nil {
		return err
	}
	r.s.state.seq++
	draft.SeqID = r.s.state.seq
	r.s.state.outbox = append(r.s.state.outbox, draft)
	return nil
}

func (r outboxRepo) FetchUnpublished(_ context.Context, _ repository.DBTX, limit int) ([]domain.OutboxDraft, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := min(limit, len(r.s.state.outbox))
	return slices.Clone(r.s.state.outbox[:n]), nil
}

func (r outboxRepo) MarkPublished(_ context.Context, _ repository.DBTX, ids []int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.state.outbox = slices.DeleteFunc(r.s.state.outbox, func(d domain.OutboxDraft) bool {
		return slices.Contains(ids, d.SeqID)
	})
	return nil
}

// --- collaborators ---

type userRepo struct{ s *Store }

func (r userRepo) FindByID(_ context.Context, _ repository.DBTX, id string) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.state.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

type gameRepo struct{ s *Store }

func (r gameRepo) FindOrCreate(_ context.Context, _ repository.DBTX, gameID, defaultCategory string) (*domain.Game, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	g, ok := r.s.state.games[gameID]
	if !ok {
		g = domain.Game{ID: gameID, Category: defaultCategory, IsActive: true, CreatedAt: r.s.now()}
		r.s.state.games[gameID] = g
	}
	return &g, nil
}
