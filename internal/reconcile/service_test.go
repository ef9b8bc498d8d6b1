package reconcile

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/attaboy/settlement/internal/cache"
	"github.com/attaboy/settlement/internal/clock"
	"github.com/attaboy/settlement/internal/domain"
	"github.com/attaboy/settlement/internal/ledger"
	"github.com/attaboy/settlement/internal/money"
	"github.com/attaboy/settlement/internal/repository"
	"github.com/attaboy/settlement/internal/repository/memrepo"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	store  *memrepo.Store
	engine *ledger.Engine
	cache  *cache.InMemoryStore
	clock  *clock.Fixed
}

func newTestEnv() *testEnv {
	store := memrepo.New()
	r := store.Repos()
	clk := clock.NewFixed(time.Date(2026, 10, 14, 3, 0, 0, 0, time.UTC))
	return &testEnv{
		store:  store,
		engine: ledger.NewEngine(r.Wallets, r.Transactions, r.Bets, r.Cancellations, r.Rounds, r.Outbox, clk),
		cache:  cache.NewInMemoryStore(),
		clock:  clk,
	}
}

func (e *testEnv) service(apply bool, batch int) *Service {
	r := e.store.Repos()
	return New(Config{
		Runner:       e.store,
		Wallets:      r.Wallets,
		Transactions: r.Transactions,
		Bets:         r.Bets,
		Outbox:       r.Outbox,
		Cache:        e.cache,
		Clock:        e.clock,
		Apply:        apply,
		BatchSize:    batch,
	})
}

func (e *testEnv) run(t *testing.T, fn func(ctx context.Context, tx pgx.Tx) error) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.store.InTx(ctx, func(tx pgx.Tx) error { return fn(ctx, tx) }))
}

// seed deposits 100, bets 10 then wins 25 on r1 and leaves a 5 bet pending on r2.
func (e *testEnv) seed(t *testing.T, userID string) domain.WalletKey {
	t.Helper()
	key := domain.MainWallet(userID)
	e.run(t, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := e.engine.ExecuteCredit(ctx, tx, domain.CreditParams{
			Wallet: key, Type: domain.TxDeposit, Amount: money.MustParse("100"), Currency: "EUR", ExternalReference: "dep-" + userID,
		}); err != nil {
			return err
		}
		if _, err := e.engine.ExecutePlaceBet(ctx, tx, domain.PlaceBetParams{
			Wallet: key, GameID: "g1", Amount: money.MustParse("10"), Currency: "EUR", ExternalReference: userID + "-b1", RoundID: "r1",
		}); err != nil {
			return err
		}
		if _, err := e.engine.ExecuteCreditWin(ctx, tx, domain.CreditWinParams{
			Wallet: key, GameID: "g1", Amount: money.MustParse("25"), Currency: "EUR", ExternalReference: userID + "-w1", RoundID: "r1",
		}); err != nil {
			return err
		}
		_, err := e.engine.ExecutePlaceBet(ctx, tx, domain.PlaceBetParams{
			Wallet: key, GameID: "g1", Amount: money.MustParse("5"), Currency: "EUR", ExternalReference: userID + "-b2", RoundID: "r2",
		})
		return err
	})
	return key
}

func (e *testEnv) corrupt(t *testing.T, key domain.WalletKey, balance string) {
	t.Helper()
	w, ok := e.store.Wallet(key)
	require.True(t, ok)
	w.Balance = money.MustParse(balance)
	e.store.PutWallet(w)
}

func TestReconcileUser(t *testing.T) {
	t.Run("clean wallet", func(t *testing.T) {
		env := newTestEnv()
		env.seed(t, "u1")

		reports, err := env.service(true, 0).ReconcileUser(context.Background(), "u1")
		require.NoError(t, err)
		require.Len(t, reports, 1)

		rep := reports[0]
		assert.False(t, rep.Drift)
		assert.False(t, rep.Applied)
		assert.Empty(t, rep.Violations)
		assert.Equal(t, 4, rep.TransactionCount)
		assert.Equal(t, "110.00", rep.Recomputed.Balance)
		assert.Equal(t, "5.00", rep.Recomputed.LockedBalance)
		assert.Equal(t, "100.00", rep.Recomputed.TotalDeposited)
		assert.Equal(t, "15.00", rep.Recomputed.TotalWagered)
		assert.Equal(t, "25.00", rep.Recomputed.TotalWon)
	})

	t.Run("drift reported without apply", func(t *testing.T) {
		env := newTestEnv()
		key := env.seed(t, "u1")
		env.corrupt(t, key, "500.00")
		before := len(env.store.Outbox())

		reports, err := env.service(false, 0).ReconcileUser(context.Background(), "u1")
		require.NoError(t, err)
		require.Len(t, reports, 1)
		assert.True(t, reports[0].Drift)
		assert.False(t, reports[0].Applied)
		assert.Equal(t, "500.00", reports[0].Stored.Balance)
		assert.Equal(t, "110.00", reports[0].Recomputed.Balance)

		w, _ := env.store.Wallet(key)
		assert.Equal(t, "500.00", money.Format(w.Balance))
		assert.Len(t, env.store.Outbox(), before)
	})

	t.Run("drift repaired with apply", func(t *testing.T) {
		env := newTestEnv()
		key := env.seed(t, "u1")
		env.corrupt(t, key, "500.00")
		before := len(env.store.Outbox())

		reports, err := env.service(true, 0).ReconcileUser(context.Background(), "u1")
		require.NoError(t, err)
		require.Len(t, reports, 1)
		assert.True(t, reports[0].Drift)
		assert.True(t, reports[0].Applied)

		w, _ := env.store.Wallet(key)
		assert.Equal(t, "110.00", money.Format(w.Balance))
		assert.Equal(t, "5.00", money.Format(w.LockedBalance))

		events := env.store.Outbox()
		require.Len(t, events, before+1)
		assert.Equal(t, domain.EventWalletReconciled, events[len(events)-1].EventType)

		p, err := cache.GetBalance(context.Background(), env.cache, key)
		require.NoError(t, err)
		assert.Equal(t, "110.00", money.Format(p.Balance))

		again, err := env.service(true, 0).ReconcileUser(context.Background(), "u1")
		require.NoError(t, err)
		assert.False(t, again[0].Drift)
	})

	t.Run("unknown user", func(t *testing.T) {
		env := newTestEnv()
		_, err := env.service(true, 0).ReconcileUser(context.Background(), "ghost")
		require.Error(t, err)
		assert.True(t, domain.HasCode(err, domain.CodeNotFound))
	})
}

func TestReconcileAfterCancel(t *testing.T) {
	env := newTestEnv()
	key := env.seed(t, "u1")
	env.run(t, func(ctx context.Context, tx pgx.Tx) error {
		_, err := env.engine.ExecuteCancel(ctx, tx, domain.CancelParams{ExternalReference: "u1-b2", RequestedBy: "u1"})
		return err
	})

	rep, err := env.service(true, 0).ReconcileWallet(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, rep.Drift)
	assert.Equal(t, "115.00", rep.Recomputed.Balance)
	assert.Equal(t, "0.00", rep.Recomputed.LockedBalance)
	assert.Equal(t, "10.00", rep.Recomputed.TotalWagered)
}

func TestReconcileAll(t *testing.T) {
	env := newTestEnv()
	for _, u := range []string{"u1", "u2", "u3", "u4", "u5"} {
		env.seed(t, u)
	}
	env.corrupt(t, domain.MainWallet("u2"), "1.00")
	env.corrupt(t, domain.MainWallet("u5"), "999.00")

	sum, err := env.service(true, 2).ReconcileAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Summary{Wallets: 5, Drifted: 2, Applied: 2}, sum)

	for _, u := range []string{"u2", "u5"} {
		w, _ := env.store.Wallet(domain.MainWallet(u))
		assert.Equal(t, "110.00", money.Format(w.Balance), u)
	}
}

func TestReconcileAllOversizedBatch(t *testing.T) {
	env := newTestEnv()
	total := repository.MaxKeyPage + 150
	for i := 0; i < total; i++ {
		env.store.PutWallet(domain.Wallet{UserID: fmt.Sprintf("u%05d", i), Category: domain.MainCategory, Currency: "EUR"})
	}

	svc := env.service(false, 2000)
	assert.Equal(t, repository.MaxKeyPage, svc.batchSize)

	sum, err := svc.ReconcileAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, total, sum.Wallets)
	assert.Zero(t, sum.Failed)
}

func TestStartDisabled(t *testing.T) {
	env := newTestEnv()
	env.service(true, 0).Start(context.Background(), 0)
}
