package memrepo

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/attaboy/settlement/internal/domain"
	"github.com/attaboy/settlement/internal/money"
	"github.com/attaboy/settlement/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedWallet(t *testing.T, s *Store, userID, balance string) domain.WalletKey {
	t.Helper()
	key := domain.MainWallet(userID)
	s.PutWallet(domain.Wallet{UserID: userID, Category: key.Category, Currency: "EUR", Balance: money.MustParse(balance)})
	return key
}

func TestUpdateBalances(t *testing.T) {
	ctx := context.Background()

	t.Run("returns before and after", func(t *testing.T) {
		s := New()
		key := seedWallet(t, s, "u1", "100.00")

		change, err := s.Repos().Wallets.UpdateBalances(ctx, nil, key, domain.BalanceUpdate{
			Balance:       money.MustParse("-10.00"),
			LockedBalance: money.MustParse("10.00"),
		})
		require.NoError(t, err)
		assert.Equal(t, "100.00", money.Format(change.Before))
		assert.Equal(t, "90.00", money.Format(change.After))
		assert.Equal(t, "10.00", money.Format(change.Wallet.LockedBalance))
	})

	t.Run("rejects negative balance", func(t *testing.T) {
		s := New()
		key := seedWallet(t, s, "u1", "5.00")

		_, err := s.Repos().Wallets.UpdateBalances(ctx, nil, key, domain.BalanceUpdate{Balance: money.MustParse("-10.00")})
		assert.True(t, domain.HasCode(err, domain.CodeInsufficientBalance))

		w, _ := s.Wallet(key)
		assert.Equal(t, "5.00", money.Format(w.Balance))
	})

	t.Run("locked balance clamps at zero", func(t *testing.T) {
		s := New()
		key := seedWallet(t, s, "u1", "5.00")

		change, err := s.Repos().Wallets.UpdateBalances(ctx, nil, key, domain.BalanceUpdate{LockedBalance: money.MustParse("-3.00")})
		require.NoError(t, err)
		assert.True(t, change.Wallet.LockedBalance.IsZero())
	})

	t.Run("missing wallet", func(t *testing.T) {
		s := New()
		_, err := s.Repos().Wallets.UpdateBalances(ctx, nil, domain.MainWallet("ghost"), domain.BalanceUpdate{})
		assert.True(t, domain.HasCode(err, domain.CodeNotFound))
	})
}

func TestTransactionInsertRejectsDuplicateReference(t *testing.T) {
	ctx := context.Background()
	s := New()
	repo := s.Repos().Transactions

	first, err := repo.Insert(ctx, nil, &domain.Transaction{UserID: "u1", Type: domain.TxBet, Amount: money.MustParse("1"), ExternalReference: "tx1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, domain.StatusCompleted, first.Status)
	assert.JSONEq(t, `{}`, string(first.Metadata))

	_, err = repo.Insert(ctx, nil, &domain.Transaction{UserID: "u1", Type: domain.TxBet, Amount: money.MustParse("1"), ExternalReference: "tx1"})
	assert.ErrorIs(t, err, repository.ErrDuplicateReference)

	// same reference for another user is a different key
	_, err = repo.Insert(ctx, nil, &domain.Transaction{UserID: "u2", Type: domain.TxBet, Amount: money.MustParse("1"), ExternalReference: "tx1"})
	require.NoError(t, err)

	all, err := repo.ListByReference(ctx, nil, "tx1")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	key := seedWallet(t, s, "u1", "100.00")
	repos := s.Repos()

	boom := errors.New("boom")
	s.InjectFault("transactions.insert", boom)

	err := s.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := repos.Wallets.UpdateBalances(ctx, tx, key, domain.BalanceUpdate{Balance: money.MustParse("-10")}); err != nil {
			return err
		}
		_, err := repos.Transactions.Insert(ctx, tx, &domain.Transaction{UserID: "u1", Type: domain.TxBet, ExternalReference: "tx1"})
		return err
	})
	assert.ErrorIs(t, err, boom)

	w, _ := s.Wallet(key)
	assert.Equal(t, "100.00", money.Format(w.Balance))
	assert.Empty(t, s.Transactions())

	// faults fire once
	err = s.InTx(ctx, func(tx pgx.Tx) error {
		_, err := repos.Transactions.Insert(ctx, tx, &domain.Transaction{UserID: "u1", Type: domain.TxBet, ExternalReference: "tx1"})
		return err
	})
	require.NoError(t, err)
	assert.Len(t, s.Transactions(), 1)
}

func TestBetLookup(t *testing.T) {
	ctx := context.Background()
	s := New()
	bets := s.Repos().Bets

	_, err := bets.Insert(ctx, nil, &domain.Bet{UserID: "u1", GameID: "g1", RoundID: "r1", TransactionID: 1, BetAmount: money.MustParse("1")})
	require.NoError(t, err)
	second, err := bets.Insert(ctx, nil, &domain.Bet{UserID: "u1", GameID: "g1", RoundID: "r2", TransactionID: 2, BetAmount: money.MustParse("2")})
	require.NoError(t, err)

	t.Run("exact round", func(t *testing.T) {
		b, err := bets.FindPendingByRound(ctx, nil, domain.RoundKey{UserID: "u1", GameID: "g1", RoundID: "r1"})
		require.NoError(t, err)
		require.NotNil(t, b)
		assert.Equal(t, int64(1), b.TransactionID)
	})

	t.Run("latest by game", func(t *testing.T) {
		b, err := bets.FindLatestPendingByGame(ctx, nil, "u1", "g1")
		require.NoError(t, err)
		require.NotNil(t, b)
		assert.Equal(t, second.ID, b.ID)
	})

	t.Run("resolved bets are not pending", func(t *testing.T) {
		_, err := bets.Resolve(ctx, nil, second.ID, domain.BetResolution{Outcome: domain.OutcomeLose})
		require.NoError(t, err)

		b, err := bets.FindPendingByRound(ctx, nil, domain.RoundKey{UserID: "u1", GameID: "g1", RoundID: "r2"})
		require.NoError(t, err)
		assert.Nil(t, b)

		exists, err := bets.RoundExists(ctx, nil, domain.RoundKey{UserID: "u1", GameID: "g1", RoundID: "r2"})
		require.NoError(t, err)
		assert.True(t, exists)

		exists, err = bets.RoundExists(ctx, nil, domain.RoundKey{UserID: "u1", GameID: "g1", RoundID: "r9"})
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("settled reference", func(t *testing.T) {
		_, err := bets.Resolve(ctx, nil, 1, domain.BetResolution{Outcome: domain.OutcomeLose, SettledReference: "l1"})
		require.NoError(t, err)

		b, err := bets.FindBySettledReference(ctx, nil, "u1", "l1")
		require.NoError(t, err)
		require.NotNil(t, b)
		assert.Equal(t, int64(1), b.ID)

		b, err = bets.FindBySettledReference(ctx, nil, "u2", "l1")
		require.NoError(t, err)
		assert.Nil(t, b)

		b, err = bets.FindBySettledReference(ctx, nil, "u1", "")
		require.NoError(t, err)
		assert.Nil(t, b)
	})
}

func TestRoundMarkFinishedOnce(t *testing.T) {
	ctx := context.Background()
	rounds := New().Repos().Rounds
	key := domain.RoundKey{UserID: "u1", GameID: "g1", RoundID: "r1"}

	created, err := rounds.MarkFinished(ctx, nil, key)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = rounds.MarkFinished(ctx, nil, key)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestGameFindOrCreate(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.PutGame(domain.Game{ID: "off", Category: "live", IsActive: false})
	games := s.Repos().Games

	g, err := games.FindOrCreate(ctx, nil, "new-game", "slots")
	require.NoError(t, err)
	assert.Equal(t, "slots", g.Category)
	assert.True(t, g.IsActive)

	g, err = games.FindOrCreate(ctx, nil, "off", "slots")
	require.NoError(t, err)
	assert.Equal(t, "live", g.Category)
	assert.False(t, g.IsActive)
}

func TestListKeysPages(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, id := range []string{"c", "a", "b"} {
		seedWallet(t, s, id, "1")
	}
	wallets := s.Repos().Wallets

	page, err := wallets.ListKeys(ctx, nil, nil, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "a", page[0].UserID)
	assert.Equal(t, "b", page[1].UserID)

	page, err = wallets.ListKeys(ctx, nil, &page[1], 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "c", page[0].UserID)
}

func TestListKeysCapsAtMaxPage(t *testing.T) {
	ctx := context.Background()
	s := New()
	for i := 0; i < repository.MaxKeyPage+5; i++ {
		seedWallet(t, s, fmt.Sprintf("u%04d", i), "1")
	}
	wallets := s.Repos().Wallets

	page, err := wallets.ListKeys(ctx, nil, nil, 5000)
	require.NoError(t, err)
	assert.Len(t, page, repository.MaxKeyPage)

	page, err = wallets.ListKeys(ctx, nil, &page[len(page)-1], 5000)
	require.NoError(t, err)
	assert.Len(t, page, 5)
}

func TestOutboxPublish(t *testing.T) {
	ctx := context.Background()
	s := New()
	outbox := s.Repos().Outbox

	for i := 0; i < 3; i++ {
		require.NoError(t, outbox.Insert(ctx, nil, domain.OutboxDraft{EventType: domain.EventTransactionPosted}))
	}
	batch, err := outbox.FetchUnpublished(ctx, nil, 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	require.NoError(t, outbox.MarkPublished(ctx, nil, []int64{batch[0].SeqID, batch[1].SeqID}))
	assert.Len(t, s.Outbox(), 1)
}

func TestOutboxFeedDrains(t *testing.T) {
	ctx := context.Background()
	s := New()
	outbox := s.Repos().Outbox
	for i := 0; i < 3; i++ {
		require.NoError(t, outbox.Insert(ctx, nil, domain.OutboxDraft{EventType: domain.EventBetResolved}))
	}

	feed := repository.NewOutboxFeed(nil, outbox)
	batch, err := feed.Fetch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 3)

	require.NoError(t, feed.Ack(ctx, []int64{batch[0].SeqID, batch[2].SeqID}))
	rest := s.Outbox()
	require.Len(t, rest, 1)
	assert.Equal(t, batch[1].SeqID, rest[0].SeqID)
}
