package walletserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/attaboy/settlement/internal/cache"
	"github.com/attaboy/settlement/internal/clock"
	"github.com/attaboy/settlement/internal/domain"
	"github.com/attaboy/settlement/internal/guard"
	"github.com/attaboy/settlement/internal/infra"
	"github.com/attaboy/settlement/internal/integrity"
	"github.com/attaboy/settlement/internal/ledger"
	"github.com/attaboy/settlement/internal/money"
	"github.com/attaboy/settlement/internal/protocol"
	"github.com/attaboy/settlement/internal/repository"
	"github.com/attaboy/settlement/internal/repository/memrepo"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	store    *memrepo.Store
	engine   *ledger.Engine
	signer   *integrity.Signer
	sessions *cache.SessionStore
	cache    *cache.InMemoryStore
	clock    *clock.Fixed
	registry *prometheus.Registry
	router   http.Handler
}

func newTestEnv(t *testing.T, mutate ...func(*Deps)) *testEnv {
	t.Helper()
	store := memrepo.New()
	r := store.Repos()
	clk := clock.NewFixed(time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC))
	signer, err := integrity.NewSigner("test-secret", integrity.SHA256)
	require.NoError(t, err)
	kv := cache.NewInMemoryStore().WithClock(clk.Now)
	sessions := cache.NewSessionStore(kv, 24*time.Hour, clk)
	reg := prometheus.NewRegistry()
	engine := ledger.NewEngine(r.Wallets, r.Transactions, r.Bets, r.Cancellations, r.Rounds, r.Outbox, clk)

	deps := Deps{
		Runner:          store,
		Engine:          engine,
		Users:           r.Users,
		Games:           r.Games,
		Wallets:         r.Wallets,
		Transactions:    r.Transactions,
		Sessions:        sessions,
		Cache:           kv,
		Breaker:         guard.NewCircuitBreaker(3, time.Minute, clk),
		Signer:          signer,
		Clock:           clk,
		Metrics:         infra.NewMetrics(reg),
		UnifiedWallet:   true,
		DefaultCategory: "slots",
	}
	for _, m := range mutate {
		m(&deps)
	}

	env := &testEnv{
		store:    store,
		engine:   engine,
		signer:   signer,
		sessions: sessions,
		cache:    kv,
		clock:    clk,
		registry: reg,
		router:   New(deps).NewRouter(),
	}
	store.PutUser(domain.User{ID: "u1", Username: "alice", Currency: "EUR"})
	store.PutUser(domain.User{ID: "u2", Username: "bob", Currency: "EUR"})
	_, err = sessions.Put(context.Background(), domain.Session{Token: "tok-u1", UserID: "u1", GameID: "g1"})
	require.NoError(t, err)
	return env
}

func (e *testEnv) fund(t *testing.T, key domain.WalletKey, amount string) {
	t.Helper()
	ctx := context.Background()
	err := e.store.InTx(ctx, func(tx pgx.Tx) error {
		_, err := e.engine.ExecuteCredit(ctx, tx, domain.CreditParams{
			Wallet:            key,
			Type:              domain.TxDeposit,
			Amount:            money.MustParse(amount),
			Currency:          "EUR",
			ExternalReference: "dep-" + key.UserID + "-" + key.Category + "-" + amount,
		})
		return err
	})
	require.NoError(t, err)
}

type reply struct {
	Request  json.RawMessage `json:"request"`
	Response struct {
		Status            string                 `json:"status"`
		ResponseTimestamp string                 `json:"response_timestamp"`
		Hash              string                 `json:"hash"`
		Data              map[string]interface{} `json:"data"`
	} `json:"response"`
}

func (r reply) str(key string) string {
	switch v := r.Response.Data[key].(type) {
	case json.Number:
		return v.String()
	case string:
		return v
	}
	return ""
}

func (r reply) code() string {
	if r.Response.Status == protocol.StatusOK {
		return protocol.StatusOK
	}
	return r.str("error_code")
}

func (e *testEnv) signedBody(t *testing.T, command string, data interface{}) []byte {
	t.Helper()
	ts := e.clock.Now().Format(protocol.TimestampLayout)
	body, err := json.Marshal(map[string]interface{}{
		"command":           command,
		"data":              data,
		"request_timestamp": ts,
		"hash":              e.signer.Digest(command, ts),
	})
	require.NoError(t, err)
	return body
}

func (e *testEnv) post(t *testing.T, authorization string, body []byte) reply {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var out reply
	dec := json.NewDecoder(w.Body)
	dec.UseNumber()
	require.NoError(t, dec.Decode(&out))
	return out
}

func (e *testEnv) call(t *testing.T, command string, data map[string]interface{}) reply {
	t.Helper()
	return e.post(t, e.signer.Digest(command), e.signedBody(t, command, data))
}

func (e *testEnv) changeBalance(t *testing.T, fields map[string]interface{}) reply {
	t.Helper()
	data := map[string]interface{}{"token": "tok-u1", "game_id": "g1"}
	for k, v := range fields {
		data[k] = v
	}
	return e.call(t, "changebalance", data)
}

func (e *testEnv) balanceOf(t *testing.T, key domain.WalletKey) string {
	t.Helper()
	w, ok := e.store.Wallet(key)
	require.True(t, ok)
	return money.Format(w.Balance)
}

func amount(s string) json.Number { return json.Number(s) }

func TestScenarios(t *testing.T) {
	env := newTestEnv(t)
	main := domain.MainWallet("u1")
	env.fund(t, main, "100.00")

	t.Run("A bet then win", func(t *testing.T) {
		r := env.changeBalance(t, map[string]interface{}{"amount": amount("-10.00"), "transaction_id": "tx1", "round_id": "r1"})
		require.Equal(t, protocol.StatusOK, r.code())
		assert.Equal(t, "90.00", r.str("balance"))
		assert.Equal(t, "EUR", r.str("currency"))
		assert.Equal(t, "tx1", r.str("transaction_id"))

		r = env.changeBalance(t, map[string]interface{}{"amount": amount("25.00"), "transaction_id": "tx2", "round_id": "r1"})
		require.Equal(t, protocol.StatusOK, r.code())
		assert.Equal(t, "115.00", r.str("balance"))

		bets := env.store.Bets()
		require.Len(t, bets, 1)
		assert.Equal(t, domain.OutcomeWin, bets[0].Outcome)
		assert.Equal(t, "2.5", bets[0].Multiplier.String())
	})

	t.Run("B replay of a bet", func(t *testing.T) {
		r := env.changeBalance(t, map[string]interface{}{"amount": amount("-10.00"), "transaction_id": "tx1", "round_id": "r1"})
		require.Equal(t, protocol.StatusOK, r.code())
		assert.Equal(t, "115.00", r.str("balance"))
		assert.Len(t, env.store.Bets(), 1)
	})

	t.Run("C cancel twice", func(t *testing.T) {
		r := env.call(t, "cancel", map[string]interface{}{"token": "tok-u1", "transaction_id": "tx1"})
		require.Equal(t, protocol.StatusOK, r.code())
		assert.Equal(t, "125.00", r.str("balance"))

		again := env.call(t, "cancel", map[string]interface{}{"token": "tok-u1", "transaction_id": "tx1"})
		require.Equal(t, protocol.StatusOK, again.code())
		assert.Equal(t, r.str("balance"), again.str("balance"))
		assert.Equal(t, "125.00", env.balanceOf(t, main))
	})
}

func TestScenarioC_CancelRefundsStake(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, domain.MainWallet("u1"), "100.00")

	r := env.changeBalance(t, map[string]interface{}{"amount": amount("-10.00"), "transaction_id": "tx1", "round_id": "r1"})
	require.Equal(t, "90.00", r.str("balance"))

	for i := 0; i < 2; i++ {
		r = env.call(t, "cancel", map[string]interface{}{"user_id": "u1", "transaction_id": "tx1"})
		require.Equal(t, protocol.StatusOK, r.code())
		assert.Equal(t, "100.00", r.str("balance"))
	}
	assert.Len(t, env.store.Cancellations(), 1)
}

func TestScenarioD_InsufficientBalance(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, domain.MainWallet("u1"), "5.00")

	r := env.changeBalance(t, map[string]interface{}{"amount": amount("-10.00"), "transaction_id": "tx1"})
	assert.Equal(t, protocol.CodeInsufficientBalance, r.code())
	assert.Equal(t, "5.00", env.balanceOf(t, domain.MainWallet("u1")))
	assert.Empty(t, env.store.Bets())
}

func TestScenarioE_FinishRoundLosesPendingBet(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, domain.MainWallet("u1"), "100.00")

	r := env.changeBalance(t, map[string]interface{}{"amount": amount("-3.00"), "transaction_id": "tx1", "round_id": "r2"})
	require.Equal(t, "97.00", r.str("balance"))

	for i := 0; i < 2; i++ {
		r = env.call(t, "finishround", map[string]interface{}{"user_id": "u1", "game_id": "g1", "round_id": "r2"})
		require.Equal(t, protocol.StatusOK, r.code())
		assert.Equal(t, "97.00", r.str("balance"))
	}

	bets := env.store.Bets()
	require.Len(t, bets, 1)
	assert.Equal(t, domain.OutcomeLose, bets[0].Outcome)
	w, _ := env.store.Wallet(domain.MainWallet("u1"))
	assert.True(t, w.LockedBalance.IsZero())
}

func TestLossSettlesOnlyItsOwnRound(t *testing.T) {
	env := newTestEnv(t)
	main := domain.MainWallet("u1")
	env.fund(t, main, "100.00")

	steps := []map[string]interface{}{
		{"amount": amount("-5.00"), "transaction_id": "b1", "round_id": "r1"},
		{"amount": amount("0"), "transaction_id": "l1", "round_id": "r1"},
		{"amount": amount("-10.00"), "transaction_id": "b2", "round_id": "r2"},
	}
	for _, fields := range steps {
		r := env.changeBalance(t, fields)
		require.Equal(t, protocol.StatusOK, r.code(), fields["transaction_id"])
	}

	t.Run("replayed loss", func(t *testing.T) {
		r := env.changeBalance(t, map[string]interface{}{"amount": amount("0"), "transaction_id": "l1", "round_id": "r1"})
		require.Equal(t, protocol.StatusOK, r.code())
		assert.Equal(t, "85.00", r.str("balance"))
	})

	t.Run("second win on a settled round", func(t *testing.T) {
		r := env.changeBalance(t, map[string]interface{}{"amount": amount("2.00"), "transaction_id": "w9", "round_id": "r1"})
		require.Equal(t, protocol.StatusOK, r.code())
		assert.Equal(t, "87.00", r.str("balance"))
	})

	bets := env.store.Bets()
	require.Len(t, bets, 2)
	assert.Equal(t, domain.OutcomeLose, bets[0].Outcome)
	assert.Equal(t, "l1", bets[0].SettledReference)
	assert.Equal(t, "r2", bets[1].RoundID)
	assert.True(t, bets[1].Pending())

	w, _ := env.store.Wallet(main)
	assert.Equal(t, "10.00", money.Format(w.LockedBalance))
}

func TestIntegrity(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, domain.MainWallet("u1"), "100.00")
	data := map[string]interface{}{"token": "tok-u1", "game_id": "g1", "amount": amount("-10.00"), "transaction_id": "tx1"}

	t.Run("bad authorization", func(t *testing.T) {
		r := env.post(t, "deadbeef", env.signedBody(t, "changebalance", data))
		assert.Equal(t, protocol.CodeGeneral, r.code())
	})

	t.Run("missing authorization", func(t *testing.T) {
		r := env.post(t, "", env.signedBody(t, "changebalance", data))
		assert.Equal(t, protocol.CodeGeneral, r.code())
	})

	t.Run("bad body hash", func(t *testing.T) {
		body, err := json.Marshal(map[string]interface{}{
			"command":           "changebalance",
			"data":              data,
			"request_timestamp": "2026-10-14 12:00:00",
			"hash":              env.signer.Digest("changebalance", "2026-10-14 11:59:59"),
		})
		require.NoError(t, err)
		r := env.post(t, env.signer.Digest("changebalance"), body)
		assert.Equal(t, protocol.CodeGeneral, r.code())
	})

	assert.Equal(t, "100.00", env.balanceOf(t, domain.MainWallet("u1")))
	assert.Empty(t, env.store.Bets())

	t.Run("response is signed and echoes the request", func(t *testing.T) {
		r := env.call(t, "balance", map[string]interface{}{"token": "tok-u1"})
		require.Equal(t, protocol.StatusOK, r.code())
		assert.Equal(t, "2026-10-14 12:00:00", r.Response.ResponseTimestamp)
		assert.Equal(t, env.signer.Digest(protocol.StatusOK, r.Response.ResponseTimestamp), r.Response.Hash)

		var echoed map[string]interface{}
		require.NoError(t, json.Unmarshal(r.Request, &echoed))
		assert.Equal(t, "balance", echoed["command"])
	})
}

func TestRequestValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name     string
		command  string
		data     map[string]interface{}
		wantCode string
		wantMsg  string
	}{
		{"unknown command", "withdraw", map[string]interface{}{"token": "tok-u1"}, protocol.CodeGeneral, ""},
		{"changebalance missing fields", "changebalance", map[string]interface{}{"token": "tok-u1"}, protocol.CodeInvalidRequest, "amount, transaction_id"},
		{"changebalance missing identity", "changebalance", map[string]interface{}{"amount": amount("1"), "transaction_id": "t"}, protocol.CodeInvalidRequest, "token|user_id"},
		{"balance missing token", "balance", map[string]interface{}{}, protocol.CodeInvalidRequest, "token"},
		{"finishround missing round", "finishround", map[string]interface{}{"user_id": "u1", "game_id": "g1"}, protocol.CodeInvalidRequest, "round_id"},
		{"unknown token", "balance", map[string]interface{}{"token": "nope"}, protocol.CodeInvalidRequest, ""},
		{"unknown user", "status", map[string]interface{}{"user_id": "ghost", "transaction_id": "t"}, protocol.CodeInvalidRequest, ""},
		{"token of another user", "status", map[string]interface{}{"token": "tok-u1", "user_id": "u2", "transaction_id": "t"}, protocol.CodeInvalidRequest, ""},
		{"zero bet", "changebalance", map[string]interface{}{"token": "tok-u1", "amount": amount("0"), "transaction_id": "t", "transaction_type": "BET"}, protocol.CodeInvalidRequest, ""},
		{"currency mismatch", "changebalance", map[string]interface{}{"token": "tok-u1", "amount": amount("1"), "transaction_id": "t", "currency": "USD"}, protocol.CodeInvalidRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := env.call(t, tt.command, tt.data)
			assert.Equal(t, protocol.StatusError, r.Response.Status)
			assert.Equal(t, tt.wantCode, r.code())
			if tt.wantMsg != "" {
				assert.Contains(t, r.str("error_message"), tt.wantMsg)
			}
		})
	}

	t.Run("malformed body", func(t *testing.T) {
		r := env.post(t, env.signer.Digest("balance"), []byte(`{not json`))
		assert.Equal(t, protocol.CodeInvalidRequest, r.code())
		var echoed string
		require.NoError(t, json.Unmarshal(r.Request, &echoed))
		assert.Equal(t, `{not json`, echoed)
	})
}

func TestAuthenticateAndBalance(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, domain.MainWallet("u1"), "42.50")

	r := env.call(t, "authenticate", map[string]interface{}{"token": "tok-u1", "game_id": "new-game"})
	require.Equal(t, protocol.StatusOK, r.code())
	assert.Equal(t, "u1", r.str("user_id"))
	assert.Equal(t, "alice", r.str("username"))
	assert.Equal(t, "42.50", r.str("balance"))
	assert.Equal(t, "EUR", r.str("currency"))

	r = env.call(t, "balance", map[string]interface{}{"token": "tok-u1"})
	require.Equal(t, protocol.StatusOK, r.code())
	assert.Equal(t, "42.50", r.str("balance"))

	t.Run("player without a wallet reads zero", func(t *testing.T) {
		_, err := env.sessions.Put(context.Background(), domain.Session{Token: "tok-u2", UserID: "u2"})
		require.NoError(t, err)
		r := env.call(t, "balance", map[string]interface{}{"token": "tok-u2"})
		require.Equal(t, protocol.StatusOK, r.code())
		assert.Equal(t, "0.00", r.str("balance"))
	})

	t.Run("expired session", func(t *testing.T) {
		env.clock.Advance(25 * time.Hour)
		r := env.call(t, "balance", map[string]interface{}{"token": "tok-u1"})
		assert.Equal(t, protocol.CodeInvalidRequest, r.code())
	})
}

func TestBlockedPlayer(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, domain.MainWallet("u1"), "100.00")
	r := env.changeBalance(t, map[string]interface{}{"amount": amount("-10.00"), "transaction_id": "tx1", "round_id": "r1"})
	require.Equal(t, protocol.StatusOK, r.code())

	env.store.PutUser(domain.User{ID: "u1", Username: "alice", Currency: "EUR", Status: domain.UserBlocked})

	tests := []struct {
		name     string
		command  string
		data     map[string]interface{}
		wantCode string
	}{
		{"bet with token", "changebalance", map[string]interface{}{"token": "tok-u1", "game_id": "g1", "amount": amount("-1.00"), "transaction_id": "tx2"}, protocol.CodePlayerBlocked},
		{"bet with user_id", "changebalance", map[string]interface{}{"user_id": "u1", "game_id": "g1", "amount": amount("-1.00"), "transaction_id": "tx3"}, protocol.CodePlayerBlocked},
		{"win with token", "changebalance", map[string]interface{}{"token": "tok-u1", "game_id": "g1", "amount": amount("5.00"), "transaction_id": "tx4", "round_id": "r1"}, protocol.CodePlayerBlocked},
		{"win with user_id", "changebalance", map[string]interface{}{"user_id": "u1", "game_id": "g1", "amount": amount("5.00"), "transaction_id": "tx5", "round_id": "r1"}, protocol.StatusOK},
		{"authenticate", "authenticate", map[string]interface{}{"token": "tok-u1"}, protocol.CodePlayerBlocked},
		{"balance", "balance", map[string]interface{}{"token": "tok-u1"}, protocol.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := env.call(t, tt.command, tt.data)
			assert.Equal(t, tt.wantCode, r.code())
		})
	}
	assert.Equal(t, "95.00", env.balanceOf(t, domain.MainWallet("u1")))
}

func TestDisabledGame(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, domain.MainWallet("u1"), "100.00")

	r := env.changeBalance(t, map[string]interface{}{"amount": amount("-10.00"), "transaction_id": "tx1", "round_id": "r1"})
	require.Equal(t, protocol.StatusOK, r.code())

	env.store.PutGame(domain.Game{ID: "g1", Category: "slots", IsActive: false})

	t.Run("fresh bet", func(t *testing.T) {
		r := env.changeBalance(t, map[string]interface{}{"amount": amount("-10.00"), "transaction_id": "tx2"})
		assert.Equal(t, protocol.CodeGameDisabled, r.code())
	})
	t.Run("retry of an accepted bet", func(t *testing.T) {
		r := env.changeBalance(t, map[string]interface{}{"amount": amount("-10.00"), "transaction_id": "tx1", "round_id": "r1"})
		assert.Equal(t, protocol.CodeGameDisabled, r.code())
	})
	t.Run("win", func(t *testing.T) {
		r := env.changeBalance(t, map[string]interface{}{"amount": amount("20.00"), "transaction_id": "tx3", "round_id": "r1"})
		assert.Equal(t, protocol.CodeGameDisabled, r.code())
	})
	t.Run("loss still settles", func(t *testing.T) {
		r := env.changeBalance(t, map[string]interface{}{"amount": amount("0"), "transaction_id": "tx4", "round_id": "r1"})
		assert.Equal(t, protocol.StatusOK, r.code())
	})

	assert.Equal(t, "90.00", env.balanceOf(t, domain.MainWallet("u1")))
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, domain.MainWallet("u1"), "100.00")
	env.changeBalance(t, map[string]interface{}{"amount": amount("-10.00"), "transaction_id": "tx1"})
	env.changeBalance(t, map[string]interface{}{"amount": amount("-5.00"), "transaction_id": "tx2"})
	env.call(t, "cancel", map[string]interface{}{"user_id": "u1", "transaction_id": "tx2"})

	tests := []struct {
		ref        string
		wantCode   string
		wantStatus string
	}{
		{"tx1", protocol.StatusOK, protocol.TxStatusOK},
		{"tx2", protocol.StatusOK, protocol.TxStatusCanceled},
		{"tx9", protocol.CodeTransactionNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			r := env.call(t, "status", map[string]interface{}{"user_id": "u1", "transaction_id": tt.ref})
			assert.Equal(t, tt.wantCode, r.code())
			if tt.wantStatus != "" {
				assert.Equal(t, tt.wantStatus, r.str("transaction_status"))
			}
		})
	}
}

func TestCancel(t *testing.T) {
	t.Run("unknown reference", func(t *testing.T) {
		env := newTestEnv(t)
		r := env.call(t, "cancel", map[string]interface{}{"user_id": "u1", "transaction_id": "nope"})
		assert.Equal(t, protocol.CodeTransactionNotFound, r.code())
	})

	t.Run("stored owner wins over caller", func(t *testing.T) {
		env := newTestEnv(t)
		env.fund(t, domain.MainWallet("u1"), "100.00")
		env.fund(t, domain.MainWallet("u2"), "50.00")
		env.changeBalance(t, map[string]interface{}{"amount": amount("-10.00"), "transaction_id": "tx1"})

		r := env.call(t, "cancel", map[string]interface{}{"user_id": "u2", "transaction_id": "tx1"})
		require.Equal(t, protocol.StatusOK, r.code())
		assert.Equal(t, "100.00", env.balanceOf(t, domain.MainWallet("u1")))
		assert.Equal(t, "50.00", env.balanceOf(t, domain.MainWallet("u2")))
	})

	t.Run("win reversal below zero", func(t *testing.T) {
		env := newTestEnv(t)
		env.changeBalance(t, map[string]interface{}{"amount": amount("20.00"), "transaction_id": "w1"})
		env.changeBalance(t, map[string]interface{}{"amount": amount("-15.00"), "transaction_id": "b1"})

		r := env.call(t, "cancel", map[string]interface{}{"user_id": "u1", "transaction_id": "w1"})
		assert.Equal(t, protocol.CodeInsufficientBalance, r.code())
		assert.Equal(t, "5.00", env.balanceOf(t, domain.MainWallet("u1")))
	})
}

func TestRoundFinishedFlag(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, domain.MainWallet("u1"), "100.00")
	env.changeBalance(t, map[string]interface{}{"amount": amount("-10.00"), "transaction_id": "a", "round_id": "r3"})
	env.changeBalance(t, map[string]interface{}{"amount": amount("-5.00"), "transaction_id": "b", "round_id": "r3"})

	r := env.changeBalance(t, map[string]interface{}{
		"amount": amount("30.00"), "transaction_id": "w", "round_id": "r3", "round_finished": true,
	})
	require.Equal(t, protocol.StatusOK, r.code())
	assert.Equal(t, "115.00", r.str("balance"))

	for _, b := range env.store.Bets() {
		assert.False(t, b.Pending(), "bet %d still pending", b.ID)
	}
	w, _ := env.store.Wallet(domain.MainWallet("u1"))
	assert.True(t, w.LockedBalance.IsZero())
}

func TestLegacyCategoryWallet(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.UnifiedWallet = false })
	slots := domain.WalletKey{UserID: "u1", Category: "slots"}
	env.fund(t, domain.MainWallet("u1"), "100.00")
	env.fund(t, slots, "30.00")
	env.store.PutGame(domain.Game{ID: "live-1", Category: "live", IsActive: true})

	t.Run("category wallet when present", func(t *testing.T) {
		r := env.changeBalance(t, map[string]interface{}{"amount": amount("-10.00"), "transaction_id": "tx1"})
		require.Equal(t, protocol.StatusOK, r.code())
		assert.Equal(t, "20.00", r.str("balance"))
		assert.Equal(t, "100.00", env.balanceOf(t, domain.MainWallet("u1")))
	})

	t.Run("main wallet fallback", func(t *testing.T) {
		r := env.changeBalance(t, map[string]interface{}{"game_id": "live-1", "amount": amount("-10.00"), "transaction_id": "tx2"})
		require.Equal(t, protocol.StatusOK, r.code())
		assert.Equal(t, "90.00", r.str("balance"))
		assert.Equal(t, "20.00", env.balanceOf(t, slots))
	})
}

func TestStorageFailureRollsBackAndRetrySucceeds(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, domain.MainWallet("u1"), "100.00")

	env.store.InjectFault("bets.insert", errors.New("disk full"))
	r := env.changeBalance(t, map[string]interface{}{"amount": amount("-10.00"), "transaction_id": "tx1"})
	assert.Equal(t, protocol.CodeGeneral, r.code())
	assert.Equal(t, "internal error", r.str("error_message"))
	assert.Equal(t, "100.00", env.balanceOf(t, domain.MainWallet("u1")))

	r = env.changeBalance(t, map[string]interface{}{"amount": amount("-10.00"), "transaction_id": "tx1"})
	require.Equal(t, protocol.StatusOK, r.code())
	assert.Equal(t, "90.00", r.str("balance"))
}

func TestDuplicateReferenceIsRetried(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, domain.MainWallet("u1"), "100.00")

	env.store.InjectFault("transactions.insert", repository.ErrDuplicateReference)
	r := env.changeBalance(t, map[string]interface{}{"amount": amount("-10.00"), "transaction_id": "tx1"})
	require.Equal(t, protocol.StatusOK, r.code())
	assert.Equal(t, "90.00", r.str("balance"))
	assert.Len(t, env.store.Bets(), 1)
}

func TestPanicBecomesGeneralError(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Users = panickingUsers{} })
	r := env.call(t, "balance", map[string]interface{}{"token": "tok-u1"})
	assert.Equal(t, protocol.CodeGeneral, r.code())
	assert.Equal(t, "internal error", r.str("error_message"))
}

type panickingUsers struct{}

func (panickingUsers) FindByID(context.Context, repository.DBTX, string) (*domain.User, error) {
	panic("boom")
}

func TestBalanceProjectionWriteThrough(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, domain.MainWallet("u1"), "100.00")
	env.changeBalance(t, map[string]interface{}{"amount": amount("-10.00"), "transaction_id": "tx1"})

	p, err := cache.GetBalance(context.Background(), env.cache, domain.MainWallet("u1"))
	require.NoError(t, err)
	assert.Equal(t, "90.00", money.Format(p.Balance))
	assert.Equal(t, "10.00", money.Format(p.LockedBalance))
}

func TestDuplicateBurst(t *testing.T) {
	t.Run("off by default", func(t *testing.T) {
		env := newTestEnv(t)
		env.fund(t, domain.MainWallet("u1"), "100.00")
		env.changeBalance(t, map[string]interface{}{"amount": amount("-10.00"), "transaction_id": "tx1"})
		r := env.changeBalance(t, map[string]interface{}{"amount": amount("-10.00"), "transaction_id": "tx2"})
		assert.Equal(t, protocol.StatusOK, r.code())
	})

	t.Run("reject", func(t *testing.T) {
		env := newTestEnv(t, func(d *Deps) {
			d.Burst = guard.NewBurstDetector(guard.BurstReject, time.Minute, d.Cache, nil)
		})
		env.fund(t, domain.MainWallet("u1"), "100.00")

		r := env.changeBalance(t, map[string]interface{}{"amount": amount("-10.00"), "transaction_id": "tx1"})
		require.Equal(t, protocol.StatusOK, r.code())
		r = env.changeBalance(t, map[string]interface{}{"amount": amount("-10.00"), "transaction_id": "tx2"})
		assert.Equal(t, protocol.CodeGeneral, r.code())
		r = env.changeBalance(t, map[string]interface{}{"amount": amount("-10.00"), "transaction_id": "tx1"})
		assert.Equal(t, protocol.StatusOK, r.code())
		assert.Equal(t, "90.00", env.balanceOf(t, domain.MainWallet("u1")))
	})

	t.Run("rejected bet frees the window", func(t *testing.T) {
		env := newTestEnv(t, func(d *Deps) {
			d.Burst = guard.NewBurstDetector(guard.BurstReject, time.Minute, d.Cache, nil)
		})
		env.fund(t, domain.MainWallet("u1"), "5.00")

		r := env.changeBalance(t, map[string]interface{}{"amount": amount("-10.00"), "transaction_id": "tx1"})
		require.Equal(t, protocol.CodeInsufficientBalance, r.code())

		env.fund(t, domain.MainWallet("u1"), "20.00")
		r = env.changeBalance(t, map[string]interface{}{"amount": amount("-10.00"), "transaction_id": "tx2"})
		assert.Equal(t, protocol.StatusOK, r.code())
		assert.Equal(t, "15.00", env.balanceOf(t, domain.MainWallet("u1")))
	})
}

func TestCommandMetrics(t *testing.T) {
	env := newTestEnv(t)
	env.call(t, "balance", map[string]interface{}{"token": "tok-u1"})
	env.call(t, "balance", map[string]interface{}{"token": "nope"})

	families, err := env.registry.Gather()
	require.NoError(t, err)
	got := map[string]float64{}
	for _, fam := range families {
		if fam.GetName() != "settlement_callback_commands_total" {
			continue
		}
		for _, m := range fam.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			got[labels["command"]+"/"+labels["code"]] = m.GetCounter().GetValue()
		}
	}
	assert.Equal(t, 1.0, got["balance/OK"])
	assert.Equal(t, 1.0, got["balance/OP_21"])
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}
