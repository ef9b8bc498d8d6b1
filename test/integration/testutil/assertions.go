//go:build integration

package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/attaboy/settlement/internal/domain"
	"github.com/shopspring/decimal"
)

// DecodeJSON reads and decodes a JSON response body into dst.
func DecodeJSON(t *testing.T, resp *http.Response, dst interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
}

// AssertStatus checks that the response has the expected HTTP status code.
func AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// AssertWallet queries the wallets table and asserts balance and locked balance.
func AssertWallet(t *testing.T, env *TestEnv, key domain.WalletKey, balance, locked string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var bal, lck decimal.Decimal
	err := env.Pool.QueryRow(ctx,
		"SELECT balance::text, locked_balance::text FROM wallets WHERE user_id = $1 AND category = $2",
		key.UserID, key.Category).Scan(&bal, &lck)
	if err != nil {
		t.Fatalf("AssertWallet: query: %v", err)
	}
	if !bal.Equal(decimal.RequireFromString(balance)) {
		t.Errorf("balance: expected %s, got %s", balance, bal.StringFixed(2))
	}
	if !lck.Equal(decimal.RequireFromString(locked)) {
		t.Errorf("locked_balance: expected %s, got %s", locked, lck.StringFixed(2))
	}
}

// CountTransactions returns the number of ledger entries for a user.
func CountTransactions(t *testing.T, env *TestEnv, userID string) int {
	t.Helper()
	return count(t, env, "SELECT COUNT(*) FROM transactions WHERE user_id = $1", userID)
}

// CountBets returns the number of bets for a user with the given outcome.
func CountBets(t *testing.T, env *TestEnv, userID, outcome string) int {
	t.Helper()
	return count(t, env, "SELECT COUNT(*) FROM bets WHERE user_id = $1 AND outcome = $2", userID, outcome)
}

// CountOutboxEvents returns the number of unpublished outbox events for a user.
func CountOutboxEvents(t *testing.T, env *TestEnv, userID string) int {
	t.Helper()
	return count(t, env, "SELECT COUNT(*) FROM event_outbox WHERE partition_key = $1", userID)
}

func count(t *testing.T, env *TestEnv, query string, args ...interface{}) int {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var n int
	if err := env.Pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}
