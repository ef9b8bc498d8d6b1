//go:build integration

package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/attaboy/settlement/internal/auth"
	"github.com/attaboy/settlement/internal/domain"
	"github.com/attaboy/settlement/internal/money"
	"github.com/attaboy/settlement/internal/protocol"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateUser inserts a user row. status is "active" or "blocked".
func (env *TestEnv) CreateUser(id, currency, status string) {
	env.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := env.Pool.Exec(ctx,
		"INSERT INTO users (id, username, currency, status) VALUES ($1, $2, $3, $4)",
		id, "user-"+id, currency, status)
	if err != nil {
		env.t.Fatalf("CreateUser: %v", err)
	}
}

// CreateGame inserts a game row.
func (env *TestEnv) CreateGame(id, category string, active bool) {
	env.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := env.Pool.Exec(ctx,
		"INSERT INTO games (id, category, is_active) VALUES ($1, $2, $3)", id, category, active)
	if err != nil {
		env.t.Fatalf("CreateGame: %v", err)
	}
}

// CreateSession issues a provider token for the user on a game.
func (env *TestEnv) CreateSession(userID, gameID string) string {
	env.t.Helper()
	s, err := env.Sessions.Put(context.Background(), domain.Session{
		Token:  uuid.NewString(),
		UserID: userID,
		GameID: gameID,
	})
	if err != nil {
		env.t.Fatalf("CreateSession: %v", err)
	}
	return s.Token
}

// Deposit credits the wallet through the ledger so the log stays consistent.
func (env *TestEnv) Deposit(key domain.WalletKey, amount string) {
	env.t.Helper()
	ctx := context.Background()
	err := env.Runner.InTx(ctx, func(tx pgx.Tx) error {
		_, err := env.Engine.ExecuteCredit(ctx, tx, domain.CreditParams{
			Wallet:            key,
			Type:              domain.TxDeposit,
			Amount:            money.MustParse(amount),
			Currency:          "EUR",
			ExternalReference: "dep-" + uuid.NewString(),
		})
		return err
	})
	if err != nil {
		env.t.Fatalf("Deposit: %v", err)
	}
}

// Reply is a decoded callback response.
type Reply struct {
	Request  json.RawMessage `json:"request"`
	Response struct {
		Status            string                 `json:"status"`
		ResponseTimestamp string                 `json:"response_timestamp"`
		Hash              string                 `json:"hash"`
		Data              map[string]interface{} `json:"data"`
	} `json:"response"`
}

// Str returns a data field as a string; numbers keep their wire text.
func (r Reply) Str(key string) string {
	switch v := r.Response.Data[key].(type) {
	case json.Number:
		return v.String()
	case string:
		return v
	}
	return ""
}

// Code is "OK" on success, otherwise the provider error code.
func (r Reply) Code() string {
	if r.Response.Status == protocol.StatusOK {
		return protocol.StatusOK
	}
	return r.Str("error_code")
}

// Call sends a signed callback and decodes the envelope.
func (env *TestEnv) Call(command string, data map[string]interface{}) Reply {
	env.t.Helper()
	ts := time.Now().UTC().Format(protocol.TimestampLayout)
	body, err := json.Marshal(map[string]interface{}{
		"command":           command,
		"data":              data,
		"request_timestamp": ts,
		"hash":              env.Signer.Digest(command, ts),
	})
	if err != nil {
		env.t.Fatalf("Call: marshal: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, env.Server.URL+"/", bytes.NewReader(body))
	if err != nil {
		env.t.Fatalf("Call: new request: %v", err)
	}
	req.Header.Set("Authorization", env.Signer.Digest(command))
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		env.t.Fatalf("Call %s: %v", command, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		env.t.Fatalf("Call %s: expected 200, got %d", command, resp.StatusCode)
	}

	var out Reply
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		env.t.Fatalf("Call %s: decode: %v", command, err)
	}
	return out
}

// AdminToken returns an admin-realm token carrying role.
func (env *TestEnv) AdminToken(role string) string {
	env.t.Helper()
	token, err := env.JWTMgr.GenerateToken(auth.RealmAdmin, "ops-1", "ops@example.com", role)
	if err != nil {
		env.t.Fatalf("AdminToken: %v", err)
	}
	return token
}

// AdminDo performs an authenticated admin API request; body may be nil.
func (env *TestEnv) AdminDo(method, path, token string, body interface{}) *http.Response {
	env.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			env.t.Fatalf("AdminDo: encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, env.Admin.URL+path, &buf)
	if err != nil {
		env.t.Fatalf("AdminDo: new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		env.t.Fatalf("AdminDo %s %s: %v", method, path, err)
	}
	return resp
}
