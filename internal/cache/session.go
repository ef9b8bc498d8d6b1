package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/attaboy/settlement/internal/clock"
	"github.com/attaboy/settlement/internal/domain"
)

// SessionStore maps provider-facing tokens to sessions with an explicit TTL.
// Sessions are issued through the admin API at game launch; the provider
// surface only reads them.
type SessionStore struct {
	store Store
	ttl   time.Duration
	clock clock.Clock
}

// NewSessionStore creates a session store. ttl bounds every session's lifetime.
func NewSessionStore(store Store, ttl time.Duration, clk clock.Clock) *SessionStore {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &SessionStore{store: store, ttl: ttl, clock: clk}
}

func sessionKey(token string) string {
	return "session:" + token
}

// Put stores s. A zero ExpiresAt is set to now + ttl.
func (ss *SessionStore) Put(ctx context.Context, s domain.Session) (*domain.Session, error) {
	if s.Token == "" || s.UserID == "" {
		return nil, domain.ErrValidation("session needs token and user_id")
	}
	now := ss.clock.Now()
	if s.ExpiresAt.IsZero() {
		s.ExpiresAt = now.Add(ss.ttl)
	}
	ttl := s.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return nil, domain.ErrValidation("session already expired")
	}
	if err := SetJSON(ctx, ss.store, sessionKey(s.Token), s, ttl); err != nil {
		return nil, fmt.Errorf("put session: %w", err)
	}
	return &s, nil
}

// Get resolves a token. Unknown and expired tokens are INVALID_TOKEN; store
// failures are returned wrapped.
func (ss *SessionStore) Get(ctx context.Context, token string) (*domain.Session, error) {
	var s domain.Session
	err := GetJSON(ctx, ss.store, sessionKey(token), &s)
	if errors.Is(err, ErrMiss) {
		return nil, domain.ErrInvalidToken("unknown or expired token")
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if s.Expired(ss.clock.Now()) {
		return nil, domain.ErrInvalidToken("unknown or expired token")
	}
	return &s, nil
}

// Delete revokes a token.
func (ss *SessionStore) Delete(ctx context.Context, token string) error {
	return ss.store.Delete(ctx, sessionKey(token))
}
