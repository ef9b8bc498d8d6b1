package domain

import "time"

// UserStatus values surfaced by the user collaborator.
const (
	UserActive  = "active"
	UserBlocked = "blocked"
)

// User is the collaborator view of a player account.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Currency  string    `json:"currency"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Blocked reports whether the player may not place new bets.
func (u *User) Blocked() bool {
	return u.Status == UserBlocked
}

// Session maps an opaque provider-facing token to a player and game.
type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	GameID    string    `json:"game_id,omitempty"`
	Category  string    `json:"category,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session is past its horizon at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Game is the catalog entry the engine needs: category and the disabled flag.
type Game struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}
