package walletserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/attaboy/settlement/internal/domain"
	"github.com/attaboy/settlement/internal/protocol"
	"github.com/jackc/pgx/v5"
)

// caller is the resolved player behind a callback.
type caller struct {
	user    *domain.User
	session *domain.Session // nil when keyed by user_id only
}

// withToken reports whether the callback carried a session token.
func (c *caller) withToken() bool {
	return c.session != nil
}

// gameID prefers the game named in the data over the session's game.
func (c *caller) gameID(requested string) string {
	if requested != "" || c.session == nil {
		return requested
	}
	return c.session.GameID
}

// resolveCaller maps a token or user_id to the player. A token wins over a
// user_id; a user_id that contradicts the token is rejected.
func (s *Server) resolveCaller(ctx context.Context, tx pgx.Tx, id protocol.Identity) (*caller, error) {
	c := &caller{}
	userID := id.UserID
	if id.Token != "" {
		sess, err := s.sessions.Get(ctx, id.Token)
		if err != nil {
			return nil, err
		}
		if userID != "" && userID != sess.UserID {
			return nil, domain.ErrInvalidToken("token does not belong to user")
		}
		c.session = sess
		userID = sess.UserID
	}

	user, err := s.users.FindByID(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return nil, domain.ErrInvalidToken(fmt.Sprintf("unknown user %s", userID))
	}
	c.user = user
	return c, nil
}

// resolveGame looks the game up, creating unknown ids with the default
// category. An empty id yields nil.
func (s *Server) resolveGame(ctx context.Context, tx pgx.Tx, gameID string) (*domain.Game, error) {
	if gameID == "" {
		return nil, nil
	}
	game, err := s.games.FindOrCreate(ctx, tx, gameID, s.defaultCategory)
	if err != nil {
		return nil, fmt.Errorf("resolve game: %w", err)
	}
	return game, nil
}

// walletKey picks the wallet a callback settles against. Unified mode always
// uses the main wallet; legacy mode uses the game's category wallet when the
// player has one and falls back to the main wallet otherwise.
func (s *Server) walletKey(ctx context.Context, tx pgx.Tx, c *caller, game *domain.Game) (domain.WalletKey, error) {
	main := domain.MainWallet(c.user.ID)
	if s.unified {
		return main, nil
	}

	category := ""
	switch {
	case game != nil:
		category = game.Category
	case c.session != nil:
		category = c.session.Category
	}
	if category == "" || category == domain.MainCategory {
		return main, nil
	}

	key := domain.WalletKey{UserID: c.user.ID, Category: category}
	ok, err := s.wallets.Exists(ctx, tx, key)
	if err != nil {
		return domain.WalletKey{}, fmt.Errorf("resolve wallet: %w", err)
	}
	if !ok {
		return main, nil
	}
	return key, nil
}

// currency validates a caller-supplied currency against the player's.
func currency(user *domain.User, requested string) (string, error) {
	if requested != "" && !strings.EqualFold(requested, user.Currency) {
		return "", domain.ErrValidation(fmt.Sprintf("currency %s does not match player currency %s", requested, user.Currency))
	}
	return user.Currency, nil
}

// readWallet returns the snapshot for key without locking it. A player with no
// wallet row yet reads as zero in their currency.
func (s *Server) readWallet(ctx context.Context, tx pgx.Tx, key domain.WalletKey, user *domain.User) (*domain.Wallet, error) {
	w, err := s.wallets.FindByKey(ctx, tx, key)
	if err != nil {
		return nil, fmt.Errorf("read wallet: %w", err)
	}
	if w == nil {
		return &domain.Wallet{UserID: key.UserID, Category: key.Category, Currency: user.Currency}, nil
	}
	return w, nil
}
