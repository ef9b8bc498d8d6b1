package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/attaboy/settlement/internal/domain"
	"github.com/attaboy/settlement/internal/money"
	"github.com/shopspring/decimal"
)

// BalanceProjection represents a cached wallet balance.
type BalanceProjection struct {
	UserID        string          `json:"user_id"`
	Category      string          `json:"category"`
	Currency      string          `json:"currency"`
	Balance       decimal.Decimal `json:"balance"`
	LockedBalance decimal.Decimal `json:"locked_balance"`
	UpdatedAt     string          `json:"updated_at"`
}

const balanceTTL = 5 * time.Minute

func balanceKey(key domain.WalletKey) string {
	return fmt.Sprintf("projection:balance:%s:%s", key.UserID, key.Category)
}

// UpdateBalance caches a wallet's balance projection.
func UpdateBalance(ctx context.Context, store Store, w *domain.Wallet) error {
	p := BalanceProjection{
		UserID:        w.UserID,
		Category:      w.Category,
		Currency:      w.Currency,
		Balance:       money.Round(w.Balance),
		LockedBalance: money.Round(w.LockedBalance),
		UpdatedAt:     time.Now().UTC().Format(time.RFC3339),
	}
	return SetJSON(ctx, store, balanceKey(w.Key()), p, balanceTTL)
}

// GetBalance retrieves a cached wallet balance projection.
func GetBalance(ctx context.Context, store Store, key domain.WalletKey) (*BalanceProjection, error) {
	var p BalanceProjection
	if err := GetJSON(ctx, store, balanceKey(key), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// InvalidateBalance removes a wallet's cached balance.
func InvalidateBalance(ctx context.Context, store Store, key domain.WalletKey) error {
	return store.Delete(ctx, balanceKey(key))
}
