package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/attaboy/settlement/internal/cache"
	"github.com/attaboy/settlement/internal/domain"
	"github.com/attaboy/settlement/internal/money"
	"github.com/shopspring/decimal"
)

// BurstMode controls what the detector does with a suspected duplicate.
type BurstMode string

const (
	BurstOff    BurstMode = "off"
	BurstLog    BurstMode = "log"
	BurstReject BurstMode = "reject"
)

// ParseBurstMode parses a config value; empty means off.
func ParseBurstMode(s string) (BurstMode, error) {
	switch m := BurstMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "", BurstOff:
		return BurstOff, nil
	case BurstLog, BurstReject:
		return m, nil
	default:
		return "", fmt.Errorf("unknown duplicate burst mode %q", s)
	}
}

// BurstKey describes one BET for duplicate detection.
type BurstKey struct {
	UserID    string
	GameID    string
	Amount    decimal.Decimal
	Reference string
}

// BurstDetector flags BETs of the same amount on the same game from the same
// user that arrive within window under different references. Retries of the
// same reference are never flagged; the idempotency index handles those.
type BurstDetector struct {
	mode   BurstMode
	window time.Duration
	store  cache.Store
	logger *slog.Logger
}

// NewBurstDetector creates a detector. A nil store or zero window turns it off.
func NewBurstDetector(mode BurstMode, window time.Duration, store cache.Store, logger *slog.Logger) *BurstDetector {
	if store == nil || window <= 0 {
		mode = BurstOff
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BurstDetector{mode: mode, window: window, store: store, logger: logger}
}

// Mode returns the effective mode.
func (d *BurstDetector) Mode() BurstMode {
	return d.mode
}

func (k BurstKey) cacheKey() string {
	return fmt.Sprintf("burst:%s:%s:%s", k.UserID, k.GameID, money.Format(k.Amount))
}

// Release drops the window claimed by k's reference, for a BET that did not
// commit. A window held by another reference is left alone.
func (d *BurstDetector) Release(ctx context.Context, k BurstKey) {
	if d == nil || d.mode == BurstOff {
		return
	}
	key := k.cacheKey()
	prev, err := d.store.Get(ctx, key)
	if err != nil || string(prev) != k.Reference {
		return
	}
	if err := d.store.Delete(ctx, key); err != nil {
		d.logger.Warn("duplicate burst release failed", "error", err, "user_id", k.UserID)
	}
}

// Check returns whether the BET may proceed. Store failures fail open.
func (d *BurstDetector) Check(ctx context.Context, k BurstKey) domain.GuardResult {
	if d == nil || d.mode == BurstOff {
		return domain.GuardResult{Allowed: true}
	}

	key := k.cacheKey()
	won, err := d.store.SetNX(ctx, key, []byte(k.Reference), d.window)
	if err != nil {
		d.logger.Warn("duplicate burst check failed", "error", err, "user_id", k.UserID)
		return domain.GuardResult{Allowed: true}
	}
	if won {
		return domain.GuardResult{Allowed: true}
	}

	prev, err := d.store.Get(ctx, key)
	if errors.Is(err, cache.ErrMiss) || (err == nil && string(prev) == k.Reference) {
		return domain.GuardResult{Allowed: true}
	}
	if err != nil {
		d.logger.Warn("duplicate burst check failed", "error", err, "user_id", k.UserID)
		return domain.GuardResult{Allowed: true}
	}

	reason := fmt.Sprintf("bet of %s on %s repeated within %s (previous %s)", money.Format(k.Amount), k.GameID, d.window, prev)
	d.logger.Warn("duplicate burst detected",
		"user_id", k.UserID,
		"game_id", k.GameID,
		"transaction_id", k.Reference,
		"previous_transaction_id", string(prev),
		"mode", string(d.mode),
	)
	if d.mode == BurstLog {
		return domain.GuardResult{Allowed: true, Reason: reason, Guard: "duplicate_burst"}
	}
	return domain.GuardResult{Allowed: false, Reason: reason, Guard: "duplicate_burst"}
}
