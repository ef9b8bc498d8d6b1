package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/attaboy/settlement/internal/cache"
	"github.com/attaboy/settlement/internal/clock"
	"github.com/attaboy/settlement/internal/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBurstMode(t *testing.T) {
	tests := []struct {
		in      string
		want    BurstMode
		wantErr bool
	}{
		{"", BurstOff, false},
		{"off", BurstOff, false},
		{"LOG", BurstLog, false},
		{"reject", BurstReject, false},
		{"block", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBurstMode(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func burstKey(ref string) BurstKey {
	return BurstKey{UserID: "u1", GameID: "g1", Amount: money.MustParse("10.00"), Reference: ref}
}

func TestBurstDetector(t *testing.T) {
	ctx := context.Background()

	t.Run("off allows everything", func(t *testing.T) {
		d := NewBurstDetector(BurstOff, time.Second, cache.NewInMemoryStore(), nil)
		assert.True(t, d.Check(ctx, burstKey("tx1")).Allowed)
		assert.True(t, d.Check(ctx, burstKey("tx2")).Allowed)
	})

	t.Run("nil detector allows", func(t *testing.T) {
		var d *BurstDetector
		assert.True(t, d.Check(ctx, burstKey("tx1")).Allowed)
	})

	t.Run("reject flags a second reference in window", func(t *testing.T) {
		d := NewBurstDetector(BurstReject, time.Minute, cache.NewInMemoryStore(), nil)
		assert.True(t, d.Check(ctx, burstKey("tx1")).Allowed)

		res := d.Check(ctx, burstKey("tx2"))
		assert.False(t, res.Allowed)
		assert.Equal(t, "duplicate_burst", res.Guard)
		assert.Contains(t, res.Reason, "tx1")
	})

	t.Run("retry of the same reference is not a burst", func(t *testing.T) {
		d := NewBurstDetector(BurstReject, time.Minute, cache.NewInMemoryStore(), nil)
		assert.True(t, d.Check(ctx, burstKey("tx1")).Allowed)
		assert.True(t, d.Check(ctx, burstKey("tx1")).Allowed)
	})

	t.Run("log mode allows but reports", func(t *testing.T) {
		d := NewBurstDetector(BurstLog, time.Minute, cache.NewInMemoryStore(), nil)
		d.Check(ctx, burstKey("tx1"))
		res := d.Check(ctx, burstKey("tx2"))
		assert.True(t, res.Allowed)
		assert.Equal(t, "duplicate_burst", res.Guard)
	})

	t.Run("different amount is not a burst", func(t *testing.T) {
		d := NewBurstDetector(BurstReject, time.Minute, cache.NewInMemoryStore(), nil)
		d.Check(ctx, burstKey("tx1"))
		k := burstKey("tx2")
		k.Amount = money.MustParse("10.01")
		assert.True(t, d.Check(ctx, k).Allowed)
	})

	t.Run("window expiry", func(t *testing.T) {
		clk := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
		store := cache.NewInMemoryStore().WithClock(clk.Now)
		d := NewBurstDetector(BurstReject, 2*time.Second, store, nil)
		d.Check(ctx, burstKey("tx1"))

		clk.Advance(3 * time.Second)
		assert.True(t, d.Check(ctx, burstKey("tx2")).Allowed)
	})

	t.Run("release frees the window for a new reference", func(t *testing.T) {
		d := NewBurstDetector(BurstReject, time.Minute, cache.NewInMemoryStore(), nil)
		assert.True(t, d.Check(ctx, burstKey("tx1")).Allowed)
		d.Release(ctx, burstKey("tx1"))
		assert.True(t, d.Check(ctx, burstKey("tx2")).Allowed)
	})

	t.Run("release keeps another reference's window", func(t *testing.T) {
		d := NewBurstDetector(BurstReject, time.Minute, cache.NewInMemoryStore(), nil)
		assert.True(t, d.Check(ctx, burstKey("tx1")).Allowed)
		d.Release(ctx, burstKey("tx2"))
		assert.False(t, d.Check(ctx, burstKey("tx3")).Allowed)
	})

	t.Run("no store disables", func(t *testing.T) {
		d := NewBurstDetector(BurstReject, time.Second, nil, nil)
		assert.Equal(t, BurstOff, d.Mode())
	})

	t.Run("store failure fails open", func(t *testing.T) {
		d := NewBurstDetector(BurstReject, time.Second, failingStore{}, nil)
		assert.True(t, d.Check(ctx, burstKey("tx1")).Allowed)
	})
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, error) { return nil, errors.New("down") }
func (failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("down")
}
func (failingStore) SetNX(context.Context, string, []byte, time.Duration) (bool, error) {
	return false, errors.New("down")
}
func (failingStore) Delete(context.Context, string) error { return errors.New("down") }

func TestCircuitBreaker_ClosedByDefault(t *testing.T) {
	cb := NewCircuitBreaker(3, 5*time.Second, nil)
	ctx := context.Background()

	result := cb.Check(ctx, "cache")
	assert.True(t, result.Allowed)
}

func TestCircuitBreaker_OpensOnThreshold(t *testing.T) {
	cb := NewCircuitBreaker(2, 5*time.Second, nil)
	ctx := context.Background()

	cb.Check(ctx, "cache")
	cb.RecordFailure("cache")
	cb.RecordFailure("cache")

	result := cb.Check(ctx, "cache")
	assert.False(t, result.Allowed)
	assert.Equal(t, "circuit_breaker", result.Guard)
	assert.Equal(t, CircuitOpen, cb.State("cache"))
}

func TestCircuitBreaker_SuccessResets(t *testing.T) {
	cb := NewCircuitBreaker(2, 5*time.Second, nil)
	ctx := context.Background()

	cb.Check(ctx, "cache")
	cb.RecordFailure("cache")
	cb.RecordSuccess("cache")
	cb.RecordFailure("cache")

	result := cb.Check(ctx, "cache")
	assert.True(t, result.Allowed)
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cb := NewCircuitBreaker(1, 5*time.Second, clk)
	ctx := context.Background()

	cb.RecordFailure("cache")
	assert.False(t, cb.Check(ctx, "cache").Allowed)

	clk.Advance(6 * time.Second)
	assert.True(t, cb.Check(ctx, "cache").Allowed)
	assert.Equal(t, CircuitHalfOpen, cb.State("cache"))

	t.Run("failed probe reopens", func(t *testing.T) {
		cb.RecordFailure("cache")
		assert.Equal(t, CircuitOpen, cb.State("cache"))
	})

	t.Run("successful probe closes", func(t *testing.T) {
		clk.Advance(6 * time.Second)
		require.True(t, cb.Check(ctx, "cache").Allowed)
		cb.RecordSuccess("cache")
		assert.Equal(t, CircuitClosed, cb.State("cache"))
	})
}
