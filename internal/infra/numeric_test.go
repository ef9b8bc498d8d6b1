package infra

import (
	"math/big"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumericToDecimal_Zero(t *testing.T) {
	v, err := NumericToDecimal(DecimalToNumeric(decimal.Zero))
	require.NoError(t, err)
	assert.True(t, v.IsZero())
}

func TestNumericToDecimal_TwoPlaces(t *testing.T) {
	// 11500 * 10^-2 = 115.00
	n := pgtype.Numeric{Int: big.NewInt(11500), Exp: -2, Valid: true}
	v, err := NumericToDecimal(n)
	require.NoError(t, err)
	assert.Equal(t, "115.00", v.StringFixed(2))
}

func TestNumericToDecimal_PositiveExponent(t *testing.T) {
	n := pgtype.Numeric{Int: big.NewInt(5), Exp: 3, Valid: true}
	v, err := NumericToDecimal(n)
	require.NoError(t, err)
	assert.True(t, v.Equal(decimal.NewFromInt(5000)))
}

func TestNumericToDecimal_NullReturnsError(t *testing.T) {
	_, err := NumericToDecimal(pgtype.Numeric{Valid: false})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "NULL")
}

func TestNumericToDecimal_NaNReturnsError(t *testing.T) {
	_, err := NumericToDecimal(pgtype.Numeric{NaN: true, Valid: true})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "NaN")
}

func TestNumericToDecimal_InfinityReturnsError(t *testing.T) {
	_, err := NumericToDecimal(pgtype.Numeric{InfinityModifier: pgtype.Infinity, Valid: true})
	assert.Error(t, err)
}

func TestDecimalToNumeric_Roundtrip(t *testing.T) {
	values := []string{"0", "0.01", "-0.01", "90.00", "115.5", "-42.42", "999999999999.99"}
	for _, s := range values {
		d := decimal.RequireFromString(s)
		got, err := NumericToDecimal(DecimalToNumeric(d))
		require.NoError(t, err, "value: %s", s)
		assert.True(t, d.Equal(got), "value: %s got %s", s, got)
	}
}
