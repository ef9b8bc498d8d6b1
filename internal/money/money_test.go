package money

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"integer", "100", "100.00", false},
		{"two places", "10.25", "10.25", false},
		{"rounds half up", "10.005", "10.01", false},
		{"rounds down", "10.004", "10.00", false},
		{"negative", "-3.5", "-3.50", false},
		{"whitespace", " 7.10 ", "7.10", false},
		{"empty", "", "", true},
		{"garbage", "ten", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, Format(got))
		})
	}
}

func TestAddSubDoNotDrift(t *testing.T) {
	balance := MustParse("100.00")
	step := MustParse("0.10")

	for i := 0; i < 1000; i++ {
		balance = Sub(balance, step)
		balance = Add(balance, step)
	}
	assert.Equal(t, "100.00", Format(balance))
}

func TestSum(t *testing.T) {
	got := Sum(MustParse("0.10"), MustParse("0.20"), MustParse("-0.05"))
	assert.Equal(t, "0.25", Format(got))
	assert.True(t, Sum().IsZero())
}

func TestEqualWithin(t *testing.T) {
	assert.True(t, Equal(MustParse("90.00"), MustParse("90.01")))
	assert.False(t, Equal(MustParse("90.00"), MustParse("90.02")))
	assert.True(t, EqualWithin(MustParse("1"), MustParse("2"), decimal.NewFromInt(1)))
}

func TestRatio(t *testing.T) {
	assert.Equal(t, "2.5", Ratio(MustParse("25"), MustParse("10"), 4).String())
	assert.Equal(t, "0.3333", Ratio(MustParse("1"), MustParse("3"), 4).String())
	assert.True(t, Ratio(MustParse("5"), decimal.Zero, 4).IsZero())
}

func TestJSON(t *testing.T) {
	out, err := json.Marshal(map[string]json.Number{"balance": JSON(MustParse("115"))})
	require.NoError(t, err)
	assert.JSONEq(t, `{"balance":115.00}`, string(out))
	assert.Contains(t, string(out), "115.00")
}
