package money

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Places is the number of fractional digits every persisted amount carries.
const Places = 2

// Tolerance is the largest difference treated as equal when comparing balances.
var Tolerance = decimal.New(1, -Places)

// Zero is 0.00.
var Zero = decimal.Zero

// Parse reads a decimal amount from a string and rounds it to two places.
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return Round(d), nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Round rounds half away from zero to two decimal places.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// Add returns a+b rounded to two places.
func Add(a, b decimal.Decimal) decimal.Decimal {
	return Round(a.Add(b))
}

// Sub returns a-b rounded to two places.
func Sub(a, b decimal.Decimal) decimal.Decimal {
	return Round(a.Sub(b))
}

// Sum adds every value, rounding after each step.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = Add(total, v)
	}
	return total
}

// EqualWithin reports whether |a-b| <= tol.
func EqualWithin(a, b, tol decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tol)
}

// Equal compares two amounts using the default tolerance.
func Equal(a, b decimal.Decimal) bool {
	return EqualWithin(a, b, Tolerance)
}

// Ratio returns num/den rounded to the given places, or zero when den is zero.
func Ratio(num, den decimal.Decimal, places int32) decimal.Decimal {
	if den.IsZero() {
		return decimal.Zero
	}
	return num.DivRound(den, places)
}

// Format renders an amount with exactly two fractional digits ("90.00").
func Format(d decimal.Decimal) string {
	return d.StringFixed(Places)
}

// JSON renders an amount as a bare JSON number with two fractional digits.
func JSON(d decimal.Decimal) json.Number {
	return json.Number(Format(d))
}
