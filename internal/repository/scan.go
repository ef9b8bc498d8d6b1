package repository

import (
	"fmt"

	"github.com/attaboy/settlement/internal/infra"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// numericCol scans a numeric column straight into a decimal.Decimal.
type numericCol struct {
	dst *decimal.Decimal
}

func num(dst *decimal.Decimal) *numericCol {
	return &numericCol{dst: dst}
}

// ScanNumeric implements pgtype.NumericScanner.
func (c *numericCol) ScanNumeric(n pgtype.Numeric) error {
	d, err := infra.NumericToDecimal(n)
	if err != nil {
		return fmt.Errorf("convert numeric: %w", err)
	}
	*c.dst = d
	return nil
}

func numArg(d decimal.Decimal) pgtype.Numeric {
	return infra.DecimalToNumeric(d)
}
