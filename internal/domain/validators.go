package domain

import (
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"
)

var currencyRegex = regexp.MustCompile(`^[A-Z]{3}$`)

// ValidateCurrency checks if a currency code is ISO 4217.
func ValidateCurrency(currency string) error {
	if !currencyRegex.MatchString(currency) {
		return ErrValidation(fmt.Sprintf("invalid currency code: %s", currency))
	}
	return nil
}

// ValidatePositiveAmount checks that an amount is strictly positive.
func ValidatePositiveAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrValidation(fmt.Sprintf("amount must be positive, got %s", amount.String()))
	}
	return nil
}

// ValidateTransactionType rejects unknown ledger types.
func ValidateTransactionType(t TransactionType) error {
	if !t.Valid() {
		return ErrValidation(fmt.Sprintf("unknown transaction type: %s", t))
	}
	return nil
}
