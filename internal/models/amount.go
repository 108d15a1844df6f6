package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// AmountScale is the number of fractional digits the stores keep.
// Amounts with more precision are rejected rather than silently rounded.
const AmountScale = 8

// MaxAmountIntegerDigits keeps amounts inside the NUMERIC(38,8) column
const MaxAmountIntegerDigits = 38 - AmountScale

var amountLimit = decimal.New(1, MaxAmountIntegerDigits)

// MaxAccountIDLength bounds account ids to something every store can index
const MaxAccountIDLength = 128

// ParseAmount parses a user supplied amount and validates it
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if err := ValidateAmount(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// ValidateAmount checks that amount is strictly positive and fits AmountScale
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidAmount, amount.String())
	}
	if amount.GreaterThanOrEqual(amountLimit) {
		return fmt.Errorf("%w: %s has more than %d integer digits", ErrInvalidAmount, amount.String(), MaxAmountIntegerDigits)
	}
	if !amount.Equal(amount.Truncate(AmountScale)) {
		return fmt.Errorf("%w: %s has more than %d fractional digits", ErrInvalidAmount, amount.String(), AmountScale)
	}
	return nil
}

func ValidateAccountID(accountID string) error {
	trimmed := strings.TrimSpace(accountID)
	if trimmed == "" {
		return fmt.Errorf("%w: empty", ErrInvalidAccountID)
	}
	if trimmed != accountID {
		return fmt.Errorf("%w: surrounding whitespace in %q", ErrInvalidAccountID, accountID)
	}
	if len(accountID) > MaxAccountIDLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidAccountID, MaxAccountIDLength)
	}
	return nil
}
