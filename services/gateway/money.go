package gateway

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ToMinorUnits converts a major-unit amount to cents, rounding half away from
// zero to the nearest cent. It never truncates.
func ToMinorUnits(amount decimal.Decimal) (int64, error) {
	if amount.IsNegative() {
		return 0, fmt.Errorf("amount must not be negative: %s", amount)
	}
	return amount.Mul(hundred).Round(0).IntPart(), nil
}

// FromMinorUnits converts cents back to a major-unit amount exactly
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}
