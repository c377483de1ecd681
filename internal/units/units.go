// Package units converts between human collateral amounts ("12.5") and
// integer base units. Amounts never pass through float64.
package units

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ToBaseUnits parses a decimal string and scales it by 10^decimals.
// The result must be a non-negative integer; "0.0000001" with 6 decimals fails
// rather than silently rounding.
func ToBaseUnits(amount string, decimals uint8) (*big.Int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("amount %q is negative", amount)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("amount %q has more than %d decimals", amount, decimals)
	}
	return scaled.BigInt(), nil
}

// FromBaseUnits renders base units as a human amount with trailing zeros trimmed.
func FromBaseUnits(n *big.Int, decimals uint8) string {
	if n == nil {
		return "0"
	}
	return decimal.NewFromBigInt(n, -int32(decimals)).String()
}
