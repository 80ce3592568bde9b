// Package units converts raw token integers into display values.
package units

import (
	"math/big"

	"github.com/shopspring/decimal"
)

var (
	thousand = decimal.NewFromInt(1_000)
	million  = decimal.NewFromInt(1_000_000)
)

// ToDecimal scales a raw token amount by its decimals.
func ToDecimal(amount *big.Int, decimals uint8) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -int32(decimals))
}

// FormatTokenAmount renders a raw amount with two decimals and a K or M
// suffix above a thousand and a million units respectively.
func FormatTokenAmount(amount *big.Int, decimals uint8) string {
	d := ToDecimal(amount, decimals)
	switch {
	case d.GreaterThanOrEqual(million):
		return d.Div(million).StringFixed(2) + "M"
	case d.GreaterThanOrEqual(thousand):
		return d.Div(thousand).StringFixed(2) + "K"
	default:
		return d.StringFixed(2)
	}
}

// Ratio returns num/den*100 where both are raw amounts with their own
// decimals. A zero denominator yields 0.
func Ratio(num *big.Int, numDecimals uint8, den *big.Int, denDecimals uint8) float64 {
	d := ToDecimal(den, denDecimals)
	if d.IsZero() {
		return 0
	}
	return ToDecimal(num, numDecimals).Div(d).Mul(decimal.NewFromInt(100)).InexactFloat64()
}
