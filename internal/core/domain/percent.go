package domain

import "math/big"

var basisPoints = big.NewInt(10000)

// Percentage returns amount/total as a percentage truncated to two decimals.
// The division happens on integers (amount*10000/total) so large supplies
// keep their precision. A zero or nil total yields 0.
func Percentage(amount, total *big.Int) float64 {
	if amount == nil || total == nil || total.Sign() == 0 {
		return 0
	}
	scaled := new(big.Int).Mul(amount, basisPoints)
	scaled.Quo(scaled, total)
	if scaled.IsInt64() {
		return float64(scaled.Int64()) / 100
	}
	f, _ := new(big.Float).SetInt(scaled).Float64()
	return f / 100
}

// RiskTier labels a collateralization ratio (in percent).
type RiskTier string

const (
	RiskSafe     RiskTier = "Safe"
	RiskModerate RiskTier = "Moderate"
	RiskRisky    RiskTier = "Risky"
	RiskCritical RiskTier = "Critical"
)

// TierForRatio bands a collateralization ratio into a risk tier.
func TierForRatio(ratio float64) RiskTier {
	switch {
	case ratio >= 200:
		return RiskSafe
	case ratio >= 150:
		return RiskModerate
	case ratio >= 120:
		return RiskRisky
	default:
		return RiskCritical
	}
}

// Color returns the display color for a destination category.
func (c Category) Color() string {
	switch c {
	case CategorySwap:
		return "#f59e0b"
	case CategoryBridge:
		return "#8b5cf6"
	case CategoryDeposit:
		return "#10b981"
	default:
		return "#6b7280"
	}
}

// Description returns the human-readable meaning of a destination category.
func (c Category) Description() string {
	switch c {
	case CategorySwap:
		return "Swapped to other tokens"
	case CategoryBridge:
		return "Bridged to other chains"
	case CategoryDeposit:
		return "Deposited in protocol"
	default:
		return "Unknown destination"
	}
}
