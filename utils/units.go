// Package utils holds token-amount arithmetic shared by the chain
// client and the purchase orchestrator. All money math is integer
// fixed-point at the token's decimal precision; floats never appear so
// the displayed cost and the submitted on-chain amount cannot diverge.
package utils

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// TotalCost returns pricePerGB * gb as a decimal token amount.
func TotalCost(pricePerGB decimal.Decimal, gb int64) decimal.Decimal {
	return pricePerGB.Mul(decimal.NewFromInt(gb))
}

// ToTokenUnits converts a decimal token amount into atomic units at the
// given precision. The scaled amount must be integral: a price quoted
// finer than the token can represent is a configuration defect, not
// something to round away silently.
func ToTokenUnits(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("token amount cannot be negative: %s", amount)
	}
	scaled := amount.Shift(decimals)
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("amount %s does not fit in %d decimals", amount, decimals)
	}
	return scaled.BigInt(), nil
}

// FromTokenUnits converts atomic units back to a decimal amount, used
// for human-readable shortfall messages.
func FromTokenUnits(units *big.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(units, -decimals)
}
