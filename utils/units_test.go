package utils

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTotalCost(t *testing.T) {
	price := decimal.RequireFromString("1.5")
	assert.True(t, TotalCost(price, 20).Equal(decimal.RequireFromString("30")))
	assert.True(t, TotalCost(price, 0).IsZero())
}

func TestToTokenUnits(t *testing.T) {
	amount := decimal.RequireFromString("2.5")
	units, err := ToTokenUnits(amount, 18)
	require.NoError(t, err)

	want, _ := new(big.Int).SetString("2500000000000000000", 10)
	assert.Equal(t, 0, units.Cmp(want))
}

func TestToTokenUnitsZeroDecimals(t *testing.T) {
	units, err := ToTokenUnits(decimal.NewFromInt(42), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(42), units.Int64())
}

func TestToTokenUnitsRejectsSubPrecision(t *testing.T) {
	// 0.001 of a 2-decimal token cannot be represented.
	_, err := ToTokenUnits(decimal.RequireFromString("0.001"), 2)
	require.Error(t, err)
}

func TestToTokenUnitsRejectsNegative(t *testing.T) {
	_, err := ToTokenUnits(decimal.RequireFromString("-1"), 18)
	require.Error(t, err)
}

func TestFromTokenUnitsRoundTrip(t *testing.T) {
	amount := decimal.RequireFromString("10.25")
	units, err := ToTokenUnits(amount, 6)
	require.NoError(t, err)
	assert.True(t, FromTokenUnits(units, 6).Equal(amount))
}
