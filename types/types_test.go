package types

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocationExpiry(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := Allocation{
		CreatedAt: created,
		ExpiresAt: created.Add(AllocationTerm),
	}

	assert.False(t, a.Expired(created))
	assert.False(t, a.Expired(created.Add(29*24*time.Hour)))
	assert.True(t, a.Expired(created.Add(31*24*time.Hour)))
}

func TestPurchaseRequestValidate(t *testing.T) {
	ok := PurchaseRequest{ProviderID: "p1", GB: 20}
	require.NoError(t, ok.Validate())

	cases := []PurchaseRequest{
		{ProviderID: "p1", GB: 0},
		{ProviderID: "p1", GB: -3},
		{GB: 20},
	}
	for _, req := range cases {
		err := req.Validate()
		require.Error(t, err, "%+v", req)
		assert.True(t, IsCode(err, ErrInvalidRequest))

		var me *MarketError
		require.ErrorAs(t, err, &me)
		assert.Equal(t, CheckpointValidate, me.Checkpoint)
	}
}

func TestNetworkConfigValidate(t *testing.T) {
	cfg := BSCTestnet("https://data-seed-prebsc-1-s1.binance.org:8545",
		"0x1111111111111111111111111111111111111111",
		"0x2222222222222222222222222222222222222222")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, int64(97), cfg.ChainID)

	missing := cfg
	missing.TokenAddress = ""
	err := missing.Validate()
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrConfig))

	badURL := cfg
	badURL.RPCURL = "not a url"
	assert.Error(t, badURL.Validate())
}

func TestIsCode(t *testing.T) {
	err := &MarketError{Code: ErrCapacityConflict, Message: "conflict"}
	assert.True(t, IsCode(err, ErrCapacityConflict))
	assert.False(t, IsCode(err, ErrConfig))
	assert.False(t, IsCode(errors.New("plain"), ErrCapacityConflict))
	assert.False(t, IsCode(nil, ErrCapacityConflict))

	// Message is the error text callers see.
	assert.EqualError(t, err, "conflict")
	assert.Equal(t, "conflict", fmt.Sprintf("%v", err))
}
