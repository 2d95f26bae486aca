package liveness

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/alphaai/storagemarket/types"
)

func onlineProvider(now time.Time) types.Provider {
	return types.Provider{
		ID:            "p1",
		Name:          "Provider A",
		WalletAddress: "0xabc",
		AvailableGB:   100,
		PricePerGB:    decimal.NewFromInt(1),
		IPFSNodeID:    "QmNode",
		Active:        true,
		LastSeen:      now,
	}
}

func TestIsOnline(t *testing.T) {
	now := time.Now()
	p := onlineProvider(now)
	assert.True(t, IsOnline(&p, now))
	assert.Equal(t, VerdictOnline, Availability(&p, now))
}

func TestStaleOverridesActive(t *testing.T) {
	now := time.Now()
	p := onlineProvider(now.Add(-40 * time.Second))
	p.Active = true

	assert.False(t, IsOnline(&p, now))
	assert.Equal(t, VerdictStale, Availability(&p, now))
}

func TestFreshnessBoundary(t *testing.T) {
	now := time.Now()

	p := onlineProvider(now.Add(-FreshnessWindow))
	assert.Equal(t, VerdictStale, Availability(&p, now), "exactly at the window is stale")

	p = onlineProvider(now.Add(-FreshnessWindow + time.Millisecond))
	assert.Equal(t, VerdictOnline, Availability(&p, now), "just inside the window is fresh")
}

func TestInactiveFlag(t *testing.T) {
	now := time.Now()
	p := onlineProvider(now)
	p.Active = false
	assert.Equal(t, VerdictInactive, Availability(&p, now))
}

func TestNoNode(t *testing.T) {
	now := time.Now()
	p := onlineProvider(now)
	p.IPFSNodeID = ""
	assert.Equal(t, VerdictNoNode, Availability(&p, now))
}

func TestNoCapacity(t *testing.T) {
	now := time.Now()
	p := onlineProvider(now)
	p.AvailableGB = 0
	assert.Equal(t, VerdictNoCapacity, Availability(&p, now))
	assert.False(t, IsOnline(&p, now))
}
