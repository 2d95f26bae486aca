package liveness

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphaai/storagemarket/inventory"
	"github.com/alphaai/storagemarket/types"
)

type fakeProber struct {
	mu       sync.Mutex
	probeErr error
	nodeID   string
}

func (f *fakeProber) Probe(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probeErr
}

func (f *fakeProber) NodeID(context.Context) (string, error) {
	return f.nodeID, nil
}

func (f *fakeProber) setProbeErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probeErr = err
}

type fakeStore struct {
	mu          sync.Mutex
	provider    *types.Provider
	allocated   int64
	statusErr   error
	statusCalls []bool
}

func (f *fakeStore) GetProvider(_ context.Context, id string) (*types.Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.provider == nil || f.provider.ID != id {
		return nil, inventory.ErrNotFound
	}
	p := *f.provider
	return &p, nil
}

func (f *fakeStore) GetProviderByWallet(_ context.Context, wallet string) (*types.Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.provider == nil || f.provider.WalletAddress != wallet {
		return nil, inventory.ErrNotFound
	}
	p := *f.provider
	return &p, nil
}

func (f *fakeStore) ListProviders(context.Context) ([]types.Provider, error) {
	return nil, nil
}

func (f *fakeStore) RegisterProvider(_ context.Context, p *types.Provider) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.ID == "" {
		p.ID = "generated-id"
	}
	p.LastSeen = time.Now()
	cp := *p
	f.provider = &cp
	return nil
}

func (f *fakeStore) ConditionalUpdateCapacity(_ context.Context, id string, expected, newGB int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.provider == nil || f.provider.ID != id {
		return inventory.ErrNotFound
	}
	if f.provider.AvailableGB != expected {
		return inventory.ErrCapacityConflict
	}
	f.provider.AvailableGB = newGB
	return nil
}

func (f *fakeStore) InsertAllocation(context.Context, *types.Allocation) error { return nil }

func (f *fakeStore) ActiveAllocatedGB(context.Context, string, time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.allocated, nil
}

func (f *fakeStore) SetProviderStatus(_ context.Context, wallet string, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls = append(f.statusCalls, active)
	if f.statusErr != nil {
		return f.statusErr
	}
	if f.provider != nil && f.provider.WalletAddress == wallet {
		f.provider.Active = active
		f.provider.LastSeen = time.Now()
	}
	return nil
}

func (f *fakeStore) Subscribe(context.Context, string, inventory.Handler) error { return nil }
func (f *fakeStore) Close()                                                    {}

func (f *fakeStore) snapshot() types.Provider {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.provider
}

func newTestTracker(store *fakeStore, prober *fakeProber) *Tracker {
	return NewTracker(TrackerConfig{
		WalletAddress: "0xprovider",
		Name:          "Test Provider",
		CapacityGB:    100,
		PricePerGB:    decimal.NewFromInt(1),
		Interval:      5 * time.Millisecond,
	}, store, prober, nil, nil)
}

func registeredStore() *fakeStore {
	return &fakeStore{provider: &types.Provider{
		ID:            "p1",
		Name:          "Test Provider",
		WalletAddress: "0xprovider",
		AvailableGB:   100,
		PricePerGB:    decimal.NewFromInt(1),
		IPFSNodeID:    "QmNode",
		Active:        true,
		LastSeen:      time.Now(),
	}}
}

func TestRunFailsFastWhenDaemonUnreachable(t *testing.T) {
	store := registeredStore()
	prober := &fakeProber{probeErr: errors.New("connection refused")}

	tracker := newTestTracker(store, prober)
	err := tracker.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not reachable")
	assert.Equal(t, StateStopped, tracker.State())
}

func TestRunRegistersProviderOnFirstStart(t *testing.T) {
	store := &fakeStore{}
	prober := &fakeProber{nodeID: "QmNewNode"}
	tracker := newTestTracker(store, prober)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tracker.Run(ctx) }()

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.provider != nil
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	p := store.snapshot()
	assert.Equal(t, "0xprovider", p.WalletAddress)
	assert.Equal(t, "QmNewNode", p.IPFSNodeID)
	assert.Equal(t, int64(100), p.AvailableGB)
}

func TestCycleWritesHeartbeat(t *testing.T) {
	store := registeredStore()
	tracker := newTestTracker(store, &fakeProber{})
	tracker.providerID = "p1"

	tracker.cycle(context.Background())

	assert.Equal(t, StateActive, tracker.State())
	p := store.snapshot()
	assert.True(t, p.Active)
	assert.WithinDuration(t, time.Now(), p.LastSeen, time.Second)
}

func TestCycleDegradesOnProbeFailure(t *testing.T) {
	store := registeredStore()
	prober := &fakeProber{}
	tracker := newTestTracker(store, prober)
	tracker.providerID = "p1"

	prober.setProbeErr(errors.New("no peers"))
	tracker.cycle(context.Background())

	assert.Equal(t, StateDegraded, tracker.State())
	assert.False(t, store.snapshot().Active)

	// Recovery on the next successful probe.
	prober.setProbeErr(nil)
	tracker.cycle(context.Background())
	assert.Equal(t, StateActive, tracker.State())
	assert.True(t, store.snapshot().Active)
}

func TestCycleRefreshesCapacityFromAllocations(t *testing.T) {
	store := registeredStore()
	store.allocated = 30
	tracker := newTestTracker(store, &fakeProber{})
	tracker.providerID = "p1"

	tracker.cycle(context.Background())

	// 100 GB budget minus 30 GB allocated.
	assert.Equal(t, int64(70), store.snapshot().AvailableGB)
}

func TestCycleMarksStaleRecordInactive(t *testing.T) {
	store := registeredStore()
	store.provider.LastSeen = time.Now().Add(-FreshnessWindow - time.Second)
	tracker := newTestTracker(store, &fakeProber{})
	tracker.providerID = "p1"

	tracker.cycle(context.Background())

	// The daemon is fine, but continuity was lost; the cycle must not
	// claim active until the record is fresh again.
	store.mu.Lock()
	defer store.mu.Unlock()
	require.NotEmpty(t, store.statusCalls)
	assert.False(t, store.statusCalls[len(store.statusCalls)-1])
}

func TestCycleSurvivesStoreErrors(t *testing.T) {
	store := registeredStore()
	store.statusErr = errors.New("store down")
	tracker := newTestTracker(store, &fakeProber{})
	tracker.providerID = "p1"

	// Must not panic and must not change state to stopped.
	tracker.cycle(context.Background())
	assert.NotEqual(t, StateStopped, tracker.State())
}

func TestShutdownWritesInactiveOnce(t *testing.T) {
	store := registeredStore()
	tracker := newTestTracker(store, &fakeProber{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tracker.Run(ctx) }()

	require.Eventually(t, func() bool {
		return tracker.State() == StateActive
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, StateStopped, tracker.State())
	assert.False(t, store.snapshot().Active)
}
