package liveness

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alphaai/storagemarket/inventory"
	"github.com/alphaai/storagemarket/logger"
	"github.com/alphaai/storagemarket/metrics"
	"github.com/alphaai/storagemarket/types"
)

// HeartbeatInterval is the tracker's write cadence. It is half the
// freshness window, so a single missed beat does not mark the
// provider offline but two do.
const HeartbeatInterval = 15 * time.Second

// State of the tracker loop.
type State int32

const (
	StateStarting State = iota
	StateActive
	StateDegraded
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateDegraded:
		return "degraded"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// statusLogInterval throttles the routine "status updated" log line.
const statusLogInterval = time.Hour

// TrackerConfig describes the provider this tracker speaks for.
// CapacityGB is the original local budget; the advertised remainder
// is recomputed every cycle as budget minus live allocations.
type TrackerConfig struct {
	WalletAddress string
	Name          string
	CapacityGB    int64
	PricePerGB    decimal.Decimal

	Interval     time.Duration // defaults to HeartbeatInterval
	ProbeTimeout time.Duration // defaults to 10s
}

// Tracker is the provider-side liveness daemon. It owns all writes to
// its provider record's active flag and last_seen timestamp; capacity
// refreshes go through the store's conditional update like every other
// capacity writer.
type Tracker struct {
	cfg    TrackerConfig
	store  inventory.Store
	prober NodeProber
	log    logger.Logger
	rec    metrics.Recorder

	state         atomic.Int32
	providerID    string
	lastStatusLog time.Time
}

func NewTracker(cfg TrackerConfig, store inventory.Store, prober NodeProber, log logger.Logger, rec metrics.Recorder) *Tracker {
	if cfg.Interval <= 0 {
		cfg.Interval = HeartbeatInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Tracker{
		cfg:    cfg,
		store:  store,
		prober: prober,
		log:    log.Named("tracker"),
		rec:    rec,
	}
}

// State returns the tracker's current state.
func (t *Tracker) State() State {
	return State(t.state.Load())
}

// ProviderID is set once Run has registered or found the record.
func (t *Tracker) ProviderID() string {
	return t.providerID
}

// Run starts the heartbeat loop and blocks until ctx is cancelled.
// If the content daemon is unreachable at start, Run fails fast and
// never enters the active state.
func (t *Tracker) Run(ctx context.Context) error {
	t.state.Store(int32(StateStarting))

	probeCtx, cancel := context.WithTimeout(ctx, t.cfg.ProbeTimeout)
	err := t.prober.Probe(probeCtx)
	cancel()
	if err != nil {
		t.state.Store(int32(StateStopped))
		return fmt.Errorf("content daemon not reachable: %w", err)
	}

	if err := t.ensureRegistered(ctx); err != nil {
		t.state.Store(int32(StateStopped))
		return err
	}

	t.state.Store(int32(StateActive))
	t.log.Info("provider online", map[string]any{
		"provider": t.providerID,
		"wallet":   t.cfg.WalletAddress,
		"capacity": t.cfg.CapacityGB,
	})

	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.shutdown()
			return nil
		case <-ticker.C:
			t.cycle(ctx)
		}
	}
}

// ensureRegistered finds the provider record for our wallet or creates
// it on first start, with the node id read from the daemon.
func (t *Tracker) ensureRegistered(ctx context.Context) error {
	p, err := t.store.GetProviderByWallet(ctx, t.cfg.WalletAddress)
	if err == nil {
		t.providerID = p.ID
		return nil
	}
	if err != inventory.ErrNotFound {
		return fmt.Errorf("look up provider record: %w", err)
	}

	nodeID, err := t.prober.NodeID(ctx)
	if err != nil {
		return fmt.Errorf("read node id: %w", err)
	}

	name := t.cfg.Name
	if name == "" && len(t.cfg.WalletAddress) >= 8 {
		name = "Provider " + t.cfg.WalletAddress[:8]
	}

	record := &types.Provider{
		Name:          name,
		WalletAddress: t.cfg.WalletAddress,
		AvailableGB:   t.cfg.CapacityGB,
		PricePerGB:    t.cfg.PricePerGB,
		IPFSNodeID:    nodeID,
		Active:        true,
	}
	if err := t.store.RegisterProvider(ctx, record); err != nil {
		return fmt.Errorf("register provider: %w", err)
	}
	t.providerID = record.ID
	t.log.Info("provider registered", map[string]any{
		"provider": record.ID,
		"node":     nodeID,
	})
	return nil
}

// cycle runs one heartbeat. Errors inside a cycle are logged and the
// provider is assumed inactive for the cycle; the loop itself never
// dies from a bad beat.
func (t *Tracker) cycle(ctx context.Context) {
	started := time.Now()
	defer func() {
		t.rec.ObserveLatency("heartbeat", time.Since(started), nil)
	}()

	probeCtx, cancel := context.WithTimeout(ctx, t.cfg.ProbeTimeout)
	probeErr := t.prober.Probe(probeCtx)
	cancel()

	if probeErr != nil {
		t.degrade(ctx, probeErr)
		return
	}

	record, err := t.store.GetProviderByWallet(ctx, t.cfg.WalletAddress)
	if err != nil {
		t.assumeInactive(ctx, "read provider record", err)
		return
	}

	now := time.Now()
	// Active only if the daemon answered and the stored record was
	// still fresh when we read it; a record that went stale means we
	// missed beats and should not claim continuity.
	isActive := now.Sub(record.LastSeen) < FreshnessWindow

	if err := t.store.SetProviderStatus(ctx, t.cfg.WalletAddress, isActive); err != nil {
		t.assumeInactive(ctx, "write provider status", err)
		return
	}

	t.refreshCapacity(ctx, record, now)

	t.state.Store(int32(StateActive))
	t.rec.IncCounter("heartbeat_ok", nil)

	if now.Sub(t.lastStatusLog) >= statusLogInterval {
		t.log.Info("provider status updated", map[string]any{
			"provider": t.providerID,
			"active":   isActive,
		})
		t.lastStatusLog = now
	} else {
		t.log.Debug("heartbeat", map[string]any{
			"provider": t.providerID,
			"active":   isActive,
		})
	}
}

// refreshCapacity republishes the truthful remaining budget: the
// original allocation minus everything currently reserved. The write
// is conditional on the value we just read; losing that race to a
// concurrent purchase simply leaves the correction to the next cycle.
func (t *Tracker) refreshCapacity(ctx context.Context, record *types.Provider, now time.Time) {
	allocated, err := t.store.ActiveAllocatedGB(ctx, record.ID, now)
	if err != nil {
		t.log.Warn("read allocations failed", map[string]any{"error": err.Error()})
		return
	}

	remaining := t.cfg.CapacityGB - allocated
	if remaining < 0 {
		remaining = 0
	}
	if remaining == record.AvailableGB {
		return
	}

	err = t.store.ConditionalUpdateCapacity(ctx, record.ID, record.AvailableGB, remaining)
	if err == inventory.ErrCapacityConflict {
		t.log.Debug("capacity refresh lost race", map[string]any{"provider": record.ID})
		return
	}
	if err != nil {
		t.log.Warn("capacity refresh failed", map[string]any{"error": err.Error()})
	}
}

func (t *Tracker) degrade(ctx context.Context, cause error) {
	t.state.Store(int32(StateDegraded))
	t.rec.IncCounter("heartbeat_degraded", nil)
	t.log.Warn("daemon probe failed, marking inactive", map[string]any{
		"error": cause.Error(),
	})
	if err := t.store.SetProviderStatus(ctx, t.cfg.WalletAddress, false); err != nil {
		t.log.Error("failed to mark provider inactive", map[string]any{
			"error": err.Error(),
		})
	}
}

func (t *Tracker) assumeInactive(ctx context.Context, op string, cause error) {
	t.rec.IncCounter("heartbeat_error", nil)
	t.log.Warn(op+" failed, assuming inactive this cycle", map[string]any{
		"error": cause.Error(),
	})
	// Best effort; if this write fails too the record goes stale and
	// the evaluator marks us offline within one freshness window.
	_ = t.store.SetProviderStatus(ctx, t.cfg.WalletAddress, false)
}

// shutdown performs the final best-effort inactive write. The parent
// context is already cancelled, so it gets its own short deadline.
func (t *Tracker) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := t.store.SetProviderStatus(ctx, t.cfg.WalletAddress, false); err != nil {
		t.log.Warn("final status write failed, record will go stale", map[string]any{
			"error": err.Error(),
		})
	}
	t.state.Store(int32(StateStopped))
	t.log.Info("provider tracker stopped", map[string]any{"provider": t.providerID})
}
