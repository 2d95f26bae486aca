// Package storagemarket wires the storage market core together: the
// chain client for payment settlement, the inventory store for
// capacity bookkeeping, provider-side liveness tracking, and the
// buyer-side purchase pipeline.
//
// All collaborators are explicit capabilities constructed here once
// and passed by reference; there is no ambient client state.
package storagemarket

import (
	"context"
	"fmt"
	"time"

	"github.com/alphaai/storagemarket/chain"
	"github.com/alphaai/storagemarket/inventory"
	"github.com/alphaai/storagemarket/liveness"
	"github.com/alphaai/storagemarket/logger"
	"github.com/alphaai/storagemarket/metrics"
	"github.com/alphaai/storagemarket/purchase"
	"github.com/alphaai/storagemarket/types"
)

// Config is the process-level configuration for one market instance.
type Config struct {
	// Network is the single target network purchases settle on.
	Network types.NetworkConfig

	// DatabaseURL connects the Postgres inventory store. Ignored when
	// a store is injected through WithStore.
	DatabaseURL string

	// SignerKey is the buyer's hex private key. Ignored when a signer
	// or full chain client is injected.
	SignerKey string

	LogLevel string
}

// Market is the root handle. Safe for concurrent use; each Purchase
// call runs its own sequential pipeline.
type Market struct {
	chain        chain.Client
	store        inventory.Store
	orchestrator *purchase.Orchestrator
	target       types.NetworkConfig
	log          logger.Logger
	rec          metrics.Recorder

	ownsChain bool
	ownsStore bool
}

// New builds a Market from config, constructing the EVM chain client
// and Postgres store unless replacements are injected via options.
func New(ctx context.Context, cfg Config, opts ...Option) (*Market, error) {
	m := &Market{
		target: cfg.Network,
		log:    logger.NoopLogger{},
		rec:    metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.chain == nil {
		signer, err := chain.NewKeyedSigner(cfg.SignerKey)
		if err != nil {
			return nil, &types.MarketError{
				Code:    types.ErrConfig,
				Message: fmt.Sprintf("invalid signer key: %v", err),
			}
		}
		c, err := chain.NewEVMClient(cfg.Network, signer)
		if err != nil {
			return nil, err
		}
		m.chain = c
		m.ownsChain = true
	}

	if m.store == nil {
		if cfg.DatabaseURL == "" {
			if m.ownsChain {
				m.chain.Close()
			}
			return nil, &types.MarketError{
				Code:    types.ErrConfig,
				Message: "database url is required when no store is injected",
			}
		}
		s, err := inventory.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			if m.ownsChain {
				m.chain.Close()
			}
			return nil, &types.MarketError{
				Code:    types.ErrConnectivity,
				Message: fmt.Sprintf("inventory store unavailable: %v", err),
			}
		}
		m.store = s
		m.ownsStore = true
	}

	m.orchestrator = purchase.NewOrchestrator(m.chain, m.store, m.target, m.log, m.rec)
	return m, nil
}

// Purchase executes one end-to-end storage purchase.
func (m *Market) Purchase(ctx context.Context, req types.PurchaseRequest) (*types.PurchaseReceipt, error) {
	return m.orchestrator.Purchase(ctx, req)
}

// Providers lists all provider records; pair with IsOnline for a
// usable-provider view.
func (m *Market) Providers(ctx context.Context) ([]types.Provider, error) {
	return m.store.ListProviders(ctx)
}

// IsProviderOnline applies the central liveness rule to a fresh read
// of the provider record.
func (m *Market) IsProviderOnline(ctx context.Context, providerID string) (bool, error) {
	p, err := m.store.GetProvider(ctx, providerID)
	if err != nil {
		return false, err
	}
	return liveness.IsOnline(p, time.Now()), nil
}

// SubscribeProviders delivers provider-table change events until ctx
// is cancelled; UI collaborators refresh their lists from it.
func (m *Market) SubscribeProviders(ctx context.Context, h inventory.Handler) error {
	return m.store.Subscribe(ctx, inventory.TableProviders, h)
}

// NewTracker builds the provider-side liveness tracker against this
// market's store.
func (m *Market) NewTracker(cfg liveness.TrackerConfig, prober liveness.NodeProber) *liveness.Tracker {
	return liveness.NewTracker(cfg, m.store, prober, m.log, m.rec)
}

// Store exposes the inventory capability for collaborators that need
// direct reads.
func (m *Market) Store() inventory.Store {
	return m.store
}

// Close releases the clients the market constructed itself. Injected
// capabilities stay open; their owner closes them.
func (m *Market) Close() {
	if m.ownsChain {
		m.chain.Close()
	}
	if m.ownsStore {
		m.store.Close()
	}
}
