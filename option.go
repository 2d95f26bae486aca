package storagemarket

import (
	"github.com/alphaai/storagemarket/chain"
	"github.com/alphaai/storagemarket/inventory"
	"github.com/alphaai/storagemarket/logger"
	"github.com/alphaai/storagemarket/metrics"
)

type Option func(*Market)

func WithLogger(l logger.Logger) Option {
	return func(m *Market) {
		m.log = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(m *Market) {
		m.rec = r
	}
}

// WithChainClient injects a chain client instead of dialing one from
// config. The caller keeps ownership and closes it.
func WithChainClient(c chain.Client) Option {
	return func(m *Market) {
		m.chain = c
	}
}

// WithStore injects an inventory store instead of connecting one from
// config. The caller keeps ownership and closes it.
func WithStore(s inventory.Store) Option {
	return func(m *Market) {
		m.store = s
	}
}
