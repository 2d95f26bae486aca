// The provider daemon: registers this machine as a storage provider
// and keeps its liveness record fresh until interrupted.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alphaai/storagemarket/config"
	"github.com/alphaai/storagemarket/inventory"
	"github.com/alphaai/storagemarket/liveness"
	"github.com/alphaai/storagemarket/logger"
	"github.com/alphaai/storagemarket/metrics"
)

func main() {
	log := logger.NewZapLogger("info")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Error("configuration error", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	log = logger.NewZapLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := inventory.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("inventory store unavailable", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	defer store.Close()

	if err := store.InitSchema(ctx); err != nil {
		log.Error("schema init failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	tracker := liveness.NewTracker(liveness.TrackerConfig{
		WalletAddress: cfg.WalletAddress,
		Name:          cfg.ProviderName,
		CapacityGB:    cfg.CapacityGB,
		PricePerGB:    cfg.PricePerGB,
	}, store, liveness.NewIPFSProber(cfg.IPFSAPIURL), log, metrics.NoopRecorder{})

	if err := tracker.Run(ctx); err != nil {
		log.Error("tracker failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}
