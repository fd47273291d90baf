package store

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/voltgrid/haystack/internal/log"
	"github.com/voltgrid/haystack/internal/types"
)

// HeartbeatSender pushes one descriptor to one Directory replica. Satisfied
// by *client.DirectoryClient; an interface here keeps this package free of
// a dependency on the concrete HTTP transport, matching how the store's
// Cache dependency is also taken as an interface.
type HeartbeatSender interface {
	Heartbeat(ctx context.Context, desc types.StoreDescriptor) error
}

// HeartbeatWorker pushes this Store's descriptor to every configured
// Directory address every interval.
type HeartbeatWorker struct {
	store     *Store
	address   string
	interval  time.Duration
	receivers []HeartbeatSender
}

// NewHeartbeatWorker builds a worker pushing to every receiver every
// interval. address is this Store's own advertised host:port.
func NewHeartbeatWorker(s *Store, address string, interval time.Duration, receivers []HeartbeatSender) *HeartbeatWorker {
	return &HeartbeatWorker{store: s, address: address, interval: interval, receivers: receivers}
}

// Run blocks, ticking until ctx is canceled.
func (w *HeartbeatWorker) Run(ctx context.Context) {
	logger := log.WithComponent("heartbeat").With().Str("store_id", w.store.ID).Logger()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx, logger)
		}
	}
}

func (w *HeartbeatWorker) tick(ctx context.Context, logger zerolog.Logger) {
	stats := w.store.Stats()
	desc := types.StoreDescriptor{
		StoreID:       w.store.ID,
		Address:       w.address,
		Status:        types.StoreHealthy,
		LastHeartbeat: time.Now(),
		FreeBytes:     stats.FreeBytes,
		Ops60s:        stats.Ops60s,
	}
	for _, r := range w.receivers {
		if err := r.Heartbeat(ctx, desc); err != nil {
			logger.Warn().Err(err).Msg("heartbeat failed")
		}
	}
}
