package directory

import (
	"context"
	"time"

	"github.com/voltgrid/haystack/internal/log"
	"github.com/voltgrid/haystack/internal/metrics"
	"github.com/voltgrid/haystack/internal/types"
)

// HealthScanner transitions store descriptors HEALTHY -> SUSPECT -> DOWN
// based on heartbeat staleness, per the HEALTH_WINDOW/2 and HEALTH_WINDOW
// thresholds. It only ever downgrades status; a fresh heartbeat restores
// HEALTHY directly (handled by the registration path, not here).
type HealthScanner struct {
	store    *BoltStore
	window   time.Duration
	interval time.Duration
}

// NewHealthScanner builds a scanner checking every interval.
func NewHealthScanner(store *BoltStore, window, interval time.Duration) *HealthScanner {
	return &HealthScanner{store: store, window: window, interval: interval}
}

// Run blocks, scanning until ctx is canceled.
func (h *HealthScanner) Run(ctx context.Context) {
	logger := log.WithComponent("health")
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.tick(); err != nil {
				logger.Error().Err(err).Msg("health scan failed")
			}
		}
	}
}

func (h *HealthScanner) tick() error {
	stores, err := h.store.ListStores()
	if err != nil {
		return err
	}

	now := time.Now()
	counts := map[types.StoreStatus]int{}
	for _, d := range stores {
		age := now.Sub(d.LastHeartbeat)
		newStatus := classify(d.Status, age, h.window)
		if newStatus != d.Status {
			d.Status = newStatus
			if err := h.store.PutStore(&d); err != nil {
				return err
			}
		}
		counts[d.Status]++
	}
	for _, status := range []types.StoreStatus{types.StoreHealthy, types.StoreSuspect, types.StoreDown} {
		metrics.DirectoryStoresByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
	return nil
}

// classify applies the HEALTHY->SUSPECT->DOWN staleness thresholds. It
// never promotes a store back toward HEALTHY; only a new heartbeat does
// that (see Directory.Heartbeat).
func classify(current types.StoreStatus, age, window time.Duration) types.StoreStatus {
	switch {
	case age > window:
		return types.StoreDown
	case age > window/2:
		if current == types.StoreDown {
			return types.StoreDown
		}
		return types.StoreSuspect
	default:
		return current
	}
}
