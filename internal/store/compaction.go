package store

import (
	"context"
	"fmt"
	"time"

	"github.com/voltgrid/haystack/internal/log"
	"github.com/voltgrid/haystack/internal/metrics"
	"github.com/voltgrid/haystack/internal/volume"
)

// CompactionWorker periodically scans sealed volumes and compacts any whose
// live fraction has dropped below threshold. At most one compaction runs at
// a time, matching the one-compaction-worker resource model.
type CompactionWorker struct {
	store    *Store
	interval time.Duration
}

// NewCompactionWorker builds a worker that checks every interval.
func NewCompactionWorker(s *Store, interval time.Duration) *CompactionWorker {
	return &CompactionWorker{store: s, interval: interval}
}

// Run blocks, ticking until ctx is canceled.
func (w *CompactionWorker) Run(ctx context.Context) {
	logger := log.WithComponent("compaction").With().Str("store_id", w.store.ID).Logger()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.tick(); err != nil {
				logger.Error().Err(err).Msg("compaction tick failed")
			}
		}
	}
}

func (w *CompactionWorker) tick() error {
	logger := log.WithComponent("compaction").With().Str("store_id", w.store.ID).Logger()
	for _, id := range w.store.SealedVolumeIDs() {
		v, ok := w.store.Volume(id)
		if !ok {
			continue
		}
		frac := volume.LiveFraction(w.store.Index(), id, v.Size())
		if frac >= w.store.CompactionEfficiencyThreshold() {
			continue
		}

		newID := w.allocateID()
		logger.Info().Uint32("volume_id", id).Float64("live_fraction", frac).Msg("compacting volume")
		next, err := volume.Compact(w.store.dir, v, newID, w.store.Index())
		if err != nil {
			return fmt.Errorf("compact volume %d: %w", id, err)
		}
		w.store.ReplaceVolume(id, next)
		metrics.CompactionsTotal.Inc()
		metrics.VolumeBytes.WithLabelValues(fmt.Sprint(next.ID)).Set(float64(next.Size()))
	}
	return nil
}

func (w *CompactionWorker) allocateID() uint32 {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	id := w.store.nextID
	w.store.nextID++
	return id
}
