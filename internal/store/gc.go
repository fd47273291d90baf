package store

import (
	"context"
	"time"

	"github.com/voltgrid/haystack/internal/log"
	"github.com/voltgrid/haystack/internal/metrics"
	"github.com/voltgrid/haystack/internal/volume"
)

// KnownIDsFetcher retrieves the set of photo ids Directory believes this
// store should hold, so GC can tombstone anything else.
type KnownIDsFetcher func(ctx context.Context, storeID string) (map[uint64]bool, error)

// GCWorker periodically tombstones needles whose photo_id Directory no
// longer knows about.
type GCWorker struct {
	store    *Store
	interval time.Duration
	fetch    KnownIDsFetcher
}

// NewGCWorker builds a worker that runs every interval.
func NewGCWorker(s *Store, interval time.Duration, fetch KnownIDsFetcher) *GCWorker {
	return &GCWorker{store: s, interval: interval, fetch: fetch}
}

// Run blocks, ticking until ctx is canceled.
func (w *GCWorker) Run(ctx context.Context) {
	logger := log.WithComponent("gc").With().Str("store_id", w.store.ID).Logger()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.tick(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("gc tick failed")
				continue
			}
			if n > 0 {
				logger.Info().Int("tombstoned", n).Msg("gc tombstoned unknown needles")
			}
			metrics.GCTombstonesTotal.Add(float64(n))
		}
	}
}

func (w *GCWorker) tick(ctx context.Context) (int, error) {
	known, err := w.fetch(ctx, w.store.ID)
	if err != nil {
		return 0, err
	}
	return volume.GC(w.store.idx, known, w.store.AppendTombstone)
}
