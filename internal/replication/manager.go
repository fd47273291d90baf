package replication

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/voltgrid/haystack/internal/cache"
	"github.com/voltgrid/haystack/internal/log"
	"github.com/voltgrid/haystack/internal/metrics"
	"github.com/voltgrid/haystack/internal/placement"
	"github.com/voltgrid/haystack/internal/types"
)

// DirectoryAPI is the Directory surface the Replication Manager needs.
// Satisfied by *client.DirectoryClient; declared as an interface here so
// tests can inject an in-memory fake without standing up HTTP servers.
type DirectoryAPI interface {
	Stores(ctx context.Context) ([]types.StoreDescriptor, error)
	Audit(ctx context.Context) ([]*types.BlobMetadata, error)
	Commit(ctx context.Context, photoID uint64, locations []string) error
	SetDesiredReplicas(ctx context.Context, photoID uint64, count int) error
}

// StoreAPI is the subset of a Store's HTTP contract the Replication
// Manager drives. Satisfied by *client.StoreClient.
type StoreAPI interface {
	CopyTo(ctx context.Context, photoID uint64, toAddr string) error
	Delete(ctx context.Context, photoID uint64) error
}

// StoreClientFactory builds a StoreAPI bound to one store's address.
type StoreClientFactory func(address string) StoreAPI

// Options configures a Manager.
type Options struct {
	Directory        DirectoryAPI
	NewStoreClient   StoreClientFactory
	Cache            cache.Cache // may be nil
	Lock             *Lock
	DefaultReplicas  int
	MaxReplicas      int
	HotnessThreshold int64
	MaxCopyWorkers   int
	NightlyAuditHour int
}

// Manager is the control loop mirrored on a ticker + mutex-guarded
// single-flight reconcile, per-tick metrics, periodic audit.
type Manager struct {
	dir              DirectoryAPI
	newStoreClient   StoreClientFactory
	cache            cache.Cache
	lock             *Lock
	defaultReplicas  int
	maxReplicas      int
	hotnessThreshold int64
	maxCopyWorkers   int
	nightlyAuditHour int

	mu sync.Mutex
}

// New builds a Manager.
func New(opts Options) *Manager {
	workers := opts.MaxCopyWorkers
	if workers <= 0 {
		workers = 4
	}
	return &Manager{
		dir:              opts.Directory,
		newStoreClient:   opts.NewStoreClient,
		cache:            opts.Cache,
		lock:             opts.Lock,
		defaultReplicas:  opts.DefaultReplicas,
		maxReplicas:      opts.MaxReplicas,
		hotnessThreshold: opts.HotnessThreshold,
		maxCopyWorkers:   workers,
		nightlyAuditHour: opts.NightlyAuditHour,
	}
}

// RunControlLoop blocks, running one reconcile cycle every interval until
// ctx is canceled. Each cycle reads every blob's metadata but repairs at
// most sampleLimit under- and sampleLimit over-replicated blobs;
// RunNightlyAudit runs the same cycle without that cap.
func (m *Manager) RunControlLoop(ctx context.Context, interval time.Duration) {
	logger := log.WithComponent("replication")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.cycle(ctx, sampleLimit); err != nil {
				logger.Error().Err(err).Msg("replication cycle failed")
			}
		}
	}
}

// sampleLimit bounds how many under/over-replicated blobs one regular tick
// processes, so a large backlog can't make a single cycle run forever; the
// nightly audit (limit 0) eventually covers whatever a tick skips.
const sampleLimit = 200

// cycle runs one reconcile: acquire the advisory lock (skip the cycle
// entirely if another instance holds it), adapt desired replica counts by
// hotness, then fix under/over-replication. limit bounds how many candidates
// of each kind are processed; 0 means unlimited (the nightly audit).
func (m *Manager) cycle(ctx context.Context, limit int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()
	defer func() {
		metrics.ReplicationTickDuration.Observe(time.Since(start).Seconds())
	}()
	metrics.ReplicationTicksTotal.Inc()

	got, err := m.lock.TryAcquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire replication lock: %w", err)
	}
	if !got {
		return nil
	}

	stores, err := m.dir.Stores(ctx)
	if err != nil {
		return fmt.Errorf("list stores: %w", err)
	}
	healthy := make(map[string]types.StoreDescriptor, len(stores))
	for _, d := range stores {
		if d.Status == types.StoreHealthy {
			healthy[d.StoreID] = d
		}
	}

	blobs, err := m.dir.Audit(ctx)
	if err != nil {
		return fmt.Errorf("audit: %w", err)
	}

	m.adaptDesiredReplicas(ctx, blobs)

	under, over := classifyReplication(blobs, healthy)
	if limit > 0 {
		under = capSlice(under, limit)
		over = capSlice(over, limit)
	}

	m.runParallel(ctx, under, func(ctx context.Context, b *types.BlobMetadata) {
		m.upReplicate(ctx, b, healthy)
	})
	m.runParallel(ctx, over, func(ctx context.Context, b *types.BlobMetadata) {
		m.deReplicate(ctx, b, healthy)
	})
	return nil
}

func capSlice(s []*types.BlobMetadata, n int) []*types.BlobMetadata {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// classifyReplication splits blobs into under-replicated (fewer healthy
// locations than desired) and over-replicated (more locations than
// desired), per spec's priority order.
func classifyReplication(blobs []*types.BlobMetadata, healthy map[string]types.StoreDescriptor) (under, over []*types.BlobMetadata) {
	for _, b := range blobs {
		if b.Deleted {
			continue
		}
		healthyCount := 0
		for storeID := range b.Locations {
			if _, ok := healthy[storeID]; ok {
				healthyCount++
			}
		}
		switch {
		case healthyCount < b.DesiredReplicas:
			under = append(under, b)
		case len(b.Locations) > b.DesiredReplicas:
			over = append(over, b)
		}
	}
	return under, over
}

// adaptDesiredReplicas raises a blob's desired replica count toward
// MaxReplicas when its 60s read rate exceeds HotnessThreshold, and lowers
// it back toward DefaultReplicas once it cools off.
func (m *Manager) adaptDesiredReplicas(ctx context.Context, blobs []*types.BlobMetadata) {
	logger := log.WithComponent("replication")
	for _, b := range blobs {
		if b.Deleted {
			continue
		}
		var want int
		if b.ReadsLast60s > m.hotnessThreshold {
			want = m.maxReplicas
		} else {
			want = m.defaultReplicas
		}
		if want == b.DesiredReplicas {
			continue
		}
		if err := m.dir.SetDesiredReplicas(ctx, b.PhotoID, want); err != nil {
			logger.Warn().Err(err).Uint64("photo_id", b.PhotoID).Msg("desired replica adaptation failed")
		}
	}
}

// runParallel drives fn over items with a bounded worker pool, per the
// spec's "bounded worker pool for parallel copy jobs."
func (m *Manager) runParallel(ctx context.Context, items []*types.BlobMetadata, fn func(context.Context, *types.BlobMetadata)) {
	sem := make(chan struct{}, m.maxCopyWorkers)
	var wg sync.WaitGroup
	for _, b := range items {
		b := b
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			fn(ctx, b)
		}()
	}
	wg.Wait()
}

// upReplicate copies b to enough new destinations to reach DesiredReplicas.
// Before each copy it checks the source against healthy, the set captured
// at the start of the cycle; a store that turns unhealthy during the cycle
// is not detected, and destinations are not re-checked.
func (m *Manager) upReplicate(ctx context.Context, b *types.BlobMetadata, healthy map[string]types.StoreDescriptor) {
	logger := log.WithComponent("replication")

	var sources []types.StoreDescriptor
	for storeID := range b.Locations {
		if d, ok := healthy[storeID]; ok {
			sources = append(sources, d)
		}
	}
	if len(sources) == 0 {
		logger.Warn().Uint64("photo_id", b.PhotoID).Msg("no healthy source for under-replicated blob")
		return
	}
	src := lowestOpsSource(sources)

	need := b.DesiredReplicas - len(sources)
	if need <= 0 {
		return
	}
	candidates := make([]types.StoreDescriptor, 0, len(healthy))
	for _, d := range healthy {
		candidates = append(candidates, d)
	}
	destinations := placement.Pick(candidates, b.Locations, b.Size, 0, need)
	if len(destinations) == 0 {
		logger.Warn().Uint64("photo_id", b.PhotoID).Msg("no eligible destination for under-replicated blob")
		return
	}

	sourceClient := m.newStoreClient(src.Address)
	newLocations := b.LocationList()
	for _, dst := range destinations {
		if _, stillHealthy := healthy[src.StoreID]; !stillHealthy {
			logger.Warn().Uint64("photo_id", b.PhotoID).Msg("source left healthy set mid-flight, aborting")
			break
		}
		if err := sourceClient.CopyTo(ctx, b.PhotoID, dst.Address); err != nil {
			logger.Warn().Err(err).Uint64("photo_id", b.PhotoID).Str("dst", dst.StoreID).Msg("copy_to failed")
			continue
		}
		newLocations = append(newLocations, dst.StoreID)
	}
	if len(newLocations) == len(b.LocationList()) {
		return // nothing actually copied
	}
	if err := m.dir.Commit(ctx, b.PhotoID, newLocations); err != nil {
		logger.Warn().Err(err).Uint64("photo_id", b.PhotoID).Msg("commit after up-replication failed")
		return
	}
	metrics.ReplicationActionsTotal.WithLabelValues("up_replicate").Inc()
}

// deReplicate removes the excess replica on the most utilized store,
// never shrinking below DesiredReplicas.
func (m *Manager) deReplicate(ctx context.Context, b *types.BlobMetadata, healthy map[string]types.StoreDescriptor) {
	logger := log.WithComponent("replication")

	excess := len(b.Locations) - b.DesiredReplicas
	if excess <= 0 {
		return
	}

	current := make([]types.StoreDescriptor, 0, len(b.Locations))
	for storeID := range b.Locations {
		if d, ok := healthy[storeID]; ok {
			current = append(current, d)
		}
	}

	remaining := make(map[string]bool, len(b.Locations))
	for storeID := range b.Locations {
		remaining[storeID] = true
	}

	for i := 0; i < excess; i++ {
		victim, ok := placement.HighestUtilization(current)
		if !ok {
			break
		}
		if _, stillHealthy := healthy[victim.StoreID]; !stillHealthy {
			logger.Warn().Uint64("photo_id", b.PhotoID).Str("victim", victim.StoreID).Msg("victim left healthy set mid-flight, aborting")
			break
		}
		victimClient := m.newStoreClient(victim.Address)
		if err := victimClient.Delete(ctx, b.PhotoID); err != nil {
			logger.Warn().Err(err).Uint64("photo_id", b.PhotoID).Str("victim", victim.StoreID).Msg("delete failed")
			break
		}
		delete(remaining, victim.StoreID)
		current = removeDescriptor(current, victim.StoreID)
		if m.cache != nil {
			m.cache.Invalidate(ctx, b.PhotoID)
		}
	}

	if len(remaining) == len(b.Locations) {
		return // nothing actually removed
	}
	locations := make([]string, 0, len(remaining))
	for id := range remaining {
		locations = append(locations, id)
	}
	if err := m.dir.Commit(ctx, b.PhotoID, locations); err != nil {
		logger.Warn().Err(err).Uint64("photo_id", b.PhotoID).Msg("commit after de-replication failed")
		return
	}
	metrics.ReplicationActionsTotal.WithLabelValues("de_replicate").Inc()
}

// lowestOpsSource picks a deterministic, lightly-loaded copy source:
// lowest recent ops, tie-broken by store_id.
func lowestOpsSource(sources []types.StoreDescriptor) types.StoreDescriptor {
	best := sources[0]
	for _, d := range sources[1:] {
		if d.Ops60s < best.Ops60s || (d.Ops60s == best.Ops60s && d.StoreID < best.StoreID) {
			best = d
		}
	}
	return best
}

func removeDescriptor(s []types.StoreDescriptor, storeID string) []types.StoreDescriptor {
	out := s[:0]
	for _, d := range s {
		if d.StoreID != storeID {
			out = append(out, d)
		}
	}
	return out
}
