package directory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/voltgrid/haystack/internal/log"
	"github.com/voltgrid/haystack/internal/metrics"
	"github.com/voltgrid/haystack/internal/placement"
	"github.com/voltgrid/haystack/internal/types"
)

// ErrNotLeader is returned by leader-only operations when this replica does
// not currently hold the lease.
var ErrNotLeader = fmt.Errorf("directory: not leader")

// ErrNotFound is returned by Locate for an unknown or deleted photo id.
var ErrNotFound = fmt.Errorf("directory: not found")

// Directory is one replica of the metadata authority. Writes are
// leader-gated; reads are always served locally.
type Directory struct {
	store               *BoltStore
	election            *Election
	healthWindow        time.Duration
	defaultReplicaCount int
	margin              int64

	onCommit func(photoID uint64) // hook for sync.go's follower push

	readMu sync.Mutex
	reads  map[uint64]int64 // photo_id -> locate count since last flush
}

// Options configures a Directory.
type Options struct {
	Store               *BoltStore
	Election            *Election
	HealthWindow        time.Duration
	DefaultReplicaCount int
	PlacementMargin      int64
}

// New builds a Directory replica.
func New(opts Options) *Directory {
	return &Directory{
		store:               opts.Store,
		election:            opts.Election,
		healthWindow:        opts.HealthWindow,
		defaultReplicaCount: opts.DefaultReplicaCount,
		margin:              opts.PlacementMargin,
		reads:               make(map[uint64]int64),
	}
}

// OnCommit registers a hook invoked after every successful Commit, used by
// the leader's push-to-followers loop.
func (d *Directory) OnCommit(fn func(photoID uint64)) {
	d.onCommit = fn
}

// Register allocates a new photo id and chooses placement. Leader-only.
func (d *Directory) Register(ctx context.Context, size int64, checksum [32]byte) (uint64, []types.StoreDescriptor, error) {
	if !d.election.IsLeader() {
		return 0, nil, ErrNotLeader
	}

	photoID, err := d.store.NextPhotoID()
	if err != nil {
		return 0, nil, err
	}

	stores, err := d.store.ListStores()
	if err != nil {
		return 0, nil, fmt.Errorf("list stores: %w", err)
	}
	chosen := placement.Pick(stores, nil, size, d.margin, d.defaultReplicaCount)
	if len(chosen) == 0 {
		return 0, nil, fmt.Errorf("register photo %d: no eligible stores", photoID)
	}

	b := &types.BlobMetadata{
		PhotoID:         photoID,
		Size:            size,
		Checksum:        checksum,
		Locations:       make(map[string]bool),
		DesiredReplicas: d.defaultReplicaCount,
		UpdatedAt:       time.Now(),
	}
	if err := d.store.PutBlob(b); err != nil {
		return 0, nil, fmt.Errorf("register photo %d: %w", photoID, err)
	}
	metrics.DirectoryBlobsTotal.Inc()
	return photoID, chosen, nil
}

// Commit records which stores actually hold photoID's data. Leader-only.
func (d *Directory) Commit(ctx context.Context, photoID uint64, locations []string) error {
	if !d.election.IsLeader() {
		return ErrNotLeader
	}
	b, ok, err := d.store.GetBlob(photoID)
	if err != nil {
		return fmt.Errorf("commit photo %d: %w", photoID, err)
	}
	if !ok {
		return ErrNotFound
	}
	b.Locations = make(map[string]bool, len(locations))
	for _, loc := range locations {
		b.Locations[loc] = true
	}
	b.UpdatedAt = time.Now()
	if err := d.store.PutBlob(b); err != nil {
		return fmt.Errorf("commit photo %d: %w", photoID, err)
	}
	if d.onCommit != nil {
		d.onCommit(photoID)
	}
	return nil
}

// Locate returns the healthy addresses currently holding photoID.
func (d *Directory) Locate(ctx context.Context, photoID uint64) ([]string, error) {
	b, ok, err := d.store.GetBlob(photoID)
	if err != nil {
		return nil, fmt.Errorf("locate photo %d: %w", photoID, err)
	}
	if !ok || b.Deleted {
		return nil, ErrNotFound
	}

	d.readMu.Lock()
	d.reads[photoID]++
	d.readMu.Unlock()

	now := time.Now()
	var addrs []string
	for storeID := range b.Locations {
		desc, ok, err := d.store.GetStore(storeID)
		if err != nil {
			return nil, fmt.Errorf("locate photo %d: %w", photoID, err)
		}
		if !ok || desc.Status != types.StoreHealthy {
			continue
		}
		if now.Sub(desc.LastHeartbeat) >= d.healthWindow {
			continue
		}
		addrs = append(addrs, desc.Address)
	}
	if len(addrs) == 0 {
		return nil, ErrNotFound
	}
	return addrs, nil
}

// MarkDeleted sets deleted=true for photoID. Leader-only.
func (d *Directory) MarkDeleted(ctx context.Context, photoID uint64) error {
	if !d.election.IsLeader() {
		return ErrNotLeader
	}
	b, ok, err := d.store.GetBlob(photoID)
	if err != nil {
		return fmt.Errorf("mark_deleted photo %d: %w", photoID, err)
	}
	if !ok {
		return ErrNotFound
	}
	b.Deleted = true
	b.UpdatedAt = time.Now()
	if err := d.store.PutBlob(b); err != nil {
		return fmt.Errorf("mark_deleted photo %d: %w", photoID, err)
	}
	if d.onCommit != nil {
		d.onCommit(photoID)
	}
	return nil
}

// SetDesiredReplicas updates a blob's target replica count, driven by the
// Replication Manager's hotness adaptation. Leader-only.
func (d *Directory) SetDesiredReplicas(ctx context.Context, photoID uint64, n int) error {
	if !d.election.IsLeader() {
		return ErrNotLeader
	}
	b, ok, err := d.store.GetBlob(photoID)
	if err != nil {
		return fmt.Errorf("set_desired_replicas photo %d: %w", photoID, err)
	}
	if !ok {
		return ErrNotFound
	}
	if b.DesiredReplicas == n {
		return nil
	}
	b.DesiredReplicas = n
	b.UpdatedAt = time.Now()
	if err := d.store.PutBlob(b); err != nil {
		return fmt.Errorf("set_desired_replicas photo %d: %w", photoID, err)
	}
	if d.onCommit != nil {
		d.onCommit(photoID)
	}
	return nil
}

// Stores returns every known store descriptor.
func (d *Directory) Stores(ctx context.Context) ([]types.StoreDescriptor, error) {
	return d.store.ListStores()
}

// Heartbeat records a store's latest descriptor. Any replica may accept
// one; only the leader acts on it for reconciliation purposes, but every
// replica keeps its own view of store health current so Locate stays
// accurate even on followers.
func (d *Directory) Heartbeat(ctx context.Context, desc types.StoreDescriptor) error {
	desc.Status = types.StoreHealthy
	desc.LastHeartbeat = time.Now()
	return d.store.PutStore(&desc)
}

// RunReadRateFlusher blocks, periodically writing each photo's locate count
// since the last tick into its BlobMetadata.ReadsLast60s so the
// Replication Manager's hotness check (a 60s read rate) has something to
// read from /audit. Interval should match the 60s window the spec defines
// the hotness threshold over.
func (d *Directory) RunReadRateFlusher(ctx context.Context, interval time.Duration) {
	logger := log.WithComponent("directory.readrate")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.flushReadRates(); err != nil {
				logger.Warn().Err(err).Msg("read rate flush failed")
			}
		}
	}
}

func (d *Directory) flushReadRates() error {
	d.readMu.Lock()
	snapshot := d.reads
	d.reads = make(map[uint64]int64, len(snapshot))
	d.readMu.Unlock()

	for photoID, count := range snapshot {
		b, ok, err := d.store.GetBlob(photoID)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		b.ReadsLast60s = count
		if err := d.store.PutBlob(b); err != nil {
			return err
		}
	}
	return nil
}

// KnownPhotoIDs returns every photo id whose locations include storeID, for
// that store's GC worker to diff against its on-disk set.
func (d *Directory) KnownPhotoIDs(ctx context.Context, storeID string) (map[uint64]bool, error) {
	out := make(map[uint64]bool)
	err := d.store.RangeBlobs(func(b *types.BlobMetadata) bool {
		if !b.Deleted && b.Locations[storeID] {
			out[b.PhotoID] = true
		}
		return true
	})
	return out, err
}
