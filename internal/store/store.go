// Package store implements the Store component: a set of append-only
// volumes plus their in-memory index, exposed over HTTP and kept in sync
// with a Directory via heartbeats.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/voltgrid/haystack/internal/cache"
	"github.com/voltgrid/haystack/internal/metrics"
	"github.com/voltgrid/haystack/internal/needle"
	"github.com/voltgrid/haystack/internal/volume"
)

var (
	// ErrNotFound is returned for unknown or tombstoned photo ids.
	ErrNotFound = fmt.Errorf("store: not found")
	// ErrCorrupt is returned when a stored needle fails checksum
	// verification on read.
	ErrCorrupt = fmt.Errorf("store: corrupt")
	// ErrFull is returned when the active volume cannot accept more data.
	ErrFull = fmt.Errorf("store: full")
	// ErrIO wraps unexpected disk write failures; the index is left
	// untouched so the record is never made visible.
	ErrIO = fmt.Errorf("store: io error")
)

// Stats mirrors the stats() contract: free_bytes, volume_bytes, live_bytes,
// ops_60s.
type Stats struct {
	FreeBytes   int64 `json:"free_bytes"`
	VolumeBytes int64 `json:"volume_bytes"`
	LiveBytes   int64 `json:"live_bytes"`
	Ops60s      int64 `json:"ops_60s"`
}

// Store owns one active (writable) volume plus any number of sealed
// (read-only) volumes, sharing one index across all of them.
type Store struct {
	ID  string
	dir string

	maxVolumeSize int64
	compactionEff float64

	mu      sync.RWMutex // protects volumes/active/nextID
	volumes map[uint32]*volume.Volume
	active  *volume.Volume
	nextID  uint32

	idx        *volume.Index
	snapshotDB io.Closer

	cache    cache.Cache
	cacheTTL time.Duration
	ops      *opsCounter
}

// Options configures a new Store.
type Options struct {
	ID            string
	Dir           string
	MaxVolumeSize int64
	CompactionEff float64
	Cache         cache.Cache
	CacheTTL      time.Duration
}

// Open recovers (or initializes) a Store rooted at opts.Dir: it lists
// existing volume files, replays each against the bbolt snapshot (trusting
// the snapshot only where the persisted size matches the file size), and
// opens the highest-numbered volume as active.
func Open(opts Options) (*Store, error) {
	ids, err := volume.ListVolumeIDs(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("list volumes in %s: %w", opts.Dir, err)
	}

	snapshotPath := filepath.Join(opts.Dir, "index.db")
	db, err := volume.OpenSnapshotDB(snapshotPath)
	if err != nil {
		return nil, err
	}

	snapshot, err := volume.LoadSnapshot(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load index snapshot: %w", err)
	}

	idx, err := volume.RecoverIndex(opts.Dir, ids, snapshot)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("recover index: %w", err)
	}

	s := &Store{
		ID:            opts.ID,
		dir:           opts.Dir,
		maxVolumeSize: opts.MaxVolumeSize,
		compactionEff: opts.CompactionEff,
		volumes:       make(map[uint32]*volume.Volume),
		idx:           idx,
		snapshotDB:    db,
		cache:         opts.Cache,
		cacheTTL:      opts.CacheTTL,
		ops:           newOpsCounter(),
	}

	var activeID uint32
	for i, id := range ids {
		sealed := i != len(ids)-1
		v, err := volume.Open(opts.Dir, id, sealed)
		if err != nil {
			return nil, fmt.Errorf("open volume %d: %w", id, err)
		}
		s.volumes[id] = v
		if !sealed {
			s.active = v
			activeID = id
		}
	}

	if s.active == nil {
		activeID = 1
		v, err := volume.Create(opts.Dir, activeID)
		if err != nil {
			return nil, fmt.Errorf("create initial volume: %w", err)
		}
		s.volumes[activeID] = v
		s.active = v
	}
	s.nextID = activeID + 1

	return s, nil
}

// Close releases the snapshot database and all open volume file handles.
// It does not close the Cache, which the caller owns.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.volumes {
		_ = v.Close()
	}
	return s.snapshotDB.Close()
}

// Put appends photoID's data as a new needle on the active volume, fsyncs,
// updates the index, and best-effort pushes to the Cache.
func (s *Store) Put(ctx context.Context, photoID uint64, data []byte) error {
	n := needle.NewData(photoID, data)

	s.mu.Lock()
	if s.active.Size()+int64(n.EncodedLen()) > s.maxVolumeSize {
		if err := s.rollActiveLocked(); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("roll volume: %w", err)
		}
	}
	active := s.active
	volumeID := active.ID
	s.mu.Unlock()

	offset, err := active.Append(n)
	if err != nil {
		metrics.StorePuts.WithLabelValues("error").Inc()
		if isDiskFull(err) {
			return ErrFull
		}
		return fmt.Errorf("%w: %v", ErrIO, err)
	}

	s.idx.Put(photoID, volume.Entry{VolumeID: volumeID, Offset: offset, Size: int64(n.EncodedLen())})
	_ = s.idx.PersistVolumeSize(volumeID, active.Size())
	s.ops.incr()
	metrics.StorePuts.WithLabelValues("ok").Inc()
	metrics.VolumeBytes.WithLabelValues(fmt.Sprint(volumeID)).Set(float64(active.Size()))

	if s.cache != nil {
		s.cache.Put(ctx, photoID, data, s.cacheTTL)
	}
	return nil
}

// rollActiveLocked seals the current active volume and opens a new one.
// Callers must hold s.mu.
func (s *Store) rollActiveLocked() error {
	s.active.Seal()
	id := s.nextID
	s.nextID++
	v, err := volume.Create(s.dir, id)
	if err != nil {
		return err
	}
	s.volumes[id] = v
	s.active = v
	return nil
}

// Get reads photoID's current bytes, or ErrNotFound/ErrCorrupt.
func (s *Store) Get(photoID uint64) ([]byte, error) {
	e, ok := s.idx.Get(photoID)
	if !ok || e.Deleted {
		metrics.StoreGets.WithLabelValues("miss").Inc()
		return nil, ErrNotFound
	}

	s.mu.RLock()
	v, ok := s.volumes[e.VolumeID]
	s.mu.RUnlock()
	if !ok {
		metrics.StoreGets.WithLabelValues("miss").Inc()
		return nil, ErrNotFound
	}

	n, err := v.ReadNeedleAt(e.Offset)
	if err != nil {
		metrics.StoreGets.WithLabelValues("corrupt").Inc()
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	s.ops.incr()
	metrics.StoreGets.WithLabelValues("hit").Inc()
	return n.Payload, nil
}

// Delete appends a tombstone needle for photoID and updates the index.
func (s *Store) Delete(ctx context.Context, photoID uint64) error {
	if _, ok := s.idx.Get(photoID); !ok {
		return ErrNotFound
	}

	n := needle.NewTombstone(photoID)
	s.mu.Lock()
	if s.active.Size()+int64(n.EncodedLen()) > s.maxVolumeSize {
		if err := s.rollActiveLocked(); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("roll volume: %w", err)
		}
	}
	active := s.active
	volumeID := active.ID
	s.mu.Unlock()

	offset, err := active.Append(n)
	if err != nil {
		metrics.StoreDeletes.WithLabelValues("error").Inc()
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	s.idx.Put(photoID, volume.Entry{VolumeID: volumeID, Offset: offset, Size: int64(n.EncodedLen()), Deleted: true})
	_ = s.idx.PersistVolumeSize(volumeID, active.Size())
	metrics.StoreDeletes.WithLabelValues("ok").Inc()

	if s.cache != nil {
		s.cache.Invalidate(ctx, photoID)
	}
	return nil
}

// Stats reports current space usage and recent request rate. volume_bytes
// and live_bytes are summed across every volume this Store owns.
func (s *Store) Stats() Stats {
	var volumeBytes, liveBytes int64
	s.mu.RLock()
	for id, v := range s.volumes {
		sz := v.Size()
		volumeBytes += sz
		liveBytes += int64(volume.LiveFraction(s.idx, id, sz) * float64(sz))
	}
	dir := s.dir
	s.mu.RUnlock()

	return Stats{
		FreeBytes:   freeBytes(dir),
		VolumeBytes: volumeBytes,
		LiveBytes:   liveBytes,
		Ops60s:      s.ops.sum(),
	}
}

// KnownPhotoIDs returns the set of photo ids this store currently tracks
// (including tombstones), for the GC worker to diff against Directory's
// known set.
func (s *Store) KnownPhotoIDs() map[uint64]bool {
	out := make(map[uint64]bool)
	s.idx.Range(func(photoID uint64, e volume.Entry) bool {
		out[photoID] = true
		return true
	})
	return out
}

// AppendTombstone is the GC worker's hook for tombstoning ids unknown to
// Directory.
func (s *Store) AppendTombstone(photoID uint64) (volume.Entry, error) {
	n := needle.NewTombstone(photoID)

	s.mu.Lock()
	if s.active.Size()+int64(n.EncodedLen()) > s.maxVolumeSize {
		if err := s.rollActiveLocked(); err != nil {
			s.mu.Unlock()
			return volume.Entry{}, fmt.Errorf("roll volume: %w", err)
		}
	}
	active := s.active
	volumeID := active.ID
	s.mu.Unlock()

	offset, err := active.Append(n)
	if err != nil {
		return volume.Entry{}, err
	}
	_ = s.idx.PersistVolumeSize(volumeID, active.Size())
	return volume.Entry{VolumeID: volumeID, Offset: offset, Size: int64(n.EncodedLen()), Deleted: true}, nil
}

// Index exposes the underlying index for the compaction worker, which
// operates one sealed volume at a time.
func (s *Store) Index() *volume.Index { return s.idx }

// Volume returns the volume with the given id, if this Store owns it.
func (s *Store) Volume(id uint32) (*volume.Volume, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.volumes[id]
	return v, ok
}

// SealedVolumeIDs returns the ids of every volume that is not the current
// active volume, for the compaction worker to consider.
func (s *Store) SealedVolumeIDs() []uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]uint32, 0, len(s.volumes))
	for id, v := range s.volumes {
		if v != s.active {
			ids = append(ids, id)
		}
	}
	return ids
}

// CompactionEfficiencyThreshold returns the configured threshold below
// which a sealed volume's live fraction triggers compaction.
func (s *Store) CompactionEfficiencyThreshold() float64 { return s.compactionEff }

// ReplaceVolume swaps oldID's volume entry for next, used after a
// successful compaction.
func (s *Store) ReplaceVolume(oldID uint32, next *volume.Volume) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.volumes, oldID)
	s.volumes[next.ID] = next
}

func isDiskFull(err error) bool {
	return errors.Is(err, syscall.ENOSPC)
}
