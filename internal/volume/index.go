package volume

import (
	"encoding/binary"
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"
)

// Entry locates one photo_id's most recent needle.
type Entry struct {
	VolumeID uint32
	Offset   int64
	Size     int64
	Deleted  bool
}

// Index is the in-memory photo_id -> Entry map for a Store. It is rebuilt
// from the volumes on startup; a bbolt snapshot is kept purely as a
// fast-restart optimization and is never trusted over a replay when stale.
type Index struct {
	mu      sync.RWMutex
	entries map[uint64]Entry
	db      *bolt.DB // nil when running without a persistent snapshot (tests)
}

var (
	bucketEntries     = []byte("entries")
	bucketVolumeSizes = []byte("volume_sizes")
)

// NewIndex constructs an empty, unpersisted index (used by tests and by
// RecoverIndex when it is given no snapshot).
func NewIndex() *Index {
	return &Index{entries: make(map[uint64]Entry)}
}

// OpenSnapshotDB opens (creating if absent) the bbolt file backing an
// index's fast-restart snapshot.
func OpenSnapshotDB(path string) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open index snapshot: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketEntries); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketVolumeSizes)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init index snapshot buckets: %w", err)
	}
	return db, nil
}

// LoadSnapshot reads a previously persisted index from db. The caller is
// responsible for validating the snapshot is not stale (see
// SnapshotVolumeSize, which RecoverIndex compares against each volume's
// file size) before trusting it over a full replay.
func LoadSnapshot(db *bolt.DB) (*Index, error) {
	idx := &Index{entries: make(map[uint64]Entry), db: db}
	err := db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		return b.ForEach(func(k, v []byte) error {
			if len(k) != 8 || len(v) != 17 {
				return fmt.Errorf("corrupt index snapshot record")
			}
			photoID := binary.BigEndian.Uint64(k)
			idx.entries[photoID] = decodeEntry(v)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return idx, nil
}

// SnapshotVolumeSize returns the volume size recorded at the last snapshot
// write, or (0, false) if none was recorded.
func SnapshotVolumeSize(db *bolt.DB, volumeID uint32) (int64, bool) {
	var size int64
	var ok bool
	_ = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVolumeSizes)
		v := b.Get(volumeIDKey(volumeID))
		if v == nil {
			return nil
		}
		ok = true
		size = int64(binary.BigEndian.Uint64(v))
		return nil
	})
	return size, ok
}

// PersistVolumeSize records the size a volume had when the index was last
// fully synced, so a future boot can detect the snapshot is fresh.
func (idx *Index) PersistVolumeSize(volumeID uint32, size int64) error {
	if idx.db == nil {
		return nil
	}
	return idx.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVolumeSizes)
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(size))
		return b.Put(volumeIDKey(volumeID), buf)
	})
}

func volumeIDKey(id uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, id)
	return buf
}

func encodeEntry(e Entry) []byte {
	buf := make([]byte, 17)
	binary.BigEndian.PutUint32(buf[0:4], e.VolumeID)
	binary.BigEndian.PutUint64(buf[4:12], uint64(e.Offset))
	binary.BigEndian.PutUint32(buf[12:16], uint32(e.Size))
	if e.Deleted {
		buf[16] = 1
	}
	return buf
}

func decodeEntry(buf []byte) Entry {
	return Entry{
		VolumeID: binary.BigEndian.Uint32(buf[0:4]),
		Offset:   int64(binary.BigEndian.Uint64(buf[4:12])),
		Size:     int64(binary.BigEndian.Uint32(buf[12:16])),
		Deleted:  buf[16] == 1,
	}
}

// Put records the most recent location for photoID. Later calls for the
// same id always win, matching the volume's last-occurrence-wins rule.
func (idx *Index) Put(photoID uint64, e Entry) {
	idx.mu.Lock()
	idx.entries[photoID] = e
	idx.mu.Unlock()

	if idx.db != nil {
		_ = idx.db.Update(func(tx *bolt.Tx) error {
			b := tx.Bucket(bucketEntries)
			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, photoID)
			return b.Put(buf, encodeEntry(e))
		})
	}
}

// Get returns the entry for photoID and whether it is present at all
// (tombstoned entries are returned with Deleted=true, not omitted, so
// callers can distinguish "never existed" from "deleted").
func (idx *Index) Get(photoID uint64) (Entry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.entries[photoID]
	return e, ok
}

// Delete removes the in-memory and persisted record entirely. Compaction
// and GC do not call it; they record new locations and tombstones with Put.
func (idx *Index) Delete(photoID uint64) {
	idx.mu.Lock()
	delete(idx.entries, photoID)
	idx.mu.Unlock()

	if idx.db != nil {
		_ = idx.db.Update(func(tx *bolt.Tx) error {
			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, photoID)
			return tx.Bucket(bucketEntries).Delete(buf)
		})
	}
}

// Range calls fn for every entry. fn must not mutate the index.
func (idx *Index) Range(fn func(photoID uint64, e Entry) bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for id, e := range idx.entries {
		if !fn(id, e) {
			return
		}
	}
}

// Len returns the number of tracked photo_ids (including tombstones not
// yet GC'd).
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Close closes the underlying snapshot database, if any.
func (idx *Index) Close() error {
	if idx.db == nil {
		return nil
	}
	return idx.db.Close()
}
