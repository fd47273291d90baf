// Package directory implements the Directory component: the metadata
// authority for blob locations and the store health registry, replicated
// across instances via a single-writer leader lease.
package directory

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/voltgrid/haystack/internal/types"
)

var (
	bucketBlobs  = []byte("blobs")
	bucketStores = []byte("stores")
)

// BoltStore persists blob metadata and store descriptors, adapted from the
// teacher's bucket-per-entity BoltDB layout.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (creating if absent) the metadata database under dir.
func OpenBoltStore(dir string) (*BoltStore, error) {
	path := filepath.Join(dir, "directory.db")
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open directory db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketBlobs); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketStores)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init directory db buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

func photoIDKey(id uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return buf
}

// NextPhotoID returns the next value in the blobs bucket's monotonic
// sequence, so photo ids increase strictly under whichever replica holds
// the leader lease, matching Register's allocation contract.
func (s *BoltStore) NextPhotoID() (uint64, error) {
	var id uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		n, err := tx.Bucket(bucketBlobs).NextSequence()
		if err != nil {
			return err
		}
		id = n
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("allocate photo id: %w", err)
	}
	return id, nil
}

// PutBlob upserts a blob's metadata record.
func (s *BoltStore) PutBlob(b *types.BlobMetadata) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal blob %d: %w", b.PhotoID, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlobs).Put(photoIDKey(b.PhotoID), data)
	})
}

// GetBlob returns the metadata record for photoID, or (nil, false).
func (s *BoltStore) GetBlob(photoID uint64) (*types.BlobMetadata, bool, error) {
	var b types.BlobMetadata
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketBlobs).Get(photoIDKey(photoID))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &b)
	})
	if err != nil {
		return nil, false, fmt.Errorf("get blob %d: %w", photoID, err)
	}
	if !found {
		return nil, false, nil
	}
	return &b, true, nil
}

// errStopRange aborts a bbolt ForEach early without surfacing as a real
// error; bbolt has no native early-exit for ForEach.
var errStopRange = fmt.Errorf("directory: range stopped")

// RangeBlobs calls fn for every blob record until fn returns false; fn must
// not mutate the store.
func (s *BoltStore) RangeBlobs(fn func(*types.BlobMetadata) bool) error {
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlobs).ForEach(func(k, v []byte) error {
			var b types.BlobMetadata
			if err := json.Unmarshal(v, &b); err != nil {
				return err
			}
			if !fn(&b) {
				return errStopRange
			}
			return nil
		})
	})
	if err == errStopRange {
		return nil
	}
	return err
}

// CountBlobs returns the number of non-deleted blob records.
func (s *BoltStore) CountBlobs() (int, error) {
	var n int
	err := s.RangeBlobs(func(b *types.BlobMetadata) bool {
		if !b.Deleted {
			n++
		}
		return true
	})
	return n, err
}

// PutStore upserts a store descriptor.
func (s *BoltStore) PutStore(d *types.StoreDescriptor) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal store %s: %w", d.StoreID, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStores).Put([]byte(d.StoreID), data)
	})
}

// GetStore returns the descriptor for storeID, or (nil, false).
func (s *BoltStore) GetStore(storeID string) (*types.StoreDescriptor, bool, error) {
	var d types.StoreDescriptor
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketStores).Get([]byte(storeID))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &d)
	})
	if err != nil {
		return nil, false, fmt.Errorf("get store %s: %w", storeID, err)
	}
	if !found {
		return nil, false, nil
	}
	return &d, true, nil
}

// ListStores returns every known store descriptor.
func (s *BoltStore) ListStores() ([]types.StoreDescriptor, error) {
	var out []types.StoreDescriptor
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStores).ForEach(func(k, v []byte) error {
			var d types.StoreDescriptor
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			out = append(out, d)
			return nil
		})
	})
	return out, err
}
