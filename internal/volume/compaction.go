package volume

import "fmt"

// LiveFraction returns the fraction of a volume's bytes that belong to
// needles the index still considers live (i.e. not superseded and not
// tombstoned), used to decide whether a sealed volume should be compacted.
func LiveFraction(idx *Index, volumeID uint32, volumeSize int64) float64 {
	if volumeSize == 0 {
		return 1
	}
	var live int64
	idx.Range(func(_ uint64, e Entry) bool {
		if e.VolumeID == volumeID && !e.Deleted {
			live += e.Size
		}
		return true
	})
	return float64(live) / float64(volumeSize)
}

// Compact rewrites old (a sealed volume) into a brand-new volume containing
// only the needles the index currently considers live for old.ID, then
// swaps the index to point at the new locations and unlinks old.
//
// Steps (a)-(c) only ever touch the new volume file, and old is never
// modified before it is unlinked in step (e). If a step before the swap in
// step (d) returns an error, the new file is unlinked and old stays
// authoritative. A crash before the swap leaves the new file on disk:
// nothing removes it on restart, and RecoverIndex replays it like any
// other volume, so its copies then take over the index entries.
func Compact(dir string, old *Volume, newVolumeID uint32, idx *Index) (*Volume, error) {
	if !old.Sealed() {
		return nil, fmt.Errorf("compact: volume %d is not sealed", old.ID)
	}

	// (a) create new volume file.
	next, err := Create(dir, newVolumeID)
	if err != nil {
		return nil, fmt.Errorf("compact volume %d: %w", old.ID, err)
	}

	type migration struct {
		photoID   uint64
		oldOffset int64
		newOffset int64
		size      int64
	}
	var moved []migration

	// (b) replay old, copying only the latest live needle per photo_id —
	// "latest" is whatever the index currently points at for old.ID.
	idx.Range(func(photoID uint64, e Entry) bool {
		if e.VolumeID != old.ID || e.Deleted {
			return true
		}
		n, rerr := old.ReadNeedleAt(e.Offset)
		if rerr != nil {
			err = fmt.Errorf("compact volume %d: read photo_id %d: %w", old.ID, photoID, rerr)
			return false
		}
		offset, aerr := next.Append(n)
		if aerr != nil {
			err = fmt.Errorf("compact volume %d: write photo_id %d: %w", old.ID, photoID, aerr)
			return false
		}
		moved = append(moved, migration{photoID, e.Offset, offset, e.Size})
		return true
	})
	if err != nil {
		_ = next.Unlink()
		return nil, err
	}

	// (c) new volume is already fsynced per-append by Volume.Append; seal it.
	next.Seal()

	// (d) atomically (from each reader's perspective — every Put is
	// independently locked and both the old and new copies are valid until
	// the unlink below) swap index entries to the new offsets.
	for _, m := range moved {
		cur, ok := idx.Get(m.photoID)
		if !ok || cur.VolumeID != old.ID || cur.Offset != m.oldOffset {
			// Superseded by a newer write that landed elsewhere while we
			// were compacting; leave the newer entry alone.
			continue
		}
		idx.Put(m.photoID, Entry{VolumeID: next.ID, Offset: m.newOffset, Size: m.size})
	}
	if err := idx.PersistVolumeSize(next.ID, next.Size()); err != nil {
		return nil, fmt.Errorf("compact volume %d: persist new volume size: %w", old.ID, err)
	}

	// (e) unlink the old volume; it no longer backs any index entry.
	if err := old.Unlink(); err != nil {
		return nil, fmt.Errorf("compact volume %d: unlink: %w", old.ID, err)
	}

	return next, nil
}
