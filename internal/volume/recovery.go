package volume

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/voltgrid/haystack/internal/needle"
)

var volumeFileRE = regexp.MustCompile(`^(\d{10})\.hay$`)

// ListVolumeIDs returns every volume id found in dir, ascending. The
// highest id is the active (writable) volume; the rest are sealed.
func ListVolumeIDs(dir string) ([]uint32, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list volumes in %s: %w", dir, err)
	}
	var ids []uint32
	for _, e := range entries {
		m := volumeFileRE.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.ParseUint(m[1], 10, 32)
		if err != nil {
			continue
		}
		ids = append(ids, uint32(n))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Replay sequentially scans a volume file, validating each needle's magic
// and checksum, and reports the entries it found along with the number of
// valid bytes (truncating the tail at the first malformed or partial
// needle, per the crash-during-append recovery rule).
func Replay(path string, volumeID uint32, onEntry func(photoID uint64, e Entry)) (validBytes int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open volume %d for replay: %w", volumeID, err)
	}
	defer f.Close()

	var offset int64
	for {
		n, read, derr := needle.Decode(io.NewSectionReader(f, offset, 1<<62))
		if derr != nil {
			if errors.Is(derr, needle.ErrTruncated) || errors.Is(derr, needle.ErrBadMagic) {
				// Crash mid-append, or garbage tail: everything before
				// offset remains authoritative.
				break
			}
			if errors.Is(derr, needle.ErrChecksumMismatch) {
				// The record is fully framed but its payload is corrupt.
				// Treat it as missing for this id (do not advance index)
				// but keep scanning; the frame itself is intact so later
				// records are still reachable.
				offset += int64(read)
				continue
			}
			return offset, fmt.Errorf("replay volume %d at offset %d: %w", volumeID, offset, derr)
		}

		onEntry(n.PhotoID, Entry{
			VolumeID: volumeID,
			Offset:   offset,
			Size:     int64(read),
			Deleted:  n.IsTombstone(),
		})
		offset += int64(read)
	}
	return offset, nil
}

// RecoverIndex rebuilds the index from every volume in dir, newest entries
// winning. It first tries to trust a persisted snapshot (when non-nil) for
// any volume whose recorded size still matches the file on disk; any
// volume whose snapshot is stale or missing is fully replayed.
func RecoverIndex(dir string, ids []uint32, snapshot *Index) (*Index, error) {
	idx := snapshot
	if idx == nil {
		idx = NewIndex()
	}

	for _, id := range ids {
		path := filepath.Join(dir, fmt.Sprintf("%010d.hay", id))
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat volume %d: %w", id, err)
		}

		if snapshot != nil {
			if sz, ok := SnapshotVolumeSize(snapshot.db, id); ok && sz == info.Size() {
				// Snapshot already reflects this volume's current
				// contents exactly; trust it and skip the replay.
				continue
			}
		}

		// Snapshot missing or stale for this volume: replay it fully and
		// overwrite any stale entries it contributed.
		validBytes, err := Replay(path, id, func(photoID uint64, e Entry) {
			idx.Put(photoID, e)
		})
		if err != nil {
			return nil, err
		}
		if validBytes != info.Size() {
			if terr := os.Truncate(path, validBytes); terr != nil {
				return nil, fmt.Errorf("truncate volume %d to %d: %w", id, validBytes, terr)
			}
		}
		if err := idx.PersistVolumeSize(id, validBytes); err != nil {
			return nil, fmt.Errorf("persist volume %d size: %w", id, err)
		}
	}
	return idx, nil
}
