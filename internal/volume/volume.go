// Package volume implements the Store's on-disk volume format: an
// append-only file of needles plus the in-memory index that locates them,
// along with compaction and garbage collection over that format.
package volume

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/voltgrid/haystack/internal/needle"
)

// Volume is one append-only file owned by a Store. A Store has exactly one
// active (writable) volume at a time, plus any number of sealed volumes.
type Volume struct {
	ID     uint32
	path   string
	sealed bool

	mu   sync.Mutex // serializes writers; readers never take this lock
	file *os.File
	size int64
}

func volumePath(dir string, id uint32) string {
	return filepath.Join(dir, fmt.Sprintf("%010d.hay", id))
}

// Create makes a new, empty, writable volume file.
func Create(dir string, id uint32) (*Volume, error) {
	path := volumePath(dir, id)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("create volume %d: %w", id, err)
	}
	return &Volume{ID: id, path: path, file: f}, nil
}

// Open opens an existing volume file for reading and (if not sealed)
// appending.
func Open(dir string, id uint32, sealed bool) (*Volume, error) {
	path := volumePath(dir, id)
	flag := os.O_RDONLY
	if !sealed {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, fmt.Errorf("open volume %d: %w", id, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat volume %d: %w", id, err)
	}
	return &Volume{ID: id, path: path, file: f, sealed: sealed, size: info.Size()}, nil
}

// Sealed reports whether the volume accepts no further appends.
func (v *Volume) Sealed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sealed
}

// Seal marks the volume read-only. Idempotent.
func (v *Volume) Seal() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sealed = true
}

// Size returns the current file size in bytes.
func (v *Volume) Size() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.size
}

// Path returns the volume's file path, for callers that need to stream it
// (e.g. copy_to a peer Store).
func (v *Volume) Path() string {
	return v.path
}

// Append writes n to the end of the volume and fsyncs before returning.
// Writes only ever extend the file; needles are never mutated in place.
func (v *Volume) Append(n *needle.Needle) (offset int64, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.sealed {
		return 0, fmt.Errorf("volume %d: %w", v.ID, ErrSealed)
	}

	buf := n.Encode(make([]byte, 0, n.EncodedLen()))
	offset = v.size
	if _, err := v.file.WriteAt(buf, offset); err != nil {
		return 0, fmt.Errorf("append volume %d: %w", v.ID, err)
	}
	if err := v.file.Sync(); err != nil {
		// The write may be partially durable; do not advance size so a
		// later recovery replay will not trust this record.
		return 0, fmt.Errorf("fsync volume %d: %w", v.ID, err)
	}
	v.size += int64(len(buf))
	return offset, nil
}

// ReadNeedleAt decodes the needle stored at the given offset, verifying
// magic and checksum.
func (v *Volume) ReadNeedleAt(offset int64) (*needle.Needle, error) {
	sr := io.NewSectionReader(v.file, offset, 1<<62)
	n, _, err := needle.Decode(sr)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// Close closes the underlying file.
func (v *Volume) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.file.Close()
}

// Unlink closes and removes the volume file from disk. Used by compaction
// to discard the superseded volume once the swap has completed.
func (v *Volume) Unlink() error {
	if err := v.Close(); err != nil {
		return err
	}
	return os.Remove(v.path)
}

// ErrSealed is returned by Append on a sealed volume.
var ErrSealed = fmt.Errorf("volume is sealed")
