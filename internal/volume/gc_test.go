package volume

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/voltgrid/haystack/internal/needle"
)

func TestGCTombstonesUnknownIDs(t *testing.T) {
	dir := t.TempDir()
	idx := NewIndex()
	v, err := Create(dir, 1)
	require.NoError(t, err)

	o1, err := v.Append(needle.NewData(1, []byte("a")))
	require.NoError(t, err)
	idx.Put(1, Entry{VolumeID: 1, Offset: o1, Size: 1})

	o2, err := v.Append(needle.NewData(2, []byte("b")))
	require.NoError(t, err)
	idx.Put(2, Entry{VolumeID: 1, Offset: o2, Size: 1})

	known := map[uint64]bool{1: true} // directory only knows about photo 1

	n, err := GC(idx, known, func(photoID uint64) (Entry, error) {
		offset, err := v.Append(needle.NewTombstone(photoID))
		if err != nil {
			return Entry{}, err
		}
		return Entry{VolumeID: v.ID, Offset: offset, Deleted: true}, nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	e2, ok := idx.Get(2)
	require.True(t, ok)
	require.True(t, e2.Deleted)

	e1, ok := idx.Get(1)
	require.True(t, ok)
	require.False(t, e1.Deleted)
}
