package store

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(Options{
		ID:            "store-1",
		Dir:           dir,
		MaxVolumeSize: 1 << 20,
		CompactionEff: 0.5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, 1, []byte("hello world")))
	data, err := s.Get(1)
	require.NoError(t, err)
	require.Equal(t, []byte("hello world"), data)
}

func TestGetUnknownReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(999)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteThenGetReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, 1, []byte("x")))
	require.NoError(t, s.Delete(ctx, 1))
	_, err := s.Get(1)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteUnknownReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.Delete(context.Background(), 123)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStatsReflectsWrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, 1, []byte("abcdefgh")))

	stats := s.Stats()
	require.Greater(t, stats.VolumeBytes, int64(0))
	require.Greater(t, stats.LiveBytes, int64(0))
}

func TestReopenRecoversPreviousWrites(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Options{ID: "s1", Dir: dir, MaxVolumeSize: 1 << 20, CompactionEff: 0.5})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Put(ctx, 1, []byte("persisted")))
	require.NoError(t, s.Close())

	s2, err := Open(Options{ID: "s1", Dir: dir, MaxVolumeSize: 1 << 20, CompactionEff: 0.5})
	require.NoError(t, err)
	defer s2.Close()

	data, err := s2.Get(1)
	require.NoError(t, err)
	require.Equal(t, []byte("persisted"), data)
}

func TestPutRollsToNewVolumeWhenFull(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Options{ID: "s1", Dir: dir, MaxVolumeSize: 200, CompactionEff: 0.5})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	payload := make([]byte, 100)
	require.NoError(t, s.Put(ctx, 1, payload))
	require.NoError(t, s.Put(ctx, 2, payload)) // 153+153 > 200: rolls to a second volume
	require.NoError(t, s.Put(ctx, 3, payload)) // rolls again, to a third

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var volumeFiles int
	for _, e := range entries {
		if len(e.Name()) == 14 && e.Name()[10:] == ".hay" {
			volumeFiles++
		}
	}
	require.GreaterOrEqual(t, volumeFiles, 2)

	data, err := s.Get(3)
	require.NoError(t, err)
	require.Equal(t, payload, data)
}
