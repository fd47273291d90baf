package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGCWorkerTombstonesUnknownIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, 1, []byte("keep")))
	require.NoError(t, s.Put(ctx, 2, []byte("drop")))

	w := NewGCWorker(s, 0, func(_ context.Context, _ string) (map[uint64]bool, error) {
		return map[uint64]bool{1: true}, nil
	})

	n, err := w.tick(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = s.Get(1)
	require.NoError(t, err)
	_, err = s.Get(2)
	require.ErrorIs(t, err, ErrNotFound)
}
