package directory

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/voltgrid/haystack/internal/types"
)

func newTestDirectory(t *testing.T) *Directory {
	t.Helper()
	bs, err := OpenBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { bs.Close() })

	coord := &fakeCoordStore{}
	election := NewElection(coord, "replica-a", time.Minute, time.Millisecond)
	election.tick(context.Background(), zerolog.Nop())
	require.True(t, election.IsLeader())

	return New(Options{
		Store:               bs,
		Election:            election,
		HealthWindow:         60 * time.Second,
		DefaultReplicaCount: 2,
		PlacementMargin:     0,
	})
}

func seedStore(t *testing.T, d *Directory, id, addr string, free int64) {
	t.Helper()
	err := d.store.PutStore(&types.StoreDescriptor{
		StoreID:       id,
		Address:       addr,
		Status:        types.StoreHealthy,
		LastHeartbeat: time.Now(),
		FreeBytes:     free,
	})
	require.NoError(t, err)
}

func TestRegisterChoosesHealthyStoresWithSpace(t *testing.T) {
	d := newTestDirectory(t)
	seedStore(t, d, "s1", "10.0.0.1:8080", 1<<20)
	seedStore(t, d, "s2", "10.0.0.2:8080", 1<<20)

	photoID, chosen, err := d.Register(context.Background(), 1024, [32]byte{1})
	require.NoError(t, err)
	require.NotZero(t, photoID)
	require.Len(t, chosen, 2)
}

func TestRegisterFailsWithNoEligibleStores(t *testing.T) {
	d := newTestDirectory(t)
	_, _, err := d.Register(context.Background(), 1024, [32]byte{})
	require.Error(t, err)
}

func TestCommitThenLocateReturnsHealthyAddresses(t *testing.T) {
	d := newTestDirectory(t)
	seedStore(t, d, "s1", "10.0.0.1:8080", 1<<20)

	photoID, _, err := d.Register(context.Background(), 100, [32]byte{})
	require.NoError(t, err)

	require.NoError(t, d.Commit(context.Background(), photoID, []string{"s1"}))

	addrs, err := d.Locate(context.Background(), photoID)
	require.NoError(t, err)
	require.Equal(t, []string{"10.0.0.1:8080"}, addrs)
}

func TestLocateExcludesUnhealthyStores(t *testing.T) {
	d := newTestDirectory(t)
	seedStore(t, d, "s1", "10.0.0.1:8080", 1<<20)
	photoID, _, err := d.Register(context.Background(), 100, [32]byte{})
	require.NoError(t, err)
	require.NoError(t, d.Commit(context.Background(), photoID, []string{"s1"}))

	desc, ok, err := d.store.GetStore("s1")
	require.NoError(t, err)
	require.True(t, ok)
	desc.Status = types.StoreDown
	require.NoError(t, d.store.PutStore(desc))

	_, err = d.Locate(context.Background(), photoID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLocateUnknownReturnsNotFound(t *testing.T) {
	d := newTestDirectory(t)
	_, err := d.Locate(context.Background(), 12345)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMarkDeletedHidesFromLocate(t *testing.T) {
	d := newTestDirectory(t)
	seedStore(t, d, "s1", "10.0.0.1:8080", 1<<20)
	photoID, _, err := d.Register(context.Background(), 100, [32]byte{})
	require.NoError(t, err)
	require.NoError(t, d.Commit(context.Background(), photoID, []string{"s1"}))

	require.NoError(t, d.MarkDeleted(context.Background(), photoID))

	_, err = d.Locate(context.Background(), photoID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestWritesRejectedWhenNotLeader(t *testing.T) {
	bs, err := OpenBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { bs.Close() })

	coord := &fakeCoordStore{}
	// Another replica claims the lease first, so this one stays FOLLOWER.
	other := NewElection(coord, "replica-other", time.Minute, time.Millisecond)
	other.tick(context.Background(), zerolog.Nop())

	election := NewElection(coord, "replica-a", time.Minute, time.Millisecond)
	election.tick(context.Background(), zerolog.Nop())
	require.False(t, election.IsLeader())

	d := New(Options{Store: bs, Election: election, DefaultReplicaCount: 1})

	_, _, err = d.Register(context.Background(), 10, [32]byte{})
	require.ErrorIs(t, err, ErrNotLeader)

	err = d.Commit(context.Background(), 1, nil)
	require.ErrorIs(t, err, ErrNotLeader)

	err = d.MarkDeleted(context.Background(), 1)
	require.ErrorIs(t, err, ErrNotLeader)
}

func TestHeartbeatRestoresHealthyStatus(t *testing.T) {
	d := newTestDirectory(t)
	seedStore(t, d, "s1", "10.0.0.1:8080", 1<<20)
	desc, _, err := d.store.GetStore("s1")
	require.NoError(t, err)
	desc.Status = types.StoreSuspect
	require.NoError(t, d.store.PutStore(desc))

	require.NoError(t, d.Heartbeat(context.Background(), types.StoreDescriptor{
		StoreID: "s1", Address: "10.0.0.1:8080", FreeBytes: 2000,
	}))

	desc, _, err = d.store.GetStore("s1")
	require.NoError(t, err)
	require.Equal(t, types.StoreHealthy, desc.Status)
}

func TestKnownPhotoIDsFiltersByStoreAndDeletion(t *testing.T) {
	d := newTestDirectory(t)
	seedStore(t, d, "s1", "10.0.0.1:8080", 1<<20)

	p1, _, err := d.Register(context.Background(), 10, [32]byte{})
	require.NoError(t, err)
	require.NoError(t, d.Commit(context.Background(), p1, []string{"s1"}))

	p2, _, err := d.Register(context.Background(), 10, [32]byte{})
	require.NoError(t, err)
	require.NoError(t, d.Commit(context.Background(), p2, []string{"s1"}))
	require.NoError(t, d.MarkDeleted(context.Background(), p2))

	known, err := d.KnownPhotoIDs(context.Background(), "s1")
	require.NoError(t, err)
	require.True(t, known[p1])
	require.False(t, known[p2])
}
