package replication

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/voltgrid/haystack/internal/types"
)

// fakeCoordStore is a minimal in-memory coordination.Store, mirroring the
// directory package's own test double.
type fakeCoordStore struct {
	mu      sync.Mutex
	value   string
	expires time.Time
	set     bool
}

func (s *fakeCoordStore) expired() bool {
	return s.set && !s.expires.IsZero() && time.Now().After(s.expires)
}

func (s *fakeCoordStore) SetNX(_ context.Context, _, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set && !s.expired() {
		return false, nil
	}
	s.value, s.expires, s.set = value, time.Now().Add(ttl), true
	return true, nil
}

func (s *fakeCoordStore) CompareAndExtend(_ context.Context, _, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set || s.expired() || s.value != value {
		return false, nil
	}
	s.expires = time.Now().Add(ttl)
	return true, nil
}

func (s *fakeCoordStore) CompareAndDelete(_ context.Context, _, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set || s.value != value {
		return false, nil
	}
	s.set = false
	return true, nil
}

func (s *fakeCoordStore) Get(_ context.Context, _ string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set || s.expired() {
		return "", false, nil
	}
	return s.value, true, nil
}

// fakeDirectory is an in-memory DirectoryAPI double.
type fakeDirectory struct {
	mu     sync.Mutex
	stores []types.StoreDescriptor
	blobs  map[uint64]*types.BlobMetadata
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{blobs: make(map[uint64]*types.BlobMetadata)}
}

func (f *fakeDirectory) Stores(ctx context.Context) ([]types.StoreDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.StoreDescriptor(nil), f.stores...), nil
}

func (f *fakeDirectory) Audit(ctx context.Context) ([]*types.BlobMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*types.BlobMetadata, 0, len(f.blobs))
	for _, b := range f.blobs {
		out = append(out, b.Clone())
	}
	return out, nil
}

func (f *fakeDirectory) Commit(ctx context.Context, photoID uint64, locations []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.blobs[photoID]
	if !ok {
		return fmt.Errorf("unknown photo %d", photoID)
	}
	b.Locations = make(map[string]bool, len(locations))
	for _, loc := range locations {
		b.Locations[loc] = true
	}
	return nil
}

func (f *fakeDirectory) SetDesiredReplicas(ctx context.Context, photoID uint64, count int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.blobs[photoID]
	if !ok {
		return fmt.Errorf("unknown photo %d", photoID)
	}
	b.DesiredReplicas = count
	return nil
}

// fakeStoreClient is an in-memory StoreAPI double shared across all
// addresses in a test, tracking which photo ids live where.
type fakeStoreClient struct {
	addr string
	reg  *fakeStoreRegistry
}

type fakeStoreRegistry struct {
	mu   sync.Mutex
	data map[string]map[uint64]bool // addr -> photo_id set
}

func newFakeStoreRegistry() *fakeStoreRegistry {
	return &fakeStoreRegistry{data: make(map[string]map[uint64]bool)}
}

func (r *fakeStoreRegistry) factory(addr string) StoreAPI {
	return &fakeStoreClient{addr: addr, reg: r}
}

func (c *fakeStoreClient) CopyTo(ctx context.Context, photoID uint64, toAddr string) error {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	if c.reg.data[toAddr] == nil {
		c.reg.data[toAddr] = make(map[uint64]bool)
	}
	c.reg.data[toAddr][photoID] = true
	return nil
}

func (c *fakeStoreClient) Delete(ctx context.Context, photoID uint64) error {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	delete(c.reg.data[c.addr], photoID)
	return nil
}

func newTestManager(t *testing.T, dir *fakeDirectory, reg *fakeStoreRegistry) *Manager {
	t.Helper()
	lock := NewLock(&fakeCoordStore{}, "replicator-a", time.Minute)
	return New(Options{
		Directory:        dir,
		NewStoreClient:   reg.factory,
		Lock:             lock,
		DefaultReplicas:  2,
		MaxReplicas:      4,
		HotnessThreshold: 100,
		MaxCopyWorkers:   2,
		NightlyAuditHour: 3,
	})
}

func TestCycleUpReplicatesUnderReplicatedBlob(t *testing.T) {
	dir := newFakeDirectory()
	dir.stores = []types.StoreDescriptor{
		{StoreID: "s1", Address: "a1", Status: types.StoreHealthy, FreeBytes: 1 << 20},
		{StoreID: "s2", Address: "a2", Status: types.StoreHealthy, FreeBytes: 1 << 20},
	}
	dir.blobs[1] = &types.BlobMetadata{
		PhotoID:         1,
		Size:            10,
		Locations:       map[string]bool{"s1": true},
		DesiredReplicas: 2,
	}
	reg := newFakeStoreRegistry()
	m := newTestManager(t, dir, reg)

	require.NoError(t, m.cycle(context.Background(), 0))

	b := dir.blobs[1]
	require.Len(t, b.Locations, 2)
	require.True(t, b.Locations["s1"])
	require.True(t, b.Locations["s2"])
}

func TestCycleDeReplicatesOverReplicatedBlob(t *testing.T) {
	dir := newFakeDirectory()
	dir.stores = []types.StoreDescriptor{
		{StoreID: "s1", Address: "a1", Status: types.StoreHealthy, FreeBytes: 9000},
		{StoreID: "s2", Address: "a2", Status: types.StoreHealthy, FreeBytes: 500},
	}
	dir.blobs[1] = &types.BlobMetadata{
		PhotoID:         1,
		Size:            10,
		Locations:       map[string]bool{"s1": true, "s2": true},
		DesiredReplicas: 1,
	}
	reg := newFakeStoreRegistry()
	reg.data["a2"] = map[uint64]bool{1: true}
	m := newTestManager(t, dir, reg)

	require.NoError(t, m.cycle(context.Background(), 0))

	b := dir.blobs[1]
	require.Len(t, b.Locations, 1)
	require.True(t, b.Locations["s1"])
	require.False(t, b.Locations["s2"])
}

func TestCycleAdaptsDesiredReplicasForHotBlob(t *testing.T) {
	dir := newFakeDirectory()
	dir.stores = []types.StoreDescriptor{
		{StoreID: "s1", Address: "a1", Status: types.StoreHealthy, FreeBytes: 1 << 20},
	}
	dir.blobs[1] = &types.BlobMetadata{
		PhotoID:         1,
		Size:            10,
		Locations:       map[string]bool{"s1": true},
		DesiredReplicas: 2,
		ReadsLast60s:    500,
	}
	reg := newFakeStoreRegistry()
	m := newTestManager(t, dir, reg)

	require.NoError(t, m.cycle(context.Background(), 0))

	require.Equal(t, 4, dir.blobs[1].DesiredReplicas)
}

func TestCycleSkipsWhenLockHeldElsewhere(t *testing.T) {
	dir := newFakeDirectory()
	dir.blobs[1] = &types.BlobMetadata{
		PhotoID:         1,
		Locations:       map[string]bool{},
		DesiredReplicas: 2,
	}
	reg := newFakeStoreRegistry()

	coord := &fakeCoordStore{}
	other := NewLock(coord, "replicator-other", time.Minute)
	ok, err := other.TryAcquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	m := New(Options{
		Directory:      dir,
		NewStoreClient: reg.factory,
		Lock:           NewLock(coord, "replicator-a", time.Minute),
	})

	require.NoError(t, m.cycle(context.Background(), 0))
	require.Equal(t, 2, dir.blobs[1].DesiredReplicas) // untouched, cycle skipped
}

func TestDurationUntilHourWrapsToNextDay(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	d := durationUntilHour(now, 3)
	require.Equal(t, 17*time.Hour, d)
}
