package coordination

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory Store used to exercise Lease logic without a
// live Redis, mirroring how the real backend behaves (TTL enforced lazily
// on access, not via a background sweep — sufficient for these tests).
type fakeStore struct {
	mu      sync.Mutex
	value   string
	expires time.Time
	set     bool
}

func (s *fakeStore) expired() bool {
	return s.set && !s.expires.IsZero() && time.Now().After(s.expires)
}

func (s *fakeStore) SetNX(_ context.Context, _, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set && !s.expired() {
		return false, nil
	}
	s.value = value
	s.expires = time.Now().Add(ttl)
	s.set = true
	return true, nil
}

func (s *fakeStore) CompareAndExtend(_ context.Context, _, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set || s.expired() || s.value != value {
		return false, nil
	}
	s.expires = time.Now().Add(ttl)
	return true, nil
}

func (s *fakeStore) CompareAndDelete(_ context.Context, _, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set || s.value != value {
		return false, nil
	}
	s.set = false
	return true, nil
}

func (s *fakeStore) Get(_ context.Context, _ string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set || s.expired() {
		return "", false, nil
	}
	return s.value, true, nil
}

func TestLeaseAcquireExclusive(t *testing.T) {
	store := &fakeStore{}
	ctx := context.Background()

	a := NewLease(store, "directory/leader", "candidate-a", time.Minute)
	b := NewLease(store, "directory/leader", "candidate-b", time.Minute)

	won, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, won)

	won, err = b.Acquire(ctx)
	require.NoError(t, err)
	require.False(t, won, "a second candidate must not win while the first holds the lease")
}

func TestLeaseRefreshFailsAfterLoss(t *testing.T) {
	store := &fakeStore{}
	ctx := context.Background()

	a := NewLease(store, "directory/leader", "candidate-a", time.Millisecond)
	won, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, won)

	time.Sleep(5 * time.Millisecond) // let it expire

	b := NewLease(store, "directory/leader", "candidate-b", time.Minute)
	won, err = b.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, won, "a new candidate must be able to win after expiry")

	ok, err := a.Refresh(ctx)
	require.NoError(t, err)
	require.False(t, ok, "the old holder must not be able to refresh once replaced")
}

func TestLeaseReleaseThenReacquire(t *testing.T) {
	store := &fakeStore{}
	ctx := context.Background()

	a := NewLease(store, "directory/leader", "candidate-a", time.Minute)
	_, err := a.Acquire(ctx)
	require.NoError(t, err)

	require.NoError(t, a.Release(ctx))
	require.False(t, a.Held())

	b := NewLease(store, "directory/leader", "candidate-b", time.Minute)
	won, err := b.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, won)
}

func TestLeaseRefreshWithoutHoldingReturnsError(t *testing.T) {
	store := &fakeStore{}
	a := NewLease(store, "directory/leader", "candidate-a", time.Minute)
	_, err := a.Refresh(context.Background())
	require.ErrorIs(t, err, ErrNotHeld)
}
