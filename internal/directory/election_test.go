package directory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeCoordStore mirrors coordination's own test double, kept local so this
// package's tests don't depend on coordination's unexported test helpers.
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

func TestElectionSingleCandidateBecomesLeader(t *testing.T) {
	store := &fakeCoordStore{}
	e := NewElection(store, "replica-a", time.Minute, time.Millisecond)
	e.tick(context.Background(), zerolog.Nop())
	require.True(t, e.IsLeader())
}

func TestElectionSecondCandidateStaysFollower(t *testing.T) {
	store := &fakeCoordStore{}
	a := NewElection(store, "replica-a", time.Minute, time.Millisecond)
	b := NewElection(store, "replica-b", time.Minute, time.Millisecond)

	a.tick(context.Background(), zerolog.Nop())
	b.tick(context.Background(), zerolog.Nop())

	require.True(t, a.IsLeader())
	require.False(t, b.IsLeader())
}

func TestElectionDemotesOnExpiry(t *testing.T) {
	store := &fakeCoordStore{}
	a := NewElection(store, "replica-a", time.Millisecond, time.Millisecond)
	a.tick(context.Background(), zerolog.Nop())
	require.True(t, a.IsLeader())

	time.Sleep(5 * time.Millisecond)

	b := NewElection(store, "replica-b", time.Minute, time.Millisecond)
	b.tick(context.Background(), zerolog.Nop())
	require.True(t, b.IsLeader())

	a.tick(context.Background(), zerolog.Nop())
	require.False(t, a.IsLeader())
}
