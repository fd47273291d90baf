// Package coordination implements the single lease primitive the spec's
// design rests on: a TTL'd create-if-absent key in a shared store. The
// Directory's leader election and the Replication Manager's advisory lock
// are both instances of this one primitive, not two different mechanisms.
package coordination

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Store is the minimal surface Lease needs from the coordination backend.
// RedisStore below is the production implementation; tests use a fake.
type Store interface {
	// SetNX creates key=value with the given TTL only if key is absent.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// CompareAndExtend extends key's TTL only if its current value equals
	// value, atomically.
	CompareAndExtend(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// CompareAndDelete deletes key only if its current value equals value,
	// atomically.
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
	// Get returns the current value of key, or ("", false) if absent.
	Get(ctx context.Context, key string) (string, bool, error)
}

// ErrNotHeld is returned by Refresh when this Lease does not
// currently hold the lease (lost to expiry or another candidate).
var ErrNotHeld = errors.New("coordination: lease not held")

// Lease is a single candidate's view of one TTL'd key. It is not itself
// safe for concurrent use by multiple goroutines racing to acquire the
// same candidacy; each process owning a candidacy should use exactly one
// Lease.
type Lease struct {
	store Store
	key   string
	value string // this candidate's identity
	ttl   time.Duration
	held  bool
}

// NewLease constructs a lease for the given coordination key. value
// identifies this candidate (e.g. its directory-replica id or
// replication-manager instance id).
func NewLease(store Store, key, value string, ttl time.Duration) *Lease {
	return &Lease{store: store, key: key, value: value, ttl: ttl}
}

// Acquire attempts to become the holder via create-if-absent. It returns
// whether this call won.
func (l *Lease) Acquire(ctx context.Context) (bool, error) {
	won, err := l.store.SetNX(ctx, l.key, l.value, l.ttl)
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", l.key, err)
	}
	l.held = won
	return won, nil
}

// Refresh extends the TTL, but only if this Lease still owns the key.
// Callers must demote (stop acting as leader) the moment Refresh returns
// false or an error.
func (l *Lease) Refresh(ctx context.Context) (bool, error) {
	if !l.held {
		return false, ErrNotHeld
	}
	ok, err := l.store.CompareAndExtend(ctx, l.key, l.value, l.ttl)
	if err != nil {
		// Treat a failed refresh as a lost lease: the caller cannot tell
		// whether the key actually expired, so the safe assumption is
		// demotion.
		l.held = false
		return false, fmt.Errorf("refresh lease %s: %w", l.key, err)
	}
	l.held = ok
	return ok, nil
}

// Release gives up the lease if held, deleting the key only if it still
// belongs to this candidate.
func (l *Lease) Release(ctx context.Context) error {
	if !l.held {
		return nil
	}
	_, err := l.store.CompareAndDelete(ctx, l.key, l.value)
	l.held = false
	if err != nil {
		return fmt.Errorf("release lease %s: %w", l.key, err)
	}
	return nil
}

// Held reports this candidate's last-known lease status without a round
// trip to the store.
func (l *Lease) Held() bool {
	return l.held
}

// CurrentHolder returns the value currently stored at the lease key (which
// candidate holds it, if any), for followers to learn the current leader.
func (l *Lease) CurrentHolder(ctx context.Context) (string, bool, error) {
	v, ok, err := l.store.Get(ctx, l.key)
	if err != nil {
		return "", false, fmt.Errorf("read lease %s: %w", l.key, err)
	}
	return v, ok, nil
}
