// Package replication implements the Replication Manager: a control loop
// that audits the Directory's metadata against actual Store locations and
// issues copy/delete/commit calls to restore the replication invariants.
package replication

import (
	"context"
	"time"

	"github.com/voltgrid/haystack/internal/coordination"
)

// lockKey is the well-known coordination-store key every Replication
// Manager instance contends for, so exactly one control loop runs at a
// time. It is the same "TTL'd create-if-absent key" primitive as the
// Directory's leader lease, just a different key.
const lockKey = "replication/lock"

// Lock is one instance's advisory concurrency guard.
type Lock struct {
	lease *coordination.Lease
}

// NewLock builds an advisory lock for instanceID contending on lockKey.
func NewLock(store coordination.Store, instanceID string, ttl time.Duration) *Lock {
	return &Lock{lease: coordination.NewLease(store, lockKey, instanceID, ttl)}
}

// TryAcquire attempts to become the active instance. Safe to call
// repeatedly; an instance that already holds the lock just refreshes it.
func (l *Lock) TryAcquire(ctx context.Context) (bool, error) {
	if l.lease.Held() {
		return l.lease.Refresh(ctx)
	}
	return l.lease.Acquire(ctx)
}

// Release gives up the lock, if held.
func (l *Lock) Release(ctx context.Context) error {
	return l.lease.Release(ctx)
}
