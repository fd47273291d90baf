package directory

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/voltgrid/haystack/internal/coordination"
	"github.com/voltgrid/haystack/internal/log"
	"github.com/voltgrid/haystack/internal/metrics"
)

// leaderKey is the well-known coordination-store key every Directory
// replica contends for.
const leaderKey = "directory/leader"

// Role is this replica's position in the FOLLOWER/CANDIDATE/LEADER state
// machine.
type Role string

const (
	RoleFollower  Role = "FOLLOWER"
	RoleCandidate Role = "CANDIDATE"
	RoleLeader    Role = "LEADER"
)

// Election drives one Directory replica's leader lease: periodic
// create-if-absent attempts when not holding the lease, periodic refresh
// attempts when holding it, demoting to FOLLOWER on any refresh failure.
type Election struct {
	lease            *coordination.Lease
	refreshInterval  time.Duration
	replicaID        string

	mu   sync.RWMutex
	role Role
}

// NewElection builds an Election for replicaID using store as the
// coordination backend.
func NewElection(store coordination.Store, replicaID string, ttl, refreshInterval time.Duration) *Election {
	return &Election{
		lease:           coordination.NewLease(store, leaderKey, replicaID, ttl),
		refreshInterval: refreshInterval,
		replicaID:       replicaID,
		role:            RoleFollower,
	}
}

// Role reports this replica's last-known role.
func (e *Election) Role() Role {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.role
}

// IsLeader reports whether this replica currently believes it holds the
// lease.
func (e *Election) IsLeader() bool {
	return e.Role() == RoleLeader
}

// CurrentLeader returns the replica id currently holding the lease, if any.
func (e *Election) CurrentLeader(ctx context.Context) (string, bool, error) {
	return e.lease.CurrentHolder(ctx)
}

// Run blocks, attempting acquisition or refresh every refreshInterval until
// ctx is canceled.
func (e *Election) Run(ctx context.Context) {
	logger := log.WithComponent("election").With().Str("replica_id", e.replicaID).Logger()
	ticker := time.NewTicker(e.refreshInterval)
	defer ticker.Stop()

	e.tick(ctx, logger)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(ctx, logger)
		}
	}
}

func (e *Election) tick(ctx context.Context, logger zerolog.Logger) {
	if e.IsLeader() {
		ok, err := e.lease.Refresh(ctx)
		if err != nil || !ok {
			logger.Warn().Err(err).Msg("lease refresh failed, demoting to follower")
			e.setRole(RoleFollower)
			metrics.DirectoryIsLeader.Set(0)
		}
		return
	}

	e.setRole(RoleCandidate)
	won, err := e.lease.Acquire(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("lease acquisition attempt failed")
		e.setRole(RoleFollower)
		return
	}
	if won {
		logger.Info().Msg("acquired leader lease")
		e.setRole(RoleLeader)
		metrics.DirectoryIsLeader.Set(1)
		return
	}
	e.setRole(RoleFollower)
}

func (e *Election) setRole(r Role) {
	e.mu.Lock()
	e.role = r
	e.mu.Unlock()
}
