package replication

import (
	"context"
	"time"

	"github.com/voltgrid/haystack/internal/log"
	"github.com/voltgrid/haystack/internal/metrics"
)

// RunNightlyAudit blocks, waking once a day at nightlyAuditHour local time
// to run a full, unsampled reconcile over every blob, not just the bounded
// sample a regular control-loop tick covers. Idempotent and safe to
// interrupt: each cycle re-derives its action set from current metadata.
func (m *Manager) RunNightlyAudit(ctx context.Context) {
	logger := log.WithComponent("replication.audit")
	for {
		wait := durationUntilHour(time.Now(), m.nightlyAuditHour)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
			if err := m.cycle(ctx, 0); err != nil {
				logger.Error().Err(err).Msg("nightly audit failed")
			} else {
				metrics.AuditRunsTotal.Inc()
			}
		}
	}
}

func durationUntilHour(now time.Time, hour int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}
