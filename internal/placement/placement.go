// Package placement implements the single placement policy shared by the
// Directory's register handler and the Replication Manager's up-replication
// step, so both call sites agree on where a new replica lands.
package placement

import (
	"sort"

	"github.com/voltgrid/haystack/internal/types"
)

// Pick selects up to n stores from candidates suitable to host a new
// replica of sizeBytes, preferring the stores with the lowest recent ops,
// breaking ties by most free space, then by store_id for determinism. It excludes any store already in
// exclude (e.g. existing locations) and any store without enough free
// space.
func Pick(candidates []types.StoreDescriptor, exclude map[string]bool, sizeBytes int64, margin int64, n int) []types.StoreDescriptor {
	var eligible []types.StoreDescriptor
	for _, d := range candidates {
		if d.Status != types.StoreHealthy {
			continue
		}
		if exclude[d.StoreID] {
			continue
		}
		if d.FreeBytes < sizeBytes+margin {
			continue
		}
		eligible = append(eligible, d)
	}

	sort.Slice(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.Ops60s != b.Ops60s {
			return a.Ops60s < b.Ops60s
		}
		if a.FreeBytes != b.FreeBytes {
			return a.FreeBytes > b.FreeBytes
		}
		return a.StoreID < b.StoreID
	})

	if len(eligible) > n {
		eligible = eligible[:n]
	}
	return eligible
}

// HighestUtilization returns the store among candidates with the least
// free space (highest utilization), for de-replication victim selection.
// Returns (zero, false) if candidates is empty.
func HighestUtilization(candidates []types.StoreDescriptor) (types.StoreDescriptor, bool) {
	if len(candidates) == 0 {
		return types.StoreDescriptor{}, false
	}
	best := candidates[0]
	for _, d := range candidates[1:] {
		if d.FreeBytes < best.FreeBytes {
			best = d
		}
	}
	return best, true
}
