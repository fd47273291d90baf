package placement

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/voltgrid/haystack/internal/types"
)

func TestPickExcludesUnhealthyAndLowSpace(t *testing.T) {
	candidates := []types.StoreDescriptor{
		{StoreID: "a", Status: types.StoreHealthy, FreeBytes: 1000, Ops60s: 5},
		{StoreID: "b", Status: types.StoreDown, FreeBytes: 2000, Ops60s: 1},
		{StoreID: "c", Status: types.StoreHealthy, FreeBytes: 100, Ops60s: 1},
	}
	picked := Pick(candidates, nil, 500, 0, 3)
	require.Len(t, picked, 1)
	require.Equal(t, "a", picked[0].StoreID)
}

func TestPickPrefersLowOpsThenHighFreeBytesThenStoreID(t *testing.T) {
	candidates := []types.StoreDescriptor{
		{StoreID: "c", Status: types.StoreHealthy, FreeBytes: 5000, Ops60s: 1},
		{StoreID: "b", Status: types.StoreHealthy, FreeBytes: 9000, Ops60s: 1},
		{StoreID: "a", Status: types.StoreHealthy, FreeBytes: 5000, Ops60s: 1},
		{StoreID: "d", Status: types.StoreHealthy, FreeBytes: 1000, Ops60s: 9},
	}
	picked := Pick(candidates, nil, 0, 0, 2)
	require.Len(t, picked, 2)
	require.Equal(t, "b", picked[0].StoreID) // lowest ops tie -> highest free bytes
	require.Equal(t, "a", picked[1].StoreID) // then lowest store_id among the 5000 tie
}

func TestPickHonorsExcludeSet(t *testing.T) {
	candidates := []types.StoreDescriptor{
		{StoreID: "a", Status: types.StoreHealthy, FreeBytes: 1000},
		{StoreID: "b", Status: types.StoreHealthy, FreeBytes: 1000},
	}
	picked := Pick(candidates, map[string]bool{"a": true}, 0, 0, 2)
	require.Len(t, picked, 1)
	require.Equal(t, "b", picked[0].StoreID)
}

func TestHighestUtilizationPicksLeastFreeBytes(t *testing.T) {
	candidates := []types.StoreDescriptor{
		{StoreID: "a", FreeBytes: 5000},
		{StoreID: "b", FreeBytes: 500},
	}
	victim, ok := HighestUtilization(candidates)
	require.True(t, ok)
	require.Equal(t, "b", victim.StoreID)
}

func TestHighestUtilizationEmpty(t *testing.T) {
	_, ok := HighestUtilization(nil)
	require.False(t, ok)
}
