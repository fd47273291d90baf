package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterAllowsUpToBurst(t *testing.T) {
	l := New(1, 2)
	require.True(t, l.Allow("10.0.0.1"))
	require.True(t, l.Allow("10.0.0.1"))
	require.False(t, l.Allow("10.0.0.1"))
}

func TestLimiterTracksAddressesIndependently(t *testing.T) {
	l := New(1, 1)
	require.True(t, l.Allow("10.0.0.1"))
	require.True(t, l.Allow("10.0.0.2"), "a different address must have its own budget")
}

func TestCleanupIdleDropsStaleEntries(t *testing.T) {
	l := New(1, 1)
	l.Allow("10.0.0.1")
	require.Len(t, l.limiters, 1)

	time.Sleep(5 * time.Millisecond)
	l.CleanupIdle(time.Millisecond)
	require.Len(t, l.limiters, 0)
}
