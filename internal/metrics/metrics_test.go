package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSnapshotReflectsStats(t *testing.T) {
	started := time.Now().Add(-time.Minute)
	updated := time.Now().Add(-5 * time.Second)

	c := NewCollector(started, func() CacheStats {
		return CacheStats{
			CacheUpdatedAtMs: updated.UnixMilli(),
			LastRefreshAt:    updated,
			RefreshCount:     3,
			RefreshFailures:  1,
			EventsSeen:       7,
		}
	}, func() int64 { return 2 })

	snap := c.Snapshot()
	require.Equal(t, "ok", snap.Status)
	require.EqualValues(t, 3, snap.RefreshCount)
	require.EqualValues(t, 1, snap.RefreshFailures)
	require.EqualValues(t, 7, snap.EventsSeen)
	require.EqualValues(t, 2, snap.StreamsActive)
	require.NotEmpty(t, snap.CacheUpdatedAt)
	require.Greater(t, snap.UptimeMs, int64(0))
}

func TestSnapshotHandlesEmptyCache(t *testing.T) {
	started := time.Now()
	c := NewCollector(started, func() CacheStats { return CacheStats{} }, nil)

	snap := c.Snapshot()
	require.Empty(t, snap.CacheUpdatedAt)
	require.EqualValues(t, 0, snap.StreamsActive)
}
