package sweepers

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockpulse/stock-monitor/internal/database"
	"github.com/stockpulse/stock-monitor/internal/types"
)

func setupDB(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, database.Connect(ctx, database.Options{
		Path: filepath.Join(t.TempDir(), "sweeper.db"),
	}))
	require.NoError(t, database.Migrate(ctx))
	t.Cleanup(database.Close)
}

func TestSweepPrunesPurgesAndArchives(t *testing.T) {
	setupDB(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// One stale and one fresh notification record.
	require.NoError(t, database.RecordNotification(ctx, "u-1", "gridmart|stale", "new_in_stock", "log", now.Add(-72*time.Hour)))
	require.NoError(t, database.RecordNotification(ctx, "u-1", "gridmart|fresh", "new_in_stock", "log", now.Add(-time.Hour)))

	// One expired and one live quarantine.
	require.NoError(t, database.SaveHostBlock(ctx, database.HostBlock{
		Host: "shop.gridmart.example", BlockedAt: now.Add(-2 * time.Hour), BlockedUntil: now.Add(-time.Hour), Reason: "challenge",
	}))
	require.NoError(t, database.SaveHostBlock(ctx, database.HostBlock{
		Host: "api.cardline.example", BlockedAt: now, BlockedUntil: now.Add(time.Hour), Reason: "rate_limited",
	}))

	// One ancient and one recent price snapshot.
	written, err := database.RecordSnapshots(ctx, []types.Product{
		{Retailer: "gridmart", Name: "Old Box", Price: types.Float64Ptr(10), ObservedAt: now.Add(-100 * 24 * time.Hour)},
		{Retailer: "gridmart", Name: "Fresh Box", Price: types.Float64Ptr(12), ObservedAt: now.Add(-time.Hour)},
	})
	require.NoError(t, err)
	require.Equal(t, 2, written)

	sweeper := NewMaintenance(Options{
		Interval:              time.Minute,
		NotificationRetention: 48 * time.Hour,
		SnapshotRetention:     90 * 24 * time.Hour,
	})
	sweeper.now = func() time.Time { return now }
	sweeper.Sweep(ctx)

	records, err := database.ListNotifications(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "gridmart|fresh", records[0].ProductKey)

	var blocks int
	require.NoError(t, database.Handle().QueryRow(`SELECT COUNT(*) FROM host_blocks`).Scan(&blocks))
	assert.Equal(t, 1, blocks, "expired quarantine should be purged")

	live, err := database.CountSnapshots(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), live)

	var archived int
	require.NoError(t, database.Handle().QueryRow(`SELECT COUNT(*) FROM prices_archive`).Scan(&archived))
	assert.Equal(t, 1, archived, "ancient snapshot should move to the archive")
}

func TestSweepZeroRetentionDisablesJob(t *testing.T) {
	setupDB(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, database.RecordNotification(ctx, "u-1", "gridmart|ancient", "new_in_stock", "log", now.Add(-365*24*time.Hour)))

	sweeper := NewMaintenance(Options{Interval: time.Minute})
	sweeper.now = func() time.Time { return now }
	sweeper.Sweep(ctx)

	records, err := database.ListNotifications(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, records, 1, "zero retention must not prune")
}

func TestStopEndsLoop(t *testing.T) {
	sweeper := NewMaintenance(Options{Interval: time.Hour})

	done := make(chan struct{})
	go func() {
		sweeper.Start(context.Background())
		close(done)
	}()

	sweeper.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
