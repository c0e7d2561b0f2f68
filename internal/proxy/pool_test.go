package proxy

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockpulse/stock-monitor/internal/database"
	"github.com/stockpulse/stock-monitor/internal/types"
)

// mockStore is an in-memory Store for pool tests.
type mockStore struct {
	mu    sync.Mutex
	rows  map[string]*database.ProxyRow
	saved []database.ProxyRow
	seq   int
}

func newMockStore() *mockStore {
	return &mockStore{rows: make(map[string]*database.ProxyRow)}
}

func (m *mockStore) UpsertProxy(ctx context.Context, url string) (*database.ProxyRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.rows[url]; ok {
		return row, nil
	}
	m.seq++
	row := &database.ProxyRow{
		ID:        fmt.Sprintf("prx_%02d", m.seq),
		URL:       url,
		UpdatedAt: time.Now().UTC(),
	}
	m.rows[url] = row
	return row, nil
}

func (m *mockStore) SaveProxyStats(ctx context.Context, row *database.ProxyRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, *row)
	return nil
}

func (m *mockStore) savedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saved)
}

func newTestPool(t *testing.T, urls []string) (*Pool, *mockStore) {
	t.Helper()
	store := newMockStore()
	pool, err := NewPool(context.Background(), Options{
		URLs:                urls,
		Quarantine:          30 * time.Minute,
		TransientQuarantine: 5 * time.Minute,
		TransientThreshold:  3,
		Store:               store,
	})
	require.NoError(t, err)
	return pool, store
}

func TestAcquireRoundRobin(t *testing.T) {
	pool, _ := newTestPool(t, []string{"http://p1:8080", "http://p2:8080", "http://p3:8080"})

	var got []string
	for i := 0; i < 6; i++ {
		h, err := pool.Acquire(context.Background())
		require.NoError(t, err)
		require.NotNil(t, h)
		got = append(got, h.URL)
	}

	assert.Equal(t, []string{
		"http://p1:8080", "http://p2:8080", "http://p3:8080",
		"http://p1:8080", "http://p2:8080", "http://p3:8080",
	}, got)
}

func TestAcquireRotationGuarantee(t *testing.T) {
	pool, _ := newTestPool(t, []string{"http://p1:8080", "http://p2:8080"})

	prev, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	require.NotNil(t, prev)

	for i := 0; i < 10; i++ {
		h, err := pool.Acquire(context.Background())
		require.NoError(t, err)
		require.NotNil(t, h)
		assert.NotEqual(t, prev.ID, h.ID, "successive acquires must rotate when two proxies are available")
		prev = h
	}
}

func TestAcquireEmptyPool(t *testing.T) {
	pool, _ := newTestPool(t, nil)

	h, err := pool.Acquire(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, h)
}

func TestReleaseBlockedQuarantines(t *testing.T) {
	pool, store := newTestPool(t, []string{"http://p1:8080", "http://p2:8080"})

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pool.now = func() time.Time { return clock }

	h, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, "http://p1:8080", h.URL)
	pool.Release(h, types.ProxyOutcomeBlocked)

	// Only p2 is eligible now, repeatedly.
	for i := 0; i < 3; i++ {
		next, err := pool.Acquire(context.Background())
		require.NoError(t, err)
		require.NotNil(t, next)
		assert.Equal(t, "http://p2:8080", next.URL)
	}

	// Past the quarantine window the blocked proxy returns to rotation.
	clock = clock.Add(30*time.Minute + time.Second)
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		next, err := pool.Acquire(context.Background())
		require.NoError(t, err)
		seen[next.URL] = true
	}
	assert.True(t, seen["http://p1:8080"], "proxy should rejoin rotation after quarantine expiry")

	assert.GreaterOrEqual(t, store.savedCount(), 1, "accounting must be written through")
}

func TestReleaseTransientThreshold(t *testing.T) {
	pool, _ := newTestPool(t, []string{"http://p1:8080"})

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pool.now = func() time.Time { return clock }

	// Two transients do not quarantine.
	for i := 0; i < 2; i++ {
		h, err := pool.Acquire(context.Background())
		require.NoError(t, err)
		require.NotNil(t, h)
		pool.Release(h, types.ProxyOutcomeTransient)
	}

	h, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	require.NotNil(t, h, "below the threshold the proxy stays available")

	// Third consecutive transient triggers the short quarantine.
	pool.Release(h, types.ProxyOutcomeTransient)
	h, err = pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.Nil(t, h)

	// The short quarantine expires before the full one would.
	clock = clock.Add(5*time.Minute + time.Second)
	h, err = pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, h)
}

func TestReleaseSuccessResetsTransientCounter(t *testing.T) {
	pool, _ := newTestPool(t, []string{"http://p1:8080"})

	for i := 0; i < 2; i++ {
		h, err := pool.Acquire(context.Background())
		require.NoError(t, err)
		pool.Release(h, types.ProxyOutcomeTransient)
	}

	h, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Release(h, types.ProxyOutcomeSuccess)

	// Two more transients: the counter restarted, so still no quarantine.
	for i := 0; i < 2; i++ {
		h, err = pool.Acquire(context.Background())
		require.NoError(t, err)
		require.NotNil(t, h)
		pool.Release(h, types.ProxyOutcomeTransient)
	}

	h, err = pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, h, "an intervening success must reset the transient counter")
}

func TestAcquireAllQuarantinedReturnsNil(t *testing.T) {
	pool, _ := newTestPool(t, []string{"http://p1:8080", "http://p2:8080"})

	for i := 0; i < 2; i++ {
		h, err := pool.Acquire(context.Background())
		require.NoError(t, err)
		pool.Release(h, types.ProxyOutcomeBlocked)
	}

	h, err := pool.Acquire(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, h, "fully quarantined pool must signal proxyless operation")

	stats := pool.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 0, stats.Available)
	assert.Equal(t, 2, stats.Quarantined)
}

func TestAcquireCancelledContext(t *testing.T) {
	pool, _ := newTestPool(t, []string{"http://p1:8080"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := pool.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewPoolStartsAtLeastRecentlyUsed(t *testing.T) {
	store := newMockStore()

	older := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	// Pre-seed persisted stats: p1 was used more recently than p2.
	row1, err := store.UpsertProxy(context.Background(), "http://p1:8080")
	require.NoError(t, err)
	row1.LastUsedAt = &newer
	row2, err := store.UpsertProxy(context.Background(), "http://p2:8080")
	require.NoError(t, err)
	row2.LastUsedAt = &older

	pool, err := NewPool(context.Background(), Options{
		URLs:  []string{"http://p1:8080", "http://p2:8080"},
		Store: store,
	})
	require.NoError(t, err)

	h, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "http://p2:8080", h.URL, "restart must resume from the least-recently-used proxy")
}

func TestStatsReflectsAccounting(t *testing.T) {
	pool, _ := newTestPool(t, []string{"http://p1:8080"})

	h, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Release(h, types.ProxyOutcomeSuccess)

	h, err = pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Release(h, types.ProxyOutcomeTransient)

	stats := pool.Stats()
	require.Len(t, stats.Proxies, 1)
	assert.Equal(t, 1, stats.Proxies[0].SuccessCount)
	assert.Equal(t, 1, stats.Proxies[0].FailureCount)
	assert.Equal(t, 1, stats.Proxies[0].ConsecutiveTransient)
	assert.NotNil(t, stats.Proxies[0].LastUsedAt)
}
