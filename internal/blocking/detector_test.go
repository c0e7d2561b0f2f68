package blocking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockpulse/stock-monitor/internal/database"
	"github.com/stockpulse/stock-monitor/internal/types"
)

// mockBlockStore records persisted quarantines in memory.
type mockBlockStore struct {
	mu     sync.Mutex
	blocks []database.HostBlock
}

func (m *mockBlockStore) SaveHostBlock(ctx context.Context, block database.HostBlock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks = append(m.blocks, block)
	return nil
}

func (m *mockBlockStore) ListActiveHostBlocks(ctx context.Context, now time.Time) ([]database.HostBlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []database.HostBlock
	for _, b := range m.blocks {
		if b.BlockedUntil.After(now) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *mockBlockStore) persisted() []database.HostBlock {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]database.HostBlock(nil), m.blocks...)
}

func newTestDetector() (*Detector, *mockBlockStore, *time.Time) {
	store := &mockBlockStore{}
	d := NewDetector(Options{
		HostQuarantine:      time.Hour,
		RateLimitQuarantine: 10 * time.Minute,
		TransientQuarantine: 15 * time.Minute,
		TransientWindow:     10 * time.Minute,
		TransientThreshold:  3,
		Store:               store,
	})
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return clock }
	return d, store, &clock
}

func TestRecordBlockForbidden(t *testing.T) {
	d, store, clock := newTestDetector()
	ctx := context.Background()

	until := d.RecordBlock(ctx, "shop.example.com", "", types.BlockReasonForbidden, 0)
	assert.Equal(t, clock.Add(time.Hour), until)
	assert.True(t, d.IsBlocked("shop.example.com"))
	assert.False(t, d.IsBlocked("other.example.com"))

	got, ok := d.BlockedUntil("shop.example.com")
	require.True(t, ok)
	assert.Equal(t, until, got)

	rows := store.persisted()
	require.Len(t, rows, 1)
	assert.Equal(t, "shop.example.com", rows[0].Host)
	assert.Equal(t, "", rows[0].ProxyID)
	assert.Equal(t, string(types.BlockReasonForbidden), rows[0].Reason)
}

func TestRecordBlockWithProxyPersistsBothKeys(t *testing.T) {
	d, store, _ := newTestDetector()

	d.RecordBlock(context.Background(), "shop.example.com", "prx_01", types.BlockReasonChallenge, 0)

	rows := store.persisted()
	require.Len(t, rows, 2)
	assert.Equal(t, "", rows[0].ProxyID)
	assert.Equal(t, "prx_01", rows[1].ProxyID)

	blocks := d.ActiveBlocks()
	require.Len(t, blocks, 2)
	assert.Equal(t, "", blocks[0].ProxyID)
	assert.Equal(t, "prx_01", blocks[1].ProxyID)
}

func TestRateLimitQuarantineHonorsRetryAfter(t *testing.T) {
	d, _, clock := newTestDetector()
	ctx := context.Background()

	until := d.RecordBlock(ctx, "a.example.com", "", types.BlockReasonRateLimited, 0)
	assert.Equal(t, clock.Add(10*time.Minute), until, "no hint uses the default")

	until = d.RecordBlock(ctx, "b.example.com", "", types.BlockReasonRateLimited, 45*time.Minute)
	assert.Equal(t, clock.Add(45*time.Minute), until, "server hint wins")
}

func TestBlockExpiry(t *testing.T) {
	d, _, clock := newTestDetector()

	d.RecordBlock(context.Background(), "shop.example.com", "", types.BlockReasonForbidden, 0)
	assert.True(t, d.IsBlocked("shop.example.com"))

	*clock = clock.Add(time.Hour + time.Second)
	assert.False(t, d.IsBlocked("shop.example.com"))
	assert.Empty(t, d.ActiveBlocks())
}

func TestTransientBurstQuarantine(t *testing.T) {
	d, _, clock := newTestDetector()
	ctx := context.Background()

	_, blocked := d.RecordTransient(ctx, "shop.example.com", "")
	assert.False(t, blocked)
	*clock = clock.Add(time.Minute)

	_, blocked = d.RecordTransient(ctx, "shop.example.com", "")
	assert.False(t, blocked)
	assert.False(t, d.IsBlocked("shop.example.com"))
	*clock = clock.Add(time.Minute)

	until, blocked := d.RecordTransient(ctx, "shop.example.com", "")
	assert.True(t, blocked, "third transient inside the window quarantines")
	assert.Equal(t, clock.Add(15*time.Minute), until)
	assert.True(t, d.IsBlocked("shop.example.com"))
}

func TestTransientsOutsideWindowDoNotCount(t *testing.T) {
	d, _, clock := newTestDetector()
	ctx := context.Background()

	d.RecordTransient(ctx, "shop.example.com", "")
	*clock = clock.Add(11 * time.Minute)
	d.RecordTransient(ctx, "shop.example.com", "")
	*clock = clock.Add(11 * time.Minute)
	_, blocked := d.RecordTransient(ctx, "shop.example.com", "")

	assert.False(t, blocked, "stale transients must age out of the rolling window")
	assert.False(t, d.IsBlocked("shop.example.com"))
}

func TestObserveMapsClassificationsToCooldowns(t *testing.T) {
	d, _, clock := newTestDetector()
	ctx := context.Background()

	_, blocked := d.Observe(ctx, "ok.example.com", "", types.ClassOK, 0)
	assert.False(t, blocked)

	_, blocked = d.Observe(ctx, "empty.example.com", "", types.ClassOKEmpty, 0)
	assert.False(t, blocked)

	until, blocked := d.Observe(ctx, "f.example.com", "", types.ClassForbidden, 0)
	assert.True(t, blocked)
	assert.Equal(t, clock.Add(time.Hour), until)

	until, blocked = d.Observe(ctx, "c.example.com", "", types.ClassChallenge, 0)
	assert.True(t, blocked)
	assert.Equal(t, clock.Add(time.Hour), until)

	until, blocked = d.Observe(ctx, "r.example.com", "", types.ClassRateLimited, 20*time.Minute)
	assert.True(t, blocked)
	assert.Equal(t, clock.Add(20*time.Minute), until)

	_, blocked = d.Observe(ctx, "t.example.com", "", types.ClassTimeout, 0)
	assert.False(t, blocked, "a single timeout only feeds the rolling window")
}

func TestLoadPersistedRestoresQuarantines(t *testing.T) {
	store := &mockBlockStore{}
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveHostBlock(context.Background(), database.HostBlock{
		Host:         "shop.example.com",
		BlockedAt:    clock.Add(-10 * time.Minute),
		BlockedUntil: clock.Add(50 * time.Minute),
		Reason:       string(types.BlockReasonForbidden),
	}))
	require.NoError(t, store.SaveHostBlock(context.Background(), database.HostBlock{
		Host:         "stale.example.com",
		BlockedAt:    clock.Add(-2 * time.Hour),
		BlockedUntil: clock.Add(-time.Hour),
		Reason:       string(types.BlockReasonChallenge),
	}))

	d := NewDetector(Options{Store: store})
	d.now = func() time.Time { return clock }

	require.NoError(t, d.LoadPersisted(context.Background()))
	assert.True(t, d.IsBlocked("shop.example.com"))
	assert.False(t, d.IsBlocked("stale.example.com"), "expired rows must not restore")
}
