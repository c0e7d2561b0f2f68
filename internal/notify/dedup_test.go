package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testClock = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type recordedNotification struct {
	recipient  string
	productKey string
	eventKind  string
	channel    string
	sentAt     time.Time
}

// memDedupStore is an in-memory stand-in for the notifications table.
type memDedupStore struct {
	mu      sync.Mutex
	last    map[string]time.Time
	records []recordedNotification
	err     error
}

func newMemDedupStore() *memDedupStore {
	return &memDedupStore{last: make(map[string]time.Time)}
}

func (s *memDedupStore) LastNotificationAt(_ context.Context, recipient, productKey, eventKind string) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if at, ok := s.last[dedupKey(recipient, productKey, eventKind)]; ok {
		return &at, nil
	}
	return nil, nil
}

func (s *memDedupStore) RecordNotification(_ context.Context, recipient, productKey, eventKind, channel string, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.last[dedupKey(recipient, productKey, eventKind)] = sentAt
	s.records = append(s.records, recordedNotification{
		recipient:  recipient,
		productKey: productKey,
		eventKind:  eventKind,
		channel:    channel,
		sentAt:     sentAt,
	})
	return nil
}

func newTestDeduper(t *testing.T, window time.Duration, store *memDedupStore) *Deduper {
	t.Helper()
	d, err := NewDeduper(window, 100)
	require.NoError(t, err)
	d.store = store
	d.now = func() time.Time { return testClock }
	return d
}

func TestDeduperFirstDeliveryAllowed(t *testing.T) {
	d := newTestDeduper(t, 30*time.Minute, newMemDedupStore())

	assert.True(t, d.ShouldSend(context.Background(), "user-1", "gridmart|sku1", "new_in_stock"),
		"a never-sent triple must be deliverable")
}

func TestDeduperSuppressesWithinWindow(t *testing.T) {
	store := newMemDedupStore()
	d := newTestDeduper(t, 30*time.Minute, store)
	ctx := context.Background()

	require.NoError(t, d.MarkSent(ctx, "user-1", "gridmart|sku1", "new_in_stock", "log"))

	assert.False(t, d.ShouldSend(ctx, "user-1", "gridmart|sku1", "new_in_stock"),
		"repeat within the window must be suppressed")
	assert.True(t, d.ShouldSend(ctx, "user-2", "gridmart|sku1", "new_in_stock"),
		"another recipient is an independent dedup key")
	assert.True(t, d.ShouldSend(ctx, "user-1", "gridmart|sku1", "price_changed"),
		"another kind is an independent dedup key")
}

func TestDeduperAllowsAfterWindow(t *testing.T) {
	store := newMemDedupStore()
	d := newTestDeduper(t, 30*time.Minute, store)
	ctx := context.Background()

	require.NoError(t, d.MarkSent(ctx, "user-1", "gridmart|sku1", "new_in_stock", "log"))

	d.now = func() time.Time { return testClock.Add(31 * time.Minute) }
	assert.True(t, d.ShouldSend(ctx, "user-1", "gridmart|sku1", "new_in_stock"),
		"past the window the triple is deliverable again")
}

func TestDeduperFallsBackToStoreOnCacheMiss(t *testing.T) {
	store := newMemDedupStore()
	store.last[dedupKey("user-1", "gridmart|sku1", "new_in_stock")] = testClock.Add(-5 * time.Minute)

	// Fresh deduper: the cache is empty, only the store knows the delivery.
	d := newTestDeduper(t, 30*time.Minute, store)

	assert.False(t, d.ShouldSend(context.Background(), "user-1", "gridmart|sku1", "new_in_stock"),
		"persisted deliveries must survive a restart of the cache")
}

func TestDeduperFailsOpenOnStoreError(t *testing.T) {
	store := newMemDedupStore()
	store.err = errors.New("disk on fire")
	d := newTestDeduper(t, 30*time.Minute, store)

	assert.True(t, d.ShouldSend(context.Background(), "user-1", "gridmart|sku1", "new_in_stock"),
		"a storage error must not swallow notifications")
}

func TestDeduperRecordsChannelOnMarkSent(t *testing.T) {
	store := newMemDedupStore()
	d := newTestDeduper(t, 30*time.Minute, store)

	require.NoError(t, d.MarkSent(context.Background(), "user-1", "gridmart|sku1", "new_in_stock", "webhook"))

	require.Len(t, store.records, 1)
	assert.Equal(t, "webhook", store.records[0].channel)
	assert.Equal(t, testClock, store.records[0].sentAt)
}
