package notify

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/stockpulse/stock-monitor/internal/database"
)

// dedupStore is the persistence surface the deduper needs. The default
// implementation delegates to the database package; tests swap it out.
type dedupStore interface {
	LastNotificationAt(ctx context.Context, recipient, productKey, eventKind string) (*time.Time, error)
	RecordNotification(ctx context.Context, recipient, productKey, eventKind, channel string, sentAt time.Time) error
}

type dbDedupStore struct{}

func (dbDedupStore) LastNotificationAt(ctx context.Context, recipient, productKey, eventKind string) (*time.Time, error) {
	return database.LastNotificationAt(ctx, recipient, productKey, eventKind)
}

func (dbDedupStore) RecordNotification(ctx context.Context, recipient, productKey, eventKind, channel string, sentAt time.Time) error {
	return database.RecordNotification(ctx, recipient, productKey, eventKind, channel, sentAt)
}

// Deduper suppresses repeat deliveries of the same (recipient, product,
// kind) triple inside a rolling window. An LRU cache answers the hot path;
// misses fall through to the notifications table so the window survives
// restarts and cache eviction.
type Deduper struct {
	window time.Duration
	cache  *lru.Cache[string, time.Time]
	store  dedupStore
	now    func() time.Time
}

// NewDeduper builds a deduper with the given window and cache capacity.
func NewDeduper(window time.Duration, capacity int) (*Deduper, error) {
	if capacity < 1 {
		capacity = 1
	}
	cache, err := lru.New[string, time.Time](capacity)
	if err != nil {
		return nil, fmt.Errorf("error creating dedup cache: %w", err)
	}
	return &Deduper{
		window: window,
		cache:  cache,
		store:  dbDedupStore{},
		now:    time.Now,
	}, nil
}

// dedupKey joins the triple with NUL so user-controlled recipient IDs and
// canonical keys (which contain '|') cannot collide.
func dedupKey(recipient, productKey, eventKind string) string {
	return recipient + "\x00" + productKey + "\x00" + eventKind
}

// ShouldSend reports whether a delivery for the triple is outside the dedup
// window. A storage error fails open: better a rare duplicate than a missed
// restock.
func (d *Deduper) ShouldSend(ctx context.Context, recipient, productKey, eventKind string) bool {
	key := dedupKey(recipient, productKey, eventKind)

	if last, ok := d.cache.Get(key); ok {
		if d.now().Sub(last) < d.window {
			return false
		}
	}

	last, err := d.store.LastNotificationAt(ctx, recipient, productKey, eventKind)
	if err != nil || last == nil {
		return true
	}
	d.cache.Add(key, *last)
	return d.now().Sub(*last) >= d.window
}

// MarkSent records a completed delivery in both the cache and the durable
// table.
func (d *Deduper) MarkSent(ctx context.Context, recipient, productKey, eventKind, channel string) error {
	sentAt := d.now().UTC()
	d.cache.Add(dedupKey(recipient, productKey, eventKind), sentAt)
	return d.store.RecordNotification(ctx, recipient, productKey, eventKind, channel, sentAt)
}
