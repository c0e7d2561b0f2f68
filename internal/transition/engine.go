// Package transition turns consecutive scan results into stock and price
// events. It owns the per-task in-stock state and the append-only price
// history that price_changed detection reads from.
package transition

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stockpulse/stock-monitor/internal/database"
	"github.com/stockpulse/stock-monitor/internal/types"
)

// Store is the persistence surface the engine needs: append-only snapshot
// writes plus the most recent prior snapshot per product.
type Store interface {
	RecordSnapshots(ctx context.Context, products []types.Product) (int, error)
	LatestSnapshot(ctx context.Context, productKey string) (*database.PriceSnapshot, error)
}

// dbStore delegates to the package database handle.
type dbStore struct{}

func (dbStore) RecordSnapshots(ctx context.Context, products []types.Product) (int, error) {
	return database.RecordSnapshots(ctx, products)
}

func (dbStore) LatestSnapshot(ctx context.Context, productKey string) (*database.PriceSnapshot, error) {
	return database.LatestSnapshot(ctx, productKey)
}

// Options configures an Engine. The zero value is usable.
type Options struct {
	// PriceChangeThreshold is the minimum relative move against the last
	// snapshot that emits a price_changed event. Defaults to 0.05.
	PriceChangeThreshold float64

	// Store overrides the persistence backend, mainly for tests.
	Store Store
}

func (o Options) withDefaults() Options {
	if o.PriceChangeThreshold <= 0 {
		o.PriceChangeThreshold = 0.05
	}
	if o.Store == nil {
		o.Store = dbStore{}
	}
	return o
}

// Engine reconciles scan results against per-task state.
type Engine struct {
	threshold float64
	store     Store
	logger    zerolog.Logger
	now       func() time.Time
}

// NewEngine creates a transition engine.
func NewEngine(opts Options) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		threshold: opts.PriceChangeThreshold,
		store:     opts.Store,
		logger:    log.With().Str("component", "transition").Logger(),
		now:       time.Now,
	}
}

// Reconcile compares a scan result against the task's prior in-stock set and
// returns the events to emit plus the canonical keys now in stock, sorted.
// Price snapshots are appended for every priced product whether or not any
// event fires. A task whose prior set is nil has never completed a scan;
// that scan seeds state and emits nothing, so restarts and new tasks do not
// alert on inventory that was already there.
func (e *Engine) Reconcile(ctx context.Context, task *database.Task, current []types.Product) ([]types.Event, []string, error) {
	observedAt := e.now().UTC()

	curr := make(map[string]types.Product, len(current))
	byKey := make(map[string]types.Product, len(current))
	for _, p := range current {
		key := p.CanonicalKey()
		if _, seen := byKey[key]; !seen {
			byKey[key] = p
		}
		if !p.InStock {
			continue
		}
		if _, seen := curr[key]; !seen {
			curr[key] = p
		}
	}

	newState := make([]string, 0, len(curr))
	for key := range curr {
		newState = append(newState, key)
	}
	sort.Strings(newState)

	var events []types.Event
	if task.LastInStockKeys != nil {
		prev := make(map[string]bool, len(task.LastInStockKeys))
		for _, key := range task.LastInStockKeys {
			prev[key] = true
		}

		for key, p := range curr {
			if prev[key] {
				continue
			}
			events = append(events, e.event(types.EventNewInStock, key, p, task, observedAt))
		}

		for _, key := range task.LastInStockKeys {
			if _, still := curr[key]; still {
				continue
			}
			events = append(events, e.lostEvent(key, byKey, task, observedAt))
		}

		changed, err := e.priceChanges(ctx, curr, prev, task, observedAt)
		if err != nil {
			return nil, nil, err
		}
		events = append(events, changed...)

		// The three classes partition the key space, so key order is total.
		sort.Slice(events, func(i, j int) bool {
			return events[i].ProductKey < events[j].ProductKey
		})
	}

	// Snapshot reads above saw the previous cycle; only now append this one.
	written, err := e.store.RecordSnapshots(ctx, current)
	if err != nil {
		return nil, nil, fmt.Errorf("error recording price snapshots: %w", err)
	}
	snapshotsWritten.Add(float64(written))

	e.logger.Debug().
		Str("task_id", task.ID).
		Int("in_stock", len(newState)).
		Int("events", len(events)).
		Int("snapshots", written).
		Msg("Reconciled scan result")

	return events, newState, nil
}

// priceChanges emits at most one price_changed per key that stayed in stock
// and moved at least threshold relative to its last recorded snapshot.
func (e *Engine) priceChanges(ctx context.Context, curr map[string]types.Product, prev map[string]bool, task *database.Task, at time.Time) ([]types.Event, error) {
	var events []types.Event
	for key, p := range curr {
		if !prev[key] || p.Price == nil {
			continue
		}
		snap, err := e.store.LatestSnapshot(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("error loading last snapshot for %s: %w", key, err)
		}
		if snap == nil || snap.ListedPrice <= 0 {
			continue
		}
		move := math.Abs(*p.Price-snap.ListedPrice) / snap.ListedPrice
		if move < e.threshold {
			continue
		}
		events = append(events, e.event(types.EventPriceChanged, key, p, task, at))
	}
	return events, nil
}

func (e *Engine) event(kind types.EventKind, key string, p types.Product, task *database.Task, at time.Time) types.Event {
	ev := types.Event{
		Kind:         kind,
		Retailer:     p.Retailer,
		ProductKey:   key,
		ProductName:  p.Name,
		URL:          p.URL,
		Price:        p.Price,
		MarketPrice:  p.MarketPrice,
		ObservedAt:   at,
		SourceTaskID: task.ID,
	}
	if p.Price != nil && p.MarketPrice != nil && *p.MarketPrice > 0 {
		d := (*p.Price - *p.MarketPrice) / *p.MarketPrice
		ev.DeltaPct = &d
	}
	return ev
}

// lostEvent prefers details from the scan when the listing is still present
// but out of stock. A listing that vanished from results entirely is
// reported with whatever the key preserves.
func (e *Engine) lostEvent(key string, byKey map[string]types.Product, task *database.Task, at time.Time) types.Event {
	if p, ok := byKey[key]; ok {
		return e.event(types.EventLostStock, key, p, task, at)
	}
	name := key
	if _, ident, ok := strings.Cut(key, "|"); ok {
		name = ident
	}
	return types.Event{
		Kind:         types.EventLostStock,
		Retailer:     task.Retailer,
		ProductKey:   key,
		ProductName:  name,
		ObservedAt:   at,
		SourceTaskID: task.ID,
	}
}
