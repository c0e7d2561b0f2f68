package notify

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stockpulse/stock-monitor/internal/database"
	"github.com/stockpulse/stock-monitor/internal/types"
)

// recipientStripes bounds the per-recipient serialization locks.
const recipientStripes = 32

// subscriptionStore is the watchlist read surface; tests swap it out.
type subscriptionStore interface {
	ListSubscriptions(ctx context.Context) ([]database.Subscription, error)
}

type dbSubscriptionStore struct{}

func (dbSubscriptionStore) ListSubscriptions(ctx context.Context) ([]database.Subscription, error) {
	return database.ListSubscriptions(ctx)
}

// Options configures a Dispatcher.
type Options struct {
	// Channels receive matched events. The set is fixed at construction.
	Channels []Channel
	// DedupWindow suppresses repeat deliveries of the same
	// (recipient, product, kind) triple.
	DedupWindow time.Duration
	// DedupCapacity bounds the in-memory dedup cache.
	DedupCapacity int
	// BroadcastLogInterval throttles broadcast failure logging per channel.
	BroadcastLogInterval time.Duration
}

// Dispatcher fans stock events out to channels: once to the broadcast
// audience and once per matching subscriber. Deliveries to one recipient are
// serialized; recipients proceed independently.
type Dispatcher struct {
	channels    []Channel
	deduper     *Deduper
	store       subscriptionStore
	logInterval time.Duration
	logger      zerolog.Logger

	mu          sync.Mutex
	lastFailLog map[string]time.Time

	recipientLocks [recipientStripes]sync.Mutex
}

// NewDispatcher builds a dispatcher over the given channels.
func NewDispatcher(opts Options) (*Dispatcher, error) {
	deduper, err := NewDeduper(opts.DedupWindow, opts.DedupCapacity)
	if err != nil {
		return nil, err
	}
	logInterval := opts.BroadcastLogInterval
	if logInterval <= 0 {
		logInterval = 5 * time.Minute
	}
	return &Dispatcher{
		channels:    opts.Channels,
		deduper:     deduper,
		store:       dbSubscriptionStore{},
		logInterval: logInterval,
		logger:      log.With().Str("component", "notify").Logger(),
		lastFailLog: make(map[string]time.Time),
	}, nil
}

// EmitAll delivers a batch of events from one task run. effectiveZip is the
// zip the scan ran under; subscriptions scoped to another zip are skipped.
// The returned receipts record every delivery, suppression and failure.
func (d *Dispatcher) EmitAll(ctx context.Context, events []types.Event, effectiveZip string) []Receipt {
	if len(events) == 0 {
		return nil
	}

	subs, err := d.store.ListSubscriptions(ctx)
	if err != nil {
		// Broadcast delivery still proceeds; subscriber routing resumes
		// on the next batch.
		d.logger.Error().Err(err).Msg("Error loading subscriptions, delivering broadcast only")
		subs = nil
	}

	var receipts []Receipt
	for _, event := range events {
		receipts = append(receipts, d.deliver(ctx, BroadcastRecipient, event, d.channelsFor(event.Kind, nil))...)

		if event.Kind == types.EventLostStock {
			// Informational only, never routed to subscribers.
			continue
		}
		for _, sub := range subs {
			if !Matches(sub, event, effectiveZip) {
				continue
			}
			receipts = append(receipts, d.deliver(ctx, sub.UserID, event, d.channelsFor(event.Kind, sub.Channels))...)
		}
	}
	return receipts
}

// deliver sends one event to one recipient across the given channels,
// holding the recipient's stripe lock so deliveries arrive in order.
func (d *Dispatcher) deliver(ctx context.Context, recipient string, event types.Event, channels []Channel) []Receipt {
	if len(channels) == 0 {
		return nil
	}

	lock := &d.recipientLocks[stripeFor(recipient)]
	lock.Lock()
	defer lock.Unlock()

	kind := string(event.Kind)
	if !d.deduper.ShouldSend(ctx, recipient, event.ProductKey, kind) {
		dedupedTotal.Inc()
		return []Receipt{{
			Recipient:  recipient,
			ProductKey: event.ProductKey,
			Kind:       event.Kind,
			Deduped:    true,
		}}
	}

	receipts := make([]Receipt, 0, len(channels))
	for _, ch := range channels {
		res := ch.Send(ctx, recipient, event)
		receipt := Receipt{
			Recipient:  recipient,
			Channel:    ch.Name(),
			ProductKey: event.ProductKey,
			Kind:       event.Kind,
			Delivered:  res.Delivered,
			DeliveryID: res.ID,
			Reason:     res.Reason,
		}
		if res.Delivered {
			sentTotal.WithLabelValues(ch.Name()).Inc()
			if err := d.deduper.MarkSent(ctx, recipient, event.ProductKey, kind, ch.Name()); err != nil {
				d.logger.Error().Err(err).Str("channel", ch.Name()).
					Str("product_key", event.ProductKey).Msg("Error recording notification")
			}
		} else {
			failedTotal.WithLabelValues(ch.Name()).Inc()
			d.logFailure(recipient, ch.Name(), event, res.Reason)
		}
		receipts = append(receipts, receipt)
	}
	return receipts
}

// channelsFor selects channels that accept the kind, narrowed to the
// subscription's channel list when one is set.
func (d *Dispatcher) channelsFor(kind types.EventKind, names []string) []Channel {
	var out []Channel
	for _, ch := range d.channels {
		if !supportsKind(ch, kind) {
			continue
		}
		if len(names) > 0 && !containsFold(names, ch.Name()) {
			continue
		}
		out = append(out, ch)
	}
	return out
}

// logFailure reports a failed send. Broadcast failures hit every subscriber
// at once, so they are throttled to one log line per channel per interval.
func (d *Dispatcher) logFailure(recipient, channel string, event types.Event, reason string) {
	if recipient != BroadcastRecipient {
		d.logger.Warn().Str("channel", channel).Str("recipient", recipient).
			Str("product_key", event.ProductKey).Str("reason", reason).
			Msg("Notification delivery failed")
		return
	}

	d.mu.Lock()
	last, seen := d.lastFailLog[channel]
	now := time.Now()
	throttled := seen && now.Sub(last) < d.logInterval
	if !throttled {
		d.lastFailLog[channel] = now
	}
	d.mu.Unlock()

	if !throttled {
		d.logger.Warn().Str("channel", channel).Str("product_key", event.ProductKey).
			Str("reason", reason).Msg("Broadcast delivery failed")
	}
}

// Matches reports whether a subscription selects the event. item_match hits
// on canonical-key equality or a case-insensitive product-name substring;
// new_in_stock additionally requires notify_on_stock and the target price
// (when set) to be met; price_changed requires a met target price.
func Matches(sub database.Subscription, event types.Event, effectiveZip string) bool {
	if sub.ZipScope != nil && *sub.ZipScope != "" && !strings.EqualFold(*sub.ZipScope, effectiveZip) {
		return false
	}
	if !itemMatches(sub.ItemMatch, event) {
		return false
	}

	switch event.Kind {
	case types.EventNewInStock:
		if !sub.NotifyOnStock {
			return false
		}
		// An unknown price never blocks a restock alert.
		if sub.TargetPrice != nil && event.Price != nil && *event.Price > *sub.TargetPrice {
			return false
		}
		return true
	case types.EventPriceChanged:
		return sub.TargetPrice != nil && event.Price != nil && *event.Price <= *sub.TargetPrice
	default:
		return false
	}
}

func itemMatches(match string, event types.Event) bool {
	if match == event.ProductKey {
		return true
	}
	return strings.Contains(strings.ToLower(event.ProductName), strings.ToLower(match))
}

func containsFold(names []string, name string) bool {
	for _, n := range names {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}

func stripeFor(recipient string) int {
	h := fnv.New32a()
	h.Write([]byte(recipient)) //nolint:errcheck
	return int(h.Sum32() % recipientStripes)
}
