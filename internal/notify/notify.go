// Package notify fans stock-transition events out to delivery channels. It
// matches events against subscriber watchlists, suppresses repeats inside
// the dedup window, and keeps one failing channel from blocking the rest.
package notify

import (
	"context"

	"github.com/stockpulse/stock-monitor/internal/types"
)

// BroadcastRecipient is the dedup recipient key for deliveries that are not
// addressed to a specific subscriber.
const BroadcastRecipient = "broadcast"

// Channel delivers one event payload to one recipient. Implementations are
// called serially per recipient and must not retry beyond their own policy.
type Channel interface {
	// Name identifies the channel in records, metrics and logs.
	Name() string
	// Kinds lists the event kinds this channel accepts. Events of other
	// kinds are never handed to it.
	Kinds() []types.EventKind
	Send(ctx context.Context, recipient string, event types.Event) DeliveryResult
}

// DeliveryResult is the outcome of one channel send: delivered with a
// channel-assigned ID, or failed with a reason.
type DeliveryResult struct {
	Delivered bool
	ID        string
	Reason    string
	Retryable bool
}

// Delivered builds a successful result.
func Delivered(id string) DeliveryResult {
	return DeliveryResult{Delivered: true, ID: id}
}

// Failed builds a failed result.
func Failed(reason string, retryable bool) DeliveryResult {
	return DeliveryResult{Reason: reason, Retryable: retryable}
}

// Receipt records what happened to one (event, recipient, channel) triple
// during EmitAll. Suppressed duplicates carry Deduped=true and no channel.
type Receipt struct {
	Recipient  string          `json:"recipient"`
	Channel    string          `json:"channel,omitempty"`
	ProductKey string          `json:"product_key"`
	Kind       types.EventKind `json:"kind"`
	Delivered  bool            `json:"delivered"`
	Deduped    bool            `json:"deduped"`
	DeliveryID string          `json:"delivery_id,omitempty"`
	Reason     string          `json:"reason,omitempty"`
}

func supportsKind(ch Channel, kind types.EventKind) bool {
	for _, k := range ch.Kinds() {
		if k == kind {
			return true
		}
	}
	return false
}
