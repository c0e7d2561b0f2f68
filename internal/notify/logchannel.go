package notify

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stockpulse/stock-monitor/internal/pkg/cuid2"
	"github.com/stockpulse/stock-monitor/internal/types"
)

// LogChannel writes events to the structured log. It is the only channel
// that accepts lost_stock, which is operationally interesting but too noisy
// to push to subscribers.
type LogChannel struct {
	logger zerolog.Logger
}

// NewLogChannel builds the log-backed channel.
func NewLogChannel() *LogChannel {
	return &LogChannel{
		logger: log.With().Str("component", "notify-log").Logger(),
	}
}

func (c *LogChannel) Name() string { return "log" }

func (c *LogChannel) Kinds() []types.EventKind {
	return []types.EventKind{types.EventNewInStock, types.EventLostStock, types.EventPriceChanged}
}

func (c *LogChannel) Send(_ context.Context, recipient string, event types.Event) DeliveryResult {
	evt := c.logger.Info().
		Str("kind", string(event.Kind)).
		Str("recipient", recipient).
		Str("retailer", event.Retailer).
		Str("product_key", event.ProductKey).
		Str("product", event.ProductName).
		Time("observed_at", event.ObservedAt)
	if event.Price != nil {
		evt = evt.Float64("price", *event.Price)
	}
	if event.DeltaPct != nil {
		evt = evt.Float64("delta_pct", *event.DeltaPct)
	}
	if event.URL != nil {
		evt = evt.Str("url", *event.URL)
	}
	evt.Msg("Stock event")
	return Delivered(cuid2.NewID("dlv"))
}
