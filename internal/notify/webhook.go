package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stockpulse/stock-monitor/internal/pkg/cuid2"
	"github.com/stockpulse/stock-monitor/internal/retry"
	"github.com/stockpulse/stock-monitor/internal/types"
)

const (
	signatureHeader = "X-StockMonitor-Signature"
	eventHeader     = "X-StockMonitor-Event"
	deliveryHeader  = "X-StockMonitor-Delivery"

	webhookTimeout = 10 * time.Second
)

// WebhookChannel POSTs event payloads to the configured endpoints. Bodies
// are signed with HMAC-SHA256 so receivers can verify the origin.
type WebhookChannel struct {
	urls   []string
	secret string
	client *http.Client
	policy retry.Policy
	logger zerolog.Logger
}

// NewWebhookChannel builds a webhook channel for the given endpoints. The
// secret may be empty, in which case no signature header is attached.
func NewWebhookChannel(urls []string, secret string) *WebhookChannel {
	return &WebhookChannel{
		urls:   urls,
		secret: secret,
		client: &http.Client{Timeout: webhookTimeout},
		policy: retry.Policy{
			MaxAttempts:   3,
			BaseDelay:     500 * time.Millisecond,
			MaxDelay:      5 * time.Second,
			BackoffFactor: 2.0,
			JitterRatio:   0.25,
		},
		logger: log.With().Str("component", "notify-webhook").Logger(),
	}
}

func (c *WebhookChannel) Name() string { return "webhook" }

// Kinds excludes lost_stock: receivers care about buy windows opening and
// prices moving, not closings.
func (c *WebhookChannel) Kinds() []types.EventKind {
	return []types.EventKind{types.EventNewInStock, types.EventPriceChanged}
}

// WebhookPayload is the wire envelope around one event. Receivers decode
// exactly this shape.
type WebhookPayload struct {
	DeliveryID string      `json:"deliveryId" jsonschema:"required"`
	Recipient  string      `json:"recipient" jsonschema:"required"`
	Event      types.Event `json:"event" jsonschema:"required"`
}

func (c *WebhookChannel) Send(ctx context.Context, recipient string, event types.Event) DeliveryResult {
	if len(c.urls) == 0 {
		return Failed("no webhook endpoints configured", false)
	}

	deliveryID := cuid2.NewID("dlv")
	body, err := json.Marshal(WebhookPayload{
		DeliveryID: deliveryID,
		Recipient:  recipient,
		Event:      event,
	})
	if err != nil {
		return Failed(fmt.Sprintf("encode payload: %v", err), false)
	}

	// All endpoints must accept the delivery for it to count as sent;
	// otherwise the dedup window would swallow the retry a partial
	// failure deserves.
	for _, url := range c.urls {
		if err := c.post(ctx, url, string(event.Kind), deliveryID, body); err != nil {
			c.logger.Warn().Err(err).Str("url", url).Str("product_key", event.ProductKey).
				Msg("Webhook delivery failed")
			return Failed(err.Error(), types.IsRetryable(err))
		}
	}
	return Delivered(deliveryID)
}

func (c *WebhookChannel) post(ctx context.Context, url, kind, deliveryID string, body []byte) error {
	return retry.Do(ctx, c.policy, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("error building webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(eventHeader, kind)
		req.Header.Set(deliveryHeader, deliveryID)
		if c.secret != "" {
			req.Header.Set(signatureHeader, "sha256="+Sign(c.secret, body))
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return &types.TransientNetworkError{Err: err}
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusTooManyRequests:
			return &types.RateLimitedError{Host: req.Host}
		case resp.StatusCode >= 500:
			return &types.TransientNetworkError{Err: fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)}
		default:
			return fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
		}
	})
}

// Sign computes the hex HMAC-SHA256 of body under the shared secret.
// Receivers recompute it to authenticate deliveries.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received signature header value ("sha256=<hex>")
// against the body in constant time.
func VerifySignature(secret string, body []byte, header string) bool {
	const prefix = "sha256="
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}
	expected := Sign(secret, body)
	return hmac.Equal([]byte(expected), []byte(header[len(prefix):]))
}
