package types

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Classification is the blocking-detector verdict for one scan response.
type Classification string

const (
	ClassOK          Classification = "ok"
	ClassOKEmpty     Classification = "ok_empty"
	ClassRateLimited Classification = "rate_limited"
	ClassForbidden   Classification = "forbidden"
	ClassChallenge   Classification = "challenge"
	ClassServerError Classification = "server_error"
	ClassTimeout     Classification = "timeout"
)

// Healthy reports whether the classification allows parsing the response.
func (c Classification) Healthy() bool {
	return c == ClassOK || c == ClassOKEmpty
}

// TaskStatus represents the lifecycle state of a scan task.
type TaskStatus string

const (
	TaskStatusIdle    TaskStatus = "idle"
	TaskStatusRunning TaskStatus = "running"
	TaskStatusOK      TaskStatus = "ok"
	TaskStatusError   TaskStatus = "error"
)

// EventKind represents the kind of a stock-transition event.
type EventKind string

const (
	EventNewInStock   EventKind = "new_in_stock"
	EventLostStock    EventKind = "lost_stock"
	EventPriceChanged EventKind = "price_changed"
)

// BlockReason explains why a host (or host+proxy) was quarantined.
type BlockReason string

const (
	BlockReasonForbidden      BlockReason = "forbidden"
	BlockReasonChallenge      BlockReason = "challenge"
	BlockReasonRateLimited    BlockReason = "rate_limited"
	BlockReasonTransientBurst BlockReason = "transient_burst"
)

// ProxyOutcome is reported back to the proxy pool on release.
type ProxyOutcome string

const (
	ProxyOutcomeSuccess   ProxyOutcome = "success"
	ProxyOutcomeBlocked   ProxyOutcome = "blocked"
	ProxyOutcomeTransient ProxyOutcome = "transient_error"
)

// Product is a normalized scan observation for a single listing.
type Product struct {
	Retailer        string     `json:"retailer"`
	SetName         string     `json:"setName,omitempty"`
	Name            string     `json:"name"`
	SKU             *string    `json:"sku,omitempty"`
	URL             *string    `json:"url,omitempty"`
	Price           *float64   `json:"price,omitempty"`
	MarketPrice     *float64   `json:"marketPrice,omitempty"`
	Confidence      *float64   `json:"confidence,omitempty"`
	InStock         bool       `json:"inStock"`
	StockStatusText string     `json:"stockStatusText,omitempty"`
	ObservedAt      time.Time  `json:"observedAt"`
}

// CanonicalKey derives the stable identity of a listing:
// lowercase(retailer) | (sku OR url OR name). The key is what transition
// detection and notification dedup operate on, so it must not change
// between scans of the same listing.
func (p Product) CanonicalKey() string {
	ident := p.Name
	if p.SKU != nil && *p.SKU != "" {
		ident = *p.SKU
	} else if p.URL != nil && *p.URL != "" {
		ident = *p.URL
	}
	return strings.ToLower(strings.TrimSpace(p.Retailer)) + "|" + strings.TrimSpace(ident)
}

// Event is a stock-transition event emitted by the transition engine.
type Event struct {
	Kind         EventKind  `json:"kind" jsonschema:"required"`
	Retailer     string     `json:"retailer" jsonschema:"required"`
	ProductKey   string     `json:"productKey" jsonschema:"required"`
	ProductName  string     `json:"productName" jsonschema:"required"`
	URL          *string    `json:"url,omitempty"`
	Price        *float64   `json:"price,omitempty"`
	MarketPrice  *float64   `json:"marketPrice,omitempty"`
	DeltaPct     *float64   `json:"deltaPct,omitempty"`
	ObservedAt   time.Time  `json:"observedAt" jsonschema:"required"`
	SourceTaskID string     `json:"sourceTaskId" jsonschema:"required"`
}

// FetchResult carries one HTTP exchange (or its failure) into classification.
// Err is non-nil when no response was obtained at all.
type FetchResult struct {
	StatusCode int
	Body       []byte
	Header     http.Header
	Err        error
}

// RetryAfter parses the Retry-After header as a delay. Returns 0 when the
// header is absent or unparseable.
func (r *FetchResult) RetryAfter() time.Duration {
	if r == nil || r.Header == nil {
		return 0
	}
	raw := r.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// StringPtr returns a pointer to the given string
func StringPtr(s string) *string {
	return &s
}

// Float64Ptr returns a pointer to the given float64
func Float64Ptr(f float64) *float64 {
	return &f
}

// TimePtr returns a pointer to the given time
func TimePtr(t time.Time) *time.Time {
	return &t
}
