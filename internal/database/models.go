package database

import (
	"time"

	"github.com/stockpulse/stock-monitor/internal/types"
)

// TaskGroup is a named container providing defaults for its tasks
type TaskGroup struct {
	ID                     string    `json:"id"`                       // CUID2, tg_ prefix
	Name                   string    `json:"name"`                     // Unique, non-empty
	Enabled                bool      `json:"enabled"`                  // Disabling a group disables its tasks
	DefaultIntervalSeconds int       `json:"default_interval_seconds"` // Fallback scan interval
	DefaultZipCode         string    `json:"default_zip_code"`         // Fallback locale key
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// Task is one recurring scan job
type Task struct {
	ID              string           `json:"id"`       // CUID2, task_ prefix
	GroupID         string           `json:"group_id"` // FK to task_groups.id
	Name            string           `json:"name"`
	Enabled         bool             `json:"enabled"`
	Retailer        string           `json:"retailer"` // Scanner registry key
	Query           string           `json:"query"`    // Opaque search term
	ZipCode         *string          `json:"zip_code"`         // Override, else group default
	IntervalSeconds *int             `json:"interval_seconds"` // Override, else group default
	LastRunAt       *time.Time       `json:"last_run_at"`
	LastStatus      types.TaskStatus `json:"last_status"`
	LastError       *string          `json:"last_error"`
	LastInStockKeys []string         `json:"last_in_stock_keys"` // Canonical keys from prior successful scan
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`

	// Group defaults, populated on joined reads
	GroupEnabled         bool   `json:"group_enabled"`
	GroupIntervalSeconds int    `json:"group_interval_seconds"`
	GroupZipCode         string `json:"group_zip_code"`
}

// EffectiveInterval resolves the task interval override against the group
// default.
func (t *Task) EffectiveInterval() time.Duration {
	if t.IntervalSeconds != nil && *t.IntervalSeconds > 0 {
		return time.Duration(*t.IntervalSeconds) * time.Second
	}
	return time.Duration(t.GroupIntervalSeconds) * time.Second
}

// EffectiveZip resolves the zip override against the group default, then
// the given fallback.
func (t *Task) EffectiveZip(fallback string) string {
	if t.ZipCode != nil && *t.ZipCode != "" {
		return *t.ZipCode
	}
	if t.GroupZipCode != "" {
		return t.GroupZipCode
	}
	return fallback
}

// EffectivelyEnabled is task.enabled AND group.enabled.
func (t *Task) EffectivelyEnabled() bool {
	return t.Enabled && t.GroupEnabled
}

// Due reports whether the task should run at the given instant. Never-run
// tasks are always due.
func (t *Task) Due(now time.Time) bool {
	if t.LastRunAt == nil {
		return true
	}
	return now.Sub(*t.LastRunAt) >= t.EffectiveInterval()
}

// ProductRow is the persisted identity of a listing
type ProductRow struct {
	ID           int64   `json:"id"`
	SetName      string  `json:"set_name"`
	Name         string  `json:"name"`
	Retailer     string  `json:"retailer"`
	URL          *string `json:"url"`
	CanonicalKey string  `json:"canonical_key"`
}

// PriceSnapshot is an append-only price observation
type PriceSnapshot struct {
	ID          int64     `json:"id"`
	ProductID   int64     `json:"product_id"`
	ProductKey  string    `json:"product_key"`
	ListedPrice float64   `json:"listed_price"`
	MarketPrice *float64  `json:"market_price"`
	DeltaPct    *float64  `json:"delta_pct"`
	Confidence  *float64  `json:"confidence"`
	CreatedAt   time.Time `json:"created_at"`
}

// Subscription is a user watchlist entry
type Subscription struct {
	ID            string    `json:"id"`      // CUID2, sub_ prefix
	UserID        string    `json:"user_id"` // Opaque subscriber reference
	ItemMatch     string    `json:"item_match"`
	TargetPrice   *float64  `json:"target_price"`
	NotifyOnStock bool      `json:"notify_on_stock"`
	Channels      []string  `json:"channels"`  // Channel names, empty = all
	ZipScope      *string   `json:"zip_scope"` // Restrict to a locale
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NotificationRecord is the durable dedup record behind the LRU cache
type NotificationRecord struct {
	ID         string    `json:"id"`        // CUID2, ntf_ prefix
	Recipient  string    `json:"recipient"` // Subscriber ID or "broadcast"
	ProductKey string    `json:"product_key"`
	EventKind  string    `json:"event_kind"`
	Channel    string    `json:"channel"`
	SentAt     time.Time `json:"sent_at"`
}

// ProxyRow is the persisted operational state of one proxy endpoint
type ProxyRow struct {
	ID           string     `json:"id"` // CUID2, prx_ prefix
	URL          string     `json:"url"`
	BlockedUntil *time.Time `json:"blocked_until"`
	SuccessCount int        `json:"success_count"`
	FailureCount int        `json:"failure_count"`
	LastUsedAt   *time.Time `json:"last_used_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// HostBlock is a persisted (host, optional proxy) quarantine
type HostBlock struct {
	Host         string    `json:"host"`
	ProxyID      string    `json:"proxy_id"` // Empty for host-wide blocks
	BlockedAt    time.Time `json:"blocked_at"`
	BlockedUntil time.Time `json:"blocked_until"`
	Reason       string    `json:"reason"`
}
