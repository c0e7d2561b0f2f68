package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stockpulse/stock-monitor/internal/pkg/cuid2"
	"github.com/stockpulse/stock-monitor/internal/types"
)

// CreateSubscription inserts a watchlist entry.
func CreateSubscription(ctx context.Context, sub *Subscription) error {
	if sub.UserID == "" || sub.ItemMatch == "" {
		return fmt.Errorf("subscription user_id and item_match must not be empty")
	}

	ctx, cancel := acquireScope(ctx)
	defer cancel()

	now := time.Now().UTC()
	if sub.ID == "" {
		sub.ID = cuid2.NewID("sub")
	}
	sub.CreatedAt = now
	sub.UpdatedAt = now
	if sub.Channels == nil {
		sub.Channels = []string{}
	}
	channelsJSON, err := json.Marshal(sub.Channels)
	if err != nil {
		return &types.StorageError{Op: "encode channels", Err: err}
	}

	_, err = Handle().ExecContext(ctx, `
		INSERT INTO subscriptions (id, user_id, item_match, target_price, notify_on_stock, channels_json, zip_scope, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.UserID, sub.ItemMatch, sub.TargetPrice, sub.NotifyOnStock,
		string(channelsJSON), sub.ZipScope, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		return &types.StorageError{Op: "create subscription", Err: err}
	}
	return nil
}

// ListSubscriptions returns all watchlist entries.
func ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	ctx, cancel := acquireScope(ctx)
	defer cancel()

	rows, err := Handle().QueryContext(ctx, `
		SELECT id, user_id, item_match, target_price, notify_on_stock, channels_json, zip_scope, created_at, updated_at
		FROM subscriptions ORDER BY created_at`)
	if err != nil {
		return nil, &types.StorageError{Op: "list subscriptions", Err: err}
	}
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		var s Subscription
		var target sql.NullFloat64
		var zipScope sql.NullString
		var channelsJSON string
		if err := rows.Scan(&s.ID, &s.UserID, &s.ItemMatch, &target, &s.NotifyOnStock,
			&channelsJSON, &zipScope, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, &types.StorageError{Op: "scan subscription", Err: err}
		}
		if target.Valid {
			s.TargetPrice = &target.Float64
		}
		if zipScope.Valid {
			s.ZipScope = &zipScope.String
		}
		if err := json.Unmarshal([]byte(channelsJSON), &s.Channels); err != nil {
			return nil, fmt.Errorf("error decoding channels for subscription %s: %w", s.ID, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.StorageError{Op: "list subscriptions", Err: err}
	}
	return out, nil
}

// DeleteSubscription removes one watchlist entry.
func DeleteSubscription(ctx context.Context, id string) error {
	ctx, cancel := acquireScope(ctx)
	defer cancel()

	res, err := Handle().ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ?`, id)
	if err != nil {
		return &types.StorageError{Op: "delete subscription", Err: err}
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("subscription %s not found", id)
	}
	return nil
}
