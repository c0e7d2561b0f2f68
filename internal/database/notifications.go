package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/stockpulse/stock-monitor/internal/pkg/cuid2"
	"github.com/stockpulse/stock-monitor/internal/types"
)

// RecordNotification persists a delivered notification. The row backs the
// in-memory dedup cache across restarts.
func RecordNotification(ctx context.Context, recipient, productKey, eventKind, channel string, sentAt time.Time) error {
	ctx, cancel := acquireScope(ctx)
	defer cancel()

	_, err := Handle().ExecContext(ctx, `
		INSERT INTO notifications (id, recipient, product_key, event_kind, channel, sent_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		cuid2.NewID("ntf"), recipient, productKey, eventKind, channel, sentAt.UTC())
	if err != nil {
		return &types.StorageError{Op: "record notification", Err: err}
	}
	return nil
}

// LastNotificationAt returns the most recent delivery time for a dedup key,
// or nil when none exists.
func LastNotificationAt(ctx context.Context, recipient, productKey, eventKind string) (*time.Time, error) {
	ctx, cancel := acquireScope(ctx)
	defer cancel()

	var sentAt time.Time
	err := Handle().QueryRowContext(ctx, `
		SELECT sent_at FROM notifications
		WHERE recipient = ? AND product_key = ? AND event_kind = ?
		ORDER BY sent_at DESC LIMIT 1`,
		recipient, productKey, eventKind,
	).Scan(&sentAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &types.StorageError{Op: "last notification", Err: err}
	}
	utc := sentAt.UTC()
	return &utc, nil
}

// ListNotifications returns recent deliveries, newest first.
func ListNotifications(ctx context.Context, limit int) ([]NotificationRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	ctx, cancel := acquireScope(ctx)
	defer cancel()

	rows, err := Handle().QueryContext(ctx, `
		SELECT id, recipient, product_key, event_kind, channel, sent_at
		FROM notifications ORDER BY sent_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, &types.StorageError{Op: "list notifications", Err: err}
	}
	defer rows.Close()

	var out []NotificationRecord
	for rows.Next() {
		var n NotificationRecord
		if err := rows.Scan(&n.ID, &n.Recipient, &n.ProductKey, &n.EventKind, &n.Channel, &n.SentAt); err != nil {
			return nil, &types.StorageError{Op: "scan notification", Err: err}
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.StorageError{Op: "list notifications", Err: err}
	}
	return out, nil
}

// PruneNotifications removes delivery records older than the cutoff. Entries
// past the dedup window carry no correctness weight, only audit value.
func PruneNotifications(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := acquireScope(ctx)
	defer cancel()

	res, err := Handle().ExecContext(ctx, `DELETE FROM notifications WHERE sent_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, &types.StorageError{Op: "prune notifications", Err: err}
	}
	return res.RowsAffected()
}
