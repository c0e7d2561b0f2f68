package database

import (
	"context"
	"time"

	"github.com/stockpulse/stock-monitor/internal/types"
)

// SaveHostBlock persists (or extends) a quarantine for a host, optionally
// scoped to a proxy. The empty proxy ID means the block is host-wide.
func SaveHostBlock(ctx context.Context, block HostBlock) error {
	ctx, cancel := acquireScope(ctx)
	defer cancel()

	_, err := Handle().ExecContext(ctx, `
		INSERT INTO host_blocks (host, proxy_id, blocked_at, blocked_until, reason)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(host, proxy_id) DO UPDATE SET
			blocked_at = excluded.blocked_at,
			blocked_until = excluded.blocked_until,
			reason = excluded.reason`,
		block.Host, block.ProxyID, block.BlockedAt.UTC(), block.BlockedUntil.UTC(), block.Reason)
	if err != nil {
		return &types.StorageError{Op: "save host block", Err: err}
	}
	return nil
}

// ListActiveHostBlocks returns blocks whose quarantine has not yet elapsed.
func ListActiveHostBlocks(ctx context.Context, now time.Time) ([]HostBlock, error) {
	ctx, cancel := acquireScope(ctx)
	defer cancel()

	rows, err := Handle().QueryContext(ctx, `
		SELECT host, proxy_id, blocked_at, blocked_until, reason
		FROM host_blocks
		WHERE blocked_until > ?
		ORDER BY host`, now.UTC())
	if err != nil {
		return nil, &types.StorageError{Op: "list host blocks", Err: err}
	}
	defer rows.Close()

	var out []HostBlock
	for rows.Next() {
		var b HostBlock
		if err := rows.Scan(&b.Host, &b.ProxyID, &b.BlockedAt, &b.BlockedUntil, &b.Reason); err != nil {
			return nil, &types.StorageError{Op: "scan host block", Err: err}
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.StorageError{Op: "list host blocks", Err: err}
	}
	return out, nil
}

// PurgeExpiredHostBlocks deletes rows whose quarantine elapsed before the
// given cutoff. Returns the number of rows removed.
func PurgeExpiredHostBlocks(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := acquireScope(ctx)
	defer cancel()

	res, err := Handle().ExecContext(ctx, `
		DELETE FROM host_blocks WHERE blocked_until <= ?`, cutoff.UTC())
	if err != nil {
		return 0, &types.StorageError{Op: "purge host blocks", Err: err}
	}
	return res.RowsAffected()
}
