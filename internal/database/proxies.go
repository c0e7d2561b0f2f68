package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/stockpulse/stock-monitor/internal/pkg/cuid2"
	"github.com/stockpulse/stock-monitor/internal/types"
)

// UpsertProxy registers a proxy endpoint by URL, returning the stored row.
// Re-registering an existing URL keeps its accumulated stats.
func UpsertProxy(ctx context.Context, url string) (*ProxyRow, error) {
	ctx, cancel := acquireScope(ctx)
	defer cancel()

	now := time.Now().UTC()
	_, err := Handle().ExecContext(ctx, `
		INSERT OR IGNORE INTO proxies (id, url, success_count, failure_count, updated_at)
		VALUES (?, ?, 0, 0, ?)`,
		cuid2.NewID("prx"), url, now)
	if err != nil {
		return nil, &types.StorageError{Op: "upsert proxy", Err: err}
	}

	return getProxyByURL(ctx, url)
}

func getProxyByURL(ctx context.Context, url string) (*ProxyRow, error) {
	var p ProxyRow
	var blocked, lastUsed sql.NullTime
	err := Handle().QueryRowContext(ctx, `
		SELECT id, url, blocked_until, success_count, failure_count, last_used_at, updated_at
		FROM proxies WHERE url = ?`, url,
	).Scan(&p.ID, &p.URL, &blocked, &p.SuccessCount, &p.FailureCount, &lastUsed, &p.UpdatedAt)
	if err != nil {
		return nil, &types.StorageError{Op: "get proxy", Err: err}
	}
	if blocked.Valid {
		utc := blocked.Time.UTC()
		p.BlockedUntil = &utc
	}
	if lastUsed.Valid {
		utc := lastUsed.Time.UTC()
		p.LastUsedAt = &utc
	}
	return &p, nil
}

// SaveProxyStats writes through the pool's in-memory accounting for one
// proxy.
func SaveProxyStats(ctx context.Context, p *ProxyRow) error {
	ctx, cancel := acquireScope(ctx)
	defer cancel()

	_, err := Handle().ExecContext(ctx, `
		UPDATE proxies
		SET blocked_until = ?, success_count = ?, failure_count = ?, last_used_at = ?, updated_at = ?
		WHERE id = ?`,
		p.BlockedUntil, p.SuccessCount, p.FailureCount, p.LastUsedAt, time.Now().UTC(), p.ID)
	if err != nil {
		return &types.StorageError{Op: "save proxy stats", Err: err}
	}
	return nil
}

// ListProxies returns all registered proxies.
func ListProxies(ctx context.Context) ([]ProxyRow, error) {
	ctx, cancel := acquireScope(ctx)
	defer cancel()

	rows, err := Handle().QueryContext(ctx, `
		SELECT id, url, blocked_until, success_count, failure_count, last_used_at, updated_at
		FROM proxies ORDER BY url`)
	if err != nil {
		return nil, &types.StorageError{Op: "list proxies", Err: err}
	}
	defer rows.Close()

	var out []ProxyRow
	for rows.Next() {
		var p ProxyRow
		var blocked, lastUsed sql.NullTime
		if err := rows.Scan(&p.ID, &p.URL, &blocked, &p.SuccessCount, &p.FailureCount, &lastUsed, &p.UpdatedAt); err != nil {
			return nil, &types.StorageError{Op: "scan proxy", Err: err}
		}
		if blocked.Valid {
			utc := blocked.Time.UTC()
			p.BlockedUntil = &utc
		}
		if lastUsed.Valid {
			utc := lastUsed.Time.UTC()
			p.LastUsedAt = &utc
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.StorageError{Op: "list proxies", Err: err}
	}
	return out, nil
}
