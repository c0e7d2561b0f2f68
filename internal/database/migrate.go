package database

import (
	"context"
	"fmt"
)

// migrations are executed in order on every startup. Each statement is
// idempotent, so a partially applied schema heals itself on the next run.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS task_groups (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		enabled INTEGER NOT NULL DEFAULT 1,
		default_interval_seconds INTEGER NOT NULL,
		default_zip_code TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL REFERENCES task_groups(id),
		name TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		retailer TEXT NOT NULL,
		query TEXT NOT NULL,
		zip_code TEXT,
		interval_seconds INTEGER,
		last_run_at DATETIME,
		last_status TEXT NOT NULL DEFAULT 'idle',
		last_error TEXT,
		last_in_stock_keys_json TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_group_id ON tasks(group_id)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_enabled ON tasks(enabled)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_last_run_at ON tasks(last_run_at)`,

	`CREATE TABLE IF NOT EXISTS products (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		set_name TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		retailer TEXT NOT NULL,
		url TEXT,
		canonical_key TEXT NOT NULL,
		UNIQUE(set_name, name, retailer, url)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_products_set_retailer ON products(set_name, retailer)`,
	`CREATE INDEX IF NOT EXISTS idx_products_canonical_key ON products(canonical_key)`,

	`CREATE TABLE IF NOT EXISTS prices (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		product_id INTEGER NOT NULL REFERENCES products(id),
		listed_price REAL NOT NULL,
		market_price REAL,
		delta_pct REAL,
		confidence REAL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_prices_product_created ON prices(product_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS prices_archive (
		id INTEGER PRIMARY KEY,
		product_id INTEGER NOT NULL,
		listed_price REAL NOT NULL,
		market_price REAL,
		delta_pct REAL,
		confidence REAL,
		created_at DATETIME NOT NULL,
		archived_at DATETIME NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS subscriptions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		item_match TEXT NOT NULL,
		target_price REAL,
		notify_on_stock INTEGER NOT NULL DEFAULT 1,
		channels_json TEXT NOT NULL DEFAULT '[]',
		zip_scope TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_subscriptions_user ON subscriptions(user_id)`,

	`CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		recipient TEXT NOT NULL,
		product_key TEXT NOT NULL,
		event_kind TEXT NOT NULL,
		channel TEXT NOT NULL,
		sent_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_dedup
		ON notifications(recipient, product_key, event_kind, sent_at)`,

	`CREATE TABLE IF NOT EXISTS proxies (
		id TEXT PRIMARY KEY,
		url TEXT NOT NULL UNIQUE,
		blocked_until DATETIME,
		success_count INTEGER NOT NULL DEFAULT 0,
		failure_count INTEGER NOT NULL DEFAULT 0,
		last_used_at DATETIME,
		updated_at DATETIME NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS host_blocks (
		host TEXT NOT NULL,
		proxy_id TEXT NOT NULL DEFAULT '',
		blocked_at DATETIME NOT NULL,
		blocked_until DATETIME NOT NULL,
		reason TEXT NOT NULL,
		PRIMARY KEY (host, proxy_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_host_blocks_until ON host_blocks(blocked_until)`,
}

// Migrate applies the schema. Safe to call on every startup.
func Migrate(ctx context.Context) error {
	db := Handle()
	if db == nil {
		return fmt.Errorf("database not initialized")
	}
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("error applying migration %d: %w", i+1, err)
		}
	}
	return nil
}
