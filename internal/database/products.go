package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/stockpulse/stock-monitor/internal/types"
)

// UpsertProduct resolves a normalized product to its persisted row ID,
// inserting on first sight. Unique-constraint races are swallowed: losing
// the race just means the row already exists.
func UpsertProduct(ctx context.Context, p types.Product) (int64, error) {
	ctx, cancel := acquireScope(ctx)
	defer cancel()

	return upsertProductTx(ctx, Handle(), p)
}

// execer covers *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func upsertProductTx(ctx context.Context, db execer, p types.Product) (int64, error) {
	key := p.CanonicalKey()

	var id int64
	err := db.QueryRowContext(ctx, `
		SELECT id FROM products
		WHERE set_name = ? AND name = ? AND retailer = ? AND url IS ?`,
		p.SetName, p.Name, p.Retailer, p.URL,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, &types.StorageError{Op: "lookup product", Err: err}
	}

	// INSERT OR IGNORE swallows a concurrent insert of the same tuple.
	if _, err := db.ExecContext(ctx, `
		INSERT OR IGNORE INTO products (set_name, name, retailer, url, canonical_key)
		VALUES (?, ?, ?, ?, ?)`,
		p.SetName, p.Name, p.Retailer, p.URL, key,
	); err != nil {
		return 0, &types.StorageError{Op: "insert product", Err: err}
	}

	err = db.QueryRowContext(ctx, `
		SELECT id FROM products
		WHERE set_name = ? AND name = ? AND retailer = ? AND url IS ?`,
		p.SetName, p.Name, p.Retailer, p.URL,
	).Scan(&id)
	if err != nil {
		return 0, &types.StorageError{Op: "reread product", Err: err}
	}
	return id, nil
}

// RecordSnapshots appends one PriceSnapshot per priced product in a single
// transaction. Rows are never updated afterwards.
func RecordSnapshots(ctx context.Context, products []types.Product) (int, error) {
	priced := make([]types.Product, 0, len(products))
	for _, p := range products {
		if p.Price != nil {
			priced = append(priced, p)
		}
	}
	if len(priced) == 0 {
		return 0, nil
	}

	ctx, cancel := acquireScope(ctx)
	defer cancel()

	tx, err := Handle().BeginTx(ctx, nil)
	if err != nil {
		return 0, &types.StorageError{Op: "begin snapshot tx", Err: err}
	}
	defer tx.Rollback()

	written := 0
	for _, p := range priced {
		productID, err := upsertProductTx(ctx, tx, p)
		if err != nil {
			return 0, err
		}

		var deltaPct *float64
		if p.MarketPrice != nil && *p.MarketPrice > 0 {
			d := (*p.Price - *p.MarketPrice) / *p.MarketPrice
			deltaPct = &d
		}

		createdAt := p.ObservedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO prices (product_id, listed_price, market_price, delta_pct, confidence, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			productID, *p.Price, p.MarketPrice, deltaPct, p.Confidence, createdAt.UTC(),
		); err != nil {
			return 0, &types.StorageError{Op: "insert price snapshot", Err: err}
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, &types.StorageError{Op: "commit snapshot tx", Err: err}
	}
	return written, nil
}

// LatestSnapshot returns the most recent snapshot for a canonical key, or
// nil when the product has never been priced.
func LatestSnapshot(ctx context.Context, productKey string) (*PriceSnapshot, error) {
	ctx, cancel := acquireScope(ctx)
	defer cancel()

	var s PriceSnapshot
	var market, delta, conf sql.NullFloat64
	err := Handle().QueryRowContext(ctx, `
		SELECT pr.id, pr.product_id, p.canonical_key, pr.listed_price, pr.market_price, pr.delta_pct, pr.confidence, pr.created_at
		FROM prices pr
		JOIN products p ON p.id = pr.product_id
		WHERE p.canonical_key = ?
		ORDER BY pr.created_at DESC, pr.id DESC
		LIMIT 1`, productKey,
	).Scan(&s.ID, &s.ProductID, &s.ProductKey, &s.ListedPrice, &market, &delta, &conf, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &types.StorageError{Op: "latest snapshot", Err: err}
	}
	if market.Valid {
		s.MarketPrice = &market.Float64
	}
	if delta.Valid {
		s.DeltaPct = &delta.Float64
	}
	if conf.Valid {
		s.Confidence = &conf.Float64
	}
	return &s, nil
}

// ListSnapshots returns snapshot history for a canonical key, newest first.
func ListSnapshots(ctx context.Context, productKey string, limit int) ([]PriceSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}

	ctx, cancel := acquireScope(ctx)
	defer cancel()

	rows, err := Handle().QueryContext(ctx, `
		SELECT pr.id, pr.product_id, p.canonical_key, pr.listed_price, pr.market_price, pr.delta_pct, pr.confidence, pr.created_at
		FROM prices pr
		JOIN products p ON p.id = pr.product_id
		WHERE p.canonical_key = ?
		ORDER BY pr.created_at DESC, pr.id DESC
		LIMIT ?`, productKey, limit)
	if err != nil {
		return nil, &types.StorageError{Op: "list snapshots", Err: err}
	}
	defer rows.Close()

	return collectSnapshots(rows)
}

// SnapshotExport is one row of the price-history export join.
type SnapshotExport struct {
	Retailer    string
	SetName     string
	ProductName string
	ProductKey  string
	URL         *string
	ListedPrice float64
	MarketPrice *float64
	DeltaPct    *float64
	Confidence  *float64
	CreatedAt   time.Time
}

// ListSnapshotsForExport streams the full price history joined to product
// identity, grouped by retailer then time.
func ListSnapshotsForExport(ctx context.Context, since time.Time) ([]SnapshotExport, error) {
	rows, err := Handle().QueryContext(ctx, `
		SELECT p.retailer, p.set_name, p.name, p.canonical_key, p.url,
		       pr.listed_price, pr.market_price, pr.delta_pct, pr.confidence, pr.created_at
		FROM prices pr
		JOIN products p ON p.id = pr.product_id
		WHERE pr.created_at >= ?
		ORDER BY p.retailer, pr.created_at`, since.UTC())
	if err != nil {
		return nil, &types.StorageError{Op: "export snapshots", Err: err}
	}
	defer rows.Close()

	var out []SnapshotExport
	for rows.Next() {
		var e SnapshotExport
		var url sql.NullString
		var market, delta, conf sql.NullFloat64
		if err := rows.Scan(&e.Retailer, &e.SetName, &e.ProductName, &e.ProductKey, &url,
			&e.ListedPrice, &market, &delta, &conf, &e.CreatedAt); err != nil {
			return nil, &types.StorageError{Op: "scan export row", Err: err}
		}
		if url.Valid {
			e.URL = &url.String
		}
		if market.Valid {
			e.MarketPrice = &market.Float64
		}
		if delta.Valid {
			e.DeltaPct = &delta.Float64
		}
		if conf.Valid {
			e.Confidence = &conf.Float64
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.StorageError{Op: "export snapshots", Err: err}
	}
	return out, nil
}

// CountSnapshots reports the total number of live snapshot rows.
func CountSnapshots(ctx context.Context) (int64, error) {
	ctx, cancel := acquireScope(ctx)
	defer cancel()

	var n int64
	if err := Handle().QueryRowContext(ctx, `SELECT COUNT(*) FROM prices`).Scan(&n); err != nil {
		return 0, &types.StorageError{Op: "count snapshots", Err: err}
	}
	return n, nil
}

func collectSnapshots(rows *sql.Rows) ([]PriceSnapshot, error) {
	var out []PriceSnapshot
	for rows.Next() {
		var s PriceSnapshot
		var market, delta, conf sql.NullFloat64
		if err := rows.Scan(&s.ID, &s.ProductID, &s.ProductKey, &s.ListedPrice, &market, &delta, &conf, &s.CreatedAt); err != nil {
			return nil, &types.StorageError{Op: "scan snapshot", Err: err}
		}
		if market.Valid {
			s.MarketPrice = &market.Float64
		}
		if delta.Valid {
			s.DeltaPct = &delta.Float64
		}
		if conf.Valid {
			s.Confidence = &conf.Float64
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.StorageError{Op: "list snapshots", Err: err}
	}
	return out, nil
}
