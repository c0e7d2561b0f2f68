package database

import (
	"context"
	"time"

	"github.com/stockpulse/stock-monitor/internal/types"
)

// ArchivePrices moves snapshot rows older than the cutoff into
// prices_archive. Live snapshot rows are copied then deleted in one
// transaction, so readers of the prices table only ever observe appends.
func ArchivePrices(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := acquireScope(ctx)
	defer cancel()

	tx, err := Handle().BeginTx(ctx, nil)
	if err != nil {
		return 0, &types.StorageError{Op: "begin archive tx", Err: err}
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO prices_archive (id, product_id, listed_price, market_price, delta_pct, confidence, created_at, archived_at)
		SELECT id, product_id, listed_price, market_price, delta_pct, confidence, created_at, ?
		FROM prices WHERE created_at < ?`, now, cutoff.UTC())
	if err != nil {
		return 0, &types.StorageError{Op: "copy to archive", Err: err}
	}
	moved, _ := res.RowsAffected()

	if moved > 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM prices WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return 0, &types.StorageError{Op: "trim archived prices", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, &types.StorageError{Op: "commit archive tx", Err: err}
	}
	return moved, nil
}
