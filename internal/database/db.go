package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var (
	handle         *sql.DB
	handleMu       sync.RWMutex
	handleOnce     sync.Once
	acquireTimeout time.Duration
)

// Options configures the embedded store.
type Options struct {
	// Path is the database file location. ":memory:" and "file:...?mode=memory"
	// are accepted for tests.
	Path string
	// MaxConnections bounds the connection pool.
	MaxConnections int
	// AcquireTimeout caps how long one store operation may wait for a
	// connection (and run).
	AcquireTimeout time.Duration
	// BusyTimeoutMs is handed to SQLite's busy handler.
	BusyTimeoutMs int
}

// Connect opens the embedded SQLite store (safe for concurrent use). WAL
// journaling with NORMAL synchronous durability lets readers proceed while a
// writer commits.
func Connect(ctx context.Context, opts Options) error {
	var initErr error
	handleOnce.Do(func() {
		if opts.MaxConnections < 1 {
			opts.MaxConnections = 8
		}
		// A pooled :memory: handle would open one private database per
		// connection, so collapse the pool to a single connection.
		if opts.Path == ":memory:" {
			opts.MaxConnections = 1
		}
		if opts.AcquireTimeout <= 0 {
			opts.AcquireTimeout = 10 * time.Second
		}
		if opts.BusyTimeoutMs <= 0 {
			opts.BusyTimeoutMs = 5000
		}

		if dir := filepath.Dir(opts.Path); dir != "" && dir != "." && opts.Path != ":memory:" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				initErr = fmt.Errorf("error creating database directory: %w", err)
				return
			}
		}

		dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=%d&_foreign_keys=on&_cache_size=1000",
			opts.Path, opts.BusyTimeoutMs)

		db, err := sql.Open("sqlite3", dsn)
		if err != nil {
			initErr = fmt.Errorf("error opening database: %w", err)
			return
		}

		db.SetMaxOpenConns(opts.MaxConnections)
		db.SetMaxIdleConns(opts.MaxConnections)
		db.SetConnMaxLifetime(0)

		if err := db.PingContext(ctx); err != nil {
			db.Close()
			initErr = fmt.Errorf("error connecting to database: %w", err)
			return
		}

		handleMu.Lock()
		handle = db
		acquireTimeout = opts.AcquireTimeout
		handleMu.Unlock()
	})

	if initErr != nil {
		handleOnce = sync.Once{} // reset on failure
		return initErr
	}
	return nil
}

// Close closes the database handle
func Close() {
	handleMu.Lock()
	defer handleMu.Unlock()
	if handle != nil {
		handle.Close()
		handle = nil
	}
	handleOnce = sync.Once{} // reset to allow reconnection
}

// Handle returns the shared database handle
func Handle() *sql.DB {
	handleMu.RLock()
	defer handleMu.RUnlock()
	return handle
}

// Status returns the current status of the database connection
func Status(ctx context.Context) error {
	db := Handle()
	if db == nil {
		return fmt.Errorf("database not initialized")
	}
	return db.PingContext(ctx)
}

// Stats returns connection pool statistics
func Stats() sql.DBStats {
	db := Handle()
	if db == nil {
		return sql.DBStats{}
	}
	return db.Stats()
}

// acquireScope bounds one logical store operation by the configured acquire
// timeout. The caller must invoke the returned cancel on every exit path.
func acquireScope(ctx context.Context) (context.Context, context.CancelFunc) {
	handleMu.RLock()
	timeout := acquireTimeout
	handleMu.RUnlock()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}
