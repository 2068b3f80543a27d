// Package cache implements an optional, read-through SQLite-backed cache
// for platform snapshots. It is never the source of truth: every read
// through it falls back to fetching live on a miss or on any read error,
// and a cache failure never fails the caller.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/clawban/kanban-workflow/clawerr"
	"github.com/clawban/kanban-workflow/kanban"
)

// Cache wraps a SQLite connection holding one row per (adapter, snapshot).
type Cache struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	adapter    TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	fetched_at DATETIME NOT NULL
);
`

// Open opens or creates the cache database at path, creating parent
// directories as needed.
func Open(path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, clawerr.Wrap(clawerr.KindTransientIO, "creating cache directory", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, clawerr.Wrap(clawerr.KindTransientIO, "opening cache database", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, clawerr.Wrap(clawerr.KindTransientIO, "enabling WAL mode", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, clawerr.Wrap(clawerr.KindTransientIO, "creating cache schema", err)
	}

	return &Cache{db: db}, nil
}

// Close releases the underlying connection.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Put stores snap under adapterName, overwriting any previous entry.
func (c *Cache) Put(ctx context.Context, adapterName string, snap kanban.Snapshot, fetchedAt time.Time) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot for cache: %w", err)
	}

	_, err = c.db.ExecContext(ctx,
		`INSERT INTO snapshots (adapter, payload, fetched_at) VALUES (?, ?, ?)
		 ON CONFLICT(adapter) DO UPDATE SET payload=excluded.payload, fetched_at=excluded.fetched_at`,
		adapterName, string(payload), fetchedAt.UTC())
	return err
}

// Get returns the cached snapshot for adapterName and how old it is, or
// ok=false on a miss. A scan or unmarshal error is also reported as a miss
// so a corrupt cache entry never blocks a caller that can refetch live.
func (c *Cache) Get(ctx context.Context, adapterName string, now time.Time) (kanban.Snapshot, time.Duration, bool) {
	var payload string
	var fetchedAt time.Time

	row := c.db.QueryRowContext(ctx, `SELECT payload, fetched_at FROM snapshots WHERE adapter = ?`, adapterName)
	if err := row.Scan(&payload, &fetchedAt); err != nil {
		return nil, 0, false
	}

	var snap kanban.Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return nil, 0, false
	}

	return snap, now.Sub(fetchedAt), true
}

// Invalidate drops the cached row for adapterName. Every write path
// (SetStage, AddComment, CreateInBacklogAndAssignToSelf) calls this so the
// cache never serves a payload older than the write that just happened.
func (c *Cache) Invalidate(ctx context.Context, adapterName string) error {
	if c == nil {
		return nil
	}
	_, err := c.db.ExecContext(ctx, `DELETE FROM snapshots WHERE adapter = ?`, adapterName)
	return err
}

// FetchThrough returns the cached snapshot if it is younger than maxAge,
// otherwise calls fetch, caches its result (best-effort), and returns that.
// A fetch error is always returned as-is; a cache write failure after a
// successful fetch is swallowed, since the cache is an optimization, not
// the source of truth.
func (c *Cache) FetchThrough(ctx context.Context, adapterName string, now time.Time, maxAge time.Duration, fetch func(context.Context) (kanban.Snapshot, error)) (kanban.Snapshot, error) {
	if c != nil {
		if snap, age, ok := c.Get(ctx, adapterName, now); ok && age < maxAge {
			return snap, nil
		}
	}

	snap, err := fetch(ctx)
	if err != nil {
		return nil, err
	}

	if c != nil {
		_ = c.Put(ctx, adapterName, snap, now)
	}
	return snap, nil
}
