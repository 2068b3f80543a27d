package cli

import (
	"context"
	"time"

	"github.com/clawban/kanban-workflow/adapter"
	"github.com/clawban/kanban-workflow/config"
	"github.com/clawban/kanban-workflow/internal/cache"
	"github.com/clawban/kanban-workflow/kanban"
)

// app bundles the loaded configuration, the concrete adapter it resolves
// to, and the optional snapshot cache fronting it, so every command's Exec
// can build one with a single call.
type app struct {
	cfg     *config.File
	adapter adapter.Port
	cache   *cache.Cache
}

// loadApp loads the configuration file at path, builds its adapter, and
// opens the snapshot cache alongside it.
func loadApp(path string) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	a, err := buildAdapter(cfg.Adapter)
	if err != nil {
		return nil, err
	}

	// The cache is never the source of truth: if it fails to open, every
	// read just falls through to the live adapter, the same as a nil
	// *cache.Cache already does inside FetchThrough.
	c, _ := cache.Open(DefaultCachePath)

	return &app{cfg: cfg, adapter: a, cache: c}, nil
}

// snapshotCacheMaxAge bounds how long a cached snapshot is served without
// touching the platform at all.
const snapshotCacheMaxAge = 30 * time.Second

// fetchSnapshot is the cache-fronted read path for adapter.Port's
// FetchSnapshot: a hit younger than snapshotCacheMaxAge short-circuits the
// live call entirely.
func (a *app) fetchSnapshot(ctx context.Context, now time.Time) (kanban.Snapshot, error) {
	return a.cache.FetchThrough(ctx, a.adapter.Name(), now, snapshotCacheMaxAge, a.adapter.FetchSnapshot)
}

// cachedWorkItem consults the snapshot cache directly, bypassing
// snapshotCacheMaxAge, for a degraded read-only view of id after a live
// call has just failed. ok is false on any miss, in which case the caller
// must surface the original live error rather than invent data.
func (a *app) cachedWorkItem(ctx context.Context, id string, now time.Time) (kanban.WorkItem, bool) {
	if a.cache == nil {
		return kanban.WorkItem{}, false
	}
	snap, _, ok := a.cache.Get(ctx, a.adapter.Name(), now)
	if !ok {
		return kanban.WorkItem{}, false
	}
	item, ok := snap[id]
	return item, ok
}

// invalidateCache drops the cached snapshot after a write, since the
// board just changed underneath it.
func (a *app) invalidateCache(ctx context.Context) {
	if a.cache == nil {
		return
	}
	_ = a.cache.Invalidate(ctx, a.adapter.Name())
}
