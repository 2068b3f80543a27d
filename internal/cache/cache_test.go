package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawban/kanban-workflow/kanban"
)

func TestFetchThrough_MissThenHit(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer c.Close()

	calls := 0
	fetch := func(ctx context.Context) (kanban.Snapshot, error) {
		calls++
		return kanban.Snapshot{"A": {ID: "A"}}, nil
	}

	now := time.Now()
	snap, err := c.FetchThrough(context.Background(), "github", now, time.Minute, fetch)
	require.NoError(t, err)
	assert.Len(t, snap, 1)
	assert.Equal(t, 1, calls)

	snap2, err := c.FetchThrough(context.Background(), "github", now.Add(10*time.Second), time.Minute, fetch)
	require.NoError(t, err)
	assert.Len(t, snap2, 1)
	assert.Equal(t, 1, calls, "second call within maxAge should hit the cache, not refetch")
}

func TestFetchThrough_RefetchesWhenStale(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer c.Close()

	calls := 0
	fetch := func(ctx context.Context) (kanban.Snapshot, error) {
		calls++
		return kanban.Snapshot{"A": {ID: "A"}}, nil
	}

	now := time.Now()
	_, err = c.FetchThrough(context.Background(), "github", now, time.Minute, fetch)
	require.NoError(t, err)

	_, err = c.FetchThrough(context.Background(), "github", now.Add(2*time.Minute), time.Minute, fetch)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestInvalidateForcesRefetch(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer c.Close()

	calls := 0
	fetch := func(ctx context.Context) (kanban.Snapshot, error) {
		calls++
		return kanban.Snapshot{"A": {ID: "A"}}, nil
	}

	now := time.Now()
	_, err = c.FetchThrough(context.Background(), "github", now, time.Minute, fetch)
	require.NoError(t, err)

	require.NoError(t, c.Invalidate(context.Background(), "github"))

	_, err = c.FetchThrough(context.Background(), "github", now.Add(time.Second), time.Minute, fetch)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "invalidate must force the next fetch even within maxAge")
}

func TestInvalidateOnNilCacheIsNoop(t *testing.T) {
	var c *Cache
	assert.NoError(t, c.Invalidate(context.Background(), "github"))
}
