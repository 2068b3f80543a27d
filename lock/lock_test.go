package lock

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAcquire_ReleaseAllowsReacquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "autopilot.lock")
	now := time.Now()

	lk, err := TryAcquire(path, "holder-a", now, time.Hour)
	require.NoError(t, err)
	require.NoError(t, lk.Release())

	lk2, err := TryAcquire(path, "holder-b", now, time.Hour)
	require.NoError(t, err)
	require.NoError(t, lk2.Release())
}

func TestTryAcquire_ConflictWhenFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autopilot.lock")
	now := time.Now()

	lk, err := TryAcquire(path, "holder-a", now, time.Hour)
	require.NoError(t, err)
	defer lk.Release()

	_, err = TryAcquire(path, "holder-b", now.Add(time.Minute), time.Hour)
	require.ErrorIs(t, err, ErrHeld)
}

func TestTryAcquire_StaleLockIsReclaimed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autopilot.lock")
	acquiredAt := time.Now()

	lk, err := TryAcquire(path, "holder-a", acquiredAt, time.Hour)
	require.NoError(t, err)
	_ = lk // deliberately not released: simulates a crashed holder

	later := acquiredAt.Add(2 * time.Hour)
	lk2, err := TryAcquire(path, "holder-b", later, time.Hour)
	require.NoError(t, err)
	assert.NoError(t, lk2.Release())
}

func TestTryAcquire_CorruptRecordIsReclaimed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "autopilot.lock")

	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	lk, err := TryAcquire(path, "holder-a", time.Now(), time.Hour)
	require.NoError(t, err)
	assert.NoError(t, lk.Release())
}
