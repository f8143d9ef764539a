package gridkit_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gridkit "github.com/gridkit/gridkit"
)

func newManager(cfg gridkit.UpdateManagerConfig) *gridkit.UpdateManager {
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Minute // keep timers out of the way by default
	}
	return gridkit.NewUpdateManager(cfg)
}

func TestUpdateLifecycle(t *testing.T) {
	m := newManager(gridkit.UpdateManagerConfig{})

	u, err := m.AddUpdate(gridkit.UpdateUpdate,
		gridkit.Row{"id": "r1", "name": "new"},
		gridkit.Row{"id": "r1", "name": "old"})
	require.NoError(t, err)
	assert.Equal(t, gridkit.StatusPending, u.Status)
	assert.Equal(t, "r1", u.RowID())
	assert.Equal(t, 1, m.PendingCount())

	m.MarkAsSyncing(u.ID)
	got, ok := m.PendingForRow("r1")
	require.True(t, ok)
	assert.Equal(t, gridkit.StatusSyncing, got.Status)

	m.MarkAsSynced(u.ID)
	assert.Equal(t, 0, m.PendingCount())
	_, ok = m.PendingForRow("r1")
	assert.False(t, ok)
	assert.Equal(t, 1.0, m.SuccessRate())
	assert.Greater(t, m.AvgSyncTime(), time.Duration(0))
}

func TestUpdateBucketsAreExclusive(t *testing.T) {
	m := newManager(gridkit.UpdateManagerConfig{})

	u, err := m.AddUpdate(gridkit.UpdateUpdate,
		gridkit.Row{"id": "r1", "v": 2}, gridkit.Row{"id": "r1", "v": 1})
	require.NoError(t, err)

	m.MarkAsFailed(u.ID, errors.New("boom"))
	assert.Equal(t, 0, m.PendingCount())
	require.Len(t, m.FailedUpdates(), 1)
	assert.Equal(t, gridkit.StatusFailed, m.FailedUpdates()[0].Status)

	// A failed update cannot be synced or conflicted anymore.
	m.MarkAsSynced(u.ID)
	_, ok := m.MarkAsConflicted(u.ID, gridkit.Row{"id": "r1"})
	assert.False(t, ok)
	assert.Len(t, m.FailedUpdates(), 1)
}

func TestAddUpdateRejectsWhenFull(t *testing.T) {
	m := newManager(gridkit.UpdateManagerConfig{MaxPendingUpdates: 2})

	for i := 0; i < 2; i++ {
		_, err := m.AddUpdate(gridkit.UpdateCreate, gridkit.Row{"id": "r"}, nil)
		require.NoError(t, err)
	}
	_, err := m.AddUpdate(gridkit.UpdateCreate, gridkit.Row{"id": "r"}, nil)
	assert.ErrorIs(t, err, gridkit.ErrTooManyPending)
}

func TestUpdateTimeoutForceFails(t *testing.T) {
	m := gridkit.NewUpdateManager(gridkit.UpdateManagerConfig{
		Timeout: 20 * time.Millisecond,
	})

	var mu sync.Mutex
	var expired []gridkit.Update
	m.SetTimeoutHandler(func(u gridkit.Update) {
		mu.Lock()
		expired = append(expired, u)
		mu.Unlock()
	})

	u, err := m.AddUpdate(gridkit.UpdateUpdate,
		gridkit.Row{"id": "r1", "v": 2}, gridkit.Row{"id": "r1", "v": 1})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(expired) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	got := expired[0]
	mu.Unlock()
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, gridkit.StatusFailed, got.Status)
	assert.ErrorIs(t, got.Err, gridkit.ErrUpdateTimeout)

	assert.Equal(t, 0, m.PendingCount())
	require.Len(t, m.FailedUpdates(), 1)
}

func TestRetryBackoff(t *testing.T) {
	m := newManager(gridkit.UpdateManagerConfig{
		MaxRetries: 2,
		RetryDelay: 100 * time.Millisecond,
	})

	u, err := m.AddUpdate(gridkit.UpdateUpdate,
		gridkit.Row{"id": "r1", "v": 2}, gridkit.Row{"id": "r1", "v": 1})
	require.NoError(t, err)

	m.MarkAsFailed(u.ID, errors.New("boom"))
	retried, delay, err := m.Retry(u.ID)
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, delay)
	assert.Equal(t, 1, retried.RetryCount)
	assert.Equal(t, gridkit.StatusPending, retried.Status)
	assert.Equal(t, 1, m.PendingCount())

	// Second failure doubles the delay.
	m.MarkAsFailed(u.ID, errors.New("boom"))
	_, delay, err = m.Retry(u.ID)
	require.NoError(t, err)
	assert.Equal(t, 200*time.Millisecond, delay)

	// Budget spent.
	m.MarkAsFailed(u.ID, errors.New("boom"))
	_, _, err = m.Retry(u.ID)
	assert.ErrorIs(t, err, gridkit.ErrRetriesExceeded)

	_, _, err = m.Retry("nope")
	assert.ErrorIs(t, err, gridkit.ErrUpdateNotFound)
}

func TestRollbackUpdate(t *testing.T) {
	m := newManager(gridkit.UpdateManagerConfig{})

	u, err := m.AddUpdate(gridkit.UpdateUpdate,
		gridkit.Row{"id": "r1", "name": "new"},
		gridkit.Row{"id": "r1", "name": "old"})
	require.NoError(t, err)

	orig, err := m.RollbackUpdate(u.ID)
	require.NoError(t, err)
	assert.Equal(t, "old", orig.GetAsString("name", ""))

	created, err := m.AddUpdate(gridkit.UpdateCreate, gridkit.Row{"id": "r2"}, nil)
	require.NoError(t, err)
	_, err = m.RollbackUpdate(created.ID)
	assert.ErrorIs(t, err, gridkit.ErrNoOriginalData)

	_, err = m.RollbackUpdate("nope")
	assert.ErrorIs(t, err, gridkit.ErrUpdateNotFound)
}

func TestConflictLedger(t *testing.T) {
	m := newManager(gridkit.UpdateManagerConfig{})

	u, err := m.AddUpdate(gridkit.UpdateUpdate,
		gridkit.Row{"id": "r1", "v": "local"}, gridkit.Row{"id": "r1", "v": "base"})
	require.NoError(t, err)

	c, ok := m.MarkAsConflicted(u.ID, gridkit.Row{"id": "r1", "v": "remote"})
	require.True(t, ok)
	assert.Equal(t, u.ID, c.UpdateID)
	assert.Equal(t, "local", c.LocalData.GetAsString("v", ""))
	assert.Equal(t, "remote", c.RemoteData.GetAsString("v", ""))
	assert.Equal(t, 0, m.PendingCount())
	assert.Len(t, m.Conflicts(), 1)

	// Discarding the local change: resolve without requeue.
	require.True(t, m.ResolveConflict(c.ID, false))
	assert.Empty(t, m.Conflicts())
	assert.Equal(t, 0, m.PendingCount())

	// Resolving twice is a no-op.
	assert.False(t, m.ResolveConflict(c.ID, false))
}

func TestResolveConflictRequeues(t *testing.T) {
	m := newManager(gridkit.UpdateManagerConfig{})

	u, err := m.AddUpdate(gridkit.UpdateUpdate,
		gridkit.Row{"id": "r1", "v": "local"}, gridkit.Row{"id": "r1", "v": "base"})
	require.NoError(t, err)

	c, ok := m.MarkAsConflicted(u.ID, gridkit.Row{"id": "r1", "v": "remote"})
	require.True(t, ok)

	require.True(t, m.ResolveConflict(c.ID, true))
	assert.Equal(t, 1, m.PendingCount())

	requeued, ok := m.PendingForRow("r1")
	require.True(t, ok)
	assert.Equal(t, gridkit.StatusPending, requeued.Status)
	assert.Equal(t, "local", requeued.Data.GetAsString("v", ""))
}

func TestDiscardUpdate(t *testing.T) {
	m := newManager(gridkit.UpdateManagerConfig{})

	u, err := m.AddUpdate(gridkit.UpdateDelete, gridkit.Row{"id": "r1"}, gridkit.Row{"id": "r1"})
	require.NoError(t, err)

	m.DiscardUpdate(u.ID)
	assert.Equal(t, 0, m.PendingCount())
	assert.Empty(t, m.FailedUpdates())
}

func TestSuccessRate(t *testing.T) {
	m := newManager(gridkit.UpdateManagerConfig{})
	assert.Equal(t, 1.0, m.SuccessRate(), "fresh manager reports healthy")

	a, _ := m.AddUpdate(gridkit.UpdateCreate, gridkit.Row{"id": "a"}, nil)
	b, _ := m.AddUpdate(gridkit.UpdateCreate, gridkit.Row{"id": "b"}, nil)
	m.MarkAsSynced(a.ID)
	m.MarkAsFailed(b.ID, errors.New("boom"))

	assert.Equal(t, 0.5, m.SuccessRate())
}

func TestClear(t *testing.T) {
	m := newManager(gridkit.UpdateManagerConfig{})

	u, _ := m.AddUpdate(gridkit.UpdateUpdate, gridkit.Row{"id": "a", "v": 1}, gridkit.Row{"id": "a"})
	f, _ := m.AddUpdate(gridkit.UpdateUpdate, gridkit.Row{"id": "b", "v": 1}, gridkit.Row{"id": "b"})
	m.MarkAsFailed(f.ID, errors.New("boom"))
	m.MarkAsConflicted(u.ID, gridkit.Row{"id": "a", "v": 2})

	m.Clear()
	assert.Equal(t, 0, m.PendingCount())
	assert.Empty(t, m.FailedUpdates())
	assert.Empty(t, m.Conflicts())
}

func TestResolveRows(t *testing.T) {
	local := gridkit.Row{"id": "r1", "name": "local", "note": "kept", "updated_at": "2024-06-02T00:00:00Z"}
	remote := gridkit.Row{"id": "r1", "name": "remote", "updated_at": "2024-06-01T00:00:00Z"}

	t.Run("last-write-wins", func(t *testing.T) {
		got, ok := gridkit.ResolveRows(gridkit.ConflictLastWriteWins, local, remote)
		require.True(t, ok)
		assert.Equal(t, "remote", got.GetAsString("name", ""))
	})

	t.Run("first-write-wins", func(t *testing.T) {
		got, ok := gridkit.ResolveRows(gridkit.ConflictFirstWriteWins, local, remote)
		require.True(t, ok)
		assert.Equal(t, "local", got.GetAsString("name", ""))
	})

	t.Run("manual resolves nothing", func(t *testing.T) {
		got, ok := gridkit.ResolveRows(gridkit.ConflictManual, local, remote)
		assert.False(t, ok)
		assert.Nil(t, got)
	})

	t.Run("merge", func(t *testing.T) {
		got, ok := gridkit.ResolveRows(gridkit.ConflictMerge, local, remote)
		require.True(t, ok)
		// Remote is the base for contested plain fields.
		assert.Equal(t, "remote", got.GetAsString("name", ""))
		// Local-only fields survive.
		assert.Equal(t, "kept", got.GetAsString("note", ""))
		// Timestamp-like fields keep the newer value.
		assert.Equal(t, "2024-06-02T00:00:00Z", got.GetAsString("updated_at", ""))
	})

	t.Run("merge fills remote nulls from local", func(t *testing.T) {
		got, ok := gridkit.ResolveRows(gridkit.ConflictMerge,
			gridkit.Row{"id": "r1", "name": "local"},
			gridkit.Row{"id": "r1", "name": nil})
		require.True(t, ok)
		assert.Equal(t, "local", got.GetAsString("name", ""))
	})
}
