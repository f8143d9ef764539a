package gridkit

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UpdateType classifies an optimistic mutation.
type UpdateType string

const (
	UpdateCreate UpdateType = "create"
	UpdateUpdate UpdateType = "update"
	UpdateDelete UpdateType = "delete"
)

// UpdateStatus is the lifecycle state of an optimistic update:
// pending → syncing → {synced | failed | conflicted}; failed may return
// to pending through Retry, conflicted through conflict resolution.
type UpdateStatus string

const (
	StatusPending    UpdateStatus = "pending"
	StatusSyncing    UpdateStatus = "syncing"
	StatusSynced     UpdateStatus = "synced"
	StatusFailed     UpdateStatus = "failed"
	StatusConflicted UpdateStatus = "conflicted"
)

// ConflictStrategy decides the winner when a remote event collides with a
// pending optimistic update.
type ConflictStrategy string

const (
	// ConflictLastWriteWins drops the local update; remote data wins.
	ConflictLastWriteWins ConflictStrategy = "last-write-wins"
	// ConflictFirstWriteWins keeps the local update; remote is discarded.
	ConflictFirstWriteWins ConflictStrategy = "first-write-wins"
	// ConflictManual queues the conflict for external resolution.
	ConflictManual ConflictStrategy = "manual"
	// ConflictMerge combines field-by-field: local values survive where
	// the remote is absent or null, timestamp-like fields keep the newer.
	ConflictMerge ConflictStrategy = "merge"
)

// Update is one speculative local mutation awaiting server confirmation.
type Update struct {
	ID   string
	Type UpdateType
	// Data is the speculative row (partial for updates, full for creates,
	// the target row for deletes).
	Data Row
	// OriginalData is the pre-mutation snapshot, required for rollback of
	// update/delete.
	OriginalData Row
	Timestamp    time.Time
	Status       UpdateStatus
	RetryCount   int
	Err          error
}

// RowID returns the dataset row the update targets.
func (u *Update) RowID() string {
	if id := u.Data.ID(); id != "" {
		return id
	}
	return u.OriginalData.ID()
}

func (u *Update) clone() Update {
	dup := *u
	dup.Data = u.Data.Clone()
	dup.OriginalData = u.OriginalData.Clone()
	return dup
}

// Conflict records a collision between a pending optimistic update and an
// incoming remote change for the same row.
type Conflict struct {
	ID         string
	UpdateID   string
	Type       UpdateType
	LocalData  Row
	RemoteData Row
	Timestamp  time.Time
	Resolved   bool
}

// UpdateManagerConfig configures an UpdateManager.
type UpdateManagerConfig struct {
	MaxRetries        int
	RetryDelay        time.Duration
	Timeout           time.Duration
	MaxPendingUpdates int
	Logger            *zap.Logger
}

// UpdateManager tracks speculative local mutations through their sync
// lifecycle. Buckets (live, synced, failed, conflicts) are mutually
// exclusive; moving an update between them always stops its timeout
// timer first.
type UpdateManager struct {
	mu  sync.Mutex
	cfg UpdateManagerConfig

	// live holds pending and syncing updates.
	live      map[string]*Update
	synced    []*Update
	failed    map[string]*Update
	conflicts map[string]*Conflict

	timers map[string]*time.Timer

	// onTimeout fires (outside the lock) when the timeout timer
	// force-fails an update, so the owner can roll back state.
	onTimeout func(Update)

	totalOps    int
	syncedOps   int
	failedOps   int
	avgSyncTime time.Duration
}

// NewUpdateManager creates a manager with defaults filled in.
func NewUpdateManager(cfg UpdateManagerConfig) *UpdateManager {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 1 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxPendingUpdates <= 0 {
		cfg.MaxPendingUpdates = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &UpdateManager{
		cfg:       cfg,
		live:      make(map[string]*Update),
		failed:    make(map[string]*Update),
		conflicts: make(map[string]*Conflict),
		timers:    make(map[string]*time.Timer),
	}
}

// SetTimeoutHandler registers the callback invoked when an update is
// force-failed by its timeout timer.
func (m *UpdateManager) SetTimeoutHandler(fn func(Update)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTimeout = fn
}

// AddUpdate registers a new speculative mutation and starts its timeout
// timer. It rejects with ErrTooManyPending once the live queue is full.
func (m *UpdateManager) AddUpdate(t UpdateType, data, originalData Row) (Update, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.live) >= m.cfg.MaxPendingUpdates {
		return Update{}, ErrTooManyPending
	}

	u := &Update{
		ID:           uuid.NewString(),
		Type:         t,
		Data:         data.Clone(),
		OriginalData: originalData.Clone(),
		Timestamp:    time.Now(),
		Status:       StatusPending,
	}
	m.live[u.ID] = u
	m.totalOps++
	m.startTimerLocked(u.ID)

	m.cfg.Logger.Debug("optimistic update added",
		zap.String("update", u.ID),
		zap.String("type", string(t)),
		zap.String("row", u.RowID()))
	return u.clone(), nil
}

// MarkAsSyncing transitions a pending update into syncing.
func (m *UpdateManager) MarkAsSyncing(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if u, ok := m.live[id]; ok && u.Status == StatusPending {
		u.Status = StatusSyncing
	}
}

// MarkAsSynced resolves an update successfully: stops its timer, moves it
// to the synced bucket and feeds the sync-time moving average.
func (m *UpdateManager) MarkAsSynced(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.live[id]
	if !ok {
		return
	}
	m.stopTimerLocked(id)
	delete(m.live, id)

	u.Status = StatusSynced
	m.synced = append(m.synced, u)
	m.syncedOps++

	elapsed := time.Since(u.Timestamp)
	if m.avgSyncTime == 0 {
		m.avgSyncTime = elapsed
	} else {
		// Simple exponential moving average, alpha 0.2.
		m.avgSyncTime = (m.avgSyncTime*4 + elapsed) / 5
	}
}

// MarkAsFailed moves an update to the failed bucket with the given error.
func (m *UpdateManager) MarkAsFailed(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markFailedLocked(id, err)
}

func (m *UpdateManager) markFailedLocked(id string, err error) {
	u, ok := m.live[id]
	if !ok {
		return
	}
	m.stopTimerLocked(id)
	delete(m.live, id)

	u.Status = StatusFailed
	u.Err = err
	m.failed[id] = u
	m.failedOps++

	m.cfg.Logger.Warn("optimistic update failed",
		zap.String("update", id),
		zap.String("row", u.RowID()),
		zap.Error(err))
}

// MarkAsConflicted records a collision with a remote event and moves the
// update out of the live queue into the conflict ledger. The returned
// conflict is already registered.
func (m *UpdateManager) MarkAsConflicted(id string, remote Row) (Conflict, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.live[id]
	if !ok {
		return Conflict{}, false
	}
	m.stopTimerLocked(id)
	delete(m.live, id)
	u.Status = StatusConflicted

	c := &Conflict{
		ID:         uuid.NewString(),
		UpdateID:   id,
		Type:       u.Type,
		LocalData:  u.Data.Clone(),
		RemoteData: remote.Clone(),
		Timestamp:  time.Now(),
	}
	m.conflicts[c.ID] = c
	return *c, true
}

// Retry moves a failed update back to pending with exponential backoff.
// It returns the delay the caller should wait before re-issuing the
// adapter call, or ErrRetriesExceeded once the retry budget is spent.
func (m *UpdateManager) Retry(id string) (Update, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.failed[id]
	if !ok {
		return Update{}, 0, ErrUpdateNotFound
	}
	if u.RetryCount >= m.cfg.MaxRetries {
		return Update{}, 0, ErrRetriesExceeded
	}

	delay := m.cfg.RetryDelay * (1 << uint(u.RetryCount))
	u.RetryCount++
	u.Status = StatusPending
	u.Err = nil
	delete(m.failed, id)
	m.live[id] = u
	m.startTimerLocked(id)

	return u.clone(), delay, nil
}

// RollbackUpdate returns the pre-mutation snapshot for the caller to
// re-apply to the table state. Only valid when OriginalData was captured
// at creation time.
func (m *UpdateManager) RollbackUpdate(id string) (Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u := m.findLocked(id)
	if u == nil {
		return nil, ErrUpdateNotFound
	}
	if len(u.OriginalData) == 0 {
		return nil, ErrNoOriginalData
	}
	return u.OriginalData.Clone(), nil
}

// DiscardUpdate drops an update from whichever bucket holds it.
func (m *UpdateManager) DiscardUpdate(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopTimerLocked(id)
	delete(m.live, id)
	delete(m.failed, id)
}

// ResolveConflict marks a conflict resolved and optionally requeues its
// update as pending (requeue=true corresponds to "resolve and retry",
// false to "discard local change").
func (m *UpdateManager) ResolveConflict(conflictID string, requeue bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conflicts[conflictID]
	if !ok || c.Resolved {
		return false
	}
	c.Resolved = true

	if requeue {
		u := &Update{
			ID:        c.UpdateID,
			Type:      c.Type,
			Data:      c.LocalData.Clone(),
			Timestamp: time.Now(),
			Status:    StatusPending,
		}
		m.live[u.ID] = u
		m.startTimerLocked(u.ID)
	}
	return true
}

// PendingUpdates returns copies of the live (pending + syncing) queue.
func (m *UpdateManager) PendingUpdates() []Update {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Update, 0, len(m.live))
	for _, u := range m.live {
		out = append(out, u.clone())
	}
	return out
}

// PendingForRow finds the live update targeting a row id, if any.
func (m *UpdateManager) PendingForRow(rowID string) (Update, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.live {
		if u.RowID() == rowID {
			return u.clone(), true
		}
	}
	return Update{}, false
}

// FailedUpdates returns copies of the failed bucket.
func (m *UpdateManager) FailedUpdates() []Update {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Update, 0, len(m.failed))
	for _, u := range m.failed {
		out = append(out, u.clone())
	}
	return out
}

// Conflicts returns the unresolved conflict queue.
func (m *UpdateManager) Conflicts() []Conflict {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Conflict, 0, len(m.conflicts))
	for _, c := range m.conflicts {
		if !c.Resolved {
			out = append(out, *c)
		}
	}
	return out
}

// PendingCount returns the live queue size.
func (m *UpdateManager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// SuccessRate is synced/totalOperations, in [0,1]. Zero operations yields
// 1 so a fresh table does not report as unhealthy.
func (m *UpdateManager) SuccessRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.totalOps == 0 {
		return 1
	}
	return float64(m.syncedOps) / float64(m.totalOps)
}

// AvgSyncTime is the moving average time from AddUpdate to MarkAsSynced.
func (m *UpdateManager) AvgSyncTime() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.avgSyncTime
}

// Clear drops every update and conflict and cancels all timers. Used by
// ForceSync to abandon optimism wholesale.
func (m *UpdateManager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range m.timers {
		m.stopTimerLocked(id)
	}
	m.live = make(map[string]*Update)
	m.failed = make(map[string]*Update)
	m.conflicts = make(map[string]*Conflict)
	m.synced = nil
}

func (m *UpdateManager) findLocked(id string) *Update {
	if u, ok := m.live[id]; ok {
		return u
	}
	if u, ok := m.failed[id]; ok {
		return u
	}
	for _, u := range m.synced {
		if u.ID == id {
			return u
		}
	}
	return nil
}

func (m *UpdateManager) startTimerLocked(id string) {
	m.stopTimerLocked(id)
	m.timers[id] = time.AfterFunc(m.cfg.Timeout, func() {
		m.expire(id)
	})
}

func (m *UpdateManager) stopTimerLocked(id string) {
	if t, ok := m.timers[id]; ok {
		t.Stop()
		delete(m.timers, id)
	}
}

// expire force-fails an update whose timeout elapsed before resolution.
func (m *UpdateManager) expire(id string) {
	m.mu.Lock()
	u, ok := m.live[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	snapshot := u.clone()
	m.markFailedLocked(id, ErrUpdateTimeout)
	handler := m.onTimeout
	m.mu.Unlock()

	snapshot.Status = StatusFailed
	snapshot.Err = ErrUpdateTimeout
	if handler != nil {
		handler(snapshot)
	}
}

// ResolveRows applies a conflict strategy to a local/remote pair and
// returns the winning row. ok is false for the manual strategy, which
// resolves nothing by itself.
func ResolveRows(strategy ConflictStrategy, local, remote Row) (Row, bool) {
	switch strategy {
	case ConflictFirstWriteWins:
		return local.Clone(), true
	case ConflictMerge:
		return mergeRows(local, remote), true
	case ConflictManual:
		return nil, false
	default: // last-write-wins
		return remote.Clone(), true
	}
}

// mergeRows combines two versions of a row field-by-field: remote is the
// base, local values survive where the remote field is absent or null,
// and timestamp-like fields present on both sides keep the more recent
// value.
func mergeRows(local, remote Row) Row {
	merged := remote.Clone()
	if merged == nil {
		merged = Row{}
	}
	for k, lv := range local {
		rv, exists := merged[k]
		if !exists || rv == nil {
			merged[k] = cloneValue(lv)
			continue
		}
		if isTimestampField(k, lv, rv) {
			lt, lok := asTime(lv)
			rt, rok := asTime(rv)
			if lok && rok && lt.After(rt) {
				merged[k] = cloneValue(lv)
			}
		}
	}
	return merged
}

// isTimestampField recognizes timestamp-like fields by name suffix or by
// both values parsing as times.
func isTimestampField(name string, a, b interface{}) bool {
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, "_at") || strings.HasSuffix(name, "At") {
		return true
	}
	if strings.HasSuffix(lower, "_time") || strings.HasSuffix(lower, "timestamp") {
		return true
	}
	_, aok := asTime(a)
	_, bok := asTime(b)
	return aok && bok
}
