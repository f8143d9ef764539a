package gridkit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SyncCoordinatorConfig configures a SyncCoordinator.
type SyncCoordinatorConfig struct {
	Strategy          ConflictStrategy
	Debounce          time.Duration
	ReconnectMaxDelay time.Duration
	Logger            *zap.Logger
}

// SyncCoordinator bridges the adapter's change-event stream to the table
// state. Every incoming remote event is checked against the live
// optimistic-update queue: a collision raises a Conflict before any
// resolution is applied; everything else is applied to the state
// directly. It also flushes requeued local updates (debounced) and
// schedules reconnects with exponential backoff.
type SyncCoordinator struct {
	cfg     SyncCoordinatorConfig
	adapter Adapter
	state   *TableState
	updates *UpdateManager
	logger  *zap.Logger

	mu                sync.Mutex
	unsubscribe       func()
	debounceTimer     *time.Timer
	reconnectTimer    *time.Timer
	reconnectAttempts int
	stopped           bool

	// flushMu serializes flushes; an overlapping trigger is skipped
	// rather than queued.
	flushMu sync.Mutex

	// onConflict is invoked (outside locks) for every detected conflict,
	// resolved or queued.
	onConflict func(Conflict)
}

// NewSyncCoordinator wires a coordinator to its collaborators. Call Start
// to begin consuming events.
func NewSyncCoordinator(adapter Adapter, state *TableState, updates *UpdateManager, cfg SyncCoordinatorConfig) *SyncCoordinator {
	if cfg.Strategy == "" {
		cfg.Strategy = ConflictLastWriteWins
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 300 * time.Millisecond
	}
	if cfg.ReconnectMaxDelay <= 0 {
		cfg.ReconnectMaxDelay = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &SyncCoordinator{
		cfg:     cfg,
		adapter: adapter,
		state:   state,
		updates: updates,
		logger:  cfg.Logger,
	}
}

// SetConflictHandler registers a callback fired for every conflict event.
func (c *SyncCoordinator) SetConflictHandler(fn func(Conflict)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConflict = fn
}

// Start subscribes to the adapter's change events. Safe to call once;
// Stop undoes it.
func (c *SyncCoordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped || c.unsubscribe != nil {
		return
	}
	c.unsubscribe = c.adapter.Subscribe(c.HandleRemoteEvent)
}

// Stop unsubscribes and cancels timers. Idempotent.
func (c *SyncCoordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	c.stopped = true
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	if c.debounceTimer != nil {
		c.debounceTimer.Stop()
		c.debounceTimer = nil
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

// HandleRemoteEvent routes one remote change event. Exported so polling
// adapters and tests can inject events directly.
func (c *SyncCoordinator) HandleRemoteEvent(ev ChangeEvent) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	for _, row := range ev.Rows {
		c.applyRemoteRow(ev.Type, row)
	}
}

// applyRemoteRow applies one remote row change, detecting collisions with
// live optimistic updates of mutating type first.
func (c *SyncCoordinator) applyRemoteRow(t EventType, remote Row) {
	rowID := remote.ID()

	if pending, ok := c.updates.PendingForRow(rowID); ok &&
		(pending.Type == UpdateUpdate || pending.Type == UpdateDelete) {
		c.resolveCollision(pending, remote)
		return
	}

	switch t {
	case EventCreate:
		c.state.UpsertRow(remote)
	case EventUpdate, EventBulkUpdate:
		c.state.UpsertRow(remote)
	case EventDelete:
		c.state.RemoveRow(rowID)
	}
}

// resolveCollision records the conflict (always, before any resolution)
// and then applies the configured strategy.
func (c *SyncCoordinator) resolveCollision(pending Update, remote Row) {
	conflict, ok := c.updates.MarkAsConflicted(pending.ID, remote)
	if !ok {
		// The update resolved between detection and now; the remote
		// event wins by default.
		c.state.UpsertRow(remote)
		return
	}

	c.logger.Info("conflict detected",
		zap.String("row", remote.ID()),
		zap.String("update", pending.ID),
		zap.String("strategy", string(c.cfg.Strategy)))

	switch c.cfg.Strategy {
	case ConflictManual:
		// Left in the queue; the caller resolves it explicitly.
	case ConflictFirstWriteWins:
		// Local wins: discard the remote event, requeue the local
		// update so it still reaches the server.
		c.updates.ResolveConflict(conflict.ID, true)
		c.ScheduleFlush()
	default: // last-write-wins, merge
		// A local delete that loses resurfaces the remote row; UpsertRow
		// covers both the update and delete cases.
		resolved, applied := ResolveRows(c.cfg.Strategy, pending.Data, remote)
		if applied {
			c.state.UpsertRow(resolved)
			c.updates.ResolveConflict(conflict.ID, false)
		}
	}

	c.mu.Lock()
	handler := c.onConflict
	c.mu.Unlock()
	if handler != nil {
		handler(conflict)
	}
}

// ScheduleFlush debounces a flush of requeued local updates so a burst of
// optimistic mutations is pushed in one pass.
func (c *SyncCoordinator) ScheduleFlush() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	if c.debounceTimer != nil {
		c.debounceTimer.Stop()
	}
	c.debounceTimer = time.AfterFunc(c.cfg.Debounce, c.Flush)
}

// Flush pushes every live update still in pending state through the
// adapter. Updates already syncing are in flight elsewhere and skipped.
// Overlapping flushes are skipped, not queued.
func (c *SyncCoordinator) Flush() {
	if !c.flushMu.TryLock() {
		return
	}
	defer c.flushMu.Unlock()

	ctx := context.Background()
	for _, u := range c.updates.PendingUpdates() {
		if u.Status != StatusPending {
			continue
		}
		c.pushUpdate(ctx, u)
	}
}

// pushUpdate drives one requeued update through the adapter and
// reconciles the table state with the outcome.
func (c *SyncCoordinator) pushUpdate(ctx context.Context, u Update) {
	c.updates.MarkAsSyncing(u.ID)

	var (
		confirmed Row
		err       error
	)
	switch u.Type {
	case UpdateCreate:
		confirmed, err = c.adapter.Create(ctx, u.Data)
	case UpdateUpdate:
		confirmed, err = c.adapter.Update(ctx, u.RowID(), u.Data)
	case UpdateDelete:
		err = c.adapter.Delete(ctx, u.RowID())
	}

	if err != nil {
		c.updates.MarkAsFailed(u.ID, err)
		c.rollback(u)
		return
	}

	c.updates.MarkAsSynced(u.ID)
	switch u.Type {
	case UpdateCreate:
		// Replace the speculative row with the confirmed one, keyed by
		// the temp id, deduping against a realtime-pushed copy.
		c.state.RemoveRow(u.RowID())
		c.state.UpsertRow(confirmed)
	case UpdateUpdate:
		c.state.UpsertRow(confirmed)
	case UpdateDelete:
		c.state.RemoveRow(u.RowID())
	}
}

// rollback re-applies the pre-optimistic snapshot for a failed update.
func (c *SyncCoordinator) rollback(u Update) {
	switch u.Type {
	case UpdateCreate:
		c.state.RemoveRow(u.RowID())
	case UpdateUpdate:
		if len(u.OriginalData) > 0 {
			c.state.ReplaceRow(u.RowID(), u.OriginalData)
		}
	case UpdateDelete:
		if len(u.OriginalData) > 0 {
			c.state.UpsertRow(u.OriginalData)
		}
	}
}

// NotifyDisconnected schedules a reconnect attempt with exponential
// backoff capped at ReconnectMaxDelay. Repeated notifications while a
// reconnect is already scheduled are ignored.
func (c *SyncCoordinator) NotifyDisconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped || c.reconnectTimer != nil {
		return
	}

	delay := backoffDelay(c.reconnectAttempts, c.cfg.ReconnectMaxDelay)
	c.reconnectAttempts++

	c.logger.Info("connection lost, scheduling reconnect",
		zap.Duration("delay", delay),
		zap.Int("attempt", c.reconnectAttempts))

	c.reconnectTimer = time.AfterFunc(delay, c.reconnect)
}

// backoffDelay doubles from one second up to max. The shift saturates at
// the cap instead of growing unbounded: during a long outage the attempt
// counter keeps climbing, and an unchecked 1<<attempt overflows into a
// negative duration that would fire the timer immediately.
func backoffDelay(attempt int, max time.Duration) time.Duration {
	delay := time.Second
	for i := 0; i < attempt && delay < max; i++ {
		delay *= 2
	}
	if delay > max {
		delay = max
	}
	return delay
}

func (c *SyncCoordinator) reconnect() {
	c.mu.Lock()
	c.reconnectTimer = nil
	stopped := c.stopped
	c.mu.Unlock()
	if stopped {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := c.adapter.Connect(ctx); err != nil {
		c.logger.Warn("reconnect failed", zap.Error(err))
		c.NotifyDisconnected()
		return
	}

	c.mu.Lock()
	c.reconnectAttempts = 0
	c.mu.Unlock()
	c.logger.Info("reconnected")

	// Flush anything queued while offline, then refresh the dataset so
	// missed remote events are not lost.
	c.Flush()
	if rows, err := c.adapter.Read(ctx, ReadOptions{}); err == nil {
		c.state.SetData(rows)
	}
}

// ForceSync is the "give up on optimism, trust the server" escape hatch:
// it discards all pending updates and conflicts and re-reads the full
// dataset from the adapter.
func (c *SyncCoordinator) ForceSync(ctx context.Context) error {
	c.updates.Clear()

	rows, err := c.adapter.Read(ctx, ReadOptions{})
	if err != nil {
		return WrapError(ErrorKindAdapter, "force sync read failed", err)
	}
	c.state.SetData(rows)
	return nil
}
