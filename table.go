package gridkit

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gridkit/gridkit/export"
)

// ConnectionState is the orchestrator's lifecycle state.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateError        ConnectionState = "error"
)

// Stats is the snapshot a presentation layer needs to render counts and
// error/loading/empty/connected states without inspecting internals.
type Stats struct {
	TotalRows      int
	FilteredRows   int
	SelectedRows   int
	CurrentPage    int
	TotalPages     int
	PendingUpdates int
	FailedUpdates  int
	Conflicts      int
	SuccessRate    float64
	AvgSyncTime    time.Duration
	Connection     ConnectionState
	Loading        bool
	Err            error
}

// Table is the public facade composing the table state, the validation
// engine, one adapter connection and (optionally) a realtime sync
// coordinator. It is the single entry point external callers use.
//
// Construction defers connecting: the instance is eventually consistent
// right after New, not immediately query-ready.
type Table struct {
	cfg     *Config
	adapter Adapter
	state   *TableState
	engine  *Engine
	updates *UpdateManager
	coord   *SyncCoordinator
	logger  *zap.Logger

	mu        sync.Mutex
	connState ConnectionState
	loading   bool
	lastErr   error
	destroyed bool

	// At most one in-flight cell edit, keyed "rowID:columnID". Starting
	// a new edit implicitly cancels the prior one.
	editKey      string
	editOriginal interface{}
}

// New wires a table to its adapter and kicks off a deferred auto-connect
// so adapter setup can complete first. Pass nil for default config.
func New(adapter Adapter, cfg *Config) *Table {
	if cfg == nil {
		cfg = &Config{Optimistic: true, Realtime: true}
	}
	cfg.fillDefaults()

	state := NewTableState(StateConfig{
		PageSize: cfg.PageSize,
		FilterOptions: FilterOptions{
			CaseSensitive:  cfg.CaseSensitive,
			FuzzyThreshold: cfg.FuzzyThreshold,
		},
		Windower: WindowerConfig{ScrollThreshold: cfg.ScrollThreshold},
		Logger:   cfg.Logger,
	})
	updates := NewUpdateManager(UpdateManagerConfig{
		MaxRetries:        cfg.MaxRetries,
		RetryDelay:        cfg.RetryDelay,
		Timeout:           cfg.Timeout,
		MaxPendingUpdates: cfg.MaxPendingUpdates,
		Logger:            cfg.Logger,
	})

	t := &Table{
		cfg:       cfg,
		adapter:   adapter,
		state:     state,
		engine:    NewEngine(cfg.Logger),
		updates:   updates,
		logger:    cfg.Logger,
		connState: StateDisconnected,
	}

	if cfg.Realtime {
		t.coord = NewSyncCoordinator(adapter, state, updates, SyncCoordinatorConfig{
			Strategy:          cfg.ConflictStrategy,
			Debounce:          cfg.Debounce,
			ReconnectMaxDelay: cfg.ReconnectMaxDelay,
			Logger:            cfg.Logger,
		})
	}

	// Timed-out updates roll back their speculative state change.
	updates.SetTimeoutHandler(func(u Update) {
		if t.isDestroyed() {
			return
		}
		t.rollbackUpdate(u)
	})

	go func() {
		if t.isDestroyed() {
			return
		}
		if err := t.Connect(context.Background()); err != nil {
			t.logger.Warn("auto-connect failed", zap.Error(err))
		}
	}()

	return t
}

// Connect establishes the adapter connection, performs the initial read
// and starts the realtime subscription. Idempotent while connected or
// connecting.
func (t *Table) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		return ErrDestroyed
	}
	if t.connState == StateConnected || t.connState == StateConnecting {
		t.mu.Unlock()
		return nil
	}
	t.connState = StateConnecting
	t.loading = true
	t.mu.Unlock()

	if err := t.adapter.Connect(ctx); err != nil {
		t.setError(StateError, WrapError(ErrorKindConnection, "connect failed", err))
		return t.LastError()
	}

	rows, err := t.adapter.Read(ctx, ReadOptions{})
	if err != nil {
		t.setError(StateError, WrapError(ErrorKindAdapter, "initial read failed", err))
		return t.LastError()
	}

	if t.isDestroyed() {
		return ErrDestroyed
	}
	t.state.SetData(rows)

	t.mu.Lock()
	t.connState = StateConnected
	t.loading = false
	t.lastErr = nil
	coord := t.coord
	t.mu.Unlock()

	if coord != nil {
		coord.Start()
	}
	t.logger.Info("connected", zap.Int("rows", len(rows)))
	return nil
}

// Disconnect stops the realtime subscription and closes the adapter
// connection. The local state is kept.
func (t *Table) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		return ErrDestroyed
	}
	coord := t.coord
	t.connState = StateDisconnected
	t.mu.Unlock()

	if coord != nil {
		coord.Stop()
	}
	if err := t.adapter.Disconnect(ctx); err != nil {
		return WrapError(ErrorKindConnection, "disconnect failed", err)
	}
	return nil
}

// Refresh re-reads the full dataset from the adapter.
func (t *Table) Refresh(ctx context.Context) error {
	if t.isDestroyed() {
		return ErrDestroyed
	}
	t.setLoading(true)
	defer t.setLoading(false)

	rows, err := t.adapter.Read(ctx, ReadOptions{})
	if err != nil {
		t.setError(t.Connection(), WrapError(ErrorKindAdapter, "refresh failed", err))
		t.maybeNotifyDisconnected(err)
		return t.LastError()
	}
	if t.isDestroyed() {
		return ErrDestroyed
	}
	t.state.SetData(rows)
	return nil
}

// --- CRUD ---

// Create persists a new row. With optimistic config a temp row is visible
// immediately and replaced by the confirmed row (deduped against any
// realtime-pushed copy) or removed on failure.
func (t *Table) Create(ctx context.Context, row Row) (Row, error) {
	if t.isDestroyed() {
		return nil, ErrDestroyed
	}

	if !t.cfg.Optimistic {
		confirmed, err := t.adapter.Create(ctx, row)
		if err != nil {
			return nil, t.adapterError("create failed", err)
		}
		if !t.isDestroyed() {
			t.state.UpsertRow(confirmed)
		}
		return confirmed, nil
	}

	speculative := row.Clone()
	if speculative == nil {
		speculative = Row{}
	}
	if speculative.ID() == "" {
		speculative[IDField] = "temp-" + uuid.NewString()
	}
	tempID := speculative.ID()

	update, err := t.updates.AddUpdate(UpdateCreate, speculative, nil)
	if err != nil {
		return nil, err
	}
	t.state.AddRow(speculative)
	t.updates.MarkAsSyncing(update.ID)

	confirmed, err := t.adapter.Create(ctx, row)
	if t.isDestroyed() {
		// Late completion after teardown is disregarded.
		return nil, ErrDestroyed
	}
	if err != nil {
		t.updates.MarkAsFailed(update.ID, err)
		t.state.RemoveRow(tempID)
		return nil, t.adapterError("create failed", err)
	}

	t.updates.MarkAsSynced(update.ID)
	t.state.RemoveRow(tempID)
	// Upsert dedups against a concurrent realtime push of the same id.
	t.state.UpsertRow(confirmed)
	return confirmed, nil
}

// Update merges partial into the row with the given id. Optimistic mode
// applies locally first and rolls back field-for-field on failure.
func (t *Table) Update(ctx context.Context, id string, partial Row) (Row, error) {
	if t.isDestroyed() {
		return nil, ErrDestroyed
	}

	original, exists := t.state.RowByID(id)
	optimistic := t.cfg.Optimistic && exists

	var update Update
	if optimistic {
		u, err := t.updates.AddUpdate(UpdateUpdate, partial.Merge(Row{IDField: id}), original)
		if err != nil {
			return nil, err
		}
		update = u
		t.state.UpdateRow(id, partial)
		t.updates.MarkAsSyncing(update.ID)
	}

	confirmed, err := t.adapter.Update(ctx, id, partial)
	if t.isDestroyed() {
		return nil, ErrDestroyed
	}
	if err != nil {
		if optimistic {
			t.updates.MarkAsFailed(update.ID, err)
			t.state.ReplaceRow(id, original)
		}
		return nil, t.adapterError("update failed", err)
	}

	if optimistic {
		t.updates.MarkAsSynced(update.ID)
	}
	t.state.UpsertRow(confirmed)
	return confirmed, nil
}

// Delete removes the row with the given id. Optimistic mode removes it
// locally first and restores the original on failure.
func (t *Table) Delete(ctx context.Context, id string) error {
	if t.isDestroyed() {
		return ErrDestroyed
	}

	original, exists := t.state.RowByID(id)
	optimistic := t.cfg.Optimistic && exists

	var update Update
	if optimistic {
		u, err := t.updates.AddUpdate(UpdateDelete, Row{IDField: id}, original)
		if err != nil {
			return err
		}
		update = u
		t.state.RemoveRow(id)
		t.updates.MarkAsSyncing(update.ID)
	}

	err := t.adapter.Delete(ctx, id)
	if t.isDestroyed() {
		return ErrDestroyed
	}
	if err != nil {
		if optimistic {
			t.updates.MarkAsFailed(update.ID, err)
			t.state.UpsertRow(original)
		}
		return t.adapterError("delete failed", err)
	}

	if optimistic {
		t.updates.MarkAsSynced(update.ID)
	} else if exists {
		t.state.RemoveRow(id)
	}
	t.state.DeselectRow(id)
	return nil
}

// --- cell editing ---

// StartCellEdit begins editing one cell. Any prior in-flight edit is
// implicitly cancelled.
func (t *Table) StartCellEdit(rowID, column string) error {
	if t.isDestroyed() {
		return ErrDestroyed
	}
	row, ok := t.state.RowByID(rowID)
	if !ok {
		return ErrRowNotFound
	}

	t.mu.Lock()
	t.editKey = rowID + ":" + column
	t.editOriginal = row[column]
	t.mu.Unlock()

	t.state.SetFocusedCell(rowID, column)
	return nil
}

// SaveCellEdit persists the in-flight edit through the regular Update
// path and clears the edit cursor.
func (t *Table) SaveCellEdit(ctx context.Context, value interface{}) (Row, error) {
	t.mu.Lock()
	key := t.editKey
	t.editKey = ""
	t.editOriginal = nil
	t.mu.Unlock()

	if key == "" {
		return nil, ErrNoActiveEdit
	}
	rowID, column, _ := strings.Cut(key, ":")

	t.state.SetFocusedCell("", "")
	return t.Update(ctx, rowID, Row{column: value})
}

// CancelCellEdit abandons the in-flight edit without persisting.
func (t *Table) CancelCellEdit() {
	t.mu.Lock()
	t.editKey = ""
	t.editOriginal = nil
	t.mu.Unlock()
	t.state.SetFocusedCell("", "")
}

// CurrentEdit returns the in-flight edit target, if any.
func (t *Table) CurrentEdit() (rowID, column string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.editKey == "" {
		return "", "", false
	}
	rowID, column, _ = strings.Cut(t.editKey, ":")
	return rowID, column, true
}

// --- passthrough state operations ---

// State exposes the reactive table state for read access to derived
// views.
func (t *Table) State() *TableState { return t.state }

// Engine exposes the validation/transform pass.
func (t *Table) Engine() *Engine { return t.engine }

// Updates exposes the optimistic update queues.
func (t *Table) Updates() *UpdateManager { return t.updates }

// Coordinator returns the realtime sync coordinator, or nil when realtime
// is disabled.
func (t *Table) Coordinator() *SyncCoordinator { return t.coord }

// SetFilter installs a filter (replacing any on the same column) and
// resets pagination.
func (t *Table) SetFilter(f Filter) { t.state.AddFilter(f) }

// ClearFilters removes all filters.
func (t *Table) ClearFilters() { t.state.ClearFilters() }

// SetSort installs the active sort.
func (t *Table) SetSort(column string, direction SortDirection) {
	t.state.SetSort(Sort{Column: column, Direction: direction})
}

// ClearSort removes the active sort.
func (t *Table) ClearSort() { t.state.ClearSort() }

// SetPage moves the page cursor (no-op when out of range).
func (t *Table) SetPage(page int) { t.state.SetPage(page) }

// SetPageSize changes the page size (no-op when <= 0).
func (t *Table) SetPageSize(size int) { t.state.SetPageSize(size) }

// SelectRows adds row ids to the selection set.
func (t *Table) SelectRows(ids ...string) { t.state.SelectRows(ids) }

// DeselectRows removes row ids from the selection set.
func (t *Table) DeselectRows(ids ...string) { t.state.DeselectRows(ids) }

// ClearSelection empties the selection set.
func (t *Table) ClearSelection() { t.state.ClearSelection() }

// ForceSync discards all pending updates and conflicts and re-reads the
// dataset from the adapter.
func (t *Table) ForceSync(ctx context.Context) error {
	if t.isDestroyed() {
		return ErrDestroyed
	}
	if t.coord != nil {
		return t.coord.ForceSync(ctx)
	}
	t.updates.Clear()
	return t.Refresh(ctx)
}

// Validate runs the advisory validation pass over the current dataset.
func (t *Table) Validate(schema Schema) []Issue {
	return t.engine.RunValidation(t.state.Data(), schema)
}

// Export serializes the currently filtered rows (honoring column layout)
// into the requested format.
func (t *Table) Export(format export.Format) ([]byte, error) {
	rows := t.state.FilteredData()
	columns := t.state.VisibleColumns()
	if len(columns) == 0 {
		columns = collectColumns(rows)
	}

	generic := make([]map[string]interface{}, len(rows))
	for i, r := range rows {
		generic[i] = map[string]interface{}(r)
	}
	return export.Export(format, generic, columns)
}

// Stats returns the counters and flags a presentation layer renders from.
func (t *Table) Stats() Stats {
	t.mu.Lock()
	conn := t.connState
	loading := t.loading
	lastErr := t.lastErr
	t.mu.Unlock()

	return Stats{
		TotalRows:      t.state.TotalRows(),
		FilteredRows:   t.state.FilteredCount(),
		SelectedRows:   t.state.SelectionCount(),
		CurrentPage:    t.state.CurrentPage(),
		TotalPages:     t.state.TotalPages(),
		PendingUpdates: t.updates.PendingCount(),
		FailedUpdates:  len(t.updates.FailedUpdates()),
		Conflicts:      len(t.updates.Conflicts()),
		SuccessRate:    t.updates.SuccessRate(),
		AvgSyncTime:    t.updates.AvgSyncTime(),
		Connection:     conn,
		Loading:        loading,
		Err:            lastErr,
	}
}

// Connection returns the lifecycle state.
func (t *Table) Connection() ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connState
}

// LastError returns the most recent orchestrator-level error.
func (t *Table) LastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// Destroy tears the table down: subscriptions, then the adapter
// connection, then state, then the engine. Idempotent; any async result
// arriving afterwards is disregarded.
func (t *Table) Destroy() {
	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		return
	}
	t.destroyed = true
	t.connState = StateDisconnected
	coord := t.coord
	t.mu.Unlock()

	if coord != nil {
		coord.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.adapter.Disconnect(ctx); err != nil {
		t.logger.Warn("disconnect during destroy failed", zap.Error(err))
	}
	t.updates.Clear()
	t.state.Clear()
	t.engine.Reset()
}

// --- internal helpers ---

func (t *Table) isDestroyed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.destroyed
}

func (t *Table) setLoading(v bool) {
	t.mu.Lock()
	t.loading = v
	t.mu.Unlock()
}

func (t *Table) setError(state ConnectionState, err error) {
	t.mu.Lock()
	t.connState = state
	t.loading = false
	t.lastErr = err
	t.mu.Unlock()
}

func (t *Table) adapterError(msg string, err error) error {
	wrapped := WrapError(ErrorKindAdapter, msg, err)
	t.mu.Lock()
	t.lastErr = wrapped
	t.mu.Unlock()
	t.maybeNotifyDisconnected(err)
	return wrapped
}

// maybeNotifyDisconnected hands connection losses to the coordinator's
// reconnect loop.
func (t *Table) maybeNotifyDisconnected(err error) {
	if t.coord == nil || err == nil {
		return
	}
	if !t.adapter.IsConnected() {
		t.mu.Lock()
		t.connState = StateDisconnected
		t.mu.Unlock()
		t.coord.NotifyDisconnected()
	}
}

// rollbackUpdate re-applies the pre-optimistic snapshot after a timeout
// force-failure.
func (t *Table) rollbackUpdate(u Update) {
	switch u.Type {
	case UpdateCreate:
		t.state.RemoveRow(u.RowID())
	case UpdateUpdate:
		if len(u.OriginalData) > 0 {
			t.state.ReplaceRow(u.RowID(), u.OriginalData)
		}
	case UpdateDelete:
		if len(u.OriginalData) > 0 {
			t.state.UpsertRow(u.OriginalData)
		}
	}
}

// collectColumns derives a stable column list from the data when no
// explicit layout is set: id first, the rest sorted by name.
func collectColumns(rows []Row) []string {
	seen := make(map[string]struct{})
	var cols []string
	for _, r := range rows {
		for k := range r {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				cols = append(cols, k)
			}
		}
	}
	sort.Slice(cols, func(i, j int) bool {
		if cols[i] == IDField {
			return cols[j] != IDField
		}
		if cols[j] == IDField {
			return false
		}
		return cols[i] < cols[j]
	})
	return cols
}
