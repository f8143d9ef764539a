// Package memory provides an in-memory Adapter. It is the reference
// backend: fully functional, dependency-free and instant, which makes it
// the adapter of choice for tests and demos. Simulate helpers let tests
// inject server-push events and failures.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	gridkit "github.com/gridkit/gridkit"
)

// Config configures the in-memory adapter.
type Config struct {
	// Latency is an artificial delay applied to every call, to exercise
	// optimistic paths in tests.
	Latency time.Duration
	// Seed preloads the store.
	Seed []gridkit.Row
}

// Adapter is an in-memory implementation of gridkit.Adapter.
type Adapter struct {
	mu        sync.Mutex
	connected bool
	latency   time.Duration

	rows  map[string]gridkit.Row
	order []string

	subscribers map[int]func(gridkit.ChangeEvent)
	nextSubID   int

	nextRowID int
	failNext  error
}

// New creates an adapter, optionally seeded with rows.
func New(cfg Config) *Adapter {
	a := &Adapter{
		latency:     cfg.Latency,
		rows:        make(map[string]gridkit.Row),
		subscribers: make(map[int]func(gridkit.ChangeEvent)),
	}
	for _, r := range cfg.Seed {
		a.storeLocked(r.Clone())
	}
	return a
}

// Connect marks the adapter connected.
func (a *Adapter) Connect(ctx context.Context) error {
	if err := a.simulate(ctx); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = true
	return nil
}

// Disconnect marks the adapter disconnected.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	return nil
}

// IsConnected reports the connection flag.
func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// Create stores a new row, assigning an id when absent.
func (a *Adapter) Create(ctx context.Context, row gridkit.Row) (gridkit.Row, error) {
	if err := a.simulate(ctx); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	stored := row.Clone()
	if stored == nil {
		stored = gridkit.Row{}
	}
	id := stored.ID()
	if id == "" || strings.HasPrefix(id, "temp-") {
		a.nextRowID++
		stored[gridkit.IDField] = fmt.Sprintf("row-%d", a.nextRowID)
	}
	a.storeLocked(stored)
	return stored.Clone(), nil
}

// Read returns all rows, honoring filter/sort pushdown when requested.
func (a *Adapter) Read(ctx context.Context, opts gridkit.ReadOptions) ([]gridkit.Row, error) {
	if err := a.simulate(ctx); err != nil {
		return nil, err
	}

	a.mu.Lock()
	rows := make([]gridkit.Row, 0, len(a.order))
	for _, id := range a.order {
		rows = append(rows, a.rows[id].Clone())
	}
	a.mu.Unlock()

	rows = gridkit.ApplyFilters(rows, opts.Filters, gridkit.BoolAnd, gridkit.FilterOptions{})
	rows = gridkit.ApplySort(rows, opts.Sorts)

	if opts.PageSize > 0 {
		start := opts.Page * opts.PageSize
		if start >= len(rows) {
			return []gridkit.Row{}, nil
		}
		end := start + opts.PageSize
		if end > len(rows) {
			end = len(rows)
		}
		rows = rows[start:end]
	}
	return rows, nil
}

// Update merges partial into the stored row.
func (a *Adapter) Update(ctx context.Context, id string, partial gridkit.Row) (gridkit.Row, error) {
	if err := a.simulate(ctx); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	existing, ok := a.rows[id]
	if !ok {
		return nil, fmt.Errorf("row %q not found", id)
	}
	merged := existing.Merge(partial)
	merged[gridkit.IDField] = id
	a.rows[id] = merged
	return merged.Clone(), nil
}

// Delete removes the stored row.
func (a *Adapter) Delete(ctx context.Context, id string) error {
	if err := a.simulate(ctx); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.rows[id]; !ok {
		return fmt.Errorf("row %q not found", id)
	}
	delete(a.rows, id)
	for i, oid := range a.order {
		if oid == id {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
	return nil
}

// Subscribe registers a change-event callback. Local CRUD calls do not
// echo events; use the Simulate helpers to model server pushes.
func (a *Adapter) Subscribe(callback func(gridkit.ChangeEvent)) func() {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.nextSubID
	a.nextSubID++
	a.subscribers[id] = callback

	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.subscribers, id)
	}
}

// --- simulation helpers for tests ---

// FailNext makes the next adapter call return err.
func (a *Adapter) FailNext(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failNext = err
}

// SimulateRemoteCreate stores a row and pushes a create event to
// subscribers, as if another client wrote it.
func (a *Adapter) SimulateRemoteCreate(row gridkit.Row) {
	a.mu.Lock()
	a.storeLocked(row.Clone())
	a.mu.Unlock()
	a.broadcast(gridkit.EventCreate, row)
}

// SimulateRemoteUpdate merges partial into a stored row and pushes an
// update event with the full resulting row.
func (a *Adapter) SimulateRemoteUpdate(id string, partial gridkit.Row) {
	a.mu.Lock()
	existing, ok := a.rows[id]
	if !ok {
		a.mu.Unlock()
		return
	}
	merged := existing.Merge(partial)
	merged[gridkit.IDField] = id
	a.rows[id] = merged
	snapshot := merged.Clone()
	a.mu.Unlock()
	a.broadcast(gridkit.EventUpdate, snapshot)
}

// SimulateRemoteDelete removes a stored row and pushes a delete event.
func (a *Adapter) SimulateRemoteDelete(id string) {
	a.mu.Lock()
	row, ok := a.rows[id]
	if !ok {
		a.mu.Unlock()
		return
	}
	snapshot := row.Clone()
	delete(a.rows, id)
	for i, oid := range a.order {
		if oid == id {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
	a.mu.Unlock()
	a.broadcast(gridkit.EventDelete, snapshot)
}

// Size returns the stored row count.
func (a *Adapter) Size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.rows)
}

func (a *Adapter) storeLocked(row gridkit.Row) {
	id := row.ID()
	if _, exists := a.rows[id]; !exists {
		a.order = append(a.order, id)
	}
	a.rows[id] = row
}

func (a *Adapter) broadcast(t gridkit.EventType, row gridkit.Row) {
	a.mu.Lock()
	callbacks := make([]func(gridkit.ChangeEvent), 0, len(a.subscribers))
	for _, cb := range a.subscribers {
		callbacks = append(callbacks, cb)
	}
	a.mu.Unlock()

	ev := gridkit.ChangeEvent{
		Type:      t,
		Rows:      []gridkit.Row{row.Clone()},
		Timestamp: time.Now(),
		Source:    "memory",
	}
	for _, cb := range callbacks {
		cb(ev)
	}
}

// simulate applies the configured latency and consumes any injected
// failure.
func (a *Adapter) simulate(ctx context.Context) error {
	a.mu.Lock()
	err := a.failNext
	a.failNext = nil
	latency := a.latency
	a.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
