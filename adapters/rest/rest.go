// Package rest provides an Adapter over a JSON/HTTP CRUD backend. It is a
// thin transport shim: rows map to a resource collection and realtime
// change events are synthesized by polling and diffing snapshots.
package rest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"

	gridkit "github.com/gridkit/gridkit"
)

// Config configures the REST adapter.
type Config struct {
	// BaseURL is the API root, e.g. "https://api.example.com".
	BaseURL string
	// Resource is the collection path segment, e.g. "tasks".
	Resource string
	// Headers are added to every request (authorization etc.).
	Headers map[string]string
	// PollInterval drives the Subscribe diff loop (default: 5s).
	PollInterval time.Duration
	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// Adapter is a gridkit.Adapter speaking JSON over HTTP.
type Adapter struct {
	cfg    Config
	client *http.Client

	mu          sync.Mutex
	connected   bool
	subscribers map[int]func(gridkit.ChangeEvent)
	nextSubID   int
	pollCancel  context.CancelFunc
	lastSeen    map[string]gridkit.Row
}

// New creates a REST adapter.
func New(cfg Config) *Adapter {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Adapter{
		cfg:         cfg,
		client:      client,
		subscribers: make(map[int]func(gridkit.ChangeEvent)),
	}
}

// Connect probes the collection endpoint to verify reachability.
func (a *Adapter) Connect(ctx context.Context) error {
	if _, err := a.fetchAll(ctx); err != nil {
		return fmt.Errorf("connect probe failed: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = true
	return nil
}

// Disconnect stops polling and marks the adapter disconnected.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	if a.pollCancel != nil {
		a.pollCancel()
		a.pollCancel = nil
	}
	return nil
}

// IsConnected reports the connection flag.
func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// Create POSTs a new row to the collection.
func (a *Adapter) Create(ctx context.Context, row gridkit.Row) (gridkit.Row, error) {
	return a.rowRequest(ctx, http.MethodPost, a.collectionURL(), row)
}

// Read GETs the collection. Filter/sort/page pushdown is not attempted;
// backends vary too much, and the engine re-derives views locally.
func (a *Adapter) Read(ctx context.Context, opts gridkit.ReadOptions) ([]gridkit.Row, error) {
	return a.fetchAll(ctx)
}

// Update PATCHes one resource.
func (a *Adapter) Update(ctx context.Context, id string, partial gridkit.Row) (gridkit.Row, error) {
	return a.rowRequest(ctx, http.MethodPatch, a.itemURL(id), partial)
}

// Delete removes one resource.
func (a *Adapter) Delete(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, a.itemURL(id), nil)
	if err != nil {
		return err
	}
	a.applyHeaders(req)

	resp, err := a.client.Do(req)
	if err != nil {
		a.markDisconnected()
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("delete %s: unexpected status %d", id, resp.StatusCode)
	}
	return nil
}

// Subscribe starts the polling diff loop on the first subscriber and
// fans events out to all of them.
func (a *Adapter) Subscribe(callback func(gridkit.ChangeEvent)) func() {
	a.mu.Lock()
	id := a.nextSubID
	a.nextSubID++
	a.subscribers[id] = callback

	if a.pollCancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		a.pollCancel = cancel
		go a.pollLoop(ctx)
	}
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.subscribers, id)
		if len(a.subscribers) == 0 && a.pollCancel != nil {
			a.pollCancel()
			a.pollCancel = nil
		}
	}
}

// pollLoop periodically re-reads the collection and diffs it against the
// previous snapshot, emitting synthetic create/update/delete events.
func (a *Adapter) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rows, err := a.fetchAll(ctx)
			if err != nil {
				continue
			}
			a.diffAndNotify(rows)
		}
	}
}

func (a *Adapter) diffAndNotify(rows []gridkit.Row) {
	now := time.Now()
	current := make(map[string]gridkit.Row, len(rows))
	for _, r := range rows {
		current[r.ID()] = r
	}

	a.mu.Lock()
	previous := a.lastSeen
	a.lastSeen = current
	callbacks := make([]func(gridkit.ChangeEvent), 0, len(a.subscribers))
	for _, cb := range a.subscribers {
		callbacks = append(callbacks, cb)
	}
	a.mu.Unlock()

	if previous == nil || len(callbacks) == 0 {
		return
	}

	var created, updated, deleted []gridkit.Row
	for id, row := range current {
		prev, ok := previous[id]
		if !ok {
			created = append(created, row)
		} else if !equalRows(prev, row) {
			updated = append(updated, row)
		}
	}
	for id, row := range previous {
		if _, ok := current[id]; !ok {
			deleted = append(deleted, row)
		}
	}

	emit := func(t gridkit.EventType, changed []gridkit.Row) {
		if len(changed) == 0 {
			return
		}
		ev := gridkit.ChangeEvent{Type: t, Rows: changed, Timestamp: now, Source: "rest-poll"}
		for _, cb := range callbacks {
			cb(ev)
		}
	}
	emit(gridkit.EventCreate, created)
	emit(gridkit.EventUpdate, updated)
	emit(gridkit.EventDelete, deleted)
}

func equalRows(a, b gridkit.Row) bool {
	ab, err1 := json.Marshal(a)
	bb, err2 := json.Marshal(b)
	return err1 == nil && err2 == nil && bytes.Equal(ab, bb)
}

func (a *Adapter) fetchAll(ctx context.Context) ([]gridkit.Row, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.collectionURL(), nil)
	if err != nil {
		return nil, err
	}
	a.applyHeaders(req)

	resp, err := a.client.Do(req)
	if err != nil {
		a.markDisconnected()
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("read: unexpected status %d", resp.StatusCode)
	}

	var rows []gridkit.Row
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("read: decode failed: %w", err)
	}
	return rows, nil
}

func (a *Adapter) rowRequest(ctx context.Context, method, url string, body gridkit.Row) (gridkit.Row, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	a.applyHeaders(req)

	resp, err := a.client.Do(req)
	if err != nil {
		a.markDisconnected()
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s: unexpected status %d", method, url, resp.StatusCode)
	}

	var row gridkit.Row
	if err := json.NewDecoder(resp.Body).Decode(&row); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return row, nil
}

func (a *Adapter) applyHeaders(req *http.Request) {
	for k, v := range a.cfg.Headers {
		req.Header.Set(k, v)
	}
}

func (a *Adapter) markDisconnected() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
}

func (a *Adapter) collectionURL() string {
	return fmt.Sprintf("%s/%s", a.cfg.BaseURL, a.cfg.Resource)
}

func (a *Adapter) itemURL(id string) string {
	return fmt.Sprintf("%s/%s/%s", a.cfg.BaseURL, a.cfg.Resource, id)
}
