package gridkit

import (
	"context"
	"time"
)

// EventType classifies a remote change event.
type EventType string

const (
	EventCreate     EventType = "create"
	EventUpdate     EventType = "update"
	EventDelete     EventType = "delete"
	EventBulkUpdate EventType = "bulk_update"
)

// ChangeEvent is one change pushed by a backend through Subscribe.
type ChangeEvent struct {
	Type      EventType
	Rows      []Row
	Timestamp time.Time
	Source    string
}

// ReadOptions lets an adapter push filtering, sorting and paging down to
// the backend. Adapters are free to ignore any of them; the engine
// re-derives views locally either way.
type ReadOptions struct {
	Filters  []Filter
	Sorts    []Sort
	Page     int
	PageSize int
}

// Adapter is the contract a backend must satisfy. Any backend (REST, a
// managed document store, a relational backend, an in-memory store)
// implementing it is interchangeable without engine changes.
type Adapter interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool

	// Create persists a new row and returns it with its server-assigned
	// id populated.
	Create(ctx context.Context, row Row) (Row, error)

	// Read returns rows matching opts. A zero ReadOptions reads all.
	Read(ctx context.Context, opts ReadOptions) ([]Row, error)

	// Update merges partial into the row with the given id and returns
	// the resulting row.
	Update(ctx context.Context, id string, partial Row) (Row, error)

	// Delete removes the row with the given id.
	Delete(ctx context.Context, id string) error

	// Subscribe registers a callback for remote change events and
	// returns an unsubscribe function. Adapters without a push channel
	// may poll internally or return a no-op unsubscribe.
	Subscribe(callback func(ChangeEvent)) (unsubscribe func())
}
