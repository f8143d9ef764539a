package gridkit

import (
	"time"

	"go.uber.org/zap"
)

// Config configures a Table and the components it composes.
type Config struct {
	// Optimistic applies CRUD mutations locally before the adapter
	// confirms them (default: true).
	Optimistic bool

	// Realtime subscribes to the adapter's change-event stream
	// (default: true). Set to false for poll-only usage.
	Realtime bool

	// ConflictStrategy decides what happens when a remote event collides
	// with a pending optimistic update (default: last-write-wins).
	ConflictStrategy ConflictStrategy

	// MaxRetries bounds retry attempts for failed optimistic updates
	// (default: 3).
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff between
	// retries (default: 1s).
	RetryDelay time.Duration

	// Timeout force-fails an optimistic update that has not resolved
	// (default: 30s).
	Timeout time.Duration

	// MaxPendingUpdates caps the pending queue; AddUpdate rejects beyond
	// it (default: 100).
	MaxPendingUpdates int

	// Debounce batches bursts of local updates into one sync flush
	// (default: 300ms).
	Debounce time.Duration

	// ReconnectMaxDelay caps the reconnect backoff (default: 30s).
	ReconnectMaxDelay time.Duration

	// PageSize is the initial pagination page size (default: 50).
	PageSize int

	// CaseSensitive makes string filter operators case-sensitive
	// (default: false).
	CaseSensitive bool

	// FuzzyThreshold is the minimum similarity for the fuzzy operator,
	// in [0,1] (default: 0.8).
	FuzzyThreshold float64

	// ScrollThreshold ignores scroll deltas smaller than this many
	// pixels (default: 10).
	ScrollThreshold float64

	// Logger receives structural events. Defaults to a no-op logger so
	// the library is silent unless configured.
	Logger *zap.Logger
}

// DefaultConfig returns a Config with every field at its default.
func DefaultConfig() *Config {
	c := &Config{Optimistic: true, Realtime: true}
	c.fillDefaults()
	return c
}

// fillDefaults sets defaults for zero values, matching the forgiving
// constructor contract: a partially filled Config is always usable.
func (c *Config) fillDefaults() {
	if c.ConflictStrategy == "" {
		c.ConflictStrategy = ConflictLastWriteWins
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 1 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxPendingUpdates <= 0 {
		c.MaxPendingUpdates = 100
	}
	if c.Debounce <= 0 {
		c.Debounce = 300 * time.Millisecond
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.PageSize <= 0 {
		c.PageSize = 50
	}
	if c.FuzzyThreshold <= 0 || c.FuzzyThreshold > 1 {
		c.FuzzyThreshold = 0.8
	}
	if c.ScrollThreshold <= 0 {
		c.ScrollThreshold = 10
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}
