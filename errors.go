package gridkit

import (
	"errors"
	"fmt"
)

var (
	ErrDestroyed       = errors.New("table is destroyed")
	ErrNotConnected    = errors.New("adapter is not connected")
	ErrRowNotFound     = errors.New("row not found")
	ErrTooManyPending  = errors.New("too many pending updates")
	ErrNoOriginalData  = errors.New("no original data captured for rollback")
	ErrUpdateNotFound  = errors.New("optimistic update not found")
	ErrNoActiveEdit    = errors.New("no cell edit in progress")
	ErrUnknownFormat   = errors.New("unknown export format")
	ErrUpdateTimeout   = errors.New("update timeout")
	ErrRetriesExceeded = errors.New("max retries exceeded")
)

// ErrorKind categorizes orchestrator-level failures so callers can react
// without string matching.
type ErrorKind string

const (
	ErrorKindConnection ErrorKind = "connection"
	ErrorKindAdapter    ErrorKind = "adapter"
	ErrorKindConflict   ErrorKind = "conflict"
	ErrorKindTimeout    ErrorKind = "timeout"
	ErrorKindConfig     ErrorKind = "config"
)

// GridError is a categorized error wrapping an underlying cause. Only the
// orchestrator layer produces these; state mutators never error and
// validation findings are data, not errors.
type GridError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *GridError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *GridError) Unwrap() error { return e.Cause }

// NewError creates a GridError with the given kind and message.
func NewError(kind ErrorKind, message string) *GridError {
	return &GridError{Kind: kind, Message: message}
}

// WrapError wraps a cause into a GridError.
func WrapError(kind ErrorKind, message string, cause error) *GridError {
	return &GridError{Kind: kind, Message: message, Cause: cause}
}

// IsKind reports whether err is (or wraps) a GridError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ge *GridError
	if errors.As(err, &ge) {
		return ge.Kind == kind
	}
	return false
}
