// Package types defines the data model and error taxonomy shared across the
// memory engine: records, embeddings, relationship edges, prospective
// triggers, circuit breaker state, and runtime configuration.
package types

import (
	"errors"
	"fmt"
)

// Sentinel errors. Every package that touches storage wraps the underlying
// driver error with one of these via WrapError so callers can use
// errors.Is regardless of which component raised it.
var (
	// ErrNotFound indicates a get/update against an unknown id.
	ErrNotFound = errors.New("not found")

	// ErrInput indicates an invalid record or argument: a missing required
	// field, an out-of-range value, or a nil content in a context that
	// requires it.
	ErrInput = errors.New("invalid input")

	// ErrPoolTimeout indicates a pool checkout exceeded its timeout.
	ErrPoolTimeout = errors.New("pool checkout timed out")

	// ErrBreakerOpen indicates a call was short-circuited by an open
	// circuit breaker.
	ErrBreakerOpen = errors.New("circuit breaker open")

	// ErrEmbedderUnavailable indicates the embedder is not installed or
	// failed to load. Distinguished from a generic failure so hybrid
	// search can degrade to BM25-only.
	ErrEmbedderUnavailable = errors.New("embedder unavailable")

	// ErrIO indicates an underlying storage surface failure (disk, driver).
	ErrIO = errors.New("storage io error")

	// ErrCorrupt marks a persisted blob that failed validation. The
	// record store's List skips and counts such files; single-record
	// reads (store Get, trigger row scans) return it wrapped.
	ErrCorrupt = errors.New("corrupt record")
)

// WrapError wraps err with an operation label and one of the sentinels
// above, preserving errors.Is/As compatibility. A nil err returns nil.
func WrapError(op string, sentinel, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, sentinel, err)
}

// PoolTimeoutError carries the number of outstanding handles at the time
// checkout gave up, per spec §4.A ("message includes the count of
// outstanding handles").
type PoolTimeoutError struct {
	Path        string
	Outstanding int
	Timeout     string
}

func (e *PoolTimeoutError) Error() string {
	return fmt.Sprintf("pool checkout for %q timed out after %s with %d outstanding handles",
		e.Path, e.Timeout, e.Outstanding)
}

func (e *PoolTimeoutError) Unwrap() error { return ErrPoolTimeout }

// BreakerOpenError carries the breaker name and failure count, per
// spec §4.G ("message includes name and failure count").
type BreakerOpenError struct {
	Name          string
	FailureCount  int
}

func (e *BreakerOpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is OPEN (%d consecutive failures)", e.Name, e.FailureCount)
}

func (e *BreakerOpenError) Unwrap() error { return ErrBreakerOpen }
