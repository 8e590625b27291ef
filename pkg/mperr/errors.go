// pkg/mperr/errors.go
package mperr

import (
	"errors"
	"fmt"
)

// Sentinel errors for the taxonomy of §7: caller errors, backend
// errors, corruption, cancellation and closed-session errors. Callers
// should match these with errors.Is, since BackendError and internal
// wrapping preserve the chain.
var (
	// ErrOutOfBounds is returned when a point being inserted does not
	// satisfy the root bound's containment predicate.
	ErrOutOfBounds = errors.New("massivepoints: point out of root bounds")

	// ErrDimensionMismatch is returned when a point or bound's
	// dimensionality disagrees with the tree's.
	ErrDimensionMismatch = errors.New("massivepoints: dimension mismatch")

	// ErrInvariantViolation signals the backend reported node state
	// that breaks a stated tree invariant. Fatal: it signals corruption.
	ErrInvariantViolation = errors.New("massivepoints: invariant violation")

	// ErrCancelled is returned when an operation is aborted via its
	// context. The owning session becomes rollback-only.
	ErrCancelled = errors.New("massivepoints: operation cancelled")

	// ErrSessionClosed is returned for any operation attempted after
	// Finish or after the session's scope has exited.
	ErrSessionClosed = errors.New("massivepoints: session is closed")

	// ErrReadOnlySession is returned when a write operation is
	// attempted on a session opened with willUpdate=false.
	ErrReadOnlySession = errors.New("massivepoints: session is read-only")
)

// BackendError wraps a storage-adapter-reported failure (I/O, SQL
// error, constraint violation). The core never retries it; it only
// surfaces it, preserving the cause for errors.As/errors.Unwrap.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("massivepoints: backend failure during %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Backend wraps err as a BackendError tagged with the adapter
// operation that failed. Returns nil if err is nil.
func Backend(op string, err error) error {
	if err == nil {
		return nil
	}
	return &BackendError{Op: op, Err: err}
}

// Invariant reports an InvariantViolation with context, e.g. the node
// id and the unexpected structural fact the backend returned.
func Invariant(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariantViolation, fmt.Sprintf(format, args...))
}
