// Package tree implements the storage-agnostic N-dimensional spatial
// index algorithm: insert, bulk insert, point and range lookup,
// streaming enumeration, and point/range removal with optional
// coalescing. The algorithm itself holds no mutable state across
// calls — all tree state lives behind a storage.Adapter[V], and the
// same code runs unchanged over the in-memory and relational
// backends.
package tree

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kekyo/MassivePoints-sub000/pkg/geometry"
	"github.com/kekyo/MassivePoints-sub000/pkg/mperr"
	"github.com/kekyo/MassivePoints-sub000/pkg/storage"
	"github.com/kekyo/MassivePoints-sub000/pkg/storage/memstore"
)

// DefaultBulkBlockSize is the default batch size InsertPointsBulk
// slices its input into.
const DefaultBulkBlockSize = 100_000

// Tree is the typed entry point over a storage.Adapter[V]. It opens
// read and update sessions; the sessions, not the Tree, carry the
// actual operations.
type Tree[V any] struct {
	adapter storage.Adapter[V]
	logger  *slog.Logger
}

// NewInMemory creates a Tree backed by the in-memory storage adapter,
// covering bound with the given per-leaf capacity.
func NewInMemory[V any](bound geometry.Bound, maxNodePoints int) (*Tree[V], error) {
	if bound.Dimension() < 1 {
		return nil, fmt.Errorf("tree: bound must have at least one axis")
	}
	return New[V](memstore.New[V](bound, maxNodePoints))
}

// New creates a Tree over a caller-supplied storage adapter, e.g. the
// relational sqlstore adapter.
func New[V any](adapter storage.Adapter[V]) (*Tree[V], error) {
	if adapter == nil {
		return nil, fmt.Errorf("tree: adapter must not be nil")
	}
	return &Tree[V]{adapter: adapter, logger: discardLogger()}, nil
}

// WithLogger attaches a structured logger for session open/finish,
// single inserts and bulk-insert completion. Splits, coalesces and
// rollbacks are not logged. A nil logger restores the no-op default.
func (t *Tree[V]) WithLogger(logger *slog.Logger) *Tree[V] {
	if logger == nil {
		logger = discardLogger()
	}
	t.logger = logger
	return t
}

// Entire returns the root bound of the tree.
func (t *Tree[V]) Entire() geometry.Bound {
	return t.adapter.Entire()
}

// MaxNodePoints returns the per-leaf capacity before a forced split.
func (t *Tree[V]) MaxNodePoints() int {
	return t.adapter.MaxNodePoints()
}

// BeginReadSession opens a read-only session: concurrent with other
// readers, exclusive of any writer.
func (t *Tree[V]) BeginReadSession(ctx context.Context) (*ReadSession[V], error) {
	s, err := t.adapter.BeginSession(ctx, false)
	if err != nil {
		return nil, err
	}
	t.logger.DebugContext(ctx, "read session opened")
	return &ReadSession[V]{tree: t, storage: s}, nil
}

// BeginUpdateSession opens a read-write session: exclusive of every
// other session on the in-memory backend, a serializable transaction
// on the relational backend.
func (t *Tree[V]) BeginUpdateSession(ctx context.Context) (*UpdateSession[V], error) {
	s, err := t.adapter.BeginSession(ctx, true)
	if err != nil {
		return nil, err
	}
	t.logger.DebugContext(ctx, "update session opened")
	return &UpdateSession[V]{ReadSession: ReadSession[V]{tree: t, storage: s}}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func checkDimension(b geometry.Bound, got int) error {
	if b.Dimension() != got {
		return fmt.Errorf("%w: tree is %d-dimensional, got %d", mperr.ErrDimensionMismatch, b.Dimension(), got)
	}
	return nil
}
