package tree

import (
	"context"
	"iter"

	"github.com/kekyo/MassivePoints-sub000/pkg/geometry"
	"github.com/kekyo/MassivePoints-sub000/pkg/storage"
)

// ReadSession is a scoped, lookup-only handle on a Tree. It must be
// disposed (or finished, for UpdateSession) exactly once; letting it
// go out of scope without doing so leaves the backend's concurrency
// primitive held.
type ReadSession[V any] struct {
	tree    *Tree[V]
	storage storage.Session[V]
}

// Entire returns the tree's root bound.
func (s *ReadSession[V]) Entire() geometry.Bound {
	return s.tree.adapter.Entire()
}

// LookupPoint returns every item stored at exactly p.
func (s *ReadSession[V]) LookupPoint(ctx context.Context, p geometry.Point) ([]geometry.PointItem[V], error) {
	if err := checkDimension(s.Entire(), p.Dimension()); err != nil {
		return nil, err
	}
	return lookupPoint(ctx, s.storage, s.Entire(), storage.RootID, p)
}

// LookupBound returns every item within b, unordered.
func (s *ReadSession[V]) LookupBound(ctx context.Context, b geometry.Bound, rightClosed bool) ([]geometry.PointItem[V], error) {
	if err := checkDimension(s.Entire(), b.Dimension()); err != nil {
		return nil, err
	}
	return lookupBound(ctx, s.storage, s.Entire(), storage.RootID, b, rightClosed)
}

// EnumerateBound returns a lazy, single-pass, cancellable sequence
// over every item within b, in deterministic bit-indexed child order.
func (s *ReadSession[V]) EnumerateBound(ctx context.Context, b geometry.Bound, rightClosed bool) iter.Seq2[geometry.PointItem[V], error] {
	if err := checkDimension(s.Entire(), b.Dimension()); err != nil {
		return func(yield func(geometry.PointItem[V], error) bool) {
			yield(geometry.PointItem[V]{}, err)
		}
	}
	return enumerateBound(ctx, s.storage, s.Entire(), storage.RootID, b, rightClosed)
}

// Dispose rolls back the session (a no-op on an already-finished one).
func (s *ReadSession[V]) Dispose(ctx context.Context) error {
	return s.storage.Dispose(ctx)
}

// UpdateSession adds mutation operations over a ReadSession.
type UpdateSession[V any] struct {
	ReadSession[V]
}

// InsertPoint inserts a single (p, v) pair and returns the depth of
// the leaf it landed in.
func (s *UpdateSession[V]) InsertPoint(ctx context.Context, p geometry.Point, v V) (int, error) {
	if err := checkDimension(s.Entire(), p.Dimension()); err != nil {
		return 0, err
	}
	if !s.Entire().Contains(p, false) {
		return 0, mapOutOfBounds(p)
	}
	depth, err := insertPoint(ctx, s.storage, s.Entire(), storage.RootID, p, v, 0)
	if err != nil {
		return 0, err
	}
	s.tree.logger.DebugContext(ctx, "point inserted", "depth", depth)
	return depth, nil
}

// InsertPointsBulk inserts a batch of items, slicing it into blocks of
// blockSize (DefaultBulkBlockSize if <= 0), and returns the maximum
// observed depth across the whole batch.
func (s *UpdateSession[V]) InsertPointsBulk(ctx context.Context, items []geometry.PointItem[V], blockSize int) (int, error) {
	if blockSize <= 0 {
		blockSize = DefaultBulkBlockSize
	}
	for _, it := range items {
		if err := checkDimension(s.Entire(), it.Point.Dimension()); err != nil {
			return 0, err
		}
		if !s.Entire().Contains(it.Point, false) {
			return 0, mapOutOfBounds(it.Point)
		}
	}

	maxDepth := 0
	for offset := 0; offset < len(items); offset += blockSize {
		end := offset + blockSize
		if end > len(items) {
			end = len(items)
		}
		block := items[offset:end]
		depth, err := bulkInsert(ctx, s.storage, s.Entire(), storage.RootID, block, 0, 0)
		if err != nil {
			return 0, err
		}
		if depth > maxDepth {
			maxDepth = depth
		}
	}
	s.tree.logger.DebugContext(ctx, "bulk insert complete", "count", len(items), "maxDepth", maxDepth)
	return maxDepth, nil
}

// RemovePoint deletes every item at exactly p. shrink additionally
// coalesces subtrees left under capacity.
func (s *UpdateSession[V]) RemovePoint(ctx context.Context, p geometry.Point, shrink bool) (int, error) {
	if err := checkDimension(s.Entire(), p.Dimension()); err != nil {
		return 0, err
	}
	removed, _, err := removePoint(ctx, s.storage, s.Entire(), storage.RootID, p, shrink, s.tree.adapter.MaxNodePoints())
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// RemoveBound deletes every item within b. shrink additionally
// coalesces subtrees left under capacity.
func (s *UpdateSession[V]) RemoveBound(ctx context.Context, b geometry.Bound, rightClosed, shrink bool) (int, error) {
	if err := checkDimension(s.Entire(), b.Dimension()); err != nil {
		return 0, err
	}
	removed, _, err := removeBound(ctx, s.storage, s.Entire(), storage.RootID, b, rightClosed, shrink, s.tree.adapter.MaxNodePoints())
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// Flush commits a partial checkpoint and reopens a new underlying
// transaction (a no-op on the in-memory backend).
func (s *UpdateSession[V]) Flush(ctx context.Context) error {
	return s.storage.Flush(ctx)
}

// Finish commits the session.
func (s *UpdateSession[V]) Finish(ctx context.Context) error {
	err := s.storage.Finish(ctx)
	if err == nil {
		s.tree.logger.DebugContext(ctx, "update session finished")
	}
	return err
}
