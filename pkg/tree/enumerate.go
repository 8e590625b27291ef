package tree

import (
	"context"
	"iter"

	"github.com/kekyo/MassivePoints-sub000/pkg/geometry"
	"github.com/kekyo/MassivePoints-sub000/pkg/mperr"
	"github.com/kekyo/MassivePoints-sub000/pkg/storage"
)

// enumerateBound produces a single flat, lazy sequence by
// concatenating child sequences in deterministic bit-indexed order,
// without ever materializing an intermediate collection. Unlike
// lookupBound, descent here is not fanned out — the sequence it
// produces must stay single-pass and ordered.
func enumerateBound[V any](ctx context.Context, sess storage.Session[V], bound geometry.Bound, id storage.NodeID, b geometry.Bound, rightClosed bool) iter.Seq2[geometry.PointItem[V], error] {
	return func(yield func(geometry.PointItem[V], error) bool) {
		walkEnumerate(ctx, sess, bound, id, b, rightClosed, yield)
	}
}

// walkEnumerate returns false if the caller asked the sequence to
// stop (via yield returning false) or a terminal error was yielded;
// both cases must propagate upward through every recursive caller so
// descent short-circuits everywhere it is in flight.
func walkEnumerate[V any](ctx context.Context, sess storage.Session[V], bound geometry.Bound, id storage.NodeID, b geometry.Bound, rightClosed bool, yield func(geometry.PointItem[V], error) bool) bool {
	if err := ctx.Err(); err != nil {
		yield(geometry.PointItem[V]{}, mperr.ErrCancelled)
		return false
	}

	node, err := sess.GetNode(ctx, id)
	if err != nil {
		yield(geometry.PointItem[V]{}, err)
		return false
	}

	if node == nil {
		for item, err := range sess.EnumerateBound(ctx, id, b, rightClosed) {
			if err != nil {
				yield(geometry.PointItem[V]{}, err)
				return false
			}
			if !yield(item, nil) {
				return false
			}
		}
		return true
	}

	for k, cb := range bound.ChildBounds() {
		if ctx.Err() != nil {
			yield(geometry.PointItem[V]{}, mperr.ErrCancelled)
			return false
		}
		if !cb.Intersects(b, rightClosed) {
			continue
		}
		if !walkEnumerate(ctx, sess, cb, node.Children[k], b, rightClosed, yield) {
			return false
		}
	}
	return true
}
