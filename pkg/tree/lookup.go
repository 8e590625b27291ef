package tree

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/kekyo/MassivePoints-sub000/pkg/geometry"
	"github.com/kekyo/MassivePoints-sub000/pkg/mperr"
	"github.com/kekyo/MassivePoints-sub000/pkg/storage"
)

// lookupPoint descends to the unique leaf that could contain p and
// returns every item stored there matching it exactly.
func lookupPoint[V any](ctx context.Context, sess storage.Session[V], bound geometry.Bound, id storage.NodeID, p geometry.Point) ([]geometry.PointItem[V], error) {
	if err := ctx.Err(); err != nil {
		return nil, mperr.ErrCancelled
	}

	node, err := sess.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return sess.LookupPoint(ctx, id, p)
	}

	childBounds := bound.ChildBounds()
	k, ok := bound.ChildIndex(p)
	if !ok {
		return nil, nil
	}
	return lookupPoint(ctx, sess, childBounds[k], node.Children[k], p)
}

// lookupBound recurses into every child whose bound intersects b,
// fanning the recursion out concurrently, and concatenates the
// results in bit-indexed child order.
func lookupBound[V any](ctx context.Context, sess storage.Session[V], bound geometry.Bound, id storage.NodeID, b geometry.Bound, rightClosed bool) ([]geometry.PointItem[V], error) {
	if err := ctx.Err(); err != nil {
		return nil, mperr.ErrCancelled
	}

	node, err := sess.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return sess.LookupBound(ctx, id, b, rightClosed)
	}

	childBounds := bound.ChildBounds()
	results := make([][]geometry.PointItem[V], len(childBounds))

	g, gctx := errgroup.WithContext(ctx)
	for k, cb := range childBounds {
		if !cb.Intersects(b, rightClosed) {
			continue
		}
		k, cb := k, cb
		childID := node.Children[k]
		g.Go(func() error {
			items, err := lookupBound(gctx, sess, cb, childID, b, rightClosed)
			if err != nil {
				return err
			}
			results[k] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []geometry.PointItem[V]
	for _, items := range results {
		out = append(out, items...)
	}
	return out, nil
}
