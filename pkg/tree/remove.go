package tree

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/kekyo/MassivePoints-sub000/pkg/geometry"
	"github.com/kekyo/MassivePoints-sub000/pkg/mperr"
	"github.com/kekyo/MassivePoints-sub000/pkg/storage"
)

// removePoint deletes matching points at a single target point,
// optionally coalescing a subtree left under capacity.
func removePoint[V any](ctx context.Context, sess storage.Session[V], bound geometry.Bound, id storage.NodeID, p geometry.Point, shrink bool, maxNodePoints int) (removed int, remainsHint int, err error) {
	if err := ctx.Err(); err != nil {
		return 0, -1, mperr.ErrCancelled
	}

	node, err := sess.GetNode(ctx, id)
	if err != nil {
		return 0, -1, err
	}
	if node == nil {
		return sess.RemovePoint(ctx, id, p, shrink)
	}

	childBounds := bound.ChildBounds()
	k, ok := bound.ChildIndex(p)
	if !ok {
		return 0, -1, nil
	}

	removedChild, remainsChild, err := removePoint(ctx, sess, childBounds[k], node.Children[k], p, shrink, maxNodePoints)
	if err != nil {
		return 0, -1, err
	}
	if !shrink {
		return removedChild, -1, nil
	}

	remainsHint, err = surveyOtherChildren(ctx, sess, node.Children, k, remainsChild, maxNodePoints)
	if err != nil {
		return 0, -1, err
	}
	if remainsHint < maxNodePoints {
		if err := sess.AggregatePoints(ctx, node.Children, bound, id); err != nil {
			return 0, -1, err
		}
	}
	return removedChild, remainsHint, nil
}

// removeBound deletes matching points within a range target, fanning
// the matching-child recursion out concurrently the same way
// lookupBound does, and optionally coalesces a subtree left under
// capacity.
func removeBound[V any](ctx context.Context, sess storage.Session[V], bound geometry.Bound, id storage.NodeID, b geometry.Bound, rightClosed, shrink bool, maxNodePoints int) (removed int, remainsHint int, err error) {
	if err := ctx.Err(); err != nil {
		return 0, -1, mperr.ErrCancelled
	}

	node, err := sess.GetNode(ctx, id)
	if err != nil {
		return 0, -1, err
	}
	if node == nil {
		return sess.RemoveBound(ctx, id, b, rightClosed, shrink)
	}

	childBounds := bound.ChildBounds()
	matched := make([]bool, len(childBounds))
	removedOf := make([]int, len(childBounds))
	remainsOf := make([]int, len(childBounds))

	g, gctx := errgroup.WithContext(ctx)
	for k, cb := range childBounds {
		if !cb.Intersects(b, rightClosed) {
			continue
		}
		matched[k] = true
		k, cb := k, cb
		childID := node.Children[k]
		g.Go(func() error {
			r, rem, err := removeBound(gctx, sess, cb, childID, b, rightClosed, shrink, maxNodePoints)
			if err != nil {
				return err
			}
			removedOf[k] = r
			remainsOf[k] = rem
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, -1, err
	}

	totalRemoved := 0
	for _, r := range removedOf {
		totalRemoved += r
	}
	if !shrink {
		return totalRemoved, -1, nil
	}

	remainsHint = 0
	for k := range node.Children {
		if remainsHint >= maxNodePoints {
			break
		}
		if matched[k] {
			remainsHint += remainsOf[k]
			continue
		}
		cnt, err := surveyOneChild(ctx, sess, node.Children[k], maxNodePoints)
		if err != nil {
			return 0, -1, err
		}
		remainsHint += cnt
	}
	if remainsHint < maxNodePoints {
		if err := sess.AggregatePoints(ctx, node.Children, bound, id); err != nil {
			return 0, -1, err
		}
	}
	return totalRemoved, remainsHint, nil
}

// surveyOtherChildren adds up the post-delete point count across
// every child except matchedIdx (whose count is already known as
// matchedRemains), short-circuiting as soon as the running total
// reaches maxNodePoints, since no further counting changes the
// coalesce decision past that point.
func surveyOtherChildren[V any](ctx context.Context, sess storage.Session[V], children []storage.NodeID, matchedIdx int, matchedRemains int, maxNodePoints int) (int, error) {
	total := matchedRemains
	for i, cid := range children {
		if i == matchedIdx {
			continue
		}
		if total >= maxNodePoints {
			break
		}
		cnt, err := surveyOneChild(ctx, sess, cid, maxNodePoints)
		if err != nil {
			return 0, err
		}
		total += cnt
	}
	return total, nil
}

// surveyOneChild returns a child's point count for the purpose of a
// coalesce survey. An internal child already holds more than
// maxNodePoints points in its subtree (or it
// would have been coalesced already), so its exact count is never
// needed: reporting maxNodePoints is enough on its own to push the
// running survey total past the coalesce threshold, without a
// potentially expensive recursive count.
func surveyOneChild[V any](ctx context.Context, sess storage.Session[V], id storage.NodeID, maxNodePoints int) (int, error) {
	node, err := sess.GetNode(ctx, id)
	if err != nil {
		return 0, err
	}
	if node != nil {
		return maxNodePoints, nil
	}
	return sess.GetPointCount(ctx, id)
}
