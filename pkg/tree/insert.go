package tree

import (
	"context"

	"github.com/kekyo/MassivePoints-sub000/pkg/geometry"
	"github.com/kekyo/MassivePoints-sub000/pkg/mperr"
	"github.com/kekyo/MassivePoints-sub000/pkg/storage"
)

// insertPoint descends from id/bound, splitting a full leaf and
// recursing into the child that contains p.
func insertPoint[V any](ctx context.Context, sess storage.Session[V], bound geometry.Bound, id storage.NodeID, p geometry.Point, v V, depth int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, mperr.ErrCancelled
	}

	node, err := sess.GetNode(ctx, id)
	if err != nil {
		return 0, err
	}

	if node == nil {
		// Leaf. Try a direct insert first.
		taken, err := sess.InsertPoints(ctx, id, []geometry.PointItem[V]{{Point: p, Value: v}}, 0, bound.IsZeroMeasure())
		if err != nil {
			return 0, err
		}
		if taken == 1 {
			return depth, nil
		}

		// Full and splittable: distribute into 2^d fresh children, then
		// fall through to the internal-node path below with the node we
		// just created.
		childBounds := bound.ChildBounds()
		node, err = sess.DistributePoints(ctx, id, childBounds)
		if err != nil {
			return 0, err
		}
	}

	childBounds := bound.ChildBounds()
	k, ok := bound.ChildIndex(p)
	if !ok {
		return 0, mperr.Invariant("point %v not contained by node %d's bound during descent", p, id)
	}
	return insertPoint(ctx, sess, childBounds[k], node.Children[k], p, v, depth+1)
}

func mapOutOfBounds(p geometry.Point) error {
	return mperr.ErrOutOfBounds
}
