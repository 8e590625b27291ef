package tree

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kekyo/MassivePoints-sub000/pkg/geometry"
	"github.com/kekyo/MassivePoints-sub000/pkg/mperr"
	"github.com/kekyo/MassivePoints-sub000/pkg/storage"
)

// bulkInsert inserts a single block of points at node id/bound,
// starting at offset. Children are partitioned sequentially (pure,
// in-process slicing) and then recursed into concurrently via an
// errgroup, which gives an "abort siblings on first error, join
// before returning" contract for free.
func bulkInsert[V any](ctx context.Context, sess storage.Session[V], bound geometry.Bound, id storage.NodeID, points []geometry.PointItem[V], offset int, depth int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, mperr.ErrCancelled
	}

	node, err := sess.GetNode(ctx, id)
	if err != nil {
		return 0, err
	}

	if node == nil {
		taken, err := sess.InsertPoints(ctx, id, points, offset, bound.IsZeroMeasure())
		if err != nil {
			return 0, err
		}
		offset += taken
		if offset >= len(points) {
			return depth, nil
		}
		childBounds := bound.ChildBounds()
		node, err = sess.DistributePoints(ctx, id, childBounds)
		if err != nil {
			return 0, err
		}
	}

	childBounds := bound.ChildBounds()
	childCount := len(childBounds)
	partitions := make([][]geometry.PointItem[V], childCount)
	for i := offset; i < len(points); i++ {
		item := points[i]
		k, ok := bound.ChildIndex(item.Point)
		if !ok {
			return 0, mperr.Invariant("point %v not contained by node %d's bound during bulk descent", item.Point, id)
		}
		partitions[k] = append(partitions[k], item)
	}

	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	maxDepth := depth

	for k := 0; k < childCount; k++ {
		sub := partitions[k]
		if len(sub) == 0 {
			continue
		}
		childID := node.Children[k]
		childBound := childBounds[k]
		g.Go(func() error {
			d, err := bulkInsert(gctx, sess, childBound, childID, sub, 0, depth+1)
			if err != nil {
				return err
			}
			mu.Lock()
			if d > maxDepth {
				maxDepth = d
			}
			mu.Unlock()
			return nil
		})
	}
	// Free each sub-list's slot once its recursion has been launched;
	// the backing arrays become collectible as goroutines finish with
	// them, rather than held alive for the whole fan-out.
	for k := range partitions {
		partitions[k] = nil
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}
	return maxDepth, nil
}
