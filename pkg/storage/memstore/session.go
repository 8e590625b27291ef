// pkg/storage/memstore/session.go
package memstore

import (
	"context"
	"iter"
	"sync"

	"github.com/kekyo/MassivePoints-sub000/pkg/geometry"
	"github.com/kekyo/MassivePoints-sub000/pkg/mperr"
	"github.com/kekyo/MassivePoints-sub000/pkg/storage"
)

// session implements storage.Session[V] over an Adapter[V]. The
// adapter's session-granularity RWMutex was already acquired by
// BeginSession; Dispose and Finish release it exactly once. Every
// method additionally takes adapter.dataMu for the duration of its map
// access, since the tree algorithm may fan recursion out across
// goroutines within a single session (bulk-insert partitioning,
// concurrent range-lookup descent).
type session[V any] struct {
	adapter  *Adapter[V]
	writable bool
	once     sync.Once
	closed   bool
}

func (s *session[V]) RootID() storage.NodeID { return storage.RootID }

func (s *session[V]) Writable() bool { return s.writable }

func (s *session[V]) checkOpen() error {
	if s.closed {
		return mperr.ErrSessionClosed
	}
	return nil
}

func (s *session[V]) release() {
	s.once.Do(func() {
		if s.writable {
			s.adapter.mu.Unlock()
		} else {
			s.adapter.mu.RUnlock()
		}
		s.closed = true
	})
}

func (s *session[V]) Finish(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.release()
	return nil
}

func (s *session[V]) Dispose(ctx context.Context) error {
	s.release()
	return nil
}

func (s *session[V]) Flush(ctx context.Context) error {
	// The in-memory backend has no underlying transaction to checkpoint.
	return s.checkOpen()
}

// getNodeOrErr looks up a node. Callers must hold adapter.dataMu.
func (s *session[V]) getNodeOrErr(id storage.NodeID) (*node[V], error) {
	n, ok := s.adapter.nodes[id]
	if !ok {
		return nil, mperr.Invariant("node %d does not exist", id)
	}
	return n, nil
}

func (s *session[V]) GetNode(ctx context.Context, id storage.NodeID) (*storage.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, mperr.ErrCancelled
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	s.adapter.dataMu.Lock()
	defer s.adapter.dataMu.Unlock()

	n, err := s.getNodeOrErr(id)
	if err != nil {
		return nil, err
	}
	if n.isLeaf() {
		return nil, nil
	}
	children := make([]storage.NodeID, len(n.children))
	copy(children, n.children)
	return &storage.Node{Children: children}, nil
}

func (s *session[V]) GetPointCount(ctx context.Context, id storage.NodeID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, mperr.ErrCancelled
	}
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	s.adapter.dataMu.Lock()
	defer s.adapter.dataMu.Unlock()

	n, err := s.getNodeOrErr(id)
	if err != nil {
		return 0, err
	}
	return len(n.bucket), nil
}

func (s *session[V]) InsertPoints(ctx context.Context, id storage.NodeID, batch []geometry.PointItem[V], offset int, forceAll bool) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, mperr.ErrCancelled
	}
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	if !s.writable {
		return 0, mperr.ErrReadOnlySession
	}
	s.adapter.dataMu.Lock()
	defer s.adapter.dataMu.Unlock()

	n, err := s.getNodeOrErr(id)
	if err != nil {
		return 0, err
	}
	if !n.isLeaf() {
		return 0, mperr.Invariant("InsertPoints on internal node %d", id)
	}

	available := len(batch) - offset
	take := available
	if !forceAll {
		room := s.adapter.maxNodePoints - len(n.bucket)
		if room < 0 {
			room = 0
		}
		if take > room {
			take = room
		}
	}
	for i := 0; i < take; i++ {
		n.bucket = append(n.bucket, batch[offset+i])
	}
	return take, nil
}

func (s *session[V]) DistributePoints(ctx context.Context, id storage.NodeID, childBounds []geometry.Bound) (*storage.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, mperr.ErrCancelled
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if !s.writable {
		return nil, mperr.ErrReadOnlySession
	}
	s.adapter.dataMu.Lock()
	defer s.adapter.dataMu.Unlock()

	n, err := s.getNodeOrErr(id)
	if err != nil {
		return nil, err
	}
	if !n.isLeaf() {
		return nil, mperr.Invariant("DistributePoints on already-internal node %d", id)
	}

	children := make([]storage.NodeID, len(childBounds))
	childNodes := make([]*node[V], len(childBounds))
	for k := range childBounds {
		cid := s.adapter.allocate()
		cn := &node[V]{}
		s.adapter.nodes[cid] = cn
		children[k] = cid
		childNodes[k] = cn
	}

	for _, item := range n.bucket {
		placed := false
		for k, cb := range childBounds {
			if cb.Contains(item.Point, false) {
				childNodes[k].bucket = append(childNodes[k].bucket, item)
				placed = true
				break
			}
		}
		if !placed {
			return nil, mperr.Invariant("point %v stranded by split of node %d", item.Point, id)
		}
	}

	n.bucket = nil
	n.children = children

	out := make([]storage.NodeID, len(children))
	copy(out, children)
	return &storage.Node{Children: out}, nil
}

func (s *session[V]) AggregatePoints(ctx context.Context, childIDs []storage.NodeID, parentBound geometry.Bound, parentID storage.NodeID) error {
	if err := ctx.Err(); err != nil {
		return mperr.ErrCancelled
	}
	if err := s.checkOpen(); err != nil {
		return err
	}
	if !s.writable {
		return mperr.ErrReadOnlySession
	}
	s.adapter.dataMu.Lock()
	defer s.adapter.dataMu.Unlock()

	parent, err := s.getNodeOrErr(parentID)
	if err != nil {
		return err
	}
	if parent.isLeaf() {
		return mperr.Invariant("AggregatePoints on already-leaf node %d", parentID)
	}

	var merged []geometry.PointItem[V]
	for _, cid := range childIDs {
		cn, err := s.getNodeOrErr(cid)
		if err != nil {
			return err
		}
		if !cn.isLeaf() {
			return mperr.Invariant("AggregatePoints child %d is not a leaf", cid)
		}
		merged = append(merged, cn.bucket...)
		delete(s.adapter.nodes, cid)
	}

	parent.children = nil
	parent.bucket = merged
	return nil
}

func (s *session[V]) LookupPoint(ctx context.Context, id storage.NodeID, p geometry.Point) ([]geometry.PointItem[V], error) {
	if err := ctx.Err(); err != nil {
		return nil, mperr.ErrCancelled
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	s.adapter.dataMu.Lock()
	defer s.adapter.dataMu.Unlock()

	n, err := s.getNodeOrErr(id)
	if err != nil {
		return nil, err
	}
	if !n.isLeaf() {
		return nil, mperr.Invariant("LookupPoint on internal node %d", id)
	}
	var out []geometry.PointItem[V]
	for _, item := range n.bucket {
		if item.Point.Equal(p) {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *session[V]) LookupBound(ctx context.Context, id storage.NodeID, b geometry.Bound, rightClosed bool) ([]geometry.PointItem[V], error) {
	if err := ctx.Err(); err != nil {
		return nil, mperr.ErrCancelled
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	s.adapter.dataMu.Lock()
	defer s.adapter.dataMu.Unlock()

	n, err := s.getNodeOrErr(id)
	if err != nil {
		return nil, err
	}
	if !n.isLeaf() {
		return nil, mperr.Invariant("LookupBound on internal node %d", id)
	}
	var out []geometry.PointItem[V]
	for _, item := range n.bucket {
		if b.Contains(item.Point, rightClosed) {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *session[V]) EnumerateBound(ctx context.Context, id storage.NodeID, b geometry.Bound, rightClosed bool) iter.Seq2[geometry.PointItem[V], error] {
	return func(yield func(geometry.PointItem[V], error) bool) {
		if err := ctx.Err(); err != nil {
			yield(geometry.PointItem[V]{}, mperr.ErrCancelled)
			return
		}
		if err := s.checkOpen(); err != nil {
			yield(geometry.PointItem[V]{}, err)
			return
		}
		s.adapter.dataMu.Lock()
		defer s.adapter.dataMu.Unlock()

		n, err := s.getNodeOrErr(id)
		if err != nil {
			yield(geometry.PointItem[V]{}, err)
			return
		}
		if !n.isLeaf() {
			yield(geometry.PointItem[V]{}, mperr.Invariant("EnumerateBound on internal node %d", id))
			return
		}
		for _, item := range n.bucket {
			if ctx.Err() != nil {
				yield(geometry.PointItem[V]{}, mperr.ErrCancelled)
				return
			}
			if b.Contains(item.Point, rightClosed) {
				if !yield(item, nil) {
					return
				}
			}
		}
	}
}

func (s *session[V]) RemovePoint(ctx context.Context, id storage.NodeID, p geometry.Point, wantRemainsHint bool) (int, int, error) {
	if err := ctx.Err(); err != nil {
		return 0, -1, mperr.ErrCancelled
	}
	if err := s.checkOpen(); err != nil {
		return 0, -1, err
	}
	if !s.writable {
		return 0, -1, mperr.ErrReadOnlySession
	}
	s.adapter.dataMu.Lock()
	defer s.adapter.dataMu.Unlock()

	n, err := s.getNodeOrErr(id)
	if err != nil {
		return 0, -1, err
	}
	if !n.isLeaf() {
		return 0, -1, mperr.Invariant("RemovePoint on internal node %d", id)
	}
	kept := n.bucket[:0]
	removed := 0
	for _, item := range n.bucket {
		if item.Point.Equal(p) {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	n.bucket = kept
	remains := -1
	if wantRemainsHint {
		remains = len(n.bucket)
	}
	return removed, remains, nil
}

func (s *session[V]) RemoveBound(ctx context.Context, id storage.NodeID, b geometry.Bound, rightClosed bool, wantRemainsHint bool) (int, int, error) {
	if err := ctx.Err(); err != nil {
		return 0, -1, mperr.ErrCancelled
	}
	if err := s.checkOpen(); err != nil {
		return 0, -1, err
	}
	if !s.writable {
		return 0, -1, mperr.ErrReadOnlySession
	}
	s.adapter.dataMu.Lock()
	defer s.adapter.dataMu.Unlock()

	n, err := s.getNodeOrErr(id)
	if err != nil {
		return 0, -1, err
	}
	if !n.isLeaf() {
		return 0, -1, mperr.Invariant("RemoveBound on internal node %d", id)
	}
	kept := n.bucket[:0]
	removed := 0
	for _, item := range n.bucket {
		if b.Contains(item.Point, rightClosed) {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	n.bucket = kept
	remains := -1
	if wantRemainsHint {
		remains = len(n.bucket)
	}
	return removed, remains, nil
}
