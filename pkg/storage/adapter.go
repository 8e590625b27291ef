// pkg/storage/adapter.go
package storage

import (
	"context"
	"iter"

	"github.com/kekyo/MassivePoints-sub000/pkg/geometry"
)

// NodeID is the opaque token a storage adapter uses to address a tree
// node. Both shipped adapters (memstore, sqlstore) use a signed 64-bit
// integer, but the contract only requires equality and persistability.
type NodeID int64

// RootID is the backend-defined fixed identifier of the root node.
// Both shipped adapters use 0.
const RootID NodeID = 0

// Node describes an internal node's children. A leaf is represented
// by GetNode returning nil.
type Node struct {
	// Children holds exactly 2^d node ids, bit-indexed the same way
	// geometry.Bound.ChildBounds orders its sub-bounds.
	Children []NodeID
}

// Adapter is the storage backend a Tree is built on. It is opened per
// session via BeginSession; the session, not the adapter, owns the
// backend's concurrency primitive and transaction lifecycle.
type Adapter[V any] interface {
	// Entire is the root bound every inserted point must satisfy.
	Entire() geometry.Bound

	// MaxNodePoints is the per-tree leaf capacity before a forced split.
	MaxNodePoints() int

	// BeginSession opens a session. willUpdate selects write (exclusive,
	// serializable) vs read (shared, read-committed) intent.
	BeginSession(ctx context.Context, willUpdate bool) (Session[V], error)
}

// Session is the per-operation contract the tree algorithm drives. All
// methods accept a context for cancellation at the corresponding
// suspension point.
type Session[V any] interface {
	// RootID is this session's root node id (session-local constant).
	RootID() NodeID

	// Writable reports whether this session was opened for update.
	Writable() bool

	// GetNode returns the node's children if it is internal, or
	// (nil, nil) if it is a leaf.
	GetNode(ctx context.Context, id NodeID) (*Node, error)

	// GetPointCount returns a leaf's bucket size.
	GetPointCount(ctx context.Context, id NodeID) (int, error)

	// InsertPoints appends points into a leaf's bucket starting at
	// batch[offset]. Without forceAll, at most MaxNodePoints-current
	// are taken; forceAll inserts every remaining item uncapped (the
	// sole sanctioned way to exceed MaxNodePoints, for zero-measure
	// cells). Returns how many were taken.
	InsertPoints(ctx context.Context, id NodeID, batch []geometry.PointItem[V], offset int, forceAll bool) (int, error)

	// DistributePoints atomically converts leaf id into an internal
	// node: 2^d fresh children are allocated, the leaf's bucket is
	// redistributed into them by childBounds containment (right-open),
	// and the leaf's own bucket becomes empty. childBounds must be in
	// the same bit-indexed order the tree algorithm used to compute them.
	DistributePoints(ctx context.Context, id NodeID, childBounds []geometry.Bound) (*Node, error)

	// AggregatePoints is the inverse of DistributePoints: it moves all
	// points from the 2^d leaf children into parentId's bucket, deletes
	// the children, and parentId becomes a leaf again. Precondition:
	// total points across children <= MaxNodePoints, or parentBound is
	// zero-measure.
	AggregatePoints(ctx context.Context, childIDs []NodeID, parentBound geometry.Bound, parentID NodeID) error

	// LookupPoint returns every item in leaf id whose point == p exactly.
	LookupPoint(ctx context.Context, id NodeID, p geometry.Point) ([]geometry.PointItem[V], error)

	// LookupBound returns every item in leaf id within b.
	LookupBound(ctx context.Context, id NodeID, b geometry.Bound, rightClosed bool) ([]geometry.PointItem[V], error)

	// EnumerateBound is a lazy, single-pass, finite sequence over the
	// items in leaf id within b. Each yielded pair is (item, error); a
	// non-nil error terminates the sequence. Not restartable.
	EnumerateBound(ctx context.Context, id NodeID, b geometry.Bound, rightClosed bool) iter.Seq2[geometry.PointItem[V], error]

	// RemovePoint deletes matching points from leaf id. wantRemainsHint
	// requests the post-delete bucket size in remains (else -1, to save
	// a round-trip).
	RemovePoint(ctx context.Context, id NodeID, p geometry.Point, wantRemainsHint bool) (removed int, remains int, err error)

	// RemoveBound deletes points within b from leaf id, same remains
	// convention as RemovePoint.
	RemoveBound(ctx context.Context, id NodeID, b geometry.Bound, rightClosed bool, wantRemainsHint bool) (removed int, remains int, err error)

	// Flush commits a partial checkpoint and reopens a new underlying
	// transaction on transactional backends; a no-op on the in-memory
	// backend.
	Flush(ctx context.Context) error

	// Finish commits the session.
	Finish(ctx context.Context) error

	// Dispose aborts (rolls back) the session. Safe to call after
	// Finish, where it is a no-op.
	Dispose(ctx context.Context) error
}
