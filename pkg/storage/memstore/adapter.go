// pkg/storage/memstore/adapter.go
package memstore

import (
	"context"
	"sync"

	"github.com/kekyo/MassivePoints-sub000/pkg/geometry"
	"github.com/kekyo/MassivePoints-sub000/pkg/mperr"
	"github.com/kekyo/MassivePoints-sub000/pkg/storage"
)

// node is the in-process representation of a single tree node. A node
// is a leaf iff children is nil.
type node[V any] struct {
	children []storage.NodeID
	bucket   []geometry.PointItem[V]
}

func (n *node[V]) isLeaf() bool {
	return n.children == nil
}

// Adapter is the in-memory storage backend: a single process, single
// readers-writer lock guarded at session granularity. Write sessions
// are exclusive; read sessions run in parallel with each other.
type Adapter[V any] struct {
	mu            sync.RWMutex
	entire        geometry.Bound
	maxNodePoints int
	nodes         map[storage.NodeID]*node[V]
	nextID        int64

	// dataMu is a second, fine-grained lock guarding nodes/nextID
	// directly. mu enforces session-granularity reader/writer
	// exclusion; dataMu additionally makes the map itself safe when
	// the tree algorithm fans recursion out across goroutines *within*
	// one write session (bulk-insert partitioning) — something a
	// single coarse session lock, already held for the session's
	// duration, cannot provide by itself.
	dataMu sync.Mutex
}

// New creates an in-memory adapter covering entire, with the given
// per-leaf capacity. The root is seeded as an empty leaf at
// storage.RootID.
func New[V any](entire geometry.Bound, maxNodePoints int) *Adapter[V] {
	if maxNodePoints < 1 {
		panic("memstore: maxNodePoints must be >= 1")
	}
	a := &Adapter[V]{
		entire:        entire,
		maxNodePoints: maxNodePoints,
		nodes:         make(map[storage.NodeID]*node[V]),
		nextID:        int64(storage.RootID) + 1,
	}
	a.nodes[storage.RootID] = &node[V]{}
	return a
}

func (a *Adapter[V]) Entire() geometry.Bound { return a.entire }

func (a *Adapter[V]) MaxNodePoints() int { return a.maxNodePoints }

func (a *Adapter[V]) BeginSession(ctx context.Context, willUpdate bool) (storage.Session[V], error) {
	if err := ctx.Err(); err != nil {
		return nil, mperr.ErrCancelled
	}
	if willUpdate {
		a.mu.Lock()
	} else {
		a.mu.RLock()
	}
	return &session[V]{adapter: a, writable: willUpdate}, nil
}

// allocate returns a fresh node id. Callers must hold dataMu.
func (a *Adapter[V]) allocate() storage.NodeID {
	id := storage.NodeID(a.nextID)
	a.nextID++
	return id
}
