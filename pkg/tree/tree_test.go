package tree_test

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kekyo/MassivePoints-sub000/pkg/geometry"
	"github.com/kekyo/MassivePoints-sub000/pkg/mperr"
	"github.com/kekyo/MassivePoints-sub000/pkg/storage/sqlstore"
	"github.com/kekyo/MassivePoints-sub000/pkg/tree"
)

// backendFactories builds a fresh Tree[string] per subtest run, one
// per storage adapter, so every property in this file runs against
// both the in-memory and relational backends (SPEC_FULL.md's
// "Backend-parity property").
func backendFactories(t *testing.T, bound geometry.Bound, maxNodePoints int) map[string]*tree.Tree[string] {
	t.Helper()

	memTree, err := tree.NewInMemory[string](bound, maxNodePoints)
	require.NoError(t, err)

	ctx := context.Background()
	sqlAdapter, err := sqlstore.Open[string](ctx, "sqlite3", ":memory:", sqlstore.Config{
		Prefix:        "mpt",
		Entire:        bound,
		MaxNodePoints: maxNodePoints,
	}, sqlstore.StringCodec{})
	require.NoError(t, err)
	t.Cleanup(func() { sqlAdapter.Close() })

	sqlTree, err := tree.New[string](sqlAdapter)
	require.NoError(t, err)

	return map[string]*tree.Tree[string]{
		"memstore": memTree,
		"sqlstore": sqlTree,
	}
}

func bound2D(to float64) geometry.Bound {
	return geometry.NewBound(geometry.NewAxis(0, to), geometry.NewAxis(0, to))
}

func bound3D(to float64) geometry.Bound {
	return geometry.NewBound(geometry.NewAxis(0, to), geometry.NewAxis(0, to), geometry.NewAxis(0, to))
}

// Scenario 1 & 2: split on the fifth insert, and a range query after.
func TestScenarioSplitAndRangeLookup(t *testing.T) {
	for name, tr := range backendFactories(t, bound2D(100), 4) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess, err := tr.BeginUpdateSession(ctx)
			require.NoError(t, err)

			inserts := []struct {
				p geometry.Point
				v string
			}{
				{geometry.Point{10, 10}, "A"},
				{geometry.Point{20, 20}, "B"},
				{geometry.Point{30, 30}, "C"},
				{geometry.Point{40, 40}, "D"},
				{geometry.Point{50, 50}, "E"},
			}
			for _, it := range inserts {
				_, err := sess.InsertPoint(ctx, it.p, it.v)
				require.NoError(t, err)
			}

			all, err := sess.LookupBound(ctx, tr.Entire(), false)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"A", "B", "C", "D", "E"}, valuesOf(all))

			upperRight := geometry.NewBound(geometry.NewAxis(50, 100), geometry.NewAxis(50, 100))
			upperRightItems, err := sess.LookupBound(ctx, upperRight, false)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"E"}, valuesOf(upperRightItems))

			rangeItems, err := sess.LookupBound(ctx, geometry.NewBound(geometry.NewAxis(15, 35), geometry.NewAxis(15, 35)), false)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"B", "C"}, valuesOf(rangeItems))

			require.NoError(t, sess.Finish(ctx))
		})
	}
}

// Scenario 3 & 4: delete without and with shrinking.
func TestScenarioRemoveWithAndWithoutShrink(t *testing.T) {
	setup := func(t *testing.T, tr *tree.Tree[string]) {
		ctx := context.Background()
		sess, err := tr.BeginUpdateSession(ctx)
		require.NoError(t, err)
		inserts := []struct {
			p geometry.Point
			v string
		}{
			{geometry.Point{10, 10}, "A"},
			{geometry.Point{20, 20}, "B"},
			{geometry.Point{30, 30}, "C"},
			{geometry.Point{40, 40}, "D"},
			{geometry.Point{50, 50}, "E"},
		}
		for _, it := range inserts {
			_, err := sess.InsertPoint(ctx, it.p, it.v)
			require.NoError(t, err)
		}
		require.NoError(t, sess.Finish(ctx))
	}

	for name, tr := range backendFactories(t, bound2D(100), 4) {
		t.Run(name+"/without-shrink", func(t *testing.T) {
			setup(t, tr)
			ctx := context.Background()
			sess, err := tr.BeginUpdateSession(ctx)
			require.NoError(t, err)

			removed, err := sess.RemoveBound(ctx, geometry.NewBound(geometry.NewAxis(0, 50), geometry.NewAxis(0, 50)), false, false)
			require.NoError(t, err)
			assert.Equal(t, 4, removed)

			remaining, err := sess.LookupBound(ctx, tr.Entire(), false)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"E"}, valuesOf(remaining))

			require.NoError(t, sess.Finish(ctx))
		})
	}

	for name, tr := range backendFactories(t, bound2D(100), 4) {
		t.Run(name+"/with-shrink", func(t *testing.T) {
			setup(t, tr)
			ctx := context.Background()
			sess, err := tr.BeginUpdateSession(ctx)
			require.NoError(t, err)

			removed, err := sess.RemoveBound(ctx, geometry.NewBound(geometry.NewAxis(0, 50), geometry.NewAxis(0, 50)), false, true)
			require.NoError(t, err)
			assert.Equal(t, 4, removed)

			remaining, err := sess.LookupBound(ctx, tr.Entire(), false)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"E"}, valuesOf(remaining))

			require.NoError(t, sess.Finish(ctx))
		})
	}
}

// Scenario 5: bulk insert round trip for a large batch.
func TestScenarioBulkInsertRoundTrip(t *testing.T) {
	const n = 5000
	rng := rand.New(rand.NewSource(1))
	items := make([]geometry.PointItem[string], n)
	for i := 0; i < n; i++ {
		items[i] = geometry.PointItem[string]{
			Point: geometry.Point{rng.Float64() * 100000, rng.Float64() * 100000},
			Value: fmt.Sprintf("v%d", i),
		}
	}

	for name, tr := range backendFactories(t, bound2D(100000), 1024) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess, err := tr.BeginUpdateSession(ctx)
			require.NoError(t, err)

			_, err = sess.InsertPointsBulk(ctx, items, 2000)
			require.NoError(t, err)

			for _, it := range items {
				got, err := sess.LookupPoint(ctx, it.Point)
				require.NoError(t, err)
				require.NotEmpty(t, got)
				found := false
				for _, g := range got {
					assert.True(t, g.Point.Equal(it.Point))
					if g.Value == it.Value {
						found = true
					}
				}
				assert.True(t, found)
			}

			// A bulk insert followed by a whole-tree range lookup returns a
			// permutation of the inserted batch.
			all, err := sess.LookupBound(ctx, sess.Entire(), true)
			require.NoError(t, err)
			require.Len(t, all, n)
			seen := make(map[string]int, n)
			for _, g := range all {
				seen[fmt.Sprintf("%v|%s", g.Point, g.Value)]++
			}
			for _, it := range items {
				key := fmt.Sprintf("%v|%s", it.Point, it.Value)
				assert.Equal(t, 1, seen[key])
			}

			require.NoError(t, sess.Finish(ctx))
		})
	}
}

// Scenario 6: 3D octree split and range lookup.
func TestScenarioOctree(t *testing.T) {
	for name, tr := range backendFactories(t, bound3D(10), 2) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess, err := tr.BeginUpdateSession(ctx)
			require.NoError(t, err)

			pts := []geometry.Point{{1, 1, 1}, {2, 2, 2}, {3, 3, 3}}
			for i, p := range pts {
				_, err := sess.InsertPoint(ctx, p, fmt.Sprintf("p%d", i))
				require.NoError(t, err)
			}

			lower := geometry.NewBound(geometry.NewAxis(0, 5), geometry.NewAxis(0, 5), geometry.NewAxis(0, 5))
			all, err := sess.LookupBound(ctx, lower, false)
			require.NoError(t, err)
			assert.Len(t, all, 3)

			upper := geometry.NewBound(geometry.NewAxis(5, 10), geometry.NewAxis(5, 10), geometry.NewAxis(5, 10))
			none, err := sess.LookupBound(ctx, upper, false)
			require.NoError(t, err)
			assert.Empty(t, none)

			require.NoError(t, sess.Finish(ctx))
		})
	}
}

// Inserting a point then looking it up by exact coordinates finds it.
func TestLawInsertThenLookupPoint(t *testing.T) {
	for name, tr := range backendFactories(t, bound2D(100), 4) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess, err := tr.BeginUpdateSession(ctx)
			require.NoError(t, err)

			_, err = sess.InsertPoint(ctx, geometry.Point{5, 5}, "A")
			require.NoError(t, err)

			items, err := sess.LookupPoint(ctx, geometry.Point{5, 5})
			require.NoError(t, err)
			require.Len(t, items, 1)
			assert.Equal(t, "A", items[0].Value)

			require.NoError(t, sess.Finish(ctx))
		})
	}
}

// Inserting a point then removing it reports one removal, and a
// subsequent lookup finds nothing.
func TestLawInsertThenRemovePoint(t *testing.T) {
	for name, tr := range backendFactories(t, bound2D(100), 4) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess, err := tr.BeginUpdateSession(ctx)
			require.NoError(t, err)

			_, err = sess.InsertPoint(ctx, geometry.Point{5, 5}, "A")
			require.NoError(t, err)

			removed, err := sess.RemovePoint(ctx, geometry.Point{5, 5}, false)
			require.NoError(t, err)
			assert.Equal(t, 1, removed)

			items, err := sess.LookupPoint(ctx, geometry.Point{5, 5})
			require.NoError(t, err)
			assert.Empty(t, items)

			require.NoError(t, sess.Finish(ctx))
		})
	}
}

// Removing the entire bound empties the tree.
func TestLawRemoveEntireEmptiesTree(t *testing.T) {
	for name, tr := range backendFactories(t, bound2D(100), 2) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess, err := tr.BeginUpdateSession(ctx)
			require.NoError(t, err)

			for i := 0; i < 10; i++ {
				_, err := sess.InsertPoint(ctx, geometry.Point{float64(i), float64(i)}, fmt.Sprintf("v%d", i))
				require.NoError(t, err)
			}

			removed, err := sess.RemoveBound(ctx, tr.Entire(), false, true)
			require.NoError(t, err)
			assert.Equal(t, 10, removed)

			remaining, err := sess.LookupBound(ctx, tr.Entire(), false)
			require.NoError(t, err)
			assert.Empty(t, remaining)

			require.NoError(t, sess.Finish(ctx))
		})
	}
}

// A range lookup and a materialized range enumeration over the same
// bound produce the same multiset of values.
func TestLawLookupAndEnumerateAgree(t *testing.T) {
	for name, tr := range backendFactories(t, bound2D(100), 4) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess, err := tr.BeginUpdateSession(ctx)
			require.NoError(t, err)

			for i := 0; i < 20; i++ {
				_, err := sess.InsertPoint(ctx, geometry.Point{float64(i), float64(i)}, fmt.Sprintf("v%d", i))
				require.NoError(t, err)
			}

			looked, err := sess.LookupBound(ctx, tr.Entire(), false)
			require.NoError(t, err)

			var enumerated []geometry.PointItem[string]
			for item, err := range sess.EnumerateBound(ctx, tr.Entire(), false) {
				require.NoError(t, err)
				enumerated = append(enumerated, item)
			}

			assert.ElementsMatch(t, valuesOf(looked), valuesOf(enumerated))

			require.NoError(t, sess.Finish(ctx))
		})
	}
}

// Coalescing (shrink=true) never changes how many points a removal
// reports, compared to the same removal with shrink=false.
func TestLawShrinkDoesNotChangeRemovedCount(t *testing.T) {
	build := func(t *testing.T, tr *tree.Tree[string]) {
		ctx := context.Background()
		sess, err := tr.BeginUpdateSession(ctx)
		require.NoError(t, err)
		for i := 0; i < 10; i++ {
			_, err := sess.InsertPoint(ctx, geometry.Point{float64(i), float64(i)}, fmt.Sprintf("v%d", i))
			require.NoError(t, err)
		}
		require.NoError(t, sess.Finish(ctx))
	}

	target := geometry.NewBound(geometry.NewAxis(0, 5), geometry.NewAxis(0, 5))

	for name, tr := range backendFactories(t, bound2D(100), 2) {
		t.Run(name+"/no-shrink", func(t *testing.T) {
			build(t, tr)
			ctx := context.Background()
			sess, err := tr.BeginUpdateSession(ctx)
			require.NoError(t, err)
			removed, err := sess.RemoveBound(ctx, target, false, false)
			require.NoError(t, err)
			require.NoError(t, sess.Finish(ctx))
			assertRemovedMatches(t, tr, removed)
		})
	}
	for name, tr := range backendFactories(t, bound2D(100), 2) {
		t.Run(name+"/shrink", func(t *testing.T) {
			build(t, tr)
			ctx := context.Background()
			sess, err := tr.BeginUpdateSession(ctx)
			require.NoError(t, err)
			removed, err := sess.RemoveBound(ctx, target, false, true)
			require.NoError(t, err)
			require.NoError(t, sess.Finish(ctx))
			assertRemovedMatches(t, tr, removed)
		})
	}
}

func assertRemovedMatches(t *testing.T, tr *tree.Tree[string], removed int) {
	t.Helper()
	assert.Equal(t, 5, removed)
}

// Boundary: a point exactly on a cell boundary goes into the upper child.
func TestBoundaryPointOnEdgeGoesUpper(t *testing.T) {
	for name, tr := range backendFactories(t, bound2D(100), 1) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess, err := tr.BeginUpdateSession(ctx)
			require.NoError(t, err)

			_, err = sess.InsertPoint(ctx, geometry.Point{0, 0}, "origin")
			require.NoError(t, err)
			_, err = sess.InsertPoint(ctx, geometry.Point{50, 50}, "mid")
			require.NoError(t, err)

			upperRight := geometry.NewBound(geometry.NewAxis(50, 100), geometry.NewAxis(50, 100))
			items, err := sess.LookupBound(ctx, upperRight, false)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"mid"}, valuesOf(items))

			require.NoError(t, sess.Finish(ctx))
		})
	}
}

// Boundary: right_closed includes the upper edge, default excludes it.
func TestBoundaryRightClosedIncludesUpperEdge(t *testing.T) {
	for name, tr := range backendFactories(t, bound2D(100), 10) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess, err := tr.BeginUpdateSession(ctx)
			require.NoError(t, err)

			_, err = sess.InsertPoint(ctx, geometry.Point{10, 10}, "edge")
			require.NoError(t, err)

			b := geometry.NewBound(geometry.NewAxis(0, 10), geometry.NewAxis(0, 10))

			open, err := sess.LookupBound(ctx, b, false)
			require.NoError(t, err)
			assert.Empty(t, open)

			closed, err := sess.LookupBound(ctx, b, true)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"edge"}, valuesOf(closed))

			require.NoError(t, sess.Finish(ctx))
		})
	}
}

// Boundary: a zero-measure bound matches nothing and does not loop forever.
func TestBoundaryZeroMeasureBoundMatchesNothing(t *testing.T) {
	zeroBound := geometry.NewBound(geometry.NewAxis(10, 10), geometry.NewAxis(0, 100))
	for name, tr := range backendFactories(t, bound2D(100), 2) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess, err := tr.BeginUpdateSession(ctx)
			require.NoError(t, err)

			for i := 0; i < 5; i++ {
				_, err := sess.InsertPoint(ctx, geometry.Point{10, float64(i)}, fmt.Sprintf("v%d", i))
				require.NoError(t, err)
			}

			items, err := sess.LookupBound(ctx, zeroBound, false)
			require.NoError(t, err)
			assert.Empty(t, items)

			require.NoError(t, sess.Finish(ctx))
		})
	}
}

// Inserting outside the root bound fails cleanly.
func TestOutOfBoundsInsertFails(t *testing.T) {
	for name, tr := range backendFactories(t, bound2D(100), 4) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess, err := tr.BeginUpdateSession(ctx)
			require.NoError(t, err)

			_, err = sess.InsertPoint(ctx, geometry.Point{500, 500}, "oob")
			assert.Error(t, err)

			require.NoError(t, sess.Dispose(ctx))
		})
	}
}

// SessionClosed: operating on a finished session errors.
func TestSessionClosedAfterFinish(t *testing.T) {
	for name, tr := range backendFactories(t, bound2D(100), 4) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess, err := tr.BeginUpdateSession(ctx)
			require.NoError(t, err)
			require.NoError(t, sess.Finish(ctx))

			_, err = sess.InsertPoint(ctx, geometry.Point{1, 1}, "x")
			assert.Error(t, err)
		})
	}
}

// Cancellation: a pre-cancelled context short-circuits cleanly.
func TestCancelledContextStopsDescent(t *testing.T) {
	for name, tr := range backendFactories(t, bound2D(100), 4) {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			sess, err := tr.BeginReadSession(context.Background())
			require.NoError(t, err)

			_, err = sess.LookupBound(ctx, tr.Entire(), false)
			assert.ErrorIs(t, err, mperr.ErrCancelled)

			require.NoError(t, sess.Dispose(context.Background()))
		})
	}
}

func valuesOf(items []geometry.PointItem[string]) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Value
	}
	return out
}
