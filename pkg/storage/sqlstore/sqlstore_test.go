// pkg/storage/sqlstore/sqlstore_test.go
package sqlstore

import (
	"context"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kekyo/MassivePoints-sub000/pkg/geometry"
	"github.com/kekyo/MassivePoints-sub000/pkg/storage"
)

func testBound2D(to float64) geometry.Bound {
	return geometry.NewBound(geometry.NewAxis(0, to), geometry.NewAxis(0, to))
}

func openTestAdapter(t *testing.T) *Adapter[string] {
	t.Helper()
	ctx := context.Background()
	cfg := Config{
		Prefix:        "mpt",
		Entire:        testBound2D(100),
		MaxNodePoints: 4,
	}
	a, err := Open[string](ctx, "sqlite3", ":memory:", cfg, StringCodec{})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestSQLStoreInsertAndLookup(t *testing.T) {
	ctx := context.Background()
	a := openTestAdapter(t)

	sess, err := a.BeginSession(ctx, true)
	require.NoError(t, err)

	n, err := sess.InsertPoints(ctx, storage.RootID, []geometry.PointItem[string]{
		{Point: geometry.Point{10, 10}, Value: "A"},
	}, 0, false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	items, err := sess.LookupPoint(ctx, storage.RootID, geometry.Point{10, 10})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "A", items[0].Value)

	require.NoError(t, sess.Finish(ctx))
}

func TestSQLStoreDistributeAndAggregate(t *testing.T) {
	ctx := context.Background()
	a := openTestAdapter(t)

	sess, err := a.BeginSession(ctx, true)
	require.NoError(t, err)
	defer sess.Dispose(ctx)

	batch := []geometry.PointItem[string]{
		{Point: geometry.Point{10, 10}, Value: "A"},
		{Point: geometry.Point{90, 90}, Value: "B"},
	}
	_, err = sess.InsertPoints(ctx, storage.RootID, batch, 0, false)
	require.NoError(t, err)

	cb := a.Entire().ChildBounds()
	node, err := sess.DistributePoints(ctx, storage.RootID, cb)
	require.NoError(t, err)
	require.Len(t, node.Children, 4)

	got, err := sess.GetNode(ctx, storage.RootID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, got.Children, 4)

	err = sess.AggregatePoints(ctx, node.Children, a.Entire(), storage.RootID)
	require.NoError(t, err)

	got, err = sess.GetNode(ctx, storage.RootID)
	require.NoError(t, err)
	assert.Nil(t, got)

	count, err := sess.GetPointCount(ctx, storage.RootID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, sess.Finish(ctx))
}

func TestSQLStoreRangeAndRemove(t *testing.T) {
	ctx := context.Background()
	a := openTestAdapter(t)

	sess, err := a.BeginSession(ctx, true)
	require.NoError(t, err)
	defer sess.Dispose(ctx)

	batch := []geometry.PointItem[string]{
		{Point: geometry.Point{1, 1}, Value: "A"},
		{Point: geometry.Point{2, 2}, Value: "B"},
		{Point: geometry.Point{50, 50}, Value: "C"},
	}
	_, err = sess.InsertPoints(ctx, storage.RootID, batch, 0, false)
	require.NoError(t, err)

	items, err := sess.LookupBound(ctx, storage.RootID, geometry.NewBound(geometry.NewAxis(0, 10), geometry.NewAxis(0, 10)), false)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	removed, remains, err := sess.RemoveBound(ctx, storage.RootID, geometry.NewBound(geometry.NewAxis(0, 10), geometry.NewAxis(0, 10)), false, true)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, remains)

	require.NoError(t, sess.Finish(ctx))
}

func TestSQLStoreEnumerateBound(t *testing.T) {
	ctx := context.Background()
	a := openTestAdapter(t)

	sess, err := a.BeginSession(ctx, true)
	require.NoError(t, err)
	defer sess.Dispose(ctx)

	batch := []geometry.PointItem[string]{
		{Point: geometry.Point{1, 1}, Value: "A"},
		{Point: geometry.Point{2, 2}, Value: "B"},
	}
	_, err = sess.InsertPoints(ctx, storage.RootID, batch, 0, false)
	require.NoError(t, err)

	var got []string
	for item, err := range sess.EnumerateBound(ctx, storage.RootID, a.Entire(), false) {
		require.NoError(t, err)
		got = append(got, item.Value)
	}
	assert.ElementsMatch(t, []string{"A", "B"}, got)
}

func TestSQLStoreSessionClosedAfterFinish(t *testing.T) {
	ctx := context.Background()
	a := openTestAdapter(t)

	sess, err := a.BeginSession(ctx, true)
	require.NoError(t, err)
	require.NoError(t, sess.Finish(ctx))

	_, _, err = sess.RemovePoint(ctx, storage.RootID, geometry.Point{1, 1}, false)
	assert.Error(t, err)
}
