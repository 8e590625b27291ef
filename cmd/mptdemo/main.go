// cmd/mptdemo/main.go
//
// mptdemo - a small command-line demonstration of the MassivePoints
// spatial index: it builds a tree over a square bound, bulk-inserts a
// batch of random points, and reports a range query against it.
//
// Usage:
//
//	mptdemo [sqlite-file]
//
// If no file is given, the index runs entirely in memory.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kekyo/MassivePoints-sub000/pkg/geometry"
	"github.com/kekyo/MassivePoints-sub000/pkg/storage/sqlstore"
	"github.com/kekyo/MassivePoints-sub000/pkg/tree"
)

func main() {
	count := flag.Int("count", 100_000, "number of random points to insert")
	maxNodePoints := flag.Int("capacity", 1024, "per-leaf point capacity before a split")
	flag.Parse()

	dbPath := ":memory:"
	if flag.NArg() > 0 {
		dbPath = flag.Arg(0)
	}

	if err := run(dbPath, *count, *maxNodePoints); err != nil {
		fmt.Fprintf(os.Stderr, "mptdemo: %v\n", err)
		os.Exit(1)
	}
}

func run(dbPath string, count, maxNodePoints int) error {
	ctx := context.Background()
	entire := geometry.NewBound(geometry.NewAxis(0, 100000), geometry.NewAxis(0, 100000))

	adapter, err := sqlstore.Open[int64](ctx, "sqlite3", dbPath, sqlstore.Config{
		Prefix:            "mpt",
		Entire:            entire,
		MaxNodePoints:     maxNodePoints,
		PayloadColumnType: "INTEGER",
	}, sqlstore.Int64Codec{})
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer adapter.Close()

	idx, err := tree.New[int64](adapter)
	if err != nil {
		return fmt.Errorf("new tree: %w", err)
	}

	fmt.Printf("inserting %d points into %s (capacity %d)...\n", count, dbPath, maxNodePoints)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	items := make([]geometry.PointItem[int64], count)
	for i := range items {
		items[i] = geometry.PointItem[int64]{
			Point: geometry.Point{rng.Float64() * 100000, rng.Float64() * 100000},
			Value: int64(i),
		}
	}

	sess, err := idx.BeginUpdateSession(ctx)
	if err != nil {
		return fmt.Errorf("begin update session: %w", err)
	}
	defer sess.Dispose(ctx)

	start := time.Now()
	maxDepth, err := sess.InsertPointsBulk(ctx, items, tree.DefaultBulkBlockSize)
	if err != nil {
		return fmt.Errorf("bulk insert: %w", err)
	}
	fmt.Printf("inserted in %s, max depth %d\n", time.Since(start), maxDepth)

	if err := sess.Finish(ctx); err != nil {
		return fmt.Errorf("finish: %w", err)
	}

	readSess, err := idx.BeginReadSession(ctx)
	if err != nil {
		return fmt.Errorf("begin read session: %w", err)
	}
	defer readSess.Dispose(ctx)

	centerQuery := geometry.NewBound(geometry.NewAxis(40000, 60000), geometry.NewAxis(40000, 60000))
	results, err := readSess.LookupBound(ctx, centerQuery, false)
	if err != nil {
		return fmt.Errorf("lookup bound: %w", err)
	}
	fmt.Printf("center 20%%x20%% query matched %d of %d points\n", len(results), count)

	return nil
}
