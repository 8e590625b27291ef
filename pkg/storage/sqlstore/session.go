// pkg/storage/sqlstore/session.go
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"sync"

	"github.com/kekyo/MassivePoints-sub000/pkg/geometry"
	"github.com/kekyo/MassivePoints-sub000/pkg/mperr"
	"github.com/kekyo/MassivePoints-sub000/pkg/storage"
)

// session implements storage.Session[V] over a *sql.Tx. Every method
// checks out a prepared statement from the session's stmtCache,
// executes it, and releases it back before returning.
type session[V any] struct {
	adapter  *Adapter[V]
	tx       *sql.Tx
	writable bool
	cache    *stmtCache

	mu     sync.Mutex
	closed bool
}

func (s *session[V]) RootID() storage.NodeID { return storage.RootID }

func (s *session[V]) Writable() bool { return s.writable }

func (s *session[V]) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return mperr.ErrSessionClosed
	}
	return nil
}

func (s *session[V]) checkWritable() error {
	if !s.writable {
		return mperr.ErrReadOnlySession
	}
	return nil
}

func (s *session[V]) markClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	return true
}

func (s *session[V]) Finish(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if !s.markClosed() {
		return nil
	}
	s.cache.closeAll()
	if err := s.tx.Commit(); err != nil {
		return mperr.Backend("Finish", err)
	}
	return nil
}

func (s *session[V]) Dispose(ctx context.Context) error {
	if !s.markClosed() {
		return nil
	}
	s.cache.closeAll()
	if err := s.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return mperr.Backend("Dispose", err)
	}
	return nil
}

// Flush commits the current transaction as a checkpoint and opens a
// fresh one in its place.
func (s *session[V]) Flush(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.checkWritable(); err != nil {
		return err
	}
	s.cache.closeAll()
	if err := s.tx.Commit(); err != nil {
		return mperr.Backend("Flush/commit", err)
	}
	opts := &sql.TxOptions{Isolation: sql.LevelSerializable}
	tx, err := s.adapter.db.BeginTx(ctx, opts)
	if err != nil {
		return mperr.Backend("Flush/begin", err)
	}
	s.tx = tx
	s.cache = newStmtCache(tx)
	return nil
}

// withStmt checks out the statement for text, runs fn, and always
// releases the handle back to the free list.
func (s *session[V]) withStmt(ctx context.Context, text string, fn func(*sql.Stmt) error) error {
	stmt, err := s.cache.checkout(ctx, text)
	if err != nil {
		return mperr.Backend("checkout", err)
	}
	defer s.cache.release(text, stmt)
	return fn(stmt)
}

func (s *session[V]) GetNode(ctx context.Context, id storage.NodeID) (*storage.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, mperr.ErrCancelled
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	childCount := s.adapter.q.childCount
	dest := make([]sql.NullInt64, childCount)
	scanArgs := make([]any, childCount)
	for i := range dest {
		scanArgs[i] = &dest[i]
	}

	err := s.withStmt(ctx, s.adapter.q.selectNode, func(stmt *sql.Stmt) error {
		row := stmt.QueryRowContext(ctx, sql.Named("id", int64(id)))
		return row.Scan(scanArgs...)
	})
	if err == sql.ErrNoRows {
		return nil, mperr.Invariant("node %d does not exist", id)
	}
	if err != nil {
		return nil, mperr.Backend("GetNode", err)
	}

	allNull := true
	children := make([]storage.NodeID, childCount)
	for i, d := range dest {
		if d.Valid {
			allNull = false
			children[i] = storage.NodeID(d.Int64)
		}
	}
	if allNull {
		return nil, nil
	}
	return &storage.Node{Children: children}, nil
}

func (s *session[V]) GetPointCount(ctx context.Context, id storage.NodeID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, mperr.ErrCancelled
	}
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	var count int
	err := s.withStmt(ctx, s.adapter.q.selectPointCount, func(stmt *sql.Stmt) error {
		return stmt.QueryRowContext(ctx, sql.Named("id", int64(id))).Scan(&count)
	})
	if err != nil {
		return 0, mperr.Backend("GetPointCount", err)
	}
	return count, nil
}

func (s *session[V]) InsertPoints(ctx context.Context, id storage.NodeID, batch []geometry.PointItem[V], offset int, forceAll bool) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, mperr.ErrCancelled
	}
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	if err := s.checkWritable(); err != nil {
		return 0, err
	}

	take := len(batch) - offset
	if !forceAll {
		current, err := s.GetPointCount(ctx, id)
		if err != nil {
			return 0, err
		}
		room := s.adapter.cfg.MaxNodePoints - current
		if room < 0 {
			room = 0
		}
		if take > room {
			take = room
		}
	}

	err := s.withStmt(ctx, s.adapter.q.insertPoint, func(stmt *sql.Stmt) error {
		for i := 0; i < take; i++ {
			item := batch[offset+i]
			args, err := s.pointInsertArgs(id, item)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, mperr.Backend("InsertPoints", err)
	}
	return take, nil
}

func (s *session[V]) pointInsertArgs(id storage.NodeID, item geometry.PointItem[V]) ([]any, error) {
	encoded, err := s.adapter.codec.Encode(item.Value)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: encode payload: %w", err)
	}
	args := make([]any, 0, s.adapter.q.dimension+2)
	args = append(args, sql.Named("node_id", int64(id)))
	for i, v := range item.Point {
		args = append(args, sql.Named(axisColumnName(i), v))
	}
	args = append(args, sql.Named("value", encoded))
	return args, nil
}

func (s *session[V]) DistributePoints(ctx context.Context, id storage.NodeID, childBounds []geometry.Bound) (*storage.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, mperr.ErrCancelled
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := s.checkWritable(); err != nil {
		return nil, err
	}

	existing, err := s.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, mperr.Invariant("DistributePoints on already-internal node %d", id)
	}

	childIDs := make([]storage.NodeID, len(childBounds))
	err = s.withStmt(ctx, s.adapter.q.insertNode, func(stmt *sql.Stmt) error {
		for k := range childBounds {
			args := make([]any, 0, s.adapter.q.childCount+1)
			args = append(args, sql.Named("id", nil))
			for c := 0; c < s.adapter.q.childCount; c++ {
				args = append(args, sql.Named(childColumnName(c), nil))
			}
			res, err := stmt.ExecContext(ctx, args...)
			if err != nil {
				return err
			}
			newID, err := res.LastInsertId()
			if err != nil {
				return err
			}
			childIDs[k] = storage.NodeID(newID)
		}
		return nil
	})
	if err != nil {
		return nil, mperr.Backend("DistributePoints/insertNode", err)
	}

	for k, cb := range childBounds {
		migrateSQL := s.adapter.q.migratePoints[k]
		err := s.withStmt(ctx, migrateSQL, func(stmt *sql.Stmt) error {
			args := []any{sql.Named("new_id", int64(childIDs[k])), sql.Named("old_id", int64(id))}
			for i, axis := range cb {
				args = append(args,
					sql.Named(fmt.Sprintf("lo%d", i), axis.Origin),
					sql.Named(fmt.Sprintf("hi%d", i), axis.To))
			}
			_, err := stmt.ExecContext(ctx, args...)
			return err
		})
		if err != nil {
			return nil, mperr.Backend("DistributePoints/migrate", err)
		}
	}

	// Assert no points were stranded by the range-predicate migration,
	// rather than silently trusting the leaf's own containment
	// invariant.
	remaining, err := s.GetPointCount(ctx, id)
	if err != nil {
		return nil, err
	}
	if remaining != 0 {
		return nil, mperr.Invariant("%d point(s) stranded migrating node %d during split", remaining, id)
	}

	kidArgs := make([]any, 0, len(childIDs)+1)
	kidArgs = append(kidArgs, sql.Named("id", int64(id)))
	for k, cid := range childIDs {
		kidArgs = append(kidArgs, sql.Named(childColumnName(k), int64(cid)))
	}
	err = s.withStmt(ctx, s.adapter.q.updateNodeSetKids, func(stmt *sql.Stmt) error {
		_, err := stmt.ExecContext(ctx, kidArgs...)
		return err
	})
	if err != nil {
		return nil, mperr.Backend("DistributePoints/updateNode", err)
	}

	out := make([]storage.NodeID, len(childIDs))
	copy(out, childIDs)
	return &storage.Node{Children: out}, nil
}

func (s *session[V]) AggregatePoints(ctx context.Context, childIDs []storage.NodeID, parentBound geometry.Bound, parentID storage.NodeID) error {
	if err := ctx.Err(); err != nil {
		return mperr.ErrCancelled
	}
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.checkWritable(); err != nil {
		return err
	}

	for _, cid := range childIDs {
		err := s.withStmt(ctx, s.adapter.q.reparentAllPoints, func(stmt *sql.Stmt) error {
			_, err := stmt.ExecContext(ctx, sql.Named("new_id", int64(parentID)), sql.Named("old_id", int64(cid)))
			return err
		})
		if err != nil {
			return mperr.Backend("AggregatePoints/reparent", err)
		}

		err = s.withStmt(ctx, s.adapter.q.deleteNode, func(stmt *sql.Stmt) error {
			_, err := stmt.ExecContext(ctx, sql.Named("id", int64(cid)))
			return err
		})
		if err != nil {
			return mperr.Backend("AggregatePoints/deleteNode", err)
		}
	}

	err := s.withStmt(ctx, s.adapter.q.clearNodeKids, func(stmt *sql.Stmt) error {
		_, err := stmt.ExecContext(ctx, sql.Named("id", int64(parentID)))
		return err
	})
	if err != nil {
		return mperr.Backend("AggregatePoints/clearKids", err)
	}
	return nil
}

func (s *session[V]) scanPointRows(rows *sql.Rows) ([]geometry.PointItem[V], error) {
	defer rows.Close()
	dim := s.adapter.q.dimension
	var out []geometry.PointItem[V]
	for rows.Next() {
		coords := make([]float64, dim)
		var raw any
		scanArgs := make([]any, 0, dim+1)
		for i := range coords {
			scanArgs = append(scanArgs, &coords[i])
		}
		scanArgs = append(scanArgs, &raw)
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, err
		}
		val, err := s.adapter.codec.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: decode payload: %w", err)
		}
		out = append(out, geometry.PointItem[V]{Point: geometry.Point(coords), Value: val})
	}
	return out, rows.Err()
}

func (s *session[V]) exactArgs(id storage.NodeID, p geometry.Point) []any {
	args := make([]any, 0, len(p)+1)
	args = append(args, sql.Named("id", int64(id)))
	for i, v := range p {
		args = append(args, sql.Named(axisColumnName(i), v))
	}
	return args
}

func (s *session[V]) rangeArgs(id storage.NodeID, b geometry.Bound) []any {
	args := make([]any, 0, len(b)*2+1)
	args = append(args, sql.Named("id", int64(id)))
	for i, axis := range b {
		args = append(args,
			sql.Named(fmt.Sprintf("lo%d", i), axis.Origin),
			sql.Named(fmt.Sprintf("hi%d", i), axis.To))
	}
	return args
}

func (s *session[V]) LookupPoint(ctx context.Context, id storage.NodeID, p geometry.Point) ([]geometry.PointItem[V], error) {
	if err := ctx.Err(); err != nil {
		return nil, mperr.ErrCancelled
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var out []geometry.PointItem[V]
	err := s.withStmt(ctx, s.adapter.q.selectPointsExact, func(stmt *sql.Stmt) error {
		rows, err := stmt.QueryContext(ctx, s.exactArgs(id, p)...)
		if err != nil {
			return err
		}
		out, err = s.scanPointRows(rows)
		return err
	})
	if err != nil {
		return nil, mperr.Backend("LookupPoint", err)
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
	text := s.adapter.q.selectPointsRange
	if rightClosed {
		text = s.adapter.q.selectPointsRangeInclusive
	}
	var out []geometry.PointItem[V]
	err := s.withStmt(ctx, text, func(stmt *sql.Stmt) error {
		rows, err := stmt.QueryContext(ctx, s.rangeArgs(id, b)...)
		if err != nil {
			return err
		}
		out, err = s.scanPointRows(rows)
		return err
	})
	if err != nil {
		return nil, mperr.Backend("LookupBound", err)
	}
	return out, nil
}

// EnumerateBound streams rows one at a time from a single *sql.Rows
// cursor rather than materializing the whole leaf.
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

		text := s.adapter.q.selectPointsRange
		if rightClosed {
			text = s.adapter.q.selectPointsRangeInclusive
		}
		stmt, err := s.cache.checkout(ctx, text)
		if err != nil {
			yield(geometry.PointItem[V]{}, mperr.Backend("EnumerateBound/checkout", err))
			return
		}
		defer s.cache.release(text, stmt)

		rows, err := stmt.QueryContext(ctx, s.rangeArgs(id, b)...)
		if err != nil {
			yield(geometry.PointItem[V]{}, mperr.Backend("EnumerateBound/query", err))
			return
		}
		defer rows.Close()

		dim := s.adapter.q.dimension
		for rows.Next() {
			if ctx.Err() != nil {
				yield(geometry.PointItem[V]{}, mperr.ErrCancelled)
				return
			}
			coords := make([]float64, dim)
			var raw any
			scanArgs := make([]any, 0, dim+1)
			for i := range coords {
				scanArgs = append(scanArgs, &coords[i])
			}
			scanArgs = append(scanArgs, &raw)
			if err := rows.Scan(scanArgs...); err != nil {
				yield(geometry.PointItem[V]{}, mperr.Backend("EnumerateBound/scan", err))
				return
			}
			val, err := s.adapter.codec.Decode(raw)
			if err != nil {
				yield(geometry.PointItem[V]{}, fmt.Errorf("sqlstore: decode payload: %w", err))
				return
			}
			if !yield(geometry.PointItem[V]{Point: geometry.Point(coords), Value: val}, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(geometry.PointItem[V]{}, mperr.Backend("EnumerateBound/rows", err))
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
	if err := s.checkWritable(); err != nil {
		return 0, -1, err
	}

	var removed int64
	err := s.withStmt(ctx, s.adapter.q.deletePoint, func(stmt *sql.Stmt) error {
		res, err := stmt.ExecContext(ctx, s.exactArgs(id, p)...)
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, -1, mperr.Backend("RemovePoint", err)
	}

	remains := -1
	if wantRemainsHint {
		remains, err = s.GetPointCount(ctx, id)
		if err != nil {
			return int(removed), -1, err
		}
	}
	return int(removed), remains, nil
}

func (s *session[V]) RemoveBound(ctx context.Context, id storage.NodeID, b geometry.Bound, rightClosed bool, wantRemainsHint bool) (int, int, error) {
	if err := ctx.Err(); err != nil {
		return 0, -1, mperr.ErrCancelled
	}
	if err := s.checkOpen(); err != nil {
		return 0, -1, err
	}
	if err := s.checkWritable(); err != nil {
		return 0, -1, err
	}

	text := s.adapter.q.deleteRange
	if rightClosed {
		text = s.adapter.q.deleteRangeInclusive
	}
	var removed int64
	err := s.withStmt(ctx, text, func(stmt *sql.Stmt) error {
		res, err := stmt.ExecContext(ctx, s.rangeArgs(id, b)...)
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, -1, mperr.Backend("RemoveBound", err)
	}

	remains := -1
	if wantRemainsHint {
		remains, err = s.GetPointCount(ctx, id)
		if err != nil {
			return int(removed), -1, err
		}
	}
	return int(removed), remains, nil
}
