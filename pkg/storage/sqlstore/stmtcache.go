// pkg/storage/sqlstore/stmtcache.go
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// stmtCache is a per-session pool of prepared statements keyed by
// query text, with released handles returned to a free list for
// reuse. Concurrent fan-out across children may want the same query
// text checked out more than once at a time, so each text maps to a
// slice of idle handles rather than a single cached *sql.Stmt.
type stmtCache struct {
	mu    sync.Mutex
	tx    *sql.Tx
	free  map[string][]*sql.Stmt
	total int
}

func newStmtCache(tx *sql.Tx) *stmtCache {
	return &stmtCache{tx: tx, free: make(map[string][]*sql.Stmt)}
}

// checkout returns an idle prepared statement for text, preparing a
// new one against the session's transaction if none is idle.
func (c *stmtCache) checkout(ctx context.Context, text string) (*sql.Stmt, error) {
	c.mu.Lock()
	if idle := c.free[text]; len(idle) > 0 {
		stmt := idle[len(idle)-1]
		c.free[text] = idle[:len(idle)-1]
		c.mu.Unlock()
		return stmt, nil
	}
	c.mu.Unlock()

	stmt, err := c.tx.PrepareContext(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: prepare %q: %w", text, err)
	}
	c.mu.Lock()
	c.total++
	c.mu.Unlock()
	return stmt, nil
}

// release returns stmt to the free list for text so a later checkout
// of the same query text can reuse it without re-preparing.
func (c *stmtCache) release(text string, stmt *sql.Stmt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.free[text] = append(c.free[text], stmt)
}

// closeAll closes every pooled statement. Called once when the owning
// session disposes or finishes.
func (c *stmtCache) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, stmts := range c.free {
		for _, s := range stmts {
			_ = s.Close()
		}
	}
	c.free = make(map[string][]*sql.Stmt)
}
