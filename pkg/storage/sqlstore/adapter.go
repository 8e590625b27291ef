// pkg/storage/sqlstore/adapter.go
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kekyo/MassivePoints-sub000/pkg/geometry"
	"github.com/kekyo/MassivePoints-sub000/pkg/mperr"
	"github.com/kekyo/MassivePoints-sub000/pkg/storage"
)

// Config holds the dialect-facing configuration of a relational
// adapter: table prefix, parameter placeholder prefix, the tree's
// bound/capacity, and the payload column's declared SQL type. Schema
// bootstrap and tuning live outside the storage-agnostic tree
// algorithm, but belong here in the concrete adapter.
type Config struct {
	// Prefix is prepended to both table names (default "mpt").
	Prefix string

	// ParamPrefix is the bind-parameter marker, default "@".
	// mattn/go-sqlite3 recognizes @name, :name and $name named
	// parameters directly.
	ParamPrefix string

	// Entire is the root bound every inserted point must satisfy.
	Entire geometry.Bound

	// MaxNodePoints is the per-leaf capacity before a forced split.
	MaxNodePoints int

	// PayloadColumnType is the declared SQL type of the value column,
	// e.g. "BLOB" (default), "TEXT", "INTEGER", "REAL".
	PayloadColumnType string
}

func (c Config) withDefaults() Config {
	if c.Prefix == "" {
		c.Prefix = "mpt"
	}
	if c.ParamPrefix == "" {
		c.ParamPrefix = "@"
	}
	if c.PayloadColumnType == "" {
		c.PayloadColumnType = "BLOB"
	}
	if c.MaxNodePoints < 1 {
		c.MaxNodePoints = 100
	}
	return c
}

// Adapter is the relational storage backend: prepared statements
// executed inside a transaction, driven by database/sql against the
// mattn/go-sqlite3 driver.
type Adapter[V any] struct {
	db    *sql.DB
	cfg   Config
	codec Codec[V]
	q     *queries
}

// Open opens (creating if necessary) a relational adapter against
// driverName/dsn, bootstraps its schema, and returns it ready for
// sessions. driverName is typically "sqlite3".
func Open[V any](ctx context.Context, driverName, dsn string, cfg Config, codec Codec[V]) (*Adapter[V], error) {
	cfg = cfg.withDefaults()
	if cfg.Entire == nil {
		return nil, fmt.Errorf("sqlstore: Config.Entire is required")
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, mperr.Backend("Open", err)
	}
	// A single connection keeps every session's transaction on the
	// same underlying SQLite connection and serializes them, which
	// SQLite itself requires anyway since it only supports one writer
	// at a time.
	db.SetMaxOpenConns(1)

	if err := Bootstrap(ctx, db, cfg); err != nil {
		db.Close()
		return nil, err
	}

	q := buildQueries(cfg.Prefix, cfg.ParamPrefix, cfg.Entire.Dimension(), cfg.Entire.ChildCount())
	return &Adapter[V]{db: db, cfg: cfg, codec: codec, q: q}, nil
}

// Close closes the underlying database handle. Callers must ensure no
// session is open.
func (a *Adapter[V]) Close() error {
	return a.db.Close()
}

func (a *Adapter[V]) Entire() geometry.Bound { return a.cfg.Entire }

func (a *Adapter[V]) MaxNodePoints() int { return a.cfg.MaxNodePoints }

// BeginSession opens a serializable transaction for writers or a
// read-committed, read-only transaction for readers.
func (a *Adapter[V]) BeginSession(ctx context.Context, willUpdate bool) (storage.Session[V], error) {
	if err := ctx.Err(); err != nil {
		return nil, mperr.ErrCancelled
	}
	opts := &sql.TxOptions{}
	if willUpdate {
		opts.Isolation = sql.LevelSerializable
	} else {
		opts.Isolation = sql.LevelReadCommitted
		opts.ReadOnly = true
	}
	tx, err := a.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, mperr.Backend("BeginSession", err)
	}
	return &session[V]{
		adapter:  a,
		tx:       tx,
		writable: willUpdate,
		cache:    newStmtCache(tx),
	}, nil
}
