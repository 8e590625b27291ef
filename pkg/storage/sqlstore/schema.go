// pkg/storage/sqlstore/schema.go
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// axisColumnName names x, y, z for the first three axes, axis3,
// axis4, ... beyond.
func axisColumnName(i int) string {
	switch i {
	case 0:
		return "x"
	case 1:
		return "y"
	case 2:
		return "z"
	default:
		return fmt.Sprintf("axis%d", i)
	}
}

func childColumnName(k int) string {
	return fmt.Sprintf("child_id%d", k)
}

func nodesTableName(prefix string) string {
	return prefix + "_nodes"
}

func pointsTableName(prefix string) string {
	return prefix + "_node_points"
}

// nodesTableDDL builds <prefix>_nodes(id INTEGER PRIMARY KEY
// AUTOINCREMENT, child_id0 INTEGER NULL, ...,
// child_id{childCount-1} INTEGER NULL).
func nodesTableDDL(prefix string, childCount int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n\tid INTEGER PRIMARY KEY AUTOINCREMENT", nodesTableName(prefix))
	for k := 0; k < childCount; k++ {
		fmt.Fprintf(&b, ",\n\t%s INTEGER NULL", childColumnName(k))
	}
	b.WriteString("\n)")
	return b.String()
}

// pointsTableDDL builds <prefix>_node_points(node_id INTEGER NOT NULL,
// x REAL NOT NULL, y REAL NOT NULL, ..., axis{d-1} REAL NOT NULL,
// value <payloadType>).
func pointsTableDDL(prefix string, dimension int, payloadType string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n\tnode_id INTEGER NOT NULL", pointsTableName(prefix))
	for i := 0; i < dimension; i++ {
		fmt.Fprintf(&b, ",\n\t%s REAL NOT NULL", axisColumnName(i))
	}
	fmt.Fprintf(&b, ",\n\tvalue %s\n)", payloadType)
	return b.String()
}

func pointsNodeIDIndexDDL(prefix string) string {
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_node_id ON %s (node_id)",
		pointsTableName(prefix), pointsTableName(prefix))
}

// Bootstrap creates the schema (if absent), applies the SQLite tuning
// pragmas, and seeds the root node row. It is SQL-dialect-specific
// table creation and tuning, outside the storage-agnostic tree
// algorithm, but is the concrete piece that makes the relational
// adapter runnable.
func Bootstrap(ctx context.Context, db *sql.DB, cfg Config) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("sqlstore: bootstrap pragma %q: %w", p, err)
		}
	}

	childCount := cfg.Entire.ChildCount()
	ddls := []string{
		nodesTableDDL(cfg.Prefix, childCount),
		pointsTableDDL(cfg.Prefix, cfg.Entire.Dimension(), cfg.PayloadColumnType),
		pointsNodeIDIndexDDL(cfg.Prefix),
	}
	for _, ddl := range ddls {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("sqlstore: bootstrap schema: %w", err)
		}
	}

	// Seed the root row (id = 0, all children NULL) if it is missing.
	var exists int
	row := db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE id = 0", nodesTableName(cfg.Prefix)))
	if err := row.Scan(&exists); err != nil {
		return fmt.Errorf("sqlstore: bootstrap root check: %w", err)
	}
	if exists == 0 {
		_, err := db.ExecContext(ctx, fmt.Sprintf("INSERT INTO %s (id) VALUES (0)", nodesTableName(cfg.Prefix)))
		if err != nil {
			return fmt.Errorf("sqlstore: bootstrap root seed: %w", err)
		}
	}
	return nil
}
