// pkg/storage/sqlstore/queries.go
package sqlstore

import (
	"fmt"
	"strings"
)

// queries holds the fixed SQL text for every operation the adapter
// needs, built once from the tree's dimension/child-count/prefix at
// adapter construction. Because the text never changes across calls
// (every value is bound as a named parameter, never interpolated), it
// is exactly the cache key the prepared-statement cache is keyed on.
type queries struct {
	prefix      string
	paramPrefix string
	dimension   int
	childCount  int

	selectNode        string
	selectPointCount  string
	insertPoint       string
	updateNodeSetKids string
	insertNode        string
	deleteNode        string
	selectPointsExact string
	selectPointsRange string
	selectPointsRangeInclusive string
	deletePoint       string
	deleteRange       string
	deleteRangeInclusive string
	migratePoints     []string // one per child, axis-range predicate baked in at prepare time via named params
	reparentAllPoints string  // unconditional node_id reassignment, used by AggregatePoints
	clearNodeKids     string  // UPDATE ... SET all child_idK = NULL, used by AggregatePoints
}

func (q *queries) param(name string) string {
	return q.paramPrefix + name
}

func buildQueries(prefix, paramPrefix string, dimension, childCount int) *queries {
	q := &queries{prefix: prefix, paramPrefix: paramPrefix, dimension: dimension, childCount: childCount}

	nodesTbl := nodesTableName(prefix)
	pointsTbl := pointsTableName(prefix)

	// select-node
	cols := make([]string, childCount)
	for k := 0; k < childCount; k++ {
		cols[k] = childColumnName(k)
	}
	q.selectNode = fmt.Sprintf("SELECT %s FROM %s WHERE id = %s",
		strings.Join(cols, ", "), nodesTbl, q.param("id"))

	// select-point-count
	q.selectPointCount = fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE node_id = %s",
		pointsTbl, q.param("id"))

	// insert-point
	insertCols := []string{"node_id"}
	insertParams := []string{q.param("node_id")}
	for i := 0; i < dimension; i++ {
		insertCols = append(insertCols, axisColumnName(i))
		insertParams = append(insertParams, q.param(axisColumnName(i)))
	}
	insertCols = append(insertCols, "value")
	insertParams = append(insertParams, q.param("value"))
	q.insertPoint = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		pointsTbl, strings.Join(insertCols, ", "), strings.Join(insertParams, ", "))

	// update-node (set children), insert-node, delete-node
	sets := make([]string, childCount)
	insNodeCols := []string{"id"}
	insNodeParams := []string{q.param("id")}
	for k := 0; k < childCount; k++ {
		c := childColumnName(k)
		sets[k] = fmt.Sprintf("%s = %s", c, q.param(c))
		insNodeCols = append(insNodeCols, c)
		insNodeParams = append(insNodeParams, q.param(c))
	}
	q.updateNodeSetKids = fmt.Sprintf("UPDATE %s SET %s WHERE id = %s",
		nodesTbl, strings.Join(sets, ", "), q.param("id"))
	q.insertNode = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		nodesTbl, strings.Join(insNodeCols, ", "), strings.Join(insNodeParams, ", "))
	q.deleteNode = fmt.Sprintf("DELETE FROM %s WHERE id = %s", nodesTbl, q.param("id"))

	// select-points-exact
	exactPred := make([]string, dimension)
	for i := 0; i < dimension; i++ {
		col := axisColumnName(i)
		exactPred[i] = fmt.Sprintf("%s = %s", col, q.param(col))
	}
	selectCols := make([]string, 0, dimension+1)
	for i := 0; i < dimension; i++ {
		selectCols = append(selectCols, axisColumnName(i))
	}
	selectCols = append(selectCols, "value")
	q.selectPointsExact = fmt.Sprintf("SELECT %s FROM %s WHERE node_id = %s AND %s",
		strings.Join(selectCols, ", "), pointsTbl, q.param("id"), strings.Join(exactPred, " AND "))

	// select-points-range / select-points-range-inclusive
	q.selectPointsRange = fmt.Sprintf("SELECT %s FROM %s WHERE node_id = %s AND %s",
		strings.Join(selectCols, ", "), pointsTbl, q.param("id"), q.rangePredicate(false))
	q.selectPointsRangeInclusive = fmt.Sprintf("SELECT %s FROM %s WHERE node_id = %s AND %s",
		strings.Join(selectCols, ", "), pointsTbl, q.param("id"), q.rangePredicate(true))

	// delete-point
	q.deletePoint = fmt.Sprintf("DELETE FROM %s WHERE node_id = %s AND %s",
		pointsTbl, q.param("id"), strings.Join(exactPred, " AND "))

	// delete-range / delete-range-inclusive
	q.deleteRange = fmt.Sprintf("DELETE FROM %s WHERE node_id = %s AND %s",
		pointsTbl, q.param("id"), q.rangePredicate(false))
	q.deleteRangeInclusive = fmt.Sprintf("DELETE FROM %s WHERE node_id = %s AND %s",
		pointsTbl, q.param("id"), q.rangePredicate(true))

	// update-points-node-id: migrates points matching a child's axis
	// range out of the parent leaf during split. One statement per
	// child index; the range predicate selects exactly the points
	// belonging to that child (right-open).
	q.migratePoints = make([]string, childCount)
	for k := 0; k < childCount; k++ {
		q.migratePoints[k] = fmt.Sprintf("UPDATE %s SET node_id = %s WHERE node_id = %s AND %s",
			pointsTbl, q.param("new_id"), q.param("old_id"), q.rangePredicate(false))
	}

	// reparent-all-points / clear-node-children: used by AggregatePoints
	// to move every point of a leaf child into the parent's bucket and
	// then reset the parent to a leaf.
	q.reparentAllPoints = fmt.Sprintf("UPDATE %s SET node_id = %s WHERE node_id = %s",
		pointsTbl, q.param("new_id"), q.param("old_id"))
	clearSets := make([]string, childCount)
	for k := 0; k < childCount; k++ {
		clearSets[k] = fmt.Sprintf("%s = NULL", childColumnName(k))
	}
	q.clearNodeKids = fmt.Sprintf("UPDATE %s SET %s WHERE id = %s",
		nodesTbl, strings.Join(clearSets, ", "), q.param("id"))

	return q
}

// rangePredicate builds the "lo <= axis < hi" (or "<=" when
// rightClosed) conjunction across every dimension, parameterized as
// @loN / @hiN.
func (q *queries) rangePredicate(rightClosed bool) string {
	parts := make([]string, q.dimension)
	upperOp := "<"
	if rightClosed {
		upperOp = "<="
	}
	for i := 0; i < q.dimension; i++ {
		col := axisColumnName(i)
		parts[i] = fmt.Sprintf("(%s >= %s AND %s %s %s)",
			col, q.param(fmt.Sprintf("lo%d", i)), col, upperOp, q.param(fmt.Sprintf("hi%d", i)))
	}
	return strings.Join(parts, " AND ")
}
