package pgx

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/scholargraph/pkg/store"
)

// walkCTE computes the shortest distance of every node reachable from $1
// within $2 hops. $3 is the direction, $4 the allowed edge labels (empty means
// all) and $5 the user the walk is restricted to (empty means everyone). %[1]s
// is the node visibility clause and %[2]s the edge one.
const walkCTE = `
WITH RECURSIVE walk(node_id, depth, path) AS (
    SELECT $1::text, 0, ARRAY[$1::text]
  UNION ALL
    SELECT nxt.id, w.depth + 1, w.path || nxt.id
    FROM walk w
    JOIN graph_edges e
      ON ($3 IN ('outbound', 'any') AND e.source_id = w.node_id)
      OR ($3 IN ('inbound', 'any') AND e.target_id = w.node_id)
    JOIN graph_nodes nxt
      ON nxt.id = CASE WHEN e.source_id = w.node_id THEN e.target_id ELSE e.source_id END
    WHERE w.depth < $2
      AND NOT nxt.id = ANY(w.path)
      AND (cardinality($4::text[]) = 0 OR e.label = ANY($4::text[]))
      AND ($5 = '' OR (%[1]s AND %[2]s))
),
reached AS (
    SELECT node_id, min(depth) AS depth
    FROM walk
    GROUP BY node_id
)
`

var edgeVisibility = visibilityClause("e", "$5")

var walkSQL = fmt.Sprintf(walkCTE, visibilityClause("nxt", "$5"), edgeVisibility)

var traverseNodesSQL = walkSQL + `
SELECT n.id, n.type, n.label, n.properties
FROM reached r
JOIN graph_nodes n ON n.id = r.node_id
WHERE r.depth BETWEEN $6 AND $2
ORDER BY r.depth, n.created_at, n.id;
`

var traverseEdgesSQL = walkSQL + `
SELECT DISTINCT ON (e.id) e.id, e.source_id, e.target_id, e.label, e.type, e.properties
FROM reached r
JOIN graph_edges e
  ON ($3 IN ('outbound', 'any') AND e.source_id = r.node_id)
  OR ($3 IN ('inbound', 'any') AND e.target_id = r.node_id)
JOIN reached other
  ON other.node_id = CASE WHEN e.source_id = r.node_id THEN e.target_id ELSE e.source_id END
WHERE r.depth < $2
  AND r.depth + 1 >= $6
  AND (cardinality($4::text[]) = 0 OR e.label = ANY($4::text[]))
  AND ($5 = '' OR ` + edgeVisibility + `)
ORDER BY e.id;
`

func (s *GraphDBStorage) Traverse(ctx context.Context, startID string, opts store.TraverseOptions) (store.TraversalResult, error) {
	start, err := s.GetNode(ctx, startID)
	if err != nil {
		return store.TraversalResult{}, err
	}
	if !store.Visible(start, opts.VisibleTo) {
		return store.TraversalResult{}, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	direction := opts.Direction
	if direction == "" {
		direction = store.DirectionAny
	}
	labels := opts.EdgeLabels
	if labels == nil {
		labels = []string{}
	}
	args := []any{startID, opts.MaxDepth, string(direction), labels, opts.VisibleTo, opts.MinDepth}

	var res store.TraversalResult

	rows, err := s.conn.Query(ctx, traverseNodesSQL, args...)
	if err != nil {
		return store.TraversalResult{}, wrapErr("traverse nodes", err)
	}
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			rows.Close()
			return store.TraversalResult{}, wrapErr("scan traversed node", err)
		}
		if n.ID == startID && opts.MinDepth > 0 {
			continue
		}
		res.Nodes = append(res.Nodes, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return store.TraversalResult{}, wrapErr("traverse nodes", err)
	}

	rows, err = s.conn.Query(ctx, traverseEdgesSQL, args...)
	if err != nil {
		return store.TraversalResult{}, wrapErr("traverse edges", err)
	}
	defer rows.Close()
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return store.TraversalResult{}, wrapErr("scan traversed edge", err)
		}
		res.Edges = append(res.Edges, e)
	}
	if err := rows.Err(); err != nil {
		return store.TraversalResult{}, wrapErr("traverse edges", err)
	}

	return res, nil
}

var _ store.GraphStorage = (*GraphDBStorage)(nil)
