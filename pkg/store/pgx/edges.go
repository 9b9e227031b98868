package pgx

import (
	"context"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/scholargraph/internal/util"
	"github.com/OFFIS-RIT/scholargraph/pkg/common"
	"github.com/OFFIS-RIT/scholargraph/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
)

const upsertEdgeSQL = `
INSERT INTO graph_edges (id, source_id, target_id, label, type, properties)
VALUES ($1, $2, $3, $4, $5, $6::jsonb)
ON CONFLICT (id) DO UPDATE
SET source_id  = EXCLUDED.source_id,
    target_id  = EXCLUDED.target_id,
    label      = EXCLUDED.label,
    type       = EXCLUDED.type,
    properties = EXCLUDED.properties,
    updated_at = now();
`

const getEdgeSQL = `
SELECT id, source_id, target_id, label, type, properties
FROM graph_edges
WHERE id = $1;
`

const deleteEdgeSQL = `
DELETE FROM graph_edges
WHERE id = $1;
`

func (s *GraphDBStorage) UpsertEdge(ctx context.Context, edge common.Edge) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	props, err := encodeProps(edge.Properties)
	if err != nil {
		return err
	}

	_, err = s.conn.Exec(
		ctx,
		upsertEdgeSQL,
		edge.ID,
		edge.SourceID,
		edge.TargetID,
		util.SanitizePostgresText(edge.Label),
		util.SanitizePostgresText(edge.Type),
		util.SanitizePostgresText(props),
	)
	return wrapErr("upsert edge "+edge.ID, err)
}

func scanEdge(row pgxv5.Row) (common.Edge, error) {
	var (
		e     common.Edge
		props []byte
	)
	if err := row.Scan(&e.ID, &e.SourceID, &e.TargetID, &e.Label, &e.Type, &props); err != nil {
		return common.Edge{}, err
	}
	decoded, err := decodeProps(props)
	if err != nil {
		return common.Edge{}, err
	}
	e.Properties = decoded
	return e, nil
}

func (s *GraphDBStorage) GetEdge(ctx context.Context, id string) (common.Edge, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	e, err := scanEdge(s.conn.QueryRow(ctx, getEdgeSQL, id))
	if err != nil {
		return common.Edge{}, wrapErr("get edge "+id, err)
	}
	return e, nil
}

func (s *GraphDBStorage) QueryEdges(ctx context.Context, filter store.EdgeFilter) ([]common.Edge, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		where []string
		args  []any
	)
	bind := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Label != "" {
		where = append(where, "label = "+bind(filter.Label))
	}
	if filter.SourceID != "" {
		where = append(where, "source_id = "+bind(filter.SourceID))
	}
	if filter.TargetID != "" {
		where = append(where, "target_id = "+bind(filter.TargetID))
	}
	if len(filter.Properties) > 0 {
		props, err := encodeProps(filter.Properties)
		if err != nil {
			return nil, err
		}
		where = append(where, "properties @> "+bind(props)+"::jsonb")
	}

	var sb strings.Builder
	sb.WriteString("SELECT id, source_id, target_id, label, type, properties FROM graph_edges")
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY created_at, id")
	if filter.Limit > 0 {
		sb.WriteString(" LIMIT " + bind(filter.Limit))
	}

	rows, err := s.conn.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, wrapErr("query edges", err)
	}
	defer rows.Close()

	var out []common.Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, wrapErr("scan edge", err)
		}
		out = append(out, e)
	}
	return out, wrapErr("query edges", rows.Err())
}

func (s *GraphDBStorage) DeleteEdge(ctx context.Context, id string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tag, err := s.conn.Exec(ctx, deleteEdgeSQL, id)
	if err != nil {
		return wrapErr("delete edge "+id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete edge %s: %w", id, store.ErrNotFound)
	}
	return nil
}
