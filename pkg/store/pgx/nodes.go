package pgx

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/scholargraph/internal/util"
	"github.com/OFFIS-RIT/scholargraph/pkg/common"
	"github.com/OFFIS-RIT/scholargraph/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
)

const upsertNodeSQL = `
INSERT INTO graph_nodes (id, type, label, properties)
VALUES ($1, $2, $3, $4::jsonb)
ON CONFLICT (id) DO UPDATE
SET label      = EXCLUDED.label,
    properties = EXCLUDED.properties,
    updated_at = now()
WHERE graph_nodes.type = EXCLUDED.type
RETURNING id;
`

const getNodeSQL = `
SELECT id, type, label, properties
FROM graph_nodes
WHERE id = $1;
`

const deleteNodeSQL = `
DELETE FROM graph_nodes
WHERE id = $1;
`

// visibilityClause restricts rows of the aliased node table to public nodes
// and nodes owned by the user bound to the given placeholder.
func visibilityClause(alias, placeholder string) string {
	return fmt.Sprintf(
		"(COALESCE((%[1]s.properties->>'is_public')::boolean, false) OR %[1]s.properties->>'owner_id' = %[2]s)",
		alias, placeholder,
	)
}

func (s *GraphDBStorage) UpsertNode(ctx context.Context, node common.Node) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	props, err := encodeProps(node.Properties)
	if err != nil {
		return err
	}

	var id string
	err = s.conn.QueryRow(
		ctx,
		upsertNodeSQL,
		node.ID,
		string(node.Type),
		util.SanitizePostgresText(node.Label),
		util.SanitizePostgresText(props),
	).Scan(&id)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return fmt.Errorf("upsert node %s: %w", node.ID, store.ErrTypeMismatch)
	}
	return wrapErr("upsert node "+node.ID, err)
}

func scanNode(row pgxv5.Row) (common.Node, error) {
	var (
		n     common.Node
		typ   string
		props []byte
	)
	if err := row.Scan(&n.ID, &typ, &n.Label, &props); err != nil {
		return common.Node{}, err
	}
	n.Type = common.NodeType(typ)
	decoded, err := decodeProps(props)
	if err != nil {
		return common.Node{}, err
	}
	n.Properties = decoded
	return n, nil
}

func (s *GraphDBStorage) GetNode(ctx context.Context, id string) (common.Node, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := scanNode(s.conn.QueryRow(ctx, getNodeSQL, id))
	if err != nil {
		return common.Node{}, wrapErr("get node "+id, err)
	}
	return n, nil
}

func (s *GraphDBStorage) QueryNodes(ctx context.Context, filter store.NodeFilter) ([]common.Node, error) {
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

	if filter.Type != "" {
		where = append(where, "n.type = "+bind(string(filter.Type)))
	}
	if filter.Label != "" {
		where = append(where, "n.label = "+bind(filter.Label))
	}
	if len(filter.Properties) > 0 {
		props, err := encodeProps(filter.Properties)
		if err != nil {
			return nil, err
		}
		where = append(where, "n.properties @> "+bind(props)+"::jsonb")
	}
	if filter.VisibleTo != "" {
		where = append(where, visibilityClause("n", bind(filter.VisibleTo)))
	}

	var sb strings.Builder
	sb.WriteString("SELECT n.id, n.type, n.label, n.properties FROM graph_nodes n")
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY n.created_at, n.id")
	if filter.Limit > 0 {
		sb.WriteString(" LIMIT " + bind(filter.Limit))
	}

	rows, err := s.conn.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, wrapErr("query nodes", err)
	}
	defer rows.Close()

	var out []common.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, wrapErr("scan node", err)
		}
		out = append(out, n)
	}
	return out, wrapErr("query nodes", rows.Err())
}

func (s *GraphDBStorage) DeleteNode(ctx context.Context, id string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tag, err := s.conn.Exec(ctx, deleteNodeSQL, id)
	if err != nil {
		return wrapErr("delete node "+id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete node %s: %w", id, store.ErrNotFound)
	}
	return nil
}
