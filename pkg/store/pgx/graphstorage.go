package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/scholargraph/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	SendBatch(ctx context.Context, b *pgxv5.Batch) pgxv5.BatchResults
}

// GraphDBStorage implements store.GraphStorage on top of two PostgreSQL
// tables, graph_nodes and graph_edges. Edges reference nodes with
// ON DELETE CASCADE so removing a node removes its incident edges.
type GraphDBStorage struct {
	conn    pgxIConn
	timeout time.Duration
}

type GraphDBStorageOption func(*GraphDBStorage)

// WithStatementTimeout bounds every statement issued by the storage.
func WithStatementTimeout(d time.Duration) GraphDBStorageOption {
	return func(s *GraphDBStorage) {
		s.timeout = d
	}
}

// NewGraphDBStorageWithConnection creates a GraphDBStorage using an existing
// connection or pool. The schema is created by the migrations in
// migrations/.
func NewGraphDBStorageWithConnection(conn pgxIConn, opts ...GraphDBStorageOption) *GraphDBStorage {
	s := &GraphDBStorage{conn: conn}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

func (s *GraphDBStorage) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func encodeProps(props map[string]any) (string, error) {
	if props == nil {
		return "{}", nil
	}
	b, err := json.Marshal(props)
	if err != nil {
		return "", fmt.Errorf("encode properties: %w", err)
	}
	return string(b), nil
}

func decodeProps(raw []byte) (map[string]any, error) {
	props := make(map[string]any)
	if len(raw) == 0 {
		return props, nil
	}
	if err := json.Unmarshal(raw, &props); err != nil {
		return nil, fmt.Errorf("decode properties: %w", err)
	}
	return props, nil
}

// wrapErr maps driver errors onto the store sentinels.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgxv5.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, store.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503":
			return fmt.Errorf("%s: %w", op, store.ErrMissingEndpoint)
		case "08000", "08003", "08006", "57P01":
			return fmt.Errorf("%s: %w: %v", op, store.ErrUnavailable, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return fmt.Errorf("%s: %w: %v", op, store.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
