package pgx

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/scholargraph/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

const upsertVectorSQL = `
INSERT INTO paper_vectors (namespace, id, embedding, metadata)
VALUES ($1, $2, $3, $4::jsonb)
ON CONFLICT (namespace, id) DO UPDATE
SET embedding  = EXCLUDED.embedding,
    metadata   = EXCLUDED.metadata,
    updated_at = now();
`

const searchVectorSQL = `
SELECT id, metadata, 1 - (embedding <=> $2) AS score
FROM paper_vectors
WHERE namespace = $1
  AND metadata @> $3::jsonb
ORDER BY embedding <=> $2
LIMIT $4;
`

const deleteVectorsSQL = `
DELETE FROM paper_vectors
WHERE namespace = $1 AND id = ANY($2::text[]);
`

// VectorDBStorage implements store.VectorStorage with pgvector. Every
// namespace shares the paper_vectors table and is selected by column.
type VectorDBStorage struct {
	conn    pgxIConn
	timeout time.Duration
}

// NewVectorDBStorageWithConnection creates a VectorDBStorage. The pool must
// have the pgvector types registered (see pgxvec.RegisterTypes).
func NewVectorDBStorageWithConnection(conn pgxIConn, opts ...GraphDBStorageOption) *VectorDBStorage {
	g := NewGraphDBStorageWithConnection(conn, opts...)
	return &VectorDBStorage{conn: conn, timeout: g.timeout}
}

func (v *VectorDBStorage) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if v.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, v.timeout)
}

func (v *VectorDBStorage) Upsert(ctx context.Context, namespace string, records []store.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	ctx, cancel := v.withTimeout(ctx)
	defer cancel()

	batch := &pgxv5.Batch{}
	for _, r := range records {
		meta, err := encodeProps(r.Metadata)
		if err != nil {
			return err
		}
		batch.Queue(upsertVectorSQL, namespace, r.ID, pgvector.NewVector(r.Embedding), meta)
	}

	br := v.conn.SendBatch(ctx, batch)
	defer br.Close()
	for _, r := range records {
		if _, err := br.Exec(); err != nil {
			return wrapErr(fmt.Sprintf("upsert vector %s/%s", namespace, r.ID), err)
		}
	}
	return nil
}

func (v *VectorDBStorage) Search(
	ctx context.Context,
	namespace string,
	embedding []float32,
	topK int,
	filter map[string]any,
) ([]store.VectorMatch, error) {
	if topK <= 0 {
		topK = 10
	}
	ctx, cancel := v.withTimeout(ctx)
	defer cancel()

	f, err := encodeProps(filter)
	if err != nil {
		return nil, err
	}

	rows, err := v.conn.Query(ctx, searchVectorSQL, namespace, pgvector.NewVector(embedding), f, topK)
	if err != nil {
		return nil, wrapErr("search vectors in "+namespace, err)
	}
	defer rows.Close()

	var out []store.VectorMatch
	for rows.Next() {
		var (
			m    store.VectorMatch
			meta []byte
		)
		if err := rows.Scan(&m.ID, &meta, &m.Score); err != nil {
			return nil, wrapErr("scan vector match", err)
		}
		m.Namespace = namespace
		if m.Metadata, err = decodeProps(meta); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, wrapErr("search vectors in "+namespace, rows.Err())
}

func (v *VectorDBStorage) Delete(ctx context.Context, namespace string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, cancel := v.withTimeout(ctx)
	defer cancel()

	_, err := v.conn.Exec(ctx, deleteVectorsSQL, namespace, ids)
	return wrapErr("delete vectors in "+namespace, err)
}

var _ store.VectorStorage = (*VectorDBStorage)(nil)
