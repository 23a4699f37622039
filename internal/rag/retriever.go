package rag

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// Document is one retrieved chunk of reference material.
type Document struct {
	ID      int64
	Source  string
	Content string
	Rank    float64
}

// Retriever returns up to k chunks relevant to query, best first.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]Document, error)
}

// NoopRetriever never finds anything. It is used when no document store is
// configured.
type NoopRetriever struct{}

func (NoopRetriever) Retrieve(context.Context, string, int) ([]Document, error) {
	return nil, nil
}

const searchChunks = `
SELECT id, source, content, ts_rank(search, q)::float8 AS rank
FROM document_chunks, websearch_to_tsquery('english', $1) AS q
WHERE search @@ q
ORDER BY rank DESC, id
LIMIT $2`

// PostgresRetriever ranks document_chunks with Postgres full-text search.
type PostgresRetriever struct {
	pool *pgxpool.Pool
}

// NewPostgresRetriever connects to databaseURL and verifies the connection.
func NewPostgresRetriever(ctx context.Context, databaseURL string) (*PostgresRetriever, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "rag: open pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "rag: ping database")
	}
	return &PostgresRetriever{pool: pool}, nil
}

func (r *PostgresRetriever) Pool() *pgxpool.Pool { return r.pool }

func (r *PostgresRetriever) Close() { r.pool.Close() }

func (r *PostgresRetriever) Retrieve(ctx context.Context, query string, k int) ([]Document, error) {
	if k <= 0 {
		k = DefaultTopK
	}
	rows, err := r.pool.Query(ctx, searchChunks, query, k)
	if err != nil {
		return nil, errors.Wrap(err, "rag: search chunks")
	}
	docs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Document, error) {
		var d Document
		err := row.Scan(&d.ID, &d.Source, &d.Content, &d.Rank)
		return d, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "rag: scan chunks")
	}
	return docs, nil
}

// AddChunk stores one chunk. Bulk ingestion lives outside the gateway; this
// exists for seeding and tests.
func (r *PostgresRetriever) AddChunk(ctx context.Context, source, content string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO document_chunks (source, content) VALUES ($1, $2) RETURNING id`,
		source, content).Scan(&id)
	if err != nil {
		return 0, errors.Wrap(err, "rag: insert chunk")
	}
	return id, nil
}
