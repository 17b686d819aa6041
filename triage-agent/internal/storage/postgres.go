package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PGIndex stores records in Postgres and lets pgvector rank them.
type PGIndex struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to databaseURL. The schema is created by Migrate.
func OpenPostgres(ctx context.Context, databaseURL string) (*PGIndex, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping Postgres: %w", err)
	}
	return &PGIndex{pool: pool}, nil
}

func (p *PGIndex) Add(ctx context.Context, records []Record) error {
	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(`
			INSERT INTO knowledge_chunks (id, source, chunk_index, content, image_id, embedding)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				source = EXCLUDED.source,
				chunk_index = EXCLUDED.chunk_index,
				content = EXCLUDED.content,
				image_id = EXCLUDED.image_id,
				embedding = EXCLUDED.embedding`,
			r.ID, r.Source, r.ChunkIndex, r.Content, r.ImageID, pgvector.NewVector(r.Embedding))
	}
	if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert chunks: %w", err)
	}
	return nil
}

// Search returns the top-k records by cosine distance. Rows of another
// dimension are skipped, as in the in-process indexes.
func (p *PGIndex) Search(ctx context.Context, query []float32, k int) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id, source, chunk_index, content, image_id, 1 - (embedding <=> $1) AS score
		FROM knowledge_chunks
		WHERE vector_dims(embedding) = $3
		ORDER BY embedding <=> $1
		LIMIT $2`,
		pgvector.NewVector(query), k, len(query))
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var results []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ID, &m.Source, &m.ChunkIndex, &m.Content, &m.ImageID, &m.Score); err != nil {
			return nil, err
		}
		results = append(results, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		var stored bool
		if err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM knowledge_chunks)`).Scan(&stored); err != nil {
			return nil, err
		}
		if stored {
			return nil, ErrDimensionMismatch
		}
	}
	return results, nil
}

func (p *PGIndex) Count(ctx context.Context) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM knowledge_chunks`).Scan(&n)
	return n, err
}

func (p *PGIndex) Close() error {
	p.pool.Close()
	return nil
}
