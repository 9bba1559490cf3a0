package serverindex

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/exogenesis-omega/constellation/internal/pattern"
)

// Postgres is a pgvector-backed Index, grounded on the teacher's
// persistence/databases/postgres_vector.go: a pgxpool.Pool, a table with a
// `vector` column, and cosine-distance ordering via the `<=>` operator.
// Generalized here from an opaque embeddings table to device-owned
// ViewingPatterns.
type Postgres struct {
	pool      *pgxpool.Pool
	dimension int
}

// NewPostgres opens (and migrates) the patterns table against an existing
// pool.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool, dimension int) (*Postgres, error) {
	if _, err := pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return nil, fmt.Errorf("serverindex: create vector extension: %w", err)
	}
	schema := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS server_patterns (
  id TEXT PRIMARY KEY,
  device_id TEXT NOT NULL,
  embedding vector(%d) NOT NULL,
  success_rate DOUBLE PRECISION NOT NULL,
  sample_count BIGINT NOT NULL,
  context JSONB NOT NULL DEFAULT '{}'::jsonb,
  content_id TEXT NOT NULL DEFAULT '',
  content_title TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS server_patterns_device_id_idx ON server_patterns(device_id);
CREATE INDEX IF NOT EXISTS server_patterns_success_rate_idx ON server_patterns(success_rate);
CREATE INDEX IF NOT EXISTS server_patterns_embedding_idx ON server_patterns USING hnsw (embedding vector_cosine_ops) WITH (m = 32, ef_construction = 100);
`, dimension)
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("serverindex: migrate schema: %w", err)
	}
	return &Postgres{pool: pool, dimension: dimension}, nil
}

var _ Index = (*Postgres)(nil)

// Store implements Index.
func (p *Postgres) Store(ctx context.Context, deviceID pattern.ID, patterns []pattern.ViewingPattern) error {
	for _, v := range patterns {
		ctxJSON, err := json.Marshal(v.Context)
		if err != nil {
			return fmt.Errorf("serverindex: marshal context: %w", err)
		}
		_, err = p.pool.Exec(ctx, `
INSERT INTO server_patterns (id, device_id, embedding, success_rate, sample_count, context, content_id, content_title, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO UPDATE SET
  success_rate = EXCLUDED.success_rate,
  sample_count = EXCLUDED.sample_count,
  context = EXCLUDED.context,
  content_id = EXCLUDED.content_id,
  content_title = EXCLUDED.content_title,
  updated_at = EXCLUDED.updated_at
`, v.ID.String(), deviceID.String(), pgvector.NewVector(v.Embedding), v.SuccessRate, v.SampleCount,
			ctxJSON, v.ContentID, v.ContentTitle, v.CreatedAt, v.UpdatedAt)
		if err != nil {
			return fmt.Errorf("serverindex: upsert pattern %s: %w", v.ID, err)
		}
	}
	return nil
}

// Update implements Index.
func (p *Postgres) Update(ctx context.Context, patternID pattern.ID, newRate float64, extraSamples uint64) error {
	row := p.pool.QueryRow(ctx, `SELECT success_rate, sample_count FROM server_patterns WHERE id = $1`, patternID.String())
	var rate float64
	var samples uint64
	if err := row.Scan(&rate, &samples); err != nil {
		return nil // no-op if absent, per spec.md §4.9
	}

	existing := pattern.ViewingPattern{SuccessRate: rate, SampleCount: samples}
	update := pattern.PatternUpdate{ID: patternID, NewSuccessRate: newRate, AdditionalSamples: extraSamples}
	merged := pattern.ApplyUpdate(existing, update, time.Now())

	_, err := p.pool.Exec(ctx, `UPDATE server_patterns SET success_rate = $1, sample_count = $2, updated_at = $3 WHERE id = $4`,
		merged.SuccessRate, merged.SampleCount, merged.UpdatedAt, patternID.String())
	if err != nil {
		return fmt.Errorf("serverindex: update pattern %s: %w", patternID, err)
	}
	return nil
}

// Remove implements Index.
func (p *Postgres) Remove(ctx context.Context, patternID pattern.ID) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM server_patterns WHERE id = $1`, patternID.String())
	if err != nil {
		return fmt.Errorf("serverindex: remove pattern %s: %w", patternID, err)
	}
	return nil
}

// SimilarPatterns implements Index.
func (p *Postgres) SimilarPatterns(ctx context.Context, deviceID pattern.ID, k int) ([]pattern.ViewingPattern, error) {
	if k <= 0 {
		return nil, nil
	}

	own, err := p.deviceVectors(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	if len(own) > 0 {
		mean := meanVector(own)
		rows, err := p.pool.Query(ctx, `
SELECT id, embedding, success_rate, sample_count, context, content_id, content_title, created_at, updated_at
FROM server_patterns
WHERE device_id <> $1 AND success_rate >= $2
ORDER BY embedding <=> $3 ASC
LIMIT $4
`, deviceID.String(), WarmQuality, pgvector.NewVector(mean), k)
		if err != nil {
			return nil, fmt.Errorf("serverindex: similarity query: %w", err)
		}
		defer rows.Close()
		return scanPatterns(rows)
	}

	rows, err := p.pool.Query(ctx, `
SELECT id, embedding, success_rate, sample_count, context, content_id, content_title, created_at, updated_at
FROM server_patterns
WHERE success_rate >= $1
ORDER BY success_rate DESC, sample_count DESC
LIMIT $2
`, ColdStartQuality, k)
	if err != nil {
		return nil, fmt.Errorf("serverindex: cold-start query: %w", err)
	}
	defer rows.Close()
	return scanPatterns(rows)
}

// DeviceCount implements Index.
func (p *Postgres) DeviceCount(ctx context.Context, deviceID pattern.ID) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM server_patterns WHERE device_id = $1`, deviceID.String()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("serverindex: device count: %w", err)
	}
	return n, nil
}

// TotalCount implements Index.
func (p *Postgres) TotalCount(ctx context.Context) (int, error) {
	var n int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM server_patterns`).Scan(&n); err != nil {
		return 0, fmt.Errorf("serverindex: total count: %w", err)
	}
	return n, nil
}

// Collect implements Index.
func (p *Postgres) Collect(ctx context.Context, minSuccessRate float64, minSampleCount uint64, limit int) ([]pattern.ViewingPattern, error) {
	rows, err := p.pool.Query(ctx, `
SELECT id, embedding, success_rate, sample_count, context, content_id, content_title, created_at, updated_at
FROM server_patterns
WHERE success_rate >= $1 AND sample_count >= $2
ORDER BY success_rate DESC
LIMIT $3
`, minSuccessRate, minSampleCount, limit)
	if err != nil {
		return nil, fmt.Errorf("serverindex: collect query: %w", err)
	}
	defer rows.Close()
	return scanPatterns(rows)
}

func (p *Postgres) deviceVectors(ctx context.Context, deviceID pattern.ID) ([]pattern.Vector, error) {
	rows, err := p.pool.Query(ctx, `SELECT embedding FROM server_patterns WHERE device_id = $1`, deviceID.String())
	if err != nil {
		return nil, fmt.Errorf("serverindex: device vectors: %w", err)
	}
	defer rows.Close()

	var out []pattern.Vector
	for rows.Next() {
		var v pgvector.Vector
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("serverindex: scan device vector: %w", err)
		}
		out = append(out, pattern.Vector(v.Slice()))
	}
	return out, rows.Err()
}

// rowScanner is the subset of pgx.Rows this package needs, so scanPatterns
// can be exercised by tests without a live connection.
type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanPatterns(rows rowScanner) ([]pattern.ViewingPattern, error) {
	var out []pattern.ViewingPattern
	for rows.Next() {
		var (
			idStr   string
			vec     pgvector.Vector
			ctxJSON []byte
			v       pattern.ViewingPattern
		)
		if err := rows.Scan(&idStr, &vec, &v.SuccessRate, &v.SampleCount, &ctxJSON, &v.ContentID, &v.ContentTitle, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("serverindex: scan pattern row: %w", err)
		}
		id, err := pattern.ParseID(idStr)
		if err != nil {
			return nil, fmt.Errorf("serverindex: parse pattern id %q: %w", idStr, err)
		}
		v.ID = id
		v.Embedding = pattern.Vector(vec.Slice())
		if len(ctxJSON) > 0 {
			_ = json.Unmarshal(ctxJSON, &v.Context)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
