// Package vectorindex adapts Postgres + pgvector into the cosine-similarity
// index contract of spec.md §4.3/§6.2: upsert (batched), query with
// equality/$in/$or metadata filters, sorted by descending score.
package vectorindex

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
)

// Record is one upsertable vector + metadata entry.
type Record struct {
	ID       string
	Values   []float32
	Metadata map[string]any
}

// Match is a query result.
type Match struct {
	ID       string
	Score    float64
	Metadata map[string]any
}

// Filter is the top-level "$or over equality/$in clauses" grammar from
// spec.md §4.3.
type Filter struct {
	Or []Clause
}

// Clause is a single field predicate: equality if Values has one element
// with no explicit $in, or an $in list.
type Clause struct {
	Field  string
	Values []string
}

// Index wraps one named table, using the teacher's initializeSchema pattern
// (raw SQL DDL executed once at construction).
type Index struct {
	pool      *pgxpool.Pool
	tableName string
	dimension int
	logger    *zap.Logger
}

// New connects to Postgres and ensures the table + HNSW index exist.
func New(ctx context.Context, dsn, tableName string, dimension int, logger *zap.Logger) (*Index, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: connect: %w", err)
	}
	idx := &Index{pool: pool, tableName: tableName, dimension: dimension, logger: logger}
	if err := idx.initializeSchema(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *Index) initializeSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			embedding vector(%d) NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			jurisdiction TEXT GENERATED ALWAYS AS (metadata->>'jurisdiction') STORED,
			source_type TEXT GENERATED ALWAYS AS (metadata->>'source_type') STORED
		);
		CREATE INDEX IF NOT EXISTS %s_hnsw ON %s USING hnsw (embedding vector_cosine_ops);
		CREATE INDEX IF NOT EXISTS %s_jurisdiction_idx ON %s (jurisdiction);
		CREATE INDEX IF NOT EXISTS %s_source_type_idx ON %s (source_type);
	`, idx.tableName, idx.dimension, idx.tableName, idx.tableName, idx.tableName, idx.tableName, idx.tableName, idx.tableName)

	if _, err := idx.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("vectorindex: initialize schema: %w", err)
	}
	idx.logger.Info("vector index schema ready", zap.String("table", idx.tableName))
	return nil
}

// Upsert writes records in the caller-supplied batches (the orchestrator
// batches at 100 per spec.md §4.3/§4.8). Idempotent: re-upserting the same
// ID overwrites vector and metadata, leaving the index in the same
// observable state (spec.md testable property 4).
func (idx *Index) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := idx.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("vectorindex: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	q := fmt.Sprintf(`
		INSERT INTO %s (id, embedding, metadata)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET embedding = EXCLUDED.embedding, metadata = EXCLUDED.metadata
	`, idx.tableName)

	for _, r := range records {
		metaJSON, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("vectorindex: marshal metadata for %s: %w", r.ID, err)
		}
		if _, err := tx.Exec(ctx, q, r.ID, pgvector.NewVector(r.Values), metaJSON); err != nil {
			return fmt.Errorf("vectorindex: upsert %s: %w", r.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("vectorindex: commit: %w", err)
	}
	return nil
}

// Query performs a cosine-similarity search with the given filter, returning
// up to topK matches sorted by descending score.
func (idx *Index) Query(ctx context.Context, vector []float32, topK int, filter Filter, includeMetadata bool) ([]Match, error) {
	where, args := buildFilter(filter, 2)
	args = append([]any{pgvector.NewVector(vector)}, args...)
	args = append(args, topK)

	q := fmt.Sprintf(`
		SELECT id, 1 - (embedding <=> $1) AS score, metadata
		FROM %s
		%s
		ORDER BY embedding <=> $1 ASC
		LIMIT $%d
	`, idx.tableName, where, len(args))

	rows, err := idx.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: query: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var id string
		var score float64
		var metaJSON []byte
		if err := rows.Scan(&id, &score, &metaJSON); err != nil {
			return nil, fmt.Errorf("vectorindex: scan: %w", err)
		}
		m := Match{ID: id, Score: score}
		if includeMetadata {
			if err := json.Unmarshal(metaJSON, &m.Metadata); err != nil {
				return nil, fmt.Errorf("vectorindex: unmarshal metadata: %w", err)
			}
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// buildFilter translates Filter into a SQL WHERE clause plus positional
// args starting at argOffset. Supports top-level $or of equality/$in
// clauses on scalar metadata fields (spec.md §4.3).
func buildFilter(f Filter, argOffset int) (string, []any) {
	if len(f.Or) == 0 {
		return "", nil
	}
	var parts []string
	var args []any
	n := argOffset
	for _, c := range f.Or {
		col := fmt.Sprintf("metadata->>'%s'", sanitizeField(c.Field))
		if len(c.Values) == 1 {
			parts = append(parts, fmt.Sprintf("%s = $%d", col, n))
			args = append(args, c.Values[0])
			n++
		} else if len(c.Values) > 1 {
			placeholders := make([]string, len(c.Values))
			for i, v := range c.Values {
				placeholders[i] = fmt.Sprintf("$%d", n)
				args = append(args, v)
				n++
			}
			parts = append(parts, fmt.Sprintf("%s IN (%s)", col, strings.Join(placeholders, ", ")))
		}
	}
	if len(parts) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(parts, " OR "), args
}

func sanitizeField(field string) string {
	var b strings.Builder
	for _, r := range field {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Close releases the connection pool.
func (idx *Index) Close() {
	idx.pool.Close()
}
