// Package pgstore is the PostgreSQL/pgvector Vector KV backend: one table
// per collection with a native vector(d) column, real ivfflat/hnsw index
// DDL driven by the Index Optimizer (C5, §4.5), and cosine distance via
// pgvector's <=> operator.
//
// Grounded on pgvector_storage.py's PgVectorStorage: the same "CREATE
// EXTENSION IF NOT EXISTS vector", the same memories table shape and scalar
// index set, and the same "1 - (embedding <=> $n)" similarity conversion,
// adapted to jackc/pgx/v5 + pgvector/pgvector-go in the sqlitevec sibling
// package's query-building idiom.
package pgstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/juyoung-min/memory-agent/internal/vectorkv"
)

// Store is the pgvector-backed Vector KV implementation.
type Store struct {
	pool   *pgxpool.Pool
	tables map[string]int
}

// Open connects to dsn and ensures the vector extension is enabled.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: connect: %w", err)
	}
	if _, err := pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: enable vector extension: %w", err)
	}
	return &Store{pool: pool, tables: make(map[string]int)}, nil
}

// CreateTable provisions the memories-shaped table for a collection with a
// native vector(dim) column, plus the same scalar index set
// pgvector_storage.py's _create_tables ships (user_id, session_id,
// memory_type, importance, created_at). No vector index is created here —
// the Index Optimizer (C5) applies one via ApplyIndex once row counts
// justify it (§4.5 step 1: non-vector indexes first, vector index last).
func (s *Store) CreateTable(ctx context.Context, name string, dim int, extraCols []string) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	metadata JSONB DEFAULT '{}',
	user_id TEXT,
	session_id TEXT,
	memory_type TEXT,
	importance REAL DEFAULT 0,
	embedding vector(%d),
	created_at TIMESTAMPTZ DEFAULT NOW(),
	updated_at TIMESTAMPTZ DEFAULT NOW()
)`, name, dim)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("pgstore: create table: %w", err)
	}

	idx := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_user ON %s(user_id)`, name, name),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_session ON %s(session_id)`, name, name),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_type ON %s(memory_type)`, name, name),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_importance ON %s(importance)`, name, name),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_created ON %s(created_at)`, name, name),
	}
	for _, stmt := range idx {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("pgstore: create index: %w", err)
		}
	}

	s.tables[name] = dim
	return nil
}

// DropTable destructively removes a collection, used when V1 is violated
// and the table must be re-created at a new dimension (mirrors
// sqlitevec.Store.DropTable for interface-assertion parity between
// backends).
func (s *Store) DropTable(ctx context.Context, name string) error {
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, name)); err != nil {
		return fmt.Errorf("pgstore: drop table: %w", err)
	}
	delete(s.tables, name)
	return nil
}

// DescribeTable reports whether name exists and its declared vector
// dimension, for the V1 check in §4.4 step 1.
func (s *Store) DescribeTable(ctx context.Context, name string) (*vectorkv.TableInfo, error) {
	if dim, known := s.tables[name]; known {
		return &vectorkv.TableInfo{Name: name, Dimension: dim, Exists: true}, nil
	}

	var dimText string
	err := s.pool.QueryRow(ctx, `
SELECT format_type(a.atttypid, a.atttypmod)
FROM pg_attribute a
JOIN pg_class c ON c.oid = a.attrelid
WHERE c.relname = $1 AND a.attname = 'embedding' AND NOT a.attisdropped`, name).Scan(&dimText)
	if err == pgx.ErrNoRows {
		return &vectorkv.TableInfo{Name: name, Exists: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: describe table: %w", err)
	}

	dim := parseVectorDim(dimText)
	s.tables[name] = dim
	return &vectorkv.TableInfo{Name: name, Exists: true, Dimension: dim}, nil
}

// parseVectorDim extracts the declared size from a format_type result like
// "vector(768)".
func parseVectorDim(formatType string) int {
	start := strings.IndexByte(formatType, '(')
	end := strings.IndexByte(formatType, ')')
	if start < 0 || end < 0 || end <= start+1 {
		return 0
	}
	var dim int
	fmt.Sscanf(formatType[start+1:end], "%d", &dim)
	return dim
}

// Insert writes one row, rejecting a dimension mismatch against the known
// column width (V1 write-time enforcement).
func (s *Store) Insert(ctx context.Context, table, id, content string, embedding []float32, userID, sessionID, memoryType string, importance float64, metadata map[string]any) error {
	if dim, known := s.tables[table]; known && len(embedding) != dim {
		return fmt.Errorf("pgstore: dimension mismatch: table %s wants %d, got %d", table, dim, len(embedding))
	}

	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
INSERT INTO %s (id, content, metadata, user_id, session_id, memory_type, importance, embedding, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
ON CONFLICT (id) DO UPDATE SET
	content = EXCLUDED.content, metadata = EXCLUDED.metadata, importance = EXCLUDED.importance,
	embedding = EXCLUDED.embedding, updated_at = NOW()`, table),
		id, content, metadata, userID, sessionID, memoryType, importance, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("pgstore: insert: %w", err)
	}
	return nil
}

func compileFilter(f vectorkv.Filter, argIdx int) (string, []any, error) {
	switch f.Op {
	case vectorkv.OpEquals:
		return fmt.Sprintf("%s = $%d", f.Field, argIdx), []any{f.Value}, nil
	case vectorkv.OpGTE:
		return fmt.Sprintf("%s >= $%d", f.Field, argIdx), []any{f.Value}, nil
	case vectorkv.OpLTE:
		return fmt.Sprintf("%s <= $%d", f.Field, argIdx), []any{f.Value}, nil
	case vectorkv.OpIn:
		vals, ok := f.Value.([]string)
		if !ok {
			return "", nil, fmt.Errorf("pgstore: $in filter requires []string")
		}
		return fmt.Sprintf("%s = ANY($%d)", f.Field, argIdx), []any{vals}, nil
	default:
		return "", nil, fmt.Errorf("pgstore: unknown filter op %q", f.Op)
	}
}

// Search performs a cosine-distance ANN query using pgvector's <=> operator,
// following pgvector_storage.py's search_memories filter-then-order shape
// and converting distance to a [0,1] similarity (§4.4 steps 3-6).
func (s *Store) Search(ctx context.Context, table string, queryVector []float32, filters []vectorkv.Filter, limit, probes int) ([]vectorkv.SearchResult, error) {
	args := []any{pgvector.NewVector(queryVector)}
	var whereParts []string
	for _, f := range filters {
		clause, vals, err := compileFilter(f, len(args)+1)
		if err != nil {
			return nil, err
		}
		whereParts = append(whereParts, clause)
		args = append(args, vals...)
	}
	where := ""
	if len(whereParts) > 0 {
		where = "WHERE " + strings.Join(whereParts, " AND ")
	}
	args = append(args, limit)

	if probes > 0 {
		if _, err := s.pool.Exec(ctx, fmt.Sprintf("SET LOCAL ivfflat.probes = %d", probes)); err != nil {
			return nil, fmt.Errorf("pgstore: set probes: %w", err)
		}
	}

	query := fmt.Sprintf(`
SELECT id, content, metadata, importance, created_at, embedding <=> $1 AS distance
FROM %s %s
ORDER BY distance ASC, importance DESC, created_at DESC
LIMIT $%d`, table, where, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgstore: search: %w", err)
	}
	defer rows.Close()

	var out []vectorkv.SearchResult
	for rows.Next() {
		var r vectorkv.SearchResult
		var distance float64
		if err := rows.Scan(&r.ID, &r.Content, &r.Metadata, &r.Importance, &r.CreatedAt, &distance); err != nil {
			return nil, fmt.Errorf("pgstore: scan: %w", err)
		}
		r.Similarity = clamp01(1 - distance)
		out = append(out, r)
	}
	return out, rows.Err()
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// Delete removes rows by id.
func (s *Store) Delete(ctx context.Context, table string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, table), ids)
	if err != nil {
		return fmt.Errorf("pgstore: delete: %w", err)
	}
	return nil
}

// UpdateMetadata patches (merge=true, via jsonb ||) or replaces (merge=false)
// a row's metadata bag.
func (s *Store) UpdateMetadata(ctx context.Context, table, id string, patch map[string]any, merge bool) error {
	if merge {
		_, err := s.pool.Exec(ctx,
			fmt.Sprintf(`UPDATE %s SET metadata = metadata || $1::jsonb, updated_at = NOW() WHERE id = $2`, table),
			patch, id)
		return err
	}
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET metadata = $1::jsonb, updated_at = NOW() WHERE id = $2`, table),
		patch, id)
	return err
}

// Query is the raw escape hatch the Index Optimizer uses for ANALYZE and ad
// hoc index DDL (§6).
func (s *Store) Query(ctx context.Context, sqlText string, args ...any) error {
	_, err := s.pool.Exec(ctx, sqlText, args...)
	return err
}

// Stats computes the table statistics the Index Optimizer (C5) needs,
// bucketing per-user row counts the same way sqlitevec.Stats does.
func (s *Store) Stats(ctx context.Context, table string) (*vectorkv.TableStats, error) {
	stats := &vectorkv.TableStats{}
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT COUNT(*), COUNT(DISTINCT user_id), COALESCE(AVG(LENGTH(content)), 0) FROM %s`, table)).
		Scan(&stats.RowCount, &stats.UniqueUsers, &stats.AvgContentSize)
	if err != nil {
		return nil, fmt.Errorf("pgstore: stats: %w", err)
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s GROUP BY user_id`, table))
	if err != nil {
		return nil, fmt.Errorf("pgstore: per-user counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var n int64
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		switch {
		case n >= 1000:
			stats.UserHistogram.Power++
		case n >= 100:
			stats.UserHistogram.Heavy++
		case n >= 10:
			stats.UserHistogram.Medium++
		default:
			stats.UserHistogram.Light++
		}
	}
	return stats, rows.Err()
}

// ApplyIndex drops any existing ANN index on the table and applies the
// requested strategy's DDL. Grounded on vector_index_optimizer.py's
// _apply_index_strategy: IVFFlat lists/probes, partitioned IVFFlat
// (composite btree + ivfflat), and HNSW m/ef_construction, with the same
// HNSW-failure-falls-back-to-ivfflat_optimized behavior.
func (s *Store) ApplyIndex(ctx context.Context, table string, strategy vectorkv.IndexStrategy) error {
	indexName := fmt.Sprintf("idx_%s_embedding", table)
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(`DROP INDEX IF EXISTS %s`, indexName)); err != nil {
		return fmt.Errorf("pgstore: drop existing index: %w", err)
	}

	switch strategy.Kind {
	case "none":
		return nil
	case "ivfflat":
		lists := strategy.Lists
		if lists == 0 {
			lists = 100
		}
		ddl := fmt.Sprintf(`CREATE INDEX %s ON %s USING ivfflat (embedding vector_cosine_ops) WITH (lists = %d)`,
			indexName, table, lists)
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("pgstore: create ivfflat index: %w", err)
		}
	case "partitioned_ivfflat":
		for _, col := range strategy.Composite {
			cidx := fmt.Sprintf("idx_%s_%s", table, col)
			if _, err := s.pool.Exec(ctx, fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s(%s)`, cidx, table, col)); err != nil {
				return fmt.Errorf("pgstore: create partition column index: %w", err)
			}
		}
		lists := strategy.Lists
		if lists == 0 {
			lists = 100
		}
		ddl := fmt.Sprintf(`CREATE INDEX %s ON %s USING ivfflat (embedding vector_cosine_ops) WITH (lists = %d)`,
			indexName, table, lists)
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("pgstore: create partitioned ivfflat index: %w", err)
		}
	case "hnsw":
		m, ef := strategy.M, strategy.EfConstruction
		if m == 0 {
			m = 16
		}
		if ef == 0 {
			ef = 64
		}
		ddl := fmt.Sprintf(`CREATE INDEX %s ON %s USING hnsw (embedding vector_cosine_ops) WITH (m = %d, ef_construction = %d)`,
			indexName, table, m, ef)
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			// HNSW build can fail on memory-constrained instances;
			// fall back to a tuned IVFFlat rather than leaving the
			// table unindexed (vector_index_optimizer.py's
			// _apply_index_strategy fallback).
			fallback := fmt.Sprintf(`CREATE INDEX %s ON %s USING ivfflat (embedding vector_cosine_ops) WITH (lists = 1000)`,
				indexName, table)
			if _, ferr := s.pool.Exec(ctx, fallback); ferr != nil {
				return fmt.Errorf("pgstore: hnsw failed (%v) and ivfflat fallback failed: %w", err, ferr)
			}
		}
	default:
		return fmt.Errorf("pgstore: unknown index strategy %q", strategy.Kind)
	}

	_, err := s.pool.Exec(ctx, fmt.Sprintf(`ANALYZE %s`, table))
	return err
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
