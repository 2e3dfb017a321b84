// Package sqlitevec is the embedded Vector KV backend: one SQLite table per
// collection for scalar columns, paired with a sqlite-vec vec0 virtual
// table for the embedding column, joined on a shared rowid. This is the
// default backend — no external database required — and the concrete home
// for the V1 dimension invariant: the vec0 table's declared dimension IS
// d(T), and a dimension mismatch is detected by comparing against it before
// any insert.
//
// Grounded on internal/store/sqlite_store.go's schema-as-constant-string
// and sync.RWMutex-guarded *sql.DB pattern; the sqlite-vec dependency itself
// was declared but never exercised by the source this module is patterned
// on, so this package is effectively the first thing that calls it.
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"

	"github.com/juyoung-min/memory-agent/internal/vectorkv"
)

// Store is the sqlite-vec-backed Vector KV implementation.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	tables map[string]int // table name -> known dimension
}

// Open creates a store over dsn (":memory:" or a file path).
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitevec: open: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitevec: pragma: %w", err)
	}
	return &Store{db: db, tables: make(map[string]int)}, nil
}

func scalarTable(name string) string { return name }
func vecTable(name string) string    { return name + "_vec" }

// CreateTable provisions (or re-provisions) the scalar + vec0 table pair for
// a collection at dimension dim. Re-creation on dimension mismatch is the
// caller's (Retrieval Engine's) responsibility via DescribeTable first;
// CreateTable itself is idempotent only when the dimension already matches.
func (s *Store) CreateTable(ctx context.Context, name string, dim int, extraCols []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	scalarDDL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	metadata TEXT,
	user_id TEXT,
	session_id TEXT,
	memory_type TEXT,
	importance REAL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
)`, scalarTable(name))
	if _, err := s.db.ExecContext(ctx, scalarDDL); err != nil {
		return fmt.Errorf("sqlitevec: create scalar table: %w", err)
	}

	// Non-vector indexes first, vector index last (§4.4 step 1).
	idx := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_user ON %s(user_id)`, name, scalarTable(name)),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_created ON %s(created_at DESC)`, name, scalarTable(name)),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_type ON %s(memory_type)`, name, scalarTable(name)),
	}
	for _, stmt := range idx {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlitevec: create index: %w", err)
		}
	}

	vecDDL := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(embedding float[%d] distance_metric=cosine)`,
		vecTable(name), dim)
	if _, err := s.db.ExecContext(ctx, vecDDL); err != nil {
		return fmt.Errorf("sqlitevec: create vec table: %w", err)
	}

	s.tables[name] = dim
	return nil
}

// DropTable destructively removes both halves of the table pair. Used when
// V1 is violated and the table must be re-created at a new dimension
// (content and metadata are not preserved here — the caller, per §9, may
// choose to SELECT and re-insert content/metadata before calling this if it
// wants to keep history; the default policy is the normative destructive one).
func (s *Store) DropTable(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, vecTable(name))); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, scalarTable(name))); err != nil {
		return err
	}
	delete(s.tables, name)
	return nil
}

// DescribeTable reports whether the collection exists and its declared
// embedding dimension, for the V1 check in §4.4 step 1.
func (s *Store) DescribeTable(ctx context.Context, name string) (*vectorkv.TableInfo, error) {
	s.mu.RLock()
	dim, known := s.tables[name]
	s.mu.RUnlock()
	if known {
		return &vectorkv.TableInfo{Name: name, Dimension: dim, Exists: true}, nil
	}

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, scalarTable(name)).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("sqlitevec: describe table: %w", err)
	}
	if count == 0 {
		return &vectorkv.TableInfo{Name: name, Exists: false}, nil
	}

	// Table exists from a prior process but dimension wasn't cached yet;
	// read it back from the vec0 table's declared float[N] column.
	var ddl string
	err = s.db.QueryRowContext(ctx, `SELECT sql FROM sqlite_master WHERE name = ?`, vecTable(name)).Scan(&ddl)
	i := strings.Index(ddl, "float[")
	if err != nil || i < 0 {
		return &vectorkv.TableInfo{Name: name, Exists: false}, nil
	}
	if _, err := fmt.Sscanf(ddl[i+len("float["):], "%d", &dim); err != nil || dim <= 0 {
		return &vectorkv.TableInfo{Name: name, Exists: false}, nil
	}
	return &vectorkv.TableInfo{Name: name, Exists: true, Dimension: dim}, nil
}

// Insert writes one row, rejecting a length mismatch against the known
// dimension (V1 write-time enforcement).
func (s *Store) Insert(ctx context.Context, table, id, content string, embedding []float32, userID, sessionID, memoryType string, importance float64, metadata map[string]any) error {
	s.mu.Lock()
	dim, known := s.tables[table]
	s.mu.Unlock()
	if known && len(embedding) != dim {
		return fmt.Errorf("sqlitevec: dimension mismatch: table %s wants %d, got %d", table, dim, len(embedding))
	}

	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("sqlitevec: marshal metadata: %w", err)
	}
	now := time.Now().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitevec: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (id, content, metadata, user_id, session_id, memory_type, importance, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, scalarTable(table)),
		id, content, string(metaJSON), userID, sessionID, memoryType, importance, now, now)
	if err != nil {
		return fmt.Errorf("sqlitevec: insert scalar row: %w", err)
	}
	rowid, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlitevec: last insert id: %w", err)
	}

	vecJSON, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("sqlitevec: marshal embedding: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s(rowid, embedding) VALUES (?, vec_f32(?))`, vecTable(table)),
		rowid, string(vecJSON)); err != nil {
		return fmt.Errorf("sqlitevec: insert vec row: %w", err)
	}

	return tx.Commit()
}

func compileFilter(f vectorkv.Filter) (string, any, error) {
	switch f.Op {
	case vectorkv.OpEquals:
		return fmt.Sprintf("%s = ?", f.Field), f.Value, nil
	case vectorkv.OpGTE:
		return fmt.Sprintf("%s >= ?", f.Field), f.Value, nil
	case vectorkv.OpLTE:
		return fmt.Sprintf("%s <= ?", f.Field), f.Value, nil
	case vectorkv.OpIn:
		vals, ok := f.Value.([]string)
		if !ok {
			return "", nil, fmt.Errorf("sqlitevec: $in filter requires []string")
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(vals)), ",")
		return fmt.Sprintf("%s IN (%s)", f.Field, placeholders), vals, nil
	default:
		return "", nil, fmt.Errorf("sqlitevec: unknown filter op %q", f.Op)
	}
}

// Search performs a cosine-distance ANN query, joining the vec0 match
// against the scalar table for filters and metadata (§4.4 steps 3-6).
func (s *Store) Search(ctx context.Context, table string, queryVector []float32, filters []vectorkv.Filter, limit, probes int) ([]vectorkv.SearchResult, error) {
	vecJSON, err := json.Marshal(queryVector)
	if err != nil {
		return nil, fmt.Errorf("sqlitevec: marshal query vector: %w", err)
	}

	var whereParts []string
	args := []any{string(vecJSON), limit}
	for _, f := range filters {
		clause, val, err := compileFilter(f)
		if err != nil {
			return nil, err
		}
		whereParts = append(whereParts, "s."+clause)
		switch v := val.(type) {
		case []string:
			for _, x := range v {
				args = append(args, x)
			}
		default:
			args = append(args, v)
		}
	}
	where := ""
	if len(whereParts) > 0 {
		where = "AND " + strings.Join(whereParts, " AND ")
	}

	query := fmt.Sprintf(`
SELECT s.id, s.content, s.metadata, s.importance, s.created_at, v.distance
FROM %s v
JOIN %s s ON s.rowid = v.rowid
WHERE v.embedding MATCH vec_f32(?) AND k = ? %s
ORDER BY v.distance ASC, s.importance DESC, s.created_at DESC`,
		vecTable(table), scalarTable(table), where)

	// probes tunes IVFFlat-equivalent recall/latency tradeoff; sqlite-vec's
	// vec0 brute-forces by default, so probes is accepted for interface
	// symmetry with the pgvector backend and recorded by the caller, not
	// applied as a vec0 pragma (vec0 has no probes knob to set per-query).
	_ = probes

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitevec: search: %w", err)
	}
	defer rows.Close()

	var out []vectorkv.SearchResult
	for rows.Next() {
		var r vectorkv.SearchResult
		var metaJSON string
		var createdAtMs int64
		var distance float64
		if err := rows.Scan(&r.ID, &r.Content, &metaJSON, &r.Importance, &createdAtMs, &distance); err != nil {
			return nil, fmt.Errorf("sqlitevec: scan: %w", err)
		}
		_ = json.Unmarshal([]byte(metaJSON), &r.Metadata)
		r.CreatedAt = time.UnixMilli(createdAtMs)
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

// Delete removes rows by id from both halves of the table pair.
func (s *Store) Delete(ctx context.Context, table string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		fmt.Sprintf(`SELECT rowid FROM %s WHERE id IN (%s)`, scalarTable(table), placeholders), args...)
	if err != nil {
		return fmt.Errorf("sqlitevec: resolve rowids: %w", err)
	}
	var rowids []any
	for rows.Next() {
		var rid int64
		if err := rows.Scan(&rid); err != nil {
			rows.Close()
			return err
		}
		rowids = append(rowids, rid)
	}
	rows.Close()

	if len(rowids) > 0 {
		rp := strings.TrimSuffix(strings.Repeat("?,", len(rowids)), ",")
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE rowid IN (%s)`, vecTable(table), rp), rowids...); err != nil {
			return fmt.Errorf("sqlitevec: delete vec rows: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id IN (%s)`, scalarTable(table), placeholders), args...); err != nil {
		return fmt.Errorf("sqlitevec: delete scalar rows: %w", err)
	}
	return tx.Commit()
}

// UpdateMetadata patches (merge=true) or replaces (merge=false) a row's
// metadata bag.
func (s *Store) UpdateMetadata(ctx context.Context, table, id string, patch map[string]any, merge bool) error {
	final := patch
	if merge {
		var existing string
		err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT metadata FROM %s WHERE id = ?`, scalarTable(table)), id).Scan(&existing)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("sqlitevec: read metadata: %w", err)
		}
		merged := map[string]any{}
		_ = json.Unmarshal([]byte(existing), &merged)
		for k, v := range patch {
			merged[k] = v
		}
		final = merged
	}
	b, err := json.Marshal(final)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET metadata = ?, updated_at = ? WHERE id = ?`, scalarTable(table)),
		string(b), time.Now().UnixMilli(), id)
	return err
}

// Query is the raw escape hatch used by the Index Optimizer for ANALYZE and
// ad hoc DDL (§6).
func (s *Store) Query(ctx context.Context, sqlText string, args ...any) error {
	_, err := s.db.ExecContext(ctx, sqlText, args...)
	return err
}

// Stats computes the table statistics the Index Optimizer (C5) needs.
func (s *Store) Stats(ctx context.Context, table string) (*vectorkv.TableStats, error) {
	stats := &vectorkv.TableStats{}
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*), COUNT(DISTINCT user_id), COALESCE(AVG(LENGTH(content)), 0) FROM %s`, scalarTable(table))).
		Scan(&stats.RowCount, &stats.UniqueUsers, &stats.AvgContentSize)
	if err != nil {
		return nil, fmt.Errorf("sqlitevec: stats: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s GROUP BY user_id`, scalarTable(table)))
	if err != nil {
		return nil, fmt.Errorf("sqlitevec: per-user counts: %w", err)
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

// ApplyIndex is a no-op for the embedded backend: vec0 virtual tables do not
// expose IVFFlat/HNSW index selection (they brute-force, optionally
// partitioned), so the Index Optimizer's strategy selection is meaningful
// only against the pgstore backend. Recorded here so callers get a
// consistent, non-error response rather than having to special-case the
// backend.
func (s *Store) ApplyIndex(ctx context.Context, table string, strategy vectorkv.IndexStrategy) error {
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
