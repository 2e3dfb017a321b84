// Package vectorkv defines the Vector KV primitive (§6): a thin key/value +
// ANN store contract. The distilled spec treats this as an opaque external
// collaborator; this module ships two concrete backends against the same
// interface (internal/vectorkv/sqlitevec, internal/vectorkv/pgstore) so the
// Retrieval Engine and Index Optimizer have something real to drive.
package vectorkv

import (
	"context"
	"time"
)

// FilterOp is one of the small filter DSL's operators (§4.4 step 4).
type FilterOp string

const (
	OpEquals FilterOp = "="
	OpIn     FilterOp = "$in"
	OpGTE    FilterOp = "$gte"
	OpLTE    FilterOp = "$lte"
)

// Filter is a single scoping predicate compiled to the store's native
// predicate language.
type Filter struct {
	Field string
	Op    FilterOp
	Value any
}

// SearchResult is one row returned by a similarity search (§4.4 contract).
type SearchResult struct {
	ID         string
	Content    string
	Metadata   map[string]any
	Importance float64
	CreatedAt  time.Time
	Similarity float64
}

// TableInfo describes a provisioned collection, including its
// table-level embedding dimension d(T) (V1).
type TableInfo struct {
	Name      string
	Dimension int
	Exists    bool
}

// TableStats feeds the Index Optimizer (C5, §4.5).
type TableStats struct {
	RowCount       int64
	UniqueUsers    int64
	AvgContentSize float64
	// UserHistogram counts users per bucket of per-user memory count: light<10,
	// medium<100, heavy<1000, power>=1000 (§4.5 inputs).
	UserHistogram  UserBuckets
	LastOptimized  time.Time
}

// UserBuckets is the §4.5 user-distribution bucketing.
type UserBuckets struct {
	Light  int64
	Medium int64
	Heavy  int64
	Power  int64
}

// PowerRatio is the fraction of users in the power bucket, used by the
// Index Optimizer's strategy-selection table.
func (b UserBuckets) PowerRatio() float64 {
	total := b.Light + b.Medium + b.Heavy + b.Power
	if total == 0 {
		return 0
	}
	return float64(b.Power) / float64(total)
}

// IndexStrategy is the physical ANN index currently (or about to be)
// applied to a table (§4.5).
type IndexStrategy struct {
	Kind           string // "none", "ivfflat", "partitioned_ivfflat", "hnsw"
	Lists          int    // IVFFlat
	Probes         int    // IVFFlat default probes
	M              int    // HNSW
	EfConstruction int    // HNSW
	EfSearch       int    // HNSW
	Composite      []string
}

// Store is the Vector KV contract (§6): create_table, insert, search,
// delete, update_metadata, describe_table, and a raw query escape hatch for
// index DDL.
type Store interface {
	CreateTable(ctx context.Context, name string, dim int, extraCols []string) error
	DescribeTable(ctx context.Context, name string) (*TableInfo, error)
	Insert(ctx context.Context, table, id, content string, embedding []float32, userID, sessionID, memoryType string, importance float64, metadata map[string]any) error
	Search(ctx context.Context, table string, queryVector []float32, filters []Filter, limit, probes int) ([]SearchResult, error)
	Delete(ctx context.Context, table string, ids []string) error
	UpdateMetadata(ctx context.Context, table, id string, patch map[string]any, merge bool) error
	Query(ctx context.Context, sql string, args ...any) error
	Stats(ctx context.Context, table string) (*TableStats, error)
	ApplyIndex(ctx context.Context, table string, strategy IndexStrategy) error
	Close() error
}
