// Package retrieval implements the Retrieval Engine (C4, §4.4): table
// provisioning under the V1 dimension-uniformity invariant, embedding of
// query text, search-parameter selection, filter-DSL search, and the
// concurrent conversation+user-info merge behind get_context.
//
// Grounded on vector_index_optimizer.py's MemorySearchOptimizer
// (_get_search_params, _build_optimized_query) for search-parameter
// selection and filter-DSL compilation, and pgvector_storage.py's
// search_memories for the cosine-distance query/tie-break shape; the
// concurrent merge is grounded on memory_orchestrator.py's get_context.
package retrieval

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/juyoung-min/memory-agent/internal/vectorkv"
	"github.com/juyoung-min/memory-agent/pkg/index"
	"github.com/juyoung-min/memory-agent/pkg/llmclient"
	"github.com/juyoung-min/memory-agent/pkg/memerr"
)

// Embedder is the subset of llmclient.Client the Retrieval Engine needs,
// narrowed so tests can substitute a fake without an HTTP server.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

var _ Embedder = (*llmclient.Client)(nil)

// Engine is the Retrieval Engine: a Vector KV store plus the embedder used
// to turn query text into a search vector.
type Engine struct {
	store    vectorkv.Store
	embedder Embedder
}

// New builds an Engine over store and embedder.
func New(store vectorkv.Store, embedder Embedder) *Engine {
	return &Engine{store: store, embedder: embedder}
}

// EnsureTable provisions table at dim if it does not exist, or recreates it
// if the existing table's dimension differs (V1: a table has exactly one
// embedding dimension). Recreation is destructive, per §9 Design Notes and
// pgvector_storage.py/vector_index_optimizer.py's own willingness to drop
// and rebuild rather than migrate in place.
func (e *Engine) EnsureTable(ctx context.Context, table string, dim int) error {
	info, err := e.store.DescribeTable(ctx, table)
	if err != nil {
		return fmt.Errorf("retrieval: describe table: %w", err)
	}
	if !info.Exists {
		return e.store.CreateTable(ctx, table, dim, nil)
	}
	if info.Dimension != dim {
		if dropper, ok := e.store.(interface {
			DropTable(ctx context.Context, name string) error
		}); ok {
			if err := dropper.DropTable(ctx, table); err != nil {
				return memerr.Wrap(memerr.KindDimensionMismatch, "failed to recreate table at new dimension", err)
			}
			return e.store.CreateTable(ctx, table, dim, nil)
		}
		return memerr.New(memerr.KindDimensionMismatch,
			fmt.Sprintf("table %s is dimension %d, got %d, and store cannot drop tables", table, info.Dimension, dim))
	}
	return nil
}

// MemoryRow is the subset of a Memory this engine needs to write.
type MemoryRow struct {
	ID          string
	Content     string
	UserID      string
	SessionID   string
	MemoryType  string
	Importance  float64
	Metadata    map[string]any
}

// Upsert embeds content and writes the row (§4.4 write path). The embedding
// call reports the active model's current dimension; EnsureTable re-checks
// table against it before every write so a model switch is picked up on the
// first post-switch write rather than requiring a restart (spec scenario
// "Dimension migration").
func (e *Engine) Upsert(ctx context.Context, table string, row MemoryRow) error {
	vec, err := e.embedder.Embed(ctx, row.Content)
	if err != nil {
		return err
	}
	if err := e.EnsureTable(ctx, table, len(vec)); err != nil {
		return err
	}
	return e.store.Insert(ctx, table, row.ID, row.Content, vec, row.UserID, row.SessionID, row.MemoryType, row.Importance, row.Metadata)
}

// SearchParams resolves the probe count for table's current size and the
// requested optimization target (speed/balanced/accuracy), delegating to
// the Index Optimizer's table (§4.5's thresholds power both modules).
func (e *Engine) SearchParams(ctx context.Context, table string, target index.OptimizeFor) (int, error) {
	stats, err := e.store.Stats(ctx, table)
	if err != nil {
		return 0, fmt.Errorf("retrieval: stats: %w", err)
	}
	return index.SearchParams(stats.RowCount, target), nil
}

// Search embeds query, re-provisions table against the embedder's current
// dimension on the first post-switch call (same EnsureTable guard as
// Upsert), resolves probes for target, and runs a filtered ANN search,
// returning the store's tie-broken (similarity, importance, created_at)
// ordering (§4.4 steps 3-6).
func (e *Engine) Search(ctx context.Context, table, query string, filters []vectorkv.Filter, limit int, target index.OptimizeFor) ([]vectorkv.SearchResult, error) {
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	if err := e.EnsureTable(ctx, table, len(vec)); err != nil {
		return nil, err
	}
	probes, err := e.SearchParams(ctx, table, target)
	if err != nil {
		return nil, err
	}
	return e.store.Search(ctx, table, vec, filters, limit, probes)
}

// Context is get_context's result shape (§4.6.3, memory_orchestrator.py's
// get_context): merged conversation history and user-info memories.
type Context struct {
	Conversations []vectorkv.SearchResult
	UserInfo      []vectorkv.SearchResult
	TotalContext  int
}

// GetContext concurrently searches the conversation table and the user-info
// table for userID's query, merging results once both complete. Grounded on
// memory_orchestrator.py's get_context, which issues its RAG and DB
// searches independently and merges; golang.org/x/sync/errgroup makes that
// concurrency explicit and propagates the first error.
func (e *Engine) GetContext(ctx context.Context, conversationTable, userInfoTable, userID, query string, limit int) (Context, error) {
	var result Context
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		filters := []vectorkv.Filter{{Field: "user_id", Op: vectorkv.OpEquals, Value: userID}}
		res, err := e.Search(gctx, conversationTable, query, filters, limit, index.OptimizeBalanced)
		if err != nil {
			return fmt.Errorf("retrieval: conversation search: %w", err)
		}
		result.Conversations = res
		return nil
	})

	g.Go(func() error {
		filters := []vectorkv.Filter{{Field: "user_id", Op: vectorkv.OpEquals, Value: userID}}
		res, err := e.Search(gctx, userInfoTable, query, filters, limit, index.OptimizeBalanced)
		if err != nil {
			return fmt.Errorf("retrieval: user info search: %w", err)
		}
		result.UserInfo = res
		return nil
	})

	if err := g.Wait(); err != nil {
		return Context{}, err
	}
	result.TotalContext = len(result.Conversations) + len(result.UserInfo)
	return result, nil
}
