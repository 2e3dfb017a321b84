package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/juyoung-min/memory-agent/internal/vectorkv"
	"github.com/juyoung-min/memory-agent/pkg/classify"
	"github.com/juyoung-min/memory-agent/pkg/content"
	"github.com/juyoung-min/memory-agent/pkg/events"
	"github.com/juyoung-min/memory-agent/pkg/index"
	"github.com/juyoung-min/memory-agent/pkg/memerr"
	"github.com/juyoung-min/memory-agent/pkg/orchestrator"
	"github.com/juyoung-min/memory-agent/pkg/retrieval"
)

type fakeStopWords struct{}

func (fakeStopWords) Contains(string) bool { return false }

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakeCompleter struct{ response string }

func (f *fakeCompleter) Complete(ctx context.Context, userPrompt, systemPrompt string) (string, error) {
	return f.response, nil
}

type fakeStore struct {
	results []vectorkv.SearchResult
}

func (f *fakeStore) CreateTable(ctx context.Context, name string, dim int, extraCols []string) error {
	return nil
}
func (f *fakeStore) DescribeTable(ctx context.Context, name string) (*vectorkv.TableInfo, error) {
	return &vectorkv.TableInfo{Name: name, Dimension: 3, Exists: true}, nil
}
func (f *fakeStore) Insert(ctx context.Context, table, id, content string, embedding []float32, userID, sessionID, memoryType string, importance float64, metadata map[string]any) error {
	return nil
}
func (f *fakeStore) Search(ctx context.Context, table string, queryVector []float32, filters []vectorkv.Filter, limit, probes int) ([]vectorkv.SearchResult, error) {
	return f.results, nil
}
func (f *fakeStore) Delete(ctx context.Context, table string, ids []string) error { return nil }
func (f *fakeStore) UpdateMetadata(ctx context.Context, table, id string, patch map[string]any, merge bool) error {
	return nil
}
func (f *fakeStore) Query(ctx context.Context, sql string, args ...any) error { return nil }
func (f *fakeStore) Stats(ctx context.Context, table string) (*vectorkv.TableStats, error) {
	return &vectorkv.TableStats{RowCount: 50}, nil
}
func (f *fakeStore) ApplyIndex(ctx context.Context, table string, strategy vectorkv.IndexStrategy) error {
	return nil
}
func (f *fakeStore) Close() error { return nil }

func newTestServer(t *testing.T) (*server, *fakeStore) {
	t.Helper()
	classifier, err := classify.New()
	require.NoError(t, err)
	registry := content.NewRegistry(fakeStopWords{})
	store := &fakeStore{}
	engine := retrieval.New(store, fakeEmbedder{})
	stream := events.New(events.DefaultQueueSize, zap.NewNop())
	indexOptimizer := index.New(store)

	var seq int
	newID := func() string {
		seq++
		return "mem_test"
	}

	orch := orchestrator.New(classifier, registry, engine, &fakeCompleter{response: "hi"}, stream,
		orchestrator.Config{
			ConversationTable: "conversations",
			UserInfoTable:     "user_info",
			EmbeddingDim:      3,
		}, newID, func() time.Time { return time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC) })

	srv := newServer(orch, indexOptimizer, store, "conversations", "user_info", zap.NewNop())
	return srv, store
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleStoreMemory_MissingUserIDYieldsValidationError(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.routes(), http.MethodPost, "/tools/store_memory", map[string]any{
		"content": "hello",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var result memerr.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.Success)
}

func TestHandleStoreMemory_StoresAndReturnsMemoryID(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.routes(), http.MethodPost, "/tools/store_memory", map[string]any{
		"user_id": "u1",
		"content": "My name is Alice and I live in Seoul",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	var result memerr.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	data, ok := result.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "mem_test", data["MemoryID"])
}

func TestHandleAnalyzeContent(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.routes(), http.MethodPost, "/tools/analyze_content", map[string]any{
		"content": "My name is Bob",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleUtterance_GeneratesResponse(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.routes(), http.MethodPost, "/tools/handle_utterance", map[string]any{
		"user_id":           "u1",
		"prompt":            "hello there",
		"generate_response": true,
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleOptimizeVectorIndex_SkipsBelowRowThreshold(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.routes(), http.MethodPost, "/tools/optimize_vector_index", map[string]any{
		"table": "conversations",
		"force": false,
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	var result memerr.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	data, ok := result.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, data["Optimized"])
}

func TestHandleSubscribeMemoryUpdates(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.routes(), http.MethodPost, "/tools/subscribe_memory_updates", map[string]any{
		"user_id": "u1",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}
