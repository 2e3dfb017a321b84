package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juyoung-min/memory-agent/internal/vectorkv"
	"github.com/juyoung-min/memory-agent/pkg/classify"
	"github.com/juyoung-min/memory-agent/pkg/content"
	"github.com/juyoung-min/memory-agent/pkg/events"
	"github.com/juyoung-min/memory-agent/pkg/retrieval"
)

type fakeStopWords struct{ words map[string]bool }

func (f fakeStopWords) Contains(s string) bool { return f.words[s] }

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakeCompleter struct {
	lastPrompt string
	response   string
}

func (f *fakeCompleter) Complete(ctx context.Context, userPrompt, systemPrompt string) (string, error) {
	f.lastPrompt = userPrompt
	return f.response, nil
}

type fakeStore struct {
	info    vectorkv.TableInfo
	results []vectorkv.SearchResult
}

func (f *fakeStore) CreateTable(ctx context.Context, name string, dim int, extraCols []string) error {
	return nil
}
func (f *fakeStore) DropTable(ctx context.Context, name string) error { return nil }
func (f *fakeStore) DescribeTable(ctx context.Context, name string) (*vectorkv.TableInfo, error) {
	return &f.info, nil
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
	return &vectorkv.TableStats{RowCount: 10}, nil
}
func (f *fakeStore) ApplyIndex(ctx context.Context, table string, strategy vectorkv.IndexStrategy) error {
	return nil
}
func (f *fakeStore) Close() error { return nil }

func newTestOrchestrator(t *testing.T, comp Completer, results []vectorkv.SearchResult) *Orchestrator {
	t.Helper()
	classifier, err := classify.New()
	require.NoError(t, err)
	registry := content.NewRegistry(fakeStopWords{words: map[string]bool{"the": true, "a": true, "is": true}})
	store := &fakeStore{results: results}
	engine := retrieval.New(store, fakeEmbedder{})
	stream := events.New(events.DefaultQueueSize, nil)

	var seq int
	newID := func() string {
		seq++
		return "mem_test_" + string(rune('0'+seq))
	}
	fixed := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return fixed }

	return New(classifier, registry, engine, comp, stream, Config{
		ConversationTable: "conversations",
		UserInfoTable:     "user_info",
		EmbeddingDim:      3,
	}, newID, now)
}

func TestStoreMemory_ClassifiesAndStoresIdentity(t *testing.T) {
	o := newTestOrchestrator(t, &fakeCompleter{}, nil)

	result, err := o.StoreMemory(context.Background(), StoreMemoryInput{
		UserID:  "u1",
		Content: "My name is Alice and I live in Seoul",
	})
	require.NoError(t, err)
	assert.True(t, result.Stored)
	assert.Equal(t, "personal", result.MemoryType.Major)
	assert.Equal(t, "identity", result.MemoryType.Minor)
	assert.NotEmpty(t, result.MemoryID)
}

func TestStoreMemory_TrivialUtteranceIsNotStored(t *testing.T) {
	o := newTestOrchestrator(t, &fakeCompleter{}, nil)

	result, err := o.StoreMemory(context.Background(), StoreMemoryInput{
		UserID:  "u1",
		Content: "ok",
	})
	require.NoError(t, err)
	if !result.Stored {
		assert.Equal(t, "not significant", result.Reason)
	}
}

func TestDetectIntent_TemporalMarkerForcesRecall(t *testing.T) {
	classifier, err := classify.New()
	require.NoError(t, err)
	cls := classifier.Classify("what did I tell you earlier about my job", classify.Context{})
	assert.Equal(t, IntentRecallPrevious, detectIntent("what did I tell you earlier about my job", cls))
}

func TestDetectIntent_Greeting(t *testing.T) {
	classifier, err := classify.New()
	require.NoError(t, err)
	cls := classifier.Classify("hello there", classify.Context{})
	assert.Equal(t, IntentGreeting, detectIntent("hello there", cls))
}

func TestHandleUtterance_RecallRetrievesContextAndGenerates(t *testing.T) {
	comp := &fakeCompleter{response: "Here is what you told me."}
	results := []vectorkv.SearchResult{{ID: "r1", Content: "I like coffee"}}
	o := newTestOrchestrator(t, comp, results)

	res, err := o.HandleUtterance(context.Background(), HandleUtteranceInput{
		UserID:           "u1",
		SessionID:        "s1",
		Prompt:           "what did I say earlier about coffee?",
		AutoStore:        false,
		GenerateResponse: true,
	})
	require.NoError(t, err)
	assert.Equal(t, IntentRecallPrevious, res.Decisions.Intent)
	assert.Equal(t, "Here is what you told me.", res.Response)
	assert.Contains(t, comp.lastPrompt, "=== Recent Conversations ===")
	assert.Contains(t, comp.lastPrompt, "Current Message: what did I say earlier about coffee?")
	assert.Contains(t, res.ActionsTaken, "retrieved_context")
	assert.Contains(t, res.ActionsTaken, "generated_response")
}

func TestHandleUtterance_UpdatesUserModelAndBuffer(t *testing.T) {
	o := newTestOrchestrator(t, &fakeCompleter{response: "ok"}, nil)

	_, err := o.HandleUtterance(context.Background(), HandleUtteranceInput{
		UserID:           "u2",
		Prompt:           "is this a question?",
		GenerateResponse: false,
	})
	require.NoError(t, err)

	_, err = o.HandleUtterance(context.Background(), HandleUtteranceInput{
		UserID:           "u2",
		Prompt:           "another question?",
		GenerateResponse: false,
	})
	require.NoError(t, err)

	assert.Greater(t, o.QuestionFrequency("u2"), 0.0)
	buf := o.ConversationBuffer("u2")
	assert.Len(t, buf, 2)
}

func TestHandleUtterance_AutoStoreStoresPromptAndResponse(t *testing.T) {
	comp := &fakeCompleter{response: "My name is recorded as Alice."}
	o := newTestOrchestrator(t, comp, nil)

	res, err := o.HandleUtterance(context.Background(), HandleUtteranceInput{
		UserID:           "u3",
		Prompt:           "My name is Alice",
		AutoStore:        true,
		GenerateResponse: true,
	})
	require.NoError(t, err)
	assert.Contains(t, res.ActionsTaken, "stored_prompt")
	assert.Contains(t, res.ActionsTaken, "stored_response")
}

func TestConversationBuffer_CapsAtTen(t *testing.T) {
	o := newTestOrchestrator(t, &fakeCompleter{}, nil)
	for i := 0; i < 15; i++ {
		_, err := o.HandleUtterance(context.Background(), HandleUtteranceInput{
			UserID: "u4",
			Prompt: "hello there",
		})
		require.NoError(t, err)
	}
	assert.Len(t, o.ConversationBuffer("u4"), conversationBufferSize)
}
