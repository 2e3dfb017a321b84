// Package orchestrator implements the Orchestrator (C6, §4.6): the two
// public operations store_memory and handle_utterance, composed from the
// Classifier, Content Processor, Strategy Planner, Retrieval Engine, and
// Event Stream, plus the per-user conversation buffer and running-average
// user model named in the SUPPLEMENTED FEATURES section.
//
// Grounded on memory_orchestrator.py's MemoryOrchestrator (store_memory,
// retrieve_memories, get_context, generate_response,
// _build_context_prompt's exact section layout) for the pipeline shape, and
// on the teacher's pkg/docstore.Store (single sync.RWMutex over one map) for
// the per-user bookkeeping idiom, generalized to a sharded map per §5/§9.
package orchestrator

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/juyoung-min/memory-agent/internal/vectorkv"
	"github.com/juyoung-min/memory-agent/pkg/classify"
	"github.com/juyoung-min/memory-agent/pkg/content"
	"github.com/juyoung-min/memory-agent/pkg/events"
	"github.com/juyoung-min/memory-agent/pkg/index"
	"github.com/juyoung-min/memory-agent/pkg/memerr"
	"github.com/juyoung-min/memory-agent/pkg/memtype"
	"github.com/juyoung-min/memory-agent/pkg/retrieval"
	"github.com/juyoung-min/memory-agent/pkg/strategy"
)

// shardCount is the number of locks the per-user state map is split across
// (§5: "sharded per-user conversation/user-model map").
const shardCount = 32

// conversationBufferSize is the ring buffer capacity per user (§4.6.2 step
// 6, §9 Design Notes).
const conversationBufferSize = 10

// Completer is the subset of llmclient.Client the Orchestrator needs to
// generate a response, narrowed so tests can substitute a fake.
type Completer interface {
	Complete(ctx context.Context, userPrompt, systemPrompt string) (string, error)
}

// IDGenerator produces memory IDs. Tests substitute a deterministic
// sequence; the composition root wires a real UUID generator.
type IDGenerator func() string

// Clock returns the current time. Tests substitute a fixed clock.
type Clock func() time.Time

// Config names the tables and tuning knobs the Orchestrator needs, beyond
// its component dependencies.
type Config struct {
	ConversationTable string
	UserInfoTable     string
	EmbeddingDim      int
}

// Orchestrator composes C1-C5 and the Event Stream into store_memory and
// handle_utterance (§4.6).
type Orchestrator struct {
	classifier *classify.Classifier
	processor  *content.Registry
	retrieval  *retrieval.Engine
	completer  Completer
	stream     *events.Stream
	cfg        Config
	newID      IDGenerator
	now        Clock

	shards [shardCount]*shard
}

type shard struct {
	mu    sync.Mutex
	users map[string]*userState
}

// turn is one recorded exchange in a user's conversation buffer (§4.6.2
// step 6).
type turn struct {
	Message   string
	Response  string
	Timestamp time.Time
	Intent    string
}

// userModel is the running-average record named but not fully specified by
// §4.6.2 step 5; field semantics are supplemented from the original
// implementation's equivalent per-user tracking (see SPEC_FULL.md's
// SUPPLEMENTED FEATURES).
type userModel struct {
	InteractionCount   int
	QuestionsSeen      int
	CommonIntents      map[string]int
	LanguagePreference string
	AvgMessageLength   float64
}

type userState struct {
	model  userModel
	buffer []turn
}

// New builds an Orchestrator over its components. newID and now default to
// a timestamp-based "mem_<UnixNano>" generator and time.Now when nil.
func New(classifier *classify.Classifier, processor *content.Registry, retrievalEngine *retrieval.Engine, completer Completer, stream *events.Stream, cfg Config, newID IDGenerator, now Clock) *Orchestrator {
	if newID == nil {
		newID = defaultIDGenerator
	}
	if now == nil {
		now = time.Now
	}
	o := &Orchestrator{
		classifier: classifier,
		processor:  processor,
		retrieval:  retrievalEngine,
		completer:  completer,
		stream:     stream,
		cfg:        cfg,
		newID:      newID,
		now:        now,
	}
	for i := range o.shards {
		o.shards[i] = &shard{users: make(map[string]*userState)}
	}
	return o
}

func defaultIDGenerator() string {
	return fmt.Sprintf("mem_%d", time.Now().UnixNano())
}

// Retrieval exposes the underlying Retrieval Engine for tool handlers that
// need to search directly (retrieve_memories, get_context) rather than
// through the store_memory/handle_utterance pipelines.
func (o *Orchestrator) Retrieval() *retrieval.Engine {
	return o.retrieval
}

// AnalyzeContent runs the Classifier and Content Processor (C1+C2) without
// store_memory's side effects, for the analyze_content tool named in §6.
func (o *Orchestrator) AnalyzeContent(text string) content.ProcessedContent {
	cls := o.classifier.Classify(text, classify.Context{})
	return o.processor.Process(text, cls)
}

// StreamStats reports the Event Stream's current subscription counts, for
// the subscribe_memory_updates tool (§6) to poll instead of holding a
// streaming connection open.
func (o *Orchestrator) StreamStats() events.Stats {
	return o.stream.GetStats()
}

func (o *Orchestrator) shardFor(userID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return o.shards[h.Sum32()%shardCount]
}

func (o *Orchestrator) stateFor(userID string) *userState {
	s := o.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.users[userID]
	if !ok {
		st = &userState{model: userModel{CommonIntents: make(map[string]int)}}
		s.users[userID] = st
	}
	return st
}

// StoreMemoryInput is store_memory's argument bundle (§4.6.1).
type StoreMemoryInput struct {
	UserID     string
	SessionID  string
	Content    string
	MemoryType *memtype.Path // nil -> classify
	Metadata   map[string]any
}

// StoreMemoryResult is store_memory's return shape (§4.6.1 step 8).
type StoreMemoryResult struct {
	Stored          bool
	Reason          string
	MemoryID        string
	MemoryType      memtype.Path
	Importance      float64
	Classification  classify.Classification
	StorageStrategy strategy.Strategy
	RAGError        string
	Processed       content.ProcessedContent
}

// StoreMemory implements §4.6.1: classify (if needed), process, plan
// strategy, write to the store, best-effort index into RAG, emit an event.
func (o *Orchestrator) StoreMemory(ctx context.Context, in StoreMemoryInput) (StoreMemoryResult, error) {
	var cls classify.Classification
	if in.MemoryType != nil {
		cls = classify.Classification{Path: *in.MemoryType, Confidence: 1.0}
	} else {
		cls = o.classifier.Classify(in.Content, classify.Context{})
	}

	processed := o.processor.Process(in.Content, cls)
	if override, ok := in.Metadata["importance_override"].(float64); ok {
		processed.Importance = override
	}

	if !processed.ShouldStore {
		return StoreMemoryResult{Stored: false, Reason: "not significant", Processed: processed, Classification: cls}, nil
	}

	st := strategy.Determine(cls.Path, processed.Importance, len(in.Content))

	metadata := in.Metadata
	if metadata == nil {
		metadata = make(map[string]any)
	}
	for k, v := range processed.Metadata {
		metadata[k] = v
	}

	memoryID := o.newID()
	row := retrieval.MemoryRow{
		ID:         memoryID,
		Content:    in.Content,
		UserID:     in.UserID,
		SessionID:  in.SessionID,
		MemoryType: cls.Path.String(),
		Importance: processed.Importance,
		Metadata:   metadata,
	}

	if st.Primary == strategy.LocationDB || contains(st.Secondary, strategy.LocationDB) {
		if err := o.retrieval.Upsert(ctx, o.cfg.ConversationTable, row); err != nil {
			return StoreMemoryResult{}, memerr.Wrap(memerr.KindStoreUnavailable, "failed to write memory", err)
		}
	}

	result := StoreMemoryResult{
		Stored:          true,
		MemoryID:        memoryID,
		MemoryType:      cls.Path,
		Importance:      processed.Importance,
		Classification:  cls,
		StorageStrategy: st,
		Processed:       processed,
	}

	// RAG indexing is best-effort: failure is recorded, not fatal (§4.6.1).
	if st.IncludesRAG {
		namespace := fmt.Sprintf("%s_%ss", in.UserID, cls.Path.Minor)
		if err := o.retrieval.Upsert(ctx, namespace, row); err != nil {
			result.RAGError = err.Error()
		}
	}

	o.stream.Emit(memtype.Event{
		EventType:  memtype.EventCreated,
		UserID:     in.UserID,
		SessionID:  in.SessionID,
		MemoryID:   memoryID,
		MemoryType: cls.Path.String(),
		Content:    in.Content,
		Metadata:   metadata,
		Timestamp:  o.now(),
	})

	return result, nil
}

// Intent is the detected conversational intent (§4.6.2 step 1).
type Intent string

const (
	IntentRecallPrevious      Intent = "recall_previous"
	IntentQuestion            Intent = "question"
	IntentInformationSharing  Intent = "information_sharing"
	IntentGreeting            Intent = "greeting"
	IntentConversation        Intent = "conversation"
)

// recallMarkers are the temporal references that force recall_previous
// regardless of classification (§4.6.2 step 1).
var recallMarkers = []string{"just now", "earlier", "전에", "아까", "방금"}

// greetingMarkers mark a leading greeting token as its own intent, per the
// original implementation's intent layer (SUPPLEMENTED FEATURES).
var greetingMarkers = []string{"hi", "hello", "hey", "안녕"}

// imperativeMarkers mark a leading imperative verb as information_sharing
// rather than conversation, per the original implementation's intent layer
// (SUPPLEMENTED FEATURES).
var imperativeMarkers = []string{"remember", "note that", "please record", "기억해"}

func detectIntent(prompt string, cls classify.Classification) Intent {
	lower := strings.ToLower(prompt)

	for _, m := range recallMarkers {
		if strings.Contains(lower, m) {
			return IntentRecallPrevious
		}
	}
	for _, m := range greetingMarkers {
		if strings.HasPrefix(strings.TrimSpace(lower), m) {
			return IntentGreeting
		}
	}
	if cls.Path.Minor == "conversation" && strings.HasSuffix(strings.TrimSpace(prompt), "?") {
		return IntentQuestion
	}
	for _, m := range imperativeMarkers {
		if strings.HasPrefix(strings.TrimSpace(lower), m) {
			return IntentInformationSharing
		}
	}
	switch cls.Path.Major {
	case "personal", "knowledge":
		return IntentInformationSharing
	default:
		return IntentConversation
	}
}

func isSelfReferentialQuestion(prompt string) bool {
	lower := strings.ToLower(prompt)
	for _, w := range []string{"i ", "my ", "me ", "저", "제"} {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// HandleUtteranceInput is handle_utterance's argument bundle (§4.6.2).
type HandleUtteranceInput struct {
	UserID           string
	SessionID        string
	Prompt           string
	AutoStore        bool
	GenerateResponse bool
}

// Decisions records what the pipeline decided, for the caller's visibility
// (§4.6.2 step 8).
type Decisions struct {
	Intent     Intent
	Confidence float64
	MemoryPlan string
}

// HandleUtteranceResult is handle_utterance's return shape (§4.6.2 step 8).
type HandleUtteranceResult struct {
	Response     string
	Decisions    Decisions
	ActionsTaken []string
	DurationMs   int64
}

// HandleUtterance implements §4.6.2: intent analysis, conditional
// retrieval, optional response generation, optional storage, user-model
// update, conversation-buffer append, event emission.
func (o *Orchestrator) HandleUtterance(ctx context.Context, in HandleUtteranceInput) (HandleUtteranceResult, error) {
	start := o.now()
	var actions []string

	cls := o.classifier.Classify(in.Prompt, classify.Context{})
	intent := detectIntent(in.Prompt, cls)

	shouldRetrieve := intent == IntentRecallPrevious || (intent == IntentQuestion && isSelfReferentialQuestion(in.Prompt))

	var ctxResult retrieval.Context
	if shouldRetrieve {
		target := index.OptimizeBalanced
		if intent == IntentRecallPrevious {
			target = index.OptimizeAccuracy
		}
		limit := 5
		if intent == IntentRecallPrevious {
			limit = 10
		}
		userFilter := []vectorkv.Filter{{Field: "user_id", Op: vectorkv.OpEquals, Value: in.UserID}}

		conversations, err := o.retrieval.Search(ctx, o.cfg.ConversationTable, in.Prompt, userFilter, limit, target)
		if err != nil {
			return HandleUtteranceResult{}, err
		}
		userInfo, err := o.retrieval.Search(ctx, o.cfg.UserInfoTable, in.Prompt, userFilter, 3, target)
		if err != nil {
			return HandleUtteranceResult{}, err
		}
		ctxResult = retrieval.Context{
			Conversations: conversations,
			UserInfo:      userInfo,
			TotalContext:  len(conversations) + len(userInfo),
		}
		actions = append(actions, "retrieved_context")
	}

	importance := classify.Importance(cls)

	var response string
	if in.GenerateResponse {
		prompt := o.buildContextPrompt(in.Prompt, ctxResult, intent, importance)
		var err error
		response, err = o.completer.Complete(ctx, prompt, "")
		if err != nil {
			return HandleUtteranceResult{}, err
		}
		actions = append(actions, "generated_response")
	}

	if in.AutoStore {
		storeResult, err := o.StoreMemory(ctx, StoreMemoryInput{UserID: in.UserID, SessionID: in.SessionID, Content: in.Prompt})
		if err != nil {
			return HandleUtteranceResult{}, err
		}
		if storeResult.Stored {
			actions = append(actions, "stored_prompt")
		}

		if importance >= 4 && response != "" {
			responseImportance := 5.0
			if intent == IntentRecallPrevious {
				responseImportance = 7.0
			}
			respType := memtype.Path{Major: "temporal", Minor: "conversation", Detail: "response"}
			if _, err := o.StoreMemory(ctx, StoreMemoryInput{
				UserID:     in.UserID,
				SessionID:  in.SessionID,
				Content:    response,
				MemoryType: &respType,
				Metadata:   map[string]any{"importance_override": responseImportance},
			}); err != nil {
				return HandleUtteranceResult{}, err
			}
			actions = append(actions, "stored_response")
		}
	}

	o.updateUserModel(in.UserID, in.Prompt, intent)
	o.appendConversationTurn(in.UserID, in.Prompt, response, intent, o.now())

	o.stream.Emit(memtype.Event{
		EventType: memtype.EventRetrieved,
		UserID:    in.UserID,
		SessionID: in.SessionID,
		Content:   in.Prompt,
		Metadata:  map[string]any{"intent": string(intent)},
		Timestamp: o.now(),
	})

	return HandleUtteranceResult{
		Response: response,
		Decisions: Decisions{
			Intent:     intent,
			Confidence: cls.Confidence,
			MemoryPlan: string(strategy.Determine(cls.Path, importance, len(in.Prompt)).Primary),
		},
		ActionsTaken: actions,
		DurationMs:   o.now().Sub(start).Milliseconds(),
	}, nil
}

// buildContextPrompt renders the structured prompt §4.6.2 step 3 and
// memory_orchestrator.py's _build_context_prompt specify: a conversations
// section, a user-info section, then the current message and an
// intent-specific instruction.
func (o *Orchestrator) buildContextPrompt(prompt string, ctxResult retrieval.Context, intent Intent, importance float64) string {
	var b strings.Builder

	if len(ctxResult.Conversations) > 0 {
		b.WriteString("=== Recent Conversations ===\n")
		for _, c := range ctxResult.Conversations {
			b.WriteString(c.Content)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(ctxResult.UserInfo) > 0 {
		b.WriteString("=== User Information ===\n")
		for _, info := range ctxResult.UserInfo {
			memType, _ := info.Metadata["memory_type"].(string)
			fmt.Fprintf(&b, "[%s] %s\n", memType, info.Content)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Current Message: %s\n", prompt)
	fmt.Fprintf(&b, "Detected intent: %s (importance %.1f)\n", intent, importance)
	b.WriteString(instructionFor(intent))
	b.WriteString("\nResponse:")

	return b.String()
}

func instructionFor(intent Intent) string {
	switch intent {
	case IntentRecallPrevious:
		return "Answer using the recalled conversation history above; be specific about what was said."
	case IntentQuestion:
		return "Answer the question directly, drawing on the user information above when relevant."
	case IntentGreeting:
		return "Respond with a brief, friendly greeting."
	default:
		return "Respond naturally, keeping the user's known preferences and facts in mind."
	}
}

// updateUserModel recomputes the running averages named by §4.6.2 step 5.
func (o *Orchestrator) updateUserModel(userID, message string, intent Intent) {
	st := o.stateFor(userID)
	s := o.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	m := &st.model
	n := m.InteractionCount
	m.AvgMessageLength = (m.AvgMessageLength*float64(n) + float64(len(message))) / float64(n+1)
	m.InteractionCount = n + 1
	if intent == IntentQuestion {
		m.QuestionsSeen++
	}
	m.CommonIntents[string(intent)]++
}

// appendConversationTurn appends to the per-user ring buffer, evicting the
// oldest entry once it reaches conversationBufferSize (§4.6.2 step 6).
func (o *Orchestrator) appendConversationTurn(userID, message, response string, intent Intent, ts time.Time) {
	st := o.stateFor(userID)
	s := o.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	st.buffer = append(st.buffer, turn{Message: message, Response: response, Timestamp: ts, Intent: string(intent)})
	if len(st.buffer) > conversationBufferSize {
		st.buffer = st.buffer[len(st.buffer)-conversationBufferSize:]
	}
}

// QuestionFrequency returns questions_seen/interaction_count for userID,
// 0 if the user has no recorded interactions yet.
func (o *Orchestrator) QuestionFrequency(userID string) float64 {
	st := o.stateFor(userID)
	s := o.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.model.InteractionCount == 0 {
		return 0
	}
	return float64(st.model.QuestionsSeen) / float64(st.model.InteractionCount)
}

// CommonIntents returns the bounded top-3 intents by frequency for userID
// (SUPPLEMENTED FEATURES: "common_intents is a bounded top-3").
func (o *Orchestrator) CommonIntents(userID string) []string {
	st := o.stateFor(userID)
	s := o.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	type kv struct {
		intent string
		count  int
	}
	kvs := make([]kv, 0, len(st.model.CommonIntents))
	for k, v := range st.model.CommonIntents {
		kvs = append(kvs, kv{k, v})
	}
	for i := 1; i < len(kvs); i++ {
		for j := i; j > 0 && kvs[j].count > kvs[j-1].count; j-- {
			kvs[j], kvs[j-1] = kvs[j-1], kvs[j]
		}
	}
	n := len(kvs)
	if n > 3 {
		n = 3
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = kvs[i].intent
	}
	return out
}

// ConversationBuffer returns a copy of userID's ring buffer, oldest first.
func (o *Orchestrator) ConversationBuffer(userID string) []turn {
	st := o.stateFor(userID)
	s := o.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]turn, len(st.buffer))
	copy(out, st.buffer)
	return out
}

func contains(locs []strategy.Location, target strategy.Location) bool {
	for _, l := range locs {
		if l == target {
			return true
		}
	}
	return false
}
