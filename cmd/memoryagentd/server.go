package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/juyoung-min/memory-agent/internal/vectorkv"
	"github.com/juyoung-min/memory-agent/pkg/index"
	"github.com/juyoung-min/memory-agent/pkg/memerr"
	"github.com/juyoung-min/memory-agent/pkg/memtype"
	"github.com/juyoung-min/memory-agent/pkg/orchestrator"
)

// server is the thin JSON tool-dispatch surface for the tool table named in
// §6: store_memory, retrieve_memories, get_context,
// generate_contextual_response, handle_utterance/process_user_prompt,
// analyze_content, get_memory_stats, optimize_vector_index,
// get_index_performance_stats, subscribe_memory_updates. Grounded on
// cmd/wasm/main.go's one-dispatcher-per-exported-function shape, replacing
// js.FuncOf registration with chi routes.
type server struct {
	orch              *orchestrator.Orchestrator
	indexOptimizer    *index.Optimizer
	store             vectorkv.Store
	conversationTable string
	userInfoTable     string
	log               *zap.Logger
	validate          *validator.Validate
}

func newServer(orch *orchestrator.Orchestrator, indexOptimizer *index.Optimizer, store vectorkv.Store, conversationTable, userInfoTable string, log *zap.Logger) *server {
	return &server{
		orch:              orch,
		indexOptimizer:    indexOptimizer,
		store:             store,
		conversationTable: conversationTable,
		userInfoTable:     userInfoTable,
		log:               log,
		validate:          validator.New(),
	}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	newMiddlewareStack(r)

	r.Get("/health", s.handleHealth)

	r.Route("/tools", func(r chi.Router) {
		r.Post("/store_memory", s.handleStoreMemory)
		r.Post("/retrieve_memories", s.handleRetrieveMemories)
		r.Post("/get_context", s.handleGetContext)
		r.Post("/generate_contextual_response", s.handleGenerateContextualResponse)
		r.Post("/handle_utterance", s.handleUtterance)
		r.Post("/process_user_prompt", s.handleUtterance)
		r.Post("/analyze_content", s.handleAnalyzeContent)
		r.Post("/get_memory_stats", s.handleGetMemoryStats)
		r.Post("/optimize_vector_index", s.handleOptimizeVectorIndex)
		r.Post("/get_index_performance_stats", s.handleIndexPerformanceStats)
		r.Post("/subscribe_memory_updates", s.handleSubscribeMemoryUpdates)
	})

	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeAndValidate decodes the request body into dst and runs struct-tag
// validation, writing a ValidationError result directly when either fails.
// Returns false when the caller should stop handling the request.
func (s *server) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, memerr.ToResult(nil, memerr.New(memerr.KindValidation, "invalid request body: "+err.Error())))
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, memerr.ToResult(nil, memerr.New(memerr.KindValidation, err.Error())))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// storeMemoryRequest is store_memory's input (§4.6.1).
type storeMemoryRequest struct {
	UserID     string         `json:"user_id" validate:"required"`
	SessionID  string         `json:"session_id"`
	Content    string         `json:"content" validate:"required"`
	MemoryType string         `json:"memory_type"`
	Metadata   map[string]any `json:"metadata"`
}

func (s *server) handleStoreMemory(w http.ResponseWriter, r *http.Request) {
	var req storeMemoryRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	in := orchestrator.StoreMemoryInput{
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Content:   req.Content,
		Metadata:  req.Metadata,
	}
	if req.MemoryType != "" {
		path := parsePath(req.MemoryType)
		in.MemoryType = &path
	}

	result, err := s.orch.StoreMemory(r.Context(), in)
	writeJSON(w, statusFor(err), memerr.ToResult(result, err))
}

// retrieveMemoriesRequest is retrieve_memories' input (§4.4/§6).
type retrieveMemoriesRequest struct {
	UserID      string   `json:"user_id" validate:"required"`
	Query       string   `json:"query" validate:"required"`
	SessionID   string   `json:"session_id"`
	MemoryTypes []string `json:"memory_types"`
	Limit       int      `json:"limit"`
	OptimizeFor string   `json:"optimize_for"`
}

func (s *server) handleRetrieveMemories(w http.ResponseWriter, r *http.Request) {
	var req retrieveMemoriesRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}
	target := parseOptimizeFor(req.OptimizeFor)

	table := s.userInfoTable
	for _, t := range req.MemoryTypes {
		if t == "conversation" {
			table = s.conversationTable
			break
		}
	}

	filters := []vectorkv.Filter{{Field: "user_id", Op: vectorkv.OpEquals, Value: req.UserID}}
	if req.SessionID != "" {
		filters = append(filters, vectorkv.Filter{Field: "session_id", Op: vectorkv.OpEquals, Value: req.SessionID})
	}
	if len(req.MemoryTypes) > 0 {
		filters = append(filters, vectorkv.Filter{Field: "memory_type", Op: vectorkv.OpIn, Value: req.MemoryTypes})
	}

	results, err := s.orch.Retrieval().Search(r.Context(), table, req.Query, filters, limit, target)
	writeJSON(w, statusFor(err), memerr.ToResult(results, err))
}

// getContextRequest is get_context's input (§4.6.1 composition consumer).
type getContextRequest struct {
	UserID         string `json:"user_id" validate:"required"`
	CurrentMessage string `json:"current_message" validate:"required"`
	SessionID      string `json:"session_id"`
	ContextSize    int    `json:"context_size"`
}

func (s *server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	var req getContextRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	limit := req.ContextSize
	if limit <= 0 {
		limit = 5
	}

	result, err := s.orch.Retrieval().GetContext(r.Context(), s.conversationTable, s.userInfoTable, req.UserID, req.CurrentMessage, limit)
	writeJSON(w, statusFor(err), memerr.ToResult(result, err))
}

// generateContextualResponseRequest mirrors handle_utterance's
// response-only slice (§4.6.2 step 3).
type generateContextualResponseRequest struct {
	UserID    string `json:"user_id" validate:"required"`
	SessionID string `json:"session_id"`
	Prompt    string `json:"prompt" validate:"required"`
}

func (s *server) handleGenerateContextualResponse(w http.ResponseWriter, r *http.Request) {
	var req generateContextualResponseRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	result, err := s.orch.HandleUtterance(r.Context(), orchestrator.HandleUtteranceInput{
		UserID:           req.UserID,
		SessionID:        req.SessionID,
		Prompt:           req.Prompt,
		AutoStore:        false,
		GenerateResponse: true,
	})
	writeJSON(w, statusFor(err), memerr.ToResult(result, err))
}

// handleUtteranceRequest is handle_utterance's / process_user_prompt's input
// (§4.6.2).
type handleUtteranceRequest struct {
	UserID           string `json:"user_id" validate:"required"`
	SessionID        string `json:"session_id"`
	Prompt           string `json:"prompt" validate:"required"`
	AutoStore        bool   `json:"auto_store"`
	GenerateResponse bool   `json:"generate_response"`
}

func (s *server) handleUtterance(w http.ResponseWriter, r *http.Request) {
	var req handleUtteranceRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	result, err := s.orch.HandleUtterance(r.Context(), orchestrator.HandleUtteranceInput{
		UserID:           req.UserID,
		SessionID:        req.SessionID,
		Prompt:           req.Prompt,
		AutoStore:        req.AutoStore,
		GenerateResponse: req.GenerateResponse,
	})
	writeJSON(w, statusFor(err), memerr.ToResult(result, err))
}

// analyzeContentRequest runs C1+C2 without store_memory's side effects
// (SUPPLEMENTED FEATURES: analyze_content exposes the classify+process
// layer standalone).
type analyzeContentRequest struct {
	Content string `json:"content" validate:"required"`
}

func (s *server) handleAnalyzeContent(w http.ResponseWriter, r *http.Request) {
	var req analyzeContentRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	result := s.orch.AnalyzeContent(req.Content)
	writeJSON(w, http.StatusOK, memerr.ToResult(result, nil))
}

// getMemoryStatsRequest names which table to report on.
type getMemoryStatsRequest struct {
	Table string `json:"table"`
}

func (s *server) handleGetMemoryStats(w http.ResponseWriter, r *http.Request) {
	var req getMemoryStatsRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	table := req.Table
	if table == "" {
		table = s.conversationTable
	}
	stats, err := s.store.Stats(r.Context(), table)
	writeJSON(w, statusFor(err), memerr.ToResult(stats, err))
}

type optimizeVectorIndexRequest struct {
	Table string `json:"table" validate:"required"`
	Force bool   `json:"force"`
}

func (s *server) handleOptimizeVectorIndex(w http.ResponseWriter, r *http.Request) {
	var req optimizeVectorIndexRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	result, err := s.indexOptimizer.Optimize(r.Context(), req.Table, req.Force)
	writeJSON(w, statusFor(err), memerr.ToResult(result, err))
}

type indexPerformanceStatsRequest struct {
	Table       string    `json:"table" validate:"required"`
	QueryVector []float32 `json:"query_vector" validate:"required"`
	Limit       int       `json:"limit"`
}

func (s *server) handleIndexPerformanceStats(w http.ResponseWriter, r *http.Request) {
	var req indexPerformanceStatsRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}
	results, err := index.Benchmark(r.Context(), s.store, req.Table, req.QueryVector, nil, limit)
	writeJSON(w, statusFor(err), memerr.ToResult(results, err))
}

type subscribeMemoryUpdatesRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// handleSubscribeMemoryUpdates reports the current subscription counts
// rather than upgrading to a streaming transport: SSE/WS framing is out of
// scope (§1), so this tool surfaces Event Stream state for a poller instead
// of holding the connection open.
func (s *server) handleSubscribeMemoryUpdates(w http.ResponseWriter, r *http.Request) {
	var req subscribeMemoryUpdatesRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	writeJSON(w, http.StatusOK, memerr.ToResult(s.orch.StreamStats(), nil))
}

func parsePath(raw string) memtype.Path {
	parts := splitPath(raw)
	p := memtype.Path{}
	if len(parts) > 0 {
		p.Major = parts[0]
	}
	if len(parts) > 1 {
		p.Minor = parts[1]
	}
	if len(parts) > 2 {
		p.Detail = parts[2]
	}
	return p
}

func splitPath(raw string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(raw); i++ {
		if raw[i] == '/' {
			parts = append(parts, raw[start:i])
			start = i + 1
		}
	}
	parts = append(parts, raw[start:])
	return parts
}

func parseOptimizeFor(raw string) index.OptimizeFor {
	switch raw {
	case "speed":
		return index.OptimizeSpeed
	case "accuracy":
		return index.OptimizeAccuracy
	default:
		return index.OptimizeBalanced
	}
}

func statusFor(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch memerr.KindOf(err) {
	case memerr.KindValidation:
		return http.StatusUnprocessableEntity
	case memerr.KindDimensionMismatch, memerr.KindIndexOptimizationSkipped:
		return http.StatusConflict
	case memerr.KindEmbeddingUnavailable, memerr.KindCompletionUnavailable, memerr.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
