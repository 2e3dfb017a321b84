// Command memoryagentd is the composition root for the memory orchestration
// core: it wires the Classifier, Content Processor, Strategy Planner,
// Retrieval Engine, Index Optimizer, Event Stream, LLM client and
// Orchestrator together, then serves the tool table over HTTP.
//
// Grounded on cmd/wasm/main.go's composition-root shape (one main()
// constructing every service and handing them to a single dispatcher), with
// go-chi/chi/v5 standing in for the WASM js.Global().Set(...) export table,
// since this module runs as a standalone service rather than inside a
// browser (§1, §6).
package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/orsinium-labs/stopwords"
	"go.uber.org/zap"

	"github.com/juyoung-min/memory-agent/internal/config"
	"github.com/juyoung-min/memory-agent/internal/vectorkv"
	"github.com/juyoung-min/memory-agent/internal/vectorkv/pgstore"
	"github.com/juyoung-min/memory-agent/internal/vectorkv/sqlitevec"
	"github.com/juyoung-min/memory-agent/pkg/classify"
	"github.com/juyoung-min/memory-agent/pkg/content"
	"github.com/juyoung-min/memory-agent/pkg/events"
	"github.com/juyoung-min/memory-agent/pkg/index"
	"github.com/juyoung-min/memory-agent/pkg/llmclient"
	"github.com/juyoung-min/memory-agent/pkg/orchestrator"
	"github.com/juyoung-min/memory-agent/pkg/retrieval"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("memoryagentd: failed to build logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to open vector store", zap.Error(err))
	}
	defer store.Close()

	classifier, err := classify.New()
	if err != nil {
		logger.Fatal("failed to build classifier", zap.Error(err))
	}

	registry := content.NewRegistry(stopwords.MustGet("en"))

	llm := llmclient.New(llmclient.Config{
		EmbeddingURL:      cfg.EmbeddingServiceURL,
		CompletionURL:     cfg.CompletionServiceURL,
		EmbeddingModel:    cfg.DefaultEmbeddingModel,
		CompletionModel:   cfg.DefaultLLMModel,
		EmbeddingTimeout:  cfg.EmbeddingTimeout,
		CompletionTimeout: cfg.CompletionTimeout,
	})

	retrievalEngine := retrieval.New(store, llm)
	indexOptimizer := index.New(store)
	stream := events.New(events.DefaultQueueSize, logger)

	conversationTable := cfg.DefaultCollection + "_conversations"
	userInfoTable := cfg.DefaultCollection + "_user_info"
	if err := retrievalEngine.EnsureTable(ctx, conversationTable, cfg.EmbeddingDimension); err != nil {
		logger.Fatal("failed to provision conversation table", zap.Error(err))
	}
	if err := retrievalEngine.EnsureTable(ctx, userInfoTable, cfg.EmbeddingDimension); err != nil {
		logger.Fatal("failed to provision user info table", zap.Error(err))
	}

	orch := orchestrator.New(classifier, registry, retrievalEngine, llm, stream,
		orchestrator.Config{
			ConversationTable: conversationTable,
			UserInfoTable:     userInfoTable,
			EmbeddingDim:      cfg.EmbeddingDimension,
		},
		func() string { return "mem_" + uuid.NewString() },
		time.Now,
	)

	srv := newServer(orch, indexOptimizer, store, conversationTable, userInfoTable, logger)

	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.routes()}

	go func() {
		logger.Info("memoryagentd listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// openStore selects the pgstore backend when VECTOR_STORE_URL names a
// Postgres DSN, falling back to the embedded sqlitevec backend otherwise
// (§6's environment-variable list does not mandate a backend; this module
// ships both behind the same vectorkv.Store contract).
func openStore(ctx context.Context, cfg *config.Config) (vectorkv.Store, error) {
	if cfg.VectorStoreURL != "" && strings.HasPrefix(cfg.VectorStoreURL, "postgres") {
		return pgstore.Open(ctx, cfg.VectorStoreURL)
	}
	return sqlitevec.Open(cfg.SQLiteDSN)
}

func newMiddlewareStack(r chi.Router) {
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
}
