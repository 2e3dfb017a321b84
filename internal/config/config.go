// Package config declares the environment the memory orchestration core
// recognizes (§6). A single struct, parsed once at the composition root,
// replaces scattered os.Getenv calls so every variable has one declaration
// site with its type and default.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// AgentType holds the MEMORY_AGENT_AGENT_TYPE setting. It is parsed into
// Config; no component in this module reads it.
type AgentType string

const (
	AgentTypeBasic  AgentType = "basic"
	AgentTypeReact  AgentType = "react"
	AgentTypeHybrid AgentType = "hybrid"
)

// Config is the full environment surface of the core.
type Config struct {
	AgentType              AgentType     `env:"MEMORY_AGENT_AGENT_TYPE" envDefault:"basic"`
	EnableIntelligence     bool          `env:"MEMORY_AGENT_ENABLE_INTELLIGENCE" envDefault:"true"`
	MaxReasoningSteps      int           `env:"MEMORY_AGENT_MAX_REASONING_STEPS" envDefault:"5"`
	ImportanceThreshold    float64       `env:"MEMORY_AGENT_IMPORTANCE_THRESHOLD" envDefault:"4.0"`
	ContextWindowSize      int           `env:"MEMORY_AGENT_CONTEXT_WINDOW_SIZE" envDefault:"10"`

	EmbeddingServiceURL    string        `env:"EMBEDDING_SERVICE_URL" envDefault:"http://localhost:8100"`
	EmbeddingTimeout       time.Duration `env:"EMBEDDING_SERVICE_TIMEOUT_SECONDS" envDefault:"30s"`
	CompletionServiceURL   string        `env:"COMPLETION_SERVICE_URL" envDefault:"http://localhost:8200"`
	CompletionTimeout      time.Duration `env:"COMPLETION_SERVICE_TIMEOUT_SECONDS" envDefault:"30s"`
	VectorStoreURL         string        `env:"VECTOR_STORE_URL" envDefault:""`
	VectorStoreTimeout     time.Duration `env:"VECTOR_STORE_TIMEOUT_SECONDS" envDefault:"30s"`
	SQLiteDSN              string        `env:"MEMORY_AGENT_SQLITE_DSN" envDefault:"memory_agent.db"`
	EmbeddingDimension     int           `env:"MEMORY_AGENT_EMBEDDING_DIMENSION" envDefault:"1024"`

	DefaultEmbeddingModel  string        `env:"DEFAULT_EMBEDDING_MODEL" envDefault:"bge-m3"`
	DefaultLLMModel        string        `env:"DEFAULT_LLM_MODEL" envDefault:"EXAONE-3.5-2.4B-Instruct"`
	DefaultCollection      string        `env:"DEFAULT_COLLECTION" envDefault:"memories"`

	ChunkSize              int           `env:"CHUNK_SIZE" envDefault:"512"`
	ChunkOverlap           int           `env:"CHUNK_OVERLAP" envDefault:"64"`
	DefaultSearchLimit     int           `env:"DEFAULT_SEARCH_LIMIT" envDefault:"10"`
	DefaultSimilarityThreshold float64   `env:"DEFAULT_SIMILARITY_THRESHOLD" envDefault:"0.0"`

	HTTPAddr               string        `env:"MEMORY_AGENT_HTTP_ADDR" envDefault:":8080"`
}

// Load parses Config from the process environment with the declared
// defaults (§6).
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
