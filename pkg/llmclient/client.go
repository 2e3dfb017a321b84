// Package llmclient is the embedding/completion transport the Retrieval
// Engine (C4) and Orchestrator (C6) call out to. It carries the teacher's
// batch-completion request/response struct shapes and provider-dispatch
// idiom (pkg/batch/service.go, pkg/batch/openrouter.go) onto a real
// net/http transport, since the teacher's own transport is a
// `//go:build js && wasm` browser fetch that cannot run in this server
// process — its non-wasm build simply returns a "requires WASM
// environment" error, so there was nothing portable to keep but the shape.
//
// Every call is wrapped in a sony/gobreaker/v2 circuit breaker (§6
// suspension points); embedding calls additionally retry via
// cenkalti/backoff/v5 since they are side-effect-free reads, while
// completion calls are not retried (a retried generation is not the same
// response the caller already may have partially used).
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker/v2"

	"github.com/juyoung-min/memory-agent/pkg/memerr"
)

// Message is one chat turn, grounded on pkg/batch's openRouterMsg shape.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// completionRequest mirrors pkg/batch's openRouterRequest shape (fixed
// temperature/max_tokens, explicit stream=false).
type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	Stream      bool      `json:"stream"`
}

// completionResponse mirrors pkg/batch's openRouterResponse shape.
type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error,omitempty"`
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Client calls the embedding and completion services.
type Client struct {
	httpClient      *http.Client
	embeddingURL    string
	completionURL   string
	embeddingModel  string
	completionModel string

	embedBreaker *gobreaker.CircuitBreaker[embeddingResponse]
	compBreaker  *gobreaker.CircuitBreaker[completionResponse]
}

// Config configures a Client's endpoints and models. EmbeddingTimeout and
// CompletionTimeout are carried here but New does not apply them; a call's
// deadline is the one on the ctx passed to Embed or Complete.
type Config struct {
	EmbeddingURL    string
	CompletionURL   string
	EmbeddingModel  string
	CompletionModel string
	EmbeddingTimeout  time.Duration
	CompletionTimeout time.Duration
}

// New builds a Client over cfg, with independent circuit breakers for the
// embedding and completion suspension points.
func New(cfg Config) *Client {
	return &Client{
		httpClient:      &http.Client{},
		embeddingURL:    cfg.EmbeddingURL,
		completionURL:   cfg.CompletionURL,
		embeddingModel:  cfg.EmbeddingModel,
		completionModel: cfg.CompletionModel,
		embedBreaker: gobreaker.NewCircuitBreaker[embeddingResponse](gobreaker.Settings{
			Name:        "embedding",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
		}),
		compBreaker: gobreaker.NewCircuitBreaker[completionResponse](gobreaker.Settings{
			Name:        "completion",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
		}),
	}
}

// Embed returns the embedding vector for text, retrying transient failures
// up to 3 attempts with exponential backoff starting at 1s, all inside the
// embedding circuit breaker.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	op := func() (embeddingResponse, error) {
		return c.embedBreaker.Execute(func() (embeddingResponse, error) {
			return c.doEmbed(ctx, text)
		})
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(3))
	if err != nil {
		return nil, memerr.Wrap(memerr.KindEmbeddingUnavailable, "embedding service unavailable", err)
	}
	if resp.Error != nil {
		return nil, memerr.New(memerr.KindEmbeddingUnavailable, resp.Error.Message)
	}
	if len(resp.Data) == 0 {
		return nil, memerr.New(memerr.KindEmbeddingUnavailable, "empty embedding response")
	}
	return resp.Data[0].Embedding, nil
}

func (c *Client) doEmbed(ctx context.Context, text string) (embeddingResponse, error) {
	reqBody, err := json.Marshal(embeddingRequest{Model: c.embeddingModel, Input: text})
	if err != nil {
		return embeddingResponse{}, fmt.Errorf("llmclient: marshal embedding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.embeddingURL+"/v1/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return embeddingResponse{}, fmt.Errorf("llmclient: build embedding request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return embeddingResponse{}, fmt.Errorf("llmclient: embedding request failed: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return embeddingResponse{}, fmt.Errorf("llmclient: read embedding response: %w", err)
	}

	var resp embeddingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return embeddingResponse{}, fmt.Errorf("llmclient: parse embedding response: %w", err)
	}
	return resp, nil
}

// Complete makes a non-streaming chat completion request, following
// pkg/batch's Complete contract (userPrompt + systemPrompt in, full
// response text out) but over net/http instead of syscall/js fetch.
func (c *Client) Complete(ctx context.Context, userPrompt, systemPrompt string) (string, error) {
	messages := make([]Message, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, Message{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, Message{Role: "user", Content: userPrompt})

	resp, err := c.compBreaker.Execute(func() (completionResponse, error) {
		return c.doComplete(ctx, messages)
	})
	if err != nil {
		return "", memerr.Wrap(memerr.KindCompletionUnavailable, "completion service unavailable", err)
	}
	if resp.Error != nil {
		return "", memerr.New(memerr.KindCompletionUnavailable, resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", memerr.New(memerr.KindCompletionUnavailable, "empty completion response")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) doComplete(ctx context.Context, messages []Message) (completionResponse, error) {
	reqBody, err := json.Marshal(completionRequest{
		Model:       c.completionModel,
		Messages:    messages,
		Temperature: 0.3,
		MaxTokens:   4096,
		Stream:      false,
	})
	if err != nil {
		return completionResponse{}, fmt.Errorf("llmclient: marshal completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.completionURL+"/v1/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return completionResponse{}, fmt.Errorf("llmclient: build completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return completionResponse{}, fmt.Errorf("llmclient: completion request failed: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return completionResponse{}, fmt.Errorf("llmclient: read completion response: %w", err)
	}

	var resp completionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return completionResponse{}, fmt.Errorf("llmclient: parse completion response: %w", err)
	}
	return resp, nil
}

var errPermanent = errors.New("llmclient: permanent failure")

// Permanent wraps an error so backoff.Retry stops retrying immediately,
// for callers that detect a non-retryable condition inside Embed's op.
func Permanent(err error) error {
	return backoff.Permanent(fmt.Errorf("%w: %w", errPermanent, err))
}
