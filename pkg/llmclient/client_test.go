package llmclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juyoung-min/memory-agent/pkg/memerr"
)

func TestEmbed_ReturnsVectorFromService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embeddingResponse{
			Data: []struct {
				Embedding []float32 `json:"embedding"`
			}{{Embedding: []float32{0.1, 0.2, 0.3}}},
		})
	}))
	defer srv.Close()

	c := New(Config{EmbeddingURL: srv.URL, EmbeddingModel: "bge-m3"})
	vec, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestEmbed_ServiceErrorYieldsEmbeddingUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embeddingResponse{
			Error: &struct {
				Message string `json:"message"`
			}{Message: "model not loaded"},
		})
	}))
	defer srv.Close()

	c := New(Config{EmbeddingURL: srv.URL})
	_, err := c.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, memerr.KindEmbeddingUnavailable, memerr.KindOf(err))
}

func TestComplete_ReturnsFirstChoiceContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(completionResponse{
			Choices: []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			}{{Message: struct {
				Content string `json:"content"`
			}{Content: "hi there"}}},
		})
	}))
	defer srv.Close()

	c := New(Config{CompletionURL: srv.URL, CompletionModel: "EXAONE-3.5-2.4B-Instruct"})
	text, err := c.Complete(context.Background(), "hello", "be nice")
	require.NoError(t, err)
	assert.Equal(t, "hi there", text)
}

func TestComplete_UnreachableServiceYieldsCompletionUnavailable(t *testing.T) {
	c := New(Config{CompletionURL: "http://127.0.0.1:1"})
	_, err := c.Complete(context.Background(), "hello", "")
	require.Error(t, err)
	assert.Equal(t, memerr.KindCompletionUnavailable, memerr.KindOf(err))
}
