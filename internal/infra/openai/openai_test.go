package openai

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AmanBhanse/agathon-backend/internal/core/ask"
	"github.com/AmanBhanse/agathon-backend/internal/core/embedding"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) Credentials {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return Credentials{APIKey: "test-key", BaseURL: srv.URL + "/"}
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

const embeddingResponse = `{
	"object": "list",
	"model": "text-embedding-3-large",
	"data": [
		{"object": "embedding", "index": 1, "embedding": [0.3, 0.4]},
		{"object": "embedding", "index": 0, "embedding": [0.1, 0.2]}
	],
	"usage": {"prompt_tokens": 4, "total_tokens": 4}
}`

const completionResponse = `{
	"id": "chatcmpl-1",
	"object": "chat.completion",
	"created": 1700000000,
	"model": "gpt-4o-mini",
	"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "Antwort aus dem Kontext"}}],
	"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
}`

func TestNewEmbedder_RequiresAPIKey(t *testing.T) {
	_, err := NewEmbedder(Credentials{})
	assert.ErrorIs(t, err, ErrAPIKeyNotSet)

	_, err = NewClient(Credentials{})
	assert.ErrorIs(t, err, ErrAPIKeyNotSet)

	_, err = NewEmbedder(Credentials{APIKey: "k", AzureEndpoint: "https://example.openai.azure.com"})
	assert.Error(t, err)
}

func TestEmbedder_EmbedOrdersByIndex(t *testing.T) {
	var body map[string]any
	creds := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeJSON(w, http.StatusOK, embeddingResponse)
	})

	e, err := NewEmbedder(creds, WithEmbeddingDimension(2))
	require.NoError(t, err)

	vectors, err := e.Embed(context.Background(), []string{"erste", "zweite"}, "text-embedding-3-large")
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.1, 0.2}, {0.3, 0.4}}, vectors)

	assert.Equal(t, "text-embedding-3-large", body["model"])
	assert.Equal(t, []any{"erste", "zweite"}, body["input"])
	assert.Equal(t, float64(2), body["dimensions"])
}

func TestEmbedder_UnauthorizedIsFatal(t *testing.T) {
	creds := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, `{"error": {"message": "Incorrect API key", "type": "invalid_request_error"}}`)
	})

	e, err := NewEmbedder(creds)
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), []string{"a"}, "m")
	assert.ErrorIs(t, err, embedding.ErrProviderFatal)
}

func TestEmbedder_BadRequestIsNotFatal(t *testing.T) {
	creds := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, `{"error": {"message": "input too long", "type": "invalid_request_error"}}`)
	})

	e, err := NewEmbedder(creds)
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), []string{"a"}, "m")
	require.Error(t, err)
	assert.NotErrorIs(t, err, embedding.ErrProviderFatal)
}

func TestEmbedder_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	creds := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			writeJSON(w, http.StatusTooManyRequests, `{"error": {"message": "rate limited", "type": "rate_limit"}}`)
			return
		}
		writeJSON(w, http.StatusOK, embeddingResponse)
	})

	e, err := NewEmbedder(creds, WithEmbeddingRetry(3, time.Millisecond, 5*time.Millisecond))
	require.NoError(t, err)

	vectors, err := e.Embed(context.Background(), []string{"a", "b"}, "m")
	require.NoError(t, err)
	assert.Len(t, vectors, 2)
	assert.Equal(t, int32(3), calls.Load())
}

func TestEmbedder_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	creds := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusTooManyRequests, `{"error": {"message": "rate limited", "type": "rate_limit"}}`)
	})

	e, err := NewEmbedder(creds, WithEmbeddingRetry(2, time.Millisecond, time.Millisecond))
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), []string{"a"}, "m")
	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
	assert.Equal(t, int32(3), calls.Load())
}

func TestEmbedder_WorksWithBatchEmbedder(t *testing.T) {
	creds := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, embeddingResponse)
	})
	e, err := NewEmbedder(creds)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	batch, err := embedding.NewBatchEmbedder(e, "m", embedding.WithBatchSize(2), embedding.WithBatchDelay(0), embedding.WithEmbedderLogger(logger))
	require.NoError(t, err)

	result, err := batch.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 0, result.FailureCount())
	assert.Equal(t, 2, result.Dimension)
}

func TestClient_Generate(t *testing.T) {
	var body struct {
		Model       string  `json:"model"`
		Temperature float64 `json:"temperature"`
		MaxTokens   int     `json:"max_tokens"`
		Messages    []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	creds := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeJSON(w, http.StatusOK, completionResponse)
	})

	c, err := NewClient(creds, WithModel("gpt-4o-mini"))
	require.NoError(t, err)

	answer, err := c.Generate(context.Background(), ask.GenerationRequest{
		SystemPrompt: "system",
		UserPrompt:   "user",
		Model:        "gpt-4.1",
		Temperature:  0.3,
		MaxTokens:    1000,
	})
	require.NoError(t, err)
	assert.Equal(t, "Antwort aus dem Kontext", answer)

	assert.Equal(t, "gpt-4.1", body.Model)
	assert.Equal(t, 0.3, body.Temperature)
	assert.Equal(t, 1000, body.MaxTokens)
	require.Len(t, body.Messages, 2)
	assert.Equal(t, "system", body.Messages[0].Role)
	assert.Equal(t, "system", body.Messages[0].Content)
	assert.Equal(t, "user", body.Messages[1].Role)
	assert.Equal(t, "user", body.Messages[1].Content)
}

func TestClient_GenerateFallsBackToDefaultModel(t *testing.T) {
	var model string
	creds := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		model, _ = body["model"].(string)
		writeJSON(w, http.StatusOK, completionResponse)
	})

	c, err := NewClient(creds, WithModel("gpt-4o-mini"))
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), ask.GenerationRequest{UserPrompt: "q"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", model)
}

func TestClient_GenerateServerError(t *testing.T) {
	creds := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, `{"error": {"message": "overloaded", "type": "server_error"}}`)
	})

	c, err := NewClient(creds, WithClientRetry(1, time.Millisecond, time.Millisecond))
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), ask.GenerationRequest{UserPrompt: "q"})
	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
}

// runeCodec は1文字を1トークンとして数える
type runeCodec struct{}

func (runeCodec) Encode(text string, _ []string, _ []string) []int {
	runes := []rune(text)
	tokens := make([]int, len(runes))
	for i, r := range runes {
		tokens[i] = int(r)
	}
	return tokens
}

func (runeCodec) Decode(tokens []int) string {
	runes := make([]rune, len(tokens))
	for i, t := range tokens {
		runes[i] = rune(t)
	}
	return string(runes)
}

func TestClient_GeneratePromptBudget(t *testing.T) {
	question := "Welche Dosierung gilt bei Niereninsuffizienz?"
	contextText := "[Chunk 1 - Page 3 - Similarity: 0.912]\n" + strings.Repeat("Tamoxifen 20 mg täglich. ", 40)
	scaffold := utf8.RuneCountInString(ask.BuildUserPrompt(question, ""))

	tests := []struct {
		name         string
		req          ask.GenerationRequest
		limit        int
		wantContains []string
		wantExact    string
	}{
		{
			name: "予算超過時はコンテキストだけを削り質問を残す",
			req: ask.GenerationRequest{
				UserPrompt: ask.BuildUserPrompt(question, contextText),
				Question:   question,
				Context:    contextText,
			},
			limit:        scaffold + 60,
			wantContains: []string{"[Chunk 1 - Page 3", "QUESTION: " + question, "ANSWER:"},
		},
		{
			name: "指示と質問だけで予算を超える場合はコンテキストを空にする",
			req: ask.GenerationRequest{
				UserPrompt: ask.BuildUserPrompt(question, contextText),
				Question:   question,
				Context:    contextText,
			},
			limit:     10,
			wantExact: ask.BuildUserPrompt(question, ""),
		},
		{
			name:      "予算内ならそのまま",
			req:       ask.GenerationRequest{UserPrompt: "kurz", Question: "kurz"},
			limit:     100,
			wantExact: "kurz",
		},
		{
			name:      "構成要素がなければ先頭から切り詰める",
			req:       ask.GenerationRequest{UserPrompt: "abcdefghij"},
			limit:     4,
			wantExact: "abcd",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body struct {
				Messages []struct {
					Content string `json:"content"`
				} `json:"messages"`
			}
			creds := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				writeJSON(w, http.StatusOK, completionResponse)
			})

			c, err := NewClient(creds, WithPromptTokenLimit(&TokenCounter{encoding: runeCodec{}}, tt.limit))
			require.NoError(t, err)

			_, err = c.Generate(context.Background(), tt.req)
			require.NoError(t, err)
			require.Len(t, body.Messages, 1)

			prompt := body.Messages[0].Content
			if tt.wantExact != "" {
				assert.Equal(t, tt.wantExact, prompt)
				return
			}
			for _, want := range tt.wantContains {
				assert.Contains(t, prompt, want)
			}
			assert.LessOrEqual(t, utf8.RuneCountInString(prompt), tt.limit)
			assert.True(t, strings.HasSuffix(prompt, "QUESTION: "+question+"\n\nANSWER:"))
		})
	}
}

func TestTokenCounter_NilIsNoop(t *testing.T) {
	var tc *TokenCounter
	assert.Equal(t, 0, tc.CountTokens("abc"))
	text, truncated := tc.Truncate("abc", 1)
	assert.Equal(t, "abc", text)
	assert.False(t, truncated)
}
