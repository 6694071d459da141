package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkdrift/aicore/ai"
	"github.com/inkdrift/aicore/aierr"
)

func testProvider(endpoint string) ai.Provider {
	return ai.Provider{
		ID:       "test",
		Name:     "Test Provider",
		Endpoint: endpoint,
		APIKey:   "sk-test-key",
	}
}

func testModel() ai.ModelConfig {
	return ai.ModelConfig{
		Name:        "gpt-4o-mini",
		Temperature: 0.7,
		TopP:        1,
		APIFormat:   ai.FormatChatCompletions,
	}
}

func chatBody(content string) string {
	return `{"choices":[{"message":{"content":"` + content + `"}}],"usage":{"prompt_tokens":3,"completion_tokens":5}}`
}

func TestClient_Request(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(chatBody("The answer")))
	}))
	defer srv.Close()

	c := New(testProvider(srv.URL), testModel())
	result, err := c.Request(context.Background(), ai.RequestOptions{
		Prompt:       "What is the answer?",
		SystemPrompt: "You are terse.",
	})
	require.NoError(t, err)

	assert.Equal(t, "The answer", result.Content)
	require.NotNil(t, result.Usage)
	assert.Equal(t, 3, result.Usage.InputTokens)
	assert.Equal(t, 5, result.Usage.OutputTokens)

	assert.Equal(t, "/v1/chat/completions", gotPath)
	assert.Equal(t, "Bearer sk-test-key", gotAuth)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	assert.Equal(t, "gpt-4o-mini", payload["model"])
	assert.Equal(t, false, payload["stream"])
}

func TestClient_RequestExtractsThinking(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(chatBody(`<think>pondering</think>Answer`)))
	}))
	defer srv.Close()

	c := New(testProvider(srv.URL), testModel())
	result, err := c.Request(context.Background(), ai.RequestOptions{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Answer", result.Content)
	assert.Equal(t, "pondering", result.ReasoningSummary)
}

type titleSuggestion struct {
	Title string `json:"title"`
}

func TestClient_RequestStructuredOutput(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(chatBody(`{\"title\":\"Notes\"}`)))
	}))
	defer srv.Close()

	c := New(testProvider(srv.URL), testModel())
	_, err := c.Request(context.Background(), ai.RequestOptions{
		Prompt:         "title this",
		ResponseSchema: &titleSuggestion{},
	})
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	format, ok := payload["response_format"].(map[string]any)
	require.True(t, ok, "payload should carry response_format")
	assert.Equal(t, "json_schema", format["type"])

	jsonSchema := format["json_schema"].(map[string]any)
	assert.Equal(t, "titleSuggestion", jsonSchema["name"])
	assert.Equal(t, true, jsonSchema["strict"])

	inner := jsonSchema["schema"].(map[string]any)
	assert.ElementsMatch(t, []any{"title"}, inner["required"].([]any))
}

func TestClient_StatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantKind  aierr.Kind
		wantRetry bool
	}{
		{
			name:     "unauthorized",
			status:   http.StatusUnauthorized,
			body:     `{"error":{"message":"invalid key"}}`,
			wantKind: aierr.KindInvalidAPIKey,
		},
		{
			name:     "forbidden",
			status:   http.StatusForbidden,
			wantKind: aierr.KindInvalidAPIKey,
		},
		{
			name:     "not found",
			status:   http.StatusNotFound,
			wantKind: aierr.KindInvalidEndpoint,
		},
		{
			name:      "server error",
			status:    http.StatusInternalServerError,
			wantKind:  aierr.KindRequestFailed,
			wantRetry: true,
		},
		{
			name:      "service unavailable",
			status:    http.StatusServiceUnavailable,
			wantKind:  aierr.KindRequestFailed,
			wantRetry: true,
		},
		{
			name:     "bad request",
			status:   http.StatusBadRequest,
			wantKind: aierr.KindRequestFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := New(testProvider(srv.URL), testModel())
			_, err := c.Request(context.Background(), ai.RequestOptions{Prompt: "hi"})
			require.Error(t, err)

			var aiErr *aierr.Error
			require.ErrorAs(t, err, &aiErr)
			assert.Equal(t, tt.wantKind, aiErr.Kind)
			assert.Equal(t, tt.wantRetry, aiErr.Retryable)
			if tt.body != "" {
				assert.Equal(t, "invalid key", aiErr.Message)
			}
		})
	}
}

func TestClient_RequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(chatBody("too late")))
	}))
	defer srv.Close()

	c := New(testProvider(srv.URL), testModel(), WithTimeout(20*time.Millisecond))
	_, err := c.Request(context.Background(), ai.RequestOptions{Prompt: "hi"})
	require.Error(t, err)

	var aiErr *aierr.Error
	require.ErrorAs(t, err, &aiErr)
	assert.Equal(t, aierr.KindTimeout, aiErr.Kind)
	assert.True(t, aiErr.Retryable)
	assert.Equal(t, 20*time.Millisecond, aiErr.Duration)
}

func TestClient_ValidationFailures(t *testing.T) {
	tests := []struct {
		name     string
		provider ai.Provider
		model    ai.ModelConfig
		wantKind aierr.Kind
	}{
		{
			name:     "no provider",
			provider: ai.Provider{},
			model:    testModel(),
			wantKind: aierr.KindNoProvider,
		},
		{
			name:     "empty api key",
			provider: ai.Provider{ID: "p", Endpoint: "https://api.example.com"},
			model:    testModel(),
			wantKind: aierr.KindInvalidAPIKey,
		},
		{
			name:     "empty endpoint",
			provider: ai.Provider{ID: "p", APIKey: "sk-x"},
			model:    testModel(),
			wantKind: aierr.KindInvalidEndpoint,
		},
		{
			name:     "empty model name",
			provider: testProvider("https://api.example.com"),
			model:    ai.ModelConfig{APIFormat: ai.FormatChatCompletions},
			wantKind: aierr.KindInvalidModel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.provider, tt.model)
			_, err := c.Request(context.Background(), ai.RequestOptions{Prompt: "hi"})
			assert.True(t, aierr.IsKind(err, tt.wantKind), "got %v", err)
		})
	}
}

func TestClient_ValidationFailuresReachStreamCallbacks(t *testing.T) {
	c := New(ai.Provider{}, testModel())

	var got error
	c.RequestStream(context.Background(), ai.RequestOptions{Prompt: "hi"}, ai.StreamCallbacks{
		OnError: func(err error) { got = err },
	})
	assert.True(t, aierr.IsKind(got, aierr.KindNoProvider))
}

func TestClient_RequestStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, true, payload["stream"])

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, line := range []string{
			`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
			`data: {"choices":[{"delta":{"content":"lo"}}]}`,
			`data: [DONE]`,
		} {
			_, _ = io.WriteString(w, line+"\n\n")
			flusher.Flush()
		}
	}))
	defer srv.Close()

	var chunks []string
	var aggregate string
	var streamErr error
	c := New(testProvider(srv.URL), testModel())
	c.RequestStream(context.Background(), ai.RequestOptions{Prompt: "hi"}, ai.StreamCallbacks{
		OnChunk:    func(s string) { chunks = append(chunks, s) },
		OnComplete: func(s string) { aggregate = s },
		OnError:    func(err error) { streamErr = err },
	})

	require.NoError(t, streamErr)
	assert.Equal(t, "Hello", aggregate)
	assert.NotEmpty(t, chunks)
}

func TestClient_CancelMidStream(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		flusher.Flush()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := New(testProvider(srv.URL), testModel())

	var streamErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.RequestStream(context.Background(), ai.RequestOptions{Prompt: "hi"}, ai.StreamCallbacks{
			OnChunk: func(s string) {
				if s == "Hel" {
					c.Cancel()
				}
			},
			OnError: func(err error) { streamErr = err },
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not stop after Cancel")
	}

	require.Error(t, streamErr)
	var aiErr *aierr.Error
	require.ErrorAs(t, streamErr, &aiErr)
	assert.Equal(t, aierr.KindStreamInterrupted, aiErr.Kind)
	assert.Equal(t, "Hel", aiErr.Partial)
}

func TestClient_CancelWithoutActiveRequest(t *testing.T) {
	c := New(testProvider("https://api.example.com"), testModel())
	assert.NotPanics(t, func() {
		c.Cancel()
		c.Cancel()
	})
}

func TestClient_ListModels(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"data":[{"id":"gpt-4o"},{"id":"gpt-4o-mini"}]}`))
	}))
	defer srv.Close()

	c := New(testProvider(srv.URL), testModel())
	models, err := c.ListModels(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "/v1/models", gotPath)
	assert.Equal(t, []ai.ModelInfo{{ID: "gpt-4o"}, {ID: "gpt-4o-mini"}}, models)
}

func TestClient_ListModelsUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(testProvider(srv.URL), testModel())
	_, err := c.ListModels(context.Background())
	assert.True(t, aierr.IsKind(err, aierr.KindInvalidAPIKey))
}

func TestClient_NetworkErrorClassified(t *testing.T) {
	// Port from a closed listener: connection refused.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := New(testProvider(url), testModel())
	_, err := c.Request(context.Background(), ai.RequestOptions{Prompt: "hi"})
	require.Error(t, err)
	assert.True(t, aierr.IsKind(err, aierr.KindNetworkError), "got %v", err)
	assert.True(t, aierr.IsRetryable(err))
}
