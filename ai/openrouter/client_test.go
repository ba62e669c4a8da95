package openrouter

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/missionctl/errors"
	mctltest "github.com/teranos/missionctl/internal/testing"
)

func completionHandler(t *testing.T, content string, check func(ChatCompletionRequest)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if check != nil {
			check(req)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ChatCompletionResponse{
			ID:      "cmpl-1",
			Model:   req.Model,
			Choices: []Choice{{Message: Message{Role: "assistant", Content: content}, FinishReason: "stop"}},
			Usage:   Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
		})
	}
}

func TestClientDefaults(t *testing.T) {
	client := NewClient(Config{APIKey: "test-key"})

	assert.Equal(t, DefaultModel, client.config.Model)
	assert.Equal(t, DefaultBaseURL, client.baseURL)
	assert.Equal(t, "openrouter", client.Provider())
	assert.Equal(t, 0.2, *client.config.Temperature)
	assert.Equal(t, 1000, *client.config.MaxTokens)
	assert.True(t, client.IsConfigured())

	assert.False(t, NewClient(Config{}).IsConfigured())
	assert.True(t, NewClient(Config{AllowNoKey: true, Provider: "local"}).IsConfigured())
}

func TestChat(t *testing.T) {
	t.Run("successful request", func(t *testing.T) {
		server := httptest.NewServer(completionHandler(t, "  assessed  ", func(req ChatCompletionRequest) {
			require.Len(t, req.Messages, 2)
			assert.Equal(t, "system", req.Messages[0].Role)
			assert.Equal(t, "user", req.Messages[1].Role)
		}))
		defer server.Close()

		client := NewClient(Config{APIKey: "test-key", BaseURL: server.URL})
		resp, err := client.Chat(context.Background(), ChatRequest{
			SystemPrompt: "You are Kirby, the research assistant",
			UserPrompt:   "Assess item r-1",
		})
		require.NoError(t, err)
		assert.Equal(t, "assessed", resp.Content)
		assert.Equal(t, 30, resp.Usage.TotalTokens)
	})

	t.Run("missing API key", func(t *testing.T) {
		_, err := NewClient(Config{}).Chat(context.Background(), ChatRequest{UserPrompt: "hi"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "API key not configured")
	})

	t.Run("request overrides", func(t *testing.T) {
		server := httptest.NewServer(completionHandler(t, "ok", func(req ChatCompletionRequest) {
			assert.Equal(t, 0.9, req.Temperature)
			assert.Equal(t, 500, req.MaxTokens)
			assert.Equal(t, "custom/model", req.Model)
		}))
		defer server.Close()

		temperature := 0.9
		maxTokens := 500
		model := "custom/model"
		client := NewClient(Config{APIKey: "test-key", BaseURL: server.URL})
		_, err := client.Chat(context.Background(), ChatRequest{
			UserPrompt:  "test",
			Temperature: &temperature,
			MaxTokens:   &maxTokens,
			Model:       &model,
		})
		require.NoError(t, err)
	})

	t.Run("empty choices", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(ChatCompletionResponse{})
		}))
		defer server.Close()

		_, err := NewClient(Config{APIKey: "k", BaseURL: server.URL}).Chat(context.Background(), ChatRequest{UserPrompt: "x"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no response choices")
	})

	t.Run("malformed JSON", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("invalid json"))
		}))
		defer server.Close()

		_, err := NewClient(Config{APIKey: "k", BaseURL: server.URL}).Chat(context.Background(), ChatRequest{UserPrompt: "x"})
		require.Error(t, err)
	})
}

func TestChatRateLimitIsNotRetried(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.Error(w, `{"error":"insufficient credits"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := NewClient(Config{APIKey: "k", BaseURL: server.URL}).Chat(context.Background(), ChatRequest{UserPrompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
	assert.EqualValues(t, 1, requests.Load())

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
}

func TestChatRetriesServerErrors(t *testing.T) {
	var requests atomic.Int32
	ok := completionHandler(t, "recovered", nil)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			http.Error(w, "bad gateway", http.StatusBadGateway)
			return
		}
		ok(w, r)
	}))
	defer server.Close()

	resp, err := NewClient(Config{APIKey: "k", BaseURL: server.URL}).Chat(context.Background(), ChatRequest{UserPrompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Content)
	assert.EqualValues(t, 2, requests.Load())
}

func TestChatTracksUsagePerJob(t *testing.T) {
	db := mctltest.CreateTestDB(t)
	server := httptest.NewServer(completionHandler(t, "done", nil))
	defer server.Close()

	client := NewClient(Config{APIKey: "k", BaseURL: server.URL, DB: db, OperationType: "job-engine"})
	_, err := client.Chat(context.Background(), ChatRequest{UserPrompt: "x", JobID: "job-42"})
	require.NoError(t, err)

	var jobID, provider string
	var tokens int
	var success bool
	err = db.QueryRow(`SELECT job_id, model_provider, tokens_used, success FROM ai_model_usage`).
		Scan(&jobID, &provider, &tokens, &success)
	require.NoError(t, err)
	assert.Equal(t, "job-42", jobID)
	assert.Equal(t, "openrouter", provider)
	assert.Equal(t, 30, tokens)
	assert.True(t, success)
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"dns timeout", &net.DNSError{Err: "no such host", IsTimeout: true}, true},
		{"dns failure", &net.DNSError{Err: "no such host"}, false},
		{"connection reset", errors.New("read: connection reset by peer"), true},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"i/o timeout", errors.New("i/o timeout"), true},
		{"server error", &APIError{StatusCode: 503}, true},
		{"rate limited", &APIError{StatusCode: 429}, false},
		{"unauthorized", &APIError{StatusCode: 401}, false},
		{"cancelled", context.Canceled, false},
		{"bad json", errors.New("invalid json"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, isRetryableError(tt.err))
		})
	}
}
