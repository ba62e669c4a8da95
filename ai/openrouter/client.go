// Package openrouter talks to OpenRouter.ai, the general-purpose LLM engine,
// and to any server speaking the same chat completions dialect.
package openrouter

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/missionctl/ai/tracker"
	"github.com/teranos/missionctl/errors"
)

const (
	// DefaultModel matches engines.openrouter.model in am/defaults.go
	DefaultModel = "openai/gpt-4o-mini"

	// DefaultBaseURL is the OpenRouter API root
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	maxAttempts = 3
)

// Client is an OpenRouter chat completions client with usage tracking
type Client struct {
	baseURL      string
	httpClient   *http.Client
	config       Config
	usageTracker *tracker.UsageTracker
	logger       *zap.SugaredLogger
}

// Config holds client configuration
type Config struct {
	APIKey        string
	BaseURL       string   // empty = DefaultBaseURL
	Provider      string   // recorded as model_provider, empty = "openrouter"
	Model         string   // empty = DefaultModel
	Temperature   *float64 // nil = 0.2
	MaxTokens     *int     // nil = 1000
	Timeout       time.Duration
	Logger        *zap.SugaredLogger // nil = nop
	DB            *sql.DB            // usage tracking, nil disables it
	OperationType string             // e.g. "job-engine"
	AllowNoKey    bool               // local servers accept anonymous requests
}

// NewClient creates a client, filling in defaults
func NewClient(config Config) *Client {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Provider == "" {
		config.Provider = "openrouter"
	}
	if config.Temperature == nil {
		defaultTemp := 0.2
		config.Temperature = &defaultTemp
	}
	if config.MaxTokens == nil {
		defaultTokens := 1000
		config.MaxTokens = &defaultTokens
	}
	if config.Timeout <= 0 {
		config.Timeout = 120 * time.Second
	}

	var usageTracker *tracker.UsageTracker
	if config.DB != nil {
		usageTracker = tracker.NewUsageTracker(config.DB)
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Client{
		baseURL:      strings.TrimRight(config.BaseURL, "/"),
		httpClient:   &http.Client{Timeout: config.Timeout},
		config:       config,
		usageTracker: usageTracker,
		logger:       logger,
	}
}

// ChatCompletionRequest is the wire request of the chat completions endpoint
type ChatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// ChatRequest is a provider-neutral completion request
type ChatRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  *float64 // overrides the client default
	MaxTokens    *int     // overrides the client default
	Model        *string  // overrides the client default
	JobID        string   // links the ai_model_usage row to a job
}

// ChatResponse is a provider-neutral completion response
type ChatResponse struct {
	Content string
	Model   string
	Usage   Usage
}

// Message is a single chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionResponse is the wire response of the chat completions endpoint
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Choice is one completion choice
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage is token usage as reported by the provider
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// APIError is a non-200 response. Its message keeps the "status NNN" form
// that outcome classification keys on.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API request failed with status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether another attempt could succeed. 429 is not
// retried here: the job is parked as quota-exhausted instead.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500
}

// CreateChatCompletion sends one chat completion request
func (c *Client) CreateChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	if c.config.OperationType != "" {
		httpReq.Header.Set("X-Title", "mctl/"+c.config.OperationType)
	} else {
		httpReq.Header.Set("X-Title", "mctl")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var chatResp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal response")
	}

	return &chatResp, nil
}

// Chat sends a completion request, retrying transient failures
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if !c.IsConfigured() {
		return nil, errors.WithHint(
			errors.Newf("%s API key not configured", c.config.Provider),
			"set engines.openrouter.api_key or OPENROUTER_API_KEY")
	}

	temperature := *c.config.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := *c.config.MaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	model := c.config.Model
	if req.Model != nil {
		model = *req.Model
	}

	messages := []Message{{Role: "user", Content: req.UserPrompt}}
	if req.SystemPrompt != "" {
		messages = append([]Message{{Role: "system", Content: req.SystemPrompt}}, messages...)
	}

	wireReq := ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}

	requestTime := time.Now()
	var resp *ChatCompletionResponse
	var err error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * time.Second
			c.logger.Debugw("Retrying chat request",
				"provider", c.config.Provider, "attempt", attempt, "delay", delay)
			select {
			case <-ctx.Done():
				err = errors.Wrap(ctx.Err(), "chat request abandoned")
				c.trackFailure(ctx, req.JobID, requestTime, model, temperature, maxTokens, err)
				return nil, err
			case <-time.After(delay):
			}
		}

		resp, err = c.CreateChatCompletion(ctx, wireReq)
		if err == nil {
			break
		}

		c.logger.Warnw("Chat request failed",
			"provider", c.config.Provider,
			"attempt", attempt+1,
			"model", model,
			"error", err)

		if !isRetryableError(err) {
			c.trackFailure(ctx, req.JobID, requestTime, model, temperature, maxTokens, err)
			return nil, errors.Wrapf(err, "%s API error", c.config.Provider)
		}
	}

	if err != nil {
		c.trackFailure(ctx, req.JobID, requestTime, model, temperature, maxTokens, err)
		return nil, errors.Wrapf(err, "%s API error after %d attempts", c.config.Provider, maxAttempts)
	}

	if len(resp.Choices) == 0 {
		err := errors.Newf("no response choices from %s", c.config.Provider)
		c.trackFailure(ctx, req.JobID, requestTime, model, temperature, maxTokens, err)
		return nil, err
	}

	if c.usageTracker != nil {
		responseTime := time.Now()
		tokensUsed := resp.Usage.TotalTokens
		cost := 0.0
		if c.config.Provider == "openrouter" {
			cost = CalculateCost(model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		}
		usage := &tracker.ModelUsage{
			OperationType:     c.config.OperationType,
			JobID:             req.JobID,
			ModelName:         model,
			ModelProvider:     c.config.Provider,
			ModelConfig:       tracker.NewModelConfig(&temperature, &maxTokens),
			RequestTimestamp:  requestTime,
			ResponseTimestamp: &responseTime,
			TokensUsed:        &tokensUsed,
			Cost:              &cost,
			Success:           true,
		}
		if err := c.usageTracker.TrackUsage(ctx, usage); err != nil {
			c.logger.Warnw("Failed to track usage", "error", err, "model", model)
		}
	}

	return &ChatResponse{
		Content: strings.TrimSpace(resp.Choices[0].Message.Content),
		Model:   model,
		Usage:   resp.Usage,
	}, nil
}

// IsConfigured reports whether the client can make requests
func (c *Client) IsConfigured() bool {
	return c.config.APIKey != "" || c.config.AllowNoKey
}

// Provider returns the provider name recorded in usage rows
func (c *Client) Provider() string {
	return c.config.Provider
}

// SetHTTPClient overrides the HTTP client, for tests
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

func (c *Client) trackFailure(ctx context.Context, jobID string, requestTime time.Time, model string, temperature float64, maxTokens int, err error) {
	if c.usageTracker == nil {
		return
	}

	responseTime := time.Now()
	errMsg := err.Error()
	usage := &tracker.ModelUsage{
		OperationType:     c.config.OperationType,
		JobID:             jobID,
		ModelName:         model,
		ModelProvider:     c.config.Provider,
		ModelConfig:       tracker.NewModelConfig(&temperature, &maxTokens),
		RequestTimestamp:  requestTime,
		ResponseTimestamp: &responseTime,
		Success:           false,
		ErrorMessage:      &errMsg,
	}

	// The caller's context may already be cancelled; the row still matters
	if trackErr := c.usageTracker.TrackUsage(context.WithoutCancel(ctx), usage); trackErr != nil {
		c.logger.Warnw("Failed to track failed request", "error", trackErr, "model", model)
	}
}

// isRetryableError reports transient network failures and 5xx responses
func isRetryableError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ETIMEDOUT:
			return true
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, fragment := range []string{
		"connection reset by peer",
		"connection refused",
		"temporary failure",
		"network is unreachable",
		"i/o timeout",
	} {
		if strings.Contains(errStr, fragment) {
			return true
		}
	}
	return false
}
