// Package anthropic is a client for the Anthropic Messages API
package anthropic

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/missionctl/ai/openrouter"
	"github.com/teranos/missionctl/ai/tracker"
	"github.com/teranos/missionctl/errors"
)

const (
	// DefaultModel matches engines.anthropic.model in am/defaults.go
	DefaultModel = "claude-3-5-haiku-latest"

	// BaseURL is the Anthropic API endpoint
	BaseURL = "https://api.anthropic.com/v1"

	// APIVersion is the required anthropic-version header
	APIVersion = "2023-06-01"

	providerName = "anthropic"
	maxAttempts  = 3
)

// Client is an Anthropic API client
type Client struct {
	baseURL      string
	httpClient   *http.Client
	config       Config
	usageTracker *tracker.UsageTracker
	logger       *zap.SugaredLogger
}

// Config holds Anthropic client configuration
type Config struct {
	APIKey        string
	BaseURL       string // empty = BaseURL
	Model         string
	Temperature   float64
	MaxTokens     int
	Timeout       time.Duration
	Logger        *zap.SugaredLogger
	DB            *sql.DB
	OperationType string
}

// NewClient creates a new Anthropic API client
func NewClient(config Config) *Client {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.BaseURL == "" {
		config.BaseURL = BaseURL
	}
	if config.Temperature == 0 {
		config.Temperature = 0.2
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 1024
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

// MessagesRequest is a Messages API request
type MessagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Messages    []Message `json:"messages"`
	System      string    `json:"system,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// Message is a conversation turn
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// MessagesResponse is a Messages API response
type MessagesResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Content    []ContentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// ContentBlock is one block of response content
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Usage is token usage as reported by the API
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Chat implements provider.AIClient
func (c *Client) Chat(ctx context.Context, req openrouter.ChatRequest) (*openrouter.ChatResponse, error) {
	if c.config.APIKey == "" {
		return nil, errors.WithHint(
			errors.New("Anthropic API key not configured"),
			"set engines.anthropic.api_key or ANTHROPIC_API_KEY")
	}

	temperature := c.config.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := c.config.MaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	model := c.config.Model
	if req.Model != nil {
		model = *req.Model
	}

	wireReq := MessagesRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		System:      req.SystemPrompt,
		Messages:    []Message{{Role: "user", Content: req.UserPrompt}},
	}

	requestTime := time.Now()
	var resp *MessagesResponse
	var err error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				err = errors.Wrap(ctx.Err(), "chat request abandoned")
				c.trackFailure(ctx, req.JobID, requestTime, model, temperature, maxTokens, err)
				return nil, err
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		resp, err = c.createMessages(ctx, wireReq)
		if err == nil {
			break
		}

		c.logger.Warnw("Anthropic request failed", "attempt", attempt+1, "model", model, "error", err)

		if !isRetryableError(err) {
			c.trackFailure(ctx, req.JobID, requestTime, model, temperature, maxTokens, err)
			return nil, errors.Wrap(err, "Anthropic API error")
		}
	}

	if err != nil {
		c.trackFailure(ctx, req.JobID, requestTime, model, temperature, maxTokens, err)
		return nil, errors.Wrapf(err, "Anthropic API error after %d attempts", maxAttempts)
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	totalTokens := resp.Usage.InputTokens + resp.Usage.OutputTokens
	if c.usageTracker != nil {
		responseTime := time.Now()
		cost := CalculateCost(model, resp.Usage.InputTokens, resp.Usage.OutputTokens)
		usage := &tracker.ModelUsage{
			OperationType:     c.config.OperationType,
			JobID:             req.JobID,
			ModelName:         model,
			ModelProvider:     providerName,
			ModelConfig:       tracker.NewModelConfig(&temperature, &maxTokens),
			RequestTimestamp:  requestTime,
			ResponseTimestamp: &responseTime,
			TokensUsed:        &totalTokens,
			Cost:              &cost,
			Success:           true,
		}
		if err := c.usageTracker.TrackUsage(ctx, usage); err != nil {
			c.logger.Warnw("Failed to track usage", "error", err, "model", model)
		}
	}

	return &openrouter.ChatResponse{
		Content: strings.TrimSpace(content.String()),
		Model:   model,
		Usage: openrouter.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      totalTokens,
		},
	}, nil
}

func (c *Client) createMessages(ctx context.Context, req MessagesRequest) (*MessagesResponse, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(reqBody))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.config.APIKey)
	httpReq.Header.Set("anthropic-version", APIVersion)

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
		return nil, &openrouter.APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var messagesResp MessagesResponse
	if err := json.Unmarshal(respBody, &messagesResp); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal response")
	}
	return &messagesResp, nil
}

// IsConfigured returns true if the client has an API key
func (c *Client) IsConfigured() bool {
	return c.config.APIKey != ""
}

// Provider returns the provider name recorded in usage rows
func (c *Client) Provider() string {
	return providerName
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
		ModelProvider:     providerName,
		ModelConfig:       tracker.NewModelConfig(&temperature, &maxTokens),
		RequestTimestamp:  requestTime,
		ResponseTimestamp: &responseTime,
		Success:           false,
		ErrorMessage:      &errMsg,
	}
	if trackErr := c.usageTracker.TrackUsage(context.WithoutCancel(ctx), usage); trackErr != nil {
		c.logger.Warnw("Failed to track failed request", "error", trackErr, "model", model)
	}
}

// isRetryableError retries 5xx (529 is "overloaded") and network blips
func isRetryableError(err error) bool {
	var apiErr *openrouter.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	errStr := strings.ToLower(err.Error())
	for _, fragment := range []string{
		"connection reset by peer",
		"connection refused",
		"i/o timeout",
		"network is unreachable",
		"overloaded",
	} {
		if strings.Contains(errStr, fragment) {
			return true
		}
	}
	return false
}
