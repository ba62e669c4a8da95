// Package provider builds the LLM completion client behind each LLM engine.
package provider

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/missionctl/ai/anthropic"
	"github.com/teranos/missionctl/ai/openrouter"
	"github.com/teranos/missionctl/am"
	"github.com/teranos/missionctl/errors"
)

// Provider names an LLM backend. Values match the LLM engine names.
type Provider string

const (
	// ProviderOpenRouter is the general-purpose gateway
	ProviderOpenRouter Provider = "openrouter"
	// ProviderAnthropic is the direct Anthropic API
	ProviderAnthropic Provider = "anthropic"
	// ProviderLocal is an OpenAI-compatible local server (Ollama, LocalAI)
	ProviderLocal Provider = "local"
)

// OperationJobEngine tags usage rows written while running jobs
const OperationJobEngine = "job-engine"

// AIClient is the completion contract every provider satisfies
type AIClient interface {
	Chat(ctx context.Context, req openrouter.ChatRequest) (*openrouter.ChatResponse, error)
}

// ClientConfig is shared by every client the factory builds
type ClientConfig struct {
	DB            *sql.DB
	Logger        *zap.SugaredLogger
	OperationType string
}

// NewAIClient builds the client for one provider from am.Config
func NewAIClient(cfg *am.Config, provider Provider, clientCfg ClientConfig) (AIClient, error) {
	if clientCfg.OperationType == "" {
		clientCfg.OperationType = OperationJobEngine
	}

	switch provider {
	case ProviderOpenRouter:
		or := cfg.Engines.OpenRouter
		return openrouter.NewClient(openrouter.Config{
			APIKey:        or.APIKey,
			Model:         or.Model,
			Temperature:   or.Temperature,
			MaxTokens:     or.MaxTokens,
			Logger:        clientCfg.Logger,
			DB:            clientCfg.DB,
			OperationType: clientCfg.OperationType,
		}), nil
	case ProviderAnthropic:
		an := cfg.Engines.Anthropic
		return anthropic.NewClient(anthropic.Config{
			APIKey:        an.APIKey,
			Model:         an.Model,
			MaxTokens:     an.MaxTokens,
			Logger:        clientCfg.Logger,
			DB:            clientCfg.DB,
			OperationType: clientCfg.OperationType,
		}), nil
	case ProviderLocal:
		return NewLocalClient(cfg.Engines.Local, clientCfg), nil
	default:
		return nil, errors.NewInvalidRequestError("unknown LLM provider %q (valid: openrouter, anthropic, local)", provider)
	}
}

// ParseProvider accepts provider names and their common aliases
func ParseProvider(s string) (Provider, error) {
	switch s {
	case "local", "ollama", "localai":
		return ProviderLocal, nil
	case "openrouter", "or":
		return ProviderOpenRouter, nil
	case "anthropic", "claude":
		return ProviderAnthropic, nil
	default:
		return "", errors.NewInvalidRequestError("unknown provider: %s (valid: local, openrouter, anthropic)", s)
	}
}

// GetAvailableProviders lists providers that can serve requests right now.
// Local counts as available whenever a base URL is configured.
func GetAvailableProviders(cfg *am.Config) []Provider {
	var providers []Provider
	if cfg.Engines.OpenRouter.APIKey != "" {
		providers = append(providers, ProviderOpenRouter)
	}
	if cfg.Engines.Anthropic.APIKey != "" {
		providers = append(providers, ProviderAnthropic)
	}
	if cfg.Engines.Local.BaseURL != "" {
		providers = append(providers, ProviderLocal)
	}
	return providers
}

func timeoutSeconds(s int) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s) * time.Second
}

var (
	_ AIClient = (*openrouter.Client)(nil)
	_ AIClient = (*anthropic.Client)(nil)
)
