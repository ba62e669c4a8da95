package provider

import (
	"strings"

	"github.com/teranos/missionctl/ai/openrouter"
	"github.com/teranos/missionctl/am"
)

// NewLocalClient points the chat completions client at a local server.
// Ollama and LocalAI serve the OpenAI dialect under /v1 without a key.
func NewLocalClient(cfg am.LocalConfig, clientCfg ClientConfig) *openrouter.Client {
	return openrouter.NewClient(openrouter.Config{
		BaseURL:       localBaseURL(cfg.BaseURL),
		Provider:      string(ProviderLocal),
		Model:         cfg.Model,
		Timeout:       timeoutSeconds(cfg.TimeoutSeconds),
		Logger:        clientCfg.Logger,
		DB:            clientCfg.DB,
		OperationType: clientCfg.OperationType,
		AllowNoKey:    true,
	})
}

func localBaseURL(base string) string {
	base = strings.TrimRight(base, "/")
	if strings.HasSuffix(base, "/v1") {
		return base
	}
	return base + "/v1"
}
