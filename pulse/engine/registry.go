package engine

import (
	"database/sql"

	"go.uber.org/zap"

	"github.com/teranos/missionctl/ai/provider"
	"github.com/teranos/missionctl/am"
	"github.com/teranos/missionctl/pulse/async"
	"github.com/teranos/missionctl/pulse/budget"
)

// llmEngines pairs each LLM engine with the provider serving it
var llmEngines = []struct {
	engine   async.EngineName
	provider provider.Provider
}{
	{async.EngineOpenRouter, provider.ProviderOpenRouter},
	{async.EngineAnthropic, provider.ProviderAnthropic},
	{async.EngineLocal, provider.ProviderLocal},
}

// NewRegistry registers the shell engine and every LLM engine from cfg.
// Each LLM engine gets its own per-minute quota in quotas.
func NewRegistry(cfg *am.Config, db *sql.DB, quotas *budget.Quotas, log *zap.SugaredLogger) (*async.EngineRegistry, error) {
	reg := async.NewEngineRegistry()

	shell, err := NewShellEngine(cfg.Engines.Shell.Interpreter, cfg.Engines.OutputRoot, log)
	if err != nil {
		return nil, err
	}
	reg.Register(shell)

	for _, le := range llmEngines {
		client, err := provider.NewAIClient(cfg, le.provider, provider.ClientConfig{DB: db, Logger: log})
		if err != nil {
			return nil, err
		}
		limiter := budget.NewLimiter(string(le.engine), cfg.Engines.CallsPerMinute)
		if quotas != nil {
			quotas.Add(limiter)
		}
		reg.Register(NewLLMEngine(le.engine, client, limiter, cfg.Engines.OutputRoot, log))
	}
	return reg, nil
}
