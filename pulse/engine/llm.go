package engine

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/missionctl/ai/openrouter"
	"github.com/teranos/missionctl/ai/provider"
	"github.com/teranos/missionctl/internal/util"
	"github.com/teranos/missionctl/logger"
	"github.com/teranos/missionctl/pulse/async"
	"github.com/teranos/missionctl/pulse/budget"
)

// MaxResultBytes bounds the completion text stored on the job row.
// The full text is in the job's .md file.
const MaxResultBytes = 4000

// LLMEngine runs a job's prompt through one completion provider
type LLMEngine struct {
	name       async.EngineName
	client     provider.AIClient
	limiter    *budget.Limiter
	outputRoot string
	logger     *zap.SugaredLogger

	// SystemPrompt is sent with every job; empty sends none
	SystemPrompt string
}

// NewLLMEngine wraps client as the engine called name. limiter may be nil.
func NewLLMEngine(name async.EngineName, client provider.AIClient, limiter *budget.Limiter, outputRoot string, log *zap.SugaredLogger) *LLMEngine {
	if log == nil {
		log = logger.Logger
	}
	return &LLMEngine{
		name:       name,
		client:     client,
		limiter:    limiter,
		outputRoot: outputRoot,
		logger:     log.Named(string(name)),
	}
}

// Name implements async.EngineRunner
func (e *LLMEngine) Name() async.EngineName {
	return e.name
}

// Run implements async.EngineRunner
func (e *LLMEngine) Run(ctx context.Context, job *async.Job) async.Outcome {
	if job.Prompt == "" {
		return async.FailedOutcome("job has no prompt")
	}
	if e.limiter != nil {
		if err := e.limiter.Allow(); err != nil {
			e.logger.Warnw("Engine quota spent", logger.FieldJobID, job.ID, logger.FieldError, err)
			return async.OutcomeForError("budget", err)
		}
	}

	start := time.Now()
	resp, err := e.client.Chat(ctx, openrouter.ChatRequest{
		SystemPrompt: e.SystemPrompt,
		UserPrompt:   job.Prompt,
		JobID:        job.ID,
	})
	if err != nil {
		return async.OutcomeForError(string(e.name), err)
	}

	outcome := async.Outcome{
		Status: async.OutcomeOK,
		Result: util.Truncate(resp.Content, MaxResultBytes),
	}

	outDir := OutputDir(e.outputRoot, job)
	path := filepath.Join(outDir, job.ID+".md")
	if err := os.MkdirAll(outDir, 0755); err != nil {
		e.logger.Warnw("Failed to create output directory", logger.FieldJobID, job.ID, logger.FieldError, err)
	} else if err := os.WriteFile(path, []byte(resp.Content+"\n"), 0644); err != nil {
		e.logger.Warnw("Failed to write completion", logger.FieldJobID, job.ID, logger.FieldError, err)
	} else {
		outcome.LogRef = path
	}

	e.logger.With(logger.FieldsFromContext(ctx)...).Debugw("Completion finished",
		"tokens", resp.Usage.TotalTokens,
		logger.FieldDurationMS, time.Since(start).Milliseconds())
	return outcome
}

// OutputDir is where a job's artifacts go: its own output_dir, else the
// configured root, else the working directory.
func OutputDir(root string, job *async.Job) string {
	if job.OutputDir != "" {
		return job.OutputDir
	}
	if root != "" {
		return root
	}
	return "."
}
