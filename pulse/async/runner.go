package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teranos/missionctl/errors"
	"github.com/teranos/missionctl/logger"
)

// MaxBatchSize caps how many jobs one RunBatch call claims
const MaxBatchSize = 5

// SettingsSource yields the settings snapshot for one claim
type SettingsSource interface {
	Snapshot(ctx context.Context) (Settings, error)
}

// StaticSettings is a SettingsSource that always returns itself
type StaticSettings Settings

// Snapshot implements SettingsSource
func (s StaticSettings) Snapshot(context.Context) (Settings, error) {
	return Settings(s), nil
}

// FinishHook is called after a job's outcome has been written
type FinishHook func(ctx context.Context, job *Job)

// RunResult reports one claim attempt
type RunResult struct {
	Claimed bool     `json:"claimed"`
	Job     *Job     `json:"job,omitempty"`
	Outcome *Outcome `json:"outcome,omitempty"`
}

// Runner claims a job, executes it outside of any lock and writes back the outcome
type Runner struct {
	queue    *Queue
	settings SettingsSource
	engines  *EngineRegistry
	logger   *zap.SugaredLogger

	// EngineTimeout bounds one engine invocation. Zero means no bound.
	EngineTimeout time.Duration

	mu    sync.RWMutex
	hooks []FinishHook
}

// NewRunner creates a runner
func NewRunner(queue *Queue, settings SettingsSource, engines *EngineRegistry, log *zap.SugaredLogger) *Runner {
	if log == nil {
		log = logger.Logger
	}
	return &Runner{
		queue:    queue,
		settings: settings,
		engines:  engines,
		logger:   logger.AddPulseSymbol(log.Named("runner")),
	}
}

// Queue returns the runner's queue
func (r *Runner) Queue() *Queue {
	return r.queue
}

// Engines returns the engine registry
func (r *Runner) Engines() *EngineRegistry {
	return r.engines
}

// OnFinish registers a hook run after every written outcome
func (r *Runner) OnFinish(hook FinishHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, hook)
}

// RunOnce claims the next job and runs it to a terminal status.
// Nothing to claim is not an error: the result reports Claimed=false.
func (r *Runner) RunOnce(ctx context.Context) (*RunResult, error) {
	settings, err := r.settings.Snapshot(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read runtime settings")
	}

	job, err := r.queue.ClaimNext(ctx, settings)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return &RunResult{Claimed: false}, nil
	}
	return r.execute(ctx, job)
}

// RunJob claims a specific job and runs it. A job that was not claimable
// (wrong status, lost race, paused) yields Claimed=false.
func (r *Runner) RunJob(ctx context.Context, id string) (*RunResult, error) {
	settings, err := r.settings.Snapshot(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read runtime settings")
	}

	job, err := r.queue.ClaimJob(ctx, id, settings)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return &RunResult{Claimed: false}, nil
	}
	return r.execute(ctx, job)
}

// RunBatch fires up to MaxBatchSize RunOnce calls concurrently and returns
// the results of those that claimed a job. One failing claim does not stop the others.
func (r *Runner) RunBatch(ctx context.Context, n int) ([]*RunResult, error) {
	if n < 1 {
		n = 1
	}
	if n > MaxBatchSize {
		n = MaxBatchSize
	}

	results := make([]*RunResult, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			res, err := r.RunOnce(ctx)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	err := g.Wait()

	claimed := make([]*RunResult, 0, n)
	for _, res := range results {
		if res != nil && res.Claimed {
			claimed = append(claimed, res)
		}
	}
	return claimed, err
}

func (r *Runner) execute(ctx context.Context, job *Job) (*RunResult, error) {
	runCtx := logger.WithJobID(ctx, job.ID)
	log := r.logger.With(logger.FieldsFromContext(runCtx)...).With(logger.FieldEngine, job.Engine)
	log.Infow("Job claimed", logger.FieldPriority, job.Priority)

	cancel := func() {}
	if r.EngineTimeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, r.EngineTimeout)
	}
	start := time.Now()
	outcome := r.safeRun(runCtx, job)
	cancel()

	if outcome.Status != OutcomeOK {
		switch {
		case ctx.Err() != nil:
			outcome = FailedOutcome("runner shutdown before job finished")
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			outcome = FailedOutcome("engine timed out after %s", r.EngineTimeout)
		}
	}

	// The outcome must land even when the caller is going away
	finished, err := r.queue.Finish(context.WithoutCancel(ctx), job.ID, outcome)
	if err != nil {
		if errors.IsConflictError(err) {
			log.Warnw("Job left running state before its outcome was written", logger.FieldError, err)
			return &RunResult{Claimed: true, Job: job, Outcome: &outcome}, nil
		}
		return nil, errors.Wrapf(err, "failed to finish job %s", job.ID)
	}

	log.Infow("Job finished",
		logger.FieldStatus, finished.Status,
		logger.FieldOutcome, outcome.Status,
		logger.FieldDurationMS, time.Since(start).Milliseconds())

	r.mu.RLock()
	hooks := append([]FinishHook(nil), r.hooks...)
	r.mu.RUnlock()
	for _, hook := range hooks {
		hook(context.WithoutCancel(ctx), finished)
	}

	return &RunResult{Claimed: true, Job: finished, Outcome: &outcome}, nil
}

// safeRun turns an engine panic into a failed outcome
func (r *Runner) safeRun(ctx context.Context, job *Job) (outcome Outcome) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Errorw("Engine panicked",
				logger.FieldJobID, job.ID,
				"panic", p,
				"stack", string(debug.Stack()))
			outcome = FailedOutcome("engine panic: %s", fmt.Sprint(p))
		}
	}()
	return r.engines.Run(ctx, job)
}
