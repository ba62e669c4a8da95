package async

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// EngineRunner executes one job and reports a normalized outcome.
// Implementations never return an error: every failure is an Outcome with
// status failed and error text, so the lifecycle always has something to persist.
//
// Runners must honor ctx; a cancelled or timed-out run is reported as failed.
type EngineRunner interface {
	Name() EngineName
	Run(ctx context.Context, job *Job) Outcome
}

// EngineRegistry maps engine names to runners.
// Thread-safe for concurrent registration and lookup.
type EngineRegistry struct {
	engines map[EngineName]EngineRunner
	mu      sync.RWMutex
}

// NewEngineRegistry creates an empty engine registry.
func NewEngineRegistry() *EngineRegistry {
	return &EngineRegistry{
		engines: make(map[EngineName]EngineRunner),
	}
}

// Register adds a runner under its name.
// Panics if a runner is already registered with that name.
func (r *EngineRegistry) Register(runner EngineRunner) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := runner.Name()
	if _, exists := r.engines[name]; exists {
		panic(fmt.Sprintf("engine already registered: %s", name))
	}
	r.engines[name] = runner
}

// Get returns the runner for name, or nil.
func (r *EngineRegistry) Get(name EngineName) EngineRunner {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.engines[name]
}

// Has checks if a runner is registered for name.
func (r *EngineRegistry) Has(name EngineName) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.engines[name]
	return exists
}

// Names returns all registered engine names, sorted.
func (r *EngineRegistry) Names() []EngineName {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]EngineName, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Run dispatches job to its engine. An unknown engine is a failed outcome.
func (r *EngineRegistry) Run(ctx context.Context, job *Job) Outcome {
	runner := r.Get(job.Engine)
	if runner == nil {
		return FailedOutcome("no engine registered for %q", job.Engine)
	}
	return runner.Run(ctx, job)
}
