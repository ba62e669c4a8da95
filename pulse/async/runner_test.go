package async

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRunner(t *testing.T, engines ...EngineRunner) (*Runner, *Queue) {
	t.Helper()
	q, _ := newTestQueue(t)
	registry := NewEngineRegistry()
	for _, e := range engines {
		registry.Register(e)
	}
	return NewRunner(q, StaticSettings{}, registry, zap.NewNop().Sugar()), q
}

func TestKirbyRunOnce(t *testing.T) {
	shell := &stubEngine{name: EngineShell, outcome: Outcome{Status: OutcomeOK, Result: "poyo"}}
	r, q := newTestRunner(t, shell)
	ctx := context.Background()

	idle, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, idle.Claimed)

	job := enqueueShell(t, q, "inhale", 1)

	var hooked atomic.Int32
	r.OnFinish(func(ctx context.Context, j *Job) {
		assert.Equal(t, job.ID, j.ID)
		hooked.Add(1)
	})

	res, err := r.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, res.Claimed)
	assert.Equal(t, JobStatusDone, res.Job.Status)
	assert.Equal(t, "poyo", res.Job.Result)
	assert.Equal(t, []string{job.ID}, shell.Runs())
	assert.EqualValues(t, 1, hooked.Load())
}

func TestRunOnceUnknownEngineFails(t *testing.T) {
	r, q := newTestRunner(t)
	enqueueShell(t, q, "orphan engine", 1)

	res, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, res.Claimed)
	assert.Equal(t, JobStatusFailed, res.Job.Status)
	assert.Contains(t, res.Job.LastError, "no engine registered")
}

func TestRunOnceRecoversPanic(t *testing.T) {
	shell := &stubEngine{name: EngineShell, fn: func(context.Context, *Job) Outcome { panic("copy ability misfire") }}
	r, q := newTestRunner(t, shell)
	enqueueShell(t, q, "boom", 1)

	res, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, res.Job.Status)
	assert.Contains(t, res.Job.LastError, "copy ability misfire")
}

func TestRunOnceTimeoutIsFailure(t *testing.T) {
	shell := &stubEngine{name: EngineShell, fn: func(ctx context.Context, _ *Job) Outcome {
		<-ctx.Done()
		return Outcome{Status: OutcomeHumanIntervention}
	}}
	r, q := newTestRunner(t, shell)
	r.EngineTimeout = 50 * time.Millisecond
	enqueueShell(t, q, "slow", 1)

	res, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, res.Job.Status)
	assert.Contains(t, res.Job.LastError, "timed out")
}

func TestRunOnceShutdownStillWritesOutcome(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	shell := &stubEngine{name: EngineShell, fn: func(runCtx context.Context, _ *Job) Outcome {
		cancel()
		<-runCtx.Done()
		return FailedOutcome("killed")
	}}
	r, q := newTestRunner(t, shell)
	job := enqueueShell(t, q, "interrupted", 1)

	res, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, res.Job.Status)
	assert.Equal(t, "runner shutdown before job finished", res.Job.LastError)

	stored, err := q.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, stored.Status)
}

func TestRunJobClaimsNamedJob(t *testing.T) {
	shell := &stubEngine{name: EngineShell, outcome: Outcome{Status: OutcomeOK}}
	r, q := newTestRunner(t, shell)
	enqueueShell(t, q, "urgent", 1)
	later := enqueueShell(t, q, "later", 9)

	res, err := r.RunJob(context.Background(), later.ID)
	require.NoError(t, err)
	require.True(t, res.Claimed)
	assert.Equal(t, later.ID, res.Job.ID)

	again, err := r.RunJob(context.Background(), later.ID)
	require.NoError(t, err)
	assert.False(t, again.Claimed)
}

func TestRunBatchCapsAndCollects(t *testing.T) {
	var inFlight, peak atomic.Int32
	release := make(chan struct{})
	shell := &stubEngine{name: EngineShell, fn: func(context.Context, *Job) Outcome {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		inFlight.Add(-1)
		return Outcome{Status: OutcomeOK}
	}}
	r, q := newTestRunner(t, shell)
	for i := 0; i < 8; i++ {
		enqueueShell(t, q, "batch", 1)
	}

	go func() {
		// Let every claimant start before releasing them together
		deadline := time.Now().Add(2 * time.Second)
		for inFlight.Load() < MaxBatchSize && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		close(release)
	}()

	results, err := r.RunBatch(context.Background(), 50)
	require.NoError(t, err)
	assert.Len(t, results, MaxBatchSize)
	assert.EqualValues(t, MaxBatchSize, peak.Load(), "claims run concurrently")

	seen := map[string]bool{}
	for _, res := range results {
		assert.True(t, res.Claimed)
		assert.False(t, seen[res.Job.ID], "no job claimed twice")
		seen[res.Job.ID] = true
	}

	stats, err := q.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Queued)
	assert.Equal(t, MaxBatchSize, stats.ByStatus[JobStatusDone])
}

func TestRunBatchWithFewerJobs(t *testing.T) {
	shell := &stubEngine{name: EngineShell, outcome: Outcome{Status: OutcomeOK}}
	r, q := newTestRunner(t, shell)
	enqueueShell(t, q, "only", 1)

	results, err := r.RunBatch(context.Background(), 3)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestEngineRegistry(t *testing.T) {
	registry := NewEngineRegistry()
	registry.Register(&stubEngine{name: EngineShell})
	registry.Register(&stubEngine{name: EngineAnthropic})

	assert.True(t, registry.Has(EngineShell))
	assert.False(t, registry.Has(EngineLocal))
	assert.Nil(t, registry.Get(EngineLocal))
	assert.Equal(t, []EngineName{EngineAnthropic, EngineShell}, registry.Names())
	assert.Panics(t, func() { registry.Register(&stubEngine{name: EngineShell}) })
}
