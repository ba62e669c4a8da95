package async

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTASBotInitializesWorkerPool(t *testing.T) {
	r, _ := newTestRunner(t)

	pool := NewWorkerPool(context.Background(), r, WorkerPoolConfig{Workers: 3}, zap.NewNop().Sugar())
	assert.Equal(t, 3, pool.Workers())
	assert.Equal(t, DefaultWorkerPoolConfig().PollInterval, pool.poolConfig.PollInterval)
	assert.NotNil(t, pool.GetQueue())

	zero := NewWorkerPool(context.Background(), r, WorkerPoolConfig{}, zap.NewNop().Sugar())
	assert.Equal(t, 1, zero.Workers())
}

func TestKirbyWorkersDrainQueue(t *testing.T) {
	shell := &stubEngine{name: EngineShell, outcome: Outcome{Status: OutcomeOK}}
	r, q := newTestRunner(t, shell)
	for i := 0; i < 6; i++ {
		enqueueShell(t, q, "drain", i)
	}

	pool := NewWorkerPool(context.Background(), r, WorkerPoolConfig{Workers: 2, PollInterval: 10 * time.Millisecond}, zap.NewNop().Sugar())
	pool.Start()
	defer pool.Stop()

	require.Eventually(t, func() bool {
		stats, err := q.Stats(context.Background())
		return err == nil && stats.ByStatus[JobStatusDone] == 6
	}, 5*time.Second, 20*time.Millisecond)

	assert.Len(t, shell.Runs(), 6, "every job ran exactly once")
	assert.Equal(t, 6, pool.JobsProcessed())
	assert.Positive(t, pool.Uptime())
}

func TestCronosStopFinishesInterruptedJob(t *testing.T) {
	started := make(chan struct{})
	shell := &stubEngine{name: EngineShell, fn: func(ctx context.Context, _ *Job) Outcome {
		close(started)
		<-ctx.Done()
		return FailedOutcome("interrupted")
	}}
	r, q := newTestRunner(t, shell)
	job := enqueueShell(t, q, "long haul", 1)

	pool := NewWorkerPool(context.Background(), r, WorkerPoolConfig{Workers: 1, PollInterval: 10 * time.Millisecond}, zap.NewNop().Sugar())
	pool.Start()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never started")
	}
	pool.Stop()

	stored, err := q.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, stored.Status)
	assert.Equal(t, "runner shutdown before job finished", stored.LastError)
}

func TestWorkerPoolRestart(t *testing.T) {
	shell := &stubEngine{name: EngineShell, outcome: Outcome{Status: OutcomeOK}}
	r, q := newTestRunner(t, shell)

	pool := NewWorkerPool(context.Background(), r, WorkerPoolConfig{Workers: 1, PollInterval: 10 * time.Millisecond}, zap.NewNop().Sugar())
	pool.Start()
	pool.Stop()

	enqueueShell(t, q, "after restart", 1)
	pool.Start()
	defer pool.Stop()

	require.Eventually(t, func() bool {
		return len(shell.Runs()) == 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestSystemMetrics(t *testing.T) {
	r, q := newTestRunner(t)
	enqueueShell(t, q, "waiting", 1)

	pool := NewWorkerPool(context.Background(), r, WorkerPoolConfig{Workers: 2}, zap.NewNop().Sugar())
	m := pool.GetSystemMetrics(context.Background())
	assert.Equal(t, 2, m.WorkersTotal)
	assert.Equal(t, 1, m.JobsQueued)
	assert.Zero(t, m.JobsRunning)
	assert.GreaterOrEqual(t, m.MemoryPercent, 0.0)
}

func TestCalculateSafeWorkerCount(t *testing.T) {
	assert.Equal(t, 1, calculateSafeWorkerCount(0.5))
	assert.Equal(t, 1, calculateSafeWorkerCount(3))
	assert.Equal(t, 4, calculateSafeWorkerCount(10))
	assert.Equal(t, 16, calculateSafeWorkerCount(512))
}
