package commands

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/missionctl/am"
	mctltest "github.com/teranos/missionctl/internal/testing"
	"github.com/teranos/missionctl/internal/util"
	"github.com/teranos/missionctl/notify"
	"github.com/teranos/missionctl/pulse/async"
	"github.com/teranos/missionctl/pulse/dispatch"
)

func newTestRuntime(t *testing.T) *runtime {
	t.Helper()
	cfg := &am.Config{
		Pulse: am.PulseConfig{EngineTimeoutSeconds: 30},
		Dispatch: am.DispatchConfig{
			MaxRetries: 2,
		},
		Engines: am.EnginesConfig{
			Shell:      am.ShellConfig{Interpreter: "sh -c"},
			OutputRoot: t.TempDir(),
		},
	}
	rt, err := newRuntime(cfg, mctltest.CreateTestDB(t))
	require.NoError(t, err)
	return rt
}

func TestRuntimeRegistersEveryEngine(t *testing.T) {
	rt := newTestRuntime(t)

	for _, name := range []async.EngineName{async.EngineShell, async.EngineOpenRouter, async.EngineAnthropic, async.EngineLocal} {
		assert.True(t, rt.runner.Engines().Has(name), name)
	}
	assert.Len(t, rt.quotas.Snapshot(), 3)
	assert.Equal(t, 2, rt.sweeper.Policy().MaxRetries)
	assert.Equal(t, dispatch.DefaultPolicy().PauseThreshold, rt.sweeper.Policy().PauseThreshold)
}

func TestRuntimeRunsShellJob(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()

	job, err := rt.queue.Enqueue(ctx, async.JobSpec{
		Title:    "Kirby inhales the build",
		Prompt:   `echo '{"status":"ok","result":"poyo"}'`,
		Engine:   async.EngineShell,
		Priority: util.Ptr(1),
	})
	require.NoError(t, err)

	result, err := rt.runner.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, result.Claimed)
	assert.Equal(t, job.ID, result.Job.ID)
	assert.Equal(t, async.JobStatusDone, result.Job.Status)
	assert.Equal(t, "poyo", result.Job.Result)

	idle, err := rt.runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, idle.Claimed)
}

func TestRuntimeFinishHookRetriesFailures(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()

	job, err := rt.queue.Enqueue(ctx, async.JobSpec{
		Title:  "TAS Bot flaky deploy",
		Prompt: `echo boom; exit 3`,
		Engine: async.EngineShell,
	})
	require.NoError(t, err)

	result, err := rt.runner.RunJob(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, result.Claimed)
	require.NotNil(t, result.Outcome)
	assert.Equal(t, async.OutcomeFailed, result.Outcome.Status)

	// The finish hook swept and requeued the failure
	after, err := rt.queue.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, async.JobStatusQueued, after.Status)
	assert.Equal(t, 1, after.RetryCount)

	notes, err := notify.NewStore(rt.db).List(ctx, notify.Filter{})
	require.NoError(t, err)
	require.NotEmpty(t, notes)
	assert.Contains(t, notes[0].Body, "Attempt 1/2")
}

func TestWorkerPoolTakesConfiguredWorkers(t *testing.T) {
	rt := newTestRuntime(t)
	rt.cfg.Pulse.Workers = 4
	rt.cfg.Pulse.PollIntervalMS = 250

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.Equal(t, 4, rt.workerPool(ctx, -1).Workers())
	assert.Equal(t, 2, rt.workerPool(ctx, 2).Workers())
}
