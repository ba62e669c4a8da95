package dispatch

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/missionctl/agent"
	"github.com/teranos/missionctl/am"
	mctltest "github.com/teranos/missionctl/internal/testing"
	"github.com/teranos/missionctl/notify"
	"github.com/teranos/missionctl/pulse/async"
	"github.com/teranos/missionctl/research"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	db      *sql.DB
	queue   *async.Queue
	sweeper *Sweeper
	notes   *notify.Store
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := mctltest.CreateTestDB(t)
	f := &fixture{db: db, queue: async.NewQueue(db), notes: notify.NewStore(db), now: t0}
	f.queue.Now = func() time.Time { return f.now }
	f.sweeper = NewSweeper(db, f.queue, DefaultPolicy(), nil)
	f.sweeper.Now = func() time.Time { return f.now }
	return f
}

func (f *fixture) notifications(t *testing.T, category string) []*notify.Notification {
	t.Helper()
	list, err := f.notes.List(context.Background(), notify.Filter{Category: category})
	require.NoError(t, err)
	return list
}

func (f *fixture) claim(t *testing.T) *async.Job {
	t.Helper()
	job, err := f.queue.ClaimNext(context.Background(), async.Settings{})
	require.NoError(t, err)
	require.NotNil(t, job)
	return job
}

func TestStallAlertsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.queue.Enqueue(ctx, async.JobSpec{Title: "Kirby inhales a very long job", Engine: async.EngineShell})
	require.NoError(t, err)
	f.claim(t)

	f.now = t0.Add(10 * time.Minute)
	report := f.sweeper.Sweep(ctx)
	assert.Equal(t, 0, report.Stalled, "exactly at the timeout is not stalled")

	f.now = t0.Add(11 * time.Minute)
	report = f.sweeper.Sweep(ctx)
	assert.Equal(t, 1, report.Stalled)
	assert.Empty(t, report.Errors)

	report = f.sweeper.Sweep(ctx)
	assert.Equal(t, 0, report.Stalled, "second sweep is deduplicated")

	alerts := f.notifications(t, notify.CategoryAlert)
	require.Len(t, alerts, 1)
	assert.Equal(t, notify.PriorityHigh, alerts[0].Priority)
	assert.Equal(t, job.ID, alerts[0].Metadata[notify.MetaJobID])
	assert.Contains(t, alerts[0].Body, "11 minutes")

	t.Run("acknowledged alert can fire again", func(t *testing.T) {
		_, err := f.notes.Acknowledge(ctx, alerts[0].ID)
		require.NoError(t, err)
		report := f.sweeper.Sweep(ctx)
		assert.Equal(t, 1, report.Stalled)
	})
}

func TestRetryIsBoundedAndIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.queue.Enqueue(ctx, async.JobSpec{Title: "TAS Bot frame-perfect run", Engine: async.EngineShell})
	require.NoError(t, err)

	for attempt := 1; attempt <= DefaultMaxRetries; attempt++ {
		f.claim(t)
		_, err := f.queue.Finish(ctx, job.ID, async.FailedOutcome("desync on frame %d", attempt))
		require.NoError(t, err)

		f.now = f.now.Add(time.Minute)
		report := f.sweeper.Sweep(ctx)
		assert.Equal(t, 1, report.Retried, "attempt %d", attempt)

		got, err := f.queue.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, async.JobStatusQueued, got.Status)
		assert.Equal(t, attempt, got.RetryCount)
		assert.Empty(t, got.LastError)
		assert.Nil(t, got.StartedAt)
		assert.Nil(t, got.CompletedAt)
	}

	f.claim(t)
	_, err = f.queue.Finish(ctx, job.ID, async.FailedOutcome("desync again"))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		report := f.sweeper.Sweep(ctx)
		assert.Equal(t, 0, report.Retried)
	}

	got, err := f.queue.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, async.JobStatusFailed, got.Status)
	assert.Equal(t, DefaultMaxRetries, got.RetryCount)
	assert.Equal(t, "desync again", got.LastError)

	infos := f.notifications(t, notify.CategoryInfo)
	require.Len(t, infos, DefaultMaxRetries)
	var bodies []string
	for _, n := range infos {
		bodies = append(bodies, n.Body)
	}
	assert.Contains(t, strings.Join(bodies, "\n"), "Attempt 3/3")
}

func TestRetryBatchLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sweeper.SetPolicy(Policy{MaxRetries: 3, RetryBatch: 2, StallTimeout: time.Hour, ResearchStale: time.Hour, ResearchBatch: 1, PauseThreshold: 3})

	for i := 0; i < 3; i++ {
		_, err := f.queue.Enqueue(ctx, async.JobSpec{Title: "batch", Engine: async.EngineShell})
		require.NoError(t, err)
		job := f.claim(t)
		_, err = f.queue.Finish(ctx, job.ID, async.FailedOutcome("boom"))
		require.NoError(t, err)
	}

	assert.Equal(t, 2, f.sweeper.Sweep(ctx).Retried)
	assert.Equal(t, 1, f.sweeper.Sweep(ctx).Retried)
}

func TestStaleResearchDispatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	items := research.NewStore(f.db)
	items.Now = func() time.Time { return f.now }

	stale := &research.Item{Title: "Cronos: time-series compression", URL: "https://example.com/paper", CreatedAt: t0.Add(-time.Hour)}
	fresh := &research.Item{Title: "just captured", CreatedAt: t0.Add(-time.Minute)}
	require.NoError(t, items.Create(ctx, stale))
	require.NoError(t, items.Create(ctx, fresh))

	report := f.sweeper.Sweep(ctx)
	assert.Equal(t, 1, report.Dispatched)

	jobs, err := f.queue.ListJobs(ctx, async.JobFilter{})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	job := jobs[0]
	assert.Contains(t, job.Title, stale.ID)
	assert.Equal(t, ResearchJobPriority, job.Priority)
	assert.Equal(t, async.EngineGeneralLLM, job.Engine)
	assert.Equal(t, SourceResearch, job.Source)
	assert.Contains(t, job.Prompt, stale.URL)

	id, ok := ResearchIDFromTitle(job.Title)
	require.True(t, ok)
	assert.Equal(t, stale.ID, id)

	assert.Equal(t, 0, f.sweeper.Sweep(ctx).Dispatched, "queued job already covers the item")

	_, err = f.queue.Assign(ctx, job.ID, "agent-x")
	require.NoError(t, err)
	assert.Equal(t, 0, f.sweeper.Sweep(ctx).Dispatched, "assigned job already covers the item")

	_, err = f.queue.ClaimJob(ctx, job.ID, async.Settings{})
	require.NoError(t, err)
	assert.Equal(t, 0, f.sweeper.Sweep(ctx).Dispatched, "running job already covers the item")

	finished, err := f.queue.Finish(ctx, job.ID, async.Outcome{Status: async.OutcomeOK, Result: "relevant"})
	require.NoError(t, err)
	f.sweeper.OnJobFinished(ctx, finished)

	got, err := items.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, research.StatusAssessed, got.Status)
	assert.Equal(t, 0, f.sweeper.Sweep(ctx).Dispatched)
}

func TestAgentAutoPause(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	agents := agent.NewStore(f.db)

	kirby := &agent.Agent{Name: "kirby", Role: agent.RoleCoder, DefaultEngine: async.EngineShell, Active: true}
	knuckles := &agent.Agent{Name: "knuckles", Role: agent.RoleCoder, DefaultEngine: async.EngineShell, Active: true}
	require.NoError(t, agents.Create(ctx, kirby))
	require.NoError(t, agents.Create(ctx, knuckles))
	_, err := f.db.ExecContext(ctx, `UPDATE agents SET consecutive_failures = CASE name WHEN 'kirby' THEN 3 ELSE 2 END`)
	require.NoError(t, err)

	report := f.sweeper.Sweep(ctx)
	assert.Equal(t, 1, report.Paused)
	assert.Equal(t, 0, f.sweeper.Sweep(ctx).Paused)

	got, err := agents.Get(ctx, kirby.ID)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusPaused, got.Status)

	other, err := agents.Get(ctx, knuckles.ID)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusActive, other.Status)

	alerts := f.notifications(t, notify.CategoryAlert)
	require.Len(t, alerts, 1)
	assert.Equal(t, kirby.ID, alerts[0].Metadata[notify.MetaAgentID])
	assert.Contains(t, alerts[0].Body, "3 reviews in a row")
}

func TestRuleFailureIsIsolated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.queue.Enqueue(ctx, async.JobSpec{Title: "stuck", Engine: async.EngineShell})
	require.NoError(t, err)
	f.claim(t)

	_, err = f.db.ExecContext(ctx, `DROP TABLE research_items`)
	require.NoError(t, err)

	f.now = t0.Add(time.Hour)
	report := f.sweeper.Sweep(ctx)
	assert.Contains(t, report.Errors, RuleResearch)
	assert.NotContains(t, report.Errors, RuleStall)
	assert.Equal(t, 1, report.Stalled)
}

func TestTriggerReturnsReport(t *testing.T) {
	f := newFixture(t)
	report := f.sweeper.Trigger(context.Background())
	require.NotNil(t, report)
	assert.False(t, report.Acted())
	assert.Equal(t, t0, report.StartedAt)
}

func TestPolicyFromConfig(t *testing.T) {
	assert.Equal(t, DefaultPolicy(), PolicyFromConfig(am.DispatchConfig{}))

	p := PolicyFromConfig(am.DispatchConfig{StallTimeoutMinutes: 20, MaxRetries: 5, PauseThreshold: 4})
	assert.Equal(t, 20*time.Minute, p.StallTimeout)
	assert.Equal(t, 5, p.MaxRetries)
	assert.Equal(t, 4, p.PauseThreshold)
	assert.Equal(t, DefaultRetryBatch, p.RetryBatch)
}

func TestTickerSweepsOnInterval(t *testing.T) {
	f := newFixture(t)
	ticker := NewTicker(context.Background(), f.sweeper, 10*time.Millisecond, nil)
	ticker.Start()
	defer ticker.Stop()

	require.Eventually(t, func() bool {
		report, _, ticks := ticker.Last()
		return report != nil && ticks > 0
	}, 2*time.Second, 10*time.Millisecond)
}
