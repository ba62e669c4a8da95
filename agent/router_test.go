package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mctltest "github.com/teranos/missionctl/internal/testing"
	"github.com/teranos/missionctl/pulse/async"
)

func agentFixture(id string, role Role, engine async.EngineName, tier CostTier, quality float64) *Agent {
	return &Agent{
		ID: id, Name: id, Role: role, DefaultEngine: engine, CostTier: tier,
		Active: true, Status: StatusActive, QualityScoreAvg: quality,
	}
}

func TestPickScoring(t *testing.T) {
	cheap := agentFixture("kirby", RoleCoder, async.EngineShell, CostFree, 0)
	pricey := agentFixture("knuckles", RoleCoder, async.EngineShell, CostHigh, 9)
	job := &async.Job{Title: "fix the build", Engine: async.EngineShell, JobType: async.JobTypeTask}

	route := Pick(job, []*Agent{cheap, pricey}, nil, "")
	require.NotNil(t, route)
	assert.Equal(t, "knuckles", route.AgentID)
	assert.InDelta(t, 9.0, route.Score, 1e-9)

	t.Run("load sheds work", func(t *testing.T) {
		route := Pick(job, []*Agent{cheap, pricey}, map[string]int{"knuckles": 2}, "")
		require.NotNil(t, route)
		assert.Equal(t, "kirby", route.AgentID)
	})

	t.Run("ties keep input order", func(t *testing.T) {
		load := map[string]int{"knuckles": 1} // 9 - 3 = 6
		assert.Equal(t, "kirby", Pick(job, []*Agent{cheap, pricey}, load, "").AgentID)
		assert.Equal(t, "knuckles", Pick(job, []*Agent{pricey, cheap}, load, "").AgentID)
	})

	t.Run("department match", func(t *testing.T) {
		cheap.DepartmentID = "platform"
		defer func() { cheap.DepartmentID = "" }()
		route := Pick(job, []*Agent{cheap, pricey}, nil, "platform")
		assert.Equal(t, "kirby", route.AgentID)
		assert.InDelta(t, 16.0, route.Score, 1e-9)
		assert.Contains(t, route.Reason, "project department")
	})
}

func TestPickIsDeterministicAndLoadMonotonic(t *testing.T) {
	agents := []*Agent{
		agentFixture("a", RoleCoder, async.EngineOpenRouter, CostLow, 7),
		agentFixture("b", RoleResearcher, async.EngineOpenRouter, CostMedium, 8.5),
		agentFixture("c", RoleCoder, async.EngineAnthropic, CostFree, 3),
	}
	job := &async.Job{Title: "summarize the paper", Engine: async.EngineAnthropic, JobType: async.JobTypeTask}
	load := map[string]int{"a": 1, "b": 0, "c": 2}

	first := Pick(job, agents, load, "")
	require.NotNil(t, first)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Pick(job, agents, load, ""))
	}

	for _, a := range agents {
		before := Score(a, load[a.ID], "")
		after := Score(a, load[a.ID]+1, "")
		assert.Less(t, after, before, "agent %s", a.ID)
	}
}

func TestPickEngineCompatibility(t *testing.T) {
	shell := agentFixture("shell", RoleCoder, async.EngineShell, CostFree, 0)
	general := agentFixture("general", RoleCoder, async.EngineOpenRouter, CostHigh, 0)
	claude := agentFixture("claude", RoleCoder, async.EngineAnthropic, CostHigh, 0)
	agents := []*Agent{shell, general, claude}

	tests := []struct {
		engine async.EngineName
		want   []string
	}{
		{async.EngineShell, []string{"shell"}},
		{async.EngineOpenRouter, []string{"general"}},
		{async.EngineAnthropic, []string{"general", "claude"}},
		{async.EngineLocal, []string{"general"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.engine), func(t *testing.T) {
			var got []string
			for _, a := range agents {
				if a.CanServe(tt.engine) {
					got = append(got, a.ID)
				}
			}
			assert.Equal(t, tt.want, got)

			route := Pick(&async.Job{Title: "x", Engine: tt.engine, JobType: async.JobTypeTask}, agents, nil, "")
			require.NotNil(t, route)
			assert.Contains(t, tt.want, route.AgentID)
		})
	}
}

func TestPickShortCircuits(t *testing.T) {
	orchestrator := agentFixture("dedede", RoleOrchestrator, async.EngineOpenRouter, CostHigh, 10)
	qa := agentFixture("meta-knight", RoleQA, async.EngineOpenRouter, CostHigh, 0)
	analyst := agentFixture("waddle", RoleAnalyst, async.EngineOpenRouter, CostHigh, 0)
	ops := agentFixture("bandana", RoleOps, async.EngineShell, CostHigh, 0)
	coder := agentFixture("kirby", RoleCoder, async.EngineOpenRouter, CostFree, 10)
	agents := []*Agent{orchestrator, qa, analyst, ops, coder}

	tests := []struct {
		name string
		job  async.Job
		want string
	}{
		{"review goes to qa", async.Job{Title: "review the release", JobType: async.JobTypeReview, Engine: async.EngineOpenRouter}, "meta-knight"},
		{"decomposition goes to orchestrator", async.Job{Title: "plan launch", JobType: async.JobTypeDecomposition, Engine: async.EngineOpenRouter}, "dedede"},
		{"integration goes to orchestrator", async.Job{Title: "merge results", JobType: async.JobTypeIntegration, Engine: async.EngineOpenRouter}, "dedede"},
		{"finance keyword", async.Job{Title: "Q3 budget forecast", JobType: async.JobTypeTask, Engine: async.EngineOpenRouter}, "waddle"},
		{"security keyword", async.Job{Title: "Patch CVE-2026-1 in nginx", JobType: async.JobTypeTask, Engine: async.EngineOpenRouter}, "bandana"},
		{"finance wins over security", async.Job{Title: "security budget", JobType: async.JobTypeTask, Engine: async.EngineOpenRouter}, "waddle"},
		{"keywords match whole words", async.Job{Title: "fix syntax in invoicer", JobType: async.JobTypeTask, Engine: async.EngineOpenRouter}, "kirby"},
		{"orchestrator never scored", async.Job{Title: "write docs", JobType: async.JobTypeTask, Engine: async.EngineOpenRouter}, "kirby"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			route := Pick(&tt.job, agents, nil, "")
			require.NotNil(t, route)
			assert.Equal(t, tt.want, route.AgentID)
		})
	}

	t.Run("paused qa falls through to scoring", func(t *testing.T) {
		paused := *qa
		paused.Status = StatusPaused
		job := async.Job{Title: "review", JobType: async.JobTypeReview, Engine: async.EngineOpenRouter}
		route := Pick(&job, []*Agent{&paused, coder}, nil, "")
		require.NotNil(t, route)
		assert.Equal(t, "kirby", route.AgentID)
	})

	t.Run("no candidate", func(t *testing.T) {
		job := async.Job{Title: "run script", JobType: async.JobTypeTask, Engine: async.EngineShell}
		assert.Nil(t, Pick(&job, []*Agent{orchestrator, coder}, nil, ""))
	})
}

func TestRouteReadsStoreState(t *testing.T) {
	db := mctltest.CreateTestDB(t)
	ctx := context.Background()
	agents := NewStore(db)

	dedede := addAgent(t, agents, "dedede", RoleProduct, async.EngineOpenRouter, CostHigh)
	kirby := addAgent(t, agents, "kirby", RoleCoder, async.EngineShell, CostMedium)
	_ = addAgent(t, agents, "knuckles", RoleCoder, async.EngineShell, CostFree)

	_, err := db.ExecContext(ctx, `UPDATE agents SET department_id = 'dreamland' WHERE id IN (?, ?)`, dedede.ID, kirby.ID)
	require.NoError(t, err)
	require.NoError(t, agents.CreateProject(ctx, "proj-1", "Dream Land", dedede.ID))

	q := async.NewQueue(db)
	job, err := q.Enqueue(ctx, async.JobSpec{Title: "build the castle", Engine: async.EngineShell, ProjectID: "proj-1"})
	require.NoError(t, err)

	router := NewRouter(db)
	route, err := router.Route(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, route)
	assert.Equal(t, kirby.ID, route.AgentID, "department bonus outweighs cost")
	assert.Equal(t, "kirby", route.AgentName)

	_, err = router.Route(ctx, "missing")
	require.Error(t, err)
}
