package agent

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/teranos/missionctl/pulse/async"
)

// Agents in these tests are named after the runners of the queue tests:
// Kirby codes on the shell, Meta Knight reviews, Dedede runs the project.

func addAgent(t *testing.T, s *Store, name string, role Role, engine async.EngineName, tier CostTier) *Agent {
	t.Helper()
	a := &Agent{Name: name, Role: role, DefaultEngine: engine, CostTier: tier, Active: true}
	require.NoError(t, s.Create(context.Background(), a))
	return a
}

// doneJob runs a job for agentID through claim and an ok outcome
func doneJob(t *testing.T, db *sql.DB, title, agentID string) *async.Job {
	t.Helper()
	ctx := context.Background()
	q := async.NewQueue(db)
	job, err := q.Enqueue(ctx, async.JobSpec{Title: title, Engine: async.EngineShell, AgentID: agentID})
	require.NoError(t, err)
	_, err = q.ClaimJob(ctx, job.ID, async.Settings{})
	require.NoError(t, err)
	job, err = q.Finish(ctx, job.ID, async.Outcome{Status: async.OutcomeOK, Result: "Poyo!"})
	require.NoError(t, err)
	return job
}

func uniform(v int) Dimensions {
	return Dimensions{Completeness: v, Accuracy: v, Actionability: v, Relevance: v, Evidence: v}
}
