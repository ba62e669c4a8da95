package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/missionctl/errors"
	mctltest "github.com/teranos/missionctl/internal/testing"
	"github.com/teranos/missionctl/pulse/async"
)

func TestPauseAndResume(t *testing.T) {
	db := mctltest.CreateTestDB(t)
	ctx := context.Background()
	s := NewStore(db)

	kirby := addAgent(t, s, "kirby", RoleCoder, async.EngineShell, CostFree)
	_ = addAgent(t, s, "knuckles", RoleCoder, async.EngineShell, CostLow)
	_, err := db.ExecContext(ctx, `UPDATE agents SET consecutive_failures = 3 WHERE id = ?`, kirby.ID)
	require.NoError(t, err)

	candidates, err := s.ListPauseCandidates(ctx, 3)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, kirby.ID, candidates[0].ID)

	paused, err := s.Pause(ctx, kirby.ID)
	require.NoError(t, err)
	assert.True(t, paused)

	paused, err = s.Pause(ctx, kirby.ID)
	require.NoError(t, err)
	assert.False(t, paused, "second pause is a no-op")

	candidates, err = s.ListPauseCandidates(ctx, 3)
	require.NoError(t, err)
	assert.Empty(t, candidates)

	eligible, err := s.ListEligible(ctx)
	require.NoError(t, err)
	require.Len(t, eligible, 1)
	assert.Equal(t, "knuckles", eligible[0].Name)

	resumed, err := s.Resume(ctx, kirby.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, resumed.Status)
	assert.Equal(t, 0, resumed.ConsecutiveFailures)
	assert.True(t, resumed.Eligible())

	_, err = s.Resume(ctx, kirby.ID)
	assert.True(t, errors.IsConflictError(err))

	_, err = s.Resume(ctx, "missing")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestCreateValidation(t *testing.T) {
	s := NewStore(mctltest.CreateTestDB(t))
	ctx := context.Background()

	tests := []struct {
		name  string
		agent Agent
	}{
		{"empty name", Agent{Role: RoleCoder, DefaultEngine: async.EngineShell}},
		{"bad role", Agent{Name: "x", Role: "wizard", DefaultEngine: async.EngineShell}},
		{"bad engine", Agent{Name: "x", Role: RoleCoder, DefaultEngine: "gpt"}},
		{"bad tier", Agent{Name: "x", Role: RoleCoder, DefaultEngine: async.EngineShell, CostTier: "platinum"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := tt.agent
			assert.True(t, errors.IsInvalidRequestError(s.Create(ctx, &a)))
		})
	}

	addAgent(t, s, "kirby", RoleCoder, async.EngineShell, "")
	err := s.Create(ctx, &Agent{Name: "kirby", Role: RoleCoder, DefaultEngine: async.EngineShell})
	assert.True(t, errors.IsConflictError(err))

	got, err := s.GetByName(ctx, "kirby")
	require.NoError(t, err)
	assert.Equal(t, CostMedium, got.CostTier)
}

func TestPreferredDepartment(t *testing.T) {
	db := mctltest.CreateTestDB(t)
	ctx := context.Background()
	s := NewStore(db)

	pm := &Agent{Name: "dedede", Role: RoleProduct, DefaultEngine: async.EngineOpenRouter, DepartmentID: "dreamland", Active: true}
	require.NoError(t, s.Create(ctx, pm))
	require.NoError(t, s.CreateProject(ctx, "p1", "castle", pm.ID))
	require.NoError(t, s.CreateProject(ctx, "p2", "no pm", ""))

	dept, err := s.PreferredDepartment(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "dreamland", dept)

	for _, id := range []string{"p2", "missing", ""} {
		dept, err := s.PreferredDepartment(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, dept, id)
	}
}

func TestCostTierRank(t *testing.T) {
	assert.Equal(t, 0, CostFree.Rank())
	assert.Equal(t, 1, CostLow.Rank())
	assert.Equal(t, 2, CostMedium.Rank())
	assert.Equal(t, 3, CostHigh.Rank())
}
