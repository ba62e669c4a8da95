package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mctltest "github.com/teranos/missionctl/internal/testing"
	"github.com/teranos/missionctl/pulse/async"
)

const roster = `
agents:
  - name: kirby
    role: coder
    default_engine: shell
    cost_tier: free
    department: dreamland
  - name: meta-knight
    role: qa
    default_engine: openrouter
    cost_tier: high
  - name: magolor
    role: researcher
    default_engine: anthropic
    active: false
`

func TestImportRosterFile(t *testing.T) {
	db := mctltest.CreateTestDB(t)
	ctx := context.Background()
	s := NewStore(db)

	path := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte(roster), 0o644))

	res, err := s.ImportRosterFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Created)
	assert.Equal(t, 0, res.Updated)

	kirby, err := s.GetByName(ctx, "kirby")
	require.NoError(t, err)
	assert.Equal(t, RoleCoder, kirby.Role)
	assert.Equal(t, async.EngineShell, kirby.DefaultEngine)
	assert.Equal(t, "dreamland", kirby.DepartmentID)
	assert.True(t, kirby.Active)

	magolor, err := s.GetByName(ctx, "magolor")
	require.NoError(t, err)
	assert.False(t, magolor.Active)
	assert.Equal(t, CostMedium, magolor.CostTier)

	// re-import keeps ids and performance fields
	_, err = db.ExecContext(ctx, `UPDATE agents SET total_jobs_completed = 7 WHERE id = ?`, kirby.ID)
	require.NoError(t, err)
	res, err = s.ImportRosterFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 3, res.Updated)

	again, err := s.GetByName(ctx, "kirby")
	require.NoError(t, err)
	assert.Equal(t, kirby.ID, again.ID)
	assert.Equal(t, 7, again.TotalJobsCompleted)
}

func TestParseRosterRejects(t *testing.T) {
	tests := map[string]string{
		"unknown field": "agents:\n  - name: kirby\n    colour: pink\n",
		"missing name":  "agents:\n  - role: coder\n",
		"duplicate":     "agents:\n  - name: kirby\n  - name: kirby\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRoster([]byte(doc))
			assert.Error(t, err)
		})
	}

	r, err := ParseRoster(nil)
	require.NoError(t, err)
	assert.Empty(t, r.Agents)
}
