package async

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/missionctl/errors"
	mctltest "github.com/teranos/missionctl/internal/testing"
)

func TestSettingsSnapshot(t *testing.T) {
	s := NewSettingsStore(mctltest.CreateTestDB(t))
	ctx := context.Background()

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, Settings{}, snap, "seeded defaults: not paused, unlimited")

	require.NoError(t, s.Set(ctx, SettingPauseAll, "yes"))
	require.NoError(t, s.Set(ctx, SettingMaxConcurrency, "4"))

	snap, err = s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, Settings{PauseAll: true, MaxConcurrency: 4}, snap)

	v, err := s.Get(ctx, SettingPauseAll)
	require.NoError(t, err)
	assert.Equal(t, "yes", v)

	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{SettingMaxConcurrency, SettingPauseAll}, Keys(all))
}

func TestSettingsRejectsBadValues(t *testing.T) {
	s := NewSettingsStore(mctltest.CreateTestDB(t))
	ctx := context.Background()

	assert.True(t, errors.IsInvalidRequestError(s.Set(ctx, SettingPauseAll, "maybe")))
	assert.True(t, errors.IsInvalidRequestError(s.Set(ctx, SettingMaxConcurrency, "-1")))
	assert.True(t, errors.IsInvalidRequestError(s.Set(ctx, "turbo", "on")))

	_, err := s.Get(ctx, "turbo")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestStaticSettings(t *testing.T) {
	snap, err := StaticSettings{MaxConcurrency: 2}.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, snap.MaxConcurrency)
}
