package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/missionctl/errors"
	mctltest "github.com/teranos/missionctl/internal/testing"
	"github.com/teranos/missionctl/internal/util"
)

func TestTrackUsageInsertsJobLinkedRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec(`INSERT INTO ai_model_usage`).
		WithArgs("job-engine", "job-1", "openai/gpt-4o-mini", "openrouter", sqlmock.AnyArg(),
			now, sqlmock.AnyArg(), 150, 0.05, true, nil).
		WillReturnResult(sqlmock.NewResult(1, 1))

	tracker := NewUsageTracker(db)
	err = tracker.TrackUsage(context.Background(), &ModelUsage{
		OperationType:     "job-engine",
		JobID:             "job-1",
		ModelName:         "openai/gpt-4o-mini",
		ModelProvider:     "openrouter",
		ModelConfig:       NewModelConfig(util.Ptr(0.2), util.Ptr(1000)),
		RequestTimestamp:  now,
		ResponseTimestamp: util.Ptr(now.Add(2 * time.Second)),
		TokensUsed:        util.Ptr(150),
		Cost:              util.Ptr(0.05),
		Success:           true,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTrackUsageWrapsErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO ai_model_usage`).WillReturnError(errors.New("database is locked"))

	err = NewUsageTracker(db).TrackUsage(context.Background(), &ModelUsage{ModelProvider: "anthropic"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to record anthropic usage")
}

func TestUsageStatsAndBreakdown(t *testing.T) {
	db := mctltest.CreateTestDB(t)
	tracker := NewUsageTracker(db)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	usages := []*ModelUsage{
		{OperationType: "job-engine", JobID: "a", ModelName: "gpt", ModelProvider: "openrouter", RequestTimestamp: base, TokensUsed: util.Ptr(100), Cost: util.Ptr(0.02), Success: true},
		{OperationType: "job-engine", JobID: "b", ModelName: "gpt", ModelProvider: "openrouter", RequestTimestamp: base.Add(time.Minute), TokensUsed: util.Ptr(200), Cost: util.Ptr(0.04), Success: true},
		{OperationType: "job-engine", JobID: "c", ModelName: "haiku", ModelProvider: "anthropic", RequestTimestamp: base.Add(2 * time.Minute), TokensUsed: util.Ptr(50), Cost: util.Ptr(0.10), Success: true},
		{OperationType: "job-engine", ModelName: "haiku", ModelProvider: "anthropic", RequestTimestamp: base.Add(3 * time.Minute), Success: false, ErrorMessage: util.Ptr("status 429")},
		{OperationType: "job-engine", ModelName: "old", ModelProvider: "local", RequestTimestamp: base.Add(-time.Hour), Success: true},
	}
	for _, u := range usages {
		require.NoError(t, tracker.TrackUsage(ctx, u))
	}

	stats, err := tracker.GetUsageStats(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalRequests)
	assert.Equal(t, 3, stats.SuccessfulRequests)
	assert.Equal(t, 350, stats.TotalTokens)
	assert.InDelta(t, 0.16, stats.TotalCost, 1e-9)
	assert.Equal(t, 2, stats.UniqueModels)
	assert.InDelta(t, 0.75, stats.SuccessRate, 1e-9)

	breakdown, err := tracker.GetModelBreakdown(ctx, base)
	require.NoError(t, err)
	require.Len(t, breakdown, 2)
	assert.Equal(t, "haiku", breakdown[0].ModelName)
	assert.Equal(t, 1, breakdown[0].RequestCount)
	assert.Equal(t, "gpt", breakdown[1].ModelName)
	assert.Equal(t, 2, breakdown[1].RequestCount)
	assert.Equal(t, 300, breakdown[1].TotalTokens)
}

func TestNewModelConfig(t *testing.T) {
	assert.Nil(t, NewModelConfig(nil, nil))

	cfg := NewModelConfig(util.Ptr(0.5), nil)
	require.NotNil(t, cfg)
	assert.JSONEq(t, `{"temperature":0.5}`, *cfg)
}
