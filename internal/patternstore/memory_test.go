package patternstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intelkernel/internal/model"
)

func TestUpsertAndGetPattern(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	p := model.Pattern{PatternID: "p1", Name: "retry-on-timeout", CreatedAt: time.Now(), LastUsedAt: time.Now()}
	require.NoError(t, m.UpsertPattern(ctx, p))

	got, ok, err := m.GetPattern(ctx, "p1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "retry-on-timeout", got.Name)
}

func TestRecordUsageIncrementsCounters(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, m.UpsertPattern(ctx, model.Pattern{PatternID: "p1", CreatedAt: now, LastUsedAt: now}))

	require.NoError(t, m.RecordUsage(ctx, model.ExecutionTrace{PatternID: "p1", Success: true, Timestamp: now.Add(time.Minute)}))
	require.NoError(t, m.RecordUsage(ctx, model.ExecutionTrace{PatternID: "p1", Success: false, Timestamp: now.Add(2 * time.Minute)}))

	got, _, err := m.GetPattern(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.SuccessCount)
	assert.Equal(t, 1, got.FailureCount)
	assert.InDelta(t, 0.5, got.SuccessRate(), 0.0001)
}

func TestPruneStaleSoftDeletesSustainedLowSuccessRate(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()
	window := 90 * 24 * time.Hour
	floor := 0.5

	longBelow := now.Add(-200 * 24 * time.Hour)
	require.NoError(t, m.UpsertPattern(ctx, model.Pattern{
		PatternID: "long-below", Active: true, SuccessCount: 1, FailureCount: 9,
		BelowFloorSince: &longBelow,
	}))

	recentlyBelow := now.Add(-1 * 24 * time.Hour)
	require.NoError(t, m.UpsertPattern(ctx, model.Pattern{
		PatternID: "recently-below", Active: true, SuccessCount: 1, FailureCount: 9,
		BelowFloorSince: &recentlyBelow,
	}))

	require.NoError(t, m.UpsertPattern(ctx, model.Pattern{
		PatternID: "healthy", Active: true, SuccessCount: 9, FailureCount: 1,
	}))

	require.NoError(t, m.UpsertPattern(ctx, model.Pattern{
		PatternID: "untouched", Active: true,
	}))

	n, err := m.PruneStale(ctx, floor, window, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the pattern below the floor since before the observation window should be pruned")

	remaining, err := m.ListPatterns(ctx)
	require.NoError(t, err)
	var ids []string
	for _, p := range remaining {
		ids = append(ids, p.PatternID)
	}
	assert.ElementsMatch(t, []string{"recently-below", "healthy", "untouched"}, ids)

	got, _, err := m.GetPattern(ctx, "recently-below")
	require.NoError(t, err)
	require.NotNil(t, got.BelowFloorSince, "a pattern still within the window stays marked below-floor")

	healthy, _, err := m.GetPattern(ctx, "healthy")
	require.NoError(t, err)
	assert.Nil(t, healthy.BelowFloorSince)
}

func TestPruneStaleResetsRecoveredPatterns(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()
	dippedRecently := now.Add(-1 * time.Hour)

	require.NoError(t, m.UpsertPattern(ctx, model.Pattern{
		PatternID: "recovered", Active: true, SuccessCount: 8, FailureCount: 2,
		BelowFloorSince: &dippedRecently,
	}))

	_, err := m.PruneStale(ctx, 0.5, 90*24*time.Hour, now)
	require.NoError(t, err)

	got, _, err := m.GetPattern(ctx, "recovered")
	require.NoError(t, err)
	assert.True(t, got.Active)
	assert.Nil(t, got.BelowFloorSince, "success_rate 0.8 is above the 0.5 floor, so the mark should clear")
}

func TestProcessedEventIdempotency(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()

	was, err := m.WasProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, was)

	require.NoError(t, m.MarkProcessed(ctx, model.ProcessedEvent{EventID: "evt-1", ConsumerID: "ingestion", ProcessedAt: now}))

	was, err = m.WasProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, was)
}

func TestCleanupProcessedDeletesExpired(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, m.MarkProcessed(ctx, model.ProcessedEvent{EventID: "old", ConsumerID: "c", ProcessedAt: now.Add(-10 * 24 * time.Hour)}))
	require.NoError(t, m.MarkProcessed(ctx, model.ProcessedEvent{EventID: "new", ConsumerID: "c", ProcessedAt: now}))

	n, err := m.CleanupProcessed(ctx, 7*24*time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	was, err := m.WasProcessed(ctx, "old")
	require.NoError(t, err)
	assert.False(t, was)
}
