package patterns

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intelkernel/internal/config"
	"intelkernel/internal/model"
)

func defaultWeights() config.PatternConfig {
	return config.PatternConfig{
		AutoApplyThreshold: 0.85,
		SuggestThreshold:   0.75,
		WeightSemantic:     0.40,
		WeightKeyword:      0.20,
		WeightIntent:       0.20,
		WeightContext:      0.10,
		WeightHistorical:   0.10,
	}
}

func TestMatchOrdersByScoreDescendingThenIDAscending(t *testing.T) {
	m := NewMatcher(defaultWeights())
	qc := QueryContext{Keywords: []string{"retry", "timeout"}, Intent: "handle-timeout", Embedding: []float32{1, 0}}
	candidates := []model.Pattern{
		{PatternID: "p-b", Keywords: []string{"retry", "timeout"}, Intent: "handle-timeout", Embedding: []float32{1, 0}, SuccessCount: 9, FailureCount: 1},
		{PatternID: "p-a", Keywords: []string{"retry", "timeout"}, Intent: "handle-timeout", Embedding: []float32{1, 0}, SuccessCount: 9, FailureCount: 1},
		{PatternID: "p-c", Keywords: []string{"unrelated"}, Intent: "other", Embedding: []float32{0, 1}},
	}

	results := m.Match(qc, candidates)
	require.Len(t, results, 3)
	assert.Equal(t, "p-a", results[0].Pattern.PatternID)
	assert.Equal(t, "p-b", results[1].Pattern.PatternID)
	assert.Equal(t, "p-c", results[2].Pattern.PatternID)
	assert.Greater(t, results[0].Score, results[2].Score)
}

func TestActionThresholds(t *testing.T) {
	m := NewMatcher(defaultWeights())
	qc := QueryContext{Keywords: []string{"a"}, Intent: "x", Embedding: []float32{1}}

	high := model.Pattern{PatternID: "hi", Keywords: []string{"a"}, Intent: "x", Embedding: []float32{1}, SuccessCount: 10}
	low := model.Pattern{PatternID: "lo"}

	results := m.Match(qc, []model.Pattern{high, low})
	byID := map[string]model.MatchResult{}
	for _, r := range results {
		byID[r.Pattern.PatternID] = r
	}
	assert.Equal(t, model.ActionAutoApply, byID["hi"].Action)
	assert.Equal(t, model.ActionSuppressed, byID["lo"].Action)
}

func TestEligibleRequiresHistory(t *testing.T) {
	assert.False(t, Eligible(model.Pattern{}))
	assert.True(t, Eligible(model.Pattern{SuccessCount: 1}))
	assert.True(t, Eligible(model.Pattern{FailureCount: 1}))
}

func TestLearnUpdatesCounters(t *testing.T) {
	p := model.Pattern{PatternID: "p1"}
	now := time.Now()
	p = Learn(p, model.ExecutionTrace{PatternID: "p1", Success: true, Timestamp: now})
	assert.Equal(t, 1, p.SuccessCount)
	assert.Equal(t, now, p.LastUsedAt)

	p = Learn(p, model.ExecutionTrace{PatternID: "p1", Success: false, Timestamp: now.Add(time.Minute)})
	assert.Equal(t, 1, p.FailureCount)
}

func TestReplayPlanCopiesSteps(t *testing.T) {
	p := model.Pattern{ReplayPlan: []model.ReplayStep{{Operation: "chunk"}, {Operation: "embed"}}}
	plan := ReplayPlan(p)
	require.Len(t, plan, 2)
	plan[0].Operation = "mutated"
	assert.Equal(t, "chunk", p.ReplayPlan[0].Operation)
}
