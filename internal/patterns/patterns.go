// Package patterns implements the Pattern learning and matching Compute
// node (spec.md §4.10), generalizing the weighted-sum/tie-break idiom of
// internal/rag/retrieve/fusion.go's FuseRRF from a two-source rank fusion
// into a five-factor pattern match score.
package patterns

import (
	"math"
	"sort"
	"strings"

	"intelkernel/internal/config"
	"intelkernel/internal/model"
)

// QueryContext is the candidate-matching input: the situation a caller
// wants to find a success pattern for.
type QueryContext struct {
	Keywords  []string
	Intent    string
	Context   model.MatchContext
	Embedding []float32
}

// Matcher scores candidate patterns against a query context and assigns
// an action per the configured thresholds.
type Matcher struct {
	weights config.PatternConfig
}

// NewMatcher builds a Matcher from the pattern section of process
// configuration.
func NewMatcher(cfg config.PatternConfig) Matcher {
	return Matcher{weights: cfg}
}

// Match scores every candidate pattern against qc and returns results
// sorted by score descending, then pattern_id ascending for determinism,
// mirroring fusion.go's sort-by-score-then-tiebreak idiom.
func (m Matcher) Match(qc QueryContext, candidates []model.Pattern) []model.MatchResult {
	out := make([]model.MatchResult, 0, len(candidates))
	for _, p := range candidates {
		breakdown := map[string]float64{
			"semantic":   cosineSim(qc.Embedding, p.Embedding),
			"keyword":    jaccard(qc.Keywords, p.Keywords),
			"intent":     intentMatch(qc.Intent, p.Intent),
			"context":    contextFit(qc.Context, p.Context),
			"historical": p.SuccessRate(),
		}
		score := m.weights.WeightSemantic*breakdown["semantic"] +
			m.weights.WeightKeyword*breakdown["keyword"] +
			m.weights.WeightIntent*breakdown["intent"] +
			m.weights.WeightContext*breakdown["context"] +
			m.weights.WeightHistorical*breakdown["historical"]

		out = append(out, model.MatchResult{
			Pattern:   p,
			Score:     score,
			Action:    m.actionFor(score),
			Breakdown: breakdown,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Pattern.PatternID < out[j].Pattern.PatternID
	})
	return out
}

// actionFor applies spec.md §4.10's three-tier threshold: auto_apply at or
// above AutoApplyThreshold, suggest between SuggestThreshold and
// AutoApplyThreshold, suppressed below SuggestThreshold.
func (m Matcher) actionFor(score float64) model.MatchAction {
	switch {
	case score >= m.weights.AutoApplyThreshold:
		return model.ActionAutoApply
	case score >= m.weights.SuggestThreshold:
		return model.ActionSuggest
	default:
		return model.ActionSuppressed
	}
}

func cosineSim(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	for _, x := range a {
		na += float64(x) * float64(x)
	}
	for _, x := range b {
		nb += float64(x) * float64(x)
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := toSet(a)
	setB := toSet(b)
	inter := 0
	for k := range setA {
		if setB[k] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func toSet(vals []string) map[string]bool {
	s := make(map[string]bool, len(vals))
	for _, v := range vals {
		s[strings.ToLower(strings.TrimSpace(v))] = true
	}
	return s
}

// intentMatch is a binary score: 1.0 when the two intents are equal
// (case/whitespace-insensitive), 0.3 otherwise, per spec.md §4.10.
func intentMatch(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a != "" && a == b {
		return 1.0
	}
	return 0.3
}

// contextFit is a binary score over the query and pattern's MatchContext:
// 1.0 when their domains match, 0.5 otherwise, per spec.md §4.10.
// PreviousAgent and FileExtension are carried on MatchContext for
// downstream replay/audit but do not affect this score.
func contextFit(a, b model.MatchContext) float64 {
	if a.Domain != "" && strings.EqualFold(a.Domain, b.Domain) {
		return 1.0
	}
	return 0.5
}

// Eligible reports whether p has enough observation history to be
// considered for matching at all, per spec.md §4.10's eligibility gate:
// a pattern needs at least one recorded outcome before it can compete.
func Eligible(p model.Pattern) bool {
	return p.SuccessCount+p.FailureCount > 0
}

// ReplayPlan builds the ordered execution steps for applying p, copied
// from the pattern's stored plan. Returned independently of Match so an
// orchestrator can replay a specific pattern without re-scoring it.
func ReplayPlan(p model.Pattern) []model.ReplayStep {
	plan := make([]model.ReplayStep, len(p.ReplayPlan))
	copy(plan, p.ReplayPlan)
	return plan
}

// Learn folds an execution trace's outcome into a pattern snapshot,
// returning the updated pattern for the caller to persist via
// patternstore. It does not itself perform I/O, keeping this package a
// pure Compute node per spec.md §4.1.
func Learn(p model.Pattern, trace model.ExecutionTrace) model.Pattern {
	if trace.Success {
		p.SuccessCount++
	} else {
		p.FailureCount++
	}
	p.LastUsedAt = trace.Timestamp
	return p
}
