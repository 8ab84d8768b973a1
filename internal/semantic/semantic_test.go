package semantic

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"intelkernel/internal/model"
)

func TestAnalyzeIsDeterministic(t *testing.T) {
	text := "This document discusses kafka retry backoff idempotent writes and vector embedding search."
	entities := []model.Entity{{Kind: "section"}, {Kind: "identifier"}}

	a := Analyze("doc-1", text, entities)
	b := Analyze("doc-1", text, entities)
	assert.Equal(t, a, b)
}

func TestAnalyzeFindsDomainsAndPatterns(t *testing.T) {
	text := "We use kafka for the event bus with retry backoff and idempotent consumers."
	a := Analyze("doc-2", text, nil)
	assert.True(t, ContainsName(a.Domains, "infrastructure"))
	assert.True(t, ContainsName(a.Patterns, "retry-with-backoff"))
	assert.True(t, ContainsName(a.Patterns, "idempotent-write"))
	for _, p := range a.Patterns {
		assert.Greater(t, p.Confidence, 0.0)
		assert.LessOrEqual(t, p.Confidence, 1.0)
	}
}

func TestAnalyzeThemesFromEntityKinds(t *testing.T) {
	entities := []model.Entity{{Kind: "section"}, {Kind: "section"}, {Kind: "identifier"}}
	a := Analyze("doc-3", "", entities)

	var names []string
	for _, th := range a.Themes {
		names = append(names, th.Name)
	}
	assert.ElementsMatch(t, []string{"identifier", "section"}, names)

	// "section" covers 2 of 3 entities, "identifier" covers 1 of 3.
	for _, th := range a.Themes {
		switch th.Name {
		case "section":
			assert.InDelta(t, 2.0/3.0, th.Confidence, 0.0001)
		case "identifier":
			assert.InDelta(t, 1.0/3.0, th.Confidence, 0.0001)
		}
	}
}

func TestAnalyzeMetricsUseDocumentedKeys(t *testing.T) {
	a := Analyze("doc-4", "kafka retry backoff idempotent vector embedding search ranking", nil)
	_, hasDensity := a.Metrics[model.MetricSemanticDensity]
	_, hasCoherence := a.Metrics[model.MetricConceptualCoherence]
	_, hasConsistency := a.Metrics[model.MetricThematicConsistency]
	assert.True(t, hasDensity)
	assert.True(t, hasCoherence)
	assert.True(t, hasConsistency)
}
