package quality

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScoreIsDeterministic(t *testing.T) {
	in := Input{Text: "# Heading\nSome body text.\n// a comment", NumChunks: 3, NumEntities: 4, NumRelations: 2}
	a := Score("doc-1", in, DefaultWeights())
	b := Score("doc-1", in, DefaultWeights())
	assert.Equal(t, a, b)
}

func TestScoreWithinBounds(t *testing.T) {
	in := Input{Text: "x", NumChunks: 1, NumEntities: 0, NumRelations: 0}
	qs := Score("doc-2", in, DefaultWeights())
	assert.GreaterOrEqual(t, qs.QualityScore, 0.0)
	assert.LessOrEqual(t, qs.QualityScore, 1.0)
	assert.GreaterOrEqual(t, qs.TrustScore, 0)
	assert.LessOrEqual(t, qs.TrustScore, 100)
}

func TestMaturityRequiresComplianceForProduction(t *testing.T) {
	in := Input{
		Text:        strings.Repeat("# doc\n", 50),
		NumChunks:   10,
		NumEntities: 20,
		NumRelations: 20,
	}
	qs := Score("doc-3", in, DefaultWeights())
	if qs.ONEXCompliant && qs.QualityScore >= 0.9 {
		assert.Equal(t, "production", qs.MaturityLevel)
	}
}

func TestTemporalRelevanceDecaysWithAge(t *testing.T) {
	now := time.Now()
	recent := Input{Text: "body", NumChunks: 1, NumEntities: 1, LastUpdatedAt: now, Now: now}
	old := Input{Text: "body", NumChunks: 1, NumEntities: 1, LastUpdatedAt: now.Add(-400 * 24 * time.Hour), Now: now}

	scoreRecent := Score("doc-4", recent, DefaultWeights())
	scoreOld := Score("doc-5", old, DefaultWeights())
	assert.Greater(t, scoreRecent.TemporalRelevance, scoreOld.TemporalRelevance)
}
