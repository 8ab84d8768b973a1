// Package quality implements the quality scorer Compute node (spec.md
// §4.6): a deterministic, side-effect-free weighted combination of
// sub-metrics, grounded on the weighted-sum idiom in
// internal/rag/retrieve/fusion.go (FuseRRF's wft/wvec combination).
package quality

import (
	"strings"
	"time"

	"intelkernel/internal/model"
)

// Weights controls the contribution of each sub-metric to the overall
// quality_score. Defaults are a simple near-even split (0.25/0.30/0.25/0.20)
// since spec.md leaves exact sub-weights as an Open Question.
type Weights struct {
	Complexity        float64
	Maintainability   float64
	Documentation     float64
	TemporalRelevance float64
}

// DefaultWeights sums to 1.0.
func DefaultWeights() Weights {
	return Weights{Complexity: 0.25, Maintainability: 0.30, Documentation: 0.25, TemporalRelevance: 0.20}
}

// Input bundles what the scorer needs about a document to produce a
// QualityScore without touching any external store.
type Input struct {
	Text          string
	NumChunks     int
	NumEntities   int
	NumRelations  int
	LastUpdatedAt time.Time
	Now           time.Time
}

// Score computes the QualityScore for in, using w to weight sub-metrics.
func Score(docID string, in Input, w Weights) model.QualityScore {
	complexity := complexityScore(in)
	maintainability := maintainabilityScore(in)
	documentation := documentationScore(in)
	temporal := temporalRelevanceScore(in)

	quality := w.Complexity*complexity + w.Maintainability*maintainability +
		w.Documentation*documentation + w.TemporalRelevance*temporal

	compliance := onexComplianceScore(in, documentation, complexity)

	qs := model.QualityScore{
		DocID:             docID,
		QualityScore:      clamp01(quality),
		ONEXCompliance:    compliance,
		ONEXCompliant:     compliance >= 0.75,
		Complexity:        clamp01(complexity),
		Maintainability:   clamp01(maintainability),
		Documentation:     clamp01(documentation),
		TemporalRelevance: clamp01(temporal),
	}
	qs.MaturityLevel = model.DeriveMaturity(qs.QualityScore, qs.ONEXCompliance)
	qs.TrustScore = model.TrustScore(qs.QualityScore)
	return qs
}

// onexComplianceScore is a continuous 0-1 estimate of how well the
// document follows ONEX node conventions: documented (headings/comments),
// structurally non-trivial (some entities/relations extracted), and of
// moderate complexity — the same signals the boolean gate used to check,
// expressed as a weighted average instead of an AND of thresholds.
func onexComplianceScore(in Input, documentation, complexity float64) float64 {
	entityCoverage := 0.0
	if in.NumChunks > 0 {
		entityCoverage = clamp01(float64(in.NumEntities) / float64(in.NumChunks))
	}
	return clamp01(0.4*documentation + 0.3*complexity + 0.3*entityCoverage)
}

// complexityScore rewards documents with a moderate number of extracted
// entities and relationships per chunk — too few suggests under-structured
// content, too many suggests an unwieldy document.
func complexityScore(in Input) float64 {
	if in.NumChunks == 0 {
		return 0
	}
	density := float64(in.NumEntities+in.NumRelations) / float64(in.NumChunks)
	// Peak around density == 2, tapering off on both sides.
	d := density - 2
	score := 1 - (d*d)/9
	return clamp01(score)
}

// maintainabilityScore approximates readability via average line length:
// very long unbroken lines score lower.
func maintainabilityScore(in Input) float64 {
	lines := strings.Split(in.Text, "\n")
	if len(lines) == 0 {
		return 0
	}
	var total int
	for _, ln := range lines {
		total += len(ln)
	}
	avg := float64(total) / float64(len(lines))
	if avg <= 80 {
		return 1
	}
	if avg >= 400 {
		return 0
	}
	return 1 - (avg-80)/320
}

// documentationScore estimates documentation density from the ratio of
// heading/comment-like lines to total lines.
func documentationScore(in Input) float64 {
	lines := strings.Split(in.Text, "\n")
	if len(lines) == 0 {
		return 0
	}
	var docLines int
	for _, ln := range lines {
		trimmed := strings.TrimSpace(ln)
		if strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "*") {
			docLines++
		}
	}
	ratio := float64(docLines) / float64(len(lines))
	// Saturate at a 20% documentation-line ratio.
	return clamp01(ratio / 0.2)
}

// temporalRelevanceScore decays linearly over a 365-day window since the
// document was last updated.
func temporalRelevanceScore(in Input) float64 {
	if in.LastUpdatedAt.IsZero() || in.Now.IsZero() {
		return 1
	}
	age := in.Now.Sub(in.LastUpdatedAt)
	const window = 365 * 24 * time.Hour
	if age <= 0 {
		return 1
	}
	if age >= window {
		return 0
	}
	return 1 - float64(age)/float64(window)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
