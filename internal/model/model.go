// Package model holds the data shapes shared across node boundaries,
// expanded from internal/rag/ingest's request/response types and
// internal/rag/retrieve's RetrievedItem into the full spec.md §3 data
// model.
package model

import "time"

// Entity is a named, typed thing extracted from ingested content.
type Entity struct {
	EntityID      string            `json:"entity_id"`
	Kind          string            `json:"kind"`
	Name          string            `json:"name"`
	SignatureHash string            `json:"signature_hash"`
	SourceDocID   string            `json:"source_doc_id"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Relationship connects two entities.
type Relationship struct {
	SourceID   string            `json:"source_id"`
	TargetID   string            `json:"target_id"`
	Kind       string            `json:"kind"`
	Weight     float64           `json:"weight"`
	Attributes map[string]string `json:"attributes,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Chunk is one semantically coherent slice of a document.
type Chunk struct {
	ChunkID     string `json:"chunk_id"`
	DocID       string `json:"doc_id"`
	Index       int    `json:"index"`
	Text        string `json:"text"`
	ContentHash string `json:"content_hash"`
	TokenCount  int    `json:"token_count"`
	StartLine   int    `json:"start_line,omitempty"`
	EndLine     int    `json:"end_line,omitempty"`
	// Kind names the structural element the chunk was split on
	// ("heading", "function", "paragraph"), per spec.md §3.
	Kind string `json:"kind"`
	// Boundary names what rule produced the chunk's edge ("heading",
	// "blank_line", "brace_depth", "token_limit").
	Boundary string `json:"boundary"`
}

// ChunkDiffStatus classifies a chunk's state relative to its previous
// ingested version, per spec.md §4.4.
type ChunkDiffStatus string

const (
	ChunkUnchanged ChunkDiffStatus = "UNCHANGED"
	ChunkModified  ChunkDiffStatus = "MODIFIED"
	ChunkAdded     ChunkDiffStatus = "ADDED"
	ChunkRemoved   ChunkDiffStatus = "REMOVED"
)

// ScoredTerm is one labeled finding from the semantic analyzer, carrying
// a confidence in [0,1] rather than a bare string, per spec.md §3.
type ScoredTerm struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// SemanticAnalysis is the aggregate output of the semantic analyzer
// Compute node for one document.
type SemanticAnalysis struct {
	DocID    string             `json:"doc_id"`
	Concepts []ScoredTerm       `json:"concepts"`
	Themes   []ScoredTerm       `json:"themes"`
	Domains  []ScoredTerm       `json:"domains"`
	Patterns []ScoredTerm       `json:"patterns"`
	Metrics  map[string]float64 `json:"metrics"`
}

// Semantic analysis metric keys, per spec.md §3.
const (
	MetricSemanticDensity     = "semantic_density"
	MetricConceptualCoherence = "conceptual_coherence"
	MetricThematicConsistency = "thematic_consistency"
)

// QualityScore is the output of the quality scorer Compute node.
type QualityScore struct {
	DocID             string  `json:"doc_id"`
	QualityScore      float64 `json:"quality_score"`
	ONEXCompliance    float64 `json:"onex_compliance"`
	ONEXCompliant     bool    `json:"onex_compliant"`
	Complexity        float64 `json:"complexity"`
	Maintainability   float64 `json:"maintainability"`
	Documentation     float64 `json:"documentation"`
	TemporalRelevance float64 `json:"temporal_relevance"`
	MaturityLevel     string  `json:"maturity_level"`
	TrustScore        int     `json:"trust_score"`
}

// Maturity level thresholds, per spec.md §4.6.
const (
	MaturityProduction = "production"
	MaturityStable     = "stable"
	MaturityBeta       = "beta"
	MaturityAlpha      = "alpha"
)

// DeriveMaturity maps quality_score/onex_compliance to a maturity level.
// Both inputs are continuous scores in [0,1]; a level requires both scores
// to clear its threshold (spec.md §8 S6).
func DeriveMaturity(qualityScore, onexCompliance float64) string {
	switch {
	case qualityScore >= 0.9 && onexCompliance >= 0.9:
		return MaturityProduction
	case qualityScore >= 0.75 && onexCompliance >= 0.75:
		return MaturityStable
	case qualityScore >= 0.6 && onexCompliance >= 0.6:
		return MaturityBeta
	default:
		return MaturityAlpha
	}
}

// TrustScore derives the 0-100 trust score from a quality score.
func TrustScore(qualityScore float64) int {
	v := int(qualityScore*100 + 0.5)
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	return v
}

// MatchContext identifies the situation a pattern was learned in or is
// being matched against, per spec.md §4.10's context-fit scoring.
type MatchContext struct {
	Domain        string `json:"domain"`
	PreviousAgent string `json:"previous_agent,omitempty"`
	FileExtension string `json:"file_extension,omitempty"`
}

// Pattern is a learned success pattern (spec.md §4.9/§4.10).
type Pattern struct {
	PatternID   string            `json:"pattern_id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Keywords    []string          `json:"keywords"`
	Intent      string            `json:"intent"`
	Context     MatchContext      `json:"context"`
	Embedding   []float32         `json:"embedding,omitempty"`
	SuccessCount int              `json:"success_count"`
	FailureCount int              `json:"failure_count"`
	ReplayPlan   []ReplayStep     `json:"replay_plan"`
	CreatedAt    time.Time        `json:"created_at"`
	LastUsedAt   time.Time        `json:"last_used_at"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	// Active is false once PruneStale has soft-deleted the pattern for
	// a sustained success_rate below the configured retention floor.
	Active bool `json:"active"`
	// BelowFloorSince marks when success_rate first dropped below the
	// retention floor; nil while the pattern is healthy. Reset to nil
	// the moment success_rate recovers.
	BelowFloorSince *time.Time `json:"below_floor_since,omitempty"`
}

// ReplayStep is one step of a pattern's replay plan.
type ReplayStep struct {
	Operation string            `json:"operation"`
	Params    map[string]string `json:"params,omitempty"`
}

// SuccessRate returns the pattern's historical success ratio, 0 when
// unused.
func (p Pattern) SuccessRate() float64 {
	total := p.SuccessCount + p.FailureCount
	if total == 0 {
		return 0
	}
	return float64(p.SuccessCount) / float64(total)
}

// MatchAction is the decision the pattern matcher takes for a given score,
// per spec.md §4.10's action thresholds.
type MatchAction string

const (
	ActionAutoApply  MatchAction = "auto_apply"
	ActionSuggest    MatchAction = "suggest"
	ActionSuppressed MatchAction = "suppressed"
)

// MatchResult is one scored candidate pattern for a query context.
type MatchResult struct {
	Pattern Pattern     `json:"pattern"`
	Score   float64     `json:"score"`
	Action  MatchAction `json:"action"`
	Breakdown map[string]float64 `json:"breakdown"`
}

// ExecutionTrace records one pattern application outcome, feeding the
// pattern_usage_log feedback loop.
type ExecutionTrace struct {
	TraceID   string    `json:"trace_id"`
	PatternID string    `json:"pattern_id"`
	Success   bool      `json:"success"`
	Context   string    `json:"context"`
	Timestamp time.Time `json:"timestamp"`
}
