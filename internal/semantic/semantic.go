// Package semantic implements the semantic analyzer Compute node (spec.md
// §4.6's companion analysis), deriving concepts/themes/domains/patterns
// from a document's text and its extracted entities, grounded on the
// text-normalization approach in internal/rag/ingest/preprocess.go and the
// weighted aggregation idiom in internal/rag/retrieve/fusion.go.
package semantic

import (
	"sort"
	"strings"

	"intelkernel/internal/model"
)

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "of": true,
	"to": true, "in": true, "is": true, "are": true, "for": true, "on": true,
	"with": true, "this": true, "that": true, "it": true, "as": true, "be": true,
}

var domainKeywords = map[string][]string{
	"infrastructure": {"kafka", "postgres", "qdrant", "kubernetes", "docker"},
	"search":         {"search", "retrieval", "ranking", "query", "index"},
	"ml":             {"embedding", "vector", "model", "training", "inference"},
	"governance":     {"policy", "compliance", "audit", "retention"},
}

var patternKeywords = map[string][]string{
	"retry-with-backoff": {"retry", "backoff"},
	"idempotent-write":   {"idempot"},
	"circuit-breaker":    {"circuit breaker"},
}

// Analyze derives a SemanticAnalysis for docID from text and its entities.
func Analyze(docID string, text string, entities []model.Entity) model.SemanticAnalysis {
	concepts := topConcepts(text, 10)
	themes := deriveThemes(entities)
	domains := deriveDomains(text)
	patterns := derivePatterns(text)

	totalWords := len(strings.Fields(text))

	metrics := map[string]float64{
		model.MetricSemanticDensity:     semanticDensity(concepts, totalWords),
		model.MetricConceptualCoherence: averageConfidence(concepts),
		model.MetricThematicConsistency: thematicConsistency(themes, len(entities)),
	}

	return model.SemanticAnalysis{
		DocID:    docID,
		Concepts: concepts,
		Themes:   themes,
		Domains:  domains,
		Patterns: patterns,
		Metrics:  metrics,
	}
}

// topConcepts ranks normalized, non-stopword tokens by frequency and
// returns the top n as ScoredTerms, with confidence normalized against the
// most frequent term and deterministic tie-breaking by lexicographic
// order (grounded on fusion.go's tie-break discipline).
func topConcepts(text string, n int) []model.ScoredTerm {
	freq := map[string]int{}
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,;:!?()[]{}\"'`")
		if len(tok) < 4 || stopwords[tok] {
			continue
		}
		freq[tok]++
	}
	type kv struct {
		k string
		v int
	}
	var ranked []kv
	for k, v := range freq {
		ranked = append(ranked, kv{k, v})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].v != ranked[j].v {
			return ranked[i].v > ranked[j].v
		}
		return ranked[i].k < ranked[j].k
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	if len(ranked) == 0 {
		return nil
	}
	maxFreq := float64(ranked[0].v)
	out := make([]model.ScoredTerm, len(ranked))
	for i, r := range ranked {
		out[i] = model.ScoredTerm{Name: r.k, Confidence: float64(r.v) / maxFreq}
	}
	return out
}

// deriveThemes groups entities by kind, scoring each theme's confidence by
// its share of all entities.
func deriveThemes(entities []model.Entity) []model.ScoredTerm {
	if len(entities) == 0 {
		return nil
	}
	counts := map[string]int{}
	for _, e := range entities {
		counts[e.Kind]++
	}
	var kinds []string
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	total := float64(len(entities))
	out := make([]model.ScoredTerm, len(kinds))
	for i, k := range kinds {
		out[i] = model.ScoredTerm{Name: k, Confidence: float64(counts[k]) / total}
	}
	return out
}

// deriveDomains matches text against each domain's keyword set, scoring
// confidence by the fraction of that domain's keywords present.
func deriveDomains(text string) []model.ScoredTerm {
	lower := strings.ToLower(text)
	var names []string
	for domain := range domainKeywords {
		names = append(names, domain)
	}
	sort.Strings(names)

	var out []model.ScoredTerm
	for _, domain := range names {
		keywords := domainKeywords[domain]
		matched := 0
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		out = append(out, model.ScoredTerm{Name: domain, Confidence: float64(matched) / float64(len(keywords))})
	}
	return out
}

// derivePatterns matches text against each pattern's trigger keywords,
// scoring confidence by the fraction of triggers present.
func derivePatterns(text string) []model.ScoredTerm {
	lower := strings.ToLower(text)
	var names []string
	for pattern := range patternKeywords {
		names = append(names, pattern)
	}
	sort.Strings(names)

	var out []model.ScoredTerm
	for _, pattern := range names {
		triggers := patternKeywords[pattern]
		matched := 0
		for _, kw := range triggers {
			if strings.Contains(lower, kw) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		out = append(out, model.ScoredTerm{Name: pattern, Confidence: float64(matched) / float64(len(triggers))})
	}
	return out
}

func semanticDensity(concepts []model.ScoredTerm, totalWords int) float64 {
	if totalWords == 0 {
		return 0
	}
	return clamp01(float64(len(concepts)) / float64(totalWords))
}

func averageConfidence(terms []model.ScoredTerm) float64 {
	if len(terms) == 0 {
		return 0
	}
	var sum float64
	for _, t := range terms {
		sum += t.Confidence
	}
	return sum / float64(len(terms))
}

// thematicConsistency rewards entity populations that cluster into few
// themes: many entities sharing a handful of kinds scores near 1, a
// population scattered across as many kinds as entities scores near 0.
func thematicConsistency(themes []model.ScoredTerm, numEntities int) float64 {
	if numEntities == 0 {
		return 0
	}
	if len(themes) == 0 {
		return 0
	}
	return clamp01(1 - (float64(len(themes)-1) / float64(numEntities)))
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

// ContainsName reports whether terms includes one with the given name,
// ignoring confidence — a convenience for callers that only need presence.
func ContainsName(terms []model.ScoredTerm, name string) bool {
	for _, t := range terms {
		if t.Name == name {
			return true
		}
	}
	return false
}
