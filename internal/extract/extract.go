// Package extract implements the entity/relationship extractor Compute
// nodes (spec.md §4.5), adapted from the EntityExtractor/LinkExtractor
// interfaces in internal/rag/ingest/index_graph.go, which the teacher left
// as no-op scaffolding.
package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"intelkernel/internal/model"
)

// EntityExtractor finds entities mentioned in a chunk of text.
type EntityExtractor interface {
	ExtractEntities(docID string, text string) []model.Entity
}

// RelationshipExtractor finds relationships between entities already
// identified in a document.
type RelationshipExtractor interface {
	ExtractRelationships(docID string, entities []model.Entity, text string) []model.Relationship
}

// HeuristicExtractor is a regex/heuristic-based extractor suited to
// markdown and source-like text: headings and identifiers become
// entities, and co-occurrence within a line becomes a "mentions"
// relationship. It is deterministic (a Compute node) and requires no
// external NLP service, consistent with spec.md §1's decision to treat
// parsers/taggers as pluggable and out of scope for this kernel.
type HeuristicExtractor struct{}

var (
	headingRe   = regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`)
	identifierRe = regexp.MustCompile(`\b([A-Z][a-zA-Z0-9]{2,}(?:[A-Z][a-zA-Z0-9]*)*)\b`)
)

// ExtractEntities returns one entity per markdown heading and one per
// capitalized word of at least three letters or digits (CamelCase
// identifiers included), deduplicated by normalized name.
func (HeuristicExtractor) ExtractEntities(docID string, text string) []model.Entity {
	now := time.Now()
	seen := map[string]bool{}
	var out []model.Entity

	add := func(name, kind string) {
		norm := strings.ToLower(strings.TrimSpace(name))
		if norm == "" || seen[norm] {
			return
		}
		seen[norm] = true
		out = append(out, model.Entity{
			EntityID:      entityID(docID, kind, norm),
			Kind:          kind,
			Name:          strings.TrimSpace(name),
			SignatureHash: signatureHash(kind, norm),
			SourceDocID:   docID,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}

	for _, m := range headingRe.FindAllStringSubmatch(text, -1) {
		add(m[1], "section")
	}
	for _, m := range identifierRe.FindAllString(text, -1) {
		add(m, "identifier")
	}
	return out
}

// ExtractRelationships derives a "mentions" relationship between each
// pair of entities whose names co-occur within a line of the document,
// weighted by how many times they do; a pair that never co-occurs gets no
// relationship.
func (HeuristicExtractor) ExtractRelationships(docID string, entities []model.Entity, text string) []model.Relationship {
	if len(entities) < 2 {
		return nil
	}
	lines := strings.Split(text, "\n")
	now := time.Now()
	var out []model.Relationship
	for i := 0; i < len(entities); i++ {
		for j := i + 1; j < len(entities); j++ {
			weight := coOccurrenceWeight(entities[i].Name, entities[j].Name, lines)
			if weight <= 0 {
				continue
			}
			out = append(out, model.Relationship{
				SourceID:  entities[i].EntityID,
				TargetID:  entities[j].EntityID,
				Kind:      "mentions",
				Weight:    weight,
				CreatedAt: now,
			})
		}
	}
	_ = docID
	return out
}

func coOccurrenceWeight(a, b string, lines []string) float64 {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	var count int
	for _, ln := range lines {
		lln := strings.ToLower(ln)
		if strings.Contains(lln, la) && strings.Contains(lln, lb) {
			count++
		}
	}
	if count == 0 {
		return 0
	}
	// Diminishing returns per additional co-occurrence, capped at 1.0.
	w := 1 - 1/float64(count+1)
	return w
}

func entityID(docID, kind, norm string) string {
	return "entity:" + kind + ":" + signatureHash(kind, norm)[:16]
}

func signatureHash(kind, norm string) string {
	sum := sha256.Sum256([]byte(kind + "|" + norm))
	return hex.EncodeToString(sum[:])
}
