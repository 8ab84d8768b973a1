// Package retrieve implements the hybrid search Orchestrator (spec.md
// §4.12): three-way parallel candidate generation across the semantic,
// structural, and relational signals, weighted fusion, diversification,
// and graph expansion. Generalized from internal/rag/retrieve's two-source
// (FTS/vector) fusion into a three-source, normalized-score fusion, and
// from graph_expand.go's ExpandWithGraph.
package retrieve

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"intelkernel/internal/config"
	"intelkernel/internal/vectorstore"
)

// Candidate is one scored hit from a single retrieval source, before fusion.
type Candidate struct {
	ID       string
	DocID    string
	Score    float64
	Source   string
	Metadata map[string]string
}

// SemanticSource performs vector similarity search.
type SemanticSource interface {
	SimilaritySearch(ctx context.Context, collection string, vector []float32, k int, minSimilarity float64, filter map[string]string) ([]vectorstore.Result, error)
}

// StructuralSource performs keyword/entity-name matching over ingested
// content, standing in for the teacher's full-text search source.
type StructuralSource interface {
	Search(ctx context.Context, query string, k int) ([]Candidate, error)
}

// RelationalSource expands a set of seed entity IDs via the graph.
type RelationalSource interface {
	Neighbors(ctx context.Context, entityID, rel string) ([]string, error)
}

// Request is the hybrid-search Orchestrator's input.
type Request struct {
	Query          string
	QueryEmbedding []float32
	Collection     string
	SeedEntityIDs  []string
	K              int
	MinSimilarity  float64
	Filter         map[string]string
	GraphAugment   bool
	Diversify      bool
}

// Result is one fused, ranked hit returned to the caller.
type Result struct {
	ID           string
	DocID        string
	Score        float64
	Source       string
	Breakdown    map[string]float64
	Metadata     map[string]string
	Expanded     bool
	ExpandedFrom string
}

// Diagnostics reports per-source timings, mirroring
// internal/rag/retrieve/candidates.go's SourceDiagnostics, extended to a
// third source.
type Diagnostics struct {
	SemanticLatency   time.Duration
	StructuralLatency time.Duration
	RelationalCount   int
	GraphExpanded     int
}

// Orchestrator wires the three candidate sources, fusion, diversification,
// and graph expansion into one hybrid search operation.
type Orchestrator struct {
	semantic   SemanticSource
	structural StructuralSource
	graph      RelationalSource
	fusion     config.FusionConfig
}

// NewOrchestrator builds a hybrid search Orchestrator. structural and
// graph may be nil to disable that source.
func NewOrchestrator(semantic SemanticSource, structural StructuralSource, graph RelationalSource, fusion config.FusionConfig) *Orchestrator {
	return &Orchestrator{semantic: semantic, structural: structural, graph: graph, fusion: fusion}
}

// Search runs the three sources in parallel (errgroup, per
// internal/rag/retrieve/candidates.go's fan-out-then-join idiom), fuses
// them via a weighted sum of normalized per-mode scores, optionally
// expands via the graph, optionally diversifies, and returns up to req.K
// results.
func (o *Orchestrator) Search(ctx context.Context, req Request) ([]Result, Diagnostics, error) {
	k := req.K
	if k <= 0 {
		k = 10
	}

	var semanticHits []vectorstore.Result
	var structuralHits []Candidate
	var relationalHits []Candidate
	var diag Diagnostics

	g, gctx := errgroup.WithContext(ctx)
	if o.semantic != nil && len(req.QueryEmbedding) > 0 {
		g.Go(func() error {
			t0 := time.Now()
			hits, err := o.semantic.SimilaritySearch(gctx, req.Collection, req.QueryEmbedding, k, req.MinSimilarity, req.Filter)
			diag.SemanticLatency = time.Since(t0)
			if err != nil {
				return err
			}
			semanticHits = hits
			return nil
		})
	}
	if o.structural != nil && req.Query != "" {
		g.Go(func() error {
			t0 := time.Now()
			hits, err := o.structural.Search(gctx, req.Query, k)
			diag.StructuralLatency = time.Since(t0)
			if err != nil {
				return err
			}
			structuralHits = hits
			return nil
		})
	}
	if o.graph != nil && len(req.SeedEntityIDs) > 0 {
		g.Go(func() error {
			hits, err := o.relationalCandidates(gctx, req.SeedEntityIDs)
			if err != nil {
				return err
			}
			relationalHits = hits
			diag.RelationalCount = len(hits)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, diag, err
	}

	fused := fuse(semanticHits, structuralHits, relationalHits, o.fusion)

	if req.GraphAugment && o.graph != nil {
		fused, diag.GraphExpanded = o.expandWithGraph(ctx, fused, k)
	}

	if req.Diversify {
		fused = diversify(fused, k)
	}

	if len(fused) > k {
		fused = fused[:k]
	}
	return fused, diag, nil
}

// sourcePriority orders source-mode names for tie-breaking: semantic
// ranks above structural ranks above relational, any other source (e.g.
// a graph-expansion boost) sorts last.
func sourcePriority(source string) int {
	switch source {
	case "semantic":
		return 0
	case "structural":
		return 1
	case "relational":
		return 2
	default:
		return 3
	}
}

// bestSourceOf picks the highest-priority source present in breakdown,
// for Result.Source.
func bestSourceOf(breakdown map[string]float64) string {
	for _, s := range []string{"semantic", "structural", "relational"} {
		if _, ok := breakdown[s]; ok {
			return s
		}
	}
	return ""
}

// lessByScoreThenSource orders results by score descending, then by
// source-mode priority (semantic > structural > relational), then by ID
// ascending, for deterministic ranking across every sort site.
func lessByScoreThenSource(a, b Result) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if pa, pb := sourcePriority(a.Source), sourcePriority(b.Source); pa != pb {
		return pa < pb
	}
	return a.ID < b.ID
}

// minMaxNormalize scales scores into [0, 1] within one source's candidate
// list. A zero-spread list (including a single candidate) normalizes to
// all 1s, so presence in a source still contributes its full weight.
func minMaxNormalize(scores []float64) []float64 {
	out := make([]float64, len(scores))
	if len(scores) == 0 {
		return out
	}
	min, max := scores[0], scores[0]
	for _, s := range scores {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	if max == min {
		for i := range out {
			out[i] = 1
		}
		return out
	}
	for i, s := range scores {
		out[i] = (s - min) / (max - min)
	}
	return out
}

// fuse combines up to three ranked candidate lists into a weighted sum of
// normalized per-mode scores (spec.md §4.12): each source's raw scores
// are min-max normalized independently, then combined as
// sum_source weight_source * normalized_score_source, summed over every
// source the ID appears in. Ties break via lessByScoreThenSource.
func fuse(semantic []vectorstore.Result, structural []Candidate, relational []Candidate, cfg config.FusionConfig) []Result {
	type acc struct {
		docID     string
		metadata  map[string]string
		score     float64
		breakdown map[string]float64
	}
	byID := map[string]*acc{}
	order := []string{}
	get := func(id string) *acc {
		if a, ok := byID[id]; ok {
			return a
		}
		a := &acc{breakdown: map[string]float64{}, metadata: map[string]string{}}
		byID[id] = a
		order = append(order, id)
		return a
	}
	addNormalized := func(ids []string, rawScores []float64, weight float64, source string, metaOf func(string) map[string]string) {
		norm := minMaxNormalize(rawScores)
		for i, id := range ids {
			contrib := weight * norm[i]
			a := get(id)
			a.score += contrib
			a.breakdown[source] = contrib
			if md := metaOf(id); md != nil {
				for mk, mv := range md {
					a.metadata[mk] = mv
				}
			}
		}
	}

	semIDs := make([]string, len(semantic))
	semScores := make([]float64, len(semantic))
	semMeta := map[string]map[string]string{}
	for i, r := range semantic {
		semIDs[i] = r.ID
		semScores[i] = r.Score
		semMeta[r.ID] = r.Metadata
	}
	addNormalized(semIDs, semScores, cfg.WeightSemantic, "semantic", func(id string) map[string]string { return semMeta[id] })

	structIDs := make([]string, len(structural))
	structScores := make([]float64, len(structural))
	structMeta := map[string]map[string]string{}
	for i, c := range structural {
		structIDs[i] = c.ID
		structScores[i] = c.Score
		structMeta[c.ID] = c.Metadata
		get(c.ID).docID = c.DocID
	}
	addNormalized(structIDs, structScores, cfg.WeightStructural, "structural", func(id string) map[string]string { return structMeta[id] })

	relIDs := make([]string, len(relational))
	relScores := make([]float64, len(relational))
	relMeta := map[string]map[string]string{}
	for i, c := range relational {
		relIDs[i] = c.ID
		relScores[i] = c.Score
		relMeta[c.ID] = c.Metadata
		get(c.ID).docID = c.DocID
	}
	addNormalized(relIDs, relScores, cfg.WeightRelational, "relational", func(id string) map[string]string { return relMeta[id] })

	out := make([]Result, 0, len(order))
	for _, id := range order {
		a := byID[id]
		docID := a.docID
		if docID == "" {
			docID = deriveDocID(id, a.metadata)
		}
		out = append(out, Result{
			ID: id, DocID: docID, Score: a.score, Source: bestSourceOf(a.breakdown),
			Breakdown: a.breakdown, Metadata: a.metadata,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return lessByScoreThenSource(out[i], out[j]) })
	return out
}

func deriveDocID(id string, md map[string]string) string {
	if docID, ok := md["doc_id"]; ok && docID != "" {
		return docID
	}
	return id
}

// relationalCandidates ranks entities one hop out from seedIDs by the
// number of distinct seeds that reach them, the relational signal fed
// into fuse alongside the semantic and structural sources.
func (o *Orchestrator) relationalCandidates(ctx context.Context, seedIDs []string) ([]Candidate, error) {
	hitCount := map[string]int{}
	for _, seed := range seedIDs {
		neighbors, err := o.graph.Neighbors(ctx, seed, "mentions")
		if err != nil {
			return nil, err
		}
		for _, nid := range neighbors {
			hitCount[nid]++
		}
	}
	out := make([]Candidate, 0, len(hitCount))
	for id, count := range hitCount {
		out = append(out, Candidate{ID: id, DocID: id, Score: float64(count), Source: "relational"})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return lessByScoreThenSource(Result{Score: out[i].Score, ID: out[i].ID, Source: out[i].Source},
			Result{Score: out[j].Score, ID: out[j].ID, Source: out[j].Source})
	})
	return out, nil
}

// expandWithGraph walks one hop of neighbors ("mentions") from the top-N
// fused seeds, appending any not already present with a small additive
// boost, per internal/rag/retrieve/graph_expand.go's ExpandWithGraph.
func (o *Orchestrator) expandWithGraph(ctx context.Context, fused []Result, topN int) ([]Result, int) {
	if topN > len(fused) {
		topN = len(fused)
	}
	const boost = 0.01
	const maxPerSeed = 3
	seen := make(map[string]bool, len(fused))
	for _, r := range fused {
		seen[r.ID] = true
	}
	expanded := 0
	out := append([]Result(nil), fused...)
	for i := 0; i < topN; i++ {
		seed := fused[i]
		neighbors, err := o.graph.Neighbors(ctx, seed.DocID, "mentions")
		if err != nil {
			continue
		}
		count := 0
		for _, nid := range neighbors {
			if seen[nid] {
				continue
			}
			seen[nid] = true
			out = append(out, Result{
				ID: nid, DocID: nid, Score: seed.Score + boost, Source: "relational",
				Breakdown:    map[string]float64{"graph_boost": boost},
				Metadata:     map[string]string{"expanded_from": seed.ID},
				Expanded:     true,
				ExpandedFrom: seed.ID,
			})
			expanded++
			count++
			if count >= maxPerSeed {
				break
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return lessByScoreThenSource(out[i], out[j]) })
	return out, expanded
}

// diversify greedily re-ranks results so consecutive hits favor distinct
// doc_ids, capping same-document runs, a simple maximal-marginal-relevance
// stand-in appropriate for a deterministic Compute step.
func diversify(in []Result, k int) []Result {
	if len(in) <= 1 {
		return in
	}
	const maxPerDoc = 2
	perDoc := map[string]int{}
	var primary, overflow []Result
	for _, r := range in {
		if perDoc[r.DocID] < maxPerDoc {
			primary = append(primary, r)
			perDoc[r.DocID]++
		} else {
			overflow = append(overflow, r)
		}
	}
	out := append(primary, overflow...)
	if len(out) > k && k > 0 {
		out = out[:k]
	}
	return out
}
