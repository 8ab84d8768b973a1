// Package ingestion implements the ingestion pipeline Orchestrator (spec.md
// §4.2): resolve → chunk → incremental embed → extract → score → ordered
// writes → completion event. Grounded on internal/rag/service/service.go's
// staged-pipeline shape (per-stage histogram, Option-configured seams) and
// internal/rag/ingest/idempotency.go's ResolveIdempotency decision table.
package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"intelkernel/internal/chunker"
	"intelkernel/internal/embedding"
	"intelkernel/internal/extract"
	"intelkernel/internal/graphstore"
	"intelkernel/internal/model"
	"intelkernel/internal/nodekit"
	"intelkernel/internal/obs"
	"intelkernel/internal/quality"
	"intelkernel/internal/semantic"
	"intelkernel/internal/vectorstore"
)

var errMissingRequiredFields = errors.New("ingest request requires id and text")

// DocumentLookup resolves a content hash to a prior ingestion's doc/version,
// the idempotency seam generalized from internal/rag/ingest/idempotency.go's
// DocumentLookup. version is 0 when docID has never been ingested; unchanged
// reports whether contentHash matches the stored hash for docID.
type DocumentLookup interface {
	LookupByHash(ctx context.Context, docID, contentHash string) (version int, priorChunks []embedding.PriorChunk, unchanged bool, err error)
	Save(ctx context.Context, docID, contentHash string, version int, chunks []embedding.ClassifiedChunk) error
}

// Publisher is the subset of events.Publisher the orchestrator needs to
// emit a completion event.
type Publisher interface {
	Publish(ctx context.Context, topic string, env model.EventEnvelope) error
}

// Option configures an Orchestrator during construction, the teacher's
// functional-options idiom from internal/rag/service/service.go.
type Option func(*Orchestrator)

func WithLogger(l obs.Logger) Option     { return func(o *Orchestrator) { o.log = l } }
func WithMetrics(m obs.Metrics) Option   { return func(o *Orchestrator) { o.metrics = m } }
func WithClock(c obs.Clock) Option       { return func(o *Orchestrator) { o.clock = c } }
func WithCompletionTopic(t string) Option { return func(o *Orchestrator) { o.completionTopic = t } }

// Orchestrator wires the ingestion pipeline's Compute and Effect nodes
// into one transactional run.
type Orchestrator struct {
	chunker    chunker.Chunker
	embedder   embedding.Embedder
	entities   extract.EntityExtractor
	relations  extract.RelationshipExtractor
	graph      graphstore.GraphStore
	vectors    vectorstore.VectorStore
	lookup     DocumentLookup
	publisher  Publisher
	collection string
	resolver   ContentResolver

	log             obs.Logger
	metrics         obs.Metrics
	clock           obs.Clock
	completionTopic string
}

// New builds an Orchestrator from its mandatory collaborators.
func New(ch chunker.Chunker, emb embedding.Embedder, ee extract.EntityExtractor, re extract.RelationshipExtractor,
	graph graphstore.GraphStore, vectors vectorstore.VectorStore, lookup DocumentLookup, publisher Publisher, collection string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		chunker: ch, embedder: emb, entities: ee, relations: re,
		graph: graph, vectors: vectors, lookup: lookup, publisher: publisher, collection: collection,
		log: obs.NoopLogger{}, metrics: obs.NoopMetrics{}, clock: obs.SystemClock{},
		completionTopic: "document.ingested",
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Ingest runs the full pipeline for req and returns the ingestion's
// outcome, or a taxonomy error if any stage fails.
func (o *Orchestrator) Ingest(ctx context.Context, req model.IngestRequest) (model.IngestResponse, error) {
	const op = "ingestion.Ingest"
	start := o.clock.Now()
	o.metrics.IncCounter("ingestion_docs_total", map[string]string{"tenant": req.Tenant})

	if req.ID == "" || req.Text == "" {
		return model.IngestResponse{}, nodekit.Invalid(op, errMissingRequiredFields)
	}

	// Stage 1: chunk.
	t0 := o.clock.Now()
	chunks, err := o.chunker.Chunk(req.ID, req.Text, req.Options.Chunking)
	if err != nil {
		return model.IngestResponse{}, err
	}
	o.observeStage(req.Tenant, "chunk", t0)

	// Stage 2: resolve prior version against content hash for incremental
	// embedding and the configured reingest policy.
	t0 = o.clock.Now()
	version, priorChunks, skip, err := o.resolve(ctx, req, chunks)
	if err != nil {
		return model.IngestResponse{}, err
	}
	o.observeStage(req.Tenant, "resolve", t0)
	if skip {
		return model.IngestResponse{
			DocID: req.ID, Version: version,
			Stats: model.IngestStats{Duration: o.clock.Now().Sub(start)},
		}, nil
	}

	// Stage 3: incremental embedding — classify against prior chunks, embed
	// only ADDED/MODIFIED. The vector deletes for REMOVED chunks are
	// deferred to stage 6, since they target the same routed collection as
	// this run's upserts and that route isn't known until entities are
	// extracted in stage 4.
	chunksEmbedded, chunksSkipped := 0, 0
	var classifiedChunks []embedding.ClassifiedChunk
	var removedChunks []embedding.PriorChunk
	if req.Options.Embedding.Enabled {
		t0 = o.clock.Now()
		cc, removed := embedding.Classify(chunks, priorChunks)
		cc, err = embedding.EmbedChanged(ctx, o.embedder, cc)
		if err != nil {
			return model.IngestResponse{}, err
		}
		classifiedChunks = cc
		removedChunks = removed
		for _, c := range cc {
			if c.Status == model.ChunkAdded || c.Status == model.ChunkModified {
				chunksEmbedded++
			} else {
				chunksSkipped++
			}
		}
		o.observeStage(req.Tenant, "embed", t0)
	}

	// Stage 4: extract entities and relationships.
	var allEntities []model.Entity
	var allRelations []model.Relationship
	if req.Options.Extraction.Enabled {
		t0 = o.clock.Now()
		allEntities = o.entities.ExtractEntities(req.ID, req.Text)
		allRelations = o.relations.ExtractRelationships(req.ID, allEntities, req.Text)
		o.observeStage(req.Tenant, "extract", t0)
	}

	// Stage 5: semantic analysis and quality scoring (Compute, no I/O).
	t0 = o.clock.Now()
	analysis := semantic.Analyze(req.ID, req.Text, allEntities)
	qs := quality.Score(req.ID, quality.Input{
		Text: req.Text, NumChunks: len(chunks), NumEntities: len(allEntities),
		NumRelations: len(allRelations), LastUpdatedAt: o.clock.Now(), Now: o.clock.Now(),
	}, quality.DefaultWeights())
	o.observeStage(req.Tenant, "score", t0)

	// Stage 6: ordered writes — graph entities before relationships, then
	// vectors — per spec.md §4.2's write-ordering invariant. Vectors route
	// to a collection derived from the document's type and its dominant
	// extracted entity kind (spec.md §4.7), rather than one fixed
	// collection for every document.
	t0 = o.clock.Now()
	vectorUpserts := 0
	if len(allEntities) > 0 || len(allRelations) > 0 {
		if err := o.graph.BatchUpsert(ctx, allEntities, allRelations); err != nil {
			return model.IngestResponse{}, err
		}
	}
	route := vectorstore.RouteCollection(o.collection, docType(req), entityKinds(allEntities))
	if req.Options.Embedding.Enabled {
		for _, r := range removedChunks {
			if err := o.vectors.Delete(ctx, route, r.ChunkID); err != nil {
				return model.IngestResponse{}, err
			}
		}
		for _, c := range classifiedChunks {
			if len(c.Vector) == 0 {
				continue
			}
			if err := o.vectors.Upsert(ctx, route, c.Chunk.ChunkID, c.Vector, map[string]string{
				"doc_id": req.ID, "tenant": req.Tenant,
			}); err != nil {
				return model.IngestResponse{}, err
			}
			vectorUpserts++
		}
	}
	o.observeStage(req.Tenant, "write", t0)

	if o.lookup != nil && req.Options.Embedding.Enabled {
		if err := o.lookup.Save(ctx, req.ID, combinedHash(chunks), version, classifiedChunks); err != nil {
			return model.IngestResponse{}, err
		}
	}

	chunkIDs := make([]string, len(chunks))
	for i, c := range chunks {
		chunkIDs[i] = c.ChunkID
	}
	tokens := 0
	for _, c := range chunks {
		tokens += c.TokenCount
	}

	resp := model.IngestResponse{
		DocID: req.ID, Version: version, ChunkIDs: chunkIDs, Quality: qs, Semantic: analysis,
		Stats: model.IngestStats{
			NumChunks: len(chunks), NumEntities: len(allEntities), NumRelations: len(allRelations),
			TotalTokens: tokens, VectorUpserts: vectorUpserts, ChunksEmbed: chunksEmbedded,
			ChunksSkipped: chunksSkipped, Duration: o.clock.Now().Sub(start),
		},
	}

	// Stage 7: completion event.
	if o.publisher != nil {
		env := model.EventEnvelope{
			EventID: req.ID + ":" + strconv.Itoa(version), EventType: o.completionTopic,
			SchemaVersion: 1, Timestamp: o.clock.Now(), Source: "ingestion",
			Metadata: map[string]string{"doc_id": req.ID, "tenant": req.Tenant},
		}
		if err := o.publisher.Publish(ctx, o.completionTopic, env); err != nil {
			o.log.Error("ingestion: completion event publish failed", map[string]any{"doc_id": req.ID, "error": err.Error()})
		}
	}

	o.metrics.ObserveHistogram("ingestion_stage_ms", float64(resp.Stats.Duration.Milliseconds()), map[string]string{"stage": "total", "tenant": req.Tenant})
	return resp, nil
}

func (o *Orchestrator) resolve(ctx context.Context, req model.IngestRequest, chunks []model.Chunk) (version int, prior []embedding.PriorChunk, skip bool, err error) {
	firstVersion := req.Options.Version
	if firstVersion == 0 {
		firstVersion = 1
	}
	if o.lookup == nil {
		return firstVersion, nil, false, nil
	}
	contentHash := combinedHash(chunks)
	ver, priorChunks, unchanged, lookupErr := o.lookup.LookupByHash(ctx, req.ID, contentHash)
	if lookupErr != nil {
		return 0, nil, false, lookupErr
	}
	found := ver > 0 // LookupByHash returns version 0 only when docID has never been ingested.
	switch req.Options.ReingestPolicy {
	case model.ReingestSkipIfUnchanged:
		if unchanged {
			return ver, priorChunks, true, nil
		}
		if found {
			return ver, priorChunks, false, nil
		}
		return firstVersion, nil, false, nil
	case model.ReingestNewVersion:
		if found {
			return ver + 1, priorChunks, false, nil
		}
		return firstVersion, nil, false, nil
	default: // overwrite
		if found {
			return ver, priorChunks, false, nil
		}
		return firstVersion, nil, false, nil
	}
}

func (o *Orchestrator) observeStage(tenant, stage string, t0 time.Time) {
	o.metrics.ObserveHistogram("ingestion_stage_ms", float64(o.clock.Now().Sub(t0).Milliseconds()), map[string]string{"stage": stage, "tenant": tenant})
}

func combinedHash(chunks []model.Chunk) string {
	h := sha256.New()
	for _, c := range chunks {
		h.Write([]byte(c.ContentHash))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// docType classifies a request for vector-collection routing: the
// chunking strategy already names how the content is structured
// (markdown/code/fixed), which is a more stable signal than language or
// file extension alone.
func docType(req model.IngestRequest) string {
	if s := req.Options.Chunking.Strategy; s != "" {
		return s
	}
	if req.Language != "" {
		return req.Language
	}
	return "generic"
}

// entityKinds returns the Kind of every extracted entity, duplicates
// included, for RouteCollection's dominant-kind tally.
func entityKinds(entities []model.Entity) []string {
	kinds := make([]string, len(entities))
	for i, e := range entities {
		kinds[i] = e.Kind
	}
	return kinds
}
