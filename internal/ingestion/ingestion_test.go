package ingestion

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intelkernel/internal/chunker"
	"intelkernel/internal/embedding"
	"intelkernel/internal/extract"
	"intelkernel/internal/graphstore"
	"intelkernel/internal/model"
	"intelkernel/internal/vectorstore"
)

// fakeLookup is a DocumentLookup test double keyed on doc ID, recording
// version/content hash/prior chunks exactly as a real idempotency store
// would.
type fakeLookup struct {
	mu      sync.Mutex
	hash    map[string]string
	version map[string]int
	prior   map[string][]embedding.PriorChunk
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{hash: map[string]string{}, version: map[string]int{}, prior: map[string][]embedding.PriorChunk{}}
}

func (f *fakeLookup) LookupByHash(_ context.Context, docID, contentHash string) (int, []embedding.PriorChunk, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prevHash, ok := f.hash[docID]
	if !ok {
		return 0, nil, false, nil
	}
	return f.version[docID], f.prior[docID], prevHash == contentHash, nil
}

func (f *fakeLookup) record(docID, contentHash string, version int, prior []embedding.PriorChunk) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hash[docID] = contentHash
	f.version[docID] = version
	f.prior[docID] = prior
}

// Save lets production Ingest calls run against this double without
// requiring every test to separately prime state via record.
func (f *fakeLookup) Save(_ context.Context, docID, contentHash string, version int, chunks []embedding.ClassifiedChunk) error {
	prior := make([]embedding.PriorChunk, len(chunks))
	for i, c := range chunks {
		prior[i] = embedding.PriorChunk{ChunkID: c.Chunk.ChunkID, ContentHash: c.Chunk.ContentHash, Vector: c.Vector}
	}
	f.record(docID, contentHash, version, prior)
	return nil
}

// fakePublisher records every event published to it and can be made to
// fail the next call once.
type fakePublisher struct {
	mu       sync.Mutex
	events   []model.EventEnvelope
	topics   []string
	failNext bool
}

func (f *fakePublisher) Publish(_ context.Context, topic string, env model.EventEnvelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return assert.AnError
	}
	f.topics = append(f.topics, topic)
	f.events = append(f.events, env)
	return nil
}

func newOrchestrator(lookup DocumentLookup, pub Publisher) (*Orchestrator, *vectorstore.Memory, *graphstore.Memory) {
	vectors := vectorstore.NewMemory()
	vectors.Declare(context.Background(), "docs", 16)
	graph := graphstore.NewMemory()
	o := New(
		chunker.SemanticChunker{},
		embedding.NewDeterministicEmbedder(16),
		extract.HeuristicExtractor{},
		extract.HeuristicExtractor{},
		graph, vectors, lookup, pub, "docs",
	)
	return o, vectors, graph
}

func baseRequest(id, text string) model.IngestRequest {
	return model.IngestRequest{
		ID: id, Text: text, Tenant: "acme",
		Options: model.IngestOptions{
			Chunking:       model.ChunkingOptions{Strategy: "generic", MaxTokens: 200, Overlap: 0},
			Embedding:      model.EmbeddingOptions{Enabled: true, Dimensions: 16},
			Extraction:     model.ExtractionOptions{Enabled: true, ExtractEntities: true},
			ReingestPolicy: model.ReingestSkipIfUnchanged,
		},
	}
}

// hashFor mirrors what the orchestrator itself would compute for req, so
// tests can prime a fakeLookup as if a prior ingestion had already run.
func hashFor(t *testing.T, req model.IngestRequest) (string, []embedding.PriorChunk) {
	t.Helper()
	chunks, err := chunker.SemanticChunker{}.Chunk(req.ID, req.Text, req.Options.Chunking)
	require.NoError(t, err)
	prior := make([]embedding.PriorChunk, len(chunks))
	for i, c := range chunks {
		prior[i] = embedding.PriorChunk{ChunkID: c.ChunkID, ContentHash: c.ContentHash}
	}
	return combinedHash(chunks), prior
}

func TestIngestFirstTimeWritesVectorsAndPublishesCompletion(t *testing.T) {
	lookup := newFakeLookup()
	pub := &fakePublisher{}
	o, _, _ := newOrchestrator(lookup, pub)

	req := baseRequest("doc-1", "# Heading One\n\nSome body text about Widget and Gadget working together.")
	resp, err := o.Ingest(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "doc-1", resp.DocID)
	assert.NotEmpty(t, resp.ChunkIDs)
	assert.Equal(t, len(resp.ChunkIDs), resp.Stats.ChunksEmbed, "every chunk is new on first ingest")
	assert.Equal(t, 0, resp.Stats.ChunksSkipped)
	assert.Equal(t, len(resp.ChunkIDs), resp.Stats.VectorUpserts)

	require.Len(t, pub.events, 1)
	assert.Equal(t, "document.ingested", pub.topics[0])
}

func TestIngestSkipsUnchangedContent(t *testing.T) {
	lookup := newFakeLookup()
	pub := &fakePublisher{}
	o, _, _ := newOrchestrator(lookup, pub)

	req := baseRequest("doc-2", "# Title\n\nRepeatable content that does not change between runs.")
	hash, prior := hashFor(t, req)
	lookup.record("doc-2", hash, 1, prior)

	resp, err := o.Ingest(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Version)
	assert.Empty(t, resp.ChunkIDs, "skipped ingest returns no new chunk work")
	assert.Empty(t, pub.events, "skip must not publish a completion event")
}

func TestIngestEmbedsOnlyChangedChunks(t *testing.T) {
	lookup := newFakeLookup()
	pub := &fakePublisher{}
	o, vectors, _ := newOrchestrator(lookup, pub)

	original := "# Section A\n\nFirst paragraph stays the same.\n\n# Section B\n\nSecond paragraph will change."
	req := baseRequest("doc-3", original)
	req.Options.Chunking.Strategy = "markdown"
	req.Options.ReingestPolicy = model.ReingestOverwrite
	firstResp, err := o.Ingest(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, firstResp.ChunkIDs)

	priorChunks, err := chunker.SemanticChunker{}.Chunk(req.ID, original, req.Options.Chunking)
	require.NoError(t, err)
	prior := make([]embedding.PriorChunk, len(priorChunks))
	for i, c := range priorChunks {
		vec, _ := embedding.NewDeterministicEmbedder(16).EmbedBatch(context.Background(), []string{c.Text})
		prior[i] = embedding.PriorChunk{ChunkID: c.ChunkID, ContentHash: c.ContentHash, Vector: vec[0]}
	}
	lookup.record("doc-3", "deliberately-stale-hash", firstResp.Version, prior)

	changed := "# Section A\n\nFirst paragraph stays the same.\n\n# Section B\n\nSecond paragraph is now totally different."
	req2 := baseRequest("doc-3", changed)
	req2.Options.Chunking.Strategy = "markdown"
	req2.Options.ReingestPolicy = model.ReingestOverwrite
	secondResp, err := o.Ingest(context.Background(), req2)
	require.NoError(t, err)

	assert.Less(t, secondResp.Stats.ChunksEmbed, len(secondResp.ChunkIDs), "the unchanged Section A chunk must not be re-embedded")
	assert.Greater(t, secondResp.Stats.ChunksSkipped, 0, "the unchanged Section A chunk must be skipped")
	_ = vectors
}

func TestIngestNewVersionIncrementsVersionOnChange(t *testing.T) {
	lookup := newFakeLookup()
	pub := &fakePublisher{}
	o, _, _ := newOrchestrator(lookup, pub)

	req1 := baseRequest("doc-4", "original content")
	req1.Options.ReingestPolicy = model.ReingestNewVersion
	first, err := o.Ingest(context.Background(), req1)
	require.NoError(t, err)
	lookup.record("doc-4", "stale-hash-forces-change", first.Version, nil)

	req2 := baseRequest("doc-4", "changed content entirely")
	req2.Options.ReingestPolicy = model.ReingestNewVersion
	second, err := o.Ingest(context.Background(), req2)
	require.NoError(t, err)
	assert.Greater(t, second.Version, first.Version)
}

func TestIngestRejectsMissingFields(t *testing.T) {
	o, _, _ := newOrchestrator(newFakeLookup(), &fakePublisher{})
	_, err := o.Ingest(context.Background(), model.IngestRequest{})
	require.Error(t, err)
}

func TestIngestWritesEntitiesBeforeRelationships(t *testing.T) {
	lookup := newFakeLookup()
	pub := &fakePublisher{}
	o, _, graph := newOrchestrator(lookup, pub)

	req := baseRequest("doc-5", "# Widget\n\nThe Widget system talks to the Gadget service constantly. Widget and Gadget cooperate.")
	resp, err := o.Ingest(context.Background(), req)
	require.NoError(t, err)

	if resp.Stats.NumRelations > 0 {
		require.Greater(t, resp.Stats.NumEntities, 0, "a relationship cannot exist without its endpoint entities")
	}
	_ = graph
}

func TestIngestContinuesWhenCompletionPublishFails(t *testing.T) {
	lookup := newFakeLookup()
	pub := &fakePublisher{failNext: true}
	o, _, _ := newOrchestrator(lookup, pub)

	req := baseRequest("doc-6", "content that will fail to publish its completion event")
	resp, err := o.Ingest(context.Background(), req)
	require.NoError(t, err, "a publish failure must not fail the ingest itself")
	assert.NotEmpty(t, resp.ChunkIDs)
}
