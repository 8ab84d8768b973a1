package ingestion

import (
	"context"
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

func TestIngestProjectFansOutPerFile(t *testing.T) {
	o, _, _ := newOrchestrator(newFakeLookup(), &fakePublisher{})

	req := model.ProjectIngestRequest{
		ProjectName: "proj-a",
		Tenant:      "acme",
		Files: []model.IngestFile{
			{Path: "a.md", ContentStrategy: model.ContentInline, Text: "# A\n\nContent about Widget."},
			{Path: "b.md", ContentStrategy: model.ContentInline, Text: "# B\n\nContent about Gadget."},
		},
		Options: model.IngestOptions{
			Chunking:       model.ChunkingOptions{Strategy: "generic", MaxTokens: 200},
			Embedding:      model.EmbeddingOptions{Enabled: true, Dimensions: 16},
			Extraction:     model.ExtractionOptions{Enabled: true, ExtractEntities: true},
			ReingestPolicy: model.ReingestSkipIfUnchanged,
		},
	}

	resp, err := o.IngestProject(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "proj-a", resp.ProjectName)
	require.Len(t, resp.Files, 2)
	for _, f := range resp.Files {
		assert.Empty(t, f.Error)
		assert.NotEmpty(t, f.Response.ChunkIDs)
	}
}

func TestIngestProjectRejectsNonInlineWithoutResolver(t *testing.T) {
	o, _, _ := newOrchestrator(newFakeLookup(), &fakePublisher{})

	req := model.ProjectIngestRequest{
		ProjectName: "proj-b",
		Files: []model.IngestFile{
			{Path: "remote.md", ContentStrategy: model.ContentObjectStorage, ContentURL: "https://example.invalid/remote.md"},
		},
		Options: model.IngestOptions{
			Chunking:  model.ChunkingOptions{Strategy: "generic", MaxTokens: 200},
			Embedding: model.EmbeddingOptions{Enabled: true, Dimensions: 16},
		},
	}

	resp, err := o.IngestProject(context.Background(), req)
	require.NoError(t, err, "per-file resolve failures must not fail the whole project call")
	require.Len(t, resp.Files, 1)
	assert.NotEmpty(t, resp.Files[0].Error)
}

type fakeResolver struct{ text string }

func (f fakeResolver) Resolve(context.Context, model.IngestFile) (string, error) { return f.text, nil }

func TestIngestProjectUsesConfiguredResolverForNonInline(t *testing.T) {
	vectors := vectorstore.NewMemory()
	graph := graphstore.NewMemory()
	o := New(
		chunker.SemanticChunker{}, embedding.NewDeterministicEmbedder(16),
		extract.HeuristicExtractor{}, extract.HeuristicExtractor{},
		graph, vectors, newFakeLookup(), &fakePublisher{}, "docs",
		WithContentResolver(fakeResolver{text: "# Resolved\n\nResolved body about Widget."}),
	)

	req := model.ProjectIngestRequest{
		ProjectName: "proj-c",
		Files: []model.IngestFile{
			{Path: "remote.md", ContentStrategy: model.ContentGitReference, GitRef: "main:remote.md"},
		},
		Options: model.IngestOptions{
			Chunking:  model.ChunkingOptions{Strategy: "generic", MaxTokens: 200},
			Embedding: model.EmbeddingOptions{Enabled: true, Dimensions: 16},
		},
	}

	resp, err := o.IngestProject(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.Files, 1)
	assert.Empty(t, resp.Files[0].Error)
	assert.NotEmpty(t, resp.Files[0].Response.ChunkIDs)
}
