package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractEntitiesFindsHeadingsAndIdentifiers(t *testing.T) {
	e := HeuristicExtractor{}
	text := "# GraphStore Overview\nThe GraphStore talks to VectorStore for hybrid search."
	entities := e.ExtractEntities("doc-1", text)
	require.NotEmpty(t, entities)

	var names []string
	for _, ent := range entities {
		names = append(names, ent.Name)
	}
	assert.Contains(t, names, "GraphStore Overview")
	assert.Contains(t, names, "GraphStore")
	assert.Contains(t, names, "VectorStore")
}

func TestExtractEntitiesIsDeterministic(t *testing.T) {
	e := HeuristicExtractor{}
	text := "# Title\nSomeIdentifier appears here."
	a := e.ExtractEntities("doc-2", text)
	b := e.ExtractEntities("doc-2", text)
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].EntityID, b[i].EntityID)
	}
}

func TestExtractRelationshipsRequiresCoOccurrence(t *testing.T) {
	e := HeuristicExtractor{}
	text := "AlphaEntity and BetaEntity are mentioned together.\nGammaEntity stands alone."
	entities := e.ExtractEntities("doc-3", text)
	rels := e.ExtractRelationships("doc-3", entities, text)
	require.NotEmpty(t, rels)
	for _, r := range rels {
		assert.Equal(t, "mentions", r.Kind)
		assert.Greater(t, r.Weight, 0.0)
	}
}

func TestExtractRelationshipsEmptyForSingleEntity(t *testing.T) {
	e := HeuristicExtractor{}
	entities := e.ExtractEntities("doc-4", "# OnlyOne")
	rels := e.ExtractRelationships("doc-4", entities, "# OnlyOne")
	assert.Empty(t, rels)
}
