package retrieve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeywordIndexRanksByTermFrequency(t *testing.T) {
	idx := NewKeywordIndex()
	idx.Index("c1", "doc-1", "retry retry timeout")
	idx.Index("c2", "doc-2", "retry")

	results, err := idx.Search(context.Background(), "retry", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "c1", results[0].ID)
	assert.Equal(t, "c2", results[1].ID)
}

func TestKeywordIndexReindexReplacesPriorEntry(t *testing.T) {
	idx := NewKeywordIndex()
	idx.Index("c1", "doc-1", "alpha")
	idx.Index("c1", "doc-1", "beta")

	results, err := idx.Search(context.Background(), "alpha", 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = idx.Search(context.Background(), "beta", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestKeywordIndexRemove(t *testing.T) {
	idx := NewKeywordIndex()
	idx.Index("c1", "doc-1", "alpha")
	idx.Remove("c1")

	results, err := idx.Search(context.Background(), "alpha", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}
