package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intelkernel/internal/nodekit"
)

func TestUpsertRejectsDimensionMismatch(t *testing.T) {
	v := NewMemory()
	ctx := context.Background()
	require.NoError(t, v.Declare(ctx, "chunks", 3))

	err := v.Upsert(ctx, "chunks", "id-1", []float32{1, 2}, nil)
	require.Error(t, err)
	assert.Equal(t, nodekit.PreconditionViolated, nodekit.KindOf(err))
}

func TestSimilaritySearchOrdersByScoreThenID(t *testing.T) {
	v := NewMemory()
	ctx := context.Background()
	require.NoError(t, v.Declare(ctx, "chunks", 2))
	require.NoError(t, v.Upsert(ctx, "chunks", "b", []float32{1, 0}, nil))
	require.NoError(t, v.Upsert(ctx, "chunks", "a", []float32{1, 0}, nil))

	results, err := v.SimilaritySearch(ctx, "chunks", []float32{1, 0}, 10, 0, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "b", results[1].ID)
}

func TestSimilaritySearchRespectsMinSimilarity(t *testing.T) {
	v := NewMemory()
	ctx := context.Background()
	require.NoError(t, v.Declare(ctx, "chunks", 2))
	require.NoError(t, v.Upsert(ctx, "chunks", "orthogonal", []float32{0, 1}, nil))
	require.NoError(t, v.Upsert(ctx, "chunks", "aligned", []float32{1, 0}, nil))

	results, err := v.SimilaritySearch(ctx, "chunks", []float32{1, 0}, 10, 0.5, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "aligned", results[0].ID)
}

func TestSimilaritySearchAppliesMetadataFilter(t *testing.T) {
	v := NewMemory()
	ctx := context.Background()
	require.NoError(t, v.Declare(ctx, "chunks", 1))
	require.NoError(t, v.Upsert(ctx, "chunks", "x", []float32{1}, map[string]string{"tenant": "a"}))
	require.NoError(t, v.Upsert(ctx, "chunks", "y", []float32{1}, map[string]string{"tenant": "b"}))

	results, err := v.SimilaritySearch(ctx, "chunks", []float32{1}, 10, 0, map[string]string{"tenant": "b"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "y", results[0].ID)
}
