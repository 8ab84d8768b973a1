package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHashCache struct {
	store map[string][]float32
	gets  int
}

func newFakeHashCache() *fakeHashCache { return &fakeHashCache{store: map[string][]float32{}} }

func (f *fakeHashCache) Get(_ context.Context, hash string) ([]float32, bool, error) {
	f.gets++
	vec, ok := f.store[hash]
	return vec, ok, nil
}

func (f *fakeHashCache) Set(_ context.Context, hash string, vec []float32) error {
	f.store[hash] = vec
	return nil
}

func TestCachedEmbedderSkipsProviderOnHit(t *testing.T) {
	inner := &countingEmbedder{dim: 8}
	cache := newFakeHashCache()
	ce := NewCachedEmbedder(inner, cache)

	vecs1, err := ce.EmbedBatch(context.Background(), []string{"hello world"})
	require.NoError(t, err)
	require.Len(t, vecs1, 1)

	// Second call with the same text must come back from cache, not the
	// provider, and the vector must be identical.
	vecs2, err := ce.EmbedBatch(context.Background(), []string{"hello world"})
	require.NoError(t, err)
	assert.Equal(t, vecs1[0], vecs2[0])
	assert.Equal(t, 1, inner.calls)
}

func TestCachedEmbedderEmbedsOnlyCacheMisses(t *testing.T) {
	inner := NewDeterministicEmbedder(8)
	cache := newFakeHashCache()
	ce := NewCachedEmbedder(inner, cache)

	_, err := ce.EmbedBatch(context.Background(), []string{"repeat this"})
	require.NoError(t, err)

	vecs, err := ce.EmbedBatch(context.Background(), []string{"repeat this", "new text"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.NotEmpty(t, vecs[0])
	assert.NotEmpty(t, vecs[1])
	assert.NotEqual(t, vecs[0], vecs[1])
}

func TestEncodeDecodeVectorRoundTrips(t *testing.T) {
	vec := []float32{0.1, -0.2, 3.5, 0}
	got := decodeVector(encodeVector(vec))
	assert.Equal(t, vec, got)
}
