package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"

	"github.com/redis/go-redis/v9"
)

// HashCache reuses an embedding by the content hash of the text it was
// computed from, grounded on spec.md §4.10's "embed the request (reuse
// cache by request text hash)" — the same reuse-by-hash idea applied to
// ingestion's chunk embeddings so identical content shared across
// documents does not pay for a second provider call.
type HashCache interface {
	Get(ctx context.Context, hash string) ([]float32, bool, error)
	Set(ctx context.Context, hash string, vec []float32) error
}

// RedisHashCache is the production HashCache, grounded on the teacher
// repo carrying github.com/redis/go-redis/v9 without a concrete wired
// caller.
type RedisHashCache struct {
	client *redis.Client
}

// NewRedisHashCache builds a RedisHashCache over an existing client.
func NewRedisHashCache(client *redis.Client) *RedisHashCache {
	return &RedisHashCache{client: client}
}

func (r *RedisHashCache) Get(ctx context.Context, hash string) ([]float32, bool, error) {
	data, err := r.client.Get(ctx, cacheKey(hash)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return decodeVector(data), true, nil
}

func (r *RedisHashCache) Set(ctx context.Context, hash string, vec []float32) error {
	return r.client.Set(ctx, cacheKey(hash), encodeVector(vec), 0).Err()
}

func cacheKey(hash string) string { return "embedcache:" + hash }

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(data []byte) []float32 {
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec
}

// CachedEmbedder wraps an Embedder with a HashCache, short-circuiting
// EmbedBatch for any text whose sha256 is already cached.
type CachedEmbedder struct {
	inner Embedder
	cache HashCache
}

// NewCachedEmbedder builds a CachedEmbedder over inner.
func NewCachedEmbedder(inner Embedder, cache HashCache) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, cache: cache}
}

func (c *CachedEmbedder) Dimension() int { return c.inner.Dimension() }

// EmbedBatch looks up each text's cache entry first, calling inner only
// for the misses, then populates the cache with the freshly computed
// vectors.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	hashes := make([]string, len(texts))
	var missIdx []int
	var missTexts []string
	for i, t := range texts {
		h := textHash(t)
		hashes[i] = h
		vec, ok, err := c.cache.Get(ctx, h)
		if err != nil {
			return nil, err
		}
		if ok {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missTexts) == 0 {
		return out, nil
	}
	vecs, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		if err := c.cache.Set(ctx, hashes[i], vecs[j]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func textHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
