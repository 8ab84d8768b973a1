package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"intelkernel/internal/nodekit"
)

type vec struct {
	v        []float32
	metadata map[string]string
}

// Memory is an in-memory, multi-collection VectorStore test double,
// grounded on internal/persistence/databases/memory_vector.go's cosine
// similarity search.
type Memory struct {
	mu         sync.RWMutex
	dims       map[string]int
	collection map[string]map[string]vec
}

// NewMemory builds an empty Memory vector store.
func NewMemory() *Memory {
	return &Memory{dims: map[string]int{}, collection: map[string]map[string]vec{}}
}

// Declare records the expected dimension for collection.
func (m *Memory) Declare(_ context.Context, collection string, dims int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dims[collection] = dims
	if m.collection[collection] == nil {
		m.collection[collection] = map[string]vec{}
	}
	return nil
}

func (m *Memory) Dimension(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dims[collection]
}

func (m *Memory) Upsert(_ context.Context, collection, id string, vector []float32, metadata map[string]string) error {
	const op = "vectorstore.Memory.Upsert"
	m.mu.Lock()
	defer m.mu.Unlock()
	if dim, ok := m.dims[collection]; ok && dim != len(vector) {
		return nodekit.Precondition(op, fmt.Errorf("vector dimension %d does not match collection %q dimension %d", len(vector), collection, dim))
	}
	if m.collection[collection] == nil {
		m.collection[collection] = map[string]vec{}
	}
	cp := make([]float32, len(vector))
	copy(cp, vector)
	md := make(map[string]string, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	m.collection[collection][id] = vec{v: cp, metadata: md}
	return nil
}

func (m *Memory) Delete(_ context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collection[collection], id)
	return nil
}

func (m *Memory) SimilaritySearch(_ context.Context, collection string, vector []float32, k int, minSimilarity float64, filter map[string]string) ([]Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 {
		k = 10
	}
	qnorm := norm(vector)
	var out []Result
	for id, v := range m.collection[collection] {
		if !matchesFilter(v.metadata, filter) {
			continue
		}
		s := cosine(vector, v.v, qnorm)
		if s < minSimilarity {
			continue
		}
		out = append(out, Result{ID: id, Score: s, Metadata: v.metadata})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func matchesFilter(md, f map[string]string) bool {
	for k, v := range f {
		if md[k] != v {
			return false
		}
	}
	return true
}

func norm(a []float32) float64 {
	var s float64
	for _, x := range a {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var s float64
	for i := 0; i < n; i++ {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func cosine(a, b []float32, anorm float64) float64 {
	if anorm == 0 {
		anorm = norm(a)
	}
	bnorm := norm(b)
	if anorm == 0 || bnorm == 0 {
		return 0
	}
	return dot(a, b) / (anorm * bnorm)
}
