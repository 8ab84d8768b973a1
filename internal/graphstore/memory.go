package graphstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"intelkernel/internal/model"
	"intelkernel/internal/nodekit"
)

type relKey struct{ src, target, kind string }

// Memory is an in-memory GraphStore test double, grounded on
// internal/persistence/databases/memory_graph.go.
type Memory struct {
	mu    sync.RWMutex
	ents  map[string]model.Entity
	rels  map[relKey]model.Relationship
}

// NewMemory builds an empty Memory graph store.
func NewMemory() *Memory {
	return &Memory{ents: map[string]model.Entity{}, rels: map[relKey]model.Relationship{}}
}

func (m *Memory) UpsertEntity(_ context.Context, e model.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ents[e.EntityID] = e
	return nil
}

func (m *Memory) UpsertRelationship(_ context.Context, r model.Relationship) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ents[r.SourceID]; !ok {
		return nodekit.Precondition("graphstore.UpsertRelationship", fmt.Errorf("source entity %q does not exist", r.SourceID))
	}
	if _, ok := m.ents[r.TargetID]; !ok {
		return nodekit.Precondition("graphstore.UpsertRelationship", fmt.Errorf("target entity %q does not exist", r.TargetID))
	}
	m.rels[relKey{r.SourceID, r.TargetID, r.Kind}] = r
	return nil
}

// BatchUpsert validates every relationship's endpoints — against the
// existing graph plus the entities in this same batch — before writing
// anything, so a bad relationship cannot leave earlier writes in this
// batch visible (spec.md §4.7's no-partial-writes-on-failure invariant).
// It does not delegate to UpsertEntity/UpsertRelationship, which would
// re-acquire m.mu and deadlock under the write lock held here.
func (m *Memory) BatchUpsert(_ context.Context, entities []model.Entity, rels []model.Relationship) error {
	const op = "graphstore.Memory.BatchUpsert"
	m.mu.Lock()
	defer m.mu.Unlock()

	batchEnts := make(map[string]bool, len(entities))
	for _, e := range entities {
		batchEnts[e.EntityID] = true
	}
	exists := func(id string) bool {
		if batchEnts[id] {
			return true
		}
		_, ok := m.ents[id]
		return ok
	}
	for _, r := range rels {
		if !exists(r.SourceID) {
			return nodekit.Precondition(op, fmt.Errorf("source entity %q does not exist", r.SourceID))
		}
		if !exists(r.TargetID) {
			return nodekit.Precondition(op, fmt.Errorf("target entity %q does not exist", r.TargetID))
		}
	}

	for _, e := range entities {
		m.ents[e.EntityID] = e
	}
	for _, r := range rels {
		m.rels[relKey{r.SourceID, r.TargetID, r.Kind}] = r
	}
	return nil
}

func (m *Memory) DeleteEntity(_ context.Context, entityID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ents, entityID)
	for k := range m.rels {
		if k.src == entityID || k.target == entityID {
			delete(m.rels, k)
		}
	}
	return nil
}

func (m *Memory) Neighbors(_ context.Context, entityID, rel string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for k := range m.rels {
		if k.src == entityID && k.kind == rel {
			out = append(out, k.target)
		}
	}
	sort.Strings(out)
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func (m *Memory) GetEntity(_ context.Context, entityID string) (model.Entity, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.ents[entityID]
	return e, ok, nil
}

// Query is unsupported on the in-memory double; tests exercise the
// Postgres implementation for parameterized reads.
func (m *Memory) Query(context.Context, string, map[string]any) ([]map[string]any, error) {
	return nil, nodekit.InternalErr("graphstore.Memory.Query", fmt.Errorf("not supported"))
}
