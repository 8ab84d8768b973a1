package patternstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"intelkernel/internal/model"
)

// Memory is an in-memory PatternStore test double.
type Memory struct {
	mu        sync.Mutex
	patterns  map[string]model.Pattern
	usage     []model.ExecutionTrace
	processed map[string]model.ProcessedEvent
}

// NewMemory builds an empty Memory pattern store.
func NewMemory() *Memory {
	return &Memory{
		patterns:  map[string]model.Pattern{},
		processed: map[string]model.ProcessedEvent{},
	}
}

func (m *Memory) UpsertPattern(_ context.Context, p model.Pattern) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patterns[p.PatternID] = p
	return nil
}

func (m *Memory) GetPattern(_ context.Context, patternID string) (model.Pattern, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patterns[patternID]
	return p, ok, nil
}

// ListPatterns returns every pattern PruneStale has not soft-deleted.
func (m *Memory) ListPatterns(_ context.Context) ([]model.Pattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Pattern, 0, len(m.patterns))
	for _, p := range m.patterns {
		if !p.Active {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PatternID < out[j].PatternID })
	return out, nil
}

func (m *Memory) RecordUsage(_ context.Context, trace model.ExecutionTrace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = append(m.usage, trace)
	p, ok := m.patterns[trace.PatternID]
	if !ok {
		return nil
	}
	if trace.Success {
		p.SuccessCount++
	} else {
		p.FailureCount++
	}
	p.LastUsedAt = trace.Timestamp
	m.patterns[trace.PatternID] = p
	return nil
}

// PruneStale soft-deactivates patterns whose success_rate has stayed
// below retentionFloor for the whole observationWindow, mirroring
// Postgres.PruneStale's three-pass reset/mark/soft-delete semantics. A
// pattern with no recorded history (0 total outcomes) is exempt.
func (m *Memory) PruneStale(_ context.Context, retentionFloor float64, observationWindow time.Duration, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Add(-observationWindow)
	pruned := 0
	for id, p := range m.patterns {
		if !p.Active {
			continue
		}
		total := p.SuccessCount + p.FailureCount
		if total == 0 {
			continue
		}
		rate := float64(p.SuccessCount) / float64(total)
		switch {
		case rate >= retentionFloor:
			if p.BelowFloorSince != nil {
				p.BelowFloorSince = nil
				m.patterns[id] = p
			}
		case p.BelowFloorSince == nil:
			t := now
			p.BelowFloorSince = &t
			m.patterns[id] = p
		case !p.BelowFloorSince.After(cutoff):
			p.Active = false
			m.patterns[id] = p
			pruned++
		}
	}
	return pruned, nil
}

func (m *Memory) MarkProcessed(_ context.Context, ev model.ProcessedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed[ev.EventID+"|"+ev.ConsumerID] = ev
	return nil
}

func (m *Memory) WasProcessed(_ context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.processed {
		if len(k) >= len(eventID) && k[:len(eventID)] == eventID && k[len(eventID)] == '|' {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) CleanupProcessed(_ context.Context, ttl time.Duration, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := now.Add(-ttl)
	n := 0
	for k, v := range m.processed {
		if v.ProcessedAt.Before(cutoff) {
			delete(m.processed, k)
			n++
		}
	}
	return n, nil
}
