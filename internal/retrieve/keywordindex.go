package retrieve

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// KeywordIndex is an in-memory inverted index over chunk text, serving as
// the StructuralSource the teacher's Postgres full-text search played in
// internal/rag/retrieve/candidates.go. It is deterministic and requires no
// external search engine, matching spec.md §1's preference for pluggable,
// optional infrastructure beyond the kernel's three mandatory stores.
type KeywordIndex struct {
	mu       sync.RWMutex
	postings map[string]map[string]int // term -> doc/chunk ID -> count
	docOf    map[string]string         // chunk ID -> doc ID
}

// NewKeywordIndex builds an empty structural index.
func NewKeywordIndex() *KeywordIndex {
	return &KeywordIndex{postings: map[string]map[string]int{}, docOf: map[string]string{}}
}

// Index tokenizes text and records id's term frequencies, replacing any
// prior entry for id.
func (k *KeywordIndex) Index(id, docID, text string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.removeLocked(id)
	k.docOf[id] = docID
	for _, term := range tokenize(text) {
		bucket := k.postings[term]
		if bucket == nil {
			bucket = map[string]int{}
			k.postings[term] = bucket
		}
		bucket[id]++
	}
}

// Remove deletes id from every posting list it appears in.
func (k *KeywordIndex) Remove(id string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.removeLocked(id)
}

func (k *KeywordIndex) removeLocked(id string) {
	for term, bucket := range k.postings {
		delete(bucket, id)
		if len(bucket) == 0 {
			delete(k.postings, term)
		}
	}
	delete(k.docOf, id)
}

// Search tokenizes query and ranks IDs by summed term frequency across the
// query's terms, descending, tie-broken by ID ascending.
func (k *KeywordIndex) Search(_ context.Context, query string, kLimit int) ([]Candidate, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	scores := map[string]int{}
	for _, term := range tokenize(query) {
		for id, count := range k.postings[term] {
			scores[id] += count
		}
	}
	out := make([]Candidate, 0, len(scores))
	for id, score := range scores {
		out = append(out, Candidate{ID: id, DocID: k.docOf[id], Score: float64(score), Source: "structural"})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if kLimit > 0 && len(out) > kLimit {
		out = out[:kLimit]
	}
	return out, nil
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) > 1 {
			out = append(out, f)
		}
	}
	return out
}
