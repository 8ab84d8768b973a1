package embedding

import (
	"context"

	"intelkernel/internal/model"
)

// PriorChunk is the minimal information the engine needs about a
// previously ingested chunk to classify its diff status.
type PriorChunk struct {
	ChunkID     string
	ContentHash string
	Vector      []float32
}

// ClassifiedChunk pairs a current chunk with its diff status and, for
// UNCHANGED chunks, the reused prior vector.
type ClassifiedChunk struct {
	Chunk  model.Chunk
	Status model.ChunkDiffStatus
	Vector []float32
}

// Classify compares current chunks against the prior version's chunks by
// content hash, implementing spec.md §4.4's UNCHANGED/MODIFIED/ADDED
// classification. Chunks present in prior but absent from current are
// returned separately as REMOVED.
func Classify(current []model.Chunk, prior []PriorChunk) (classified []ClassifiedChunk, removed []PriorChunk) {
	priorByID := make(map[string]PriorChunk, len(prior))
	for _, p := range prior {
		priorByID[p.ChunkID] = p
	}
	seen := make(map[string]bool, len(current))
	for _, c := range current {
		seen[c.ChunkID] = true
		if p, ok := priorByID[c.ChunkID]; ok {
			if p.ContentHash == c.ContentHash {
				classified = append(classified, ClassifiedChunk{Chunk: c, Status: model.ChunkUnchanged, Vector: p.Vector})
			} else {
				classified = append(classified, ClassifiedChunk{Chunk: c, Status: model.ChunkModified})
			}
			continue
		}
		classified = append(classified, ClassifiedChunk{Chunk: c, Status: model.ChunkAdded})
	}
	for _, p := range prior {
		if !seen[p.ChunkID] {
			removed = append(removed, p)
		}
	}
	return classified, removed
}

// EmbedChanged runs emb only over chunks classified ADDED or MODIFIED,
// leaving UNCHANGED chunks' vectors untouched — the correctness contract
// of spec.md §4.4 ("no stale embeddings") and its performance contract
// ("zero embedding calls when nothing changed").
func EmbedChanged(ctx context.Context, emb Embedder, classified []ClassifiedChunk) ([]ClassifiedChunk, error) {
	var idx []int
	var texts []string
	for i, c := range classified {
		if c.Status == model.ChunkAdded || c.Status == model.ChunkModified {
			idx = append(idx, i)
			texts = append(texts, c.Chunk.Text)
		}
	}
	if len(texts) == 0 {
		return classified, nil
	}
	vecs, err := emb.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	for j, i := range idx {
		classified[i].Vector = vecs[j]
	}
	return classified, nil
}
