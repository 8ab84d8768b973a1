package ingestion

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"intelkernel/internal/embedding"
	"intelkernel/internal/nodekit"
)

// DocStore is the Postgres-backed DocumentLookup, persisting the content
// hash and chunk set of the last successful ingestion of each document,
// grounded on internal/rag/ingest/idempotency.go's DocumentLookup/
// ResolveIdempotency pairing and internal/patternstore.Postgres's
// migration-on-construct idiom.
type DocStore struct {
	pool  *pgxpool.Pool
	retry nodekit.RetryPolicy
}

// NewDocStore ensures the documents/doc_chunks schema exists.
func NewDocStore(ctx context.Context, pool *pgxpool.Pool, retry nodekit.RetryPolicy) (*DocStore, error) {
	const op = "ingestion.NewDocStore"
	d := &DocStore{pool: pool, retry: retry}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			doc_id TEXT PRIMARY KEY,
			version INTEGER NOT NULL DEFAULT 1,
			content_hash TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS doc_chunks (
			doc_id TEXT NOT NULL,
			chunk_id TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			vector JSONB NOT NULL DEFAULT '[]'::jsonb,
			PRIMARY KEY (doc_id, chunk_id)
		)`,
	}
	for _, s := range stmts {
		if err := d.execWithRetry(ctx, s); err != nil {
			return nil, nodekit.InternalErr(op, fmt.Errorf("schema migration: %w", err))
		}
	}
	return d, nil
}

func (d *DocStore) execWithRetry(ctx context.Context, sql string, args ...any) error {
	return d.retry.Do(ctx, func(ctx context.Context) error {
		_, err := d.pool.Exec(ctx, sql, args...)
		if err != nil {
			return nodekit.Transient("ingestion.DocStore.exec", err)
		}
		return nil
	})
}

// LookupByHash implements DocumentLookup.
func (d *DocStore) LookupByHash(ctx context.Context, docID, contentHash string) (int, []embedding.PriorChunk, bool, error) {
	const op = "ingestion.DocStore.LookupByHash"
	var version int
	var storedHash string
	err := d.pool.QueryRow(ctx, `SELECT version, content_hash FROM documents WHERE doc_id=$1`, docID).Scan(&version, &storedHash)
	if err != nil {
		if isNoRows(err) {
			return 0, nil, false, nil
		}
		return 0, nil, false, nodekit.Transient(op, err)
	}

	rows, err := d.pool.Query(ctx, `SELECT chunk_id, content_hash, vector FROM doc_chunks WHERE doc_id=$1`, docID)
	if err != nil {
		return 0, nil, false, nodekit.Transient(op, err)
	}
	defer rows.Close()
	var prior []embedding.PriorChunk
	for rows.Next() {
		var pc embedding.PriorChunk
		var vecJSON []byte
		if err := rows.Scan(&pc.ChunkID, &pc.ContentHash, &vecJSON); err != nil {
			return 0, nil, false, nodekit.Transient(op, err)
		}
		var vecF []float64
		_ = json.Unmarshal(vecJSON, &vecF)
		pc.Vector = make([]float32, len(vecF))
		for i, v := range vecF {
			pc.Vector[i] = float32(v)
		}
		prior = append(prior, pc)
	}
	return version, prior, storedHash == contentHash, nil
}

// Save records a successful ingestion's content hash, version, and
// per-chunk vectors so the next LookupByHash can classify future
// ingestions against this run.
func (d *DocStore) Save(ctx context.Context, docID, contentHash string, version int, chunks []embedding.ClassifiedChunk) error {
	const op = "ingestion.DocStore.Save"
	return d.retry.Do(ctx, func(ctx context.Context) error {
		tx, err := d.pool.Begin(ctx)
		if err != nil {
			return nodekit.Transient(op, err)
		}
		defer tx.Rollback(ctx)

		if _, err := tx.Exec(ctx, `
INSERT INTO documents(doc_id, version, content_hash, updated_at) VALUES ($1,$2,$3,now())
ON CONFLICT (doc_id) DO UPDATE SET version=EXCLUDED.version, content_hash=EXCLUDED.content_hash, updated_at=now()
`, docID, version, contentHash); err != nil {
			return nodekit.Transient(op, err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM doc_chunks WHERE doc_id=$1`, docID); err != nil {
			return nodekit.Transient(op, err)
		}
		for _, c := range chunks {
			vecF := make([]float64, len(c.Vector))
			for i, v := range c.Vector {
				vecF[i] = float64(v)
			}
			vecJSON, _ := json.Marshal(vecF)
			if _, err := tx.Exec(ctx, `INSERT INTO doc_chunks(doc_id, chunk_id, content_hash, vector) VALUES ($1,$2,$3,$4)`,
				docID, c.Chunk.ChunkID, c.Chunk.ContentHash, vecJSON); err != nil {
				return nodekit.Transient(op, err)
			}
		}
		if err := tx.Commit(ctx); err != nil {
			return nodekit.Transient(op, err)
		}
		return nil
	})
}

func isNoRows(err error) bool {
	return err != nil && err.Error() == "no rows in result set"
}
