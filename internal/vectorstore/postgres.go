package vectorstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"intelkernel/internal/nodekit"
)

// Postgres is a pgvector-backed VectorStore fallback for environments
// without Qdrant, adapted from
// internal/persistence/databases/postgres_vector.go, extended to route
// multiple named collections to one table with a collection column and to
// enforce declared dimensions.
type Postgres struct {
	pool   *pgxpool.Pool
	metric string
	mu     sync.RWMutex
	dims   map[string]int
}

// NewPostgres ensures the pgvector extension and embeddings table exist.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool, metric string) (*Postgres, error) {
	const op = "vectorstore.NewPostgres"
	if _, err := pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return nil, nodekit.InternalErr(op, err)
	}
	if _, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS embeddings (
  collection TEXT NOT NULL,
  id TEXT NOT NULL,
  vec vector,
  metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
  PRIMARY KEY (collection, id)
)`); err != nil {
		return nil, nodekit.InternalErr(op, err)
	}
	return &Postgres{pool: pool, metric: strings.ToLower(strings.TrimSpace(metric)), dims: map[string]int{}}, nil
}

// Declare records the expected dimension for collection. pgvector columns
// are untyped-length here so no DDL is required per collection.
func (p *Postgres) Declare(_ context.Context, collection string, dims int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dims[collection] = dims
	return nil
}

func (p *Postgres) Dimension(collection string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dims[collection]
}

func (p *Postgres) Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]string) error {
	const op = "vectorstore.Postgres.Upsert"
	if dim := p.Dimension(collection); dim > 0 && dim != len(vector) {
		return nodekit.Precondition(op, fmt.Errorf("vector dimension %d does not match collection %q dimension %d", len(vector), collection, dim))
	}
	_, err := p.pool.Exec(ctx, `
INSERT INTO embeddings(collection, id, vec, metadata) VALUES($1,$2,$3::vector,$4)
ON CONFLICT (collection, id) DO UPDATE SET vec=EXCLUDED.vec, metadata=EXCLUDED.metadata
`, collection, id, toVectorLiteral(vector), metadata)
	if err != nil {
		return nodekit.Transient(op, err)
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, collection, id string) error {
	const op = "vectorstore.Postgres.Delete"
	_, err := p.pool.Exec(ctx, `DELETE FROM embeddings WHERE collection=$1 AND id=$2`, collection, id)
	if err != nil {
		return nodekit.Transient(op, err)
	}
	return nil
}

func (p *Postgres) SimilaritySearch(ctx context.Context, collection string, vector []float32, k int, minSimilarity float64, filter map[string]string) ([]Result, error) {
	const op = "vectorstore.Postgres.SimilaritySearch"
	if k <= 0 {
		k = 10
	}
	vecLit := toVectorLiteral(vector)
	opSym := "<=>"
	scoreExpr := "1 - (vec <=> $2::vector)"
	switch p.metric {
	case "l2", "euclidean":
		opSym = "<->"
		scoreExpr = "-(vec <-> $2::vector)"
	case "ip", "dot":
		opSym = "<#>"
		scoreExpr = "-(vec <#> $2::vector)"
	}
	where := "collection=$1"
	args := []any{collection, vecLit, k}
	if len(filter) > 0 {
		where += " AND metadata @> $4"
		args = append(args, filter)
	}
	query := fmt.Sprintf(`SELECT id, %s AS score, metadata FROM embeddings WHERE %s ORDER BY vec %s $2::vector LIMIT $3`, scoreExpr, where, opSym)
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nodekit.Transient(op, err)
	}
	defer rows.Close()
	out := make([]Result, 0, k)
	for rows.Next() {
		var r Result
		var md map[string]string
		if err := rows.Scan(&r.ID, &r.Score, &md); err != nil {
			return nil, nodekit.Transient(op, err)
		}
		if r.Score < minSimilarity {
			continue
		}
		r.Metadata = md
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, nodekit.Transient(op, err)
	}
	return out, nil
}

func toVectorLiteral(v []float32) string {
	if len(v) == 0 {
		return "[]"
	}
	b := strings.Builder{}
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(fmt.Sprintf("%g", x))
	}
	b.WriteByte(']')
	return b.String()
}
