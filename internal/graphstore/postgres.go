// Package graphstore implements the Graph Store Effect (spec.md §4.7),
// adapted from internal/persistence/databases/postgres_graph.go's table
// DDL and upsert SQL, extended with a uniqueness constraint for idempotent
// relationship merge, transactional batch writes, cascading entity
// deletion, and PreconditionViolated on missing endpoints.
package graphstore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"intelkernel/internal/model"
	"intelkernel/internal/nodekit"
)

// GraphStore is the Effect node contract for entity/relationship
// persistence.
type GraphStore interface {
	UpsertEntity(ctx context.Context, e model.Entity) error
	UpsertRelationship(ctx context.Context, r model.Relationship) error
	BatchUpsert(ctx context.Context, entities []model.Entity, rels []model.Relationship) error
	DeleteEntity(ctx context.Context, entityID string) error
	Neighbors(ctx context.Context, entityID, rel string) ([]string, error)
	GetEntity(ctx context.Context, entityID string) (model.Entity, bool, error)
	Query(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)
}

// Postgres implements GraphStore over internal/persistence/databases-style
// raw SQL via pgx.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres ensures the schema exists and returns a ready GraphStore.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (*Postgres, error) {
	const op = "graphstore.NewPostgres"
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS entities (
			entity_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			name TEXT NOT NULL,
			signature_hash TEXT NOT NULL,
			source_doc_id TEXT NOT NULL,
			attributes JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS relationships (
			source_id TEXT NOT NULL,
			target_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			weight DOUBLE PRECISION NOT NULL DEFAULT 0,
			attributes JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (source_id, target_id, kind)
		)`,
		`CREATE INDEX IF NOT EXISTS relationships_source_kind ON relationships(source_id, kind)`,
		`CREATE INDEX IF NOT EXISTS relationships_target_kind ON relationships(target_id, kind)`,
	}
	for _, s := range stmts {
		if _, err := pool.Exec(ctx, s); err != nil {
			return nil, nodekit.InternalErr(op, fmt.Errorf("schema migration: %w", err))
		}
	}
	return &Postgres{pool: pool}, nil
}

// UpsertEntity is idempotent by entity_id, merging on conflict.
func (g *Postgres) UpsertEntity(ctx context.Context, e model.Entity) error {
	const op = "graphstore.UpsertEntity"
	_, err := g.pool.Exec(ctx, `
INSERT INTO entities(entity_id, kind, name, signature_hash, source_doc_id, attributes, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (entity_id) DO UPDATE SET
  kind=EXCLUDED.kind, name=EXCLUDED.name, signature_hash=EXCLUDED.signature_hash,
  attributes=EXCLUDED.attributes, updated_at=EXCLUDED.updated_at
`, e.EntityID, e.Kind, e.Name, e.SignatureHash, e.SourceDocID, attrsOrEmpty(e.Attributes), e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return wrapPgErr(op, err)
	}
	return nil
}

// UpsertRelationship is idempotent by (source_id,target_id,kind) and fails
// with PreconditionViolated if either endpoint entity does not exist.
func (g *Postgres) UpsertRelationship(ctx context.Context, r model.Relationship) error {
	const op = "graphstore.UpsertRelationship"
	return g.upsertRelationshipTx(ctx, g.pool, r, op)
}

func (g *Postgres) upsertRelationshipTx(ctx context.Context, q queryer, r model.Relationship, op string) error {
	if ok, err := entityExists(ctx, q, r.SourceID); err != nil {
		return wrapPgErr(op, err)
	} else if !ok {
		return nodekit.Precondition(op, fmt.Errorf("source entity %q does not exist", r.SourceID))
	}
	if ok, err := entityExists(ctx, q, r.TargetID); err != nil {
		return wrapPgErr(op, err)
	} else if !ok {
		return nodekit.Precondition(op, fmt.Errorf("target entity %q does not exist", r.TargetID))
	}
	_, err := q.Exec(ctx, `
INSERT INTO relationships(source_id, target_id, kind, weight, attributes, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (source_id, target_id, kind) DO UPDATE SET
  weight=EXCLUDED.weight, attributes=EXCLUDED.attributes
`, r.SourceID, r.TargetID, r.Kind, r.Weight, attrsOrEmpty(r.Attributes), r.CreatedAt)
	if err != nil {
		return wrapPgErr(op, err)
	}
	return nil
}

// BatchUpsert writes entities then relationships inside a single
// transaction, per spec.md §4.7's ordered-write invariant (entities before
// the relationships that reference them).
func (g *Postgres) BatchUpsert(ctx context.Context, entities []model.Entity, rels []model.Relationship) error {
	const op = "graphstore.BatchUpsert"
	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return wrapPgErr(op, err)
	}
	defer tx.Rollback(ctx)

	for _, e := range entities {
		if _, err := tx.Exec(ctx, `
INSERT INTO entities(entity_id, kind, name, signature_hash, source_doc_id, attributes, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (entity_id) DO UPDATE SET
  kind=EXCLUDED.kind, name=EXCLUDED.name, signature_hash=EXCLUDED.signature_hash,
  attributes=EXCLUDED.attributes, updated_at=EXCLUDED.updated_at
`, e.EntityID, e.Kind, e.Name, e.SignatureHash, e.SourceDocID, attrsOrEmpty(e.Attributes), e.CreatedAt, e.UpdatedAt); err != nil {
			return wrapPgErr(op, err)
		}
	}
	for _, r := range rels {
		if err := g.upsertRelationshipTx(ctx, tx, r, op); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapPgErr(op, err)
	}
	return nil
}

// DeleteEntity removes the entity and cascades to every incident
// relationship, per spec.md §4.7.
func (g *Postgres) DeleteEntity(ctx context.Context, entityID string) error {
	const op = "graphstore.DeleteEntity"
	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return wrapPgErr(op, err)
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, `DELETE FROM relationships WHERE source_id=$1 OR target_id=$1`, entityID); err != nil {
		return wrapPgErr(op, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM entities WHERE entity_id=$1`, entityID); err != nil {
		return wrapPgErr(op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapPgErr(op, err)
	}
	return nil
}

// Neighbors returns target entity IDs reachable via rel from entityID.
func (g *Postgres) Neighbors(ctx context.Context, entityID, rel string) ([]string, error) {
	const op = "graphstore.Neighbors"
	rows, err := g.pool.Query(ctx, `SELECT target_id FROM relationships WHERE source_id=$1 AND kind=$2 ORDER BY target_id`, entityID, rel)
	if err != nil {
		return nil, wrapPgErr(op, err)
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, wrapPgErr(op, err)
		}
		out = append(out, d)
	}
	return out, wrapPgErr(op, rows.Err())
}

// GetEntity fetches one entity by ID.
func (g *Postgres) GetEntity(ctx context.Context, entityID string) (model.Entity, bool, error) {
	const op = "graphstore.GetEntity"
	row := g.pool.QueryRow(ctx, `SELECT entity_id, kind, name, signature_hash, source_doc_id, created_at, updated_at FROM entities WHERE entity_id=$1`, entityID)
	var e model.Entity
	if err := row.Scan(&e.EntityID, &e.Kind, &e.Name, &e.SignatureHash, &e.SourceDocID, &e.CreatedAt, &e.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return model.Entity{}, false, nil
		}
		return model.Entity{}, false, wrapPgErr(op, err)
	}
	return e, true, nil
}

// Query executes a parameterized read against the graph, per spec.md
// §4.7's generic query capability. Callers write queries using named
// placeholders (":entity_id", ":kind") rather than positional $n markers,
// since Go map iteration order is randomized per-process and binding
// params by range would bind a different arg to each $n on every call.
func (g *Postgres) Query(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	const op = "graphstore.Query"
	boundQuery, args := bindNamedParams(query, params)
	rows, err := g.pool.Query(ctx, boundQuery, args...)
	if err != nil {
		return nil, wrapPgErr(op, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []map[string]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, wrapPgErr(op, err)
		}
		row := make(map[string]any, len(vals))
		for i, f := range fields {
			row[string(f.Name)] = vals[i]
		}
		out = append(out, row)
	}
	return out, wrapPgErr(op, rows.Err())
}

// bindNamedParams rewrites query's ":name" placeholders into pgx's
// positional "$n" form and returns the matching args slice, with params
// assigned $n indices in sorted name order so the same params map always
// binds identically regardless of Go's randomized map iteration order.
// Substitution runs longest-name-first so a shorter name ("id") cannot
// match inside a longer one that shares its prefix ("identity").
func bindNamedParams(query string, params map[string]any) (string, []any) {
	if len(params) == 0 {
		return query, nil
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	args := make([]any, len(names))
	placeholders := make([]string, len(names))
	for i, name := range names {
		args[i] = params[name]
		placeholders[i] = ":" + name
	}

	order := make([]int, len(names))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return len(placeholders[order[i]]) > len(placeholders[order[j]]) })

	out := query
	for _, i := range order {
		out = strings.ReplaceAll(out, placeholders[i], fmt.Sprintf("$%d", i+1))
	}
	return out, args
}

type queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgx.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func entityExists(ctx context.Context, q queryer, id string) (bool, error) {
	row := q.QueryRow(ctx, `SELECT 1 FROM entities WHERE entity_id=$1`, id)
	var one int
	if err := row.Scan(&one); err != nil {
		if err == pgx.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func attrsOrEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func wrapPgErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return nodekit.Transient(op, err)
}
