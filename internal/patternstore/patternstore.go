// Package patternstore implements the Pattern Store Effect (spec.md §4.9):
// success_patterns, pattern_usage_log, and processed_events persistence,
// adapted from internal/sefii/engine.go's execWithRetry/EnsureTable
// migration-on-construct idiom.
package patternstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"intelkernel/internal/model"
	"intelkernel/internal/nodekit"
)

// PatternStore is the Effect node contract for pattern persistence and
// the idempotency-consumer's processed_events ledger.
type PatternStore interface {
	UpsertPattern(ctx context.Context, p model.Pattern) error
	GetPattern(ctx context.Context, patternID string) (model.Pattern, bool, error)
	ListPatterns(ctx context.Context) ([]model.Pattern, error)
	RecordUsage(ctx context.Context, trace model.ExecutionTrace) error
	PruneStale(ctx context.Context, retentionFloor float64, observationWindow time.Duration, now time.Time) (int, error)
	MarkProcessed(ctx context.Context, ev model.ProcessedEvent) error
	WasProcessed(ctx context.Context, eventID string) (bool, error)
	CleanupProcessed(ctx context.Context, ttl time.Duration, now time.Time) (int, error)
}

// Postgres implements PatternStore over pgx, retrying transient failures
// the way internal/sefii/engine.go's execWithRetry does.
type Postgres struct {
	pool  *pgxpool.Pool
	retry nodekit.RetryPolicy
}

// NewPostgres ensures the pattern/usage/idempotency schema exists.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool, retry nodekit.RetryPolicy) (*Postgres, error) {
	const op = "patternstore.NewPostgres"
	p := &Postgres{pool: pool, retry: retry}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS success_patterns (
			pattern_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			keywords JSONB NOT NULL DEFAULT '[]'::jsonb,
			intent TEXT NOT NULL DEFAULT '',
			context JSONB NOT NULL DEFAULT '{}'::jsonb,
			embedding JSONB NOT NULL DEFAULT '[]'::jsonb,
			success_count INTEGER NOT NULL DEFAULT 0,
			failure_count INTEGER NOT NULL DEFAULT 0,
			replay_plan JSONB NOT NULL DEFAULT '[]'::jsonb,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			active BOOLEAN NOT NULL DEFAULT true,
			below_floor_since TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_used_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS pattern_usage_log (
			id BIGSERIAL PRIMARY KEY,
			pattern_id TEXT NOT NULL,
			trace_id TEXT NOT NULL,
			success BOOLEAN NOT NULL,
			context TEXT NOT NULL DEFAULT '',
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS pattern_usage_log_pattern ON pattern_usage_log(pattern_id)`,
		`CREATE TABLE IF NOT EXISTS processed_events (
			event_id TEXT NOT NULL,
			consumer_id TEXT NOT NULL,
			processed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (event_id, consumer_id)
		)`,
	}
	for _, s := range stmts {
		if err := p.execWithRetry(ctx, s); err != nil {
			return nil, nodekit.InternalErr(op, fmt.Errorf("schema migration: %w", err))
		}
	}
	return p, nil
}

func (p *Postgres) execWithRetry(ctx context.Context, sql string, args ...any) error {
	return p.retry.Do(ctx, func(ctx context.Context) error {
		_, err := p.pool.Exec(ctx, sql, args...)
		if err != nil {
			return nodekit.Transient("patternstore.exec", err)
		}
		return nil
	})
}

// UpsertPattern is idempotent by pattern_id. A new row takes active and
// below_floor_since from pat, so a new pattern is active only if pat.Active
// is true; on conflict those two columns are left unchanged, so after the
// first insert only PruneStale mutates them.
func (p *Postgres) UpsertPattern(ctx context.Context, pat model.Pattern) error {
	keywords, _ := json.Marshal(pat.Keywords)
	pctx, _ := json.Marshal(pat.Context)
	embedding, _ := json.Marshal(pat.Embedding)
	plan, _ := json.Marshal(pat.ReplayPlan)
	meta, _ := json.Marshal(pat.Metadata)
	active := pat.Active
	return p.execWithRetry(ctx, `
INSERT INTO success_patterns(pattern_id, name, description, keywords, intent, context, embedding, success_count, failure_count, replay_plan, metadata, active, below_floor_since, created_at, last_used_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT (pattern_id) DO UPDATE SET
  name=EXCLUDED.name, description=EXCLUDED.description, keywords=EXCLUDED.keywords,
  intent=EXCLUDED.intent, context=EXCLUDED.context, embedding=EXCLUDED.embedding,
  success_count=EXCLUDED.success_count, failure_count=EXCLUDED.failure_count,
  replay_plan=EXCLUDED.replay_plan, metadata=EXCLUDED.metadata, last_used_at=EXCLUDED.last_used_at
`, pat.PatternID, pat.Name, pat.Description, keywords, pat.Intent, pctx, embedding,
		pat.SuccessCount, pat.FailureCount, plan, meta, active, pat.BelowFloorSince, pat.CreatedAt, pat.LastUsedAt)
}

const patternColumns = `pattern_id, name, description, keywords, intent, context, embedding, success_count, failure_count, replay_plan, metadata, active, below_floor_since, created_at, last_used_at`

func (p *Postgres) GetPattern(ctx context.Context, patternID string) (model.Pattern, bool, error) {
	const op = "patternstore.GetPattern"
	row := p.pool.QueryRow(ctx, `SELECT `+patternColumns+` FROM success_patterns WHERE pattern_id=$1`, patternID)
	pat, err := scanPattern(row)
	if err != nil {
		if isNoRows(err) {
			return model.Pattern{}, false, nil
		}
		return model.Pattern{}, false, nodekit.Transient(op, err)
	}
	return pat, true, nil
}

// ListPatterns returns every pattern PruneStale has not soft-deleted.
func (p *Postgres) ListPatterns(ctx context.Context) ([]model.Pattern, error) {
	const op = "patternstore.ListPatterns"
	rows, err := p.pool.Query(ctx, `SELECT `+patternColumns+` FROM success_patterns WHERE active ORDER BY pattern_id`)
	if err != nil {
		return nil, nodekit.Transient(op, err)
	}
	defer rows.Close()
	var out []model.Pattern
	for rows.Next() {
		pat, err := scanPattern(rows)
		if err != nil {
			return nil, nodekit.Transient(op, err)
		}
		out = append(out, pat)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPattern(row scanner) (model.Pattern, error) {
	var pat model.Pattern
	var keywords, pctx, embedding, plan, meta []byte
	if err := row.Scan(&pat.PatternID, &pat.Name, &pat.Description, &keywords, &pat.Intent, &pctx,
		&embedding, &pat.SuccessCount, &pat.FailureCount, &plan, &meta, &pat.Active, &pat.BelowFloorSince,
		&pat.CreatedAt, &pat.LastUsedAt); err != nil {
		return model.Pattern{}, err
	}
	_ = json.Unmarshal(keywords, &pat.Keywords)
	_ = json.Unmarshal(pctx, &pat.Context)
	var embF []float64
	_ = json.Unmarshal(embedding, &embF)
	pat.Embedding = make([]float32, len(embF))
	for i, v := range embF {
		pat.Embedding[i] = float32(v)
	}
	_ = json.Unmarshal(plan, &pat.ReplayPlan)
	_ = json.Unmarshal(meta, &pat.Metadata)
	return pat, nil
}

// RecordUsage appends a usage log entry and atomically increments the
// pattern's success/failure counter in one transaction, per spec.md
// §4.9's "atomic counter updates" invariant.
func (p *Postgres) RecordUsage(ctx context.Context, trace model.ExecutionTrace) error {
	const op = "patternstore.RecordUsage"
	return p.retry.Do(ctx, func(ctx context.Context) error {
		tx, err := p.pool.Begin(ctx)
		if err != nil {
			return nodekit.Transient(op, err)
		}
		defer tx.Rollback(ctx)

		if _, err := tx.Exec(ctx, `INSERT INTO pattern_usage_log(pattern_id, trace_id, success, context, recorded_at) VALUES ($1,$2,$3,$4,$5)`,
			trace.PatternID, trace.TraceID, trace.Success, trace.Context, trace.Timestamp); err != nil {
			return nodekit.Transient(op, err)
		}
		col := "failure_count"
		if trace.Success {
			col = "success_count"
		}
		if _, err := tx.Exec(ctx, fmt.Sprintf(`UPDATE success_patterns SET %s = %s + 1, last_used_at=$2 WHERE pattern_id=$1`, col, col),
			trace.PatternID, trace.Timestamp); err != nil {
			return nodekit.Transient(op, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nodekit.Transient(op, err)
		}
		return nil
	})
}

// PruneStale soft-deletes (active=false) patterns whose success_rate has
// stayed below retentionFloor for the entire observationWindow, per
// spec.md §4.9: retention_floor is a success-rate threshold, not a
// minimum pattern count. A pattern with no recorded history is exempt
// (there is no success_rate to judge it by). It runs in three steps:
// reset patterns that recovered above the floor, mark patterns dipping
// below it for the first time, then soft-delete anything that has been
// below it since before now-observationWindow.
func (p *Postgres) PruneStale(ctx context.Context, retentionFloor float64, observationWindow time.Duration, now time.Time) (int, error) {
	const op = "patternstore.PruneStale"
	if _, err := p.pool.Exec(ctx, `
UPDATE success_patterns SET below_floor_since = NULL
WHERE active AND below_floor_since IS NOT NULL
  AND (success_count + failure_count) > 0
  AND (success_count::float8 / (success_count + failure_count)) >= $1
`, retentionFloor); err != nil {
		return 0, nodekit.Transient(op, err)
	}

	if _, err := p.pool.Exec(ctx, `
UPDATE success_patterns SET below_floor_since = $2
WHERE active AND below_floor_since IS NULL
  AND (success_count + failure_count) > 0
  AND (success_count::float8 / (success_count + failure_count)) < $1
`, retentionFloor, now); err != nil {
		return 0, nodekit.Transient(op, err)
	}

	cutoff := now.Add(-observationWindow)
	tag, err := p.pool.Exec(ctx, `
UPDATE success_patterns SET active = false
WHERE active AND below_floor_since IS NOT NULL AND below_floor_since <= $1
`, cutoff)
	if err != nil {
		return 0, nodekit.Transient(op, err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) MarkProcessed(ctx context.Context, ev model.ProcessedEvent) error {
	return p.execWithRetry(ctx, `
INSERT INTO processed_events(event_id, consumer_id, processed_at) VALUES ($1,$2,$3)
ON CONFLICT (event_id, consumer_id) DO NOTHING
`, ev.EventID, ev.ConsumerID, ev.ProcessedAt)
}

func (p *Postgres) WasProcessed(ctx context.Context, eventID string) (bool, error) {
	const op = "patternstore.WasProcessed"
	var one int
	err := p.pool.QueryRow(ctx, `SELECT 1 FROM processed_events WHERE event_id=$1 LIMIT 1`, eventID).Scan(&one)
	if err != nil {
		if isNoRows(err) {
			return false, nil
		}
		return false, nodekit.Transient(op, err)
	}
	return true, nil
}

// CleanupProcessed deletes processed_events rows older than ttl, the
// idempotency table's TTL cleanup (spec.md §4.11, default 7 days).
func (p *Postgres) CleanupProcessed(ctx context.Context, ttl time.Duration, now time.Time) (int, error) {
	const op = "patternstore.CleanupProcessed"
	tag, err := p.pool.Exec(ctx, `DELETE FROM processed_events WHERE processed_at < $1`, now.Add(-ttl))
	if err != nil {
		return 0, nodekit.Transient(op, err)
	}
	return int(tag.RowsAffected()), nil
}

func isNoRows(err error) bool {
	return err != nil && err.Error() == "no rows in result set"
}
