package nodekit

import (
	"context"
	"math/rand"
	"time"
)

// NodeKind classifies a node's interaction with the outside world, per
// spec.md §4.1.
type NodeKind int

const (
	// Compute nodes are pure: same input always produces the same
	// output, no I/O.
	Compute NodeKind = iota
	// Effect nodes perform exactly one external-store interaction and
	// must be idempotent under retry.
	Effect
	// Reducer nodes aggregate the results of multiple Effects inside a
	// single logical transaction boundary.
	Reducer
	// Orchestrator nodes declaratively compose other nodes, including
	// retry and compensation policy.
	Orchestrator
)

func (k NodeKind) String() string {
	switch k {
	case Compute:
		return "compute"
	case Effect:
		return "effect"
	case Reducer:
		return "reducer"
	case Orchestrator:
		return "orchestrator"
	default:
		return "unknown"
	}
}

// Node is the common contract every operation implements: dispatch by
// operation name against a schema-validated input, returning a typed
// output or a taxonomy Error.
type Node interface {
	// Name identifies the node for logging, metrics, and dispatch.
	Name() string
	// Kind reports the node's interaction contract.
	Kind() NodeKind
}

// RetryPolicy implements the exponential-backoff-with-jitter retry loop
// shared by every Effect/Orchestrator node, generalized from the linear
// backoff in internal/sefii/engine.go's execWithRetry.
type RetryPolicy struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
}

// Do runs fn, retrying while the returned error's Kind is Retryable and
// attempts remain. It returns the last error if all attempts are
// exhausted, or nil on the first success.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := p.delayFor(attempt - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !KindOf(err).Retryable() {
			return err
		}
	}
	return lastErr
}

func (p RetryPolicy) delayFor(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	max := p.MaxDelay
	if max <= 0 {
		max = 30 * time.Second
	}
	d := base << attempt
	if d > max || d <= 0 {
		d = max
	}
	if p.JitterFactor > 0 {
		jitter := float64(d) * p.JitterFactor
		d = d - time.Duration(jitter) + time.Duration(rand.Float64()*2*jitter)
	}
	return d
}
