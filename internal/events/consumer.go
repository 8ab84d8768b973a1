package events

import (
	"context"
	"encoding/json"
	"time"

	"intelkernel/internal/model"
	"intelkernel/internal/nodekit"
	"intelkernel/internal/obs"
)

// IdempotencyStore is the subset of patternstore.PatternStore the
// consumer loop needs, kept narrow so this package does not import
// patternstore directly.
type IdempotencyStore interface {
	WasProcessed(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, ev model.ProcessedEvent) error
	CleanupProcessed(ctx context.Context, ttl time.Duration, now time.Time) (int, error)
}

// Handler processes one envelope. A TransientDependencyFailure or Timeout
// causes the consumer to retry per its RetryPolicy before DLQ-routing; any
// other error routes straight to the DLQ.
type Handler func(ctx context.Context, env model.EventEnvelope) error

// Consumer drains a Reader, de-duplicating by event_id against an
// IdempotencyStore before invoking Handler, and routing exhausted
// failures to the DLQ via Publisher.
type Consumer struct {
	reader     Reader
	store      IdempotencyStore
	consumerID string
	retry      nodekit.RetryPolicy
	breaker    *CircuitBreaker
	publisher  *Publisher
	topic      string
	clock      obs.Clock
	log        obs.Logger
}

// NewConsumer builds a Consumer. clock and log may be nil to use
// defaults (obs.SystemClock{}, obs.NoopLogger{}).
func NewConsumer(reader Reader, store IdempotencyStore, consumerID, topic string, retry nodekit.RetryPolicy, breaker *CircuitBreaker, publisher *Publisher, clock obs.Clock, log obs.Logger) *Consumer {
	if clock == nil {
		clock = obs.SystemClock{}
	}
	if log == nil {
		log = obs.NoopLogger{}
	}
	return &Consumer{
		reader: reader, store: store, consumerID: consumerID, topic: topic,
		retry: retry, breaker: breaker, publisher: publisher, clock: clock, log: log,
	}
}

// Run processes messages until ctx is cancelled, FetchMessage fails, or a
// commit fails. A fetch failure is returned as a
// TransientDependencyFailure.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	const op = "events.Consumer.Run"
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return nodekit.Transient(op, err)
		}
		var env model.EventEnvelope
		if err := json.Unmarshal(msg.Value, &env); err != nil {
			c.log.Error("events: malformed envelope, skipping", map[string]any{"error": err.Error()})
			_ = c.reader.CommitMessages(ctx, msg)
			continue
		}
		if err := c.processOne(ctx, env, handle); err != nil {
			c.log.Error("events: handler failed after retries, routing to DLQ",
				map[string]any{"event_id": env.EventID, "error": err.Error()})
			if c.publisher != nil {
				_ = c.publisher.PublishToDLQ(ctx, c.topic, env, err)
			}
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return nodekit.Transient(op, err)
		}
	}
}

func (c *Consumer) processOne(ctx context.Context, env model.EventEnvelope, handle Handler) error {
	done, err := c.store.WasProcessed(ctx, env.EventID)
	if err != nil {
		return err
	}
	if done {
		return nil
	}
	if c.breaker != nil && !c.breaker.Allow() {
		return nodekit.Transient("events.Consumer.processOne", errCircuitOpen)
	}
	err = c.retry.Do(ctx, func(ctx context.Context) error {
		return handle(ctx, env)
	})
	if c.breaker != nil {
		if err != nil {
			c.breaker.RecordFailure()
		} else {
			c.breaker.RecordSuccess()
		}
	}
	if err != nil {
		return err
	}
	return c.store.MarkProcessed(ctx, model.ProcessedEvent{
		EventID: env.EventID, ConsumerID: c.consumerID, ProcessedAt: c.clock.Now(),
	})
}

var errCircuitOpen = circuitOpenError{}

type circuitOpenError struct{}

func (circuitOpenError) Error() string { return "circuit breaker open" }
