// Package events implements the event bus layer (spec.md §6): topic
// naming, publish/consume over Kafka, DLQ routing, a circuit breaker, and
// idempotent delivery backed by the pattern store's processed_events
// ledger. Grounded on internal/tools/kafka/kafka.go's Writer interface
// and CommandEnvelope/topic conventions.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"intelkernel/internal/config"
	"intelkernel/internal/model"
	"intelkernel/internal/nodekit"
)

// Topic builds the env.owner.domain.eventType topic name, the naming
// convention used for the orchestrator commands topic in
// internal/tools/kafka/kafka.go.
func Topic(cfg config.KafkaConfig, eventType string) string {
	return fmt.Sprintf("%s.%s.%s.%s", cfg.Env, cfg.Owner, cfg.Domain, eventType)
}

// DLQTopic returns topic's dead-letter counterpart.
func DLQTopic(topic string) string {
	return topic + ".dlq"
}

// Writer is the producer contract, identical in shape to
// internal/tools/kafka/kafka.go's Writer so *kafka.Writer satisfies it
// directly.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Reader is the consumer contract, matching the subset of *kafka.Reader
// this package drives.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Publisher publishes envelopes onto the bus, retrying transient
// failures per the node retry policy before falling back to the DLQ.
type Publisher struct {
	writer Writer
	retry  nodekit.RetryPolicy
}

// NewPublisher builds a Publisher over writer.
func NewPublisher(writer Writer, retry nodekit.RetryPolicy) *Publisher {
	return &Publisher{writer: writer, retry: retry}
}

// Publish writes env to topic, retrying on TransientDependencyFailure per
// the configured RetryPolicy. If the write still fails once the policy
// gives up, env is written to topic's DLQ and the publish error is
// returned.
func (p *Publisher) Publish(ctx context.Context, topic string, env model.EventEnvelope) error {
	const op = "events.Publish"
	body, err := json.Marshal(env)
	if err != nil {
		return nodekit.Invalid(op, err)
	}
	err = p.retry.Do(ctx, func(ctx context.Context) error {
		err := p.writer.WriteMessages(ctx, kafka.Message{
			Topic: topic,
			Key:   []byte(env.EventID),
			Value: body,
		})
		if err != nil {
			return nodekit.Transient(op, err)
		}
		return nil
	})
	if err != nil {
		_ = p.PublishToDLQ(ctx, topic, env, err)
	}
	return err
}

// PublishToDLQ writes env to topic's DLQ with the failure reason attached
// as a header, per spec.md §6's dead-letter-queue requirement.
func (p *Publisher) PublishToDLQ(ctx context.Context, topic string, env model.EventEnvelope, reason error) error {
	const op = "events.PublishToDLQ"
	body, err := json.Marshal(env)
	if err != nil {
		return nodekit.Invalid(op, err)
	}
	msg := kafka.Message{
		Topic: DLQTopic(topic),
		Key:   []byte(env.EventID),
		Value: body,
		Headers: []kafka.Header{
			{Key: "dlq_reason", Value: []byte(reason.Error())},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return nodekit.Transient(op, err)
	}
	return nil
}

// CircuitState reports a CircuitBreaker's current mode.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// CircuitBreaker trips after a run of consecutive failures and holds
// calls open for a cooldown window before allowing a single trial call
// through, shielding the event bus from a persistently failing
// downstream dependency.
type CircuitBreaker struct {
	mu           sync.Mutex
	failureLimit int
	cooldown     time.Duration
	clock        func() time.Time

	state       CircuitState
	failures    int
	openedAt    time.Time
}

// NewCircuitBreaker builds a breaker that opens after failureLimit
// consecutive failures and stays open for cooldown.
func NewCircuitBreaker(failureLimit int, cooldown time.Duration) *CircuitBreaker {
	if failureLimit <= 0 {
		failureLimit = 5
	}
	return &CircuitBreaker{
		failureLimit: failureLimit,
		cooldown:     cooldown,
		clock:        time.Now,
		state:        CircuitClosed,
	}
}

// Allow reports whether a call may proceed given the breaker's state.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case CircuitOpen:
		if b.clock().Sub(b.openedAt) >= b.cooldown {
			b.state = CircuitHalfOpen
			return true
		}
		return false
	case CircuitHalfOpen:
		return false
	default:
		return true
	}
}

// RecordSuccess closes the breaker and resets the failure count.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.state = CircuitClosed
}

// RecordFailure increments the failure count, tripping the breaker open
// once failureLimit is reached.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.state == CircuitHalfOpen || b.failures >= b.failureLimit {
		b.state = CircuitOpen
		b.openedAt = b.clock()
		b.failures = 0
	}
}

// State reports the breaker's current mode, mainly for tests and metrics.
func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
