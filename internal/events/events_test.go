package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intelkernel/internal/config"
	"intelkernel/internal/model"
	"intelkernel/internal/nodekit"
	"intelkernel/internal/patternstore"
)

func TestTopicNaming(t *testing.T) {
	cfg := config.KafkaConfig{Env: "dev", Owner: "intel", Domain: "ingestion"}
	assert.Equal(t, "dev.intel.ingestion.document.ingested", Topic(cfg, "document.ingested"))
	assert.Equal(t, "dev.intel.ingestion.document.ingested.dlq", DLQTopic(Topic(cfg, "document.ingested")))
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func TestPublishRetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	w := &countingWriter{onCall: func() error {
		calls++
		if calls < 2 {
			return errors.New("connection reset")
		}
		return nil
	}}
	pub := NewPublisher(w, nodekit.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond})
	err := pub.Publish(context.Background(), "t", model.EventEnvelope{EventID: "e1"})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

type countingWriter struct {
	onCall func() error
}

func (c *countingWriter) WriteMessages(_ context.Context, _ ...kafka.Message) error {
	return c.onCall()
}

func TestPublishToDLQSetsReasonHeader(t *testing.T) {
	w := &fakeWriter{}
	pub := NewPublisher(w, nodekit.RetryPolicy{MaxAttempts: 1})
	err := pub.PublishToDLQ(context.Background(), "orders", model.EventEnvelope{EventID: "e1"}, errors.New("boom"))
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "orders.dlq", w.msgs[0].Topic)
	require.Len(t, w.msgs[0].Headers, 1)
	assert.Equal(t, "dlq_reason", w.msgs[0].Headers[0].Key)
	assert.Equal(t, "boom", string(w.msgs[0].Headers[0].Value))
}

func TestCircuitBreakerOpensAfterFailureLimit(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Hour)
	assert.True(t, cb.Allow())
	cb.RecordFailure()
	assert.True(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.False(t, cb.Allow())
}

func TestCircuitBreakerRecoversAfterCooldown(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Millisecond)
	cb.RecordFailure()
	assert.False(t, cb.Allow())
	time.Sleep(5 * time.Millisecond)
	assert.True(t, cb.Allow())
	assert.Equal(t, CircuitHalfOpen, cb.State())
}

type fakeReader struct {
	msgs      []kafka.Message
	idx       int
	committed []kafka.Message
}

func (f *fakeReader) FetchMessage(_ context.Context) (kafka.Message, error) {
	if f.idx >= len(f.msgs) {
		return kafka.Message{}, io.EOF
	}
	m := f.msgs[f.idx]
	f.idx++
	return m, nil
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.committed = append(f.committed, msgs...)
	return nil
}

func envMsg(t *testing.T, env model.EventEnvelope) kafka.Message {
	t.Helper()
	b, err := json.Marshal(env)
	require.NoError(t, err)
	return kafka.Message{Value: b}
}

func TestConsumerSkipsAlreadyProcessedEvents(t *testing.T) {
	store := patternstore.NewMemory()
	ctx := context.Background()
	require.NoError(t, store.MarkProcessed(ctx, model.ProcessedEvent{EventID: "dup", ConsumerID: "c1", ProcessedAt: time.Now()}))

	reader := &fakeReader{msgs: []kafka.Message{envMsg(t, model.EventEnvelope{EventID: "dup"})}}
	called := false
	c := NewConsumer(reader, store, "c1", "t", nodekit.RetryPolicy{MaxAttempts: 1}, nil, nil, nil, nil)

	err := c.Run(ctx, func(context.Context, model.EventEnvelope) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, io.EOF)
	assert.False(t, called, "handler must not run for an already-processed event")
}

func TestConsumerRoutesExhaustedFailuresToDLQ(t *testing.T) {
	store := patternstore.NewMemory()
	w := &fakeWriter{}
	pub := NewPublisher(w, nodekit.RetryPolicy{MaxAttempts: 1})
	reader := &fakeReader{msgs: []kafka.Message{envMsg(t, model.EventEnvelope{EventID: "e1"})}}
	c := NewConsumer(reader, store, "c1", "main-topic", nodekit.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond}, nil, pub, nil, nil)

	err := c.Run(context.Background(), func(context.Context, model.EventEnvelope) error {
		return nodekit.Permanent("handler", errors.New("unrecoverable"))
	})
	require.ErrorIs(t, err, io.EOF)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "main-topic.dlq", w.msgs[0].Topic)

	done, err := store.WasProcessed(context.Background(), "e1")
	require.NoError(t, err)
	assert.False(t, done, "a DLQ-routed event must not be marked processed")
}
