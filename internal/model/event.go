package model

import "time"

// EventEnvelope is the wire shape for every message on the event bus, per
// spec.md §6, grounded on internal/tools/kafka's CommandEnvelope but
// generalized to the full envelope fields the spec requires.
type EventEnvelope struct {
	EventID       string            `json:"event_id"`
	EventType     string            `json:"event_type"`
	SchemaVersion int               `json:"schema_version"`
	CorrelationID string            `json:"correlation_id"`
	Timestamp     time.Time         `json:"timestamp"`
	Source        string            `json:"source"`
	Payload       []byte            `json:"payload"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// ProcessedEvent is one row of the processed_events idempotency table
// (spec.md §4.11).
type ProcessedEvent struct {
	EventID     string    `json:"event_id"`
	ConsumerID  string    `json:"consumer_id"`
	ProcessedAt time.Time `json:"processed_at"`
}
