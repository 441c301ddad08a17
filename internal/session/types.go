package session

import (
	"context"
	"encoding/json"
)

// Key identifies a streaming session. Keys start at 1, strictly increase in
// issuance order and are never reused within a process.
type Key int64

// Payload is one opaque result value. It must be valid JSON to be wrapped
// in an envelope.
type Payload = json.RawMessage

// ParsedQuery is an engine-validated query artifact. The manager never
// inspects it.
type ParsedQuery any

// Engine parses query text and creates result producers.
type Engine interface {
	ParseQuery(query string) (ParsedQuery, error)
	Subscribe(q ParsedQuery, operationName, variables string) (Producer, error)
}

// Producer emits results for one subscribed operation.
//
// Listen attaches the delivery channels exactly once. The producer sends
// zero or more payloads on next, closes complete once it will never produce
// again, and closes next when it has finished or has been closed. Close
// tells the producer to stop; it must not block on the consumer.
type Producer interface {
	Listen(next chan<- Payload, complete chan<- struct{}) error
	Close() error
}

// Sink receives pushed events for streaming sessions.
type Sink interface {
	Emit(ctx context.Context, event string, payload []byte) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event string, payload []byte) error

// Emit calls f.
func (f SinkFunc) Emit(ctx context.Context, event string, payload []byte) error {
	return f(ctx, event, payload)
}

// EventNext is the event name of every pushed result.
const EventNext = "next"
