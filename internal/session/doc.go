// Package session turns a one-shot query engine into multiplexed,
// addressable result streams.
//
// A start-query either resolves inline (the producer signalled completion
// before the probe) or yields a pending Key whose later results are pushed
// to a Sink as "next" events by a per-session dispatcher goroutine.
//
// # Lifecycle
//
//	Created → Listening → ImmediateComplete → Closed
//	                    → Streaming         → Closed
//
// A session leaves the Registry on exactly one of: immediate completion
// (never inserted), dispatcher-observed channel closure, or Unsubscribe.
//
// # Locking
//
// Lock order is registry before subscription. The dispatcher forwards each
// payload while holding the subscription lock and only while the
// subscription is open, so once Unsubscribe returns no further event for
// that key reaches the sink.
package session
