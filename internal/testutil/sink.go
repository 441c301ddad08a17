package testutil

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/roach88/liveq/internal/session"
)

// Event is one recorded sink push.
type Event struct {
	Name    string
	Payload []byte
}

// RecordingSink records every pushed event in arrival order.
//
// Thread-safety: all methods are safe for concurrent use.
type RecordingSink struct {
	// Fail, when set, is consulted before recording. A non-nil error is
	// returned from Emit and the event is not recorded.
	Fail func(Event) error

	mu     sync.Mutex
	events []Event
	signal chan struct{} // buffered, size 1
}

// NewRecordingSink creates an empty sink.
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{signal: make(chan struct{}, 1)}
}

// Emit implements session.Sink.
func (s *RecordingSink) Emit(_ context.Context, event string, payload []byte) error {
	e := Event{Name: event, Payload: append([]byte(nil), payload...)}
	if s.Fail != nil {
		if err := s.Fail(e); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
	return nil
}

// Events returns a copy of the recorded events.
func (s *RecordingSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// Len returns the number of recorded events.
func (s *RecordingSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// NextEvents decodes every recorded "next" event. Events that do not decode
// are skipped.
func (s *RecordingSink) NextEvents() []session.NextEvent {
	var out []session.NextEvent
	for _, e := range s.Events() {
		if e.Name != session.EventNext {
			continue
		}
		var ne session.NextEvent
		if err := json.Unmarshal(e.Payload, &ne); err != nil {
			continue
		}
		out = append(out, ne)
	}
	return out
}

// PayloadsFor returns the payloads pushed for key, in order, as strings.
func (s *RecordingSink) PayloadsFor(key session.Key) []string {
	var out []string
	for _, ne := range s.NextEvents() {
		if ne.Subscription == key {
			out = append(out, string(ne.Next))
		}
	}
	return out
}

// WaitFor blocks until at least n events are recorded or timeout elapses.
// It reports whether n events arrived.
func (s *RecordingSink) WaitFor(n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if s.Len() >= n {
			return true
		}
		select {
		case <-s.signal:
		case <-deadline.C:
			return s.Len() >= n
		}
	}
}

// WaitForKey blocks until at least n payloads are recorded for key or
// timeout elapses. It reports whether n payloads arrived.
func (s *RecordingSink) WaitForKey(key session.Key, n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if len(s.PayloadsFor(key)) >= n {
			return true
		}
		select {
		case <-s.signal:
		case <-deadline.C:
			return len(s.PayloadsFor(key)) >= n
		}
	}
}
