package session

import (
	"fmt"
	"sync"
	"time"
)

// Subscription wraps one producer and, once attached, its delivery
// channels. It is owned by exactly one of: the start-query call (until it
// is registered or torn down) or the Registry.
type Subscription struct {
	producer  Producer
	sink      Sink
	operation string

	mu        sync.Mutex
	listening bool
	closed    bool
	next      chan Payload
	complete  chan struct{}
	done      chan struct{} // closed by Close
}

func newSubscription(p Producer, sink Sink, operation string) *Subscription {
	return &Subscription{
		producer:  p,
		sink:      sink,
		operation: operation,
		done:      make(chan struct{}),
	}
}

// Operation returns the operation name the subscription was started with.
func (s *Subscription) Operation() string {
	return s.operation
}

// Listen attaches a next channel of the given capacity and a completion
// signal to the producer. A second call returns ErrAlreadyListening.
func (s *Subscription) Listen(buffer int) error {
	s.mu.Lock()
	if s.listening {
		s.mu.Unlock()
		return ErrAlreadyListening
	}
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("listen: %w", ErrClosed)
	}
	s.listening = true
	s.next = make(chan Payload, buffer)
	s.complete = make(chan struct{})
	next, complete := s.next, s.complete
	s.mu.Unlock()

	// The producer may deliver synchronously; it must not run under s.mu.
	if err := s.producer.Listen(next, complete); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

// Completed probes the completion signal. A zero window never blocks.
func (s *Subscription) Completed(window time.Duration) bool {
	if window <= 0 {
		select {
		case <-s.complete:
			return true
		default:
			return false
		}
	}

	t := time.NewTimer(window)
	defer t.Stop()
	select {
	case <-s.complete:
		return true
	case <-t.C:
		return false
	}
}

// Next returns the attached payload channel.
func (s *Subscription) Next() <-chan Payload {
	return s.next
}

// Done is closed once the subscription has been closed.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Closed reports whether Close has been called.
func (s *Subscription) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// deliver runs fn under the subscription lock if the subscription is
// still open. It reports whether fn ran.
func (s *Subscription) deliver(fn func() error) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, nil
	}
	return true, fn()
}

// Close marks the subscription closed and tells the producer to stop.
// Idempotent. Blocks while a delivery is in flight.
func (s *Subscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	if err := s.producer.Close(); err != nil {
		return fmt.Errorf("close producer: %w", err)
	}
	return nil
}
