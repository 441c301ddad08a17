package testutil

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/roach88/liveq/internal/session"
)

// FakeProducer is a scriptable session.Producer.
//
// In Sync mode Listen delivers Script, signals completion and closes next
// before returning. Otherwise a pump goroutine owns next: it forwards
// Script, then whatever the test passes to Send, and closes next after
// Finish or Close.
type FakeProducer struct {
	// Script is delivered as soon as Listen attaches.
	Script []session.Payload
	// Sync selects synchronous delivery during Listen.
	Sync bool
	// ListenErr is returned from Listen when set.
	ListenErr error
	// CloseErr is returned from Close when set.
	CloseErr error

	feed     chan session.Payload
	done     chan struct{}
	attached chan struct{}
	complete chan<- struct{}

	listenOnce   sync.Once
	completeOnce sync.Once
	finishOnce   sync.Once
	closeOnce    sync.Once
	closes       atomic.Int32
	exited       chan struct{}
}

// NewFakeProducer creates a streaming producer that first delivers script.
func NewFakeProducer(script ...session.Payload) *FakeProducer {
	return &FakeProducer{
		Script:   script,
		feed:     make(chan session.Payload),
		done:     make(chan struct{}),
		attached: make(chan struct{}),
		exited:   make(chan struct{}),
	}
}

// NewSyncProducer creates a producer that completes during Listen.
func NewSyncProducer(script ...session.Payload) *FakeProducer {
	p := NewFakeProducer(script...)
	p.Sync = true
	return p
}

// Listen implements session.Producer.
func (p *FakeProducer) Listen(next chan<- session.Payload, complete chan<- struct{}) error {
	if p.ListenErr != nil {
		return p.ListenErr
	}
	attachedNow := false
	p.listenOnce.Do(func() { attachedNow = true })
	if !attachedNow {
		return errors.New("fake producer: listen called twice")
	}

	p.complete = complete
	if p.Sync {
		for _, payload := range p.Script {
			next <- payload
		}
		p.completeOnce.Do(func() { close(complete) })
		close(next)
		close(p.exited)
		close(p.attached)
		return nil
	}

	go p.pump(next)
	close(p.attached)
	return nil
}

func (p *FakeProducer) pump(next chan<- session.Payload) {
	defer close(p.exited)
	defer close(next)

	for _, payload := range p.Script {
		select {
		case next <- payload:
		case <-p.done:
			return
		}
	}
	for {
		select {
		case payload, ok := <-p.feed:
			if !ok {
				return
			}
			select {
			case next <- payload:
			case <-p.done:
				return
			}
		case <-p.done:
			return
		}
	}
}

// Send hands payload to the pump. It reports false once the producer is
// closed.
func (p *FakeProducer) Send(payload session.Payload) bool {
	select {
	case p.feed <- payload:
		return true
	case <-p.done:
		return false
	}
}

// Complete fires the completion signal once. It waits for Listen.
func (p *FakeProducer) Complete() {
	<-p.attached
	p.completeOnce.Do(func() { close(p.complete) })
}

// Finish makes the pump close next after the payloads already sent.
func (p *FakeProducer) Finish() {
	p.finishOnce.Do(func() { close(p.feed) })
}

// Close implements session.Producer.
func (p *FakeProducer) Close() error {
	p.closes.Add(1)
	p.closeOnce.Do(func() { close(p.done) })
	return p.CloseErr
}

// Closes returns how many times Close was called.
func (p *FakeProducer) Closes() int {
	return int(p.closes.Load())
}

// Done is closed by the first Close.
func (p *FakeProducer) Done() <-chan struct{} {
	return p.done
}

// Exited is closed once next has been closed.
func (p *FakeProducer) Exited() <-chan struct{} {
	return p.exited
}

// FakeEngine is a session.Engine whose producers come from Factory.
type FakeEngine struct {
	// ParseErr, when set, fails every ParseQuery.
	ParseErr error
	// Factory creates the producer for each Subscribe.
	Factory func(operationName, variables string) (session.Producer, error)

	mu         sync.Mutex
	subscribed []string
}

// ParseQuery returns the query text as the parsed artifact.
func (e *FakeEngine) ParseQuery(query string) (session.ParsedQuery, error) {
	if e.ParseErr != nil {
		return nil, e.ParseErr
	}
	if query == "" {
		return nil, errors.New("empty query")
	}
	return query, nil
}

// Subscribe records the operation name and calls Factory.
func (e *FakeEngine) Subscribe(_ session.ParsedQuery, operationName, variables string) (session.Producer, error) {
	e.mu.Lock()
	e.subscribed = append(e.subscribed, operationName)
	e.mu.Unlock()

	if e.Factory == nil {
		return nil, errors.New("unknown operation " + operationName)
	}
	return e.Factory(operationName, variables)
}

// Subscribed returns the operation names passed to Subscribe, in order.
func (e *FakeEngine) Subscribed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.subscribed...)
}
