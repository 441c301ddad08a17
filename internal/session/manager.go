package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultImmediateTimeout bounds the receive of an immediate result.
	DefaultImmediateTimeout = time.Second
	// DefaultNextBuffer is the capacity of each next channel.
	DefaultNextBuffer = 16
)

// Manager owns the registry and runs start-query and cancel commands.
//
// Thread-safety model:
//   - FetchQuery, Unsubscribe and the read-only views: safe from any goroutine
//   - one dispatcher goroutine per streaming session
type Manager struct {
	engine   Engine
	registry *Registry
	log      *slog.Logger

	probeWindow      time.Duration
	immediateTimeout time.Duration
	nextBuffer       int

	// ctx is passed to Sink.Emit and cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeMu sync.RWMutex
	closing bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithProbeWindow bounds how long FetchQuery waits for completion before
// choosing the streaming path. Default 0 (non-blocking probe).
func WithProbeWindow(d time.Duration) Option {
	return func(m *Manager) {
		m.probeWindow = d
	}
}

// WithImmediateTimeout bounds the receive of an immediate result.
func WithImmediateTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.immediateTimeout = d
		}
	}
}

// WithNextBuffer sets the next channel capacity. Values below 1 are raised
// to 1 so one-shot producers can deliver before signalling completion.
func WithNextBuffer(n int) Option {
	return func(m *Manager) {
		m.nextBuffer = max(n, 1)
	}
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithRegistry uses an existing registry instead of a fresh one.
func WithRegistry(r *Registry) Option {
	return func(m *Manager) {
		if r != nil {
			m.registry = r
		}
	}
}

// NewManager creates a Manager over engine.
func NewManager(engine Engine, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		engine:           engine,
		registry:         NewRegistry(),
		log:              slog.Default(),
		immediateTimeout: DefaultImmediateTimeout,
		nextBuffer:       DefaultNextBuffer,
		ctx:              ctx,
		cancel:           cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Registry returns the manager's registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// FetchQuery parses and subscribes query, attaches listen channels and
// probes completion.
//
// A completed session is consumed and torn down, and its single result is
// returned inline with no registry residue. Otherwise a key is allocated,
// the session is registered, one dispatcher starts forwarding results to
// sink, and the pending key is returned.
func (m *Manager) FetchQuery(ctx context.Context, sink Sink, query, operationName, variables string) (Reply, error) {
	m.closeMu.RLock()
	defer m.closeMu.RUnlock()
	if m.closing {
		return Reply{}, ErrClosed
	}

	parsed, err := m.engine.ParseQuery(query)
	if err != nil {
		return Reply{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	producer, err := m.engine.Subscribe(parsed, operationName, variables)
	if err != nil {
		return Reply{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	sub := newSubscription(producer, sink, operationName)
	if err := sub.Listen(m.nextBuffer); err != nil {
		m.teardown(sub)
		return Reply{}, err
	}

	if sub.Completed(m.probeWindow) {
		return m.immediate(ctx, sub)
	}
	return m.stream(sub)
}

// immediate consumes the single result of a completed session.
func (m *Manager) immediate(ctx context.Context, sub *Subscription) (Reply, error) {
	defer m.teardown(sub)

	t := time.NewTimer(m.immediateTimeout)
	defer t.Stop()

	var payload Payload
	select {
	case p, ok := <-sub.Next():
		if ok {
			payload = p
		}
	case <-t.C:
		return Reply{}, ErrImmediateTimeout
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}

	select {
	case _, ok := <-sub.Next():
		if ok {
			m.log.Warn("discarding extra results of completed session", "operation", sub.Operation())
		}
	default:
	}

	if err := checkPayload(payload); err != nil {
		return Reply{}, err
	}
	return Reply{Immediate: true, Results: payload}, nil
}

// stream registers sub and starts its dispatcher.
func (m *Manager) stream(sub *Subscription) (Reply, error) {
	key := m.registry.Allocate()
	if err := m.registry.Insert(key, sub); err != nil {
		m.teardown(sub)
		return Reply{}, fmt.Errorf("register session: %w", err)
	}

	m.wg.Add(1)
	go m.dispatch(key, sub)

	m.log.Info("session opened", "key", key, "operation", sub.Operation())
	return Reply{Pending: key}, nil
}

// Unsubscribe removes key and closes its session. Unknown keys succeed.
// Once Unsubscribe returns, no further event for key reaches the sink.
func (m *Manager) Unsubscribe(key Key) error {
	return m.drop(key, "unsubscribed")
}

// drop removes key from the registry and closes its subscription.
// A second removal of the same key is a no-op.
func (m *Manager) drop(key Key, reason string) error {
	sub, ok := m.registry.Remove(key)
	if !ok {
		m.log.Debug("session already removed", "key", key, "reason", reason)
		return nil
	}
	m.log.Info("session closed", "key", key, "reason", reason)
	return m.teardown(sub)
}

func (m *Manager) teardown(sub *Subscription) error {
	if err := sub.Close(); err != nil {
		m.log.Warn("closing session producer failed", "operation", sub.Operation(), "error", err)
		return err
	}
	return nil
}

// Closed returns a channel closed once key's session has been closed.
// For an unknown key the channel is already closed.
func (m *Manager) Closed(key Key) <-chan struct{} {
	if sub, ok := m.registry.Get(key); ok {
		return sub.Done()
	}
	done := make(chan struct{})
	close(done)
	return done
}

// Keys returns open session keys in ascending order.
func (m *Manager) Keys() []Key {
	return m.registry.Keys()
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	return m.registry.Len()
}

// Close rejects new queries, closes every open session and waits for the
// dispatchers to exit or ctx to end.
func (m *Manager) Close(ctx context.Context) error {
	m.closeMu.Lock()
	if m.closing {
		m.closeMu.Unlock()
		return nil
	}
	m.closing = true
	m.closeMu.Unlock()

	// In-flight Emit calls hold their subscription lock until they return.
	m.cancel()

	var errs []error
	for _, key := range m.registry.Keys() {
		if err := m.drop(key, "shutdown"); err != nil {
			errs = append(errs, err)
		}
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for dispatchers: %w", ctx.Err()))
	}
	return errors.Join(errs...)
}
