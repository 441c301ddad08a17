package session

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubProducer records what Listen attached and how often Close ran.
type stubProducer struct {
	next      chan<- Payload
	complete  chan<- struct{}
	listenErr error
	closeErr  error
	closes    atomic.Int32
}

func (p *stubProducer) Listen(next chan<- Payload, complete chan<- struct{}) error {
	if p.listenErr != nil {
		return p.listenErr
	}
	p.next, p.complete = next, complete
	return nil
}

func (p *stubProducer) Close() error {
	p.closes.Add(1)
	return p.closeErr
}

func TestSubscription_ListenOnce(t *testing.T) {
	p := &stubProducer{}
	sub := newSubscription(p, nil, "Watch")

	require.NoError(t, sub.Listen(4))
	require.NotNil(t, p.next)
	assert.Equal(t, 4, cap(sub.Next()))

	err := sub.Listen(4)
	assert.ErrorIs(t, err, ErrAlreadyListening)
}

func TestSubscription_ListenError(t *testing.T) {
	p := &stubProducer{listenErr: errors.New("boom")}
	sub := newSubscription(p, nil, "Watch")

	err := sub.Listen(1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestSubscription_ListenAfterClose(t *testing.T) {
	sub := newSubscription(&stubProducer{}, nil, "")
	require.NoError(t, sub.Close())
	assert.ErrorIs(t, sub.Listen(1), ErrClosed)
}

func TestSubscription_CompletedNonBlocking(t *testing.T) {
	p := &stubProducer{}
	sub := newSubscription(p, nil, "")
	require.NoError(t, sub.Listen(1))

	assert.False(t, sub.Completed(0))
	close(p.complete)
	assert.True(t, sub.Completed(0))
}

func TestSubscription_CompletedWithinWindow(t *testing.T) {
	p := &stubProducer{}
	sub := newSubscription(p, nil, "")
	require.NoError(t, sub.Listen(1))

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(p.complete)
	}()
	assert.True(t, sub.Completed(2*time.Second))
}

func TestSubscription_CompletedWindowElapses(t *testing.T) {
	sub := newSubscription(&stubProducer{}, nil, "")
	require.NoError(t, sub.Listen(1))

	start := time.Now()
	assert.False(t, sub.Completed(20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestSubscription_CloseIdempotent(t *testing.T) {
	p := &stubProducer{}
	sub := newSubscription(p, nil, "")
	require.NoError(t, sub.Listen(1))

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	assert.True(t, sub.Closed())
	assert.Equal(t, int32(1), p.closes.Load())
	select {
	case <-sub.Done():
	default:
		t.Fatal("Done should be closed")
	}
}

func TestSubscription_CloseReportsProducerError(t *testing.T) {
	sub := newSubscription(&stubProducer{closeErr: errors.New("stuck")}, nil, "")
	err := sub.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stuck")
}

func TestSubscription_DeliverSkippedAfterClose(t *testing.T) {
	sub := newSubscription(&stubProducer{}, nil, "")

	calls := 0
	ran, err := sub.deliver(func() error { calls++; return nil })
	require.NoError(t, err)
	assert.True(t, ran)

	require.NoError(t, sub.Close())
	ran, err = sub.deliver(func() error { calls++; return nil })
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, 1, calls)
}

func TestSubscription_CloseWaitsForDelivery(t *testing.T) {
	sub := newSubscription(&stubProducer{}, nil, "")

	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _ = sub.deliver(func() error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	closed := make(chan struct{})
	go func() {
		_ = sub.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while a delivery was in flight")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return after delivery finished")
	}
}
