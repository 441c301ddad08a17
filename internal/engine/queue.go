package engine

import (
	"sync"

	"github.com/eapache/queue"

	"github.com/roach88/liveq/internal/store"
)

// changeQueue is a thread-safe unbounded FIFO of change notifications.
//
// Each live subscription owns one. Writers enqueue without blocking, so a
// slow subscriber never stalls a mutation. The consumer waits on a
// 1-buffered signal channel that coalesces bursts of enqueues.
type changeQueue struct {
	mu      sync.Mutex
	changes *queue.Queue
	closed  bool
	signal  chan struct{} // buffered, size 1
}

func newChangeQueue() *changeQueue {
	return &changeQueue{
		changes: queue.New(),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue appends c. Returns false if the queue is closed.
func (q *changeQueue) Enqueue(c store.Change) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.changes.Add(c)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front change without blocking.
func (q *changeQueue) TryDequeue() (store.Change, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.changes.Length() == 0 {
		return store.Change{}, false
	}
	return q.changes.Remove().(store.Change), true
}

// Drain removes and returns every queued change in order.
func (q *changeQueue) Drain() []store.Change {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.changes.Length()
	if n == 0 {
		return nil
	}
	out := make([]store.Change, 0, n)
	for q.changes.Length() > 0 {
		out = append(out, q.changes.Remove().(store.Change))
	}
	return out
}

// Wait returns a channel that signals when changes may be available. It is
// closed by Close.
//
//	select {
//	case <-ctx.Done():
//	    return ctx.Err()
//	case <-q.Wait():
//	    changes := q.Drain()
//	}
func (q *changeQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued changes.
func (q *changeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.changes.Length()
}

// Close stops further enqueues and wakes waiters. Idempotent.
func (q *changeQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
