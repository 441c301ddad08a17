package engine

import (
	"slices"
	"sync"

	"github.com/roach88/liveq/internal/store"
)

// hub fans applied changes out to the live subscriptions watching the
// changed table.
type hub struct {
	mu       sync.Mutex
	watchers map[string]map[*watcher]struct{}
	closed   bool
}

// watcher is one live subscription's registration.
type watcher struct {
	tables []string
	queue  *changeQueue
}

func newHub() *hub {
	return &hub{watchers: make(map[string]map[*watcher]struct{})}
}

// watch registers a watcher for tables. After Close the returned watcher's
// queue is already closed.
func (h *hub) watch(tables []string) *watcher {
	w := &watcher{tables: slices.Clone(tables), queue: newChangeQueue()}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		w.queue.Close()
		return w
	}
	for _, t := range w.tables {
		set, ok := h.watchers[t]
		if !ok {
			set = make(map[*watcher]struct{})
			h.watchers[t] = set
		}
		set[w] = struct{}{}
	}
	return w
}

// unwatch removes w and closes its queue. Idempotent.
func (h *hub) unwatch(w *watcher) {
	h.mu.Lock()
	for _, t := range w.tables {
		if set, ok := h.watchers[t]; ok {
			delete(set, w)
			if len(set) == 0 {
				delete(h.watchers, t)
			}
		}
	}
	h.mu.Unlock()
	w.queue.Close()
}

// publish enqueues c for every watcher of c.Table. Never blocks.
func (h *hub) publish(c store.Change) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for w := range h.watchers[c.Table] {
		if w.queue.Enqueue(c) {
			n++
		}
	}
	return n
}

// count returns the number of distinct registered watchers.
func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	seen := make(map[*watcher]struct{})
	for _, set := range h.watchers {
		for w := range set {
			seen[w] = struct{}{}
		}
	}
	return len(seen)
}

// close closes every watcher queue and rejects later watches.
func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for t, set := range h.watchers {
		for w := range set {
			w.queue.Close()
		}
		delete(h.watchers, t)
	}
}
