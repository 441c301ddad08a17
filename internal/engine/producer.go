package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/roach88/liveq/internal/compiler"
	"github.com/roach88/liveq/internal/ir"
	"github.com/roach88/liveq/internal/session"
)

var errUnbufferedNext = errors.New("next channel must be buffered")

func alreadyListening(op string) error {
	return &QueryError{
		Code:      ErrCodeAlreadyListening,
		Message:   "listen channels already attached",
		Operation: op,
		Err:       session.ErrAlreadyListening,
	}
}

// onceProducer runs a query or mutation exactly once during Listen,
// delivers the result and completes. Listen therefore needs a buffered
// next channel.
type onceProducer struct {
	run      func(ctx context.Context) ir.IRObject
	listened atomic.Bool
	ctx      context.Context
	cancel   context.CancelFunc
}

func newOnceProducer(run func(ctx context.Context) ir.IRObject) *onceProducer {
	ctx, cancel := context.WithCancel(context.Background())
	return &onceProducer{run: run, ctx: ctx, cancel: cancel}
}

func (p *onceProducer) Listen(next chan<- session.Payload, complete chan<- struct{}) error {
	if !p.listened.CompareAndSwap(false, true) {
		return alreadyListening("")
	}
	if cap(next) == 0 {
		return errUnbufferedNext
	}

	next <- encode(p.run(p.ctx))
	close(complete)
	close(next)
	return nil
}

func (p *onceProducer) Close() error {
	p.cancel()
	return nil
}

// liveProducer emits the current result of a subscription operation and
// re-runs it after every change to a watched table. Unchanged results are
// suppressed by result hash. It completes after Take results; Take 0 is
// unbounded.
type liveProducer struct {
	engine *Engine
	op     *compiler.Operation
	vars   ir.IRObject

	listened  atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

func newLiveProducer(e *Engine, op *compiler.Operation, vars ir.IRObject) *liveProducer {
	ctx, cancel := context.WithCancel(context.Background())
	return &liveProducer{
		engine: e,
		op:     op,
		vars:   vars,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Listen attaches the channels. A single-result subscription evaluates and
// completes before returning; otherwise the watcher is registered here, so
// no change after Listen is missed, and a goroutine takes over next.
func (p *liveProducer) Listen(next chan<- session.Payload, complete chan<- struct{}) error {
	if !p.listened.CompareAndSwap(false, true) {
		return alreadyListening(p.op.Name)
	}

	if p.op.Take == 1 {
		if cap(next) == 0 {
			return errUnbufferedNext
		}
		next <- encode(p.engine.evaluate(p.ctx, p.op, p.vars))
		close(complete)
		close(next)
		return nil
	}

	w := p.engine.hub.watch(p.op.Tables())
	go p.run(w, next, complete)
	return nil
}

func (p *liveProducer) run(w *watcher, next chan<- session.Payload, complete chan<- struct{}) {
	defer close(next)
	defer p.engine.hub.unwatch(w)

	log := p.engine.log.With("operation", p.op.Name)
	var (
		sent     int
		lastHash string
	)

	// emit reports whether the producer should keep running.
	emit := func() bool {
		result := p.engine.evaluate(p.ctx, p.op, p.vars)
		hash, err := ir.ResultHash(result)
		if err == nil && hash == lastHash {
			log.Debug("result unchanged")
			return true
		}
		lastHash = hash

		select {
		case next <- encode(result):
		case <-p.done:
			return false
		}
		sent++
		if p.op.Take > 0 && sent >= p.op.Take {
			close(complete)
			return false
		}
		return true
	}

	if !emit() {
		return
	}
	for {
		select {
		case <-p.done:
			return
		case _, ok := <-w.queue.Wait():
			if !ok {
				log.Debug("change feed closed")
				return
			}
		}

		changes := w.queue.Drain()
		if len(changes) == 0 {
			continue
		}
		log.Debug("re-running after changes", "changes", len(changes), "last_seq", changes[len(changes)-1].Seq)
		if !emit() {
			return
		}
	}
}

func (p *liveProducer) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		p.cancel()
	})
	return nil
}
