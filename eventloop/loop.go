// Package eventloop implements the cooperative scheduler that the pubsub
// control plane depends on for cyclic subscribe ticks, socket readiness
// callbacks and delayed ("graveyard") frees.
//
// Callbacks are dispatched through a worker.Pool so that distinct
// connections' callbacks may run concurrently, while each individual
// caller (a cyclic timer, a channel reader) only ever has one callback
// in flight at a time — giving the strict-per-connection/arbitrary-
// across-connections ordering the control plane relies on without a
// single bottleneck goroutine.
package eventloop

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gauravks/open62541/errors"
	"github.com/gauravks/open62541/metric"
	"github.com/gauravks/open62541/pkg/worker"
)

// CallbackID identifies a registered cyclic callback for later removal.
type CallbackID uint64

// task is one unit of dispatch: a single callback invocation plus a
// completion signal so the caller can serialize its own submissions.
type task struct {
	fn   func()
	done chan struct{}
}

// Loop is a single logical scheduler. Its callbacks execute concurrently
// with respect to each other across distinct registrations, but each
// registration's own callbacks never overlap themselves.
type Loop struct {
	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc

	pool *worker.Pool[task]

	cyclicMu sync.Mutex
	cyclic   map[CallbackID]*cyclicCallback
	nextID   atomic.Uint64

	metrics *metric.Metrics
}

type cyclicCallback struct {
	id       CallbackID
	interval time.Duration
	fn       func()
	stop     chan struct{}
}

// Option configures a Loop at construction time.
type Option func(*Loop)

// WithMetrics registers event-loop gauges/histograms on the given
// collector. Safe to omit in tests.
func WithMetrics(m *metric.Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

// New creates a Loop. workers bounds how many callbacks may run
// concurrently; 0 selects the worker.Pool default.
func New(workers int, opts ...Option) *Loop {
	l := &Loop{
		cyclic: make(map[CallbackID]*cyclicCallback),
	}
	for _, opt := range opts {
		opt(l)
	}

	var poolOpts []worker.Option[task]
	l.pool = worker.NewPool(workers, 256, func(_ context.Context, t task) error {
		start := time.Now()
		t.fn()
		close(t.done)
		if l.metrics != nil {
			l.metrics.RecordEventLoopLatency(time.Since(start))
		}
		return nil
	}, poolOpts...)

	return l
}

// Start launches the dispatch pool. The loop runs until Stop is called
// or ctx is cancelled.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started {
		return errors.Wrap(fmt.Errorf("event loop already started"), errors.KindInternalError, "Loop", "Start")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	if err := l.pool.Start(loopCtx); err != nil {
		cancel()
		return errors.Wrap(err, errors.KindInternalError, "Loop", "Start")
	}
	l.started = true
	return nil
}

// Stop cancels all cyclic callbacks and drains the dispatch pool.
func (l *Loop) Stop(timeout time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.started {
		return nil
	}

	l.cyclicMu.Lock()
	for id, cb := range l.cyclic {
		close(cb.stop)
		delete(l.cyclic, id)
	}
	l.cyclicMu.Unlock()

	if l.cancel != nil {
		l.cancel()
	}
	if err := l.pool.Stop(timeout); err != nil {
		return errors.Wrap(err, errors.KindResourceUnavail, "Loop", "Stop")
	}
	l.started = false
	return nil
}

// dispatch submits fn for execution and blocks until it has run,
// preserving in-order execution for the caller that invokes dispatch
// repeatedly from a single goroutine.
func (l *Loop) dispatch(fn func()) error {
	t := task{fn: fn, done: make(chan struct{})}
	if err := l.pool.Submit(t); err != nil {
		return err
	}
	<-t.done
	return nil
}

// AddCyclicCallback registers fn to run every interval on the dispatch
// pool. Miss-tolerant: the timer is re-armed only after an invocation
// completes, so a long-running invocation delays the next tick by one
// full interval from its completion; ticks are never queued twice.
func (l *Loop) AddCyclicCallback(interval time.Duration, fn func()) CallbackID {
	id := CallbackID(l.nextID.Add(1))
	cb := &cyclicCallback{id: id, interval: interval, fn: fn, stop: make(chan struct{})}

	l.cyclicMu.Lock()
	l.cyclic[id] = cb
	l.cyclicMu.Unlock()

	go l.runCyclic(cb)

	if l.metrics != nil {
		l.cyclicMu.Lock()
		l.metrics.SetEventLoopCallbacks(len(l.cyclic))
		l.cyclicMu.Unlock()
	}

	return id
}

func (l *Loop) runCyclic(cb *cyclicCallback) {
	timer := time.NewTimer(cb.interval)
	defer timer.Stop()

	for {
		select {
		case <-cb.stop:
			return
		case <-timer.C:
			select {
			case <-cb.stop:
				return
			default:
			}
			_ = l.dispatch(cb.fn)
			timer.Reset(cb.interval)
		}
	}
}

// RemoveCyclicCallback cancels a previously registered cyclic callback.
// It does not wait for a callback already in flight, which runs to
// completion on its own; RemoveCyclicCallback only prevents future ticks.
func (l *Loop) RemoveCyclicCallback(id CallbackID) {
	l.cyclicMu.Lock()
	defer l.cyclicMu.Unlock()

	cb, ok := l.cyclic[id]
	if !ok {
		return
	}
	close(cb.stop)
	delete(l.cyclic, id)

	if l.metrics != nil {
		l.metrics.SetEventLoopCallbacks(len(l.cyclic))
	}
}

// AddDelayedCallback enqueues fn to run exactly once, after every
// callback already submitted to the pool at the time of the call has
// either started or is queued ahead of it. Used as the deletion
// graveyard: by the time fn runs, no in-flight callback can still
// reference the entity being freed, because the entity was already
// unlinked from the Manager graph before the callback was queued.
func (l *Loop) AddDelayedCallback(fn func()) {
	t := task{fn: fn, done: make(chan struct{})}
	// Best-effort: if Submit fails because the loop is stopped, the
	// deletion already can't be observed by any pending graph walk.
	_ = l.pool.Submit(t)
}

// RegisterReader starts a dedicated goroutine that calls recv
// repeatedly and dispatches each successful read to onData on the pool,
// waiting for each dispatch to complete before issuing the next recv.
// This is the push-transport readiness path: UDP datagrams and MQTT
// messages both arrive through this mechanism.
func (l *Loop) RegisterReader(ctx context.Context, recv func(context.Context) ([]byte, error), onData func([]byte)) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			frame, err := recv(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				continue
			}

			if dispatchErr := l.dispatch(func() { onData(frame) }); dispatchErr != nil {
				return
			}
		}
	}()
}
