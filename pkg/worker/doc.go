// Package worker provides a generic, thread-safe worker pool for concurrent
// task processing.
//
// The pool manages a fixed number of goroutines draining a bounded channel,
// giving predictable resource usage and non-blocking backpressure on submit:
//
//	pool := worker.NewPool[Job](
//	    10, 1000,
//	    func(ctx context.Context, job Job) error {
//	        return process(job)
//	    },
//	    worker.WithMetricsRegistry[Job](registry, "connection_dispatch"),
//	)
//	pool.Start(ctx)
//	defer pool.Stop(5 * time.Second)
//
//	if err := pool.Submit(job); errors.Is(err, worker.ErrQueueFull) {
//	    // backpressure: caller decides whether to drop or retry
//	}
//
// Submit never blocks: a full queue returns ErrQueueFull immediately rather
// than stalling the caller. Worker count is fixed at construction; there is
// no dynamic scaling or per-item priority.
package worker
