// Package delaygc implements this delay-GC hook: a single
// process-wide, swappable function that a generation's gc() call can hand
// its collection work to instead of running it inline on the caller's
// goroutine.
//
// The hook receives an Operation - an idempotent closure over one
// generation - and must arrange for it to run at least once. Idempotency
// is not this package's concern: it falls out of generation.gcPending's
// test-and-set, exactly as the ground truth's gc_operation relies on
// generation::gc()'s own flag rather than re-deriving idempotency here.
package delaygc

import (
	"sync"

	"golang.org/x/sync/errgroup"

	"cycleref/internal/rtlog"
)

// Operation is one deferred collection pass, already bound to the
// generation it collects.
type Operation func()

var (
	mu   sync.RWMutex
	hook func(Operation)
)

// Set installs h as the process-wide delay-GC hook. A nil h reverts to no
// hook at all, meaning every generation collects synchronously on the
// calling goroutine again.
func Set(h func(Operation)) {
	mu.Lock()
	defer mu.Unlock()
	hook = h
	rtlog.Debug().Bool("installed", h != nil).Msg("delaygc: hook changed")
}

// Invoke hands op to the installed hook and reports whether one was
// installed. When it returns false, the caller is responsible for running
// op itself.
func Invoke(op Operation) bool {
	mu.RLock()
	h := hook
	mu.RUnlock()
	if h == nil {
		return false
	}
	rtlog.Debug().Msg("delaygc: hook invoked")
	h(op)
	return true
}

// ExecutorHook backs the hook with a bounded worker pool, built on
// errgroup.Group's concurrency limit, so a burst of collection requests
// queues behind a fixed number of goroutines instead of spawning one per
// request.
type ExecutorHook struct {
	g *errgroup.Group
}

// NewExecutorHook creates an executor that runs at most parallelism
// operations concurrently.
func NewExecutorHook(parallelism int) *ExecutorHook {
	g := &errgroup.Group{}
	g.SetLimit(parallelism)
	return &ExecutorHook{g: g}
}

// Hook returns the function to pass to Set. Submitting an operation
// blocks the submitting goroutine if the pool is already at its
// parallelism limit - callers that install this behind a generation's
// hot Release path should size parallelism generously enough that a
// mutator goroutine is never the one waiting on GC throughput.
func (e *ExecutorHook) Hook() func(Operation) {
	return func(op Operation) {
		e.g.Go(func() error {
			op()
			return nil
		})
	}
}

// Wait blocks until every operation submitted so far has returned. Tests
// use this to observe a delayed collection complete; production code has
// no need to call it, since operations are individually idempotent and
// fire-and-forget.
func (e *ExecutorHook) Wait() {
	_ = e.g.Wait()
}
