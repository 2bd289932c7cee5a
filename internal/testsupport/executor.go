package testsupport

import (
	"context"
	"sync"

	"tether/internal/queue"
)

// Executor is a scriptable queue.Executor that records every call.
type Executor struct {
	mu       sync.Mutex
	calls    []queue.Request
	failures map[string][]error
	fallback error
	gate     chan struct{}
	started  chan queue.Request
}

// NewExecutor returns an executor that succeeds by default.
func NewExecutor() *Executor {
	return &Executor{
		failures: make(map[string][]error),
		started:  make(chan queue.Request, 256),
	}
}

// FailResource makes the next len(errs) calls for resource return errs in order.
func (e *Executor) FailResource(resource string, errs ...error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures[resource] = append(e.failures[resource], errs...)
}

// FailAll makes every unscripted call return err (nil restores success).
func (e *Executor) FailAll(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fallback = err
}

// Block holds subsequent calls until the returned release function runs.
func (e *Executor) Block() (release func()) {
	gate := make(chan struct{})
	e.mu.Lock()
	e.gate = gate
	e.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			if e.gate == gate {
				e.gate = nil
			}
			e.mu.Unlock()
			close(gate)
		})
	}
}

// Started delivers each request as its call begins.
func (e *Executor) Started() <-chan queue.Request {
	return e.started
}

// Calls returns every request executed so far, in call order.
func (e *Executor) Calls() []queue.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]queue.Request, len(e.calls))
	copy(out, e.calls)
	return out
}

// Resources returns the resource of every call, in call order.
func (e *Executor) Resources() []string {
	calls := e.Calls()
	out := make([]string, len(calls))
	for i, call := range calls {
		out[i] = call.Resource
	}
	return out
}

// Execute implements queue.Executor.
func (e *Executor) Execute(ctx context.Context, req queue.Request) error {
	e.mu.Lock()
	e.calls = append(e.calls, req.Clone())
	gate := e.gate
	var err error
	if scripted := e.failures[req.Resource]; len(scripted) > 0 {
		err = scripted[0]
		e.failures[req.Resource] = scripted[1:]
	} else {
		err = e.fallback
	}
	e.mu.Unlock()

	select {
	case e.started <- req.Clone():
	default:
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
