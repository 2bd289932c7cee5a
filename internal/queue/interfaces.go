package queue

import "context"

// Store persists the full ordered queue. Save is called once per mutation.
type Store interface {
	// Load returns the stored queue, or an empty slice when nothing is stored.
	Load(ctx context.Context) ([]Request, error)
	Save(ctx context.Context, requests []Request) error
}

// Monitor reports network reachability.
type Monitor interface {
	Online() bool
	// OnTransition registers fn for connectivity changes and returns a disposer.
	OnTransition(fn func(online bool)) (unsubscribe func())
}

// Executor performs the network call for a queued request. Any non-2xx
// response or transport error must be returned as an error.
type Executor interface {
	Execute(ctx context.Context, req Request) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, req Request) error

func (f ExecutorFunc) Execute(ctx context.Context, req Request) error { return f(ctx, req) }
