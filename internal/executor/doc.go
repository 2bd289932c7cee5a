// Package executor delivers queued requests to the upstream HTTP service.
//
// HTTP resolves each request's resource against the configured base URL,
// attaches configured and per-request headers plus an idempotency key equal
// to the request id, and reports any non-2xx response as a *StatusError that
// classifies itself as terminal or transient for the queue's eviction policy.
package executor
