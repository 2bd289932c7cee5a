// Package queue holds mutating requests issued while offline and replays them
// once connectivity returns.
//
// The Engine owns an ordered list of Request values. Every mutation (enqueue,
// delivery, retry bump, eviction, remove, clear) is persisted through a Store
// before it is considered complete and is then announced to subscribers.
// Requests drain in priority tiers (high, normal, low) and keep insertion
// order within a tier.
//
// Drains are single-flight: an atomic guard ensures at most one pass runs at a
// time, whether it was started by Enqueue while online, by a Monitor
// transition to online, or by an explicit Drain call. A pass executes requests
// one at a time through the Executor. A failure increments the request's retry
// count; at the ceiling the request is evicted and reported on the eviction
// channel. Nothing here returns operational errors to callers: persistence
// failures are logged and the in-memory queue stays authoritative.
//
// The Store, Monitor, and Executor collaborators live in the store, netmon,
// and executor packages; tests substitute in-memory versions.
package queue
