// Package notifications pushes queue events to ntfy.
//
// The daemon subscribes the service to the engine's eviction channel so a
// request dropped after failing is surfaced to a phone or desktop instead of
// vanishing silently. Without a configured topic NewService returns a no-op.
package notifications
