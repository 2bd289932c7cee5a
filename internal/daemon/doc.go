// Package daemon hosts the long-running tether process.
//
// It owns the queue engine for the lifetime of the process, guarded by a
// flock-based single-instance lock, and wires the engine to the configured
// store, network monitor, HTTP executor, and ntfy notifier. The daemon exposes
// queue operations to the IPC layer and serves the same operations over an
// optional bearer-authenticated HTTP API.
//
// Evictions are forwarded from the engine's mutation path to a buffered
// worker so slow notification delivery never blocks queue operations.
package daemon
