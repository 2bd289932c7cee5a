// Package main hosts the tether CLI entrypoint and command graph.
//
// The Cobra command tree runs the daemon in the foreground, manages a
// detached daemon process, and translates queue, network, and notification
// commands into IPC calls. Queue inspection and editing fall back to the
// persisted store when no daemon is running.
package main
