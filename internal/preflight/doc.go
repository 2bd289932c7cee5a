// Package preflight verifies the environment tether depends on: a writable
// state directory, a reachable upstream, and a usable connectivity probe.
//
// The daemon refuses to start when the state directory check fails; the CLI
// status command renders every result so misconfiguration is visible before a
// queued request is ever lost.
package preflight
