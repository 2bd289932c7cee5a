// Package ipc exposes the daemon over JSON-RPC on a Unix socket and ships the
// matching client used by the CLI.
//
// Request and response types reuse the HTTP API DTOs from internal/api so the
// CLI renders the same shapes regardless of transport.
package ipc
