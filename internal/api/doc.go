// Package api defines wire-format types and converters shared by the IPC
// server, the HTTP API, and the CLI.
//
// # Key Types
//
// QueueItem: transport representation of a queued request.
//
// EnqueueRequest: caller input for enqueue and dispatch.
//
// DaemonStatus: connectivity, queue size, drain state, and store location.
//
// DrainSummary: outcome counts for one drain call.
//
// # Design Notes
//
// DTOs use camelCase JSON tags for JavaScript/TypeScript consumers. Timestamps
// use RFC3339 with milliseconds. A JSON payload is passed through as
// json.RawMessage; any other payload travels base64-encoded in payloadBase64.
package api
