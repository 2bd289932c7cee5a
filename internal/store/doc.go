// Package store provides durable backends for the offline request queue.
//
// Every backend stores the complete ordered queue on each Save and returns it
// unchanged from Load. SQLite keeps one row per request, Bolt and File keep a
// single versioned JSON document, and Memory backs ephemeral runs and tests.
// Load returns an empty slice when nothing has been stored yet and an error
// wrapping ErrCorrupt when stored state cannot be decoded.
package store
