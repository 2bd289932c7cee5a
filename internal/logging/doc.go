// Package logging assembles structured slog loggers and formatting helpers used
// across tether services.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes field constants so the engine, daemon, and executor tag
// log lines with request IDs, event types, and operator hints in the same shape.
// The package also provides a no-op logger for tests and wiring code that
// cannot fail.
package logging
