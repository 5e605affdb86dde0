// Package logging assembles structured slog loggers and formatting helpers used
// across mediadesk.
//
// It owns the console and JSON handlers, level parsing and output plumbing,
// and exposes context-aware helpers so runner and worker code can tag log lines
// with job IDs, kinds and attempt numbers automatically. A no-op logger is
// provided for tests and wiring code that cannot fail.
package logging
