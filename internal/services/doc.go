// Package services holds the shared plumbing that job workers and the queue
// runner agree on.
//
// It defines the context keys that tag log lines with job identifiers and
// attempt numbers, the sentinel error markers used to classify failures, and
// FailureError, the typed rejection every worker returns. Classify turns any
// worker or extraction error into a FailureError so the runner can decide
// between a silent retry and a user-visible failure.
//
// Concrete worker adapters live in subpackages (for example transcriber).
package services
