// Package notifications publishes job and queue events to ntfy.
//
// NewService returns a no-op implementation when no topic is configured, so
// callers never need to nil-check. Per-event toggles in the notifications
// config section suppress individual events.
package notifications
