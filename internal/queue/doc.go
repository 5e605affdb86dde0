// Package queue owns the job record, its status graph, and the durable job
// list.
//
// Job records are persisted per user as a single JSON document in a SQLite
// key-value table. Repository enforces the ring-buffer bound on write,
// migrates the legacy document on first read, and normalizes every read so
// that jobs left in flight by a previous process come back as failed with a
// retry hint. The database lives in the state directory and is treated as the
// source of truth only between processes; the runner owns the in-memory list
// while it is alive.
//
// When you add a status or a kind, update the transition table in status.go
// and the legacy mapping in legacy.go.
package queue
