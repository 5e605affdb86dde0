// Package workflow runs the job queue.
//
// The Runner owns the in-memory job list and processes jobs strictly one at a
// time, in list order. Each attempt resolves the upload payload (codec
// detection and, for video or unsupported audio, extraction under a hard
// timeout with an original-file fallback), submits it to the worker
// registered for the job's kind, and stores any returned artifacts. A
// retryable failure gets one silent automatic retry per processing cycle.
//
// Every mutation is handed to an asynchronous persister that coalesces writes
// to the queue repository, and observers receive a copy of the changed job.
// Stop is cooperative: the in-flight attempt finishes and the remaining queued
// targets are canceled.
package workflow
