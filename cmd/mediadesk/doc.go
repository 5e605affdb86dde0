// Command mediadesk manages the local media job queue.
//
// Subcommands connect the workspace directory, submit files for
// transcription or conversion, run the queue in the foreground and inspect
// or retry jobs. The job list lives in the state database, so it survives
// restarts; jobs interrupted by a crash come back as failed and retryable.
//
// An interrupt during `mediadesk run` stops the queue after the current job.
// A second interrupt aborts the job in flight.
package main
