package services

import (
	"context"

	"mediadesk/internal/queue"
)

// UploadFile is the file actually sent to a worker. It is either the source
// file or audio extracted from it.
type UploadFile struct {
	Path        string
	Filename    string
	ContentType string
	Size        int64
	Extracted   bool
}

// Payload is one job attempt handed to a worker.
type Payload struct {
	Job  queue.Job
	File UploadFile
}

// Artifact is a blob returned by a worker for the artifact store.
type Artifact struct {
	Key         string
	ContentType string
	Data        []byte
	Meta        map[string]string
}

// Result is a successful worker response.
type Result struct {
	MediaKey  string
	Detail    string
	Artifacts []Artifact
	// Output describes the produced file for conversion jobs.
	Output *queue.Conversion
}

// Observer receives progress signals from a worker during one attempt.
// Calls arrive on the worker's goroutine and must not block.
type Observer interface {
	UploadProgress(fraction float64)
	Stage(stage queue.Status, detail string)
	Progress(fraction float64)
}

// Worker processes job attempts of one kind. Failures should be returned as
// *FailureError; other errors are passed through Classify.
type Worker interface {
	Submit(ctx context.Context, payload Payload, observer Observer) (Result, error)
}

// WorkerFunc adapts a function to the Worker interface.
type WorkerFunc func(ctx context.Context, payload Payload, observer Observer) (Result, error)

func (f WorkerFunc) Submit(ctx context.Context, payload Payload, observer Observer) (Result, error) {
	return f(ctx, payload, observer)
}
