package testsupport

import (
	"context"
	"testing"
	"time"

	"mediadesk/internal/config"
	"mediadesk/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenRepository opens the job repository for the config's user.
func MustOpenRepository(t testing.TB, cfg *config.Config) *queue.Repository {
	t.Helper()
	return queue.NewRepository(MustOpenStore(t, cfg), cfg.Session.UserID, cfg.Queue.MaxPersisted)
}

// NewJob builds a valid queued transcription job with a fixed creation time
// derived from seq so lists sort predictably.
func NewJob(id string, seq int) queue.Job {
	created := time.Date(2024, 1, 1, 12, 0, seq, 0, time.UTC)
	return queue.Job{
		ID:            id,
		Kind:          queue.KindTranscription,
		Status:        queue.StatusQueued,
		Title:         "Recording " + id,
		CreatedAt:     created,
		UpdatedAt:     created,
		Source:        queue.Source{Path: "/tmp/" + id + ".mp3", Filename: id + ".mp3", Size: 1024},
		Transcription: &queue.Transcription{Model: queue.DefaultModel},
		AttemptCount:  1,
	}
}

// SeedJobs writes jobs through the repository.
func SeedJobs(t testing.TB, repo *queue.Repository, jobs ...queue.Job) {
	t.Helper()
	if _, err := repo.Write(context.Background(), jobs); err != nil {
		t.Fatalf("repo.Write: %v", err)
	}
}
