package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"mediadesk/internal/config"
	"mediadesk/internal/logging"
	"mediadesk/internal/notifications"
	"mediadesk/internal/queue"
	"mediadesk/internal/services"
)

var (
	// ErrAlreadyRunning is returned by Run while another Run is active.
	ErrAlreadyRunning = errors.New("queue is already running")
	// ErrJobNotFound is returned for unknown job ids.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobInFlight is returned when an operation would disturb the active attempt.
	ErrJobInFlight = errors.New("job is in progress")
)

// WorkspaceGate reports whether the workspace is writable.
type WorkspaceGate interface {
	EnsureReady(ctx context.Context) error
}

// CodecDetector reads stream metadata from a media file.
type CodecDetector interface {
	Detect(ctx context.Context, path string) (queue.Codec, error)
}

// AudioExtractor writes the audio track of src to dst. It must stop when ctx
// is done.
type AudioExtractor interface {
	Extract(ctx context.Context, src, dst string) error
}

// ArtifactStore persists blobs returned by workers.
type ArtifactStore interface {
	Put(ctx context.Context, key string, data []byte, meta map[string]string) error
}

// Refresher is told about every job that succeeds.
type Refresher interface {
	Refresh(ctx context.Context, job queue.Job) error
}

// Observer receives a copy of every job after it changes. Removed jobs are
// delivered once with Removed set.
type Observer interface {
	JobChanged(change Change)
}

// Change describes one job mutation.
type Change struct {
	Job     queue.Job
	Removed bool
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Change)

func (f ObserverFunc) JobChanged(change Change) { f(change) }

// Runner drives jobs through their lifecycle one at a time.
type Runner struct {
	cfg       *config.Config
	repo      *queue.Repository
	logger    *slog.Logger
	notifier  notifications.Service
	workers   map[queue.Kind]services.Worker
	gate      WorkspaceGate
	detector  CodecDetector
	extractor AudioExtractor
	artifacts ArtifactStore
	refresher Refresher
	now       func() time.Time
	newID     func() string
	tempDir   string

	persist *persister

	mu            sync.Mutex
	jobs          []queue.Job
	running       bool
	stopRequested bool
	observers     map[int]Observer
	nextObserver  int
}

// Option configures optional Runner collaborators.
type Option func(*Runner)

// WithWorker registers the worker for a job kind.
func WithWorker(kind queue.Kind, worker services.Worker) Option {
	return func(r *Runner) { r.workers[kind] = worker }
}

// WithWorkspace sets the gate checked before each job starts.
func WithWorkspace(gate WorkspaceGate) Option {
	return func(r *Runner) { r.gate = gate }
}

// WithDetector sets the codec detector.
func WithDetector(detector CodecDetector) Option {
	return func(r *Runner) { r.detector = detector }
}

// WithExtractor sets the audio extractor.
func WithExtractor(extractor AudioExtractor) Option {
	return func(r *Runner) { r.extractor = extractor }
}

// WithArtifactStore sets where returned artifacts are stored.
func WithArtifactStore(store ArtifactStore) Option {
	return func(r *Runner) { r.artifacts = store }
}

// WithRefresher sets the collaborator told about successful jobs.
func WithRefresher(refresher Refresher) Option {
	return func(r *Runner) { r.refresher = refresher }
}

// WithNotifier overrides the notification service.
func WithNotifier(notifier notifications.Service) Option {
	return func(r *Runner) { r.notifier = notifier }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithIDGenerator overrides job id generation.
func WithIDGenerator(newID func() string) Option {
	return func(r *Runner) { r.newID = newID }
}

// WithTempDir sets where extracted audio is written.
func WithTempDir(dir string) Option {
	return func(r *Runner) { r.tempDir = dir }
}

// NewRunner constructs a runner with an empty job list. Call Restore to load
// the persisted list and Close to stop the persister.
func NewRunner(cfg *config.Config, repo *queue.Repository, logger *slog.Logger, opts ...Option) *Runner {
	logger = logging.NewComponentLogger(logger, "runner")
	r := &Runner{
		cfg:       cfg,
		repo:      repo,
		logger:    logger,
		notifier:  notifications.NewService(cfg),
		workers:   make(map[queue.Kind]services.Worker),
		now:       time.Now,
		newID:     func() string { return uuid.NewString() },
		tempDir:   cfg.Paths.StateDir,
		observers: make(map[int]Observer),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.persist = newPersister(repo, logging.NewComponentLogger(logger, "persister"))
	return r
}

// Restore replaces the in-memory list with the normalized persisted list.
// Jobs left in flight by an earlier process are marked failed.
func (r *Runner) Restore(ctx context.Context) error {
	return r.restore(ctx, r.repo.Read)
}

// RestoreShared loads the persisted list while another live process may be
// working on it. In-flight jobs keep their status and stay that process's
// business.
func (r *Runner) RestoreShared(ctx context.Context) error {
	return r.restore(ctx, r.repo.ReadShared)
}

func (r *Runner) restore(ctx context.Context, read func(context.Context) ([]queue.Job, error)) error {
	jobs, err := read(ctx)
	if err != nil {
		return fmt.Errorf("restore jobs: %w", err)
	}
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	r.jobs = jobs
	r.mu.Unlock()
	r.logger.Debug("jobs restored", logging.Int("count", len(jobs)), logging.EventType("jobs_restored"))
	return nil
}

// Snapshot returns a copy of the job list in list order.
func (r *Runner) Snapshot() []queue.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return queue.CloneJobs(r.jobs)
}

// Get returns a copy of one job.
func (r *Runner) Get(id string) (queue.Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx := r.indexLocked(id); idx >= 0 {
		return r.jobs[idx].Clone(), true
	}
	return queue.Job{}, false
}

// Counts aggregates the job list.
func (r *Runner) Counts() queue.Counts {
	r.mu.Lock()
	defer r.mu.Unlock()
	return queue.Tally(r.jobs)
}

// Running reports whether a Run is active.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// UnloadSensitive reports whether shutting down now would interrupt an
// attempt.
func (r *Runner) UnloadSensitive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, job := range r.jobs {
		if job.UnloadSensitive {
			return true
		}
	}
	return false
}

// Subscribe registers an observer and returns a function that removes it.
func (r *Runner) Subscribe(observer Observer) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextObserver
	r.nextObserver++
	r.observers[id] = observer
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.observers, id)
	}
}

// Flush waits until every scheduled write has been attempted and returns the
// last write error, if any.
func (r *Runner) Flush() error {
	return r.persist.Flush()
}

// Close flushes pending writes and stops the persister.
func (r *Runner) Close() error {
	return r.persist.Close()
}

func (r *Runner) indexLocked(id string) int {
	for i := range r.jobs {
		if r.jobs[i].ID == id {
			return i
		}
	}
	return -1
}

// update applies fn to the job under the lock, then persists and notifies.
// fn returning an error leaves the job untouched.
func (r *Runner) update(id string, fn func(job *queue.Job) error) (queue.Job, error) {
	r.mu.Lock()
	idx := r.indexLocked(id)
	if idx < 0 {
		r.mu.Unlock()
		return queue.Job{}, ErrJobNotFound
	}
	working := r.jobs[idx].Clone()
	if err := fn(&working); err != nil {
		r.mu.Unlock()
		return queue.Job{}, err
	}
	r.jobs[idx] = working
	snapshot, observers := r.commitLocked()
	r.mu.Unlock()

	changed := working.Clone()
	r.persist.Schedule(snapshot, updatedJobs(id))
	notify(observers, Change{Job: changed})
	return changed, nil
}

// commitLocked snapshots the list for the persister and the observer set.
func (r *Runner) commitLocked() ([]queue.Job, []Observer) {
	observers := make([]Observer, 0, len(r.observers))
	for _, o := range r.observers {
		observers = append(observers, o)
	}
	return queue.CloneJobs(r.jobs), observers
}

func updatedJobs(ids ...string) queue.Changes {
	changes := queue.NewChanges()
	changes.Update(ids...)
	return changes
}

func changedIDs(changes []Change) []string {
	ids := make([]string, 0, len(changes))
	for _, change := range changes {
		ids = append(ids, change.Job.ID)
	}
	return ids
}

func notify(observers []Observer, changes ...Change) {
	for _, observer := range observers {
		for _, change := range changes {
			observer.JobChanged(change)
		}
	}
}
