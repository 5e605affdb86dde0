package workflow

import (
	"fmt"

	"mediadesk/internal/logging"
	"mediadesk/internal/queue"
)

// Retry resets a failed or canceled job to queued. The id is kept and the
// attempt count grows. The job runs on the next Run.
func (r *Runner) Retry(id string) (queue.Job, error) {
	job, err := r.update(id, func(job *queue.Job) error {
		return job.ResetForRetry(r.now())
	})
	if err != nil {
		return queue.Job{}, fmt.Errorf("retry %s: %w", id, err)
	}
	r.logger.Info("job reset for retry",
		logging.JobID(id),
		logging.Int(logging.FieldAttempt, job.AttemptCount),
		logging.EventType("job_retry"),
	)
	return job, nil
}

// RetryFailed resets every failed job of kind to queued. An empty kind
// matches all kinds. It returns the reset jobs in list order.
func (r *Runner) RetryFailed(kind queue.Kind) []queue.Job {
	now := r.now()
	r.mu.Lock()
	var changes []Change
	for i := range r.jobs {
		if r.jobs[i].Status != queue.StatusFailed {
			continue
		}
		if kind != "" && r.jobs[i].Kind != kind {
			continue
		}
		if err := r.jobs[i].ResetForRetry(now); err != nil {
			continue
		}
		changes = append(changes, Change{Job: r.jobs[i].Clone()})
	}
	if len(changes) == 0 {
		r.mu.Unlock()
		return nil
	}
	snapshot, observers := r.commitLocked()
	r.mu.Unlock()

	r.persist.Schedule(snapshot, updatedJobs(changedIDs(changes)...))
	notify(observers, changes...)
	out := make([]queue.Job, 0, len(changes))
	for _, change := range changes {
		out = append(out, change.Job)
	}
	r.logger.Info("failed jobs reset for retry",
		logging.Int("count", len(out)),
		logging.String(logging.FieldKind, string(kind)),
		logging.EventType("job_retry_batch"),
	)
	return out
}

// Remove deletes a job that is not in flight.
func (r *Runner) Remove(id string) error {
	r.mu.Lock()
	idx := r.indexLocked(id)
	if idx < 0 {
		r.mu.Unlock()
		return ErrJobNotFound
	}
	removed := r.jobs[idx]
	if removed.Status.InFlight() {
		r.mu.Unlock()
		return ErrJobInFlight
	}
	r.jobs = append(r.jobs[:idx], r.jobs[idx+1:]...)
	snapshot, observers := r.commitLocked()
	r.mu.Unlock()

	gone := queue.NewChanges()
	gone.Remove(id)
	r.persist.Schedule(snapshot, gone)
	notify(observers, Change{Job: removed.Clone(), Removed: true})
	r.logger.Info("job removed", logging.JobID(id), logging.EventType("job_removed"))
	return nil
}

// ClearFinished removes every succeeded job and returns how many were removed.
func (r *Runner) ClearFinished() int {
	r.mu.Lock()
	kept := make([]queue.Job, 0, len(r.jobs))
	var changes []Change
	for _, job := range r.jobs {
		if job.Status == queue.StatusSucceeded {
			changes = append(changes, Change{Job: job.Clone(), Removed: true})
			continue
		}
		kept = append(kept, job)
	}
	if len(changes) == 0 {
		r.mu.Unlock()
		return 0
	}
	r.jobs = kept
	snapshot, observers := r.commitLocked()
	r.mu.Unlock()

	gone := queue.NewChanges()
	gone.Remove(changedIDs(changes)...)
	r.persist.Schedule(snapshot, gone)
	notify(observers, changes...)
	return len(changes)
}
