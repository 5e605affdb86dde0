package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mediadesk/internal/logging"
	"mediadesk/internal/notifications"
	"mediadesk/internal/queue"
)

// NoJobsNotice is reported when Run finds nothing to process.
const NoJobsNotice = "No jobs to process."

// RunSummary reports the outcome of one Run.
type RunSummary struct {
	Targeted  int
	Succeeded int
	Failed    int
	Canceled  int
	Stopped   bool
	Notice    string
	Duration  time.Duration
}

// Run processes every job currently in one of statuses, one at a time in list
// order. With no statuses it processes queued jobs. Failed and canceled
// targets are reset for retry first. The workspace must be ready before each
// job starts; if it is not, Run halts and the remaining targets stay queued.
//
// Canceling ctx aborts the in-flight attempt. Use Stop for a graceful halt.
func (r *Runner) Run(ctx context.Context, statuses ...queue.Status) (RunSummary, error) {
	var summary RunSummary
	if len(statuses) == 0 {
		statuses = []queue.Status{queue.StatusQueued}
	}
	wanted := make(map[queue.Status]struct{}, len(statuses))
	for _, status := range statuses {
		if status.InFlight() {
			continue
		}
		wanted[status] = struct{}{}
	}

	if r.gate != nil {
		if err := r.gate.EnsureReady(ctx); err != nil {
			return summary, fmt.Errorf("workspace not ready: %w", err)
		}
	}

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return summary, ErrAlreadyRunning
	}
	now := r.now()
	var ids []string
	var changes []Change
	for i := range r.jobs {
		if _, ok := wanted[r.jobs[i].Status]; !ok {
			continue
		}
		if r.jobs[i].Status == queue.StatusFailed || r.jobs[i].Status == queue.StatusCanceled {
			if err := r.jobs[i].ResetForRetry(now); err != nil {
				continue
			}
			changes = append(changes, Change{Job: r.jobs[i].Clone()})
		}
		ids = append(ids, r.jobs[i].ID)
	}
	if len(ids) == 0 {
		r.mu.Unlock()
		summary.Notice = NoJobsNotice
		r.logger.Info("no jobs matched run request", logging.EventType("queue_idle"))
		return summary, nil
	}
	r.running = true
	r.stopRequested = false
	var snapshot []queue.Job
	var observers []Observer
	if len(changes) > 0 {
		snapshot, observers = r.commitLocked()
	}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.stopRequested = false
		r.mu.Unlock()
	}()
	if len(changes) > 0 {
		r.persist.Schedule(snapshot, updatedJobs(changedIDs(changes)...))
		notify(observers, changes...)
	}

	summary.Targeted = len(ids)
	started := r.now()
	r.logger.Info("queue run started",
		logging.Int("targeted", len(ids)),
		logging.EventType("queue_started"),
	)
	r.publish(ctx, notifications.EventQueueStarted, notifications.Payload{"count": len(ids)})

	var runErr error
	for i, id := range ids {
		if ctx.Err() != nil {
			runErr = ctx.Err()
			break
		}
		if r.stopping() {
			summary.Stopped = true
			summary.Canceled += r.cancelQueued(ids[i:])
			break
		}
		job, ok := r.Get(id)
		if !ok || job.Status != queue.StatusQueued {
			continue
		}
		if r.gate != nil {
			if err := r.gate.EnsureReady(ctx); err != nil {
				runErr = fmt.Errorf("workspace not ready: %w", err)
				logging.WarnWithContext(r.logger, "workspace became unavailable; queue halted", "queue_halted",
					logging.Error(err),
					logging.Hint("run `mediadesk workspace connect` and start the queue again"),
					logging.Impact("remaining jobs stay queued"),
				)
				break
			}
		}

		switch r.process(ctx, id).Status {
		case queue.StatusSucceeded:
			summary.Succeeded++
		case queue.StatusFailed:
			summary.Failed++
		case queue.StatusCanceled:
			summary.Canceled++
		}
	}
	if runErr == nil && !summary.Stopped && r.stopping() {
		summary.Stopped = true
	}

	summary.Duration = r.now().Sub(started)
	r.logger.Info("queue run finished",
		logging.Int("succeeded", summary.Succeeded),
		logging.Int("failed", summary.Failed),
		logging.Int("canceled", summary.Canceled),
		logging.Bool("stopped", summary.Stopped),
		logging.Duration("duration", summary.Duration),
		logging.EventType("queue_completed"),
	)
	if runErr == nil || !errors.Is(runErr, context.Canceled) {
		r.publish(ctx, notifications.EventQueueCompleted, notifications.Payload{
			"count":     summary.Targeted,
			"succeeded": summary.Succeeded,
			"failed":    summary.Failed,
			"canceled":  summary.Canceled,
			"duration":  summary.Duration,
		})
	}
	return summary, runErr
}

// Stop asks the active Run to halt after the in-flight attempt. It reports
// whether a Run was active.
func (r *Runner) Stop() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return false
	}
	if !r.stopRequested {
		r.stopRequested = true
		r.logger.Info("stop requested; finishing current job", logging.EventType("queue_stop_requested"))
	}
	return true
}

func (r *Runner) stopping() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopRequested
}

// cancelQueued marks every still-queued job among ids as canceled.
func (r *Runner) cancelQueued(ids []string) int {
	targets := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		targets[id] = struct{}{}
	}
	now := r.now()

	r.mu.Lock()
	var changes []Change
	for i := range r.jobs {
		if _, ok := targets[r.jobs[i].ID]; !ok || r.jobs[i].Status != queue.StatusQueued {
			continue
		}
		if err := r.jobs[i].Transition(queue.StatusCanceled, now); err != nil {
			continue
		}
		r.jobs[i].Error = queue.StoppedBeforeStartMessage
		r.jobs[i].Detail = ""
		r.jobs[i].Progress = nil
		changes = append(changes, Change{Job: r.jobs[i].Clone()})
	}
	if len(changes) == 0 {
		r.mu.Unlock()
		return 0
	}
	snapshot, observers := r.commitLocked()
	r.mu.Unlock()

	r.persist.Schedule(snapshot, updatedJobs(changedIDs(changes)...))
	notify(observers, changes...)
	r.logger.Info("queued jobs canceled by stop",
		logging.Int("canceled", len(changes)),
		logging.EventType("queue_stopped"),
	)
	return len(changes)
}

func (r *Runner) publish(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Publish(ctx, event, payload); err != nil {
		if errors.Is(err, context.Canceled) {
			r.logger.Debug("shutting down, could not send notification", logging.String("event", string(event)))
			return
		}
		r.logger.Debug("notification failed", logging.String("event", string(event)), logging.Error(err))
	}
}
