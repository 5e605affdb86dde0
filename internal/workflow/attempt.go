package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"mediadesk/internal/logging"
	"mediadesk/internal/notifications"
	"mediadesk/internal/queue"
	"mediadesk/internal/services"
)

// process drives one queued job to a terminal status, including the single
// automatic retry, and returns the final record.
func (r *Runner) process(ctx context.Context, id string) queue.Job {
	ctx = services.WithJobID(ctx, id)
	job, err := r.update(id, func(job *queue.Job) error {
		if err := job.Transition(queue.StatusUploading, r.now()); err != nil {
			return err
		}
		job.Detail = "Preparing upload"
		job.Progress = nil
		return nil
	})
	if err != nil {
		r.logger.Debug("job skipped", logging.JobID(id), logging.Error(err))
		current, _ := r.Get(id)
		return current
	}
	ctx = services.WithKind(ctx, string(job.Kind))
	logger := logging.WithContext(ctx, r.logger)
	logger.Info("job started",
		logging.String("title", job.Title),
		logging.Int(logging.FieldAttempt, job.AttemptCount),
		logging.EventType("job_started"),
	)

	autoRetried := false
	for {
		result, err := r.attempt(services.WithAttempt(ctx, job.AttemptCount), id)
		if err == nil {
			return r.succeed(ctx, id, result)
		}
		if ctx.Err() != nil {
			logger.Info("job interrupted by shutdown", logging.Error(err), logging.EventType("job_interrupted"))
			final, _ := r.update(id, func(job *queue.Job) error {
				return job.Fail(queue.StaleJobMessage, true, r.now())
			})
			return final
		}
		failure := services.Classify(err)
		if failure.Retryable && !autoRetried && r.cfg.Queue.AutoRetry {
			autoRetried = true
			job, err = r.update(id, func(job *queue.Job) error {
				return job.ResetForAutoRetry(r.now())
			})
			if err != nil {
				return r.fail(ctx, id, err)
			}
			logger.Info("transient failure; retrying once",
				logging.String("reason", failure.Error()),
				logging.Int(logging.FieldAttempt, job.AttemptCount),
				logging.EventType("job_auto_retry"),
			)
			continue
		}
		return r.fail(ctx, id, err)
	}
}

// attempt runs one upload-and-submit cycle for the job.
func (r *Runner) attempt(ctx context.Context, id string) (services.Result, error) {
	job, ok := r.Get(id)
	if !ok {
		return services.Result{}, ErrJobNotFound
	}
	worker := r.workers[job.Kind]
	if worker == nil {
		return services.Result{}, services.NewFailure(fmt.Sprintf("No worker is configured for %s jobs.", job.Kind), false, 0, services.ErrConfiguration)
	}

	file, cleanup, err := r.resolvePayload(ctx, job)
	if err != nil {
		return services.Result{}, err
	}
	defer cleanup()

	// Detection and extraction may have changed the record.
	job, _ = r.Get(id)
	ctx = services.WithRequestID(ctx, uuid.NewString())
	observer := newJobObserver(r, id, job.AttemptCount, logging.WithContext(ctx, r.logger))

	submitCtx, cancel := context.WithTimeout(ctx, r.cfg.SubmitTimeout())
	defer cancel()
	result, err := worker.Submit(submitCtx, services.Payload{Job: job, File: file}, observer)
	if err != nil {
		if ctx.Err() == nil && errors.Is(submitCtx.Err(), context.DeadlineExceeded) {
			return services.Result{}, services.NewFailure(services.MessageTimeout, false, 0, err)
		}
		return services.Result{}, err
	}
	return result, nil
}

func (r *Runner) succeed(ctx context.Context, id string, result services.Result) queue.Job {
	logger := logging.WithContext(ctx, r.logger)
	note := r.storeArtifacts(ctx, logger, result.Artifacts)

	job, err := r.update(id, func(job *queue.Job) error {
		if err := job.Transition(queue.StatusSucceeded, r.now()); err != nil {
			return err
		}
		job.MediaKey = strings.TrimSpace(result.MediaKey)
		job.Detail = strings.TrimSpace(result.Detail)
		if job.Detail == "" {
			job.Detail = "Done"
		}
		if note != "" {
			job.Detail += ". " + note
		}
		job.Error = ""
		job.Retryable = false
		job.SetProgress(1)
		if result.Output != nil && job.Conversion != nil {
			job.Conversion.OutputPath = result.Output.OutputPath
			job.Conversion.OutputFilename = result.Output.OutputFilename
			job.Conversion.OutputContentType = result.Output.OutputContentType
		}
		return nil
	})
	if err != nil {
		logging.ErrorWithContext(logger, "job success could not be recorded", "job_state_error", logging.Error(err))
		current, _ := r.Get(id)
		return current
	}

	logger.Info("job succeeded",
		logging.String("title", job.Title),
		logging.String("media_key", job.MediaKey),
		logging.Int(logging.FieldAttempt, job.AttemptCount),
		logging.EventType("job_succeeded"),
	)
	if r.refresher != nil {
		if err := r.refresher.Refresh(ctx, job.Clone()); err != nil {
			logging.WarnWithContext(logger, "post-success refresh failed", "job_refresh_failed",
				logging.Error(err),
				logging.Impact("recent media list may be stale"),
			)
		}
	}
	r.publish(ctx, notifications.EventJobCompleted, notifications.Payload{
		"title": job.Title,
		"kind":  string(job.Kind),
	})
	return job
}

// storeArtifacts writes returned artifacts best effort and returns a note for
// the job detail when any write failed.
func (r *Runner) storeArtifacts(ctx context.Context, logger *slog.Logger, artifacts []services.Artifact) string {
	if len(artifacts) == 0 {
		return ""
	}
	if r.artifacts == nil {
		logger.Debug("no artifact store configured; artifacts discarded", logging.Int("count", len(artifacts)))
		return ""
	}
	failed := 0
	for _, artifact := range artifacts {
		meta := make(map[string]string, len(artifact.Meta)+1)
		for k, v := range artifact.Meta {
			meta[k] = v
		}
		if artifact.ContentType != "" {
			meta["content_type"] = artifact.ContentType
		}
		if err := r.artifacts.Put(ctx, artifact.Key, artifact.Data, meta); err != nil {
			failed++
			logging.WarnWithContext(logger, "artifact could not be saved", "artifact_store_failed",
				logging.String("artifact_key", artifact.Key),
				logging.Error(err),
				logging.Hint("check free space and permissions in the workspace"),
				logging.Impact("job succeeded but the local copy is missing"),
			)
		}
	}
	if failed == 0 {
		return ""
	}
	return fmt.Sprintf("%d of %d results could not be saved locally", failed, len(artifacts))
}

func (r *Runner) fail(ctx context.Context, id string, cause error) queue.Job {
	failure := services.Classify(cause)
	logger := logging.WithContext(ctx, r.logger)
	job, err := r.update(id, func(job *queue.Job) error {
		return job.Fail(failure.Message, failure.Retryable, r.now())
	})
	if err != nil {
		logging.ErrorWithContext(logger, "job failure could not be recorded", "job_state_error", logging.Error(err))
		current, _ := r.Get(id)
		return current
	}
	logging.WarnWithContext(logger, "job failed", "job_failed",
		logging.String("title", job.Title),
		logging.Error(cause),
		logging.Bool("retryable", failure.Retryable),
		logging.Int("http_status", failure.Code),
		logging.Hint(services.Hint(cause)),
		logging.Impact("job needs a manual retry"),
	)
	r.publish(ctx, notifications.EventJobFailed, notifications.Payload{
		"title": job.Title,
		"kind":  string(job.Kind),
		"error": job.Error,
	})
	return job
}

var stageRank = map[queue.Status]int{
	queue.StatusUploading:    1,
	queue.StatusTranscribing: 2,
	queue.StatusBuilding:     3,
}

// jobObserver turns worker callbacks into job updates for one attempt.
// Stages never move backwards within an attempt, and signals that arrive
// after the job moved on to another attempt are dropped.
type jobObserver struct {
	r       *Runner
	id      string
	attempt int
	logger  *slog.Logger
	mu      sync.Mutex
	sampler *logging.ProgressSampler
}

func newJobObserver(r *Runner, id string, attempt int, logger *slog.Logger) *jobObserver {
	return &jobObserver{r: r, id: id, attempt: attempt, logger: logger, sampler: logging.NewProgressSampler(0.1)}
}

func (o *jobObserver) UploadProgress(fraction float64) {
	o.apply(queue.StatusUploading, "Uploading", fraction)
}

func (o *jobObserver) Stage(stage queue.Status, detail string) {
	o.apply(stage, detail, -1)
}

func (o *jobObserver) Progress(fraction float64) {
	o.apply("", "", fraction)
}

var errStaleSignal = errors.New("stale progress signal")

func (o *jobObserver) apply(stage queue.Status, detail string, fraction float64) {
	job, err := o.r.update(o.id, func(job *queue.Job) error {
		if job.AttemptCount != o.attempt {
			return errStaleSignal
		}
		target := stage
		if target == "" {
			target = job.Status
		}
		if !target.InFlight() || !job.Status.InFlight() || stageRank[target] < stageRank[job.Status] {
			return errStaleSignal
		}
		changed := target != job.Status
		if err := job.Transition(target, o.r.now()); err != nil {
			return err
		}
		if detail = strings.TrimSpace(detail); detail != "" {
			job.Detail = detail
		}
		switch {
		case fraction >= 0:
			job.SetProgress(fraction)
		case changed:
			job.Progress = nil
		}
		return nil
	})
	if err != nil {
		return
	}

	o.mu.Lock()
	emit := o.sampler.ShouldLog(string(job.Status), job.ProgressValue())
	o.mu.Unlock()
	if !emit {
		return
	}
	attrs := []logging.Attr{
		logging.String(logging.FieldStage, string(job.Status)),
		logging.String("detail", job.Detail),
		logging.EventType("job_progress"),
	}
	if job.Progress != nil {
		attrs = append(attrs, logging.Progress(*job.Progress))
	}
	o.logger.Info("job progress", logging.Args(attrs...)...)
}
