package workflow

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mediadesk/internal/config"
	"mediadesk/internal/logging"
	"mediadesk/internal/queue"
)

// MaxSourceBytes is the largest source file accepted for any job.
const MaxSourceBytes int64 = 2 << 30

var mediaContentTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".wav":  "audio/wav",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".opus": "audio/opus",
	".webm": "video/webm",
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
}

// ContentTypeFor guesses a media type from a filename.
func ContentTypeFor(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ct, ok := mediaContentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// Input describes one requested job.
type Input struct {
	Path        string
	Filename    string
	ContentType string
	Kind        queue.Kind
	Title       string
	CaseID      string

	// Transcription options.
	Model            string
	SpeakersExpected int
	Multichannel     bool
	ChannelLabels    map[int]string

	// Conversion options.
	TargetFormat string
}

// Rejection pairs an input with the reason it was not enqueued.
type Rejection struct {
	Input  Input
	Reason string
}

// EnqueueResult reports what a submission produced.
type EnqueueResult struct {
	Jobs     []queue.Job
	Dropped  int
	Rejected []Rejection
	Evicted  int
}

// Enqueue appends one queued job per valid input. Inputs past the batch limit
// are dropped and counted; invalid inputs are rejected individually.
func (r *Runner) Enqueue(ctx context.Context, inputs []Input) (EnqueueResult, error) {
	var result EnqueueResult
	if err := ctx.Err(); err != nil {
		return result, err
	}
	limit := r.cfg.Queue.MaxBatch
	if limit > 0 && len(inputs) > limit {
		result.Dropped = len(inputs) - limit
		inputs = inputs[:limit]
	}

	now := r.now().UTC()
	created := make([]queue.Job, 0, len(inputs))
	for _, input := range inputs {
		job, err := r.buildJob(input, now)
		if err != nil {
			result.Rejected = append(result.Rejected, Rejection{Input: input, Reason: err.Error()})
			continue
		}
		created = append(created, job)
	}
	if result.Dropped > 0 {
		logging.WarnWithContext(r.logger, "batch limit exceeded; extra files dropped", "enqueue_dropped",
			logging.Int("dropped", result.Dropped),
			logging.Int("max_batch", limit),
			logging.Hint("submit the remaining files in another batch"),
			logging.Impact("dropped files were not queued"),
		)
	}
	if len(created) == 0 {
		return result, nil
	}

	delta := queue.NewChanges()
	for _, job := range created {
		delta.Create(job.ID)
	}
	r.mu.Lock()
	before := r.jobs
	r.jobs = append(r.jobs, created...)
	var evicted int
	r.jobs, evicted = queue.Bound(r.jobs, r.cfg.Queue.MaxPersisted)
	if evicted > 0 {
		delta.Remove(evictedIDs(before, r.jobs)...)
	}
	snapshot, observers := r.commitLocked()
	r.mu.Unlock()

	result.Evicted = evicted
	result.Jobs = queue.CloneJobs(created)
	r.persist.Schedule(snapshot, delta)
	changes := make([]Change, 0, len(created))
	for _, job := range created {
		changes = append(changes, Change{Job: job.Clone()})
		r.logger.Info("job queued",
			logging.JobID(job.ID),
			logging.String(logging.FieldKind, string(job.Kind)),
			logging.String("title", job.Title),
			logging.EventType("job_queued"),
		)
	}
	notify(observers, changes...)
	if evicted > 0 {
		r.logger.Info("oldest jobs evicted", logging.Int("evicted", evicted), logging.EventType("jobs_evicted"))
	}
	return result, nil
}

// evictedIDs lists the ids in before that are missing from after.
func evictedIDs(before, after []queue.Job) []string {
	kept := make(map[string]struct{}, len(after))
	for _, job := range after {
		kept[job.ID] = struct{}{}
	}
	var ids []string
	for _, job := range before {
		if _, ok := kept[job.ID]; !ok {
			ids = append(ids, job.ID)
		}
	}
	return ids
}

func (r *Runner) buildJob(input Input, now time.Time) (queue.Job, error) {
	path := strings.TrimSpace(input.Path)
	if path == "" {
		return queue.Job{}, errors.New("file path is required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return queue.Job{}, fmt.Errorf("file not readable: %w", err)
	}
	if info.IsDir() {
		return queue.Job{}, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > MaxSourceBytes {
		return queue.Job{}, errors.New("file is larger than 2 GiB")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return queue.Job{}, fmt.Errorf("resolve path: %w", err)
	}

	kind := input.Kind
	if kind == "" {
		kind = queue.KindTranscription
	}
	if !kind.Valid() {
		return queue.Job{}, fmt.Errorf("unknown job kind %q", kind)
	}

	filename := strings.TrimSpace(input.Filename)
	if filename == "" {
		filename = filepath.Base(abs)
	}
	contentType := strings.TrimSpace(input.ContentType)
	if contentType == "" {
		contentType = ContentTypeFor(filename)
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = queue.TitleFromFilename(filename)
	}

	job := queue.Job{
		ID:        r.newID(),
		Kind:      kind,
		Status:    queue.StatusQueued,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		Source: queue.Source{
			Path:        abs,
			Filename:    filename,
			Size:        info.Size(),
			ContentType: contentType,
		},
		AttemptCount: 1,
	}
	if caseID := strings.TrimSpace(input.CaseID); caseID != "" {
		job.CaseID = &caseID
	}

	switch kind {
	case queue.KindTranscription:
		opts, err := r.transcriptionOptions(input)
		if err != nil {
			return queue.Job{}, err
		}
		job.Transcription = opts
	case queue.KindConversion:
		format := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(input.TargetFormat), "."))
		if format == "" {
			format = r.cfg.Worker.ConversionFormat
		}
		if !config.SupportedConversionFormat(format) {
			return queue.Job{}, fmt.Errorf("unsupported target format %q", format)
		}
		job.Conversion = &queue.Conversion{TargetFormat: format}
	}
	return job, nil
}

func (r *Runner) transcriptionOptions(input Input) (*queue.Transcription, error) {
	model := strings.ToLower(strings.TrimSpace(input.Model))
	if model == "" {
		model = r.cfg.Worker.DefaultModel
	}
	if !config.SupportedModel(model) {
		return nil, fmt.Errorf("unsupported model %q (use assemblyai or gemini)", model)
	}
	opts := &queue.Transcription{Model: model}
	if input.Multichannel {
		if model != "assemblyai" {
			return nil, errors.New("multichannel transcription requires the assemblyai model")
		}
		opts.Multichannel = true
		for idx, label := range input.ChannelLabels {
			label = strings.TrimSpace(label)
			if idx <= 0 || label == "" {
				continue
			}
			if opts.ChannelLabels == nil {
				opts.ChannelLabels = make(map[int]string)
			}
			opts.ChannelLabels[idx] = label
		}
		return opts, nil
	}
	if input.SpeakersExpected < 0 {
		return nil, errors.New("speakers expected must be positive")
	}
	opts.SpeakersExpected = input.SpeakersExpected
	return opts, nil
}
