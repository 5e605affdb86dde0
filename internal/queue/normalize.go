package queue

import (
	"encoding/json"
	"strings"
	"time"
)

// epoch is the deterministic fallback for records missing both timestamps.
var epoch = time.Unix(0, 0).UTC()

// DecodeJobs parses a persisted job document. Entries that are not JSON
// objects of the expected shape are dropped. A document that is not a JSON
// array yields no jobs.
func DecodeJobs(data []byte) []Job {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	jobs := make([]Job, 0, len(raw))
	for _, entry := range raw {
		var job Job
		if err := json.Unmarshal(entry, &job); err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs
}

// Normalize validates a freshly loaded job list. Records without id, kind or
// status, with an unknown kind or status, or repeating an earlier id are
// dropped. Optional fields receive safe defaults, and any job that was in
// flight is coerced to failed because no attempt survives the process that
// ran it. Queued jobs stay queued: their source is a path on disk and is
// still valid. Timestamps of valid records are never rewritten, so
// normalizing the same input twice yields equal output.
func Normalize(raw []Job) []Job {
	return normalize(raw, true)
}

// NormalizeShared is Normalize for a list that another live process may be
// working on. In-flight jobs keep their status.
func NormalizeShared(raw []Job) []Job {
	return normalize(raw, false)
}

func normalize(raw []Job, coerceInFlight bool) []Job {
	out := make([]Job, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, candidate := range raw {
		job := candidate.Clone()
		job.ID = strings.TrimSpace(job.ID)
		if job.ID == "" || !job.Kind.Valid() || !job.Status.Valid() {
			continue
		}
		if _, dup := seen[job.ID]; dup {
			continue
		}
		seen[job.ID] = struct{}{}

		fillDefaults(&job)
		if coerceInFlight && job.Status.InFlight() {
			job.Status = StatusFailed
			job.Error = StaleJobMessage
			job.Retryable = true
			job.Detail = ""
		}
		if job.Status == StatusFailed && strings.TrimSpace(job.Error) == "" {
			job.Error = StaleJobMessage
		}
		job.UnloadSensitive = false
		out = append(out, job)
	}
	return out
}

func fillDefaults(job *Job) {
	if job.Source.Filename == "" && job.Source.Path != "" {
		job.Source.Filename = baseName(job.Source.Path)
	}
	if strings.TrimSpace(job.Title) == "" {
		job.Title = TitleFromFilename(job.Source.Filename)
	}
	switch {
	case job.CreatedAt.IsZero() && job.UpdatedAt.IsZero():
		job.CreatedAt, job.UpdatedAt = epoch, epoch
	case job.CreatedAt.IsZero():
		job.CreatedAt = job.UpdatedAt
	case job.UpdatedAt.IsZero():
		job.UpdatedAt = job.CreatedAt
	}
	if job.AttemptCount < 1 {
		job.AttemptCount = 1
	}
	if job.Progress != nil {
		job.SetProgress(*job.Progress)
	}
	if job.Source.Size < 0 {
		job.Source.Size = 0
	}
	if job.CaseID != nil && strings.TrimSpace(*job.CaseID) == "" {
		job.CaseID = nil
	}
	switch job.Kind {
	case KindTranscription:
		job.Conversion = nil
		if job.Transcription == nil {
			job.Transcription = &Transcription{}
		}
		if strings.TrimSpace(job.Transcription.Model) == "" {
			job.Transcription.Model = DefaultModel
		}
		if job.Transcription.SpeakersExpected < 0 {
			job.Transcription.SpeakersExpected = 0
		}
	case KindConversion:
		job.Transcription = nil
		if job.Conversion == nil {
			job.Conversion = &Conversion{}
		}
		if strings.TrimSpace(job.Conversion.TargetFormat) == "" {
			job.Conversion.TargetFormat = DefaultTargetFormat
		}
	}
}

func baseName(path string) string {
	path = strings.TrimRight(path, "/\\")
	if idx := strings.LastIndexAny(path, "/\\"); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

// Bound trims a job list to at most max entries, evicting the oldest (lowest
// list position) first. An in-flight job is never evicted. max <= 0 disables
// the bound.
func Bound(jobs []Job, max int) ([]Job, int) {
	if max <= 0 || len(jobs) <= max {
		return jobs, 0
	}
	excess := len(jobs) - max
	out := make([]Job, 0, max)
	evicted := 0
	for _, job := range jobs {
		if evicted < excess && !job.Status.InFlight() {
			evicted++
			continue
		}
		out = append(out, job)
	}
	return out, evicted
}
