package queue

import (
	"encoding/json"
	"strings"
	"time"
)

// legacyJob is the first-generation job document. Timestamps are Unix
// milliseconds and kind-specific options were flat optional fields.
type legacyJob struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	State    string   `json:"state"`
	Name     string   `json:"name"`
	FileName string   `json:"fileName"`
	FilePath string   `json:"filePath"`
	FileSize int64    `json:"fileSize"`
	Message  string   `json:"message"`
	Progress *float64 `json:"progress"`
	Created  int64    `json:"created"`
	Updated  int64    `json:"updated"`
	ResultID string   `json:"resultId"`
	CaseID   string   `json:"caseId"`
	Model    string   `json:"model"`
	Speakers int      `json:"speakers"`
	Format   string   `json:"format"`
	Attempts int      `json:"attempts"`
}

var legacyKinds = map[string]Kind{
	"transcribe":    KindTranscription,
	"transcription": KindTranscription,
	"convert":       KindConversion,
	"conversion":    KindConversion,
}

// legacyStatus maps v1 states. The in-flight state depends on the kind.
func legacyStatus(state string, kind Kind) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "pending", "queued":
		return StatusQueued, true
	case "running", "processing":
		if kind == KindConversion {
			return StatusBuilding, true
		}
		return StatusTranscribing, true
	case "uploading":
		return StatusUploading, true
	case "done", "complete", "completed":
		return StatusSucceeded, true
	case "error", "failed":
		return StatusFailed, true
	case "cancelled", "canceled":
		return StatusCanceled, true
	}
	return "", false
}

// MigrateLegacy converts a v1 job document into current records. Malformed
// entries and entries with unknown type or state are dropped.
func MigrateLegacy(data []byte) []Job {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	jobs := make([]Job, 0, len(raw))
	for _, entry := range raw {
		var old legacyJob
		if err := json.Unmarshal(entry, &old); err != nil {
			continue
		}
		if job, ok := old.toJob(); ok {
			jobs = append(jobs, job)
		}
	}
	return jobs
}

func (l legacyJob) toJob() (Job, bool) {
	id := strings.TrimSpace(l.ID)
	kind, ok := legacyKinds[strings.ToLower(strings.TrimSpace(l.Type))]
	if id == "" || !ok {
		return Job{}, false
	}
	status, ok := legacyStatus(l.State, kind)
	if !ok {
		return Job{}, false
	}

	job := Job{
		ID:           id,
		Kind:         kind,
		Status:       status,
		Title:        strings.TrimSpace(l.Name),
		Progress:     l.Progress,
		CreatedAt:    fromMillis(l.Created),
		UpdatedAt:    fromMillis(l.Updated),
		MediaKey:     strings.TrimSpace(l.ResultID),
		AttemptCount: l.Attempts,
		Source: Source{
			Path:     l.FilePath,
			Filename: l.FileName,
			Size:     l.FileSize,
		},
	}
	if status == StatusFailed {
		job.Error = strings.TrimSpace(l.Message)
	} else {
		job.Detail = strings.TrimSpace(l.Message)
	}
	if caseID := strings.TrimSpace(l.CaseID); caseID != "" {
		job.CaseID = &caseID
	}
	switch kind {
	case KindTranscription:
		job.Transcription = &Transcription{
			Model:            strings.ToLower(strings.TrimSpace(l.Model)),
			SpeakersExpected: l.Speakers,
		}
	case KindConversion:
		job.Conversion = &Conversion{TargetFormat: strings.ToLower(strings.TrimSpace(l.Format))}
	}
	return job, true
}

func fromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
