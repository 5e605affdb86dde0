package queue

import (
	"time"
)

// Kind names the type of work a job performs.
type Kind string

const (
	KindTranscription Kind = "transcription"
	KindConversion    Kind = "conversion"
)

// Valid reports whether the kind is known.
func (k Kind) Valid() bool {
	return k == KindTranscription || k == KindConversion
}

// Status represents the lifecycle of a job.
type Status string

const (
	StatusQueued       Status = "queued"
	StatusUploading    Status = "uploading"
	StatusTranscribing Status = "transcribing"
	StatusBuilding     Status = "building"
	StatusSucceeded    Status = "succeeded"
	StatusFailed       Status = "failed"
	StatusCanceled     Status = "canceled"
)

// StaleJobMessage is stored on jobs that were in flight when the previous
// process exited.
const StaleJobMessage = "Stopped when the app was closed or reloaded. Use Retry to run it again."

// StoppedBeforeStartMessage is stored on queued jobs canceled by a stop request.
const StoppedBeforeStartMessage = "Stopped before it started."

// Default per-kind options used when a record is missing its variant.
const (
	DefaultModel        = "assemblyai"
	DefaultTargetFormat = "mp3"
)

// Source references the local input file.
type Source struct {
	Path        string `json:"path"`
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType,omitempty"`
}

// Transcription holds options for transcription jobs.
type Transcription struct {
	Model            string         `json:"model"`
	SpeakersExpected int            `json:"speakersExpected,omitempty"`
	Multichannel     bool           `json:"multichannel,omitempty"`
	ChannelLabels    map[int]string `json:"channelLabels,omitempty"`
}

// Conversion holds options and the cached output of conversion jobs.
type Conversion struct {
	TargetFormat      string `json:"targetFormat"`
	OutputPath        string `json:"outputPath,omitempty"`
	OutputFilename    string `json:"outputFilename,omitempty"`
	OutputContentType string `json:"outputContentType,omitempty"`
}

// Codec captures detected stream metadata for the source file.
type Codec struct {
	CodecName  string `json:"codecName"`
	FormatCode string `json:"formatCode,omitempty"`
	FormatName string `json:"formatName,omitempty"`
	HasVideo   bool   `json:"hasVideo,omitempty"`
}

// Job is a tracked unit of requested work. Exactly one of Transcription or
// Conversion is set, matching Kind.
type Job struct {
	ID              string         `json:"id"`
	Kind            Kind           `json:"kind"`
	Status          Status         `json:"status"`
	Title           string         `json:"title"`
	Detail          string         `json:"detail,omitempty"`
	Error           string         `json:"error,omitempty"`
	Retryable       bool           `json:"retryable,omitempty"`
	Progress        *float64       `json:"progress,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
	MediaKey        string         `json:"mediaKey,omitempty"`
	CaseID          *string        `json:"caseId"`
	Source          Source         `json:"source"`
	Transcription   *Transcription `json:"transcription,omitempty"`
	Conversion      *Conversion    `json:"conversion,omitempty"`
	UnloadSensitive bool           `json:"unloadSensitive,omitempty"`
	Codec           *Codec         `json:"codec,omitempty"`
	AttemptCount    int            `json:"attemptCount"`
}

// Clone returns a deep copy safe to hand to readers.
func (j Job) Clone() Job {
	out := j
	if j.Progress != nil {
		p := *j.Progress
		out.Progress = &p
	}
	if j.CaseID != nil {
		c := *j.CaseID
		out.CaseID = &c
	}
	if j.Transcription != nil {
		t := *j.Transcription
		if j.Transcription.ChannelLabels != nil {
			t.ChannelLabels = make(map[int]string, len(j.Transcription.ChannelLabels))
			for k, v := range j.Transcription.ChannelLabels {
				t.ChannelLabels[k] = v
			}
		}
		out.Transcription = &t
	}
	if j.Conversion != nil {
		c := *j.Conversion
		out.Conversion = &c
	}
	if j.Codec != nil {
		c := *j.Codec
		out.Codec = &c
	}
	return out
}

// CloneJobs deep-copies a job list.
func CloneJobs(jobs []Job) []Job {
	if jobs == nil {
		return nil
	}
	out := make([]Job, len(jobs))
	for i := range jobs {
		out[i] = jobs[i].Clone()
	}
	return out
}

// SetProgress stores a fraction clamped to 0..1.
func (j *Job) SetProgress(fraction float64) {
	p := clampFraction(fraction)
	j.Progress = &p
}

// ProgressValue returns the stored fraction, or -1 when unknown.
func (j Job) ProgressValue() float64 {
	if j.Progress == nil {
		return -1
	}
	return *j.Progress
}

// CaseLabel returns the case id or an empty string.
func (j Job) CaseLabel() string {
	if j.CaseID == nil {
		return ""
	}
	return *j.CaseID
}

func clampFraction(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Counts aggregates a job list for the status summary.
type Counts struct {
	Total      int
	Queued     int
	InProgress int
	Succeeded  int
	Failed     int
	Canceled   int
}

// Tally counts jobs by lifecycle bucket.
func Tally(jobs []Job) Counts {
	var c Counts
	for _, job := range jobs {
		c.Total++
		switch {
		case job.Status == StatusQueued:
			c.Queued++
		case job.Status.InFlight():
			c.InProgress++
		case job.Status == StatusSucceeded:
			c.Succeeded++
		case job.Status == StatusFailed:
			c.Failed++
		case job.Status == StatusCanceled:
			c.Canceled++
		}
	}
	return c
}
