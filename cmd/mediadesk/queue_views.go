package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"mediadesk/internal/queue"
	"mediadesk/internal/workflow"
)

const shortIDLength = 8

func shortID(id string) string {
	if len(id) <= shortIDLength {
		return id
	}
	return id[:shortIDLength]
}

// resolveJob finds a job by full id or unique id prefix.
func resolveJob(runner *workflow.Runner, ref string) (queue.Job, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return queue.Job{}, fmt.Errorf("job id is required")
	}
	if job, ok := runner.Get(ref); ok {
		return job, nil
	}
	var matches []queue.Job
	for _, job := range runner.Snapshot() {
		if strings.HasPrefix(job.ID, ref) {
			matches = append(matches, job)
		}
	}
	switch len(matches) {
	case 0:
		return queue.Job{}, fmt.Errorf("%w: %s", workflow.ErrJobNotFound, ref)
	case 1:
		return matches[0], nil
	default:
		return queue.Job{}, fmt.Errorf("job id %q is ambiguous (%d matches)", ref, len(matches))
	}
}

func jobRows(jobs []queue.Job, colorize bool) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			shortID(job.ID),
			string(job.Kind),
			jobBadge(job.Status, colorize),
			job.Title,
			progressText(job),
			jobMessage(job),
			job.UpdatedAt.Local().Format(time.DateTime),
		})
	}
	return rows
}

var jobHeaders = []string{"ID", "Kind", "Status", "Title", "Progress", "Detail", "Updated"}

var jobAligns = []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft}

func progressText(job queue.Job) string {
	value := job.ProgressValue()
	if value < 0 {
		return ""
	}
	return fmt.Sprintf("%d%%", int(value*100))
}

func jobMessage(job queue.Job) string {
	if job.Error != "" {
		return job.Error
	}
	return job.Detail
}

func countsLine(c queue.Counts) string {
	return fmt.Sprintf("%d jobs: %d queued, %d in progress, %d succeeded, %d failed, %d canceled",
		c.Total, c.Queued, c.InProgress, c.Succeeded, c.Failed, c.Canceled)
}

// jobView is the JSON shape of a job in CLI output.
type jobView struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"`
	Title     string    `json:"title"`
	Detail    string    `json:"detail,omitempty"`
	Error     string    `json:"error,omitempty"`
	Retryable bool      `json:"retryable,omitempty"`
	Progress  *float64  `json:"progress,omitempty"`
	MediaKey  string    `json:"media_key,omitempty"`
	CaseID    *string   `json:"case_id,omitempty"`
	Source    string    `json:"source"`
	Output    string    `json:"output,omitempty"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toJobView(job queue.Job) jobView {
	view := jobView{
		ID:        job.ID,
		Kind:      string(job.Kind),
		Status:    string(job.Status),
		Title:     job.Title,
		Detail:    job.Detail,
		Error:     job.Error,
		Retryable: job.Retryable,
		Progress:  job.Progress,
		MediaKey:  job.MediaKey,
		CaseID:    job.CaseID,
		Source:    job.Source.Path,
		Attempts:  job.AttemptCount,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}
	if job.Conversion != nil {
		view.Output = job.Conversion.OutputPath
	}
	return view
}

func toJobViews(jobs []queue.Job) []jobView {
	views := make([]jobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, toJobView(job))
	}
	return views
}

func formatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}
