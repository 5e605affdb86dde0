package queue

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidTransition is returned when a status change is not in the graph.
var ErrInvalidTransition = errors.New("invalid status transition")

var allStatuses = []Status{
	StatusQueued,
	StatusUploading,
	StatusTranscribing,
	StatusBuilding,
	StatusSucceeded,
	StatusFailed,
	StatusCanceled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var inFlightStatuses = map[Status]struct{}{
	StatusUploading:    {},
	StatusTranscribing: {},
	StatusBuilding:     {},
}

var terminalStatuses = map[Status]struct{}{
	StatusSucceeded: {},
	StatusFailed:    {},
	StatusCanceled:  {},
}

// Self-transitions on in-flight states carry detail and progress updates.
// Moving back to uploading from a later stage is the automatic retry.
var transitions = map[Status][]Status{
	StatusQueued:       {StatusUploading, StatusFailed, StatusCanceled},
	StatusUploading:    {StatusUploading, StatusTranscribing, StatusBuilding, StatusSucceeded, StatusFailed, StatusCanceled},
	StatusTranscribing: {StatusUploading, StatusTranscribing, StatusBuilding, StatusSucceeded, StatusFailed, StatusCanceled},
	StatusBuilding:     {StatusUploading, StatusBuilding, StatusSucceeded, StatusFailed, StatusCanceled},
}

// AllStatuses returns every known status in lifecycle order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// Valid reports whether the status is known.
func (s Status) Valid() bool {
	_, ok := statusSet[s]
	return ok
}

// InFlight reports whether the status belongs to an active attempt.
func (s Status) InFlight() bool {
	_, ok := inFlightStatuses[s]
	return ok
}

// Terminal reports whether no further automatic transitions apply.
func (s Status) Terminal() bool {
	_, ok := terminalStatuses[s]
	return ok
}

// ParseStatus converts user input into a Status.
func ParseStatus(value string) (Status, bool) {
	status := Status(strings.ToLower(strings.TrimSpace(value)))
	if status == "cancelled" {
		status = StatusCanceled
	}
	return status, status.Valid()
}

// CanTransition reports whether from → to is an edge of the status graph.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the job to status, stamping UpdatedAt.
func (j *Job) Transition(to Status, now time.Time) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
	}
	j.Status = to
	j.UnloadSensitive = to.InFlight()
	j.UpdatedAt = now.UTC()
	return nil
}

// Fail moves the job to failed and records the message.
func (j *Job) Fail(message string, retryable bool, now time.Time) error {
	if err := j.Transition(StatusFailed, now); err != nil {
		return err
	}
	j.Error = strings.TrimSpace(message)
	j.Retryable = retryable
	j.Detail = ""
	return nil
}

// ResetForRetry returns a failed or canceled job to queued, clearing its
// error and progress and counting a new attempt. The id is kept.
func (j *Job) ResetForRetry(now time.Time) error {
	if j.Status != StatusFailed && j.Status != StatusCanceled {
		return fmt.Errorf("%w: retry from %s", ErrInvalidTransition, j.Status)
	}
	j.Status = StatusQueued
	j.Error = ""
	j.Retryable = false
	j.Detail = ""
	j.Progress = nil
	j.UnloadSensitive = false
	j.AttemptCount++
	j.UpdatedAt = now.UTC()
	return nil
}

// ResetForAutoRetry moves an in-flight job back to uploading for the silent
// retry, counting the new attempt without surfacing an error.
func (j *Job) ResetForAutoRetry(now time.Time) error {
	if !j.Status.InFlight() {
		return fmt.Errorf("%w: auto retry from %s", ErrInvalidTransition, j.Status)
	}
	if err := j.Transition(StatusUploading, now); err != nil {
		return err
	}
	j.Error = ""
	j.Retryable = false
	j.Detail = "Retrying"
	j.Progress = nil
	j.AttemptCount++
	return nil
}
