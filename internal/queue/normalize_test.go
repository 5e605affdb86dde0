package queue_test

import (
	"testing"

	"mediadesk/internal/queue"
	"mediadesk/internal/testsupport"
)

func TestNormalizeDropsInvalidRecords(t *testing.T) {
	valid := testsupport.NewJob("ok", 1)
	noID := testsupport.NewJob("", 2)
	badKind := testsupport.NewJob("bad-kind", 3)
	badKind.Kind = "dub"
	badStatus := testsupport.NewJob("bad-status", 4)
	badStatus.Status = "running"
	dup := testsupport.NewJob("ok", 5)
	dup.Title = "second copy"

	out := queue.Normalize([]queue.Job{valid, noID, badKind, badStatus, dup})
	if len(out) != 1 {
		t.Fatalf("expected 1 job, got %d: %+v", len(out), out)
	}
	if out[0].Title != valid.Title {
		t.Fatalf("expected first occurrence to win, got %q", out[0].Title)
	}
}

func TestNormalizeFillsDefaults(t *testing.T) {
	job := testsupport.NewJob("conv", 1)
	job.Kind = queue.KindConversion
	job.Status = queue.StatusSucceeded
	job.Title = ""
	job.Source.Filename = ""
	job.Source.Path = "/media/field_notes-day1.m4a"
	job.AttemptCount = 0
	over := 7.5
	job.Progress = &over
	blank := "  "
	job.CaseID = &blank

	out := queue.Normalize([]queue.Job{job})
	if len(out) != 1 {
		t.Fatalf("expected 1 job, got %d", len(out))
	}
	got := out[0]
	if got.Source.Filename != "field_notes-day1.m4a" {
		t.Fatalf("unexpected filename %q", got.Source.Filename)
	}
	if got.Title != "Field Notes Day1" {
		t.Fatalf("unexpected title %q", got.Title)
	}
	if got.AttemptCount != 1 {
		t.Fatalf("expected attemptCount 1, got %d", got.AttemptCount)
	}
	if got.ProgressValue() != 1 {
		t.Fatalf("expected progress clamped to 1, got %v", got.ProgressValue())
	}
	if got.CaseID != nil {
		t.Fatalf("expected blank case id dropped, got %q", *got.CaseID)
	}
	if got.Transcription != nil || got.Conversion == nil || got.Conversion.TargetFormat != queue.DefaultTargetFormat {
		t.Fatalf("expected conversion variant only, got %+v / %+v", got.Transcription, got.Conversion)
	}
}

func TestNormalizeKeepsQueuedAndFailsInFlight(t *testing.T) {
	queued := testsupport.NewJob("waiting", 1)
	uploading := testsupport.NewJob("sending", 2)
	uploading.Status = queue.StatusUploading
	uploading.UnloadSensitive = true
	uploading.Detail = "Uploading"

	out := queue.Normalize([]queue.Job{queued, uploading})
	if len(out) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(out))
	}
	if out[0].Status != queue.StatusQueued || out[0].Error != "" {
		t.Fatalf("queued job must survive a reload, got %s %q", out[0].Status, out[0].Error)
	}
	got := out[1]
	if got.Status != queue.StatusFailed || got.Error != queue.StaleJobMessage || !got.Retryable || got.Detail != "" || got.UnloadSensitive {
		t.Fatalf("expected interrupted upload failed as retryable, got %+v", got)
	}

	shared := queue.NormalizeShared([]queue.Job{queued, uploading})
	if shared[0].Status != queue.StatusQueued || shared[1].Status != queue.StatusUploading || shared[1].UnloadSensitive {
		t.Fatalf("shared normalization must keep statuses, got %s %s", shared[0].Status, shared[1].Status)
	}
}

func TestMergeJobs(t *testing.T) {
	a := testsupport.NewJob("a", 1)
	b := testsupport.NewJob("b", 2)
	c := testsupport.NewJob("c", 3)
	stored := []queue.Job{a, b, c}

	localB := b
	localB.Status = queue.StatusCanceled
	d := testsupport.NewJob("d", 4)
	changes := queue.NewChanges()
	changes.Update("b")
	changes.Create("d")
	changes.Remove("c")

	// The local copy of a is stale; untouched records keep the stored value.
	staleA := a
	staleA.Title = "stale"
	out := queue.MergeJobs(stored, []queue.Job{staleA, localB, d}, changes)
	if len(out) != 3 {
		t.Fatalf("expected 3 jobs, got %+v", out)
	}
	if out[0].ID != "a" || out[0].Title != a.Title {
		t.Fatalf("untouched job must keep the stored record, got %+v", out[0])
	}
	if out[1].ID != "b" || out[1].Status != queue.StatusCanceled {
		t.Fatalf("updated job must take the local record, got %+v", out[1])
	}
	if out[2].ID != "d" {
		t.Fatalf("created job must be appended, got %+v", out[2])
	}

	gone := queue.NewChanges()
	gone.Update("missing")
	if out := queue.MergeJobs(stored, []queue.Job{testsupport.NewJob("missing", 9)}, gone); len(out) != 3 {
		t.Fatalf("update of a job removed elsewhere must not bring it back, got %d jobs", len(out))
	}
}

func TestChangesRemoveOverridesUpdate(t *testing.T) {
	changes := queue.NewChanges()
	changes.Create("x")
	changes.Update("y")
	later := queue.NewChanges()
	later.Remove("x", "y")
	changes.Add(later)
	changes.Update("y")
	if len(changes.Created) != 0 || len(changes.Updated) != 0 || len(changes.Removed) != 2 {
		t.Fatalf("unexpected change set %+v", changes)
	}
	if changes.Empty() || !queue.NewChanges().Empty() {
		t.Fatal("Empty mismatch")
	}
}

func TestNormalizeDoesNotMutateInput(t *testing.T) {
	job := testsupport.NewJob("j", 1)
	job.Status = queue.StatusUploading
	input := []queue.Job{job}
	queue.Normalize(input)
	if input[0].Status != queue.StatusUploading {
		t.Fatalf("input mutated: %s", input[0].Status)
	}
}

func TestBoundNeverEvictsInFlight(t *testing.T) {
	active := testsupport.NewJob("active", 0)
	active.Status = queue.StatusTranscribing
	jobs := []queue.Job{active, testsupport.NewJob("b", 1), testsupport.NewJob("c", 2)}

	out, evicted := queue.Bound(jobs, 2)
	if evicted != 1 || len(out) != 2 {
		t.Fatalf("expected one eviction, got %d (%d left)", evicted, len(out))
	}
	if out[0].ID != "active" || out[1].ID != "c" {
		t.Fatalf("unexpected survivors: %s, %s", out[0].ID, out[1].ID)
	}
}

func TestDecodeJobsSkipsMalformedEntries(t *testing.T) {
	jobs := queue.DecodeJobs([]byte(`[{"id":"a","kind":"transcription","status":"queued"}, 42, {"id":"b","progress":"high"}]`))
	if len(jobs) != 1 || jobs[0].ID != "a" {
		t.Fatalf("unexpected decode result: %+v", jobs)
	}
	if queue.DecodeJobs([]byte(`{"not":"a list"}`)) != nil {
		t.Fatal("expected nil for non-array document")
	}
}

func TestTitleFromFilename(t *testing.T) {
	tests := map[string]string{
		"board_meeting-2024.m4a": "Board Meeting 2024",
		"/tmp/NASA briefing.mp4": "NASA Briefing",
		"":                       "Untitled",
		".wav":                   "Untitled",
	}
	for input, want := range tests {
		if got := queue.TitleFromFilename(input); got != want {
			t.Errorf("TitleFromFilename(%q) = %q, want %q", input, got, want)
		}
	}
}
