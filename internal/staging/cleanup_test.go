package staging_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mediadesk/internal/logging"
	"mediadesk/internal/staging"
)

func writeAged(t *testing.T, path string, age time.Duration) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	when := time.Now().Add(-age)
	if err := os.Chtimes(path, when, when); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

func TestSweepInvalidPaths(t *testing.T) {
	for _, dir := range []string{"", "   ", "/nonexistent/path/12345"} {
		result := staging.Sweep(context.Background(), dir, time.Hour, nil, logging.NewNop())
		if len(result.Removed) != 0 || len(result.Errors) != 0 {
			t.Errorf("expected empty result for path %q", dir)
		}
	}
}

func TestSweepRemovesOnlyOldFiles(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "job-1.mp3")
	recent := filepath.Join(dir, "job-2.mp3")
	writeAged(t, old, 2*time.Hour)
	writeAged(t, recent, time.Minute)
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	result := staging.Sweep(context.Background(), dir, time.Hour, staging.AnyFile, logging.NewNop())
	if len(result.Removed) != 1 || result.Removed[0] != old {
		t.Fatalf("unexpected removals: %v", result.Removed)
	}
	if _, err := os.Stat(recent); err != nil {
		t.Fatalf("recent file should remain: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "nested")); err != nil {
		t.Fatalf("directories should be left alone: %v", err)
	}
}

func TestSweepPartialOutputsOnly(t *testing.T) {
	dir := t.TempDir()
	partial := filepath.Join(dir, ".job-1.partial.flac")
	export := filepath.Join(dir, "interview.flac")
	writeAged(t, partial, 48*time.Hour)
	writeAged(t, export, 48*time.Hour)

	result := staging.Sweep(context.Background(), dir, time.Hour, staging.PartialOutput, logging.NewNop())
	if len(result.Removed) != 1 || result.Removed[0] != partial {
		t.Fatalf("unexpected removals: %v", result.Removed)
	}
	if _, err := os.Stat(export); err != nil {
		t.Fatalf("finished export must be kept: %v", err)
	}
}
