// Package staging removes scratch files left behind by interrupted work:
// extracted audio under the state directory and partial conversion outputs in
// the workspace exports directory.
package staging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mediadesk/internal/logging"
)

// SweepResult contains the outcome of a sweep.
type SweepResult struct {
	Removed []string
	Errors  []SweepError
}

// SweepError pairs a path with its removal error.
type SweepError struct {
	Path string
	Err  error
}

// Matcher selects the file names a sweep may remove.
type Matcher func(name string) bool

// AnyFile matches every regular file.
func AnyFile(string) bool { return true }

// PartialOutput matches hidden in-progress conversion outputs such as
// ".<job>.partial.mp3".
func PartialOutput(name string) bool {
	return strings.HasPrefix(name, ".") && strings.Contains(name, ".partial.")
}

// Sweep removes regular files directly in dir that match and were last
// modified more than maxAge ago. Files younger than maxAge may belong to
// another running process and are kept. A missing dir is not an error.
func Sweep(ctx context.Context, dir string, maxAge time.Duration, match Matcher, logger *slog.Logger) SweepResult {
	var result SweepResult

	dir = strings.TrimSpace(dir)
	if dir == "" {
		return result
	}
	if match == nil {
		match = AnyFile
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, SweepError{Path: dir, Err: err})
		}
		return result
	}

	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if ctx.Err() != nil {
			return result
		}
		if !entry.Type().IsRegular() || !match(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, SweepError{Path: path, Err: err})
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			result.Errors = append(result.Errors, SweepError{Path: path, Err: err})
			logging.WarnWithContext(logger, "failed to remove scratch file", "scratch_cleanup_failed",
				logging.String("path", path),
				logging.Error(err),
				logging.Hint("check permissions on "+dir),
				logging.Impact("disk space not reclaimed"),
			)
			continue
		}
		result.Removed = append(result.Removed, path)
		logger.Debug("removed scratch file",
			logging.String("path", path),
			logging.Duration("age", time.Since(info.ModTime())),
			logging.EventType("scratch_cleanup"),
		)
	}
	return result
}
