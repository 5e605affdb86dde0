package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"mediadesk/internal/config"
	"mediadesk/internal/logging"
	"mediadesk/internal/services"
)

// Extractor reduces a source to mono speech-quality MP3 for upload.
type Extractor struct {
	binary string
	logger *slog.Logger
}

// NewExtractor builds an extractor using the configured ffmpeg binary.
func NewExtractor(cfg *config.Config, logger *slog.Logger) *Extractor {
	return &Extractor{
		binary: ffmpegBinary(cfg),
		logger: logging.NewComponentLogger(logger, "ffmpeg"),
	}
}

// Extract writes the audio of src to dst. ctx bounds the ffmpeg process; a
// partial dst is removed on failure.
func (e *Extractor) Extract(ctx context.Context, src, dst string) error {
	if strings.TrimSpace(src) == "" || strings.TrimSpace(dst) == "" {
		return errors.New("extract audio: source and destination are required")
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("extract audio: create output dir: %w", err)
	}
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", src,
		"-vn",
		"-sn",
		"-dn",
		"-ac", "1",
		"-ar", "16000",
		"-b:a", "96k",
		dst,
	}
	cmd := exec.CommandContext(ctx, e.binary, args...) //nolint:gosec
	output, err := cmd.CombinedOutput()
	if err != nil {
		_ = os.Remove(dst)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("ffmpeg extract: %w", ctxErr)
		}
		return services.Wrap(services.ErrExternalTool, "extract", "ffmpeg", strings.TrimSpace(string(output)), err)
	}
	e.logger.Debug("audio extracted", logging.String("source", src), logging.String("output", dst))
	return nil
}

func ffmpegBinary(cfg *config.Config) string {
	if binary := strings.TrimSpace(cfg.Media.FFmpegBinary); binary != "" {
		return binary
	}
	return "ffmpeg"
}
