package media

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"mediadesk/internal/config"
	"mediadesk/internal/logging"
	"mediadesk/internal/media/ffprobe"
	"mediadesk/internal/queue"
	"mediadesk/internal/services"
	"mediadesk/internal/textutil"
)

type outputFormat struct {
	args        []string
	contentType string
}

var outputFormats = map[string]outputFormat{
	"mp3":  {args: []string{"-c:a", "libmp3lame", "-b:a", "192k"}, contentType: "audio/mpeg"},
	"wav":  {args: []string{"-c:a", "pcm_s16le"}, contentType: "audio/wav"},
	"m4a":  {args: []string{"-c:a", "aac", "-b:a", "192k"}, contentType: "audio/mp4"},
	"flac": {args: []string{"-c:a", "flac"}, contentType: "audio/flac"},
	"ogg":  {args: []string{"-c:a", "libvorbis", "-q:a", "5"}, contentType: "audio/ogg"},
}

// OutputDirFunc resolves the directory converted files are written to. It is
// called once per job so a reconnected workspace is picked up.
type OutputDirFunc func() (string, error)

// Converter handles conversion jobs with a local ffmpeg.
type Converter struct {
	ffmpeg    string
	ffprobe   string
	outputDir OutputDirFunc
	logger    *slog.Logger
}

// NewConverter builds a conversion worker writing into outputDir.
func NewConverter(cfg *config.Config, outputDir OutputDirFunc, logger *slog.Logger) *Converter {
	return &Converter{
		ffmpeg:    ffmpegBinary(cfg),
		ffprobe:   cfg.Media.FFprobeBinary,
		outputDir: outputDir,
		logger:    logging.NewComponentLogger(logger, "converter"),
	}
}

// Submit converts the payload file to the job's target format.
func (c *Converter) Submit(ctx context.Context, payload services.Payload, observer services.Observer) (services.Result, error) {
	job := payload.Job
	if job.Conversion == nil {
		return services.Result{}, services.NewFailure("This job has no conversion options.", false, 0, nil)
	}
	target := strings.ToLower(strings.TrimPrefix(job.Conversion.TargetFormat, "."))
	format, ok := outputFormats[target]
	if !ok {
		return services.Result{}, services.NewFailure(fmt.Sprintf("Converting to %q is not supported.", target), false, 0, nil)
	}
	dir, err := c.outputDir()
	if err != nil {
		return services.Result{}, services.NewFailure("The workspace is not available for saving the converted file. Reconnect it and retry.", true, 0,
			services.Wrap(services.ErrConfiguration, "convert", "output dir", "unavailable", err))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return services.Result{}, services.NewFailure("Could not create the exports folder in the workspace.", true, 0, err)
	}

	logger := logging.WithContext(ctx, c.logger)
	observer.UploadProgress(1)
	observer.Stage(queue.StatusTranscribing, "Converting to "+strings.ToUpper(target))

	duration := 0.0
	if probe, err := ffprobe.Inspect(ctx, c.ffprobe, payload.File.Path); err == nil {
		duration = probe.DurationSeconds()
	} else {
		logger.Debug("duration probe failed; progress unavailable", logging.Error(err))
	}

	stem := textutil.SanitizeFileName(strings.TrimSuffix(payload.File.Filename, filepath.Ext(payload.File.Filename)))
	if stem == "" {
		stem = job.ID
	}
	partial := filepath.Join(dir, fmt.Sprintf(".%s.partial.%s", job.ID, target))
	if err := c.run(ctx, payload.File.Path, partial, format, duration, observer); err != nil {
		_ = os.Remove(partial)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return services.Result{}, ctxErr
		}
		return services.Result{}, services.NewFailure("Conversion failed. The file may be damaged or in an unsupported format.", false, 0, err)
	}

	observer.Stage(queue.StatusBuilding, "Saving output")
	filename, final := uniqueOutput(dir, stem, job.ID, target)
	if err := os.Rename(partial, final); err != nil {
		_ = os.Remove(partial)
		return services.Result{}, services.NewFailure("Could not save the converted file to the workspace.", true, 0, err)
	}
	logger.Info("conversion saved",
		logging.String("output", final),
		logging.String("format", target),
	)
	return services.Result{
		MediaKey: filepath.ToSlash(filepath.Join(filepath.Base(dir), filename)),
		Detail:   "Saved " + filename,
		Output: &queue.Conversion{
			TargetFormat:      target,
			OutputPath:        final,
			OutputFilename:    filename,
			OutputContentType: format.contentType,
		},
	}, nil
}

func (c *Converter) run(ctx context.Context, src, dst string, format outputFormat, duration float64, observer services.Observer) error {
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",
		"-progress", "pipe:1",
		"-i", src,
		"-vn",
	}
	args = append(args, format.args...)
	args = append(args, dst)

	cmd := exec.CommandContext(ctx, c.ffmpeg, args...) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg convert: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return services.Wrap(services.ErrExternalTool, "convert", "ffmpeg", "start failed", err)
	}
	readProgress(stdout, duration, observer)
	if err := cmd.Wait(); err != nil {
		return services.Wrap(services.ErrExternalTool, "convert", "ffmpeg", strings.TrimSpace(stderr.String()), err)
	}
	return nil
}

// readProgress consumes ffmpeg -progress output. Progress is capped below 1
// so the saving step still reads as work in progress.
func readProgress(r io.Reader, duration float64, observer services.Observer) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok || key != "out_time_us" || duration <= 0 {
			continue
		}
		micros, err := strconv.ParseInt(value, 10, 64)
		if err != nil || micros < 0 {
			continue
		}
		fraction := float64(micros) / 1e6 / duration
		if fraction > 0.99 {
			fraction = 0.99
		}
		observer.Progress(fraction)
	}
	_, _ = io.Copy(io.Discard, r)
}

// uniqueOutput picks an output name that does not overwrite an earlier export.
func uniqueOutput(dir, stem, jobID, ext string) (string, string) {
	name := stem + "." + ext
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return name, path
	}
	suffix := jobID
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	name = fmt.Sprintf("%s-%s.%s", stem, suffix, ext)
	return name, filepath.Join(dir, name)
}
