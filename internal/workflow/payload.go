package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mediadesk/internal/logging"
	"mediadesk/internal/queue"
	"mediadesk/internal/services"
)

var videoExtensions = map[string]struct{}{
	".mp4":  {},
	".mov":  {},
	".avi":  {},
	".mkv":  {},
	".webm": {},
	".m4v":  {},
}

// Audio codecs the transcription worker accepts as-is.
var uploadableCodecs = map[string]struct{}{
	"mp3":    {},
	"aac":    {},
	"vorbis": {},
	"opus":   {},
	"flac":   {},
}

func noCleanup() {}

// resolvePayload decides which file is uploaded for the job. Transcription of
// video containers or unsupported audio codecs extracts a compact audio track
// first; when extraction fails the original is used if it is small enough.
func (r *Runner) resolvePayload(ctx context.Context, job queue.Job) (services.UploadFile, func(), error) {
	original := services.UploadFile{
		Path:        job.Source.Path,
		Filename:    job.Source.Filename,
		ContentType: job.Source.ContentType,
		Size:        job.Source.Size,
	}
	info, err := os.Stat(job.Source.Path)
	if err != nil {
		cause := services.Wrap(services.ErrNotFound, "upload", "stat source", job.Source.Path, err)
		return original, noCleanup, services.NewFailure("The source file could not be read. Check that it still exists and retry.", false, 0, cause)
	}
	original.Size = info.Size()
	if job.Kind != queue.KindTranscription {
		return original, noCleanup, nil
	}

	codec := r.detectCodec(ctx, job)
	if !needsExtraction(job, codec) {
		return original, noCleanup, nil
	}

	logger := logging.WithContext(ctx, r.logger)
	r.setDetail(job.ID, "Extracting audio")
	dst := filepath.Join(r.ExtractionDir(), job.ID+".mp3")
	extractErr := r.extract(ctx, job.Source.Path, dst)
	if extractErr == nil {
		extracted, statErr := os.Stat(dst)
		if statErr == nil && extracted.Size() > 0 {
			stem := strings.TrimSuffix(job.Source.Filename, filepath.Ext(job.Source.Filename))
			logger.Info("audio extracted",
				logging.Int64("source_bytes", original.Size),
				logging.Int64("extracted_bytes", extracted.Size()),
				logging.EventType("audio_extracted"),
			)
			return services.UploadFile{
				Path:        dst,
				Filename:    stem + ".mp3",
				ContentType: "audio/mpeg",
				Size:        extracted.Size(),
				Extracted:   true,
			}, func() { _ = os.Remove(dst) }, nil
		}
		extractErr = services.Wrap(services.ErrExternalTool, "extract", "audio", "extractor produced no output", statErr)
	}
	_ = os.Remove(dst)
	if ctx.Err() != nil {
		return original, noCleanup, ctx.Err()
	}

	ceiling := r.cfg.FallbackCeilingBytes()
	if original.Size <= ceiling {
		logging.WarnWithContext(logger, "audio extraction failed; uploading original file", "extraction_fallback",
			logging.Error(extractErr),
			logging.Int64("source_bytes", original.Size),
			logging.Hint(services.Hint(extractErr)),
			logging.Impact("upload is larger and slower than necessary"),
		)
		r.setDetail(job.ID, "Uploading original file")
		return original, noCleanup, nil
	}

	reason := "failed"
	if errors.Is(extractErr, services.ErrTimeout) {
		reason = "timed out"
	}
	message := fmt.Sprintf("Audio extraction %s and the file is too large to upload directly. Use the Converter to make an audio file and submit that instead.", reason)
	return original, noCleanup, services.NewFailure(message, false, 0, extractErr)
}

// ExtractionDir holds extracted audio while its upload is in flight.
func (r *Runner) ExtractionDir() string {
	return filepath.Join(r.tempDir, "extract")
}

// extract runs the extractor under the configured hard timeout.
func (r *Runner) extract(ctx context.Context, src, dst string) error {
	if r.extractor == nil {
		return services.Wrap(services.ErrConfiguration, "extract", "audio", "no audio extractor configured", nil)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create extraction dir: %w", err)
	}
	extractCtx, cancel := context.WithTimeout(ctx, r.cfg.ExtractionTimeout())
	defer cancel()
	err := r.extractor.Extract(extractCtx, src, dst)
	if err != nil && ctx.Err() == nil && errors.Is(extractCtx.Err(), context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, "extract", "audio", fmt.Sprintf("exceeded %s", r.cfg.ExtractionTimeout()), err)
	}
	return err
}

// detectCodec records detected stream metadata on the job. Detection is best
// effort; failures leave the codec unknown.
func (r *Runner) detectCodec(ctx context.Context, job queue.Job) *queue.Codec {
	if r.detector == nil {
		return job.Codec
	}
	codec, err := r.detector.Detect(ctx, job.Source.Path)
	if err != nil {
		logging.WithContext(ctx, r.logger).Debug("codec detection failed", logging.Error(err))
		return job.Codec
	}
	_, _ = r.update(job.ID, func(j *queue.Job) error {
		c := codec
		j.Codec = &c
		j.UpdatedAt = r.now().UTC()
		return nil
	})
	return &codec
}

func (r *Runner) setDetail(id, detail string) {
	_, _ = r.update(id, func(job *queue.Job) error {
		if !job.Status.InFlight() {
			return errStaleSignal
		}
		job.Detail = detail
		job.UpdatedAt = r.now().UTC()
		return nil
	})
}

func needsExtraction(job queue.Job, codec *queue.Codec) bool {
	if _, ok := videoExtensions[strings.ToLower(filepath.Ext(job.Source.Filename))]; ok {
		return true
	}
	if strings.HasPrefix(strings.ToLower(job.Source.ContentType), "video/") {
		return true
	}
	if codec == nil {
		return false
	}
	if codec.HasVideo {
		return true
	}
	name := strings.ToLower(strings.TrimSpace(codec.CodecName))
	if name == "" || strings.HasPrefix(name, "pcm_") {
		return false
	}
	_, ok := uploadableCodecs[name]
	return !ok
}
