package media

import (
	"context"
	"errors"
	"log/slog"

	"mediadesk/internal/config"
	"mediadesk/internal/logging"
	"mediadesk/internal/media/ffprobe"
	"mediadesk/internal/queue"
	"mediadesk/internal/services"
)

// Detector inspects sources with ffprobe.
type Detector struct {
	binary string
	logger *slog.Logger
}

// NewDetector builds a detector using the configured ffprobe binary.
func NewDetector(cfg *config.Config, logger *slog.Logger) *Detector {
	return &Detector{
		binary: cfg.Media.FFprobeBinary,
		logger: logging.NewComponentLogger(logger, "ffprobe"),
	}
}

// Detect returns the primary audio codec and whether the source carries
// video. A file without audio is reported as an error.
func (d *Detector) Detect(ctx context.Context, path string) (queue.Codec, error) {
	result, err := ffprobe.Inspect(ctx, d.binary, path)
	if err != nil {
		return queue.Codec{}, services.Wrap(services.ErrExternalTool, "detect", "ffprobe", "inspection failed", err)
	}
	codec := queue.Codec{
		FormatName: result.Format.FormatName,
		HasVideo:   result.HasVideo(),
	}
	stream, ok := result.PrimaryAudio()
	if !ok {
		return codec, services.Wrap(services.ErrValidation, "detect", "ffprobe", "no audio stream", errors.New(path))
	}
	codec.CodecName = stream.CodecName
	codec.FormatCode = stream.CodecTag
	d.logger.Debug("codec detected",
		logging.String("codec", codec.CodecName),
		logging.String("format", codec.FormatName),
		logging.Bool("has_video", codec.HasVideo),
		logging.Int("audio_streams", result.AudioStreamCount()),
	)
	return codec, nil
}
