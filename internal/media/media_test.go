package media_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"mediadesk/internal/config"
	"mediadesk/internal/logging"
	"mediadesk/internal/media"
	"mediadesk/internal/queue"
	"mediadesk/internal/services"
	"mediadesk/internal/testsupport"
)

const probeWithVideo = `#!/bin/sh
cat <<'JSON'
{"streams":[
  {"index":0,"codec_name":"h264","codec_type":"video"},
  {"index":1,"codec_name":"aac","codec_type":"audio","codec_tag_string":"mp4a","disposition":{"default":1}}],
 "format":{"format_name":"mov,mp4,m4a,3gp,3g2,mj2","duration":"2.0"}}
JSON
`

const probeSilent = `#!/bin/sh
echo '{"streams":[{"index":0,"codec_name":"png","codec_type":"video"}],"format":{"format_name":"png_pipe"}}'
`

// ffmpegWritesOutput reports progress and writes its last argument.
const ffmpegWritesOutput = `#!/bin/sh
for last; do :; done
echo "$@" > "$STUB_ARGS"
echo "out_time_us=500000"
echo "progress=continue"
echo "out_time_us=1000000"
echo "progress=end"
printf 'converted' > "$last"
`

const ffmpegFails = `#!/bin/sh
echo "Invalid data found when processing input" >&2
exit 1
`

type recordingObserver struct {
	mu       sync.Mutex
	stages   []queue.Status
	progress []float64
	uploaded float64
}

func (o *recordingObserver) UploadProgress(fraction float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.uploaded = fraction
}

func (o *recordingObserver) Stage(stage queue.Status, _ string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stages = append(o.stages, stage)
}

func (o *recordingObserver) Progress(fraction float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.progress = append(o.progress, fraction)
}

func stubTools(t *testing.T, cfg *config.Config, probe, ffmpeg string) string {
	t.Helper()
	argsFile := filepath.Join(testsupport.BaseDir(cfg), "ffmpeg-args")
	t.Setenv("STUB_ARGS", argsFile)
	testsupport.StubBinaries(t, filepath.Join(testsupport.BaseDir(cfg), "bin"), map[string]string{
		"ffprobe": probe,
		"ffmpeg":  ffmpeg,
	})
	return argsFile
}

func TestDetectorReportsPrimaryAudioAndVideo(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	stubTools(t, cfg, probeWithVideo, ffmpegWritesOutput)

	codec, err := media.NewDetector(cfg, logging.NewNop()).Detect(context.Background(), "/cases/interview.mp4")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if codec.CodecName != "aac" || codec.FormatCode != "mp4a" || !codec.HasVideo {
		t.Fatalf("unexpected codec: %+v", codec)
	}
}

func TestDetectorRejectsSourceWithoutAudio(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	stubTools(t, cfg, probeSilent, ffmpegWritesOutput)

	_, err := media.NewDetector(cfg, logging.NewNop()).Detect(context.Background(), "/cases/still.png")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestExtractorWritesMonoSpeechAudio(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	argsFile := stubTools(t, cfg, probeWithVideo, ffmpegWritesOutput)
	dst := filepath.Join(testsupport.BaseDir(cfg), "extract", "job.mp3")

	if err := media.NewExtractor(cfg, logging.NewNop()).Extract(context.Background(), "/cases/interview.mp4", dst); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if _, err := os.Stat(dst); err != nil {
		t.Fatalf("expected extracted file: %v", err)
	}
	args, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("read args: %v", err)
	}
	for _, want := range []string{"-vn", "-ac 1", "-ar 16000"} {
		if !strings.Contains(string(args), want) {
			t.Fatalf("expected ffmpeg args to contain %q, got %s", want, args)
		}
	}
}

func TestExtractorFailureRemovesPartialOutput(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	stubTools(t, cfg, probeWithVideo, "#!/bin/sh\nfor last; do :; done\necho partial > \"$last\"\nexit 1\n")
	dst := filepath.Join(testsupport.BaseDir(cfg), "extract", "job.mp3")

	err := media.NewExtractor(cfg, logging.NewNop()).Extract(context.Background(), "/cases/interview.mp4", dst)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	if _, statErr := os.Stat(dst); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("expected partial output removed, stat err %v", statErr)
	}
}

func TestConverterSavesIntoExports(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	argsFile := stubTools(t, cfg, probeWithVideo, ffmpegWritesOutput)
	exports := filepath.Join(cfg.Workspace.Root, "exports")
	converter := media.NewConverter(cfg, func() (string, error) { return exports, nil }, logging.NewNop())

	payload := services.Payload{Job: conversionJob("job-01"), File: services.UploadFile{Path: "/cases/interview.mp4", Filename: "interview.mp4"}}
	observer := &recordingObserver{}

	result, err := converter.Submit(context.Background(), payload, observer)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if result.Output == nil || result.Output.OutputFilename != "interview.flac" || result.Output.OutputContentType != "audio/flac" {
		t.Fatalf("unexpected output: %+v", result.Output)
	}
	if result.MediaKey != "exports/interview.flac" {
		t.Fatalf("unexpected media key %q", result.MediaKey)
	}
	data, err := os.ReadFile(filepath.Join(exports, "interview.flac"))
	if err != nil || string(data) != "converted" {
		t.Fatalf("expected converted file, got %q (err=%v)", data, err)
	}
	if len(observer.progress) != 2 || observer.progress[0] != 0.25 || observer.progress[1] != 0.5 {
		t.Fatalf("unexpected progress: %v", observer.progress)
	}
	if len(observer.stages) != 2 || observer.stages[0] != queue.StatusTranscribing || observer.stages[1] != queue.StatusBuilding {
		t.Fatalf("unexpected stages: %v", observer.stages)
	}
	args, _ := os.ReadFile(argsFile)
	if !strings.Contains(string(args), "-c:a flac") {
		t.Fatalf("expected flac codec args, got %s", args)
	}

	second, err := converter.Submit(context.Background(), services.Payload{Job: conversionJob("job-02"), File: payload.File}, &recordingObserver{})
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if second.Output.OutputFilename != "interview-job-02.flac" {
		t.Fatalf("expected second export to avoid overwrite, got %q", second.Output.OutputFilename)
	}
}

func TestConverterFailureIsNotRetryable(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	stubTools(t, cfg, probeWithVideo, ffmpegFails)
	exports := filepath.Join(cfg.Workspace.Root, "exports")
	converter := media.NewConverter(cfg, func() (string, error) { return exports, nil }, logging.NewNop())

	_, err := converter.Submit(context.Background(), services.Payload{
		Job:  conversionJob("job-01"),
		File: services.UploadFile{Path: "/cases/broken.mp4", Filename: "broken.mp4"},
	}, &recordingObserver{})
	failure := services.Classify(err)
	if failure == nil || failure.Retryable {
		t.Fatalf("expected non-retryable failure, got %+v", failure)
	}
	entries, _ := os.ReadDir(exports)
	if len(entries) != 0 {
		t.Fatalf("expected no leftover files in exports, got %d", len(entries))
	}
}

func TestConverterWithoutWorkspaceIsRetryable(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	converter := media.NewConverter(cfg, func() (string, error) { return "", errors.New("workspace not ready") }, logging.NewNop())

	_, err := converter.Submit(context.Background(), services.Payload{Job: conversionJob("job-01")}, &recordingObserver{})
	failure := services.Classify(err)
	if failure == nil || !failure.Retryable {
		t.Fatalf("expected retryable failure, got %+v", failure)
	}
}

func conversionJob(id string) queue.Job {
	job := testsupport.NewJob(id, 1)
	job.Kind = queue.KindConversion
	job.Transcription = nil
	job.Conversion = &queue.Conversion{TargetFormat: "flac"}
	return job
}
