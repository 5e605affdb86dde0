package ffprobe

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestCoverArtIsNotVideo(t *testing.T) {
	result := Result{Streams: []Stream{
		{CodecType: "audio", CodecName: "mp3"},
		{CodecType: "video", CodecName: "mjpeg", Disposition: Disposition{AttachedPic: 1}},
	}}
	if result.HasVideo() {
		t.Fatal("attached picture should not count as video")
	}
	result.Streams = append(result.Streams, Stream{CodecType: "video", CodecName: "h264"})
	if !result.HasVideo() {
		t.Fatal("expected real video stream to be detected")
	}
}

func TestPrimaryAudioPrefersDefault(t *testing.T) {
	result := Result{Streams: []Stream{
		{Index: 0, CodecType: "video"},
		{Index: 1, CodecType: "audio", CodecName: "aac"},
		{Index: 2, CodecType: "audio", CodecName: "opus", Disposition: Disposition{Default: 1}},
	}}
	stream, ok := result.PrimaryAudio()
	if !ok || stream.Index != 2 {
		t.Fatalf("expected default audio stream 2, got %+v (ok=%v)", stream, ok)
	}
	if result.AudioStreamCount() != 2 {
		t.Fatalf("expected 2 audio streams, got %d", result.AudioStreamCount())
	}

	if _, ok := (Result{}).PrimaryAudio(); ok {
		t.Fatal("expected no audio stream for empty result")
	}
}

func TestDurationSecondsHandlesInvalidNumbers(t *testing.T) {
	if got := (Result{Format: Format{Duration: "123.45"}}).DurationSeconds(); got != 123.45 {
		t.Fatalf("unexpected duration: %v", got)
	}
	if got := (Result{Format: Format{Duration: "bad"}}).DurationSeconds(); got != 0 {
		t.Fatalf("expected 0 for invalid duration, got %v", got)
	}
}

func TestInspectDecodesStubOutput(t *testing.T) {
	dir := t.TempDir()
	stub := filepath.Join(dir, "ffprobe")
	script := `#!/bin/sh
cat <<'JSON'
{"streams":[{"index":0,"codec_name":"pcm_s16le","codec_type":"audio","codec_tag_string":"[1][0][0][0]","channels":2}],
 "format":{"format_name":"wav","duration":"12.5"}}
JSON
`
	if err := os.WriteFile(stub, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	result, err := Inspect(context.Background(), stub, filepath.Join(dir, "clip.wav"))
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	stream, ok := result.PrimaryAudio()
	if !ok || stream.CodecName != "pcm_s16le" || stream.Channels != 2 {
		t.Fatalf("unexpected stream: %+v", stream)
	}
	if result.Format.FormatName != "wav" || result.DurationSeconds() != 12.5 {
		t.Fatalf("unexpected format: %+v", result.Format)
	}
}

func TestInspectReportsFailure(t *testing.T) {
	dir := t.TempDir()
	stub := filepath.Join(dir, "ffprobe")
	if err := os.WriteFile(stub, []byte("#!/bin/sh\necho 'Invalid data found' >&2\nexit 1\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	if _, err := Inspect(context.Background(), stub, filepath.Join(dir, "clip.bin")); err == nil {
		t.Fatal("expected error from failing ffprobe")
	}
	if _, err := Inspect(context.Background(), stub, " "); err == nil {
		t.Fatal("expected error for empty path")
	}
}
