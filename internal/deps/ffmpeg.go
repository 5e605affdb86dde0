package deps

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
)

// ConversionEncoders are the ffmpeg audio encoders used by local conversion,
// keyed by target format.
var ConversionEncoders = map[string]string{
	"mp3":  "libmp3lame",
	"wav":  "pcm_s16le",
	"m4a":  "aac",
	"flac": "flac",
	"ogg":  "libvorbis",
}

// CheckFFmpegEncoders reports whether ffmpeg was built with every encoder
// conversion needs. Missing encoders are listed by target format.
func CheckFFmpegEncoders(ctx context.Context, ffmpegBinary string) Status {
	result := Status{
		Name:        "FFmpeg encoders",
		Command:     strings.TrimSpace(ffmpegBinary),
		Description: "Encoders for conversion targets",
		Optional:    true,
	}
	if result.Command == "" {
		result.Command = "ffmpeg"
	}
	output, err := exec.CommandContext(ctx, result.Command, "-hide_banner", "-encoders").Output() //nolint:gosec
	if err != nil {
		result.Detail = fmt.Sprintf("list encoders: %v", err)
		return result
	}
	available := parseEncoders(output)
	var missing []string
	for format, encoder := range ConversionEncoders {
		if _, ok := available[encoder]; !ok {
			missing = append(missing, fmt.Sprintf("%s (%s)", format, encoder))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		result.Detail = "missing encoders: " + strings.Join(missing, ", ")
		return result
	}
	result.Available = true
	return result
}

// parseEncoders reads `ffmpeg -encoders` output. Encoder lines start with a
// six-character capability column followed by the encoder name.
func parseEncoders(output []byte) map[string]struct{} {
	encoders := make(map[string]struct{})
	scanner := bufio.NewScanner(bytes.NewReader(output))
	started := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !started {
			started = strings.HasPrefix(line, "------")
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields[0]) != 6 {
			continue
		}
		encoders[fields[1]] = struct{}{}
	}
	return encoders
}
