// Package ffprobe wraps the ffprobe CLI and decodes its JSON stream report.
//
// Callers use Inspect to read container and stream metadata, then the Result
// helpers to pick the primary audio stream and tell real video apart from
// embedded cover art.
package ffprobe
