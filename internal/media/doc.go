// Package media runs the local ffmpeg/ffprobe tools on behalf of the job
// runner.
//
// Detector reads codec metadata so the runner can decide whether a source
// must be reduced to audio before upload. Extractor performs that reduction.
// Converter is a services.Worker that handles conversion jobs locally and
// writes the output into the workspace exports directory.
package media
