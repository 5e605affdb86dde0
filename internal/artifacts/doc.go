// Package artifacts stores worker results as files under the workspace.
//
// Keys are slash-separated relative paths. Each blob is written atomically
// and carries a JSON sidecar with its metadata, so a crash never leaves a
// blob without its description or the other way round.
package artifacts
