// Package transcriber submits transcription jobs to the external worker over
// HTTP.
//
// The worker accepts a multipart upload at /api/transcribe and answers with
// a JSON transcript record. Non-2xx responses are mapped through
// services.HTTPFailure so the runner can tell transient outages apart from
// rejections that retrying will not fix.
package transcriber
