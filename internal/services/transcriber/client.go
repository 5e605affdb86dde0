package transcriber

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"strconv"
	"strings"

	"mediadesk/internal/config"
	"mediadesk/internal/logging"
	"mediadesk/internal/queue"
	"mediadesk/internal/services"
)

const (
	transcribePath   = "/api/transcribe"
	healthPath       = "/health"
	maxResponseBytes = 256 << 20
	headerRequestID  = "X-Request-ID"
)

// HTTPDoer describes the HTTP client used by the worker client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a services.Worker backed by the transcription HTTP API.
type Client struct {
	baseURL string
	apiKey  string
	http    HTTPDoer
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(doer HTTPDoer) Option {
	return func(c *Client) {
		if doer != nil {
			c.http = doer
		}
	}
}

// New constructs a client for the configured worker endpoint. Timeouts come
// from the caller's context.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.Worker.BaseURL), "/"),
		apiKey:  strings.TrimSpace(cfg.Worker.APIKey),
		http:    http.DefaultClient,
		logger:  logging.NewComponentLogger(logger, "transcriber"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type transcriptResponse struct {
	MediaKey       string  `json:"media_key"`
	TranscriptText string  `json:"transcript_text"`
	PDFBase64      string  `json:"pdf_base64"`
	AudioDuration  float64 `json:"audio_duration"`
}

type errorResponse struct {
	Detail any `json:"detail"`
}

// Ping checks that the worker answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return fmt.Errorf("transcriber: build health request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("transcriber: health: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return services.HTTPFailure(resp.StatusCode, errorDetail(body))
	}
	return nil
}

// Submit uploads the payload file and waits for the transcript.
func (c *Client) Submit(ctx context.Context, payload services.Payload, observer services.Observer) (services.Result, error) {
	job := payload.Job
	if job.Transcription == nil {
		return services.Result{}, services.NewFailure("This job has no transcription options.", false, 0, services.ErrValidation)
	}
	file, err := os.Open(payload.File.Path)
	if err != nil {
		return services.Result{}, services.NewFailure("The file to upload could not be read.", false, 0,
			services.Wrap(services.ErrNotFound, "upload", "open", payload.File.Path, err))
	}
	defer file.Close()
	size := payload.File.Size
	if size <= 0 {
		if info, statErr := file.Stat(); statErr == nil {
			size = info.Size()
		}
	}

	logger := logging.WithContext(ctx, c.logger)
	pr, pw := io.Pipe()
	defer pr.Close()
	form := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeForm(form, job, payload.File, &progressReader{r: file, size: size, observer: observer}, observer))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+transcribePath, pr)
	if err != nil {
		return services.Result{}, fmt.Errorf("transcriber: build request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if id, ok := services.RequestIDFromContext(ctx); ok {
		req.Header.Set(headerRequestID, id)
	}

	logger.Debug("submitting transcription",
		logging.String("filename", payload.File.Filename),
		logging.Int64("size_bytes", size),
		logging.String("model", job.Transcription.Model),
		logging.Bool("extracted", payload.File.Extracted),
	)
	resp, err := c.http.Do(req)
	if err != nil {
		return services.Result{}, fmt.Errorf("transcriber: submit: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return services.Result{}, fmt.Errorf("transcriber: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := errorDetail(body)
		logger.Debug("worker rejected submission",
			logging.Int("status_code", resp.StatusCode),
			logging.String("detail", detail),
		)
		return services.Result{}, services.HTTPFailure(resp.StatusCode, detail)
	}

	var parsed transcriptResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return services.Result{}, services.NewFailure("The service returned an unreadable response.", true, resp.StatusCode,
			fmt.Errorf("transcriber: decode response: %w", err))
	}
	if strings.TrimSpace(parsed.MediaKey) == "" {
		return services.Result{}, services.NewFailure("The service returned a transcript without a media reference.", false, resp.StatusCode, nil)
	}

	observer.Stage(queue.StatusBuilding, "Saving transcript")
	return services.Result{
		MediaKey:  parsed.MediaKey,
		Detail:    "Transcript ready",
		Artifacts: c.artifacts(logger, job, payload.File, parsed, body),
	}, nil
}

func (c *Client) artifacts(logger *slog.Logger, job queue.Job, file services.UploadFile, parsed transcriptResponse, raw []byte) []services.Artifact {
	meta := map[string]string{
		"job_id":          job.ID,
		"title":           job.Title,
		"model":           job.Transcription.Model,
		"source_filename": job.Source.Filename,
		"uploaded_as":     file.Filename,
	}
	if job.CaseID != nil {
		meta["case_id"] = *job.CaseID
	}
	if parsed.AudioDuration > 0 {
		meta["duration_seconds"] = strconv.FormatFloat(parsed.AudioDuration, 'f', 1, 64)
	}
	prefix := "transcripts/" + parsed.MediaKey
	out := []services.Artifact{{Key: prefix + ".json", ContentType: "application/json", Data: raw, Meta: meta}}
	if text := strings.TrimSpace(parsed.TranscriptText); text != "" {
		out = append(out, services.Artifact{Key: prefix + ".txt", ContentType: "text/plain; charset=utf-8", Data: []byte(text + "\n"), Meta: meta})
	}
	if parsed.PDFBase64 != "" {
		pdf, err := base64.StdEncoding.DecodeString(parsed.PDFBase64)
		if err != nil {
			logging.WarnWithContext(logger, "transcript pdf could not be decoded", "artifact_decode_failed",
				logging.Error(err),
				logging.Hint("check the worker version"),
				logging.Impact("pdf transcript not saved"),
			)
		} else {
			out = append(out, services.Artifact{Key: prefix + ".pdf", ContentType: "application/pdf", Data: pdf, Meta: meta})
		}
	}
	return out
}

func writeForm(form *multipart.Writer, job queue.Job, file services.UploadFile, content io.Reader, observer services.Observer) error {
	opts := job.Transcription
	fields := [][2]string{
		{"transcription_model", opts.Model},
		{"source_filename", job.Source.Filename},
		{"multichannel", strconv.FormatBool(opts.Multichannel)},
	}
	if opts.SpeakersExpected > 0 && !opts.Multichannel {
		fields = append(fields, [2]string{"speakers_expected", strconv.Itoa(opts.SpeakersExpected)})
	}
	if len(opts.ChannelLabels) > 0 {
		labels := make(map[string]string, len(opts.ChannelLabels))
		for idx, label := range opts.ChannelLabels {
			labels[strconv.Itoa(idx)] = label
		}
		encoded, err := json.Marshal(labels)
		if err != nil {
			return fmt.Errorf("encode channel labels: %w", err)
		}
		fields = append(fields, [2]string{"channel_labels", string(encoded)})
	}
	if job.CaseID != nil && *job.CaseID != "" {
		fields = append(fields, [2]string{"case_id", *job.CaseID})
	}
	for _, field := range fields {
		if err := form.WriteField(field[0], field[1]); err != nil {
			return fmt.Errorf("write %s field: %w", field[0], err)
		}
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(file.Filename)))
	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)
	part, err := form.CreatePart(header)
	if err != nil {
		return fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return fmt.Errorf("copy upload: %w", err)
	}
	if err := form.Close(); err != nil {
		return fmt.Errorf("close multipart writer: %w", err)
	}
	observer.UploadProgress(1)
	observer.Stage(queue.StatusTranscribing, "Transcribing")
	return nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// errorDetail extracts the server's message from a {"detail": ...} body.
func errorDetail(body []byte) string {
	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err == nil {
		if detail, ok := parsed.Detail.(string); ok {
			return detail
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 200 || strings.HasPrefix(text, "<") {
		return ""
	}
	return text
}

// progressReader reports upload progress in whole-percent steps.
type progressReader struct {
	r        io.Reader
	size     int64
	read     int64
	reported int
	observer services.Observer
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	p.read += int64(n)
	if p.size > 0 && n > 0 {
		percent := int(p.read * 100 / p.size)
		if percent > p.reported && percent < 100 {
			p.reported = percent
			p.observer.UploadProgress(float64(percent) / 100)
		}
	}
	return n, err
}
