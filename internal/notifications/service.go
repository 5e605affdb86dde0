package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mediadesk/internal/config"
)

const userAgent = "mediadesk/0.1"

// Event names a notification type.
type Event string

const (
	EventJobCompleted   Event = "job_completed"
	EventJobFailed      Event = "job_failed"
	EventQueueStarted   Event = "queue_started"
	EventQueueCompleted Event = "queue_completed"
	EventTest           Event = "test"
)

// Payload carries event fields. Known keys: title, kind, error, count,
// succeeded, failed, canceled, duration.
type Payload map[string]any

// Service publishes notifications.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventJobCompleted:   cfg.Notifications.JobCompleted,
			EventJobFailed:      cfg.Notifications.JobFailed,
			EventQueueStarted:   cfg.Notifications.QueueCompleted,
			EventQueueCompleted: cfg.Notifications.QueueCompleted,
			EventTest:           true,
		},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if n == nil || !n.enabled[event] {
		return nil
	}
	msg, ok := format(event, payload)
	if !ok {
		return fmt.Errorf("unknown notification event %q", event)
	}
	return n.send(ctx, msg)
}

func format(event Event, payload Payload) (message, bool) {
	title := payload.text("title")
	switch event {
	case EventJobCompleted:
		return message{
			title: "mediadesk - Job Complete",
			body:  fmt.Sprintf("✅ %s finished: %s", kindLabel(payload.text("kind")), title),
			tags:  []string{"mediadesk", "job", "completed"},
		}, true
	case EventJobFailed:
		body := fmt.Sprintf("❌ %s failed: %s", kindLabel(payload.text("kind")), title)
		if reason := payload.text("error"); reason != "" {
			body += "\n" + reason
		}
		return message{
			title:    "mediadesk - Job Failed",
			body:     body,
			tags:     []string{"mediadesk", "job", "failed"},
			priority: "high",
		}, true
	case EventQueueStarted:
		return message{
			title: "mediadesk - Queue Started",
			body:  fmt.Sprintf("Processing %d jobs", payload.number("count")),
			tags:  []string{"mediadesk", "queue", "started"},
		}, true
	case EventQueueCompleted:
		succeeded, failed, canceled := payload.number("succeeded"), payload.number("failed"), payload.number("canceled")
		duration := payload.duration("duration")
		msg := message{tags: []string{"mediadesk", "queue", "completed"}}
		if failed == 0 && canceled == 0 {
			msg.title = "mediadesk - Queue Complete"
			msg.body = fmt.Sprintf("Queue complete: %d jobs in %s", succeeded, duration)
		} else {
			msg.title = "mediadesk - Queue Complete (with errors)"
			msg.body = fmt.Sprintf("Queue complete: %d succeeded, %d failed, %d canceled in %s", succeeded, failed, canceled, duration)
		}
		return msg, true
	case EventTest:
		return message{
			title:    "mediadesk - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"mediadesk", "test"},
			priority: "low",
		}, true
	}
	return message{}, false
}

func kindLabel(kind string) string {
	switch kind {
	case "conversion":
		return "Conversion"
	case "transcription":
		return "Transcription"
	}
	return "Job"
}

func (p Payload) text(key string) string {
	if p == nil {
		return ""
	}
	switch v := p[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func (p Payload) number(key string) int {
	if p == nil {
		return 0
	}
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func (p Payload) duration(key string) string {
	d, _ := p[key].(time.Duration)
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	return d.String()
}

func (n *ntfyService) send(ctx context.Context, data message) error {
	if n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
