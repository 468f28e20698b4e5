package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"logsentinel/internal/config"
)

const userAgent = "logsentinel/1.0"

// Event enumerates push notification kinds.
type Event string

const (
	EventStageFailed    Event = "stage_failed"
	EventSourceFailed   Event = "source_failed"
	EventReduceFallback Event = "reduce_fallback"
	EventWorkersFailed  Event = "workers_failed"
	EventTest           Event = "test"
)

// Payload carries event fields.
type Payload map[string]any

// Service publishes push notifications.
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
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) Publish(ctx context.Context, event Event, data Payload) error {
	msg, ok := format(event, data)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func format(event Event, data Payload) (payload, bool) {
	source := text(data, "source")
	stage := text(data, "stage")
	switch event {
	case EventStageFailed:
		return payload{
			title:    "logsentinel - Stage Failed",
			message:  fmt.Sprintf("❌ %s / %s failed: %s", source, stage, fallback(text(data, "error"), "unknown error")),
			tags:     []string{"logsentinel", "stage", "failed"},
			priority: "high",
		}, true
	case EventSourceFailed:
		return payload{
			title:    "logsentinel - Source Error",
			message:  fmt.Sprintf("❌ Source %s aborted: %s", source, fallback(text(data, "error"), "unknown error")),
			tags:     []string{"logsentinel", "source", "error"},
			priority: "high",
		}, true
	case EventWorkersFailed:
		return payload{
			title:   "logsentinel - Partial Analysis",
			message: fmt.Sprintf("⚠️ %s / %s: workers failed: %s", source, stage, text(data, "workers")),
			tags:    []string{"logsentinel", "mapreduce", "partial"},
		}, true
	case EventReduceFallback:
		return payload{
			title:   "logsentinel - Reduce Fallback",
			message: fmt.Sprintf("⚠️ %s / %s: merge call failed, report holds raw worker outputs", source, stage),
			tags:    []string{"logsentinel", "mapreduce", "fallback"},
		}, true
	case EventTest:
		return payload{
			title:    "logsentinel - Test",
			message:  "🧪 Notification system test",
			tags:     []string{"logsentinel", "test"},
			priority: "low",
		}, true
	default:
		return payload{}, false
	}
}

func text(data Payload, key string) string {
	if data == nil {
		return ""
	}
	value, ok := data[key]
	if !ok || value == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

func fallback(value, def string) string {
	if value == "" {
		return def
	}
	return value
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
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
