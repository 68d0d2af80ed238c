package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"hopper/internal/config"
)

const userAgent = "Hopper-Go/0.1.0"

// Event identifies a notification-worthy pipeline occurrence.
type Event string

const (
	EventTickSummary     Event = "tick_summary"
	EventUnsafeBlocked   Event = "unsafe_blocked"
	EventRecordCompleted Event = "record_completed"
	EventPatternSnapshot Event = "pattern_snapshot"
	EventError           Event = "error"
	EventTest            Event = "test"
)

// Payload carries event-specific values.
type Payload map[string]any

// Service publishes events to the operator.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	return NewNtfy(topic, cfg.Notifications)
}

// NewNtfy targets an explicit ntfy endpoint. Sync targets of type ntfy use it
// with their own URL.
func NewNtfy(endpoint string, opts config.Notifications) Service {
	timeout := time.Duration(opts.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		opts:     opts,
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
	opts     config.Notifications
}

func (n *ntfyService) Publish(ctx context.Context, event Event, data Payload) error {
	if n == nil {
		return nil
	}
	msg, ok := n.render(event, data)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) render(event Event, data Payload) (payload, bool) {
	switch event {
	case EventTickSummary:
		failed := intValue(data, "failed")
		if failed == 0 || !n.opts.TickFailures {
			return payload{}, false
		}
		return payload{
			title: "Hopper - Scan Finished With Failures",
			message: fmt.Sprintf("Scan %s: %d seen, %d processed, %d failed",
				stringValue(data, "tick"), intValue(data, "seen"), intValue(data, "processed"), failed),
			tags:     []string{"hopper", "scan", "failed"},
			priority: "high",
		}, true
	case EventUnsafeBlocked:
		if !n.opts.UnsafeBlocked {
			return payload{}, false
		}
		return payload{
			title:   "Hopper - Action Blocked",
			message: fmt.Sprintf("🛡️ Blocked %s for %s: %s", stringValue(data, "action"), stringValue(data, "file"), stringValue(data, "reason")),
			tags:    []string{"hopper", "safety", "blocked"},
		}, true
	case EventRecordCompleted:
		message := fmt.Sprintf("📦 %s filed as %s", stringValue(data, "file"), stringValue(data, "category"))
		if outcome := stringValue(data, "outcome"); outcome != "" {
			message = fmt.Sprintf("%s (%s)", message, outcome)
		}
		return payload{
			title:   "Hopper - Record Completed",
			message: message,
			tags:    []string{"hopper", "sync", stringValue(data, "category")},
		}, true
	case EventError:
		var builder strings.Builder
		builder.WriteString("❌ Error")
		if label := stringValue(data, "context"); label != "" {
			builder.WriteString(" with ")
			builder.WriteString(label)
		}
		builder.WriteString(": ")
		if msg := stringValue(data, "error"); msg != "" {
			builder.WriteString(msg)
		} else {
			builder.WriteString("unknown")
		}
		return payload{
			title:    "Hopper - Error",
			message:  builder.String(),
			tags:     []string{"hopper", "error", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return payload{
			title:    "Hopper - Test",
			message:  "🧪 Notification system test",
			tags:     []string{"hopper", "test"},
			priority: "low",
		}, true
	case EventPatternSnapshot:
		return payload{}, false
	default:
		return payload{}, false
	}
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

func stringValue(data Payload, key string) string {
	switch v := data[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case error:
		return strings.TrimSpace(v.Error())
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func intValue(data Payload, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	default:
		return 0
	}
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
