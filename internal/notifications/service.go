package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tether/internal/config"
	"tether/internal/queue"
)

const (
	userAgent    = "tether/0.1.0"
	maxErrorBody = 2048
)

// Service defines the notification surface used by the daemon.
type Service interface {
	NotifyEvicted(ctx context.Context, ev queue.Eviction) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
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

func (n *ntfyService) NotifyEvicted(ctx context.Context, ev queue.Eviction) error {
	var builder strings.Builder
	fmt.Fprintf(&builder, "%s %s dropped", ev.Request.Method, ev.Request.Resource)
	switch ev.Reason {
	case queue.EvictionTerminal:
		builder.WriteString(" (rejected by upstream)")
	default:
		fmt.Fprintf(&builder, " after %d attempts", ev.Request.RetryCount)
	}
	if lastErr := strings.TrimSpace(ev.LastError); lastErr != "" {
		builder.WriteString("\nLast error: ")
		builder.WriteString(lastErr)
	}
	builder.WriteString("\nRequest: ")
	builder.WriteString(ev.Request.ID)

	data := payload{
		title:    "Tether - Request Dropped",
		message:  builder.String(),
		tags:     []string{"tether", "queue", string(ev.Reason)},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Tether - Test",
		message:  "Notification system test",
		tags:     []string{"tether", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

// send posts one message to the topic. ntfy reads title, tags and priority
// from headers and the body as the message text.
func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	for name, value := range data.headers() {
		req.Header.Set(name, value)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (p payload) headers() map[string]string {
	h := map[string]string{
		"User-Agent":   userAgent,
		"Content-Type": "text/plain; charset=utf-8",
	}
	if p.title != "" {
		h["Title"] = p.title
	}
	if len(p.tags) > 0 {
		h["Tags"] = strings.Join(p.tags, ",")
	}
	if p.priority != "" && p.priority != "default" {
		h["Priority"] = p.priority
	}
	return h
}

type noopService struct{}

func (noopService) NotifyEvicted(context.Context, queue.Eviction) error { return nil }
func (noopService) TestNotification(context.Context) error              { return nil }
