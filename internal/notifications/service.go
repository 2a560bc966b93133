package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"datamill/internal/config"
)

const userAgent = "Datamill/0.1.0"

// Service defines the notification surface exposed to pipeline components.
type Service interface {
	NotifyRunQueued(ctx context.Context, filename string) error
	NotifyRunStarted(ctx context.Context, filename string) error
	NotifyRunCompleted(ctx context.Context, filename string, duration time.Duration) error
	NotifyRunFailed(ctx context.Context, filename, reason string) error
	NotifyModelReady(ctx context.Context, modelPath string) error
	NotifyError(ctx context.Context, err error, context string) error
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
		endpoint:   topic,
		client:     &http.Client{Timeout: timeout},
		runs:       cfg.Notifications.Runs,
		modelReady: cfg.Notifications.ModelReady,
		errors:     cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint   string
	client     *http.Client
	runs       bool
	modelReady bool
	errors     bool
}

func (n *ntfyService) NotifyRunQueued(ctx context.Context, filename string) error {
	if !n.runs {
		return nil
	}
	data := payload{
		title:   "Datamill - Dataset Queued",
		message: fmt.Sprintf("Dataset queued for processing: %s", baseName(filename)),
		tags:    []string{"datamill", "run", "queued"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRunStarted(ctx context.Context, filename string) error {
	if !n.runs {
		return nil
	}
	data := payload{
		title:   "Datamill - Run Started",
		message: fmt.Sprintf("Started pipeline run for %s", baseName(filename)),
		tags:    []string{"datamill", "run", "started"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRunCompleted(ctx context.Context, filename string, duration time.Duration) error {
	if !n.runs {
		return nil
	}
	duration = duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}
	data := payload{
		title:    "Datamill - Run Complete",
		message:  fmt.Sprintf("Pipeline finished for %s in %s", baseName(filename), duration),
		tags:     []string{"datamill", "run", "completed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRunFailed(ctx context.Context, filename, reason string) error {
	if !n.runs {
		return nil
	}
	reason = strings.TrimSpace(reason)
	message := fmt.Sprintf("Pipeline failed for %s", baseName(filename))
	if reason != "" {
		message = fmt.Sprintf("%s\nReason: %s", message, reason)
	}
	data := payload{
		title:    "Datamill - Run Failed",
		message:  message,
		tags:     []string{"datamill", "run", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyModelReady(ctx context.Context, modelPath string) error {
	if !n.modelReady {
		return nil
	}
	data := payload{
		title:    "Datamill - Model Ready",
		message:  fmt.Sprintf("New model available for inference: %s", strings.TrimSpace(modelPath)),
		tags:     []string{"datamill", "model", "ready"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	if !n.errors {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" in ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "Datamill - Error",
		message:  builder.String(),
		tags:     []string{"datamill", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Datamill - Test",
		message:  "Notification system test",
		tags:     []string{"datamill", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
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

func baseName(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return "unknown dataset"
	}
	return filepath.Base(path)
}

type noopService struct{}

func (noopService) NotifyRunQueued(context.Context, string) error                   { return nil }
func (noopService) NotifyRunStarted(context.Context, string) error                  { return nil }
func (noopService) NotifyRunCompleted(context.Context, string, time.Duration) error { return nil }
func (noopService) NotifyRunFailed(context.Context, string, string) error           { return nil }
func (noopService) NotifyModelReady(context.Context, string) error                  { return nil }
func (noopService) NotifyError(context.Context, error, string) error                { return nil }
func (noopService) TestNotification(context.Context) error                          { return nil }
