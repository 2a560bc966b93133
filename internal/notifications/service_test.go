package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"datamill/internal/notifications"
	"datamill/internal/testsupport"
)

type captured struct {
	title    string
	message  string
	tags     string
	priority string
}

func newCapturingServer(t *testing.T, sink *[]captured) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		*sink = append(*sink, captured{
			title:    r.Header.Get("Title"),
			message:  string(body),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
		})
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(cfg)
	if err := svc.NotifyRunCompleted(context.Background(), "sales.csv", time.Minute); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsRunEvents(t *testing.T) {
	var got []captured
	server := newCapturingServer(t, &got)

	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = server.URL
	svc := notifications.NewService(cfg)

	ctx := context.Background()
	if err := svc.NotifyRunStarted(ctx, "/incoming/sales_jan.csv"); err != nil {
		t.Fatalf("NotifyRunStarted failed: %v", err)
	}
	if err := svc.NotifyRunCompleted(ctx, "/incoming/sales_jan.csv", 90*time.Second); err != nil {
		t.Fatalf("NotifyRunCompleted failed: %v", err)
	}
	if err := svc.NotifyRunFailed(ctx, "/incoming/bad.csv", "conversion failed after 3 attempts"); err != nil {
		t.Fatalf("NotifyRunFailed failed: %v", err)
	}
	if err := svc.NotifyModelReady(ctx, "/work/runs/u1/train/model.pkl"); err != nil {
		t.Fatalf("NotifyModelReady failed: %v", err)
	}

	if len(got) != 4 {
		t.Fatalf("expected 4 notifications, got %d", len(got))
	}
	if got[0].title != "Datamill - Run Started" || got[0].message != "Started pipeline run for sales_jan.csv" {
		t.Fatalf("unexpected start notification: %#v", got[0])
	}
	if got[1].message != "Pipeline finished for sales_jan.csv in 1m30s" || got[1].priority != "high" {
		t.Fatalf("unexpected completion notification: %#v", got[1])
	}
	if got[2].tags != "datamill,run,failed" {
		t.Fatalf("unexpected failure tags: %#v", got[2])
	}
	if got[3].title != "Datamill - Model Ready" {
		t.Fatalf("unexpected model notification: %#v", got[3])
	}
}

func TestNtfyServiceHonorsToggles(t *testing.T) {
	var got []captured
	server := newCapturingServer(t, &got)

	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Runs = false
	cfg.Notifications.ModelReady = false
	svc := notifications.NewService(cfg)

	ctx := context.Background()
	if err := svc.NotifyRunStarted(ctx, "a.csv"); err != nil {
		t.Fatalf("NotifyRunStarted failed: %v", err)
	}
	if err := svc.NotifyModelReady(ctx, "model.pkl"); err != nil {
		t.Fatalf("NotifyModelReady failed: %v", err)
	}
	if err := svc.NotifyError(ctx, context.DeadlineExceeded, "watcher"); err != nil {
		t.Fatalf("NotifyError failed: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("expected only the error notification, got %d", len(got))
	}
	if got[0].title != "Datamill - Error" {
		t.Fatalf("unexpected notification: %#v", got[0])
	}
}

func TestNtfyServiceReportsServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "topic not found", http.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = server.URL
	svc := notifications.NewService(cfg)

	if err := svc.TestNotification(context.Background()); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}
