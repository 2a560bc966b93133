package daemonrun_test

import (
	"context"
	"path/filepath"
	"testing"

	"datamill/internal/config"
	"datamill/internal/daemonrun"
	"datamill/internal/logging"
)

func TestBuildStages(t *testing.T) {
	cfg := config.Default()
	set := daemonrun.BuildStages(&cfg, logging.NewNop())

	if set.Convert == nil || set.Clean == nil || set.Train == nil || set.Publish == nil {
		t.Fatalf("expected all four stage handlers, got %+v", set)
	}

	health := set.Convert.HealthCheck(context.Background())
	if health.Name != "convert" {
		t.Fatalf("unexpected health name: %q", health.Name)
	}
}

func TestSocketPath(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = filepath.Join(t.TempDir(), "logs")

	expected := filepath.Join(cfg.Paths.LogDir, "datamill.sock")
	if got := daemonrun.SocketPath(&cfg, ""); got != expected {
		t.Fatalf("expected socket path %q, got %q", expected, got)
	}

	override := filepath.Join(t.TempDir(), "alt.sock")
	if got := daemonrun.SocketPath(&cfg, override); got != override {
		t.Fatalf("expected override %q, got %q", override, got)
	}

	if got := daemonrun.SocketPath(nil, ""); got != filepath.Join("", "datamill.sock") {
		t.Fatalf("expected fallback socket path, got %q", got)
	}
}
