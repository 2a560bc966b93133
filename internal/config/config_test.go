package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"datamill/internal/config"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if exists {
		t.Fatal("expected missing config to report exists=false")
	}
	if resolved != path {
		t.Fatalf("resolved path = %q, want %q", resolved, path)
	}
	if cfg.Pipeline.MaxAttempts != 3 {
		t.Fatalf("default max attempts = %d, want 3", cfg.Pipeline.MaxAttempts)
	}
	if !cfg.AcceptsExtension(".csv") || !cfg.AcceptsExtension(".XLSX") {
		t.Fatal("expected default extensions to accept .csv and .xlsx")
	}
	if cfg.AcceptsExtension(".parquet") {
		t.Fatal("expected .parquet to be rejected by defaults")
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
watch_dir = "` + filepath.Join(dir, "drop") + `"
work_dir = "` + filepath.Join(dir, "work") + `"
log_dir = "` + filepath.Join(dir, "logs") + `"

[pipeline]
max_attempts = 5
accepted_extensions = ["csv"]

[stages.train]
command = ["python3", "train.py", "{input}", "{output}"]
timeout = 1200
output = "model.bin"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to be detected")
	}
	if cfg.Pipeline.MaxAttempts != 5 {
		t.Fatalf("max attempts = %d, want 5", cfg.Pipeline.MaxAttempts)
	}
	if !cfg.AcceptsExtension(".csv") {
		t.Fatal("expected bare extension to be normalized with a leading dot")
	}
	if cfg.AcceptsExtension(".xlsx") {
		t.Fatal("override should replace the default extension list")
	}
	train, ok := cfg.StageFor("train")
	if !ok {
		t.Fatal("StageFor(train) not found")
	}
	if train.Timeout != 1200 || train.Output != "model.bin" {
		t.Fatalf("unexpected train stage: %+v", train)
	}
	// Untouched stages keep defaults.
	convert, _ := cfg.StageFor("convert")
	if convert.Timeout != 300 {
		t.Fatalf("convert timeout = %d, want default 300", convert.Timeout)
	}
}

func TestValidateRejectsEmptyStageCommand(t *testing.T) {
	cfg := config.Default()
	cfg.Stages.Clean.Command = nil
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "stages.clean.command") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsSharedWatchAndWorkDir(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.WatchDir = "/tmp/datamill-shared"
	cfg.Paths.WorkDir = "/tmp/datamill-shared"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for shared watch/work dir")
	}
}

func TestCreateSampleWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(data), "[stages.train]") {
		t.Fatal("sample config missing stage sections")
	}
}
