package runner_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"datamill/internal/runner"
)

func TestExpandArgs(t *testing.T) {
	args := runner.ExpandArgs(
		[]string{"converter", "--in", "{input}", "--out", "{output}", "-v"},
		"/data/raw.xlsx",
		"/work/dataset.csv",
	)
	want := []string{"converter", "--in", "/data/raw.xlsx", "--out", "/work/dataset.csv", "-v"}
	if len(args) != len(want) {
		t.Fatalf("expected %d args, got %d", len(want), len(args))
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("arg %d: expected %q, got %q", i, want[i], args[i])
		}
	}
}

func TestRunSuccess(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "out.txt")

	r := runner.New()
	result, err := r.Run(context.Background(), runner.Spec{
		Command:    []string{"sh", "-c", "printf data > \"$0\"", "{output}"},
		OutputPath: output,
		Timeout:    10 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.Success || result.ExitCode != 0 {
		t.Fatalf("expected success, got %#v", result)
	}
	if _, statErr := os.Stat(output); statErr != nil {
		t.Fatalf("expected output file: %v", statErr)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	r := runner.New()
	result, err := r.Run(context.Background(), runner.Spec{
		Command: []string{"sh", "-c", "echo refusing to convert >&2; exit 3"},
		Timeout: 10 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure result")
	}
	if result.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", result.ExitCode)
	}
	if !strings.Contains(result.LogTail, "refusing to convert") {
		t.Fatalf("expected stderr in log tail, got %q", result.LogTail)
	}
}

func TestRunTimeoutKillsProcess(t *testing.T) {
	r := runner.New()
	started := time.Now()
	result, err := r.Run(context.Background(), runner.Spec{
		Command: []string{"sh", "-c", "sleep 30"},
		Timeout: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if elapsed := time.Since(started); elapsed > 10*time.Second {
		t.Fatalf("timeout did not fire, took %s", elapsed)
	}
	if result.Success {
		t.Fatal("expected timeout to fail the invocation")
	}
	if !result.TimedOut {
		t.Fatalf("expected TimedOut, got %#v", result)
	}
}

func TestRunCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	r := runner.New()
	_, err := r.Run(ctx, runner.Spec{
		Command: []string{"sh", "-c", "sleep 30"},
	})
	if err == nil {
		t.Fatal("expected context cancellation error")
	}
}

func TestRunMissingBinary(t *testing.T) {
	r := runner.New()
	if _, err := r.Run(context.Background(), runner.Spec{
		Command: []string{"datamill-no-such-tool-xyz"},
	}); err == nil {
		t.Fatal("expected start error for missing binary")
	}
}

func TestRunEmptyCommand(t *testing.T) {
	r := runner.New()
	if _, err := r.Run(context.Background(), runner.Spec{}); err == nil {
		t.Fatal("expected error for empty command template")
	}
}

func TestLogTailBounded(t *testing.T) {
	r := runner.New(runner.WithLogTailBytes(64))
	result, err := r.Run(context.Background(), runner.Spec{
		Command: []string{"sh", "-c", "i=0; while [ $i -lt 200 ]; do echo line-$i; i=$((i+1)); done"},
		Timeout: 10 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.LogTail) > 64+32 {
		t.Fatalf("log tail not bounded: %d bytes", len(result.LogTail))
	}
	if !strings.Contains(result.LogTail, "line-199") {
		t.Fatalf("expected tail to keep last lines, got %q", result.LogTail)
	}
}
