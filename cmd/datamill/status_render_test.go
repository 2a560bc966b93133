package main

import (
	"fmt"
	"io"
	"strings"
	"testing"

	"datamill/internal/daemonctl"
	"datamill/internal/ipc"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Datamill", statusError, "Not running", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Datamill:", "[ERROR] Not running")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Datamill", statusOK, "Running", true)
	if !strings.HasPrefix(got, ansiGreen) {
		t.Fatalf("expected green prefix, got %q", got)
	}
	if !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected reset suffix, got %q", got)
	}
}

func TestDependencyLines(t *testing.T) {
	deps := []ipc.DependencyStatus{
		{Name: "convert", Available: false, Severity: "error"},
		{Name: "clean", Available: true, Command: "datamill-clean"},
		{Name: "train", Available: false, Optional: true, Detail: "not configured", Severity: "warn"},
	}
	summary := daemonctl.BuildDependencySummary(deps)
	lines := dependencyLines(deps, summary, false)
	if len(lines) != 5 {
		t.Fatalf("expected 5 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "[ERROR]") || !strings.Contains(lines[0], "Summary") {
		t.Fatalf("expected summary line first, got %q", lines[0])
	}
	if !strings.Contains(lines[1], "[ERROR]") {
		t.Fatalf("expected error detail in second line, got %q", lines[1])
	}
	if !strings.Contains(lines[2], "[OK] Ready (command: datamill-clean)") {
		t.Fatalf("expected ready detail in third line, got %q", lines[2])
	}
	if !strings.Contains(lines[3], "[WARN] not configured") {
		t.Fatalf("expected warn detail in fourth line, got %q", lines[3])
	}
	if !strings.Contains(lines[4], "Missing dependencies:") {
		t.Fatalf("expected missing dependencies summary, got %q", lines[4])
	}
}

func TestStageHealthLines(t *testing.T) {
	health := []ipc.StageHealth{
		{Name: "convert", Ready: true},
		{Name: "train", Ready: false, Detail: "trainer binary missing"},
	}
	lines := stageHealthLines(health, false)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "[OK] Ready") {
		t.Fatalf("expected ready line, got %q", lines[0])
	}
	if !strings.Contains(lines[1], "[WARN] trainer binary missing") {
		t.Fatalf("expected warn line, got %q", lines[1])
	}
}

func TestStatusKindFromSeverity(t *testing.T) {
	if statusKindFromSeverity("ok") != statusOK {
		t.Fatal("expected ok severity to map to statusOK")
	}
	if statusKindFromSeverity("warn") != statusWarn {
		t.Fatal("expected warn severity to map to statusWarn")
	}
	if statusKindFromSeverity("error") != statusError {
		t.Fatal("expected error severity to map to statusError")
	}
	if statusKindFromSeverity("") != statusInfo {
		t.Fatal("expected empty severity to map to statusInfo")
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(io.Discard) {
		t.Fatalf("expected non-file writer to disable color")
	}
}
