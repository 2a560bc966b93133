package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"datamill/internal/testsupport"
)

func TestRunsListEmpty(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"runs", "list"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("runs list: %v", err)
	}
	requireContains(t, out, "No runs recorded")
}

func TestTriggerAndRunsList(t *testing.T) {
	env := setupCLITestEnv(t)

	dataset := filepath.Join(env.cfg.Paths.WatchDir, "sales.csv")
	testsupport.WriteFile(t, dataset, 512)

	out, _, err := runCLI(t, []string{"trigger", dataset}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	requireContains(t, out, "Queued run #")

	// second trigger dedups on fingerprint
	out, _, err = runCLI(t, []string{"trigger", dataset}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("trigger duplicate: %v", err)
	}
	requireContains(t, out, "already covers")

	out, _, err = runCLI(t, []string{"runs", "list"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("runs list: %v", err)
	}
	requireContains(t, out, "sales.csv")
	requireContains(t, out, "Pending")
}

func TestTriggerRejectsMissingFile(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"trigger", filepath.Join(env.cfg.Paths.WatchDir, "absent.csv")}, env.socketPath, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Fatalf("expected missing file error, got %v", err)
	}
}

func TestTriggerRejectsUnsupportedExtension(t *testing.T) {
	env := setupCLITestEnv(t)

	dataset := filepath.Join(env.cfg.Paths.WatchDir, "notes.txt")
	testsupport.WriteFile(t, dataset, 64)

	_, _, err := runCLI(t, []string{"trigger", dataset}, env.socketPath, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "unsupported file extension") {
		t.Fatalf("expected extension error, got %v", err)
	}
}

func TestRunsShow(t *testing.T) {
	env := setupCLITestEnv(t)

	dataset := filepath.Join(env.cfg.Paths.WatchDir, "metrics.csv")
	testsupport.WriteFile(t, dataset, 256)
	run := testsupport.NewRun(t, env.store, dataset, "fp-metrics")

	out, _, err := runCLI(t, []string{"runs", "show", "1"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("runs show: %v", err)
	}
	requireContains(t, out, run.SourcePath)
	// go-pretty uppercases table headers.
	requireContains(t, out, "STAGE")
	requireContains(t, out, "convert")
}

func TestRunsShowNotFound(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"runs", "show", "4242"}, env.socketPath, env.configPath)
	if err == nil {
		t.Fatal("expected error for unknown run")
	}
}

func TestRunsRetryAndClear(t *testing.T) {
	env := setupCLITestEnv(t)

	dataset := filepath.Join(env.cfg.Paths.WatchDir, "broken.csv")
	testsupport.WriteFile(t, dataset, 128)
	run := testsupport.NewRun(t, env.store, dataset, "fp-broken")
	run.SetFailed("exit status 2")
	if err := env.store.Update(context.Background(), run); err != nil {
		t.Fatalf("update run: %v", err)
	}

	out, _, err := runCLI(t, []string{"runs", "retry"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("runs retry: %v", err)
	}
	requireContains(t, out, "Requeued 1 failed runs")

	out, _, err = runCLI(t, []string{"runs", "clear", "--failed"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("runs clear --failed: %v", err)
	}
	requireContains(t, out, "Cleared 1 failed runs")

	out, _, err = runCLI(t, []string{"runs", "clear"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("runs clear: %v", err)
	}
	requireContains(t, out, "Cleared 1 runs")
}

func TestRunsClearRejectsConflictingFlags(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"runs", "clear", "--completed", "--failed"}, env.socketPath, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "only one of") {
		t.Fatalf("expected flag conflict error, got %v", err)
	}
}

func TestRunsHealth(t *testing.T) {
	env := setupCLITestEnv(t)

	dataset := filepath.Join(env.cfg.Paths.WatchDir, "hourly.csv")
	testsupport.WriteFile(t, dataset, 64)
	testsupport.NewRun(t, env.store, dataset, "fp-hourly")

	out, _, err := runCLI(t, []string{"runs", "health"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("runs health: %v", err)
	}
	requireContains(t, out, "Total: 1")
	requireContains(t, out, "Pending: 1")
}

func TestDatabaseHealthCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"health"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	requireContains(t, out, "Database exists: yes")
	requireContains(t, out, "Missing tables: none")
}

func TestTestNotifyWithoutTopic(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"test-notify"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("test-notify: %v", err)
	}
	requireContains(t, out, "ntfy topic not configured")
}

func TestParsePositiveIDs(t *testing.T) {
	ids, err := parsePositiveIDs([]string{"1", "42"})
	if err != nil {
		t.Fatalf("parse ids: %v", err)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 42 {
		t.Fatalf("unexpected ids %v", ids)
	}
	if _, err := parsePositiveIDs([]string{"zero"}); err == nil {
		t.Fatal("expected error for non-numeric id")
	}
	if _, err := parsePositiveIDs([]string{"-3"}); err == nil {
		t.Fatal("expected error for negative id")
	}
}
