package queue_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"datamill/internal/queue"
	"datamill/internal/testsupport"
)

func TestOpenCreatesSchemaAndRuns(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	run, err := store.NewRun(ctx, "/incoming/sales_jan.csv", "fp-1")
	if err != nil {
		t.Fatalf("NewRun failed: %v", err)
	}
	if run.ID == 0 {
		t.Fatal("expected run ID to be assigned")
	}
	if run.UUID == "" {
		t.Fatal("expected run UUID to be assigned")
	}
	if run.Status != queue.StatusPending {
		t.Fatalf("expected pending status, got %s", run.Status)
	}
	if len(run.Stages) != 4 {
		t.Fatalf("expected 4 stage records, got %d", len(run.Stages))
	}
	for i, name := range queue.StageNames() {
		if run.Stages[i].Name != name {
			t.Fatalf("stage %d: expected %s, got %s", i, name, run.Stages[i].Name)
		}
		if run.Stages[i].Status != queue.StagePending {
			t.Fatalf("stage %s: expected pending, got %s", name, run.Stages[i].Status)
		}
	}

	fetched, err := store.GetByID(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched == nil || fetched.SourcePath != "/incoming/sales_jan.csv" {
		t.Fatalf("unexpected fetched run: %#v", fetched)
	}

	byUUID, err := store.GetByUUID(ctx, run.UUID)
	if err != nil {
		t.Fatalf("GetByUUID failed: %v", err)
	}
	if byUUID == nil || byUUID.ID != run.ID {
		t.Fatalf("expected run by uuid, got %#v", byUUID)
	}

	found, err := store.FindByFingerprint(ctx, "fp-1")
	if err != nil {
		t.Fatalf("FindByFingerprint failed: %v", err)
	}
	if found == nil || found.ID != run.ID {
		t.Fatalf("expected to find inserted run, got %#v", found)
	}
}

func TestNewRunRequiresSourcePath(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	if _, err := store.NewRun(context.Background(), "", "fp"); err == nil {
		t.Fatal("expected error when source path missing")
	}
}

func TestNextForStatusesReturnsOldest(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	first := testsupport.NewRun(t, store, "/incoming/a.csv", "fp-a")
	testsupport.NewRun(t, store, "/incoming/b.csv", "fp-b")

	next, err := store.NextForStatuses(ctx, queue.StatusPending)
	if err != nil {
		t.Fatalf("NextForStatuses failed: %v", err)
	}
	if next == nil || next.ID != first.ID {
		t.Fatalf("expected oldest pending run %d, got %#v", first.ID, next)
	}

	first.Status = queue.StatusCompleted
	if err := store.Update(ctx, first); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	next, err = store.NextForStatuses(ctx, queue.StatusPending)
	if err != nil {
		t.Fatalf("NextForStatuses failed: %v", err)
	}
	if next == nil || next.SourcePath != "/incoming/b.csv" {
		t.Fatalf("expected second run, got %#v", next)
	}
}

func TestAppendAttemptIsAtomic(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	run := testsupport.NewRun(t, store, "/incoming/data.csv", "fp-attempt")
	record := run.StageRecordFor(queue.StageConvert)
	if record == nil {
		t.Fatal("expected convert stage record")
	}

	started := time.Now().UTC()
	ended := started.Add(2 * time.Second)
	record.Status = queue.StageFailed
	if err := store.AppendAttempt(ctx, record, &queue.Attempt{
		Number:       1,
		StartedAt:    started,
		EndedAt:      &ended,
		ExitCode:     2,
		ErrorMessage: "converter exited with code 2",
		LogTail:      "parse error on line 4",
	}); err != nil {
		t.Fatalf("AppendAttempt failed: %v", err)
	}

	record.Status = queue.StageSucceeded
	record.OutputPath = "/work/dataset.csv"
	if err := store.AppendAttempt(ctx, record, &queue.Attempt{
		Number:    2,
		StartedAt: ended,
	}); err != nil {
		t.Fatalf("AppendAttempt failed: %v", err)
	}

	fetched, err := store.GetByID(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	got := fetched.StageRecordFor(queue.StageConvert)
	if got.Status != queue.StageSucceeded {
		t.Fatalf("expected succeeded stage, got %s", got.Status)
	}
	if got.OutputPath != "/work/dataset.csv" {
		t.Fatalf("unexpected output path %q", got.OutputPath)
	}
	if len(got.Attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(got.Attempts))
	}
	if got.Attempts[0].ExitCode != 2 || got.Attempts[0].LogTail != "parse error on line 4" {
		t.Fatalf("unexpected first attempt: %#v", got.Attempts[0])
	}
	if got.Attempts[1].Number != 2 || got.Attempts[1].ExitCode != 0 {
		t.Fatalf("unexpected second attempt: %#v", got.Attempts[1])
	}
}

func TestRetryFailedCreatesFreshRuns(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	run := testsupport.NewRun(t, store, "/incoming/bad.csv", "fp-bad")
	run.SetFailed("conversion failed after 3 attempts")
	if err := store.Update(ctx, run); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	created, err := store.RetryFailed(ctx)
	if err != nil {
		t.Fatalf("RetryFailed failed: %v", err)
	}
	if created != 1 {
		t.Fatalf("expected 1 retried run, got %d", created)
	}

	// The failed run stays failed; the retry is a brand new pending run.
	original, err := store.GetByID(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if original.Status != queue.StatusFailed {
		t.Fatalf("expected original to remain failed, got %s", original.Status)
	}

	pending, err := store.List(ctx, queue.StatusPending)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending run, got %d", len(pending))
	}
	if pending[0].SourcePath != "/incoming/bad.csv" || pending[0].Fingerprint != "fp-bad" {
		t.Fatalf("unexpected retry run: %#v", pending[0])
	}
	if pending[0].ID == run.ID {
		t.Fatal("retry must not reuse the failed run")
	}
}

func TestReclaimStaleProcessing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	stale := testsupport.NewRun(t, store, "/incoming/stale.csv", "fp-stale")
	stale.Status = queue.StatusTraining
	past := time.Now().UTC().Add(-10 * time.Minute)
	stale.LastHeartbeat = &past
	if err := store.Update(ctx, stale); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	fresh := testsupport.NewRun(t, store, "/incoming/fresh.csv", "fp-fresh")
	fresh.Status = queue.StatusConverting
	now := time.Now().UTC()
	fresh.LastHeartbeat = &now
	if err := store.Update(ctx, fresh); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	reclaimed, err := store.ReclaimStaleProcessing(ctx, time.Now().UTC().Add(-2*time.Minute))
	if err != nil {
		t.Fatalf("ReclaimStaleProcessing failed: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("expected 1 reclaimed run, got %d", reclaimed)
	}

	got, err := store.GetByID(ctx, stale.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Status != queue.StatusFailed {
		t.Fatalf("expected stale run failed, got %s", got.Status)
	}

	untouched, err := store.GetByID(ctx, fresh.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if untouched.Status != queue.StatusConverting {
		t.Fatalf("expected fresh run untouched, got %s", untouched.Status)
	}
}

func TestFailProcessingOnShutdown(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	run := testsupport.NewRun(t, store, "/incoming/mid.csv", "fp-mid")
	run.Status = queue.StatusCleaning
	if err := store.Update(ctx, run); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	failed, err := store.FailProcessing(ctx, queue.DaemonStopReason)
	if err != nil {
		t.Fatalf("FailProcessing failed: %v", err)
	}
	if failed != 1 {
		t.Fatalf("expected 1 failed run, got %d", failed)
	}

	got, err := store.GetByID(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Status != queue.StatusFailed || got.ErrorMessage != queue.DaemonStopReason {
		t.Fatalf("unexpected run after shutdown: status=%s error=%q", got.Status, got.ErrorMessage)
	}
}

func TestStatsAndClear(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		run := testsupport.NewRun(t, store, fmt.Sprintf("/incoming/file-%d.csv", i), fmt.Sprintf("fp-%d", i))
		switch i {
		case 0:
			run.SetCompleted()
		case 1:
			run.SetFailed("boom")
		}
		if err := store.Update(ctx, run); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats[queue.StatusCompleted] != 1 || stats[queue.StatusFailed] != 1 || stats[queue.StatusPending] != 1 {
		t.Fatalf("unexpected stats: %#v", stats)
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Total != 3 || health.Completed != 1 || health.Failed != 1 || health.Pending != 1 {
		t.Fatalf("unexpected health summary: %#v", health)
	}

	removed, err := store.ClearCompleted(ctx)
	if err != nil {
		t.Fatalf("ClearCompleted failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}

	removed, err = store.ClearFailed(ctx)
	if err != nil {
		t.Fatalf("ClearFailed failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}

	removed, err = store.Clear(ctx)
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
}

func TestRemoveCascadesStageRecords(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	run := testsupport.NewRun(t, store, "/incoming/gone.csv", "fp-gone")

	ok, err := store.Remove(ctx, run.ID)
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if !ok {
		t.Fatal("expected run to be removed")
	}

	got, err := store.GetByID(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil run after removal, got %#v", got)
	}
}

func TestCheckHealthReportsTables(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	health := store.CheckHealth(context.Background())
	if !health.DatabaseExists || !health.DatabaseReadable {
		t.Fatalf("expected readable database: %#v", health)
	}
	if health.SchemaVersion != "1" {
		t.Fatalf("unexpected schema version %q", health.SchemaVersion)
	}
	if len(health.MissingTables) != 0 {
		t.Fatalf("unexpected missing tables: %v", health.MissingTables)
	}
	if !health.IntegrityCheck {
		t.Fatal("expected integrity check to pass")
	}
}

func TestParseStatusCoarse(t *testing.T) {
	status, ok := queue.ParseStatus(" Training ")
	if !ok || status != queue.StatusTraining {
		t.Fatalf("ParseStatus returned %q, %v", status, ok)
	}
	if _, ok := queue.ParseStatus("ripping"); ok {
		t.Fatal("expected unknown status to be rejected")
	}

	cases := map[queue.Status]string{
		queue.StatusPending:    "pending",
		queue.StatusConverting: "running",
		queue.StatusTrained:    "running",
		queue.StatusCompleted:  "succeeded",
		queue.StatusFailed:     "failed",
	}
	for status, want := range cases {
		if got := status.Coarse(); got != want {
			t.Fatalf("Coarse(%s) = %q, want %q", status, got, want)
		}
	}
}
