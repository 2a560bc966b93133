package ipc_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"datamill/internal/daemon"
	"datamill/internal/ipc"
	"datamill/internal/logging"
	"datamill/internal/queue"
	"datamill/internal/stage"
	"datamill/internal/statusfeed"
	"datamill/internal/testsupport"
	"datamill/internal/workflow"
)

type noopStage struct{}

func (noopStage) Prepare(context.Context, *queue.Run) error { return nil }
func (noopStage) Execute(context.Context, *queue.Run) error { return nil }
func (noopStage) HealthCheck(context.Context) stage.Health {
	return stage.Healthy("noop")
}

func TestIPCServerClient(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	store := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	mgr := workflow.NewManager(cfg, store, logger, statusfeed.New())
	mgr.Configure(workflow.StageSet{
		Convert: noopStage{},
		Clean:   noopStage{},
		Train:   noopStage{},
		Publish: noopStage{},
	})
	d, err := daemon.New(cfg, store, logger, mgr)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	socket := filepath.Join(cfg.Paths.LogDir, "datamill.sock")
	srv, err := ipc.NewServer(ctx, socket, d, logger)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(func() {
		srv.Close()
	})

	time.Sleep(50 * time.Millisecond)

	client, err := ipc.Dial(socket)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
	})

	startResp, err := client.Start()
	if err != nil {
		t.Fatalf("Start RPC failed: %v", err)
	}
	if !startResp.Started {
		t.Fatalf("expected Started=true, message=%s", startResp.Message)
	}

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status RPC failed: %v", err)
	}
	if !status.Running {
		t.Fatal("expected daemon to be running")
	}
	if status.PID <= 0 {
		t.Fatalf("expected positive PID, got %d", status.PID)
	}
	if len(status.StageHealth) != 4 {
		t.Fatalf("expected 4 stage health entries, got %d", len(status.StageHealth))
	}

	dataset := filepath.Join(cfg.Paths.WatchDir, "metrics.csv")
	testsupport.WriteFile(t, dataset, 128)

	trigResp, err := client.Trigger(dataset, false)
	if err != nil {
		t.Fatalf("Trigger RPC failed: %v", err)
	}
	if !trigResp.Created {
		t.Fatal("expected a new run to be created")
	}
	runID := trigResp.Run.ID

	// A duplicate trigger without force reuses the existing run.
	dupResp, err := client.Trigger(dataset, false)
	if err != nil {
		t.Fatalf("duplicate Trigger RPC failed: %v", err)
	}
	if dupResp.Created {
		t.Fatal("expected duplicate trigger to be deduplicated")
	}
	if dupResp.Run.ID != runID {
		t.Fatalf("expected run %d, got %d", runID, dupResp.Run.ID)
	}

	describe, err := client.RunDescribe(runID)
	if err != nil {
		t.Fatalf("RunDescribe RPC failed: %v", err)
	}
	if describe.Run.SourcePath != dataset {
		t.Fatalf("unexpected source path: %s", describe.Run.SourcePath)
	}
	if len(describe.Run.Stages) != 4 {
		t.Fatalf("expected 4 stage records, got %d", len(describe.Run.Stages))
	}

	if _, err := client.RunDescribe(99999); err == nil {
		t.Fatal("expected error describing unknown run")
	}

	list, err := client.RunList(nil)
	if err != nil {
		t.Fatalf("RunList RPC failed: %v", err)
	}
	if len(list.Runs) == 0 {
		t.Fatal("expected at least one run in list")
	}

	health, err := client.QueueHealth()
	if err != nil {
		t.Fatalf("QueueHealth RPC failed: %v", err)
	}
	if health.Total == 0 {
		t.Fatal("expected nonzero run total")
	}

	dbHealth, err := client.DatabaseHealth()
	if err != nil {
		t.Fatalf("DatabaseHealth RPC failed: %v", err)
	}
	if !dbHealth.DatabaseExists || !dbHealth.DatabaseReadable {
		t.Fatalf("expected healthy database, got %+v", dbHealth)
	}
	if len(dbHealth.MissingTables) != 0 {
		t.Fatalf("unexpected missing tables: %v", dbHealth.MissingTables)
	}

	notify, err := client.TestNotification()
	if err != nil {
		t.Fatalf("TestNotification RPC failed: %v", err)
	}
	if notify.Sent {
		t.Fatal("expected notification to be skipped without a topic")
	}

	stopResp, err := client.Stop()
	if err != nil {
		t.Fatalf("Stop RPC failed: %v", err)
	}
	if !stopResp.Stopped {
		t.Fatal("expected Stopped=true")
	}
}

func TestIPCRetryAndClear(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	store := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	mgr := workflow.NewManager(cfg, store, logger, statusfeed.New())
	d, err := daemon.New(cfg, store, logger, mgr)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	failed := testsupport.NewRun(t, store, "/data/broken.csv", "sha256:broken:9")
	failed.SetFailed("train exhausted attempts")
	if err := store.Update(ctx, failed); err != nil {
		t.Fatalf("update failed run: %v", err)
	}

	socket := filepath.Join(cfg.Paths.LogDir, "datamill.sock")
	srv, err := ipc.NewServer(ctx, socket, d, logger)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(func() {
		srv.Close()
	})

	time.Sleep(50 * time.Millisecond)

	client, err := ipc.Dial(socket)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
	})

	retry, err := client.RetryFailed(nil)
	if err != nil {
		t.Fatalf("RetryFailed RPC failed: %v", err)
	}
	if retry.Created != 1 {
		t.Fatalf("expected 1 run created, got %d", retry.Created)
	}

	cleared, err := client.QueueClearFailed()
	if err != nil {
		t.Fatalf("QueueClearFailed RPC failed: %v", err)
	}
	if cleared.Removed != 1 {
		t.Fatalf("expected 1 run removed, got %d", cleared.Removed)
	}

	all, err := client.QueueClear()
	if err != nil {
		t.Fatalf("QueueClear RPC failed: %v", err)
	}
	if all.Removed != 1 {
		t.Fatalf("expected 1 remaining run removed, got %d", all.Removed)
	}
}
