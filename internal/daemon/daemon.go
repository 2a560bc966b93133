package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"datamill/internal/config"
	"datamill/internal/deps"
	"datamill/internal/logging"
	"datamill/internal/notifications"
	"datamill/internal/preflight"
	"datamill/internal/queue"
	"datamill/internal/watcher"
	"datamill/internal/workflow"
)

// Daemon coordinates the background services and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	workflow *workflow.Manager
	watcher  *watcher.Watcher
	api      *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Workflow     workflow.StatusSummary
	RunDBPath    string
	LockFilePath string
	Dependencies []deps.Status
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, wf *workflow.Manager) (*Daemon, error) {
	if cfg == nil || store == nil || logger == nil || wf == nil {
		return nil, errors.New("daemon requires config, store, logger, and workflow manager")
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "datamilld.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		workflow: wf,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.watcher = watcher.New(cfg, wf, logger)

	srv, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = srv
	return d, nil
}

// Start acquires the daemon lock and launches the workflow manager, the drop
// directory watcher, and the HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another datamill daemon instance is already running")
	}

	for _, result := range preflight.RunAll(d.cfg) {
		if result.Passed {
			continue
		}
		_ = d.lock.Unlock()
		return fmt.Errorf("preflight check %q failed: %s", result.Name, result.Detail)
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.workflow.Start(d.ctx); err != nil {
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return fmt.Errorf("start workflow: %w", err)
	}

	// The components outlive Start, so they bind to d.ctx; the group only
	// coordinates their concurrent startup.
	var group errgroup.Group
	group.Go(func() error {
		if err := d.watcher.Start(d.ctx); err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return d.api.start(d.ctx)
	})
	if err := group.Wait(); err != nil {
		d.api.stop()
		d.watcher.Stop()
		d.workflow.Stop()
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return err
	}

	d.running.Store(true)
	d.logger.Info("datamill daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop stops background processing and releases the daemon lock. Runs that
// were mid-stage are marked failed so operators can retry them explicitly.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.watcher.Stop()
	d.workflow.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if failed, err := d.store.FailProcessing(shutdownCtx, queue.DaemonStopReason); err != nil {
		d.logger.Warn("failed to mark in-flight runs", logging.Error(err))
	} else if failed > 0 {
		d.logger.Info("marked in-flight runs as failed",
			logging.Int64("run_count", failed),
			logging.String(logging.FieldEventType, "daemon_stop"))
	}

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("datamill daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Trigger enqueues the given dataset file for processing.
func (d *Daemon) Trigger(ctx context.Context, path string, force bool) (*queue.Run, bool, error) {
	return d.workflow.Trigger(ctx, path, force)
}

// ListRuns returns runs filtered by optional statuses.
func (d *Daemon) ListRuns(ctx context.Context, statuses []queue.Status) ([]*queue.Run, error) {
	if len(statuses) == 0 {
		return d.store.List(ctx)
	}
	return d.store.List(ctx, statuses...)
}

// GetRun returns a single run by id.
func (d *Daemon) GetRun(ctx context.Context, id int64) (*queue.Run, error) {
	return d.store.GetByID(ctx, id)
}

// StopRun cancels a running or pending run.
func (d *Daemon) StopRun(ctx context.Context, id int64) error {
	if d.workflow.CancelRun(id) {
		return nil
	}
	run, err := d.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run %d not found", id)
	}
	if run.Status != queue.StatusPending {
		return fmt.Errorf("run %d is not pending or running", id)
	}
	run.SetFailed(queue.CancelReason)
	return d.store.Update(ctx, run)
}

// RetryFailed creates fresh runs for failed entries (optionally a subset).
func (d *Daemon) RetryFailed(ctx context.Context, ids []int64) (int64, error) {
	return d.store.RetryFailed(ctx, ids...)
}

// ClearRuns removes all runs.
func (d *Daemon) ClearRuns(ctx context.Context) (int64, error) {
	return d.store.Clear(ctx)
}

// ClearCompleted removes only completed runs.
func (d *Daemon) ClearCompleted(ctx context.Context) (int64, error) {
	return d.store.ClearCompleted(ctx)
}

// ClearFailed removes only failed runs.
func (d *Daemon) ClearFailed(ctx context.Context) (int64, error) {
	return d.store.ClearFailed(ctx)
}

// QueueHealth returns aggregate run diagnostics.
func (d *Daemon) QueueHealth(ctx context.Context) (queue.HealthSummary, error) {
	return d.store.Health(ctx)
}

// DatabaseHealth returns detailed database diagnostics.
func (d *Daemon) DatabaseHealth(ctx context.Context) (queue.DatabaseHealth, error) {
	return d.store.CheckHealth(ctx), nil
}

// LatestModel returns the most recently completed run that published a model.
func (d *Daemon) LatestModel(ctx context.Context) (*queue.Run, error) {
	runs, err := d.store.List(ctx, queue.StatusCompleted)
	if err != nil {
		return nil, err
	}
	var latest *queue.Run
	for _, run := range runs {
		if run.ModelPath == "" || run.CompletedAt == nil {
			continue
		}
		if latest == nil || run.CompletedAt.After(*latest.CompletedAt) {
			latest = run
		}
	}
	return latest, nil
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	notifier := notifications.NewService(d.cfg)
	if err := notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// APIAddr returns the bound address of the HTTP API, or empty when disabled.
func (d *Daemon) APIAddr() string {
	return d.api.addr()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Workflow:     d.workflow.Status(ctx),
		RunDBPath:    d.store.Path(),
		LockFilePath: d.lockPath,
		Dependencies: preflight.CheckSystemDeps(d.cfg),
	}
}
