package watcher

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"datamill/internal/config"
	"datamill/internal/logging"
	"datamill/internal/queue"
)

// Triggerer enqueues pipeline runs for detected dataset files. The workflow
// manager implements it.
type Triggerer interface {
	Trigger(ctx context.Context, path string, force bool) (*queue.Run, bool, error)
}

// observation tracks one candidate file across polls.
type observation struct {
	size    int64
	modTime time.Time
	stable  int
}

// Watcher polls the drop directory for new dataset files. A file is only
// triggered once its size and modification time have held still for the
// configured number of polls, so half-written uploads never enter the
// pipeline.
type Watcher struct {
	cfg        *config.Config
	trigger    Triggerer
	logger     *slog.Logger
	poll       time.Duration
	maxErrWait time.Duration
	required   int

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	seen    map[string]*observation
}

// New constructs a watcher over the configured watch directory.
func New(cfg *config.Config, trigger Triggerer, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	poll := time.Duration(cfg.Watcher.PollInterval) * time.Second
	if poll <= 0 {
		poll = 3 * time.Second
	}
	maxErrWait := time.Duration(cfg.Watcher.ErrorBackoffMax) * time.Second
	if maxErrWait < poll {
		maxErrWait = poll
	}
	required := cfg.Watcher.StabilityIntervals
	if required < 1 {
		required = 1
	}
	return &Watcher{
		cfg:        cfg,
		trigger:    trigger,
		logger:     logger.With(logging.String(logging.FieldComponent, "watcher")),
		poll:       poll,
		maxErrWait: maxErrWait,
		required:   required,
		seen:       make(map[string]*observation),
	}
}

// Start begins watching in the background.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errors.New("watcher already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true
	w.wg.Add(1)
	go w.loop(runCtx)
	return nil
}

// Stop halts watching and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel := w.cancel
	w.running = false
	w.cancel = nil
	w.mu.Unlock()

	cancel()
	w.wg.Wait()
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	errWait := w.poll
	for {
		if err := w.scan(ctx); err != nil {
			w.logger.Warn("watch directory scan failed; will retry",
				logging.Error(err),
				logging.String(logging.FieldEventType, "watch_scan_failed"),
				logging.String(logging.FieldErrorHint, "check watch_dir exists and is readable"),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(errWait):
			}
			errWait *= 2
			if errWait > w.maxErrWait {
				errWait = w.maxErrWait
			}
			continue
		}
		errWait = w.poll

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// scan performs one poll of the watch directory.
func (w *Watcher) scan(ctx context.Context) error {
	entries, err := os.ReadDir(w.cfg.Paths.WatchDir)
	if err != nil {
		return err
	}

	present := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !w.cfg.AcceptsExtension(filepath.Ext(name)) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}

		path := filepath.Join(w.cfg.Paths.WatchDir, name)
		present[path] = struct{}{}
		w.observe(ctx, path, info)
	}

	// Forget files that disappeared so a re-upload is treated as new.
	w.mu.Lock()
	for path := range w.seen {
		if _, ok := present[path]; !ok {
			delete(w.seen, path)
		}
	}
	w.mu.Unlock()
	return nil
}

func (w *Watcher) observe(ctx context.Context, path string, info fs.FileInfo) {
	w.mu.Lock()
	obs, ok := w.seen[path]
	if !ok {
		w.seen[path] = &observation{size: info.Size(), modTime: info.ModTime(), stable: 1}
		w.mu.Unlock()
		return
	}
	if obs.stable < 0 {
		// Already triggered.
		w.mu.Unlock()
		return
	}
	if obs.size != info.Size() || !obs.modTime.Equal(info.ModTime()) {
		obs.size = info.Size()
		obs.modTime = info.ModTime()
		obs.stable = 1
		w.mu.Unlock()
		return
	}
	obs.stable++
	ready := obs.stable >= w.required
	w.mu.Unlock()

	if !ready {
		return
	}

	run, created, err := w.trigger.Trigger(ctx, path, false)
	if err != nil {
		w.logger.Warn("failed to trigger run for dataset",
			logging.Error(err),
			logging.String("source_file", path),
			logging.String(logging.FieldEventType, "trigger_failed"),
		)
		return
	}

	w.mu.Lock()
	if obs := w.seen[path]; obs != nil {
		obs.stable = -1
	}
	w.mu.Unlock()

	if created {
		w.logger.Info("dataset detected and queued",
			logging.String("source_file", path),
			logging.Int64(logging.FieldRunID, run.ID),
			logging.String(logging.FieldEventType, "dataset_detected"),
		)
	} else {
		w.logger.Debug("dataset already known, not queued",
			logging.String("source_file", path),
			logging.Int64(logging.FieldRunID, run.ID),
		)
	}
}
