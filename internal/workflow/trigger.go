package workflow

import (
	"context"
	"fmt"
	"os"

	"datamill/internal/fileutil"
	"datamill/internal/logging"
	"datamill/internal/queue"
	"datamill/internal/statusfeed"
)

// Trigger enqueues a pipeline run for a dataset file. Files whose content
// fingerprint matches an existing run are skipped unless force is set; the
// returned bool reports whether a new run was created.
func (m *Manager) Trigger(ctx context.Context, path string, force bool) (*queue.Run, bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, false, fmt.Errorf("stat dataset: %w", err)
	}
	if info.IsDir() {
		return nil, false, fmt.Errorf("dataset %s is a directory", path)
	}

	fingerprint, err := fileutil.Fingerprint(path)
	if err != nil {
		return nil, false, fmt.Errorf("fingerprint dataset: %w", err)
	}

	if !force {
		existing, err := m.store.FindByFingerprint(ctx, fingerprint)
		if err != nil {
			return nil, false, fmt.Errorf("check for duplicate run: %w", err)
		}
		if existing != nil {
			m.logger.Info("dataset already processed, skipping trigger",
				logging.String("source_file", path),
				logging.Int64(logging.FieldRunID, existing.ID),
				logging.String("existing_status", string(existing.Status)),
			)
			return existing, false, nil
		}
	}

	run, err := m.store.NewRun(ctx, path, fingerprint)
	if err != nil {
		return nil, false, fmt.Errorf("enqueue run: %w", err)
	}

	m.logger.Info("run queued",
		logging.Int64(logging.FieldRunID, run.ID),
		logging.String("source_file", path),
		logging.String(logging.FieldEventType, "run_queued"),
	)
	m.feed.Publish(statusfeed.Event{
		Type:      statusfeed.EventRunQueued,
		RunID:     run.ID,
		RunUUID:   run.UUID,
		RunStatus: string(run.Status),
	})
	if m.notifier != nil {
		if err := m.notifier.NotifyRunQueued(ctx, path); err != nil {
			m.logger.Warn("run queued notification failed", logging.Error(err))
		}
	}
	return run, true, nil
}
