package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"datamill/internal/logging"
	"datamill/internal/queue"
	"datamill/internal/statusfeed"
)

// failRun moves a run to failed, persists it, and announces the failure.
func (m *Manager) failRun(ctx context.Context, logger *slog.Logger, run *queue.Run, message string) {
	message = strings.TrimSpace(message)
	if message == "" {
		message = "run failed without error detail"
	}
	run.SetFailed(message)

	if err := m.store.Update(ctx, run); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("daemon shutting down, could not persist run failure")
		} else {
			logger.Error("failed to persist run failure", logging.Error(err))
		}
	}
	m.setLastRun(run)

	logger.Error("run failed",
		logging.String(logging.FieldEventType, "run_failed"),
		logging.String("error_message", message),
	)
	m.feed.Publish(statusfeed.Event{
		Type:         statusfeed.EventRunFailed,
		RunID:        run.ID,
		RunUUID:      run.UUID,
		RunStatus:    string(queue.StatusFailed),
		ErrorMessage: message,
	})
	if m.notifier != nil {
		if err := m.notifier.NotifyRunFailed(ctx, run.SourcePath, message); err != nil {
			logger.Warn("run failed notification failed", logging.Error(err))
		}
	}
}
