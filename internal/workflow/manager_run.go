package workflow

import (
	"context"
	"errors"
	"time"

	"datamill/internal/logging"
	"datamill/internal/queue"
)

func (m *Manager) runLoop(ctx context.Context) {
	defer m.wg.Done()

	startStatuses := make([]queue.Status, 0, len(m.stages))
	processingStatuses := make([]queue.Status, 0, len(m.stages))
	for _, stg := range m.stages {
		startStatuses = append(startStatuses, stg.startStatus)
		processingStatuses = append(processingStatuses, stg.processingStatus)
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := m.heartbeat.ReclaimStaleRuns(ctx, m.logger); err != nil {
			m.logger.Warn("reclaim stale runs failed; stuck runs may remain",
				logging.Error(err),
				logging.String(logging.FieldEventType, "heartbeat_reclaim_failed"),
				logging.String(logging.FieldErrorHint, "check run database access"),
			)
		}

		run, err := m.store.NextForStatuses(ctx, startStatuses...)
		if err != nil {
			m.handleFetchError(ctx, err)
			continue
		}
		if run == nil {
			m.waitForRunOrShutdown(ctx)
			continue
		}

		if err := m.processRun(ctx, run); err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return
			}
		}
	}
}

func (m *Manager) handleFetchError(ctx context.Context, err error) {
	m.setLastError(err)
	m.logger.Error("failed to fetch next run",
		logging.Error(err),
		logging.String(logging.FieldEventType, "queue_fetch_failed"),
		logging.String(logging.FieldErrorHint, "check run database access"),
	)
	select {
	case <-ctx.Done():
	case <-time.After(time.Duration(m.cfg.Workflow.ErrorRetryInterval) * time.Second):
	}
}

func (m *Manager) waitForRunOrShutdown(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(m.pollInterval):
	}
}
