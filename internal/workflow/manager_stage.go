package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"datamill/internal/logging"
	"datamill/internal/queue"
	"datamill/internal/services"
	"datamill/internal/stages"
	"datamill/internal/statusfeed"
)

func (m *Manager) processRun(ctx context.Context, run *queue.Run) error {
	stg, ok := m.stageByStart[run.Status]
	if !ok {
		m.logger.Warn("no stage configured for status", logging.String("status", string(run.Status)))
		m.waitForRunOrShutdown(ctx)
		return nil
	}

	stageCtx := services.WithRunID(ctx, run.ID)
	stageCtx = services.WithStage(stageCtx, stg.name)
	stageCtx = services.WithRequestID(stageCtx, uuid.NewString())
	logger := logging.WithContext(stageCtx, m.logger)

	if err := m.checkPredecessors(stageCtx, logger, stg, run); err != nil {
		return nil
	}

	if err := m.transitionToProcessing(stageCtx, stg, run); err != nil {
		logger.Error("failed to transition run to processing", logging.Error(err))
		m.setLastError(err)
		return err
	}

	return m.executeStage(stageCtx, logger, stg, run)
}

// checkPredecessors enforces stage ordering: entering a stage whose
// predecessor has not succeeded fails the run immediately.
func (m *Manager) checkPredecessors(ctx context.Context, logger *slog.Logger, stg pipelineStage, run *queue.Run) error {
	for _, prior := range m.stages {
		if prior.name == stg.name {
			return nil
		}
		record := run.StageRecordFor(prior.name)
		if record != nil && record.Status == queue.StageSucceeded {
			continue
		}
		err := fmt.Errorf("stage %s entered before %s succeeded", stg.name, prior.name)
		logger.Error("stage ordering violated",
			logging.Error(err),
			logging.String(logging.FieldEventType, "invariant_violation"),
			logging.String(logging.FieldErrorHint, "inspect the run's stage records"),
		)
		m.failRun(ctx, logger, run, err.Error())
		return err
	}
	return nil
}

func (m *Manager) transitionToProcessing(ctx context.Context, stg pipelineStage, run *queue.Run) error {
	now := time.Now().UTC()
	run.Status = stg.processingStatus
	run.ErrorMessage = ""
	run.LastHeartbeat = &now
	if err := m.store.Update(ctx, run); err != nil {
		return fmt.Errorf("persist processing transition: %w", err)
	}

	record := run.StageRecordFor(stg.name)
	if record != nil && record.Status == queue.StagePending {
		record.Status = queue.StageRunning
		if err := m.store.UpdateStage(ctx, record); err != nil {
			return fmt.Errorf("persist stage start: %w", err)
		}
	}

	m.setLastRun(run)
	m.feed.Publish(statusfeed.Event{
		Type:        statusfeed.EventStageStarted,
		RunID:       run.ID,
		RunUUID:     run.UUID,
		RunStatus:   string(run.Status),
		Stage:       stg.name,
		StageStatus: string(queue.StageRunning),
	})

	if stg.startStatus == queue.StatusPending && m.notifier != nil {
		if err := m.notifier.NotifyRunStarted(ctx, run.SourcePath); err != nil {
			m.logger.Warn("run started notification failed", logging.Error(err))
		}
	}
	return nil
}

func (m *Manager) executeStage(ctx context.Context, logger *slog.Logger, stg pipelineStage, run *queue.Run) error {
	if stg.handler == nil {
		err := fmt.Errorf("stage %s has no handler", stg.name)
		m.failRun(ctx, logger, run, err.Error())
		m.setLastError(err)
		return err
	}

	record := run.StageRecordFor(stg.name)
	if record == nil {
		err := fmt.Errorf("run %d has no record for stage %s", run.ID, stg.name)
		m.failRun(ctx, logger, run, err.Error())
		m.setLastError(err)
		return err
	}

	// All attempts of this stage share a cancel scope so an operator cancel
	// kills the subprocess and stops further retries.
	execCtx, execCancel := context.WithCancel(ctx)
	defer execCancel()
	m.setActive(run.ID, execCancel)
	defer m.clearActive()

	stageStart := time.Now()
	logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("source_file", run.SourcePath),
	)

	maxAttempts := m.cfg.Pipeline.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for number := len(record.Attempts) + 1; number <= maxAttempts; number++ {
		attemptErr := m.runAttempt(execCtx, logger, stg, run, record, number)
		if attemptErr == nil {
			return m.finishStage(ctx, logger, stg, run, record, stageStart)
		}
		lastErr = attemptErr

		if execCtx.Err() != nil {
			return m.handleInterrupted(ctx, logger, stg, run, record)
		}
		if number < maxAttempts {
			m.sleepBackoff(execCtx, number)
		}
	}

	// Attempts exhausted. The stage and the run fail; later stages stay pending.
	record.Status = queue.StageFailed
	if err := m.store.UpdateStage(ctx, record); err != nil {
		logger.Error("failed to persist stage failure", logging.Error(err))
	}
	message := fmt.Sprintf("%s failed after %d attempts", stg.name, maxAttempts)
	if lastErr != nil {
		message = fmt.Sprintf("%s: %s", message, lastErr.Error())
	}
	m.failRun(ctx, logger, run, message)
	m.setLastError(lastErr)
	return lastErr
}

// runAttempt performs one prepare+execute cycle and records the attempt.
func (m *Manager) runAttempt(ctx context.Context, logger *slog.Logger, stg pipelineStage, run *queue.Run, record *queue.StageRecord, number int) error {
	attemptLogger := logger.With(logging.Int(logging.FieldAttempt, number))
	started := time.Now().UTC()

	execErr := stg.handler.Prepare(ctx, run)
	if execErr == nil {
		execErr = m.executeWithHeartbeat(ctx, stg, run)
	}
	ended := time.Now().UTC()

	attempt := queue.Attempt{
		Number:    number,
		StartedAt: started,
		EndedAt:   &ended,
	}
	if execErr != nil {
		attempt.ErrorMessage = execErr.Error()
		var toolErr *stages.ExecError
		if errors.As(execErr, &toolErr) {
			attempt.ExitCode = toolErr.ExitCode
			attempt.LogTail = toolErr.LogTail
		} else {
			attempt.ExitCode = -1
		}
	} else {
		record.Status = queue.StageSucceeded
	}

	if err := m.store.AppendAttempt(ctx, record, &attempt); err != nil && ctx.Err() == nil {
		attemptLogger.Error("failed to persist attempt", logging.Error(err))
	}

	event := statusfeed.Event{
		Type:        statusfeed.EventStageResult,
		RunID:       run.ID,
		RunUUID:     run.UUID,
		RunStatus:   string(run.Status),
		Stage:       stg.name,
		StageStatus: string(record.Status),
		Attempt:     number,
	}
	if execErr != nil {
		event.ErrorMessage = execErr.Error()
		attemptLogger.Warn("stage attempt failed",
			logging.Error(execErr),
			logging.String(logging.FieldEventType, "stage_attempt_failed"),
			logging.Int("exit_code", attempt.ExitCode),
		)
	}
	m.feed.Publish(event)
	return execErr
}

func (m *Manager) executeWithHeartbeat(ctx context.Context, stg pipelineStage, run *queue.Run) error {
	hbCtx, hbCancel := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(hbCtx, &hbWG, run.ID)

	execErr := stg.handler.Execute(ctx, run)
	hbCancel()
	hbWG.Wait()
	return execErr
}

func (m *Manager) sleepBackoff(ctx context.Context, attempt int) {
	base := time.Duration(m.cfg.Pipeline.BackoffBaseSeconds) * time.Second
	if base <= 0 {
		return
	}
	multiplier := m.cfg.Pipeline.BackoffMultiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := time.Duration(float64(base) * math.Pow(multiplier, float64(attempt-1)))
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

func (m *Manager) finishStage(ctx context.Context, logger *slog.Logger, stg pipelineStage, run *queue.Run, record *queue.StageRecord, stageStart time.Time) error {
	if run.Status == queue.StatusFailed {
		return nil
	}
	if stg.doneStatus == queue.StatusCompleted {
		run.SetCompleted()
	} else {
		run.Status = stg.doneStatus
		run.LastHeartbeat = nil
	}
	if err := m.store.Update(ctx, run); err != nil {
		wrapped := fmt.Errorf("persist stage result: %w", err)
		logger.Error("failed to persist stage result", logging.Error(wrapped))
		m.setLastError(wrapped)
		return wrapped
	}
	m.setLastRun(run)

	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("next_status", string(run.Status)),
		logging.String("output", record.OutputPath),
		logging.Duration("stage_duration", time.Since(stageStart)),
	)

	if stg.name == queue.StageTrain {
		m.announceModelReady(ctx, logger, run)
	}
	if run.Status == queue.StatusCompleted {
		m.announceRunCompleted(ctx, logger, run)
	}
	return nil
}

func (m *Manager) announceModelReady(ctx context.Context, logger *slog.Logger, run *queue.Run) {
	m.feed.Publish(statusfeed.Event{
		Type:      statusfeed.EventModelReady,
		RunID:     run.ID,
		RunUUID:   run.UUID,
		RunStatus: string(run.Status),
		Stage:     queue.StageTrain,
		Detail:    run.ModelPath,
	})
	if m.notifier != nil {
		if err := m.notifier.NotifyModelReady(ctx, run.ModelPath); err != nil {
			logger.Warn("model ready notification failed", logging.Error(err))
		}
	}
}

func (m *Manager) announceRunCompleted(ctx context.Context, logger *slog.Logger, run *queue.Run) {
	m.feed.Publish(statusfeed.Event{
		Type:      statusfeed.EventRunCompleted,
		RunID:     run.ID,
		RunUUID:   run.UUID,
		RunStatus: string(run.Status),
	})
	if m.notifier != nil {
		if err := m.notifier.NotifyRunCompleted(ctx, run.SourcePath, time.Since(run.CreatedAt)); err != nil {
			logger.Warn("run completed notification failed", logging.Error(err))
		}
	}
}

// handleInterrupted distinguishes daemon shutdown from an operator cancel.
// Shutdown leaves the run for FailProcessing to clean up; a cancel fails the
// run right away.
func (m *Manager) handleInterrupted(ctx context.Context, logger *slog.Logger, stg pipelineStage, run *queue.Run, record *queue.StageRecord) error {
	if ctx.Err() != nil {
		logger.Debug("stage interrupted by shutdown")
		return context.Canceled
	}

	record.Status = queue.StageFailed
	if err := m.store.UpdateStage(ctx, record); err != nil {
		logger.Error("failed to persist canceled stage", logging.Error(err))
	}
	m.failRun(ctx, logger, run, queue.CancelReason)
	logger.Info("run canceled by operator",
		logging.String(logging.FieldEventType, "run_canceled"),
		logging.String(logging.FieldStage, stg.name),
	)
	return context.Canceled
}
