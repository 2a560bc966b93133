package queue

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const runColumns = `id, uuid, source_path, fingerprint, status, error_message,
    created_at, updated_at, completed_at, last_heartbeat, model_path`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run           Run
		fingerprint   sql.NullString
		errorMessage  sql.NullString
		createdAt     string
		updatedAt     string
		completedAt   sql.NullString
		lastHeartbeat sql.NullString
		modelPath     sql.NullString
	)

	err := row.Scan(
		&run.ID,
		&run.UUID,
		&run.SourcePath,
		&fingerprint,
		&run.Status,
		&errorMessage,
		&createdAt,
		&updatedAt,
		&completedAt,
		&lastHeartbeat,
		&modelPath,
	)
	if err != nil {
		return nil, err
	}

	run.Fingerprint = fingerprint.String
	run.ErrorMessage = errorMessage.String
	run.ModelPath = modelPath.String

	if run.CreatedAt, err = parseTimeString(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if run.UpdatedAt, err = parseTimeString(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if run.CompletedAt, err = parseNullableTime(completedAt); err != nil {
		return nil, fmt.Errorf("parse completed_at: %w", err)
	}
	if run.LastHeartbeat, err = parseNullableTime(lastHeartbeat); err != nil {
		return nil, fmt.Errorf("parse last_heartbeat: %w", err)
	}

	return &run, nil
}

// loadStages populates a run's stage records and their attempts in pipeline order.
func (s *Store) loadStages(ctx context.Context, run *Run) error {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, run_id, name, status, output_path, updated_at
         FROM stage_records WHERE run_id = ? ORDER BY position`,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("load stage records: %w", err)
	}
	defer rows.Close()

	run.Stages = nil
	for rows.Next() {
		var (
			record     StageRecord
			outputPath sql.NullString
			updatedAt  string
		)
		if err := rows.Scan(&record.ID, &record.RunID, &record.Name, &record.Status, &outputPath, &updatedAt); err != nil {
			return err
		}
		record.OutputPath = outputPath.String
		if record.UpdatedAt, err = parseTimeString(updatedAt); err != nil {
			return fmt.Errorf("parse stage updated_at: %w", err)
		}
		run.Stages = append(run.Stages, &record)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, record := range run.Stages {
		if err := s.loadAttempts(ctx, record); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) loadAttempts(ctx context.Context, record *StageRecord) error {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, stage_record_id, number, started_at, ended_at, exit_code, error_message, log_tail
         FROM attempts WHERE stage_record_id = ? ORDER BY number`,
		record.ID,
	)
	if err != nil {
		return fmt.Errorf("load attempts: %w", err)
	}
	defer rows.Close()

	record.Attempts = nil
	for rows.Next() {
		var (
			attempt      Attempt
			startedAt    string
			endedAt      sql.NullString
			errorMessage sql.NullString
			logTail      sql.NullString
		)
		if err := rows.Scan(&attempt.ID, &attempt.StageRecordID, &attempt.Number, &startedAt, &endedAt, &attempt.ExitCode, &errorMessage, &logTail); err != nil {
			return err
		}
		attempt.ErrorMessage = errorMessage.String
		attempt.LogTail = logTail.String
		if attempt.StartedAt, err = parseTimeString(startedAt); err != nil {
			return fmt.Errorf("parse attempt started_at: %w", err)
		}
		if attempt.EndedAt, err = parseNullableTime(endedAt); err != nil {
			return fmt.Errorf("parse attempt ended_at: %w", err)
		}
		record.Attempts = append(record.Attempts, attempt)
	}
	return rows.Err()
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}

func parseNullableTime(value sql.NullString) (*time.Time, error) {
	if !value.Valid || value.String == "" {
		return nil, nil
	}
	parsed, err := parseTimeString(value.String)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", count), ", ")
}
