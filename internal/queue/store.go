package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"datamill/internal/config"
)

// Store manages run persistence backed by SQLite. It holds no pipeline policy:
// ordering and retry rules live in the workflow manager.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the run database and applies the schema.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.WorkDir, "datamill.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// NewRun inserts a pending run for a dataset file together with its four
// pending stage records in a single transaction.
func (s *Store) NewRun(ctx context.Context, sourcePath, fingerprint string) (*Run, error) {
	if sourcePath == "" {
		return nil, errors.New("source path is required")
	}
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(
		ctx,
		`INSERT INTO runs (uuid, source_path, fingerprint, status, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(),
		sourcePath,
		nullableString(fingerprint),
		StatusPending,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	for position, name := range StageNames() {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO stage_records (run_id, name, position, status, updated_at)
             VALUES (?, ?, ?, ?, ?)`,
			runID, name, position, StagePending, timestamp,
		); err != nil {
			return nil, fmt.Errorf("insert stage record %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit run: %w", err)
	}

	return s.GetByID(ctx, runID)
}

// GetByID fetches a run with its stage records and attempts.
func (s *Store) GetByID(ctx context.Context, id int64) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	if err := s.loadStages(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// GetByUUID fetches a run by its external identifier.
func (s *Store) GetByUUID(ctx context.Context, runUUID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE uuid = ?`, runUUID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run by uuid: %w", err)
	}
	if err := s.loadStages(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// FindByFingerprint returns the most recent run matching a dataset fingerprint.
func (s *Store) FindByFingerprint(ctx context.Context, fingerprint string) (*Run, error) {
	if fingerprint == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+runColumns+` FROM runs WHERE fingerprint = ? ORDER BY id DESC LIMIT 1`,
		fingerprint,
	)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by fingerprint: %w", err)
	}
	if err := s.loadStages(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// Update persists changes to an existing run. Stage records are persisted
// separately via UpdateStage and AppendAttempt.
func (s *Store) Update(ctx context.Context, run *Run) error {
	if run == nil {
		return errors.New("run is nil")
	}
	run.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE runs
         SET source_path = ?, fingerprint = ?, status = ?, error_message = ?,
             updated_at = ?, completed_at = ?, last_heartbeat = ?, model_path = ?
         WHERE id = ?`,
		run.SourcePath,
		nullableString(run.Fingerprint),
		run.Status,
		nullableString(run.ErrorMessage),
		run.UpdatedAt.Format(time.RFC3339Nano),
		nullableTime(run.CompletedAt),
		nullableTime(run.LastHeartbeat),
		nullableString(run.ModelPath),
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// UpdateStage persists a stage record's status and output path.
func (s *Store) UpdateStage(ctx context.Context, record *StageRecord) error {
	if record == nil {
		return errors.New("stage record is nil")
	}
	record.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE stage_records SET status = ?, output_path = ?, updated_at = ? WHERE id = ?`,
		record.Status,
		nullableString(record.OutputPath),
		record.UpdatedAt.Format(time.RFC3339Nano),
		record.ID,
	)
	if err != nil {
		return fmt.Errorf("update stage record: %w", err)
	}
	return nil
}

// AppendAttempt inserts an attempt and applies the resulting stage status in
// one transaction so readers never observe a torn stage update.
func (s *Store) AppendAttempt(ctx context.Context, record *StageRecord, attempt *Attempt) error {
	if record == nil || attempt == nil {
		return errors.New("stage record and attempt are required")
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(
		ctx,
		`INSERT INTO attempts (stage_record_id, number, started_at, ended_at, exit_code, error_message, log_tail)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		attempt.Number,
		attempt.StartedAt.UTC().Format(time.RFC3339Nano),
		nullableTime(attempt.EndedAt),
		attempt.ExitCode,
		nullableString(attempt.ErrorMessage),
		nullableString(attempt.LogTail),
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	attemptID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("attempt insert id: %w", err)
	}

	record.UpdatedAt = now
	if _, err := tx.ExecContext(
		ctx,
		`UPDATE stage_records SET status = ?, output_path = ?, updated_at = ? WHERE id = ?`,
		record.Status,
		nullableString(record.OutputPath),
		now.Format(time.RFC3339Nano),
		record.ID,
	); err != nil {
		return fmt.Errorf("update stage record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit attempt: %w", err)
	}

	attempt.ID = attemptID
	attempt.StageRecordID = record.ID
	record.Attempts = append(record.Attempts, *attempt)
	return nil
}

// NextForStatuses returns the oldest run matching any of the provided statuses.
func (s *Store) NextForStatuses(ctx context.Context, statuses ...Status) (*Run, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := makePlaceholders(len(statuses))
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = status
	}

	query := `SELECT ` + runColumns + ` FROM runs WHERE status IN (` + placeholders + `) ORDER BY created_at, id LIMIT 1`
	row := s.db.QueryRowContext(ctx, query, args...)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadStages(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// List returns runs filtered by status set (or all runs when no status is provided).
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Run, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + runColumns + ` FROM runs`
	orderClause := ` ORDER BY created_at, id`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, run := range runs {
		if err := s.loadStages(ctx, run); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

// ActiveRun returns the run currently occupying the pipeline, if any.
func (s *Store) ActiveRun(ctx context.Context) (*Run, error) {
	return s.NextForStatuses(ctx,
		StatusConverting, StatusConverted,
		StatusCleaning, StatusCleaned,
		StatusTraining, StatusTrained,
		StatusPublishing,
	)
}

// UpdateHeartbeat updates the last heartbeat timestamp for an in-flight run.
func (s *Store) UpdateHeartbeat(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE runs SET last_heartbeat = ?, updated_at = ? WHERE id = ?`,
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ReclaimStaleProcessing fails runs stuck in a processing status whose
// heartbeats expired before the cutoff. A half-finished stage subprocess
// cannot be adopted by a restarted daemon, so the run is failed rather than
// silently resumed.
func (s *Store) ReclaimStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE runs
         SET status = ?, error_message = 'reclaimed from stale processing',
             completed_at = ?, last_heartbeat = NULL, updated_at = ?
         WHERE status IN (?, ?, ?, ?) AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
		StatusFailed,
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		StatusConverting,
		StatusCleaning,
		StatusTraining,
		StatusPublishing,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale runs: %w", err)
	}
	return res.RowsAffected()
}

// FailProcessing marks every in-flight run failed with the given reason.
// Used at daemon shutdown so no run is left in a processing status.
func (s *Store) FailProcessing(ctx context.Context, reason string) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE runs
         SET status = ?, error_message = ?, completed_at = ?, last_heartbeat = NULL, updated_at = ?
         WHERE status IN (?, ?, ?, ?)`,
		StatusFailed,
		reason,
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		StatusConverting,
		StatusCleaning,
		StatusTraining,
		StatusPublishing,
	)
	if err != nil {
		return 0, fmt.Errorf("fail processing runs: %w", err)
	}
	return res.RowsAffected()
}

// RetryFailed enqueues fresh runs for failed runs. Terminal runs are never
// reopened; a retry is a new run for the same dataset. When no ids are given,
// every failed run is retried.
func (s *Store) RetryFailed(ctx context.Context, ids ...int64) (int64, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if len(ids) == 0 {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, source_path, fingerprint FROM runs WHERE status = ? ORDER BY id`, StatusFailed)
	} else {
		placeholders := makePlaceholders(len(ids))
		args := make([]any, 0, len(ids)+1)
		args = append(args, StatusFailed)
		for _, id := range ids {
			args = append(args, id)
		}
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, source_path, fingerprint FROM runs WHERE status = ? AND id IN (`+placeholders+`) ORDER BY id`, args...)
	}
	if err != nil {
		return 0, fmt.Errorf("select failed runs: %w", err)
	}

	type retryTarget struct {
		sourcePath  string
		fingerprint sql.NullString
	}
	var targets []retryTarget
	for rows.Next() {
		var (
			id          int64
			sourcePath  string
			fingerprint sql.NullString
		)
		if err := rows.Scan(&id, &sourcePath, &fingerprint); err != nil {
			rows.Close()
			return 0, err
		}
		targets = append(targets, retryTarget{sourcePath: sourcePath, fingerprint: fingerprint})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	var created int64
	for _, target := range targets {
		if _, err := s.NewRun(ctx, target.sourcePath, target.fingerprint.String); err != nil {
			return created, fmt.Errorf("enqueue retry run: %w", err)
		}
		created++
	}
	return created, nil
}

// Stats returns a count of runs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM runs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("run stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates run state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusPending:
			health.Pending += count
		case StatusFailed:
			health.Failed += count
		case StatusCompleted:
			health.Completed += count
		default:
			health.Processing += count
		}
	}
	return health, nil
}

// Remove deletes a run (and its stage records and attempts) by identifier.
func (s *Store) Remove(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ClearCompleted removes only completed runs.
func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE status = ?`, StatusCompleted)
	if err != nil {
		return 0, fmt.Errorf("clear completed: %w", err)
	}
	return res.RowsAffected()
}

// ClearFailed removes only failed runs.
func (s *Store) ClearFailed(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE status = ?`, StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("clear failed: %w", err)
	}
	return res.RowsAffected()
}

// Clear removes all runs.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs`)
	if err != nil {
		return 0, fmt.Errorf("clear runs: %w", err)
	}
	return res.RowsAffected()
}
