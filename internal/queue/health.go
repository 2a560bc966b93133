package queue

import (
	"context"
	"fmt"
	"os"
	"strconv"
)

var requiredTables = []string{"schema_version", "runs", "stage_records", "attempts"}

// CheckHealth probes the run database and reports its structural state.
// It never returns an error: every failure is folded into the report so
// diagnostics keep working on a broken database.
func (s *Store) CheckHealth(ctx context.Context) DatabaseHealth {
	health := DatabaseHealth{DBPath: s.path}

	if _, err := os.Stat(s.path); err != nil {
		health.Error = fmt.Sprintf("database file not accessible: %v", err)
		return health
	}
	health.DatabaseExists = true

	if err := s.db.PingContext(ctx); err != nil {
		health.Error = fmt.Sprintf("database not readable: %v", err)
		return health
	}
	health.DatabaseReadable = true

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		health.SchemaVersion = "unknown"
		health.Error = fmt.Sprintf("read schema version: %v", err)
	} else {
		health.SchemaVersion = strconv.Itoa(version)
	}

	for _, table := range requiredTables {
		var count int
		err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&count)
		if err == nil && count > 0 {
			health.TablesPresent = append(health.TablesPresent, table)
		} else {
			health.MissingTables = append(health.MissingTables, table)
		}
	}

	var integrity string
	if err := s.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&integrity); err == nil && integrity == "ok" {
		health.IntegrityCheck = true
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM runs").Scan(&health.TotalRuns); err != nil && health.Error == "" {
		health.Error = fmt.Sprintf("count runs: %v", err)
	}

	return health
}
