package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a pipeline run.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConverting Status = "converting"
	StatusConverted  Status = "converted"
	StatusCleaning   Status = "cleaning"
	StatusCleaned    Status = "cleaned"
	StatusTraining   Status = "training"
	StatusTrained    Status = "trained"
	StatusPublishing Status = "publishing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// CancelReason is the error message set when a run is canceled by an operator.
const CancelReason = "canceled by operator"

// DaemonStopReason is the error message set when runs are failed due to daemon shutdown.
const DaemonStopReason = "daemon stopped"

var allStatuses = []Status{
	StatusPending,
	StatusConverting,
	StatusConverted,
	StatusCleaning,
	StatusCleaned,
	StatusTraining,
	StatusTrained,
	StatusPublishing,
	StatusCompleted,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var processingStatuses = map[Status]struct{}{
	StatusConverting: {},
	StatusCleaning:   {},
	StatusTraining:   {},
	StatusPublishing: {},
}

// StageStatus represents the lifecycle of one stage record within a run.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
)

// Stage names in pipeline order.
const (
	StageConvert = "convert"
	StageClean   = "clean"
	StageTrain   = "train"
	StagePublish = "publish"
)

// StageNames returns the fixed stage sequence every run executes.
func StageNames() []string {
	return []string{StageConvert, StageClean, StageTrain, StagePublish}
}

// Run represents one pipeline execution persisted in SQLite.
type Run struct {
	ID            int64
	UUID          string
	SourcePath    string
	Fingerprint   string
	Status        Status
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
	LastHeartbeat *time.Time
	ModelPath     string

	// Stages is populated on reads in pipeline order.
	Stages []*StageRecord
}

// StageRecord tracks attempt history and output for one stage of a run.
type StageRecord struct {
	ID         int64
	RunID      int64
	Name       string
	Status     StageStatus
	OutputPath string
	UpdatedAt  time.Time

	Attempts []Attempt
}

// Attempt records a single execution try of a stage.
type Attempt struct {
	ID            int64
	StageRecordID int64
	Number        int
	StartedAt     time.Time
	EndedAt       *time.Time
	ExitCode      int
	ErrorMessage  string
	LogTail       string
}

// AllStatuses returns the ordered list of known run statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsProcessing returns true when the status reflects an in-flight stage.
func (r Run) IsProcessing() bool {
	_, ok := processingStatuses[r.Status]
	return ok
}

// IsProcessingStatus reports whether a status reflects an in-flight stage.
func IsProcessingStatus(status Status) bool {
	_, ok := processingStatuses[status]
	return ok
}

// IsTerminal reports whether a status is final for its run.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsActive reports whether the run occupies the pipeline: it has started and
// not yet reached a terminal status.
func (s Status) IsActive() bool {
	return !s.IsTerminal() && s != StatusPending
}

// Coarse maps the fine-grained run status onto the four externally visible
// states: pending, running, succeeded, failed.
func (s Status) Coarse() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCompleted:
		return "succeeded"
	case StatusFailed:
		return "failed"
	default:
		return "running"
	}
}

// StageRecordFor returns the record for the named stage, if present.
func (r *Run) StageRecordFor(name string) *StageRecord {
	for _, record := range r.Stages {
		if record.Name == name {
			return record
		}
	}
	return nil
}

// SetFailed marks the run as failed with the given error message.
func (r *Run) SetFailed(message string) {
	now := time.Now().UTC()
	r.Status = StatusFailed
	r.ErrorMessage = message
	r.CompletedAt = &now
	r.LastHeartbeat = nil
}

// SetCompleted marks the run as successfully finished.
func (r *Run) SetCompleted() {
	now := time.Now().UTC()
	r.Status = StatusCompleted
	r.ErrorMessage = ""
	r.CompletedAt = &now
	r.LastHeartbeat = nil
}

// DatabaseHealth captures diagnostic information about the run database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    string
	TablesPresent    []string
	MissingTables    []string
	IntegrityCheck   bool
	TotalRuns        int
	Error            string
}

// HealthSummary describes aggregated run counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Failed     int
	Completed  int
}
