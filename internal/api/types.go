package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Run describes a pipeline run in a transport-friendly format.
type Run struct {
	ID           int64   `json:"id"`
	UUID         string  `json:"uuid"`
	SourcePath   string  `json:"sourcePath"`
	Status       string  `json:"status"`
	CoarseStatus string  `json:"coarseStatus"`
	ErrorMessage string  `json:"errorMessage,omitempty"`
	Fingerprint  string  `json:"fingerprint,omitempty"`
	ModelPath    string  `json:"modelPath,omitempty"`
	CreatedAt    string  `json:"createdAt,omitempty"`
	UpdatedAt    string  `json:"updatedAt,omitempty"`
	CompletedAt  string  `json:"completedAt,omitempty"`
	Stages       []Stage `json:"stages"`
}

// Stage describes one stage record of a run.
type Stage struct {
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	OutputPath string    `json:"outputPath,omitempty"`
	UpdatedAt  string    `json:"updatedAt,omitempty"`
	Attempts   []Attempt `json:"attempts,omitempty"`
}

// Attempt describes a single execution try of a stage.
type Attempt struct {
	Number       int    `json:"number"`
	ExitCode     int    `json:"exitCode"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	LogTail      string `json:"logTail,omitempty"`
	StartedAt    string `json:"startedAt,omitempty"`
	EndedAt      string `json:"endedAt,omitempty"`
}

// WorkflowStatus summarizes workflow execution state.
type WorkflowStatus struct {
	Running     bool           `json:"running"`
	QueueStats  map[string]int `json:"queueStats"`
	LastError   string         `json:"lastError,omitempty"`
	LastRun     *Run           `json:"lastRun,omitempty"`
	StageHealth []StageHealth  `json:"stageHealth"`
}

// StageHealth mirrors readiness reporting for workflow stages.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// DependencyStatus captures availability of an external stage tool.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
	Severity    string `json:"severity,omitempty"`
}

// StatusLine is a labeled status entry for CLI status output.
type StatusLine struct {
	Label    string `json:"label"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
}

// DependencySummary aggregates dependency readiness for status output.
type DependencySummary struct {
	Total           int    `json:"total"`
	Available       int    `json:"available"`
	MissingRequired int    `json:"missingRequired"`
	MissingOptional int    `json:"missingOptional"`
	Severity        string `json:"severity"`
	Detail          string `json:"detail"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	RunDBPath    string             `json:"runDbPath"`
	LockFilePath string             `json:"lockFilePath"`
	Workflow     WorkflowStatus     `json:"workflow"`
	Dependencies []DependencyStatus `json:"dependencies"`
}

// RunListResponse wraps a collection of runs for API responses.
type RunListResponse struct {
	Runs []Run `json:"runs"`
}

// RunResponse wraps a single run.
type RunResponse struct {
	Run Run `json:"run"`
}

// TriggerResponse reports the outcome of a manual trigger request.
type TriggerResponse struct {
	Run     Run  `json:"run"`
	Created bool `json:"created"`
}

// ModelResponse reports the most recently published model artifact.
type ModelResponse struct {
	RunID       int64  `json:"runId"`
	RunUUID     string `json:"runUuid"`
	SourcePath  string `json:"sourcePath"`
	ModelPath   string `json:"modelPath"`
	CompletedAt string `json:"completedAt,omitempty"`
}
