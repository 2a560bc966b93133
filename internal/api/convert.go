package api

import (
	"slices"
	"time"

	"datamill/internal/queue"
	"datamill/internal/stage"
	"datamill/internal/workflow"
)

// FromRun converts a queue record to its API representation.
func FromRun(run *queue.Run) Run {
	if run == nil {
		return Run{}
	}

	dto := Run{
		ID:           run.ID,
		UUID:         run.UUID,
		SourcePath:   run.SourcePath,
		Status:       string(run.Status),
		CoarseStatus: run.Status.Coarse(),
		ErrorMessage: run.ErrorMessage,
		Fingerprint:  run.Fingerprint,
		ModelPath:    run.ModelPath,
		CreatedAt:    FormatTime(run.CreatedAt),
		UpdatedAt:    FormatTime(run.UpdatedAt),
	}
	if run.CompletedAt != nil {
		dto.CompletedAt = FormatTime(*run.CompletedAt)
	}
	dto.Stages = make([]Stage, 0, len(run.Stages))
	for _, record := range run.Stages {
		if record == nil {
			continue
		}
		dto.Stages = append(dto.Stages, fromStageRecord(record))
	}
	return dto
}

// FromRuns converts a slice of queue records into API DTOs.
func FromRuns(runs []*queue.Run) []Run {
	if len(runs) == 0 {
		return nil
	}
	out := make([]Run, 0, len(runs))
	for _, run := range runs {
		out = append(out, FromRun(run))
	}
	return out
}

func fromStageRecord(record *queue.StageRecord) Stage {
	dto := Stage{
		Name:       record.Name,
		Status:     string(record.Status),
		OutputPath: record.OutputPath,
		UpdatedAt:  FormatTime(record.UpdatedAt),
	}
	if len(record.Attempts) > 0 {
		dto.Attempts = make([]Attempt, 0, len(record.Attempts))
		for _, attempt := range record.Attempts {
			a := Attempt{
				Number:       attempt.Number,
				ExitCode:     attempt.ExitCode,
				ErrorMessage: attempt.ErrorMessage,
				LogTail:      attempt.LogTail,
				StartedAt:    FormatTime(attempt.StartedAt),
			}
			if attempt.EndedAt != nil {
				a.EndedAt = FormatTime(*attempt.EndedAt)
			}
			dto.Attempts = append(dto.Attempts, a)
		}
	}
	return dto
}

// FromStatusSummary converts a workflow status summary to API payload.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	wf := WorkflowStatus{
		Running:     summary.Running,
		QueueStats:  MergeQueueStats(summary.QueueStats),
		StageHealth: StageHealthSlice(summary.StageHealth),
	}
	if summary.LastError != "" {
		wf.LastError = summary.LastError
	}
	if summary.LastRun != nil {
		last := FromRun(summary.LastRun)
		wf.LastRun = &last
	}
	return wf
}

// MergeQueueStats produces a string-keyed representation of run stats.
func MergeQueueStats(stats map[queue.Status]int) map[string]int {
	out := make(map[string]int, len(stats))
	for status, count := range stats {
		out[string(status)] = count
	}
	return out
}

// StageHealthSlice converts a stage health map into a deterministic slice.
func StageHealthSlice(health map[string]stage.Health) []StageHealth {
	if len(health) == 0 {
		return nil
	}
	names := make([]string, 0, len(health))
	for name := range health {
		names = append(names, name)
	}
	slices.Sort(names)

	out := make([]StageHealth, 0, len(names))
	for _, name := range names {
		h := health[name]
		out = append(out, StageHealth{Name: name, Ready: h.Ready, Detail: h.Detail})
	}
	return out
}

// FormatTime converts a time to RFC3339 or returns empty string.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
