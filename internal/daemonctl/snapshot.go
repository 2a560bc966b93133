package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"datamill/internal/api"
	"datamill/internal/config"
	"datamill/internal/ipc"
	"datamill/internal/preflight"
	"datamill/internal/queue"
)

// BuildStatusSnapshot collects daemon status over IPC and falls back to direct
// store and dependency checks when the daemon is unreachable, so `datamill
// status` stays useful while the daemon is down.
func BuildStatusSnapshot(ctx context.Context, socketPath string, cfg *config.Config) (*ipc.StatusResponse, error) {
	if cfg == nil {
		return nil, errors.New("configuration not available")
	}

	status := &ipc.StatusResponse{}
	if client, err := ipc.Dial(socketPath); err == nil {
		if resp, statusErr := client.Status(); statusErr == nil && resp != nil {
			status = resp
		}
		_ = client.Close()
	}

	if !status.Running {
		status.QueueStats = offlineQueueStats(ctx, cfg, status.QueueStats)
	}
	if len(status.Dependencies) == 0 {
		status.Dependencies = resolveDependencies(cfg)
	}
	for i := range status.Dependencies {
		if strings.TrimSpace(status.Dependencies[i].Severity) == "" {
			status.Dependencies[i].Severity = severityFor(status.Dependencies[i].Available, status.Dependencies[i].Optional)
		}
	}

	status.SystemChecks = BuildSystemChecks(cfg, status.Running)
	status.DataPaths = BuildDataPathChecks(cfg)
	status.DependencySummary = BuildDependencySummary(status.Dependencies)
	return status, nil
}

// offlineQueueStats reads queue stats straight from the run database. The
// previous stats are kept when the store cannot be read.
func offlineQueueStats(ctx context.Context, cfg *config.Config, previous map[string]int) map[string]int {
	queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	store, err := queue.Open(cfg)
	if err != nil {
		return previous
	}
	defer store.Close()

	stats, err := store.Stats(queryCtx)
	if err != nil {
		return previous
	}
	merged := make(map[string]int, len(stats))
	for status, count := range stats {
		merged[string(status)] = count
	}
	return merged
}

// resolveDependencies returns current stage tool availability for status output.
func resolveDependencies(cfg *config.Config) []ipc.DependencyStatus {
	if cfg == nil {
		return nil
	}

	checks := preflight.CheckSystemDeps(cfg)
	statuses := make([]ipc.DependencyStatus, 0, len(checks))
	for _, check := range checks {
		statuses = append(statuses, ipc.DependencyStatus{
			Name:        check.Name,
			Command:     check.Command,
			Description: check.Description,
			Optional:    check.Optional,
			Available:   check.Available,
			Detail:      check.Detail,
			Severity:    severityFor(check.Available, check.Optional),
		})
	}
	return statuses
}

func severityFor(available, optional bool) string {
	switch {
	case available:
		return "ok"
	case optional:
		return "warn"
	default:
		return "error"
	}
}

// BuildSystemChecks resolves status lines combining runtime state and config.
func BuildSystemChecks(cfg *config.Config, daemonRunning bool) []api.StatusLine {
	lines := make([]api.StatusLine, 0, 3)
	if daemonRunning {
		lines = append(lines,
			api.StatusLine{Label: "Datamill", Severity: "ok", Detail: "Running"},
			api.StatusLine{Label: "Watcher", Severity: "ok", Detail: "Watching for dataset drops"})
	} else {
		lines = append(lines,
			api.StatusLine{Label: "Datamill", Severity: "warn", Detail: "Not running (run `datamill start`)"},
			api.StatusLine{Label: "Watcher", Severity: "info", Detail: "Inactive (daemon not running)"})
	}

	if strings.TrimSpace(cfg.Notifications.NtfyTopic) != "" {
		lines = append(lines, api.StatusLine{Label: "Notifications", Severity: "ok", Detail: "Configured"})
	} else {
		lines = append(lines, api.StatusLine{Label: "Notifications", Severity: "warn", Detail: "Not configured"})
	}
	return lines
}

// BuildDataPathChecks resolves configured pipeline directory readiness.
func BuildDataPathChecks(cfg *config.Config) []api.StatusLine {
	checks := []struct {
		label string
		path  string
	}{
		{"Watch", cfg.Paths.WatchDir},
		{"Work", cfg.Paths.WorkDir},
		{"Logs", cfg.Paths.LogDir},
	}

	lines := make([]api.StatusLine, 0, len(checks))
	for _, check := range checks {
		result := preflight.CheckDirectoryAccess(check.label, check.path)
		severity := "error"
		if result.Passed {
			severity = "ok"
		}
		lines = append(lines, api.StatusLine{Label: check.label, Severity: severity, Detail: result.Detail})
	}
	return lines
}

// BuildDependencySummary computes aggregate dependency readiness.
func BuildDependencySummary(deps []ipc.DependencyStatus) api.DependencySummary {
	if len(deps) == 0 {
		return api.DependencySummary{
			Severity: "info",
			Detail:   "No dependency checks configured",
		}
	}

	summary := api.DependencySummary{Total: len(deps)}
	for _, dep := range deps {
		switch {
		case dep.Available:
			summary.Available++
		case dep.Optional:
			summary.MissingOptional++
		default:
			summary.MissingRequired++
		}
	}

	switch {
	case summary.MissingRequired > 0:
		summary.Severity = "error"
	case summary.MissingOptional > 0:
		summary.Severity = "warn"
	default:
		summary.Severity = "ok"
	}
	if summary.Available == summary.Total {
		summary.Detail = fmt.Sprintf("%d/%d available", summary.Available, summary.Total)
	} else {
		summary.Detail = fmt.Sprintf("%d/%d available (missing: %d required, %d optional)",
			summary.Available, summary.Total, summary.MissingRequired, summary.MissingOptional)
	}
	return summary
}
