package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"datamill/internal/ipc"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect and manage pipeline runs",
	}

	runsCmd.AddCommand(newRunsListCommand(ctx))
	runsCmd.AddCommand(newRunsShowCommand(ctx))
	runsCmd.AddCommand(newRunsRetryCommand(ctx))
	runsCmd.AddCommand(newRunsStopCommand(ctx))
	runsCmd.AddCommand(newRunsClearCommand(ctx))
	runsCmd.AddCommand(newRunsHealthCommand(ctx))

	return runsCmd
}

func newRunsListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pipeline runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.RunList(listStatuses)
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, resp)
				}
				if len(resp.Runs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded")
					return nil
				}
				table := renderTable(
					[]string{"ID", "Dataset", "Status", "Created", "Fingerprint"},
					buildRunListRows(resp.Runs),
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
				)
				fmt.Fprint(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&listStatuses, "status", "s", nil, "Filter by run status (repeatable)")
	return cmd
}

func newRunsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <runID>",
		Short: "Show run details including stages and attempts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid run id %q", args[0])
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.RunDescribe(id)
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, resp)
				}
				printRunDetail(cmd, resp.Run)
				return nil
			})
		},
	}
}

func printRunDetail(cmd *cobra.Command, run ipc.Run) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run #%d (%s)\n", run.ID, run.UUID)
	fmt.Fprintf(out, "Dataset: %s\n", run.SourcePath)
	fmt.Fprintf(out, "Status: %s (%s)\n", formatStatusLabel(run.Status), run.CoarseStatus)
	if run.ErrorMessage != "" {
		fmt.Fprintf(out, "Error: %s\n", run.ErrorMessage)
	}
	if run.Fingerprint != "" {
		fmt.Fprintf(out, "Fingerprint: %s\n", run.Fingerprint)
	}
	if run.ModelPath != "" {
		fmt.Fprintf(out, "Model: %s\n", run.ModelPath)
	}
	fmt.Fprintf(out, "Created: %s\n", formatDisplayTime(run.CreatedAt))
	fmt.Fprintf(out, "Updated: %s\n", formatDisplayTime(run.UpdatedAt))
	if run.CompletedAt != "" {
		fmt.Fprintf(out, "Completed: %s\n", formatDisplayTime(run.CompletedAt))
	}

	if len(run.Stages) == 0 {
		return
	}
	rows := make([][]string, 0, len(run.Stages))
	for _, stage := range run.Stages {
		rows = append(rows, []string{
			stage.Name,
			formatStatusLabel(stage.Status),
			stage.OutputPath,
			formatDisplayTime(stage.UpdatedAt),
		})
	}
	fmt.Fprintln(out)
	table := renderTable(
		[]string{"Stage", "Status", "Output", "Updated"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft},
	)
	fmt.Fprintln(out, table)

	for _, stage := range run.Stages {
		for _, attempt := range stage.Attempts {
			if attempt.ErrorMessage == "" && attempt.LogTail == "" {
				continue
			}
			fmt.Fprintf(out, "\n%s attempt %d (exit %d)\n", stage.Name, attempt.Number, attempt.ExitCode)
			if attempt.ErrorMessage != "" {
				fmt.Fprintf(out, "  error: %s\n", attempt.ErrorMessage)
			}
			if attempt.LogTail != "" {
				for _, line := range strings.Split(strings.TrimRight(attempt.LogTail, "\n"), "\n") {
					fmt.Fprintf(out, "  | %s\n", line)
				}
			}
		}
	}
}

func newRunsRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [runID...]",
		Short: "Requeue failed runs",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parsePositiveIDs(args)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.RetryFailed(ids)
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, resp)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d failed runs\n", resp.Created)
				return nil
			})
		},
	}
}

func newRunsStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <runID>",
		Short: "Stop a pending or running run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid run id %q", args[0])
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.RunStop(id)
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, resp)
				}
				if resp.Stopped {
					fmt.Fprintf(cmd.OutOrStdout(), "Run %d stop requested\n", id)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Run %d was not stopped\n", id)
				}
				return nil
			})
		},
	}
}

func newRunsClearCommand(ctx *commandContext) *cobra.Command {
	var clearCompleted bool
	var clearFailed bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove recorded runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if clearCompleted && clearFailed {
				return errors.New("specify only one of --completed or --failed")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				out := cmd.OutOrStdout()
				switch {
				case clearCompleted:
					resp, err := client.QueueClearCompleted()
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Cleared %d completed runs\n", resp.Removed)
				case clearFailed:
					resp, err := client.QueueClearFailed()
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Cleared %d failed runs\n", resp.Removed)
				default:
					resp, err := client.QueueClear()
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Cleared %d runs\n", resp.Removed)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&clearCompleted, "completed", false, "Remove only completed runs")
	cmd.Flags().BoolVar(&clearFailed, "failed", false, "Remove only failed runs")
	return cmd
}

func newRunsHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show run queue health summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				health, err := client.QueueHealth()
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, health)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Total: %d\nPending: %d\nProcessing: %d\nFailed: %d\nCompleted: %d\n",
					health.Total,
					health.Pending,
					health.Processing,
					health.Failed,
					health.Completed,
				)
				return nil
			})
		},
	}
}

func parsePositiveIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid run id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
