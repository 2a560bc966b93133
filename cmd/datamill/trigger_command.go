package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"datamill/internal/ipc"
)

func newTriggerCommand(ctx *commandContext) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "trigger <path>",
		Short: "Queue a dataset file for processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			absPath, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolve path: %w", err)
			}

			info, err := os.Stat(absPath)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("file does not exist: %s", absPath)
				}
				return fmt.Errorf("inspect file: %w", err)
			}
			if info.IsDir() {
				return fmt.Errorf("%s is a directory", absPath)
			}

			if cfg := ctx.configValue(); cfg != nil {
				ext := strings.ToLower(filepath.Ext(info.Name()))
				if !cfg.AcceptsExtension(ext) {
					return fmt.Errorf("unsupported file extension %q", ext)
				}
			}

			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Trigger(absPath, force)
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, resp)
				}
				if resp.Created {
					fmt.Fprintf(cmd.OutOrStdout(), "Queued run #%d (%s)\n", resp.Run.ID, filepath.Base(absPath))
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Run #%d already covers %s (status: %s)\n", resp.Run.ID, filepath.Base(absPath), resp.Run.Status)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Queue even if a run already exists for this file")
	return cmd
}
