package stages

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"datamill/internal/config"
	"datamill/internal/fileutil"
	"datamill/internal/logging"
	"datamill/internal/queue"
	"datamill/internal/services"
)

// Convert normalizes the dropped dataset into CSV form. Files that are
// already CSV bypass the converter tool and are copied into the run workspace
// unchanged.
type Convert struct {
	toolStage
}

// NewConvert constructs the conversion stage handler.
func NewConvert(cfg *config.Config, logger *slog.Logger, opts ...Option) *Convert {
	return &Convert{
		toolStage: newToolStage(queue.StageConvert, cfg, logger, func(run *queue.Run) (string, error) {
			if strings.TrimSpace(run.SourcePath) == "" {
				return "", services.Wrap(
					services.ErrValidation, queue.StageConvert, "resolve input",
					"Run has no source file", nil)
			}
			return run.SourcePath, nil
		}, opts...),
	}
}

func (c *Convert) Execute(ctx context.Context, run *queue.Run) error {
	if strings.EqualFold(filepath.Ext(run.SourcePath), ".csv") {
		return c.passthrough(ctx, run)
	}
	return c.toolStage.Execute(ctx, run)
}

// passthrough copies a CSV source into the run workspace without invoking the
// converter.
func (c *Convert) passthrough(ctx context.Context, run *queue.Run) error {
	logger := logging.WithContext(ctx, c.logger)
	output := c.outputPath(run)

	if err := fileutil.CopyFile(run.SourcePath, output); err != nil {
		return &ExecError{Stage: c.name, ExitCode: -1, Err: err}
	}
	if err := verifyArtifact(output); err != nil {
		return &ExecError{Stage: c.name, ExitCode: -1, Err: err}
	}

	c.recordOutput(run, output)
	logger.Info("csv source passed through without conversion",
		logging.String("output", output))
	return nil
}
