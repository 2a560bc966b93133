package stages

import (
	"log/slog"

	"datamill/internal/config"
	"datamill/internal/queue"
)

// Clean runs the data cleaning tool over the converted dataset.
type Clean struct {
	toolStage
}

// NewClean constructs the cleaning stage handler.
func NewClean(cfg *config.Config, logger *slog.Logger, opts ...Option) *Clean {
	return &Clean{
		toolStage: newToolStage(queue.StageClean, cfg, logger, func(run *queue.Run) (string, error) {
			return stageOutput(run, queue.StageConvert)
		}, opts...),
	}
}
