package stages

import (
	"context"
	"log/slog"

	"datamill/internal/config"
	"datamill/internal/queue"
)

// Train runs model training over the cleaned dataset and records the produced
// model artifact on the run.
type Train struct {
	toolStage
}

// NewTrain constructs the training stage handler.
func NewTrain(cfg *config.Config, logger *slog.Logger, opts ...Option) *Train {
	return &Train{
		toolStage: newToolStage(queue.StageTrain, cfg, logger, func(run *queue.Run) (string, error) {
			return stageOutput(run, queue.StageClean)
		}, opts...),
	}
}

func (t *Train) Execute(ctx context.Context, run *queue.Run) error {
	if err := t.toolStage.Execute(ctx, run); err != nil {
		return err
	}
	run.ModelPath = t.outputPath(run)
	return nil
}
