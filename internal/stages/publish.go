package stages

import (
	"log/slog"

	"datamill/internal/config"
	"datamill/internal/queue"
)

// Publish hands the trained model to the serving side and produces the
// inference manifest. Once this stage succeeds the run's model is live.
type Publish struct {
	toolStage
}

// NewPublish constructs the publishing stage handler.
func NewPublish(cfg *config.Config, logger *slog.Logger, opts ...Option) *Publish {
	return &Publish{
		toolStage: newToolStage(queue.StagePublish, cfg, logger, func(run *queue.Run) (string, error) {
			return stageOutput(run, queue.StageTrain)
		}, opts...),
	}
}
