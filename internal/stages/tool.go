package stages

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"datamill/internal/config"
	"datamill/internal/logging"
	"datamill/internal/queue"
	"datamill/internal/runner"
	"datamill/internal/services"
	"datamill/internal/stage"
)

// ExecError reports a failed tool invocation with enough detail for an
// attempt record.
type ExecError struct {
	Stage    string
	ExitCode int
	TimedOut bool
	LogTail  string
	Err      error
}

func (e *ExecError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("%s stage timed out", e.Stage)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s stage exited with code %d", e.Stage, e.ExitCode)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// toolStage is the shared execution core for the pipeline stages: output
// directory preparation, input resolution, tool invocation, and artifact
// verification.
type toolStage struct {
	name    string
	cfg     *config.Config
	logger  *slog.Logger
	exec    runner.Executor
	command config.StageCommand

	// inputFor resolves the stage's input artifact from the run.
	inputFor func(*queue.Run) (string, error)
}

// Option configures a stage handler.
type Option func(*toolStage)

// WithExecutor injects a custom tool executor (primarily for tests).
func WithExecutor(exec runner.Executor) Option {
	return func(t *toolStage) {
		if exec != nil {
			t.exec = exec
		}
	}
}

func newToolStage(name string, cfg *config.Config, logger *slog.Logger, inputFor func(*queue.Run) (string, error), opts ...Option) toolStage {
	command, _ := cfg.StageFor(name)
	stageLogger := logger
	if stageLogger != nil {
		stageLogger = stageLogger.With(logging.String(logging.FieldComponent, name))
	}
	t := toolStage{
		name:     name,
		cfg:      cfg,
		logger:   stageLogger,
		exec:     runner.New(runner.WithLogTailBytes(cfg.Pipeline.LogTailBytes)),
		command:  command,
		inputFor: inputFor,
	}
	for _, opt := range opts {
		opt(&t)
	}
	return t
}

// outputPath is where the stage's declared artifact lands for a given run.
func (t *toolStage) outputPath(run *queue.Run) string {
	return filepath.Join(t.cfg.RunDir(run.UUID), t.name, t.command.Output)
}

func (t *toolStage) Prepare(ctx context.Context, run *queue.Run) error {
	logger := logging.WithContext(ctx, t.logger)

	input, err := t.inputFor(run)
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(input); statErr != nil {
		return services.Wrap(
			services.ErrValidation, t.name, "validate input",
			fmt.Sprintf("Input artifact %s is not readable", input), statErr)
	}

	outDir := filepath.Dir(t.outputPath(run))
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return services.Wrap(
			services.ErrConfiguration, t.name, "prepare workspace",
			fmt.Sprintf("Cannot create stage output directory %s", outDir), err)
	}
	// A stale artifact from an earlier attempt must not pass verification.
	if err := os.Remove(t.outputPath(run)); err != nil && !os.IsNotExist(err) {
		return services.Wrap(
			services.ErrConfiguration, t.name, "prepare workspace",
			"Cannot clear previous stage output", err)
	}

	logger.Info("stage prepared",
		logging.String("input", input),
		logging.String("output", t.outputPath(run)))
	return nil
}

func (t *toolStage) Execute(ctx context.Context, run *queue.Run) error {
	logger := logging.WithContext(ctx, t.logger)

	input, err := t.inputFor(run)
	if err != nil {
		return err
	}
	output := t.outputPath(run)

	result, err := t.exec.Run(ctx, runner.Spec{
		Command:    t.command.Command,
		InputPath:  input,
		OutputPath: output,
		Timeout:    time.Duration(t.command.Timeout) * time.Second,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &ExecError{Stage: t.name, ExitCode: -1, LogTail: result.LogTail, Err: err}
	}
	if !result.Success {
		return &ExecError{
			Stage:    t.name,
			ExitCode: result.ExitCode,
			TimedOut: result.TimedOut,
			LogTail:  result.LogTail,
		}
	}

	if err := verifyArtifact(output); err != nil {
		return &ExecError{Stage: t.name, ExitCode: result.ExitCode, LogTail: result.LogTail, Err: err}
	}

	t.recordOutput(run, output)
	logger.Info("stage produced artifact",
		logging.String("output", output),
		logging.Duration("duration", result.Duration))
	return nil
}

func (t *toolStage) HealthCheck(ctx context.Context) stage.Health {
	if len(t.command.Command) == 0 || strings.TrimSpace(t.command.Command[0]) == "" {
		return stage.Unhealthy(t.name, "no command configured")
	}
	binary := t.command.Command[0]
	if _, err := exec.LookPath(binary); err != nil {
		return stage.Unhealthy(t.name, fmt.Sprintf("%s not found on PATH", binary))
	}
	return stage.Healthy(t.name)
}

func (t *toolStage) recordOutput(run *queue.Run, output string) {
	if record := run.StageRecordFor(t.name); record != nil {
		record.OutputPath = output
	}
}

// verifyArtifact confirms the tool actually produced its declared output.
// The original pipeline treats a clean exit without an artifact as failure.
func verifyArtifact(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("expected artifact %s was not produced", path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("artifact %s is empty", path)
	}
	return nil
}

// stageOutput resolves the succeeded output of a prior stage, enforcing the
// ordering contract: a stage never starts unless its predecessor produced an
// artifact.
func stageOutput(run *queue.Run, name string) (string, error) {
	record := run.StageRecordFor(name)
	if record == nil || record.Status != queue.StageSucceeded || record.OutputPath == "" {
		return "", services.Wrap(
			services.ErrValidation, name, "resolve output",
			fmt.Sprintf("Stage %s has no completed output", name), nil)
	}
	return record.OutputPath, nil
}
