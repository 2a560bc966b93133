package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

const defaultLogTailBytes = 16 * 1024

// Spec describes one external tool invocation. Command is an argv template;
// the placeholders {input} and {output} are expanded before execution.
type Spec struct {
	Command    []string
	InputPath  string
	OutputPath string
	Timeout    time.Duration
	WorkDir    string
	Env        []string
}

// Result captures the outcome of a tool invocation. A timeout is reported the
// same way as a non-zero exit: Success false with ExitCode set.
type Result struct {
	Success  bool
	ExitCode int
	TimedOut bool
	Duration time.Duration
	LogTail  string
}

// Executor runs external tools. The concrete implementation forks real
// processes; tests may substitute their own.
type Executor interface {
	Run(ctx context.Context, spec Spec) (Result, error)
}

// Runner executes stage tools as subprocesses in their own process group so a
// timeout or cancellation never leaves orphaned children behind.
type Runner struct {
	logTailBytes int
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogTailBytes bounds how much trailing tool output is retained.
func WithLogTailBytes(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.logTailBytes = n
		}
	}
}

// New constructs a Runner.
func New(opts ...Option) *Runner {
	r := &Runner{logTailBytes: defaultLogTailBytes}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ExpandArgs substitutes {input} and {output} placeholders in an argv template.
func ExpandArgs(template []string, inputPath, outputPath string) []string {
	expanded := make([]string, len(template))
	for i, arg := range template {
		arg = strings.ReplaceAll(arg, "{input}", inputPath)
		arg = strings.ReplaceAll(arg, "{output}", outputPath)
		expanded[i] = arg
	}
	return expanded
}

// Run executes the spec and waits for completion. An error return means the
// tool could not be run at all; tool failures come back in the Result.
func (r *Runner) Run(ctx context.Context, spec Spec) (Result, error) {
	argv := ExpandArgs(spec.Command, spec.InputPath, spec.OutputPath)
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return Result{}, errors.New("command template is empty")
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if spec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...) //nolint:gosec
	cmd.Dir = spec.WorkDir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return killProcessGroup(cmd)
	}
	cmd.WaitDelay = 5 * time.Second

	tail := newTailBuffer(r.logTailBytes)
	cmd.Stdout = tail
	cmd.Stderr = tail

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start %s: %w", argv[0], err)
	}

	waitErr := cmd.Wait()
	result := Result{
		Duration: time.Since(started),
		LogTail:  tail.String(),
	}

	if waitErr == nil {
		result.Success = true
		return result, nil
	}

	if runCtx.Err() != nil && ctx.Err() == nil {
		result.TimedOut = true
	}

	var exitErr *exec.ExitError
	switch {
	case errors.As(waitErr, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		result.ExitCode = -1
	}

	// Cancellation by the caller is an error, not a tool failure.
	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	return result, nil
}

// killProcessGroup sends SIGKILL to the command's process group so helper
// processes forked by the tool die with it.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	pgid, err := unix.Getpgid(cmd.Process.Pid)
	if err != nil {
		return cmd.Process.Kill()
	}
	if err := unix.Kill(-pgid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}
	return nil
}
