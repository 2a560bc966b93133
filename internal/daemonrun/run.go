// Package daemonrun hosts the shared daemon runtime loop used by both the
// standalone datamilld binary and the CLI's foreground daemon command.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"datamill/internal/config"
	"datamill/internal/daemon"
	"datamill/internal/ipc"
	"datamill/internal/logging"
	"datamill/internal/queue"
	"datamill/internal/stages"
	"datamill/internal/statusfeed"
	"datamill/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	SocketPath string
}

// Run starts the datamill daemon runtime loop and blocks until the context is
// canceled or a termination signal arrives.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("prepare directories: %w", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	pidPath := filepath.Join(cfg.Paths.LogDir, "datamill.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open run store", logging.Error(err))
		return err
	}
	defer store.Close()

	workflowManager := workflow.NewManager(cfg, store, logger, statusfeed.New())
	workflowManager.Configure(BuildStages(cfg, logger))

	d, err := daemon.New(cfg, store, logger, workflowManager)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	ipcServer, err := ipc.NewServer(signalCtx, SocketPath(cfg, opts.SocketPath), d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		logger.Warn("daemon start",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check configuration and run database access"),
		)
	}

	<-signalCtx.Done()
	logger.Info("datamill daemon shutting down")
	return nil
}

// BuildStages constructs the pipeline stage handlers from configuration.
func BuildStages(cfg *config.Config, logger *slog.Logger) workflow.StageSet {
	return workflow.StageSet{
		Convert: stages.NewConvert(cfg, logger),
		Clean:   stages.NewClean(cfg, logger),
		Train:   stages.NewTrain(cfg, logger),
		Publish: stages.NewPublish(cfg, logger),
	}
}

// SocketPath resolves the IPC socket location, preferring an explicit override.
func SocketPath(cfg *config.Config, override string) string {
	if path := strings.TrimSpace(override); path != "" {
		return path
	}
	if cfg == nil {
		return filepath.Join("", "datamill.sock")
	}
	return filepath.Join(cfg.Paths.LogDir, "datamill.sock")
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
