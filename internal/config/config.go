package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	WatchDir string `toml:"watch_dir"`
	WorkDir  string `toml:"work_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// StageCommand describes how one pipeline stage is executed as a subprocess.
// Command is the argv template; {input} and {output} placeholders are expanded
// at invocation time. Output is the artifact file name the stage must produce
// inside its output directory.
type StageCommand struct {
	Command []string `toml:"command"`
	Timeout int      `toml:"timeout"`
	Output  string   `toml:"output"`
}

// Stages holds the per-stage execution settings in pipeline order.
type Stages struct {
	Convert StageCommand `toml:"convert"`
	Clean   StageCommand `toml:"clean"`
	Train   StageCommand `toml:"train"`
	Publish StageCommand `toml:"publish"`
}

// Pipeline contains retry policy and input acceptance settings.
type Pipeline struct {
	AcceptedExtensions []string `toml:"accepted_extensions"`
	MaxAttempts        int      `toml:"max_attempts"`
	BackoffBaseSeconds int      `toml:"backoff_base_seconds"`
	BackoffMultiplier  float64  `toml:"backoff_multiplier"`
	LogTailBytes       int      `toml:"log_tail_bytes"`
}

// Watcher contains drop-directory polling settings.
type Watcher struct {
	PollInterval       int `toml:"poll_interval"`
	ErrorBackoffMax    int `toml:"error_backoff_max"`
	StabilityIntervals int `toml:"stability_intervals"`
}

// Workflow contains daemon timing and intervals.
type Workflow struct {
	QueuePollInterval  int `toml:"queue_poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	HeartbeatInterval  int `toml:"heartbeat_interval"`
	HeartbeatTimeout   int `toml:"heartbeat_timeout"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Runs           bool   `toml:"runs"`
	ModelReady     bool   `toml:"model_ready"`
	Errors         bool   `toml:"errors"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for datamill.
//
// Configuration sections by subsystem:
//   - Paths: watch/work/log directories and API bind address
//   - Stages: per-stage command templates, timeouts, output artifacts
//   - Pipeline: accepted input extensions and retry policy
//   - Watcher: drop-directory polling cadence
//   - Workflow: orchestrator polling intervals and heartbeats
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Stages        Stages        `toml:"stages"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Watcher       Watcher       `toml:"watcher"`
	Workflow      Workflow      `toml:"workflow"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/datamill/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath("~/.config/datamill/config.toml")
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("datamill.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.WatchDir, c.Paths.WorkDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// RunDir returns the workspace directory for a single pipeline run.
func (c *Config) RunDir(runUUID string) string {
	return filepath.Join(c.Paths.WorkDir, "runs", runUUID)
}

// StageFor returns the command settings for a named stage.
func (c *Config) StageFor(name string) (StageCommand, bool) {
	switch name {
	case "convert":
		return c.Stages.Convert, true
	case "clean":
		return c.Stages.Clean, true
	case "train":
		return c.Stages.Train, true
	case "publish":
		return c.Stages.Publish, true
	default:
		return StageCommand{}, false
	}
}

// AcceptsExtension reports whether the pipeline accepts a dataset file extension.
func (c *Config) AcceptsExtension(ext string) bool {
	normalized := strings.ToLower(strings.TrimSpace(ext))
	for _, accepted := range c.Pipeline.AcceptedExtensions {
		if normalized == accepted {
			return true
		}
	}
	return false
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
