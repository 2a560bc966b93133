package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks configuration invariants that normalization cannot repair.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Paths.WatchDir) == "" {
		problems = append(problems, "paths.watch_dir must not be empty")
	}
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		problems = append(problems, "paths.work_dir must not be empty")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		problems = append(problems, "paths.log_dir must not be empty")
	}
	if c.Paths.WatchDir != "" && c.Paths.WatchDir == c.Paths.WorkDir {
		problems = append(problems, "paths.watch_dir and paths.work_dir must differ")
	}

	for _, stg := range []struct {
		name string
		cmd  StageCommand
	}{
		{"convert", c.Stages.Convert},
		{"clean", c.Stages.Clean},
		{"train", c.Stages.Train},
		{"publish", c.Stages.Publish},
	} {
		if len(stg.cmd.Command) == 0 || strings.TrimSpace(stg.cmd.Command[0]) == "" {
			problems = append(problems, fmt.Sprintf("stages.%s.command must not be empty", stg.name))
		}
		if stg.cmd.Timeout <= 0 {
			problems = append(problems, fmt.Sprintf("stages.%s.timeout must be positive", stg.name))
		}
		if strings.TrimSpace(stg.cmd.Output) == "" {
			problems = append(problems, fmt.Sprintf("stages.%s.output must not be empty", stg.name))
		}
	}

	switch c.Logging.Format {
	case "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q is not supported (console, json)", c.Logging.Format))
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}
