package preflight

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"datamill/internal/config"
	"datamill/internal/deps"
	"datamill/internal/queue"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckSystemDeps evaluates the stage tool binaries for the given config.
// Both the daemon and the CLI status command use this to avoid duplicating
// the requirements list.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	if cfg == nil {
		return nil
	}
	requirements := make([]deps.Requirement, 0, len(queue.StageNames()))
	for _, name := range queue.StageNames() {
		command, ok := cfg.StageFor(name)
		if !ok {
			continue
		}
		binary := ""
		if len(command.Command) > 0 {
			binary = command.Command[0]
		}
		requirements = append(requirements, deps.Requirement{
			Name:        name,
			Command:     binary,
			Description: fmt.Sprintf("Required for the %s stage", name),
		})
	}
	return deps.CheckBinaries(requirements)
}
