package main

import (
	"context"
	"fmt"
	"strings"

	"datamill/internal/daemonrun"
)

func runDaemonProcess(cmdCtx context.Context, ctx *commandContext) error {
	if ctx == nil {
		return fmt.Errorf("command context is required")
	}

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var socketOverride string
	if ctx.socketFlag != nil {
		socketOverride = strings.TrimSpace(*ctx.socketFlag)
	}
	return daemonrun.Run(cmdCtx, cfg, daemonrun.Options{SocketPath: socketOverride})
}
