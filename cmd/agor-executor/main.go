// Package main is the entry point for agor-executor, the standalone
// Executor Process (C5) binary the Task Scheduler (C4) spawns once per
// Task (spec.md §4.4 step 3, §4.5, §6 "Executor invocation").
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/agor/agor/internal/common/apperr"
	"github.com/agor/agor/internal/common/logger"
	"github.com/agor/agor/internal/executorproc"
	"github.com/agor/agor/internal/rpcclient"
	"github.com/agor/agor/internal/vendors"
)

// Exit codes per spec.md §6: 0 success, 1 generic failure, 2 usage error,
// 3 auth error.
const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
	exitAuth   = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	fs := flag.NewFlagSet("agor-executor", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	daemonURL := fs.String("daemon-url", "", "base URL of the agord RPC surface")
	sessionToken := fs.String("session-token", "", "bearer token minted for this Task")
	sessionID := fs.String("session-id", "", "Session this Task belongs to")
	taskID := fs.String("task-id", "", "Task to drive")
	prompt := fs.String("prompt", "", "prompt text to send to the vendor tool")
	permissionMode := fs.String("permission-mode", "", "optional permission mode override")
	tool := fs.String("tool", "", "vendor family hint (the Session record, not this flag, selects the adapter)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return exitUsage
	}

	missing := make([]string, 0, 6)
	for name, val := range map[string]string{
		"daemon-url":    *daemonURL,
		"session-token": *sessionToken,
		"session-id":    *sessionID,
		"task-id":       *taskID,
		"prompt":        *prompt,
		"tool":          *tool,
	} {
		if val == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		fmt.Fprintf(os.Stderr, "agor-executor: missing required flag(s): %v\n", missing)
		return exitUsage
	}

	log := logger.Default().WithFields(
		zap.String("component", "agor-executor"),
		zap.String("task_id", *taskID),
		zap.String("session_id", *sessionID),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := rpcclient.New(*daemonURL, *sessionToken, log)

	cfg := executorproc.Config{
		DaemonURL:      *daemonURL,
		SessionToken:   *sessionToken,
		SessionID:      *sessionID,
		TaskID:         *taskID,
		Prompt:         *prompt,
		PermissionMode: *permissionMode,
	}

	if err := executorproc.Run(ctx, cfg, client, vendors.New, log); err != nil {
		log.Error("executor run failed", zap.Error(err))
		switch apperr.KindOf(err) {
		case apperr.Auth, apperr.Forbidden:
			return exitAuth
		default:
			return exitFailed
		}
	}

	return exitOK
}
