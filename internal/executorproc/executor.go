// Package executorproc implements the Executor Process (C5): the
// standalone-binary lifecycle spec.md §4.5 describes, driven by an
// internal/rpcclient.Client duplex channel rather than pipes back to the
// daemon that spawned it (spec.md §4.4 step 3's rationale, §5).
package executorproc

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/agor/agor/internal/common/logger"
	"github.com/agor/agor/internal/mcp"
	"github.com/agor/agor/internal/rpcclient"
	"github.com/agor/agor/internal/vendors"
	v1 "github.com/agor/agor/pkg/api/v1"
)

// Config is everything the Executor binary was invoked with (spec.md §4.5:
// "session token, session id, task id, prompt, tool family, optional
// permission mode, daemon URL").
type Config struct {
	DaemonURL      string
	SessionToken   string
	SessionID      string
	TaskID         string
	Prompt         string
	PermissionMode string
}

// DaemonClient is the subset of rpcclient.Client the executor drives. A
// narrow interface so tests can substitute a fake without a live daemon.
type DaemonClient interface {
	GetSession(ctx context.Context, sessionID string) (*v1.Session, error)
	ResolveMCPServers(ctx context.Context, sessionID string) ([]v1.ResolvedMCPServer, error)
	CreateMessage(ctx context.Context, draft v1.DraftMessage) (*v1.Message, error)
	PatchSessionAgentID(ctx context.Context, sessionID, agentSessionID string) error
	PatchTask(ctx context.Context, taskID string, req rpcclient.TaskPatchRequest) (*v1.Task, error)
	SubscribeCancel(ctx context.Context, taskID string) (<-chan struct{}, error)
	RequestPermission(ctx context.Context, taskID, toolName, inputPreview string) (bool, error)
}

// AdapterFactory constructs the Vendor Tool Adapter for a family; satisfied
// by vendors.New in production, faked in tests.
type AdapterFactory func(family v1.VendorFamily, log *logger.Logger) (vendors.Adapter, error)

// Run drives one Task end to end (spec.md §4.5 steps 1-7) and returns the
// error that should determine the process's exit code: nil when the Task
// completed or was cancelled, otherwise the error that stopped it, including
// an adapter's prompt or completion error (which is also recorded against
// the Task as failed).
func Run(ctx context.Context, cfg Config, client DaemonClient, newAdapter AdapterFactory, log *logger.Logger) error {
	log = log.WithFields(zap.String("component", "executor"), zap.String("task_id", cfg.TaskID))

	session, err := client.GetSession(ctx, cfg.SessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	selected, err := client.ResolveMCPServers(ctx, cfg.SessionID)
	if err != nil {
		return fmt.Errorf("resolve mcp servers: %w", err)
	}
	allowList := splitEnvKeys(os.Getenv("AGOR_USER_ENV_KEYS"))
	env := mcp.FilterEnv(os.Environ(), allowList)
	resolved := mcp.ResolveTemplates(selected, env)
	for _, rs := range resolved {
		if rs.Invalid {
			log.Warn("mcp server resolution failed", zap.String("server", rs.Server.Name), zap.String("reason", rs.InvalidReason))
		}
	}

	adapter, err := newAdapter(session.Vendor, log)
	if err != nil {
		_, _ = client.PatchTask(ctx, cfg.TaskID, rpcclient.TaskPatchRequest{Status: v1.TaskFailed})
		return fmt.Errorf("construct adapter: %w", err)
	}
	defer func() { _ = adapter.Close() }()

	runCtx, abort := context.WithCancel(ctx)
	defer abort()

	var cancelled bool
	var cancelledMu sync.Mutex
	if cancelCh, err := client.SubscribeCancel(ctx, cfg.TaskID); err != nil {
		log.Warn("cancel subscription unavailable, relying on local context only", zap.Error(err))
	} else {
		go func() {
			select {
			case <-cancelCh:
				cancelledMu.Lock()
				cancelled = true
				cancelledMu.Unlock()
				_ = adapter.Cancel(runCtx)
				abort()
			case <-runCtx.Done():
			}
		}()
	}

	resumeToken := ""
	if session.AgentSessionID != nil {
		resumeToken = *session.AgentSessionID
	}

	spawnCfg := vendors.SpawnConfig{
		WorkDir:      session.WorkDir,
		Model:        session.Model,
		AllowedTools: session.AllowedTools,
		ResumeToken:  resumeToken,
		MCPServers:   resolved,
	}

	newResumeToken, err := adapter.Start(runCtx, spawnCfg)
	if err != nil {
		_, _ = client.PatchTask(ctx, cfg.TaskID, rpcclient.TaskPatchRequest{Status: v1.TaskFailed})
		return fmt.Errorf("start adapter: %w", err)
	}
	if newResumeToken != "" && newResumeToken != resumeToken {
		if err := client.PatchSessionAgentID(ctx, cfg.SessionID, newResumeToken); err != nil {
			log.Warn("failed to persist vendor resume token", zap.Error(err))
		}
	}

	events := make(chan vendors.StreamEvent, 16)
	promptErrCh := make(chan error, 1)
	go func() {
		promptErrCh <- adapter.Prompt(runCtx, cfg.Prompt, events)
		close(events)
	}()

	var toolUseCount, inputTokens, outputTokens int
	var resolvedModel string
	var completion *vendors.Completion

	for ev := range events {
		switch {
		case ev.Message != nil:
			draft := *ev.Message
			draft.SessionID = cfg.SessionID
			draft.TaskID = &cfg.TaskID
			if _, err := client.CreateMessage(ctx, draft); err != nil {
				log.Warn("failed to append message", zap.Error(err))
			}
			if draft.ToolUses != nil {
				toolUseCount += draft.ToolUses.Count
			}
			if draft.Metadata.Model != "" {
				resolvedModel = draft.Metadata.Model
			}
			inputTokens += draft.Metadata.InputTokens
			outputTokens += draft.Metadata.OutputTokens

		case ev.Permission != nil:
			allow, err := client.RequestPermission(ctx, cfg.TaskID, ev.Permission.ToolName, ev.Permission.InputPreview)
			if err != nil {
				log.Warn("permission request failed, denying", zap.Error(err))
				allow = false
			}
			ev.Permission.Resolve(allow)

		case ev.Done != nil:
			completion = ev.Done
		}
	}

	promptErr := <-promptErrCh

	cancelledMu.Lock()
	wasCancelled := cancelled
	cancelledMu.Unlock()

	patch := rpcclient.TaskPatchRequest{
		ToolUseCount: &toolUseCount,
		InputTokens:  &inputTokens,
		OutputTokens: &outputTokens,
	}
	if resolvedModel != "" {
		patch.ResolvedModel = &resolvedModel
	}

	switch {
	case wasCancelled:
		patch.Status = v1.TaskFailed
		patch.Reason = v1.FailureCancelled
	case completion != nil && completion.Err != nil:
		patch.Status = v1.TaskFailed
		patch.Reason = completion.Reason
	case promptErr != nil:
		patch.Status = v1.TaskFailed
	default:
		patch.Status = v1.TaskCompleted
		if completion != nil {
			if completion.ResolvedModel != "" {
				patch.ResolvedModel = &completion.ResolvedModel
			}
			patch.InputTokens = &completion.InputTokens
			patch.OutputTokens = &completion.OutputTokens
		}
	}

	if _, err := client.PatchTask(ctx, cfg.TaskID, patch); err != nil {
		return fmt.Errorf("finalize task: %w", err)
	}

	if patch.Status == v1.TaskFailed && !wasCancelled {
		if promptErr != nil {
			return promptErr
		}
		if completion != nil && completion.Err != nil {
			return completion.Err
		}
	}
	return nil
}

func splitEnvKeys(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
