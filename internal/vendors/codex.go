package vendors

import (
	"context"
	"encoding/json"

	"github.com/agor/agor/internal/common/apperr"
	"github.com/agor/agor/internal/common/logger"
	v1 "github.com/agor/agor/pkg/api/v1"
	"github.com/agor/agor/pkg/codex"
)

type codexAdapter struct {
	log       *logger.Logger
	client    *codex.Client
	threadID  string
}

func newCodexAdapter(log *logger.Logger) *codexAdapter {
	return &codexAdapter{log: log}
}

func (a *codexAdapter) Family() v1.VendorFamily { return v1.VendorCodex }

func (a *codexAdapter) Start(ctx context.Context, cfg SpawnConfig) (string, error) {
	a.client = codex.NewClient(cfg.Stdin, cfg.Stdout, a.log)
	a.client.Start(ctx)

	if _, err := a.client.Call(ctx, codex.MethodInitialize, map[string]any{}); err != nil {
		return "", apperr.Transientf("codex initialize: %v", err)
	}

	if cfg.ResumeToken != "" {
		resp, err := a.client.Call(ctx, codex.MethodThreadResume, map[string]any{"thread_id": cfg.ResumeToken})
		if err != nil {
			return "", apperr.Transientf("codex thread/resume: %v", err)
		}
		a.threadID = cfg.ResumeToken
		_ = resp
		return a.threadID, nil
	}

	resp, err := a.client.Call(ctx, codex.MethodThreadStart, map[string]any{"cwd": cfg.WorkDir})
	if err != nil {
		return "", apperr.Transientf("codex thread/start: %v", err)
	}
	var started struct {
		ThreadID string `json:"thread_id"`
	}
	if err := json.Unmarshal(resp.Result, &started); err != nil {
		return "", apperr.Internalf(err, "decode thread/start result")
	}
	a.threadID = started.ThreadID
	return a.threadID, nil
}

func (a *codexAdapter) Prompt(ctx context.Context, prompt string, events chan<- StreamEvent) error {
	done := make(chan error, 1)

	a.client.SetNotificationHandler(func(method string, params json.RawMessage) {
		switch method {
		case codex.NotifyItemAgentMessageDelta:
			var delta struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(params, &delta); err == nil && delta.Text != "" {
				events <- StreamEvent{Message: &v1.DraftMessage{
					Role:    v1.RoleAssistant,
					Content: v1.WrapString(delta.Text),
				}}
			}
		case codex.NotifyTurnCompleted:
			done <- nil
		case codex.NotifyError:
			var errData struct {
				Message string `json:"message"`
			}
			_ = json.Unmarshal(params, &errData)
			done <- apperr.Transientf("codex turn error: %s", errData.Message)
		}
	})

	a.client.SetRequestHandler(func(id interface{}, method string, params json.RawMessage) {
		if method != codex.NotifyItemCmdExecRequestApproval && method != codex.NotifyItemFileChangeRequestApproval {
			_ = a.client.SendResponse(id, nil, &codex.Error{Code: codex.MethodNotFound, Message: "unhandled request"})
			return
		}
		events <- StreamEvent{Permission: &PermissionRaised{
			ToolName: method,
			Resolve: func(allow bool) {
				decision := "approved"
				if !allow {
					decision = "denied"
				}
				_ = a.client.SendResponse(id, map[string]string{"decision": decision}, nil)
			},
		}}
	})

	if err := a.client.Notify(codex.MethodTurnStart, map[string]any{
		"thread_id": a.threadID,
		"prompt":    prompt,
	}); err != nil {
		return apperr.Transientf("codex turn/start: %v", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		events <- StreamEvent{Done: &Completion{Reason: v1.FailureNone, Err: err}}
		return err
	}
}

func (a *codexAdapter) Cancel(ctx context.Context) error {
	return a.client.Notify(codex.MethodTurnInterrupt, map[string]any{"thread_id": a.threadID})
}

func (a *codexAdapter) Close() error {
	if a.client != nil {
		a.client.Stop()
	}
	return nil
}
