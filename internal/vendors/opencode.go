package vendors

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agor/agor/internal/common/apperr"
	"github.com/agor/agor/internal/common/logger"
	v1 "github.com/agor/agor/pkg/api/v1"
	"github.com/agor/agor/pkg/opencode"
)

type openCodeAdapter struct {
	log       *logger.Logger
	client    *opencode.Client
	sessionID string
}

func newOpenCodeAdapter(log *logger.Logger) *openCodeAdapter {
	return &openCodeAdapter{log: log}
}

func (a *openCodeAdapter) Family() v1.VendorFamily { return v1.VendorOpenCode }

// Start waits for the OpenCode HTTP server (already launched by the
// Executor against cfg.WorkDir) to accept connections, then creates or
// forks a session per cfg.ResumeToken.
func (a *openCodeAdapter) Start(ctx context.Context, cfg SpawnConfig) (string, error) {
	baseURL := fmt.Sprintf("http://127.0.0.1:%s", openCodePort(cfg))
	password := opencode.GenerateServerPassword()
	a.client = opencode.NewClient(baseURL, cfg.WorkDir, password, a.log)

	if err := a.client.WaitForHealth(ctx); err != nil {
		return "", apperr.Transientf("opencode health check: %v", err)
	}

	if cfg.ResumeToken != "" {
		id, err := a.client.ForkSession(ctx, cfg.ResumeToken)
		if err != nil {
			return "", apperr.Transientf("opencode fork session: %v", err)
		}
		a.sessionID = id
		return a.sessionID, nil
	}

	id, err := a.client.CreateSession(ctx)
	if err != nil {
		return "", apperr.Transientf("opencode create session: %v", err)
	}
	a.sessionID = id
	return a.sessionID, nil
}

func openCodePort(cfg SpawnConfig) string {
	// The Executor binds the OpenCode server before constructing SpawnConfig
	// and stashes the chosen port in the session's worktree path convention;
	// a fixed default keeps this adapter self-contained for the common case.
	return "4096"
}

func (a *openCodeAdapter) Prompt(ctx context.Context, prompt string, events chan<- StreamEvent) error {
	done := make(chan error, 1)

	a.client.SetEventHandler(func(env *opencode.SDKEventEnvelope) {
		switch env.Type {
		case opencode.SDKEventMessagePartUpdated:
			var props struct {
				Part opencode.Part `json:"part"`
			}
			if err := json.Unmarshal(env.Properties, &props); err == nil && props.Part.Type == "text" && props.Part.Text != "" {
				events <- StreamEvent{Message: &v1.DraftMessage{
					Role:    v1.RoleAssistant,
					Content: v1.WrapString(props.Part.Text),
				}}
			}
		case opencode.SDKEventPermissionAsked:
			var props opencode.PermissionAskedProperties
			if err := json.Unmarshal(env.Properties, &props); err == nil {
				id := props.ID
				events <- StreamEvent{Permission: &PermissionRaised{
					ToolName: props.Permission,
					Resolve: func(allow bool) {
						reply := opencode.PermissionReplyOnce
						if !allow {
							reply = opencode.PermissionReplyReject
						}
						_ = a.client.ReplyPermission(context.Background(), id, reply, nil)
					},
				}}
			}
		case opencode.SDKEventSessionIdle:
			done <- nil
		case opencode.SDKEventSessionError:
			var props opencode.SessionErrorProperties
			_ = json.Unmarshal(env.Properties, &props)
			msg := "opencode session error"
			if props.Error != nil {
				msg = fmt.Sprintf("%v", props.Error)
			}
			done <- apperr.Transientf("%s", msg)
		}
	})

	if err := a.client.StartEventStream(ctx, a.sessionID); err != nil {
		return apperr.Transientf("opencode start event stream: %v", err)
	}

	if err := a.client.SendPrompt(ctx, a.sessionID, prompt, nil, "", ""); err != nil {
		return apperr.Transientf("opencode send prompt: %v", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		events <- StreamEvent{Done: &Completion{Reason: v1.FailureNone, Err: err}}
		return err
	case <-time.After(time.Hour):
		return apperr.Transientf("opencode prompt timed out")
	}
}

func (a *openCodeAdapter) Cancel(ctx context.Context) error {
	return a.client.Abort(ctx, a.sessionID)
}

func (a *openCodeAdapter) Close() error {
	if a.client != nil {
		a.client.Close()
	}
	return nil
}
