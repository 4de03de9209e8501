package vendors

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/agor/agor/internal/common/apperr"
	"github.com/agor/agor/internal/common/logger"
	"github.com/agor/agor/pkg/claudecode"
	v1 "github.com/agor/agor/pkg/api/v1"
)

type claudeCodeAdapter struct {
	log    *logger.Logger
	client *claudecode.Client
}

func newClaudeCodeAdapter(log *logger.Logger) *claudeCodeAdapter {
	return &claudeCodeAdapter{log: log}
}

func (a *claudeCodeAdapter) Family() v1.VendorFamily { return v1.VendorClaudeCode }

func (a *claudeCodeAdapter) Start(ctx context.Context, cfg SpawnConfig) (string, error) {
	a.client = claudecode.NewClient(cfg.Stdin, cfg.Stdout, a.log)
	<-a.client.Start(ctx)

	resp, err := a.client.Initialize(ctx, 30*time.Second)
	if err != nil {
		return "", apperr.Transientf("claude code initialize: %v", err)
	}
	a.log.Info("claude code initialized", zap.Int("commands", len(resp.Commands)))
	return cfg.ResumeToken, nil
}

func (a *claudeCodeAdapter) Prompt(ctx context.Context, prompt string, events chan<- StreamEvent) error {
	done := make(chan error, 1)

	a.client.SetRequestHandler(func(requestID string, req *claudecode.ControlRequest) {
		if req.Subtype != claudecode.SubtypeCanUseTool {
			return
		}
		events <- StreamEvent{Permission: &PermissionRaised{
			ToolName: req.ToolName,
			Resolve: func(allow bool) {
				behavior := claudecode.BehaviorAllow
				if !allow {
					behavior = claudecode.BehaviorDeny
				}
				_ = a.client.SendControlResponse(&claudecode.ControlResponseMessage{
					Type:      claudecode.MessageTypeControlResponse,
					RequestID: requestID,
					Response: &claudecode.ControlResponse{
						Subtype: "success",
						Result:  &claudecode.PermissionResult{Behavior: behavior},
					},
				})
			},
		}}
	})

	a.client.SetMessageHandler(func(msg *claudecode.CLIMessage) {
		switch msg.Type {
		case "assistant", "user":
			role := v1.RoleAssistant
			if msg.Type == "user" {
				role = v1.RoleUser
			}
			events <- StreamEvent{Message: &v1.DraftMessage{
				Role:    role,
				Content: v1.WrapString(string(msg.RawContent)),
			}}
		case "result":
			done <- nil
		}
	})

	if err := a.client.SendUserMessage(prompt); err != nil {
		return apperr.Transientf("claude code send prompt: %v", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		events <- StreamEvent{Done: &Completion{Reason: v1.FailureNone, Err: err}}
		return err
	}
}

func (a *claudeCodeAdapter) Cancel(ctx context.Context) error {
	return a.client.SendControlRequest(&claudecode.SDKControlRequest{
		Type: claudecode.MessageTypeControlRequest,
		Request: claudecode.SDKControlRequestBody{
			Subtype: claudecode.SubtypeInterrupt,
		},
	})
}

func (a *claudeCodeAdapter) Close() error {
	if a.client != nil {
		a.client.Stop()
	}
	return nil
}
