package vendors

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"sync"

	acp "github.com/coder/acp-go-sdk"

	"github.com/agor/agor/internal/common/apperr"
	"github.com/agor/agor/internal/common/logger"
	v1 "github.com/agor/agor/pkg/api/v1"
)

const geminiCLIPackage = "@google/gemini-cli@0.25.2"

// geminiAdapter drives Gemini CLI over the real Agent Client Protocol
// (--experimental-acp), using coder/acp-go-sdk as the transport and
// acpClient as the callback side the agent talks back to.
type geminiAdapter struct {
	log    *logger.Logger
	cmd    *exec.Cmd
	conn   *acp.ClientSideConnection
	client *acpClient

	mu        sync.Mutex
	sessionID acp.SessionId
}

func newGeminiAdapter(log *logger.Logger) *geminiAdapter {
	return &geminiAdapter{log: log}
}

func (a *geminiAdapter) Family() v1.VendorFamily { return v1.VendorGemini }

func (a *geminiAdapter) Start(ctx context.Context, cfg SpawnConfig) (string, error) {
	cmd := exec.CommandContext(ctx, "npx", "-y", geminiCLIPackage, "--experimental-acp")
	cmd.Dir = cfg.WorkDir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return "", apperr.Internalf(err, "gemini stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", apperr.Internalf(err, "gemini stdout pipe")
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return "", apperr.Transientf("gemini spawn: %v", err)
	}
	a.cmd = cmd

	a.client = newACPClient(a.log, cfg.WorkDir)
	a.conn = acp.NewClientSideConnection(a.client, stdin, bufio.NewReader(stdout))

	initResp, err := a.conn.Initialize(ctx, acp.InitializeRequest{
		ProtocolVersion: acp.ProtocolVersionNumber,
		ClientInfo:      &acp.Implementation{Name: "agor", Version: "1.0.0"},
	})
	if err != nil {
		return "", apperr.Transientf("gemini acp initialize: %v", err)
	}
	if !initResp.AgentCapabilities.LoadSession && cfg.ResumeToken != "" {
		a.log.Warn("gemini agent does not support session/load; starting a fresh session")
		cfg.ResumeToken = ""
	}

	mcpServers := toACPMcpServers(cfg.MCPServers)

	if cfg.ResumeToken != "" {
		if _, err := a.conn.LoadSession(ctx, acp.LoadSessionRequest{
			SessionId: acp.SessionId(cfg.ResumeToken),
		}); err != nil {
			return "", apperr.Transientf("gemini acp load session: %v", err)
		}
		a.mu.Lock()
		a.sessionID = acp.SessionId(cfg.ResumeToken)
		a.mu.Unlock()
		return cfg.ResumeToken, nil
	}

	newResp, err := a.conn.NewSession(ctx, acp.NewSessionRequest{
		Cwd:        cfg.WorkDir,
		McpServers: mcpServers,
	})
	if err != nil {
		return "", apperr.Transientf("gemini acp new session: %v", err)
	}
	a.mu.Lock()
	a.sessionID = newResp.SessionId
	a.mu.Unlock()
	return string(newResp.SessionId), nil
}

func toACPMcpServers(servers []v1.ResolvedMCPServer) []acp.McpServer {
	out := make([]acp.McpServer, 0, len(servers))
	for _, rs := range servers {
		if rs.Invalid {
			continue
		}
		switch rs.Server.Transport {
		case v1.MCPTransportStdio:
			out = append(out, acp.McpServer{
				Stdio: &acp.McpServerStdio{
					Name:    rs.Server.Name,
					Command: rs.Server.Command,
					Args:    rs.Server.Args,
				},
			})
		case v1.MCPTransportSSE, v1.MCPTransportHTTP, v1.MCPTransportStreamableHTTP:
			out = append(out, acp.McpServer{
				Sse: &acp.McpServerSse{Name: rs.Server.Name, Url: rs.Server.URL},
			})
		}
	}
	return out
}

func (a *geminiAdapter) Prompt(ctx context.Context, prompt string, events chan<- StreamEvent) error {
	done := make(chan error, 1)
	a.client.setUpdateHandler(func(n acp.SessionNotification) {
		switch {
		case n.Update.AgentMessageChunk != nil && n.Update.AgentMessageChunk.Content.Text != nil:
			text := n.Update.AgentMessageChunk.Content.Text.Text
			if text != "" {
				events <- StreamEvent{Message: &v1.DraftMessage{Role: v1.RoleAssistant, Content: v1.WrapString(text)}}
			}
		case n.Update.AgentThoughtChunk != nil:
			// thoughts are not persisted as session messages
		}
	})
	a.client.setPermissionHandler(func(ctx context.Context, req acp.RequestPermissionRequest) (string, error) {
		result := make(chan string, 1)
		opts := make([]v1.PermissionOption, 0, len(req.Options))
		for _, o := range req.Options {
			opts = append(opts, v1.PermissionOption{OptionID: string(o.OptionId), Name: o.Name})
		}
		events <- StreamEvent{Permission: &PermissionRaised{
			ToolName: string(req.ToolCall.ToolCallId),
			Options:  opts,
			Resolve: func(allow bool) {
				for _, o := range req.Options {
					isAllow := o.Kind == acp.PermissionOptionKindAllowOnce || o.Kind == acp.PermissionOptionKindAllowAlways
					if isAllow == allow {
						result <- string(o.OptionId)
						return
					}
				}
				result <- ""
			},
		}}
		select {
		case id := <-result:
			return id, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})

	a.mu.Lock()
	sessionID := a.sessionID
	a.mu.Unlock()

	go func() {
		_, err := a.conn.Prompt(ctx, acp.PromptRequest{
			SessionId: sessionID,
			Prompt:    []acp.ContentBlock{acp.TextBlock(prompt)},
		})
		done <- err
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		events <- StreamEvent{Done: &Completion{Reason: v1.FailureNone, Err: err}}
		return err
	}
}

func (a *geminiAdapter) Cancel(ctx context.Context) error {
	a.mu.Lock()
	sessionID := a.sessionID
	a.mu.Unlock()
	return a.conn.Cancel(ctx, acp.CancelNotification{SessionId: sessionID})
}

func (a *geminiAdapter) Close() error {
	if a.cmd != nil && a.cmd.Process != nil {
		_ = a.cmd.Process.Kill()
	}
	return nil
}
