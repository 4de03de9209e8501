// Package rpcclient is the Executor-side client for the daemon's normal
// RPC surface (spec.md §4.4 step 3: "the executor communicates back
// through the Service Layer over the daemon's normal RPC, not through
// pipes"; §4.5 step 1: "authenticate to the daemon using the session
// token; obtain a duplex RPC channel that supports both CRUD writes and
// event subscription"). HTTP carries CRUD+verb calls; a WebSocket
// connection carries the task:<id>:cancel subscription, mirroring the
// kept agentctl client's http+websocket split.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agor/agor/internal/common/apperr"
	"github.com/agor/agor/internal/common/logger"
	v1 "github.com/agor/agor/pkg/api/v1"
)

// Client talks to one daemon instance on behalf of a single Executor
// invocation, authenticated with the short-lived session token minted by
// the Task Scheduler (C4).
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        *logger.Logger
}

// New constructs a Client. daemonURL is the --daemon-url argument the
// Executor was invoked with; token is --session-token.
func New(daemonURL, token string, log *logger.Logger) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(daemonURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		log: log.WithFields(zap.String("component", "rpcclient")),
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyStatus(resp.StatusCode, method, path, respBody)
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response body: %w", err)
	}
	return nil
}

// classifyStatus turns an HTTP error response into the apperr.Kind the rest
// of the Executor (and ultimately its CLI exit code, spec.md §6) switches
// on, so a daemon-side Auth/Forbidden rejection survives the RPC hop
// instead of flattening into an opaque string.
func classifyStatus(status int, method, path string, body []byte) error {
	msg := fmt.Sprintf("%s %s: status %d: %s", method, path, status, string(body))
	switch status {
	case http.StatusUnauthorized:
		return apperr.Authf("%s", msg)
	case http.StatusForbidden:
		return apperr.Forbiddenf("%s", msg)
	case http.StatusNotFound:
		return apperr.NotFoundf("%s", msg)
	case http.StatusConflict:
		return apperr.Conflictf("%s", msg)
	case http.StatusUnprocessableEntity, http.StatusBadRequest:
		return apperr.Validationf("%s", msg)
	default:
		return apperr.Internalf(nil, "%s", msg)
	}
}

// GetSession loads the target Session (spec.md §4.5 step 2).
func (c *Client) GetSession(ctx context.Context, sessionID string) (*v1.Session, error) {
	var sess v1.Session
	if err := c.do(ctx, http.MethodGet, "/api/v1/sessions/"+sessionID, nil, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// ResolveMCPServers asks the daemon to run the selection pass of the MCP
// Resolver (C7) against the Entity Store; the Executor renders templated
// fields itself against its own environment (spec.md §4.5 step 3, §4.7).
func (c *Client) ResolveMCPServers(ctx context.Context, sessionID string) ([]v1.ResolvedMCPServer, error) {
	var servers []v1.ResolvedMCPServer
	if err := c.do(ctx, http.MethodGet, "/api/v1/sessions/"+sessionID+"/mcp-servers", nil, &servers); err != nil {
		return nil, err
	}
	return servers, nil
}

// CreateMessage appends a Message via messages.create (spec.md §4.5 step 5).
func (c *Client) CreateMessage(ctx context.Context, draft v1.DraftMessage) (*v1.Message, error) {
	payload := struct {
		SessionID string              `json:"session_id"`
		TaskID    *string             `json:"task_id,omitempty"`
		Role      v1.MessageRole      `json:"role"`
		Content   []v1.Block          `json:"content"`
		ToolUses  *v1.ToolUsesSummary `json:"tool_uses,omitempty"`
		Metadata  v1.MessageMetadata  `json:"metadata"`
	}{draft.SessionID, draft.TaskID, draft.Role, draft.Content, draft.ToolUses, draft.Metadata}
	var msg v1.Message
	if err := c.do(ctx, http.MethodPost, "/api/v1/messages", payload, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// PatchSessionAgentID persists a resolved vendor resume token via
// sessions.patch(agent_session_id=...) (spec.md §4.5 step 5).
func (c *Client) PatchSessionAgentID(ctx context.Context, sessionID, agentSessionID string) error {
	payload := struct {
		AgentSessionID string `json:"agent_session_id"`
	}{AgentSessionID: agentSessionID}
	return c.do(ctx, http.MethodPatch, "/api/v1/sessions/"+sessionID, payload, nil)
}

// TaskPatchRequest is the wire shape for finalizing a Task (spec.md §4.5
// step 6).
type TaskPatchRequest struct {
	Status        v1.TaskStatus     `json:"status"`
	Reason        v1.FailureReason  `json:"reason,omitempty"`
	ResolvedModel *string           `json:"resolved_model,omitempty"`
	InputTokens   *int              `json:"input_tokens,omitempty"`
	OutputTokens  *int              `json:"output_tokens,omitempty"`
	ToolUseCount  *int              `json:"tool_use_count,omitempty"`
	GitShaEnd     *string           `json:"git_sha_end,omitempty"`
}

// PatchTask finalizes the Task's terminal status and usage counters.
func (c *Client) PatchTask(ctx context.Context, taskID string, req TaskPatchRequest) (*v1.Task, error) {
	var task v1.Task
	if err := c.do(ctx, http.MethodPatch, "/api/v1/tasks/"+taskID, req, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// RequestPermission forwards an on_permission_request from the Vendor Tool
// Adapter to the daemon's Permission Arbiter (C9) and blocks for its
// decision (spec.md §4.9's synchronous request/response shape).
func (c *Client) RequestPermission(ctx context.Context, taskID, toolName, inputPreview string) (bool, error) {
	var resp struct {
		Allow bool `json:"allow"`
	}
	payload := struct {
		ToolName     string `json:"tool_name"`
		InputPreview string `json:"input_preview"`
	}{ToolName: toolName, InputPreview: inputPreview}
	if err := c.do(ctx, http.MethodPost, "/api/v1/tasks/"+taskID+"/permissions", payload, &resp); err != nil {
		return false, err
	}
	return resp.Allow, nil
}

// SubscribeCancel opens the duplex event channel and watches for
// task:<id>:cancel (spec.md §4.5's "Cancellation path"). The returned
// channel is closed when the cancellation notification arrives, the
// connection drops (itself treated as a local abort signal per spec.md
// §4.5), or ctx is done.
func (c *Client) SubscribeCancel(ctx context.Context, taskID string) (<-chan struct{}, error) {
	wsURL, err := c.websocketURL("/api/v1/events")
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL.String(), header)
	if err != nil {
		return nil, fmt.Errorf("dial event channel: %w", err)
	}

	subject := fmt.Sprintf("task:%s:cancel", taskID)
	if err := conn.WriteJSON(struct {
		Op      string `json:"op"`
		Subject string `json:"subject"`
	}{Op: "subscribe", Subject: subject}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}

	cancelled := make(chan struct{})
	go func() {
		defer close(cancelled)
		defer func() { _ = conn.Close() }()
		for {
			var msg struct {
				Subject string `json:"subject"`
			}
			if err := conn.ReadJSON(&msg); err != nil {
				// Connection drop is itself a local abort signal.
				return
			}
			if msg.Subject == subject {
				return
			}
		}
	}()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	return cancelled, nil
}

func (c *Client) websocketURL(path string) (*url.URL, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u, nil
}
