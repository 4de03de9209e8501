package claudecode

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agor/agor/internal/common/logger"
)

// RequestHandler is invoked for every control_request the CLI subprocess
// sends us (permission prompts, mainly). internal/vendors/claudecode.go's
// adapter registers one via SetRequestHandler and answers it with
// SendControlResponse once the Permission Arbiter (C9) has a verdict.
type RequestHandler func(requestID string, req *ControlRequest)

// MessageHandler is invoked for every non-control line the CLI subprocess
// writes to stdout. internal/vendors/claudecode.go's adapter registers one
// and translates assistant/user/result messages into the StreamEvent
// shapes the Executor Process forwards to the Entity Store.
type MessageHandler func(msg *CLIMessage)

// pendingRequest is a control_request this client sent and is still
// waiting on the matching control_response for.
type pendingRequest struct {
	ch chan *IncomingControlResponse
}

// Client speaks Claude Code's stream-json protocol over a pair of
// stdin/stdout pipes to a `claude` CLI subprocess the Executor Process
// (C5) launches. It knows nothing about Sessions, Tasks, or the Entity
// Store — that translation lives entirely in internal/vendors/claudecode.go,
// keeping this package a faithful, daemon-agnostic transport for the
// vendor's actual wire format.
type Client struct {
	stdin  io.Writer
	stdout io.Reader
	logger *logger.Logger

	requestHandler RequestHandler
	messageHandler MessageHandler

	pendingRequests   map[string]*pendingRequest
	pendingRequestsMu sync.Mutex

	mu   sync.RWMutex
	done chan struct{}
}

// NewClient wraps an already-spawned claude CLI subprocess's stdin/stdout.
func NewClient(stdin io.Writer, stdout io.Reader, log *logger.Logger) *Client {
	return &Client{
		stdin:           stdin,
		stdout:          stdout,
		logger:          log.WithFields(zap.String("component", "claudecode-client")),
		done:            make(chan struct{}),
		pendingRequests: make(map[string]*pendingRequest),
	}
}

// SetRequestHandler registers the callback for incoming control_requests.
func (c *Client) SetRequestHandler(handler RequestHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestHandler = handler
}

// SetMessageHandler registers the callback for streamed CLIMessages.
func (c *Client) SetMessageHandler(handler MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messageHandler = handler
}

// Start launches the stdout read loop in a goroutine and returns a channel
// closed once the scanner has attached, so Initialize isn't sent before
// anything is listening for the response.
func (c *Client) Start(ctx context.Context) <-chan struct{} {
	ready := make(chan struct{})
	go c.readLoop(ctx, ready)
	return ready
}

// Stop tears the client down; the read loop observes c.done and exits on
// its own rather than being interrupted mid-scan.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

// Initialize performs the one control_request every Claude Code session
// needs before any prompt can be sent: it negotiates available slash
// commands and subagents for the session's work directory. Called once
// from claudeCodeAdapter.Start (internal/vendors/claudecode.go) with a
// fixed 30s timeout.
func (c *Client) Initialize(ctx context.Context, timeout time.Duration) (*InitializeResponseData, error) {
	requestID := uuid.New().String()

	pending := &pendingRequest{ch: make(chan *IncomingControlResponse, 1)}
	c.pendingRequestsMu.Lock()
	c.pendingRequests[requestID] = pending
	c.pendingRequestsMu.Unlock()
	defer func() {
		c.pendingRequestsMu.Lock()
		delete(c.pendingRequests, requestID)
		c.pendingRequestsMu.Unlock()
	}()

	req := &SDKControlRequest{
		Type:      MessageTypeControlRequest,
		RequestID: requestID,
		Request: SDKControlRequestBody{
			Subtype: SubtypeInitialize,
			Hooks:   nil, // the daemon drives permission flow itself, not CLI-side hooks
		},
	}

	if err := c.send(req); err != nil {
		return nil, fmt.Errorf("send initialize request: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, fmt.Errorf("initialize request timed out after %v", timeout)
	case resp := <-pending.ch:
		if resp.Subtype == "error" {
			return nil, fmt.Errorf("initialize failed: %s", resp.Error)
		}
		c.logger.Debug("claude code initialized",
			zap.Int("commands", len(resp.Response.Commands)),
			zap.Int("agents", len(resp.Response.Agents)))
		return resp.Response, nil
	}
}

// SendControlRequest writes a control_request, e.g. the interrupt
// claudeCodeAdapter.Cancel sends to abort an in-flight prompt.
func (c *Client) SendControlRequest(req *SDKControlRequest) error {
	return c.send(req)
}

// SendControlResponse answers a control_request the CLI sent us, e.g. the
// can_use_tool permission decision the adapter resolves once the Arbiter
// has a verdict.
func (c *Client) SendControlResponse(resp *ControlResponseMessage) error {
	return c.send(resp)
}

// SendUserMessage submits a prompt as a user-role message.
func (c *Client) SendUserMessage(content string) error {
	msg := &UserMessage{
		Type: MessageTypeUser,
		Message: UserMessageBody{
			Role:    "user",
			Content: content,
		},
	}
	return c.send(msg)
}

func (c *Client) send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	data = append(data, '\n')
	if _, err := c.stdin.Write(data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	c.logger.Debug("sent message", zap.String("data", string(data)))
	return nil
}

func (c *Client) readLoop(ctx context.Context, ready chan<- struct{}) {
	scanner := bufio.NewScanner(c.stdout)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024) // a single tool_result can embed a large file read

	close(ready)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		c.handleLine(line)
	}

	if err := scanner.Err(); err != nil {
		c.logger.Error("read loop error", zap.Error(err))
	}
}

func (c *Client) handleLine(line []byte) {
	var msg CLIMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		c.logger.Warn("failed to parse CLI message", zap.Error(err))
		return
	}

	if msg.Type == MessageTypeControlRequest && msg.Request != nil {
		c.handleControlRequest(msg.RequestID, msg.Request)
		return
	}

	// request_id for a control_response lives inside the nested Response
	// object, not at the envelope level — that's the CLI's own framing.
	if msg.Type == MessageTypeControlResponse && msg.Response != nil {
		c.handleControlResponse(msg.Response)
		return
	}

	c.mu.RLock()
	handler := c.messageHandler
	c.mu.RUnlock()

	if handler != nil {
		// Keep the raw line alongside the parsed envelope: the live adapter
		// (internal/vendors/claudecode.go) forwards it verbatim as the
		// Message text.
		msg.RawContent = line
		handler(&msg)
	}
}

func (c *Client) handleControlRequest(requestID string, req *ControlRequest) {
	c.mu.RLock()
	handler := c.requestHandler
	c.mu.RUnlock()

	if handler != nil {
		handler(requestID, req)
		return
	}

	c.logger.Warn("control_request with no registered handler, auto-denying",
		zap.String("request_id", requestID), zap.String("subtype", req.Subtype))
	if err := c.SendControlResponse(&ControlResponseMessage{
		Type:      MessageTypeControlResponse,
		RequestID: requestID,
		Response: &ControlResponse{
			Subtype: "error",
			Error:   "no handler registered",
		},
	}); err != nil {
		c.logger.Warn("failed to send auto-deny response", zap.Error(err))
	}
}

func (c *Client) handleControlResponse(resp *IncomingControlResponse) {
	c.pendingRequestsMu.Lock()
	pending, ok := c.pendingRequests[resp.RequestID]
	c.pendingRequestsMu.Unlock()

	if !ok {
		c.logger.Warn("control_response for unknown request_id, dropping",
			zap.String("request_id", resp.RequestID), zap.String("subtype", resp.Subtype))
		return
	}

	select {
	case pending.ch <- resp:
	default:
		c.logger.Warn("pending request channel full, dropping response", zap.String("request_id", resp.RequestID))
	}
}
