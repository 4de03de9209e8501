package codex

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/agor/agor/internal/common/logger"
)

// Client speaks the codex-exec JSON-RPC-over-stdio protocol to a `codex`
// CLI subprocess the Executor Process (C5) launches. Codex's framing
// departs from JSON-RPC 2.0 in one way: there is no "jsonrpc":"2.0"
// envelope field, so the request/response/notification shapes here are
// hand-rolled rather than built on an off-the-shelf JSON-RPC library.
// codexAdapter (internal/vendors/codex.go) owns the translation from this
// wire protocol into Session/Task semantics; this package stays a plain
// transport.
type Client struct {
	stdin  io.Writer
	stdout io.Reader

	requestID atomic.Int64
	pending   map[interface{}]chan *Response
	mu        sync.Mutex

	onNotification func(method string, params json.RawMessage)
	onRequest      func(id interface{}, method string, params json.RawMessage)

	logger *logger.Logger
	done   chan struct{}
}

// NewClient wraps an already-spawned codex CLI subprocess's stdin/stdout.
func NewClient(stdin io.Writer, stdout io.Reader, log *logger.Logger) *Client {
	return &Client{
		stdin:   stdin,
		stdout:  stdout,
		pending: make(map[interface{}]chan *Response),
		logger:  log.WithFields(zap.String("component", "codex-client")),
		done:    make(chan struct{}),
	}
}

// SetNotificationHandler registers the callback for server-initiated
// notifications (turn deltas, thread lifecycle events).
func (c *Client) SetNotificationHandler(handler func(method string, params json.RawMessage)) {
	c.onNotification = handler
}

// SetRequestHandler registers the callback for agent-initiated requests,
// e.g. an exec-command approval codexAdapter.Prompt resolves against the
// Permission Arbiter (C9).
func (c *Client) SetRequestHandler(handler func(id interface{}, method string, params json.RawMessage)) {
	c.onRequest = handler
}

// SendResponse answers a request the agent sent us.
func (c *Client) SendResponse(id interface{}, result interface{}, rpcErr *Error) error {
	var resultJSON json.RawMessage
	if result != nil && rpcErr == nil {
		var err error
		resultJSON, err = json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal response result: %w", err)
		}
	}
	return c.send(&Response{ID: id, Result: resultJSON, Error: rpcErr})
}

// Start launches the stdout read loop in a goroutine.
func (c *Client) Start(ctx context.Context) {
	go c.readLoop(ctx)
}

// Stop tears the client down; any in-flight Call returns once the read
// loop observes c.done closed.
func (c *Client) Stop() {
	close(c.done)
}

// Call issues a request and blocks for the matching response, the matching
// one keyed by the id this call assigns (Codex echoes request ids back
// verbatim, so there's no server-assigned id to reconcile against).
func (c *Client) Call(ctx context.Context, method string, params interface{}) (*Response, error) {
	id := c.requestID.Add(1)

	var paramsJSON json.RawMessage
	if params != nil {
		var err error
		paramsJSON, err = json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal request params: %w", err)
		}
	}

	respCh := make(chan *Response, 1)
	c.mu.Lock()
	c.pending[id] = respCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.send(&Request{ID: id, Method: method, Params: paramsJSON}); err != nil {
		return nil, err
	}

	select {
	case resp := <-respCh:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, fmt.Errorf("codex client stopped")
	}
}

// Notify sends a one-way notification; no response is expected.
func (c *Client) Notify(method string, params interface{}) error {
	var paramsJSON json.RawMessage
	if params != nil {
		var err error
		paramsJSON, err = json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal notification params: %w", err)
		}
	}
	return c.send(&Notification{Method: method, Params: paramsJSON})
}

func (c *Client) send(msg interface{}) error {
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

func (c *Client) readLoop(ctx context.Context) {
	scanner := bufio.NewScanner(c.stdout)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

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

		// Codex multiplexes responses, agent-initiated requests, and
		// notifications over the same stream with no type discriminant, so
		// the shape has to be inferred from which fields are present.
		var envelope struct {
			ID     interface{}     `json:"id"`
			Method string          `json:"method"`
			Result json.RawMessage `json:"result"`
			Error  *Error          `json:"error"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(line, &envelope); err != nil {
			c.logger.Warn("failed to parse codex message", zap.Error(err))
			continue
		}

		hasID := envelope.ID != nil
		hasMethod := envelope.Method != ""
		hasResult := envelope.Result != nil
		hasError := envelope.Error != nil

		switch {
		case hasID && !hasMethod && (hasResult || hasError):
			c.handleResponse(&Response{ID: envelope.ID, Result: envelope.Result, Error: envelope.Error})
		case hasID && hasMethod:
			c.handleRequest(envelope.ID, envelope.Method, envelope.Params)
		case hasMethod && !hasID:
			c.handleNotification(envelope.Method, envelope.Params)
		}
	}

	if err := scanner.Err(); err != nil {
		c.logger.Error("read loop error", zap.Error(err))
	}
}

func (c *Client) handleResponse(resp *Response) {
	id := normalizeID(resp.ID)
	c.mu.Lock()
	ch, ok := c.pending[id]
	c.mu.Unlock()
	if !ok {
		c.logger.Warn("response for unknown request id, dropping", zap.Any("id", resp.ID))
		return
	}
	ch <- resp
}

// normalizeID reconciles the id this client assigned as int64 against the
// float64/json.Number shape it comes back as after a JSON round trip.
func normalizeID(id interface{}) interface{} {
	switch v := id.(type) {
	case float64:
		return int64(v)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
	}
	return id
}

func (c *Client) handleNotification(method string, params json.RawMessage) {
	if c.onNotification != nil {
		c.onNotification(method, params)
	}
}

func (c *Client) handleRequest(id interface{}, method string, params json.RawMessage) {
	if c.onRequest != nil {
		c.onRequest(id, method, params)
		return
	}
	c.logger.Warn("request with no registered handler", zap.String("method", method))
	if err := c.SendResponse(id, nil, &Error{Code: MethodNotFound, Message: "Method not found"}); err != nil {
		c.logger.Warn("failed to send method-not-found response", zap.Error(err))
	}
}
