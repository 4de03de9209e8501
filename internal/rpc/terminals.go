package rpc

import (
	"context"
	"encoding/json"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agor/agor/internal/eventbus"
	"github.com/agor/agor/internal/terminal"
)

// terminalClientMessage is one client->server frame: either input bytes
// to write to the PTY, or a window resize (spec.md §4.8's patch(id,
// {input?, resize?})).
type terminalClientMessage struct {
	Input  string `json:"input,omitempty"`
	Resize *struct {
		Cols int `json:"cols"`
		Rows int `json:"rows"`
	} `json:"resize,omitempty"`
}

// handleTerminalWS bridges one PTY-backed terminal.Session to a
// WebSocket: on connect it attaches to (or, when :sessionId is "new" and
// ?cwd= is given, creates) a Terminal Service (C8) session named by the
// :sessionId path param,
// replays its current screen via Snapshot, then relays data/exit events
// from the Event Bus as outbound frames and client frames as Patch calls.
func (s *Server) handleTerminalWS(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	terminalID := c.Param("sessionId")

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("terminal: websocket upgrade failed", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	if cwd := c.Query("cwd"); cwd != "" && terminalID == "new" {
		var worktreeID *string
		if wt := c.Query("worktree_id"); wt != "" {
			worktreeID = &wt
		}
		sess, err := s.terminal.Create(ctx, terminal.CreateOptions{
			Cwd:        cwd,
			UserID:     principal.UserID,
			WorktreeID: worktreeID,
		})
		if err != nil {
			s.log.Warn("terminal: create failed", zap.Error(err))
			return
		}
		terminalID = sess.ID
		if err := conn.WriteJSON(map[string]string{"terminal_id": terminalID}); err != nil {
			return
		}
		if snapshot := sess.Snapshot(); snapshot != "" {
			_ = conn.WriteJSON(map[string]string{"snapshot": snapshot})
		}
	} else {
		for _, sess := range s.terminal.Find("", nil) {
			if sess.ID != terminalID {
				continue
			}
			if snapshot := sess.Snapshot(); snapshot != "" {
				_ = conn.WriteJSON(map[string]string{"snapshot": snapshot})
			}
			break
		}
	}

	dataSub, err := s.bus.Subscribe(ctx, "terminal."+terminalID+".data", func(ctx context.Context, subject string, ev eventbus.Event) error {
		return conn.WriteJSON(map[string]json.RawMessage{"data": ev.Payload})
	})
	if err != nil {
		s.log.Warn("terminal: data subscribe failed", zap.Error(err))
		return
	}
	defer func() { _ = dataSub.Unsubscribe() }()

	exitSub, err := s.bus.Subscribe(ctx, "terminal."+terminalID+".exit", func(ctx context.Context, subject string, ev eventbus.Event) error {
		_ = conn.WriteJSON(map[string]json.RawMessage{"exit": ev.Payload})
		cancel()
		return nil
	})
	if err != nil {
		s.log.Warn("terminal: exit subscribe failed", zap.Error(err))
		return
	}
	defer func() { _ = exitSub.Unsubscribe() }()

	for {
		var msg terminalClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		patch := terminal.PatchOptions{}
		if msg.Input != "" {
			patch.Input = []byte(msg.Input)
		}
		if msg.Resize != nil {
			patch.Resize = &terminal.ResizeOptions{Cols: msg.Resize.Cols, Rows: msg.Resize.Rows}
		}
		if err := s.terminal.Patch(ctx, terminalID, patch); err != nil {
			s.log.Warn("terminal: patch failed", zap.String("terminal_id", terminalID), zap.Error(err))
			break
		}
	}

	_ = s.terminal.Remove(context.Background(), terminalID)
}
