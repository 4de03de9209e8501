// Package terminal implements the Terminal Service (C8): ephemeral PTY
// sessions optionally multiplexed through a shared per-user tmux session,
// specified at its interface only (spec.md §4.8 — "Internals are out of
// scope"). Sessions are process-local state, not Entity Store rows: nothing
// here is persisted, and a daemon restart drops every live terminal along
// with the PTYs it owned.
package terminal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tuzig/vt10x"
	"go.uber.org/zap"

	"github.com/agor/agor/internal/common/apperr"
	"github.com/agor/agor/internal/common/config"
	"github.com/agor/agor/internal/common/logger"
	"github.com/agor/agor/internal/eventbus"
)

// CreateOptions is the payload for create(), spec.md §4.8.
type CreateOptions struct {
	Cwd        string
	Shell      string
	Rows       int
	Cols       int
	UserID     string
	WorktreeID *string
}

// ResizeOptions carries a window-size change.
type ResizeOptions struct {
	Cols int
	Rows int
}

// PatchOptions is the payload for patch(id, {input?, resize?}), spec.md §4.8.
type PatchOptions struct {
	Input  []byte
	Resize *ResizeOptions
}

// Session is one live PTY, optionally backed by a shared tmux window.
type Session struct {
	ID         string
	UserID     string
	WorktreeID *string
	Shell      string
	CreatedAt  time.Time

	mu       sync.Mutex
	cols     int
	rows     int
	pty      ptyHandle
	cmd      *exec.Cmd
	term     vt10x.Terminal
	tmuxName string // "session:window", empty when not tmux-backed
	closed   bool
}

// Snapshot renders the current virtual-terminal screen content, used to
// replay state to a client attaching to an already-running session.
func (s *Session) Snapshot() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.term == nil {
		return ""
	}
	cols, rows := s.cols, s.rows
	lines := make([]string, 0, rows)
	for row := 0; row < rows; row++ {
		chars := make([]rune, 0, cols)
		for col := 0; col < cols; col++ {
			g := s.term.Cell(col, row)
			if g.Char == 0 {
				chars = append(chars, ' ')
			} else {
				chars = append(chars, g.Char)
			}
		}
		lines = append(lines, string(chars))
	}
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}

// dataEvent/exitEvent are the two event shapes terminals emit (spec.md
// §4.8: "Emits data and exit events").
type dataEvent struct {
	TerminalID string `json:"terminal_id"`
	Data       string `json:"data"`
}

type exitEvent struct {
	TerminalID string `json:"terminal_id"`
	ExitCode   int    `json:"exit_code"`
}

// Service owns every live terminal in the daemon process.
type Service struct {
	mu       sync.Mutex
	sessions map[string]*Session

	bus eventbus.EventBus
	log *logger.Logger
	cfg config.TerminalConfig
}

// New constructs a Service. cfg controls the tmux-vs-ephemeral-PTY default
// and the shared PTY dimensions used when a create() call doesn't specify
// them.
func New(bus eventbus.EventBus, cfg config.TerminalConfig, log *logger.Logger) *Service {
	return &Service{
		sessions: make(map[string]*Session),
		bus:      bus,
		log:      log.WithFields(zap.String("component", "terminal")),
		cfg:      cfg,
	}
}

// Create starts a new PTY session. When opts.WorktreeID is set and tmux is
// both preferred (TerminalConfig.PreferTmux) and available on PATH, the PTY
// attaches to a shared per-user tmux session with one named window per
// worktree; otherwise it's a bare ephemeral PTY running the shell directly
// (spec.md §4.8).
func (s *Service) Create(ctx context.Context, opts CreateOptions) (*Session, error) {
	cols, rows := opts.Cols, opts.Rows
	if cols <= 0 {
		cols = s.cfg.DefaultCols
	}
	if rows <= 0 {
		rows = s.cfg.DefaultRows
	}
	shell := opts.Shell
	if shell == "" {
		shell = s.cfg.DefaultShell
	}

	id := uuid.Must(uuid.NewV7()).String()
	sess := &Session{
		ID:         id,
		UserID:     opts.UserID,
		WorktreeID: opts.WorktreeID,
		Shell:      shell,
		CreatedAt:  time.Now(),
		cols:       cols,
		rows:       rows,
		term:       vt10x.New(vt10x.WithSize(cols, rows)),
	}

	var cmd *exec.Cmd
	useTmux := s.cfg.PreferTmux && opts.WorktreeID != nil && tmuxAvailable()
	if useTmux {
		sessionName := tmuxSessionName(s.cfg.TmuxPrefix, opts.UserID)
		windowName := tmuxWindowName(*opts.WorktreeID)
		target, err := ensureTmuxWindow(ctx, sessionName, windowName, opts.Cwd, shell, cols, rows)
		if err != nil {
			s.log.Warn("tmux window setup failed, falling back to ephemeral pty",
				zap.Error(err), zap.String("session", sessionName))
			useTmux = false
		} else {
			sess.tmuxName = target
			cmd = exec.CommandContext(context.Background(), "tmux", "attach-session", "-t", target)
		}
	}
	if !useTmux {
		cmd = exec.CommandContext(context.Background(), shell)
		if opts.Cwd != "" {
			cmd.Dir = opts.Cwd
		}
	}

	handle, err := startPTYWithSize(cmd, cols, rows)
	if err != nil {
		return nil, apperr.Transientf("start pty: %v", err)
	}
	sess.pty = handle
	sess.cmd = cmd

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	go s.pump(sess)

	s.log.Info("terminal created", zap.String("terminal_id", id),
		zap.Bool("tmux", useTmux), zap.String("user_id", opts.UserID))
	return sess, nil
}

// pump copies PTY output to the virtual terminal buffer and fans it out as
// `data` events until the PTY closes, then emits `exit`.
func (s *Service) pump(sess *Session) {
	buf := make([]byte, 4096)
	for {
		n, err := sess.pty.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			sess.mu.Lock()
			if sess.term != nil {
				_, _ = sess.term.Write(chunk)
			}
			sess.mu.Unlock()
			s.emitData(sess.ID, chunk)
		}
		if err != nil {
			break
		}
	}

	exitCode := 0
	if sess.cmd != nil && sess.cmd.ProcessState != nil {
		exitCode = sess.cmd.ProcessState.ExitCode()
	}
	s.emitExit(sess.ID, exitCode)
}

func (s *Service) emitData(terminalID string, data []byte) {
	payload, err := json.Marshal(dataEvent{TerminalID: terminalID, Data: string(data)})
	if err != nil {
		return
	}
	_ = s.bus.Publish(context.Background(), fmt.Sprintf("terminal.%s.data", terminalID), eventbus.Event{
		Service:   "terminal",
		Verb:      eventbus.Patched,
		EntityID:  terminalID,
		Payload:   json.RawMessage(payload),
		Timestamp: time.Now(),
	})
}

func (s *Service) emitExit(terminalID string, code int) {
	payload, err := json.Marshal(exitEvent{TerminalID: terminalID, ExitCode: code})
	if err != nil {
		return
	}
	_ = s.bus.Publish(context.Background(), fmt.Sprintf("terminal.%s.exit", terminalID), eventbus.Event{
		Service:   "terminal",
		Verb:      eventbus.Removed,
		EntityID:  terminalID,
		Payload:   json.RawMessage(payload),
		Timestamp: time.Now(),
	})
}

// Patch applies input bytes and/or a resize to a live session, spec.md §4.8.
func (s *Service) Patch(ctx context.Context, id string, opts PatchOptions) error {
	sess, err := s.get(id)
	if err != nil {
		return err
	}

	if len(opts.Input) > 0 {
		if _, err := sess.pty.Write(opts.Input); err != nil {
			return apperr.Transientf("write to terminal %s: %v", id, err)
		}
	}

	if opts.Resize != nil {
		sess.mu.Lock()
		sess.cols, sess.rows = opts.Resize.Cols, opts.Resize.Rows
		if sess.term != nil {
			sess.term.Resize(opts.Resize.Cols, opts.Resize.Rows)
		}
		sess.mu.Unlock()
		if err := sess.pty.Resize(uint16(opts.Resize.Cols), uint16(opts.Resize.Rows)); err != nil {
			return apperr.Transientf("resize terminal %s: %v", id, err)
		}
	}

	return nil
}

// Remove tears down a session's PTY. When tmux-backed, only the detaching
// PTY attachment is closed; the shared tmux window (and any process running
// in it) survives so other clients can reattach, and is only killed if this
// was believed to be the last live attachment for that worktree.
func (s *Service) Remove(ctx context.Context, id string) error {
	sess, err := s.get(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()

	sess.mu.Lock()
	sess.closed = true
	tmuxName := sess.tmuxName
	sess.mu.Unlock()

	if err := sess.pty.Close(); err != nil {
		s.log.Warn("error closing terminal pty", zap.String("terminal_id", id), zap.Error(err))
	}

	if tmuxName != "" && !s.hasOtherAttachment(tmuxName, id) {
		parts := splitTmuxTarget(tmuxName)
		if len(parts) == 2 {
			_ = killTmuxWindow(ctx, parts[0], parts[1])
		}
	}

	return nil
}

func (s *Service) hasOtherAttachment(tmuxName, excludeID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if id == excludeID {
			continue
		}
		if sess.tmuxName == tmuxName {
			return true
		}
	}
	return false
}

func splitTmuxTarget(target string) []string {
	for i := len(target) - 1; i >= 0; i-- {
		if target[i] == ':' {
			return []string{target[:i], target[i+1:]}
		}
	}
	return []string{target}
}

// Find lists live sessions, optionally narrowed to one user and/or
// worktree (spec.md §4.8's find()).
func (s *Service) Find(userID string, worktreeID *string) []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if userID != "" && sess.UserID != userID {
			continue
		}
		if worktreeID != nil {
			if sess.WorktreeID == nil || *sess.WorktreeID != *worktreeID {
				continue
			}
		}
		out = append(out, sess)
	}
	return out
}

func (s *Service) get(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, apperr.NotFoundf("terminal %s", id)
	}
	return sess, nil
}

// Close tears down every live session, used on daemon shutdown.
func (s *Service) Close() error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		_ = s.Remove(context.Background(), id)
	}
	return nil
}

var _ io.Writer = (*Session)(nil)

// Write lets a Session double as an io.Writer for direct test/debug
// injection of PTY input, bypassing the Service's Patch() indirection.
func (s *Session) Write(p []byte) (int, error) {
	return s.pty.Write(p)
}
