// Package vendors adapts each supported coding-agent CLI (C6) to one
// common interface the Executor (C5) drives: spawn the vendor subprocess,
// send a prompt, stream back Messages, and forward/cancel permission
// requests. Every adapter owns exactly one vendor's wire protocol —
// stream-json for Claude Code, a headerless JSON-RPC 2.0 variant for
// Codex, REST+SSE for OpenCode, ACP for Gemini — grounded on the kept
// pkg/claudecode, pkg/codex and pkg/opencode clients and the
// coder/acp-go-sdk client.
package vendors

import (
	"context"
	"io"

	"github.com/agor/agor/internal/common/apperr"
	"github.com/agor/agor/internal/common/logger"
	v1 "github.com/agor/agor/pkg/api/v1"
)

// StreamEvent is one unit an Adapter emits while a Task runs.
type StreamEvent struct {
	Message    *v1.DraftMessage
	Permission *PermissionRaised
	Done       *Completion
}

// PermissionRaised is forwarded to the Permission Arbiter (C9); Resolve is
// called by the arbiter once a decision is made, unblocking the adapter's
// subprocess-facing response.
type PermissionRaised struct {
	ToolName     string
	InputPreview string
	Options      []v1.PermissionOption
	Resolve      func(allow bool)
}

// Completion reports how a Task ended.
type Completion struct {
	Reason       v1.FailureReason
	ResolvedModel string
	InputTokens  int
	OutputTokens int
	Err          error
}

// SpawnConfig is everything an Adapter needs to start a vendor subprocess.
type SpawnConfig struct {
	WorkDir        string
	Model          *v1.ModelConfig
	AllowedTools   []string
	ResumeToken    string // AgentSessionID, empty on first spawn
	MCPServers     []v1.ResolvedMCPServer
	Stdin          io.Writer
	Stdout         io.Reader
	Stderr         io.Reader
}

// Adapter drives one live vendor session. A new Adapter is constructed per
// Session the first time a Task runs against it; ResumeToken on a later
// SpawnConfig lets the vendor CLI reattach to prior context.
type Adapter interface {
	// Family reports which VendorFamily this Adapter implements.
	Family() v1.VendorFamily

	// Start launches the subprocess and performs the vendor's handshake
	// (Claude Code's `initialize`, Codex's `initialize`, OpenCode's
	// WaitForHealth, the ACP `initialize`/`session/new`). The returned
	// resume token, if any, must be persisted via Store.SetVendorResumeToken.
	Start(ctx context.Context, cfg SpawnConfig) (resumeToken string, err error)

	// Prompt sends one user turn and streams events until the turn
	// completes, is cancelled, or the context is done.
	Prompt(ctx context.Context, prompt string, events chan<- StreamEvent) error

	// Cancel requests the in-flight turn stop as soon as possible
	// (spec.md §4.4's cooperative-then-forced cancellation).
	Cancel(ctx context.Context) error

	// Close releases the subprocess and any open connections.
	Close() error
}

// New constructs the Adapter for a vendor family; an unknown family is a
// validation error.
func New(family v1.VendorFamily, log *logger.Logger) (Adapter, error) {
	switch family {
	case v1.VendorClaudeCode:
		return newClaudeCodeAdapter(log), nil
	case v1.VendorCodex:
		return newCodexAdapter(log), nil
	case v1.VendorOpenCode:
		return newOpenCodeAdapter(log), nil
	case v1.VendorGemini:
		return newGeminiAdapter(log), nil
	default:
		return nil, apperr.Validationf("unknown vendor family %q", family)
	}
}
