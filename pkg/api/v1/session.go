// Package v1 holds the wire-level entity types shared across the store,
// service, scheduler, and executor layers.
package v1

import "time"

// VendorFamily identifies which agent SDK a session talks to.
type VendorFamily string

const (
	VendorClaudeCode VendorFamily = "claude-code"
	VendorCodex      VendorFamily = "codex"
	VendorGemini     VendorFamily = "gemini"
	VendorOpenCode   VendorFamily = "opencode"
)

func (v VendorFamily) Valid() bool {
	switch v {
	case VendorClaudeCode, VendorCodex, VendorGemini, VendorOpenCode:
		return true
	default:
		return false
	}
}

// SessionStatus is the lifecycle state of a Session.
type SessionStatus string

const (
	SessionIdle      SessionStatus = "idle"
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// ModelMode selects how Session.Model is interpreted.
type ModelMode string

const (
	ModelModeAlias ModelMode = "alias"
	ModelModeExact ModelMode = "exact"
)

// ModelConfig pins the model a session's tasks should use.
type ModelConfig struct {
	Mode  ModelMode `json:"mode"`
	Model string    `json:"model"`
}

// GitState is a point-in-time snapshot of a worktree's git position.
type GitState struct {
	Ref           string `json:"ref"`
	BaseCommit    string `json:"base_commit"`
	CurrentCommit string `json:"current_commit"`
}

// Genealogy captures the fork/spawn edges a Session participates in. Forks
// are sibling edges (ForkedFrom); spawns are parent-child edges (ParentSession).
// No child may be its own ancestor — Service.Spawn checks this through
// store.WouldCycle right after creating the child.
type Genealogy struct {
	ForkedFrom     *string  `json:"forked_from,omitempty"`
	ForkPointTask  *string  `json:"fork_point_task,omitempty"`
	ParentSession  *string  `json:"parent_session,omitempty"`
	SpawnPointTask *string  `json:"spawn_point_task,omitempty"`
	Children       []string `json:"children"`
}

// Session is the root conversation entity: one worktree, one vendor family,
// an ordered list of Tasks, and an opaque vendor resume token that lets a
// fresh Executor continue the same logical conversation.
type Session struct {
	ID      string       `json:"id" db:"id"`
	OwnerID string       `json:"owner_id" db:"owner_id"`
	Vendor  VendorFamily `json:"vendor" db:"vendor"`
	Status  SessionStatus `json:"status" db:"status"`

	// AgentSessionID is the vendor resume token. Opaque: never parsed here,
	// only passed back to the same vendor family's adapter.
	AgentSessionID *string `json:"agent_session_id,omitempty" db:"agent_session_id"`

	WorktreeID string `json:"worktree_id" db:"worktree_id"`
	WorkDir    string `json:"work_dir" db:"work_dir"`

	GitState GitState `json:"git_state" db:"-"`

	Genealogy Genealogy `json:"genealogy" db:"-"`

	TaskIDs []string `json:"task_ids" db:"-"`

	MessageCount int `json:"message_count" db:"message_count"`
	ToolUseCount int `json:"tool_use_count" db:"tool_use_count"`

	AllowedTools []string     `json:"allowed_tools" db:"-"`
	Model        *ModelConfig `json:"model,omitempty" db:"-"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// CreateSessionRequest creates a new Session against an existing Worktree.
type CreateSessionRequest struct {
	WorktreeID   string       `json:"worktree_id" binding:"required"`
	Vendor       VendorFamily `json:"vendor" binding:"required"`
	Model        *ModelConfig `json:"model,omitempty"`
	AllowedTools []string     `json:"allowed_tools,omitempty"`
}

// PromptRequest is the payload for sessions.prompt.
type PromptRequest struct {
	Prompt         string   `json:"prompt" binding:"required"`
	PermissionMode string   `json:"permission_mode,omitempty"`
	AllowedTools   []string `json:"allowed_tools,omitempty"`
	Model          string   `json:"model,omitempty"`
	// PlanMode restricts the agent to read-only tools for this Task and
	// injects the plan-mode system prompt ahead of Prompt.
	PlanMode bool `json:"plan_mode,omitempty"`
}

// ForkRequest is the payload for sessions.fork.
type ForkRequest struct {
	TaskID string `json:"task_id" binding:"required"`
	Prompt string `json:"prompt" binding:"required"`
}

// SpawnRequest is the payload for sessions.spawn.
type SpawnRequest struct {
	TaskID string       `json:"task_id" binding:"required"`
	Prompt string       `json:"prompt,omitempty"`
	Config *ModelConfig `json:"config,omitempty"`
}

// CancelRequest is the payload for sessions.cancel.
type CancelRequest struct {
	TaskID string `json:"task_id" binding:"required"`
}
