package v1

import "time"

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// FailureReason is set on a failed Task to distinguish cancellation, orphan
// reconciliation, and ordinary adapter failure.
type FailureReason string

const (
	FailureNone     FailureReason = ""
	FailureCancelled FailureReason = "cancelled"
	FailureOrphaned FailureReason = "orphaned"
)

// MessageRange is the contiguous, non-overlapping slice of a session's
// Messages produced by one Task.
type MessageRange struct {
	StartIndex int `json:"start_index" db:"start_index"`
	EndIndex   int `json:"end_index" db:"end_index"`
}

// GitShas records the worktree's commit at task start and end. Completing a
// Task does not update the owning Session's GitState.
type GitShas struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// Task is one user prompt and its induced assistant/tool/message sequence
// within a Session.
type Task struct {
	ID          string        `json:"id" db:"id"`
	SessionID   string        `json:"session_id" db:"session_id"`
	Status      TaskStatus    `json:"status" db:"status"`
	Reason      FailureReason `json:"reason,omitempty" db:"reason"`
	Description string        `json:"description" db:"description"`
	Prompt      string        `json:"prompt" db:"prompt"`

	Range        MessageRange `json:"message_range" db:"-"`
	ToolUseCount int          `json:"tool_use_count" db:"tool_use_count"`

	ResolvedModel *string `json:"resolved_model,omitempty" db:"resolved_model"`
	InputTokens   int     `json:"input_tokens" db:"input_tokens"`
	OutputTokens  int     `json:"output_tokens" db:"output_tokens"`

	GitShas GitShas `json:"git_shas" db:"-"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// PermissionOption is a single choice presented alongside a permission request.
type PermissionOption struct {
	OptionID string `json:"option_id"`
	Name     string `json:"name"`
}

// PermissionDecisionScope controls how long a permission grant persists.
type PermissionDecisionScope string

const (
	ScopeOnce    PermissionDecisionScope = "once"
	ScopeTask    PermissionDecisionScope = "task"
	ScopeSession PermissionDecisionScope = "session"
)

// PermissionRequest is the entity written to the store when an adapter
// raises on_permission_request (C9).
type PermissionRequest struct {
	ID          string    `json:"id" db:"id"`
	TaskID      string    `json:"task_id" db:"task_id"`
	SessionID   string    `json:"session_id" db:"session_id"`
	ToolName    string    `json:"tool_name" db:"tool_name"`
	InputPreview string   `json:"input_preview" db:"input_preview"`
	Decided     bool      `json:"decided" db:"decided"`
	Allowed     bool      `json:"allowed" db:"allowed"`
	Scope       PermissionDecisionScope `json:"scope,omitempty" db:"scope"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	DecidedAt   *time.Time `json:"decided_at,omitempty" db:"decided_at"`
}

// PermissionDecideRequest is the payload for permissions.decide.
type PermissionDecideRequest struct {
	RequestID string                  `json:"request_id" binding:"required"`
	Allow     bool                    `json:"allow"`
	Scope     PermissionDecisionScope `json:"scope" binding:"required"`
}
