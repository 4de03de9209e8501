package v1

import "time"

// MCPTransport is the wire protocol an MCPServer speaks.
type MCPTransport string

const (
	MCPTransportStdio           MCPTransport = "stdio"
	MCPTransportHTTP            MCPTransport = "http"
	MCPTransportSSE             MCPTransport = "sse"
	MCPTransportStreamableHTTP  MCPTransport = "streamable_http"
)

// MCPScope controls whether an MCPServer is available by default to every
// session a user owns, or only to sessions it's explicitly assigned to.
type MCPScope string

const (
	MCPScopeGlobal  MCPScope = "global"
	MCPScopeSession MCPScope = "session"
)

// MCPServerSource records who/what registered an MCPServer.
type MCPServerSource string

const (
	MCPSourceUser    MCPServerSource = "user"
	MCPSourceProject MCPServerSource = "project"
	MCPSourceSystem  MCPServerSource = "system"
)

// MCPServer is a Model-Context-Protocol server definition. String fields may
// contain `{{ user.env.X }}` placeholders resolved at spawn time by the
// Resolver (C7) against the allow-listed AGOR_USER_ENV_KEYS subset.
type MCPServer struct {
	ID      string          `json:"id" db:"id"`
	Name    string          `json:"name" db:"name"`
	Transport MCPTransport  `json:"transport" db:"transport"`
	Scope   MCPScope        `json:"scope" db:"scope"`
	OwnerID *string         `json:"owner_id,omitempty" db:"owner_id"`
	Enabled bool            `json:"enabled" db:"enabled"`
	Source  MCPServerSource `json:"source" db:"source"`

	// stdio
	Command string   `json:"command,omitempty" db:"command"`
	Args    []string `json:"args,omitempty" db:"-"`
	Env     map[string]string `json:"env,omitempty" db:"-"`

	// http / sse / streamable_http
	URL       string `json:"url,omitempty" db:"url"`
	AuthToken string `json:"auth_token,omitempty" db:"auth_token"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// SessionMCPAssignment is a many-to-many edge assigning an MCPServer to a
// specific Session, used by isolated mode.
type SessionMCPAssignment struct {
	SessionID string    `json:"session_id" db:"session_id"`
	MCPServerID string  `json:"mcp_server_id" db:"mcp_server_id"`
	Enabled   bool      `json:"enabled" db:"enabled"`
	AddedAt   time.Time `json:"added_at" db:"added_at"`
}

// ResolvedMCPServer is one entry in the Resolver's (C7) output: a server
// together with the reason it was selected, and its templated fields
// already rendered against the executor's environment. Never persisted.
type ResolvedMCPServer struct {
	Server MCPServer `json:"server"`
	Source string    `json:"source"` // "isolated" | "hierarchical"
	Invalid bool     `json:"invalid,omitempty"`
	InvalidReason string `json:"invalid_reason,omitempty"`
}
