package v1

import "time"

// User is the identity used for ownership, token scoping, and per-user
// env-var secret storage (MCP template resolution, §4.7).
type User struct {
	ID        string    `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	Role      string    `json:"role" db:"role"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Principal is the authenticated identity attached to a request
// (params.user in spec.md §4.3), injected by the RPC auth middleware.
type Principal struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}
