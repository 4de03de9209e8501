package v1

import "time"

// Worktree is a git working directory belonging to at most one Board.
// Creation/destruction mechanics are an external collaborator (see
// spec.md §1 Non-goals); this is the durable record the rest of the
// system references.
type Worktree struct {
	ID        string    `json:"id" db:"id"`
	RepoID    string    `json:"repo_id" db:"repo_id"`
	Path      string    `json:"path" db:"path"`
	Ref       string    `json:"ref" db:"ref"`
	BoardID   *string   `json:"board_id,omitempty" db:"board_id"`
	CreatorID string    `json:"creator_id" db:"creator_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// CreateWorktreeRequest registers a worktree the external collaborator has
// already materialized on disk.
type CreateWorktreeRequest struct {
	RepoID string `json:"repo_id" binding:"required"`
	Path   string `json:"path" binding:"required"`
	Ref    string `json:"ref" binding:"required"`
}
