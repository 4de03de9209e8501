package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/agor/agor/internal/common/apperr"
	"github.com/agor/agor/internal/eventbus"
	v1 "github.com/agor/agor/pkg/api/v1"
)

type worktreeRow struct {
	ID        string  `db:"id"`
	RepoID    string  `db:"repo_id"`
	Path      string  `db:"path"`
	Ref       string  `db:"ref"`
	BoardID   *string `db:"board_id"`
	CreatorID string  `db:"creator_id"`
}

func rowToWorktree(r worktreeRow) *v1.Worktree {
	return &v1.Worktree{
		ID:        r.ID,
		RepoID:    r.RepoID,
		Path:      r.Path,
		Ref:       r.Ref,
		BoardID:   r.BoardID,
		CreatorID: r.CreatorID,
	}
}

// CreateWorktree registers a worktree materialized by an external
// collaborator (spec.md §1 Non-goals) against the repo/ref the caller names.
func (s *Store) CreateWorktree(ctx context.Context, wt *v1.Worktree) error {
	if wt.ID == "" {
		wt.ID = uuid.Must(uuid.NewV7()).String()
	}
	now := s.now()
	wt.CreatedAt, wt.UpdatedAt = now, now

	_, err := s.writer().ExecContext(ctx, s.writer().Rebind(`
		INSERT INTO worktrees (id, repo_id, path, ref, board_id, creator_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), wt.ID, wt.RepoID, wt.Path, wt.Ref, wt.BoardID, wt.CreatorID, now, now)
	if err != nil {
		return apperr.FromRepository(err)
	}

	s.emit(ctx, "worktrees", eventbus.Created, wt.ID, wt)
	return nil
}

// GetWorktree returns a Worktree by id.
func (s *Store) GetWorktree(ctx context.Context, id string) (*v1.Worktree, error) {
	var row worktreeRow
	err := s.reader().GetContext(ctx, &row, s.reader().Rebind(`SELECT * FROM worktrees WHERE id = ?`), id)
	if err != nil {
		return nil, apperr.FromRepository(err)
	}
	return rowToWorktree(row), nil
}

// ListWorktreesByBoard returns every Worktree assigned to a Board.
func (s *Store) ListWorktreesByBoard(ctx context.Context, boardID string) ([]*v1.Worktree, error) {
	var rows []worktreeRow
	err := s.reader().SelectContext(ctx, &rows,
		s.reader().Rebind(`SELECT * FROM worktrees WHERE board_id = ?`), boardID)
	if err != nil {
		return nil, apperr.FromRepository(err)
	}
	out := make([]*v1.Worktree, 0, len(rows))
	for _, r := range rows {
		out = append(out, rowToWorktree(r))
	}
	return out, nil
}

// AssignWorktreeBoard sets or clears (boardID == nil) the Worktree's Board,
// the link invariant 4 relies on: "only worktree_id may appear on a board".
func (s *Store) AssignWorktreeBoard(ctx context.Context, worktreeID string, boardID *string) error {
	res, err := s.writer().ExecContext(ctx, s.writer().Rebind(`
		UPDATE worktrees SET board_id = ?, updated_at = ? WHERE id = ?
	`), boardID, s.now(), worktreeID)
	if err != nil {
		return apperr.FromRepository(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFoundf("worktree %s", worktreeID)
	}
	s.emit(ctx, "worktrees", eventbus.Patched, worktreeID, map[string]any{"id": worktreeID, "board_id": boardID})
	return nil
}

// RemoveWorktree deletes a Worktree row. It does not itself cascade to
// Sessions referencing it (no ON DELETE CASCADE on worktree_id, since a
// Session's foreign key needs to survive normal Session mutations); the
// Service Layer removes dependent Sessions first so the net effect matches
// spec.md §5 invariant 5, "deleting a worktree cascades to its sessions".
// Called directly with dependents still attached, a foreign key violation
// surfaces as apperr.Conflict.
func (s *Store) RemoveWorktree(ctx context.Context, id string) error {
	res, err := s.writer().ExecContext(ctx, s.writer().Rebind(`DELETE FROM worktrees WHERE id = ?`), id)
	if err != nil {
		return apperr.FromRepository(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFoundf("worktree %s", id)
	}
	s.emit(ctx, "worktrees", eventbus.Removed, id, map[string]string{"id": id})
	return nil
}
