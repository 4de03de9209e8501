package service

import (
	"context"

	v1 "github.com/agor/agor/pkg/api/v1"
)

// CreateWorktree implements worktrees.create, registering a worktree an
// external collaborator has already materialized on disk (spec.md §1
// Non-goals: creation mechanics are out of scope here).
func (s *Service) CreateWorktree(ctx context.Context, principal v1.Principal, req v1.CreateWorktreeRequest) (*v1.Worktree, error) {
	wt := &v1.Worktree{
		RepoID:    req.RepoID,
		Path:      req.Path,
		Ref:       req.Ref,
		CreatorID: principal.UserID,
	}
	if err := s.store.CreateWorktree(ctx, wt); err != nil {
		return nil, err
	}
	return wt, nil
}

// GetWorktree implements worktrees.get.
func (s *Service) GetWorktree(ctx context.Context, principal v1.Principal, id string) (*v1.Worktree, error) {
	wt, err := s.store.GetWorktree(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(principal, wt.CreatorID); err != nil {
		return nil, err
	}
	return wt, nil
}

// ListWorktreesByBoard implements worktrees.find scoped to one board.
func (s *Service) ListWorktreesByBoard(ctx context.Context, boardID string) ([]*v1.Worktree, error) {
	return s.store.ListWorktreesByBoard(ctx, boardID)
}

// AssignWorktreeBoard implements worktrees.assignBoard, placing a worktree
// onto a Board's canvas (or, with a nil boardID, clearing it off any
// board). Only the worktree's creator or an admin may move it.
func (s *Service) AssignWorktreeBoard(ctx context.Context, principal v1.Principal, worktreeID string, boardID *string) error {
	wt, err := s.store.GetWorktree(ctx, worktreeID)
	if err != nil {
		return err
	}
	if err := requireOwner(principal, wt.CreatorID); err != nil {
		return err
	}
	return s.store.AssignWorktreeBoard(ctx, worktreeID, boardID)
}

// RemoveWorktree implements worktrees.remove, cascading to every Session
// that still references this worktree (spec.md §5 invariant 5, "deleting a
// worktree cascades to its sessions") — the Entity Store enforces no such
// cascade at the schema level, so the Service Layer walks the dependent
// Sessions itself before deleting the row. Each Session removal cascades
// to its own tasks/messages in turn (internal/store.Store.RemoveSession).
func (s *Service) RemoveWorktree(ctx context.Context, principal v1.Principal, id string) error {
	wt, err := s.store.GetWorktree(ctx, id)
	if err != nil {
		return err
	}
	if err := requireOwner(principal, wt.CreatorID); err != nil {
		return err
	}

	dependents, err := s.store.ListSessionsByWorktree(ctx, id)
	if err != nil {
		return err
	}
	for _, sess := range dependents {
		if err := s.store.RemoveSession(ctx, sess.ID); err != nil {
			return err
		}
	}
	return s.store.RemoveWorktree(ctx, id)
}
