package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agor/agor/internal/common/apperr"
	v1 "github.com/agor/agor/pkg/api/v1"
)

func TestCreateAndGetWorktree(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	wt := &v1.Worktree{RepoID: "repo-1", Path: "/work/repo-1", Ref: "main", CreatorID: "user-1"}
	require.NoError(t, s.CreateWorktree(ctx, wt))
	require.NotEmpty(t, wt.ID)

	got, err := s.GetWorktree(ctx, wt.ID)
	require.NoError(t, err)
	require.Equal(t, wt.Path, got.Path)
	require.Nil(t, got.BoardID)
}

func TestAssignWorktreeBoard(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wt := seedWorktree(t, s)

	board := &v1.Board{Name: "sprint-1", CreatorID: "user-1"}
	require.NoError(t, s.CreateBoard(ctx, board))

	require.NoError(t, s.AssignWorktreeBoard(ctx, wt.ID, &board.ID))
	got, err := s.GetWorktree(ctx, wt.ID)
	require.NoError(t, err)
	require.Equal(t, board.ID, *got.BoardID)

	listed, err := s.ListWorktreesByBoard(ctx, board.ID)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	require.NoError(t, s.AssignWorktreeBoard(ctx, wt.ID, nil))
	got, err = s.GetWorktree(ctx, wt.ID)
	require.NoError(t, err)
	require.Nil(t, got.BoardID)
}

func TestAssignWorktreeBoardNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.AssignWorktreeBoard(context.Background(), "missing", nil)
	require.True(t, apperr.Is(err, apperr.NotFound))
}

func TestRemoveWorktree(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wt := seedWorktree(t, s)

	require.NoError(t, s.RemoveWorktree(ctx, wt.ID))
	_, err := s.GetWorktree(ctx, wt.ID)
	require.True(t, apperr.Is(err, apperr.NotFound))
}
