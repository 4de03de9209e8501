package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agor/agor/internal/common/apperr"
	v1 "github.com/agor/agor/pkg/api/v1"
)

func TestRemoveWorktreeCascadesSessions(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	owner := v1.Principal{UserID: "u1"}

	wt, err := svc.CreateWorktree(ctx, owner, v1.CreateWorktreeRequest{RepoID: "r1", Path: "/tmp/wt", Ref: "main"})
	require.NoError(t, err)

	sessA, err := svc.CreateSession(ctx, owner, v1.CreateSessionRequest{WorktreeID: wt.ID, Vendor: v1.VendorClaudeCode})
	require.NoError(t, err)
	sessB, err := svc.CreateSession(ctx, owner, v1.CreateSessionRequest{WorktreeID: wt.ID, Vendor: v1.VendorCodex})
	require.NoError(t, err)

	require.NoError(t, svc.RemoveWorktree(ctx, owner, wt.ID))

	_, err = st.GetSession(ctx, sessA.ID)
	require.True(t, apperr.Is(err, apperr.NotFound))
	_, err = st.GetSession(ctx, sessB.ID)
	require.True(t, apperr.Is(err, apperr.NotFound))
	_, err = st.GetWorktree(ctx, wt.ID)
	require.True(t, apperr.Is(err, apperr.NotFound))
}

func TestAssignWorktreeBoardRequiresOwnership(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	owner := v1.Principal{UserID: "u1"}
	other := v1.Principal{UserID: "u2"}

	wt, err := svc.CreateWorktree(ctx, owner, v1.CreateWorktreeRequest{RepoID: "r1", Path: "/tmp/wt", Ref: "main"})
	require.NoError(t, err)
	b, err := svc.CreateBoard(ctx, owner, v1.CreateBoardRequest{Name: "Board"})
	require.NoError(t, err)

	err = svc.AssignWorktreeBoard(ctx, other, wt.ID, &b.ID)
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.Forbidden))

	require.NoError(t, svc.AssignWorktreeBoard(ctx, owner, wt.ID, &b.ID))
	got, err := st.GetWorktree(ctx, wt.ID)
	require.NoError(t, err)
	require.NotNil(t, got.BoardID)
	require.Equal(t, b.ID, *got.BoardID)

	require.NoError(t, svc.AssignWorktreeBoard(ctx, owner, wt.ID, nil))
	got, err = st.GetWorktree(ctx, wt.ID)
	require.NoError(t, err)
	require.Nil(t, got.BoardID)
}

func TestRemoveWorktreeRequiresOwnership(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	owner := v1.Principal{UserID: "u1"}
	other := v1.Principal{UserID: "u2"}

	wt, err := svc.CreateWorktree(ctx, owner, v1.CreateWorktreeRequest{RepoID: "r1", Path: "/tmp/wt", Ref: "main"})
	require.NoError(t, err)

	err = svc.RemoveWorktree(ctx, other, wt.ID)
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.Forbidden))
}
