package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agor/agor/internal/common/apperr"
	v1 "github.com/agor/agor/pkg/api/v1"
)

func TestDecidePermissionRequestRequiresSessionOwnership(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	owner := v1.Principal{UserID: "u1"}
	other := v1.Principal{UserID: "u2"}

	wt := &v1.Worktree{Path: "/tmp/wt"}
	require.NoError(t, st.CreateWorktree(ctx, wt))
	sess, err := svc.CreateSession(ctx, owner, v1.CreateSessionRequest{WorktreeID: wt.ID, Vendor: v1.VendorClaudeCode})
	require.NoError(t, err)
	task, err := svc.Prompt(ctx, owner, sess.ID, v1.PromptRequest{Prompt: "hi"})
	require.NoError(t, err)

	req := &v1.PermissionRequest{TaskID: task.ID, SessionID: sess.ID, ToolName: "bash"}
	require.NoError(t, st.CreatePermissionRequest(ctx, req))

	err = svc.DecidePermissionRequest(ctx, other, req.ID, true, v1.ScopeOnce)
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.Forbidden))

	require.NoError(t, svc.DecidePermissionRequest(ctx, owner, req.ID, true, v1.ScopeOnce))

	decided, err := st.GetPermissionRequest(ctx, req.ID)
	require.NoError(t, err)
	require.True(t, decided.Decided)
	require.True(t, decided.Allowed)
}

func TestDecidePermissionRequestTwiceConflicts(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	owner := v1.Principal{UserID: "u1"}

	wt := &v1.Worktree{Path: "/tmp/wt"}
	require.NoError(t, st.CreateWorktree(ctx, wt))
	sess, err := svc.CreateSession(ctx, owner, v1.CreateSessionRequest{WorktreeID: wt.ID, Vendor: v1.VendorClaudeCode})
	require.NoError(t, err)
	task, err := svc.Prompt(ctx, owner, sess.ID, v1.PromptRequest{Prompt: "hi"})
	require.NoError(t, err)

	req := &v1.PermissionRequest{TaskID: task.ID, SessionID: sess.ID, ToolName: "bash"}
	require.NoError(t, st.CreatePermissionRequest(ctx, req))

	require.NoError(t, svc.DecidePermissionRequest(ctx, owner, req.ID, false, v1.ScopeOnce))
	err = svc.DecidePermissionRequest(ctx, owner, req.ID, true, v1.ScopeOnce)
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.Conflict))
}

func TestListPermissionRequestsScopedToTask(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	owner := v1.Principal{UserID: "u1"}

	wt := &v1.Worktree{Path: "/tmp/wt"}
	require.NoError(t, st.CreateWorktree(ctx, wt))
	sess, err := svc.CreateSession(ctx, owner, v1.CreateSessionRequest{WorktreeID: wt.ID, Vendor: v1.VendorClaudeCode})
	require.NoError(t, err)
	task, err := svc.Prompt(ctx, owner, sess.ID, v1.PromptRequest{Prompt: "hi"})
	require.NoError(t, err)

	req := &v1.PermissionRequest{TaskID: task.ID, SessionID: sess.ID, ToolName: "bash"}
	require.NoError(t, st.CreatePermissionRequest(ctx, req))

	got, err := svc.ListPermissionRequests(ctx, owner, task.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, req.ID, got[0].ID)
}
