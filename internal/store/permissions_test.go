package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agor/agor/internal/common/apperr"
	v1 "github.com/agor/agor/pkg/api/v1"
)

func seedPermissionRequest(t *testing.T, s *Store, taskID, sessionID string) *v1.PermissionRequest {
	t.Helper()
	req := &v1.PermissionRequest{
		TaskID:       taskID,
		SessionID:    sessionID,
		ToolName:     "bash",
		InputPreview: "rm -rf /tmp/scratch",
	}
	require.NoError(t, s.CreatePermissionRequest(context.Background(), req))
	return req
}

func TestCreateAndGetPermissionRequest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wt := seedWorktree(t, s)
	sess := seedSession(t, s, wt.ID)
	task := seedTask(t, s, sess.ID)

	req := seedPermissionRequest(t, s, task.ID, sess.ID)

	got, err := s.GetPermissionRequest(ctx, req.ID)
	require.NoError(t, err)
	require.False(t, got.Decided)
	require.Equal(t, "bash", got.ToolName)
}

func TestListPermissionRequestsByTaskOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wt := seedWorktree(t, s)
	sess := seedSession(t, s, wt.ID)
	task := seedTask(t, s, sess.ID)

	first := seedPermissionRequest(t, s, task.ID, sess.ID)
	second := seedPermissionRequest(t, s, task.ID, sess.ID)

	list, err := s.ListPermissionRequestsByTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, first.ID, list[0].ID)
	require.Equal(t, second.ID, list[1].ID)
}

func TestDecidePermissionRequest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wt := seedWorktree(t, s)
	sess := seedSession(t, s, wt.ID)
	task := seedTask(t, s, sess.ID)
	req := seedPermissionRequest(t, s, task.ID, sess.ID)

	decided, err := s.DecidePermissionRequest(ctx, req.ID, true, v1.ScopeOnce)
	require.NoError(t, err)
	require.True(t, decided.Decided)
	require.True(t, decided.Allowed)
	require.NotNil(t, decided.DecidedAt)
}

func TestDecidePermissionRequestTwiceIsConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wt := seedWorktree(t, s)
	sess := seedSession(t, s, wt.ID)
	task := seedTask(t, s, sess.ID)
	req := seedPermissionRequest(t, s, task.ID, sess.ID)

	_, err := s.DecidePermissionRequest(ctx, req.ID, true, v1.ScopeOnce)
	require.NoError(t, err)

	_, err = s.DecidePermissionRequest(ctx, req.ID, false, v1.ScopeOnce)
	require.True(t, apperr.Is(err, apperr.Conflict))
}
