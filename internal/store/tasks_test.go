package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agor/agor/internal/common/apperr"
	v1 "github.com/agor/agor/pkg/api/v1"
)

func TestCreateAndGetTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wt := seedWorktree(t, s)
	sess := seedSession(t, s, wt.ID)

	task := &v1.Task{SessionID: sess.ID, Prompt: "fix the bug", Description: "quick patch"}
	require.NoError(t, s.CreateTask(ctx, task))
	require.Equal(t, v1.TaskPending, task.Status)

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, "fix the bug", got.Prompt)
}

func TestListTasksBySessionOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wt := seedWorktree(t, s)
	sess := seedSession(t, s, wt.ID)

	first := &v1.Task{SessionID: sess.ID, Prompt: "first"}
	require.NoError(t, s.CreateTask(ctx, first))
	second := &v1.Task{SessionID: sess.ID, Prompt: "second"}
	require.NoError(t, s.CreateTask(ctx, second))

	tasks, err := s.ListTasksBySession(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	require.Equal(t, first.ID, tasks[0].ID)
	require.Equal(t, second.ID, tasks[1].ID)
}

func TestRunningTaskForSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wt := seedWorktree(t, s)
	sess := seedSession(t, s, wt.ID)
	task := seedTask(t, s, sess.ID)

	none, err := s.RunningTaskForSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Nil(t, none)

	running := v1.TaskRunning
	_, err = s.PatchTask(ctx, task.ID, TaskPatch{Status: &running, Started: true})
	require.NoError(t, err)

	got, err := s.RunningTaskForSession(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, task.ID, got.ID)
}

func TestPatchTaskNotFound(t *testing.T) {
	s := newTestStore(t)
	completed := v1.TaskCompleted
	_, err := s.PatchTask(context.Background(), "missing", TaskPatch{Status: &completed})
	require.True(t, apperr.Is(err, apperr.NotFound))
}
