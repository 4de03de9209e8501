package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/agor/agor/internal/common/apperr"
	"github.com/agor/agor/internal/eventbus"
	v1 "github.com/agor/agor/pkg/api/v1"
)

type taskRow struct {
	ID            string  `db:"id"`
	SessionID     string  `db:"session_id"`
	Status        string  `db:"status"`
	Reason        string  `db:"reason"`
	Description   string  `db:"description"`
	Prompt        string  `db:"prompt"`
	StartIndex    int     `db:"start_index"`
	EndIndex      int     `db:"end_index"`
	ToolUseCount  int     `db:"tool_use_count"`
	ResolvedModel *string `db:"resolved_model"`
	InputTokens   int     `db:"input_tokens"`
	OutputTokens  int     `db:"output_tokens"`
	GitShaStart   string  `db:"git_sha_start"`
	GitShaEnd     string  `db:"git_sha_end"`
}

func rowToTask(r taskRow) *v1.Task {
	return &v1.Task{
		ID:            r.ID,
		SessionID:     r.SessionID,
		Status:        v1.TaskStatus(r.Status),
		Reason:        v1.FailureReason(r.Reason),
		Description:   r.Description,
		Prompt:        r.Prompt,
		Range:         v1.MessageRange{StartIndex: r.StartIndex, EndIndex: r.EndIndex},
		ToolUseCount:  r.ToolUseCount,
		ResolvedModel: r.ResolvedModel,
		InputTokens:   r.InputTokens,
		OutputTokens:  r.OutputTokens,
		GitShas:       v1.GitShas{Start: r.GitShaStart, End: r.GitShaEnd},
	}
}

// CreateTask inserts a pending Task (spec.md §4.4 step 1). The message
// range starts empty ([0,0)) and is extended by Message.append as messages
// are appended against this task.
func (s *Store) CreateTask(ctx context.Context, task *v1.Task) error {
	if task.ID == "" {
		task.ID = uuid.Must(uuid.NewV7()).String()
	}
	now := s.now()
	task.CreatedAt, task.UpdatedAt = now, now
	if task.Status == "" {
		task.Status = v1.TaskPending
	}

	_, err := s.writer().ExecContext(ctx, s.writer().Rebind(`
		INSERT INTO tasks (id, session_id, status, reason, description, prompt,
			start_index, end_index, tool_use_count, resolved_model, input_tokens, output_tokens,
			git_sha_start, git_sha_end, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), task.ID, task.SessionID, string(task.Status), string(task.Reason), task.Description, task.Prompt,
		task.Range.StartIndex, task.Range.EndIndex, 0, task.ResolvedModel, 0, 0,
		task.GitShas.Start, task.GitShas.End, now, now)
	if err != nil {
		return apperr.FromRepository(err)
	}

	s.emit(ctx, "tasks", eventbus.Created, task.ID, task)
	return nil
}

// GetTask returns a Task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*v1.Task, error) {
	var row taskRow
	err := s.reader().GetContext(ctx, &row, s.reader().Rebind(`SELECT * FROM tasks WHERE id = ?`), id)
	if err != nil {
		return nil, apperr.FromRepository(err)
	}
	return rowToTask(row), nil
}

// ListTasksBySession returns every Task in a session, creation order — the
// same order invariant 1 (spec.md §3) requires of Session.task_ids.
func (s *Store) ListTasksBySession(ctx context.Context, sessionID string) ([]*v1.Task, error) {
	var rows []taskRow
	err := s.reader().SelectContext(ctx, &rows,
		s.reader().Rebind(`SELECT * FROM tasks WHERE session_id = ? ORDER BY created_at ASC`), sessionID)
	if err != nil {
		return nil, apperr.FromRepository(err)
	}
	out := make([]*v1.Task, 0, len(rows))
	for _, r := range rows {
		out = append(out, rowToTask(r))
	}
	return out, nil
}

// RunningTaskForSession returns the session's in-flight task, if any —
// used to enforce "a session has at most one running task" (spec.md §4.4).
func (s *Store) RunningTaskForSession(ctx context.Context, sessionID string) (*v1.Task, error) {
	var row taskRow
	err := s.reader().GetContext(ctx, &row,
		s.reader().Rebind(`SELECT * FROM tasks WHERE session_id = ? AND status = ? LIMIT 1`),
		sessionID, string(v1.TaskRunning))
	if err != nil {
		if apperr.Is(apperr.FromRepository(err), apperr.NotFound) {
			return nil, nil
		}
		return nil, apperr.FromRepository(err)
	}
	return rowToTask(row), nil
}

// ListRunningTasks returns every Task currently in status running, across
// all sessions. Used by the Task Scheduler (C4) at daemon startup to
// reconcile tasks a prior process crashed while executing (spec.md §4.4:
// "any Task left in running with no live subprocess is marked failed with
// reason orphaned").
func (s *Store) ListRunningTasks(ctx context.Context) ([]*v1.Task, error) {
	var rows []taskRow
	err := s.reader().SelectContext(ctx, &rows,
		s.reader().Rebind(`SELECT * FROM tasks WHERE status = ? ORDER BY created_at ASC`), string(v1.TaskRunning))
	if err != nil {
		return nil, apperr.FromRepository(err)
	}
	out := make([]*v1.Task, 0, len(rows))
	for _, r := range rows {
		out = append(out, rowToTask(r))
	}
	return out, nil
}

// TaskPatch mirrors SessionPatch for Task's mutable fields.
type TaskPatch struct {
	Status        *v1.TaskStatus
	Reason        *v1.FailureReason
	EndIndex      *int
	ToolUseCount  *int
	ResolvedModel *string
	InputTokens   *int
	OutputTokens  *int
	GitShaEnd     *string
	Started       bool
	Completed     bool
}

// PatchTask applies a partial update, only the owning Executor ever calls
// this with Status transitions (spec.md §3 lifecycle: "mutated only by the
// owning Executor").
func (s *Store) PatchTask(ctx context.Context, id string, patch TaskPatch) (*v1.Task, error) {
	current, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}

	sets := []string{"updated_at = ?"}
	args := []any{s.now()}

	if patch.Status != nil {
		current.Status = *patch.Status
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if patch.Reason != nil {
		current.Reason = *patch.Reason
		sets = append(sets, "reason = ?")
		args = append(args, string(*patch.Reason))
	}
	if patch.EndIndex != nil {
		current.Range.EndIndex = *patch.EndIndex
		sets = append(sets, "end_index = ?")
		args = append(args, *patch.EndIndex)
	}
	if patch.ToolUseCount != nil {
		current.ToolUseCount = *patch.ToolUseCount
		sets = append(sets, "tool_use_count = ?")
		args = append(args, *patch.ToolUseCount)
	}
	if patch.ResolvedModel != nil {
		current.ResolvedModel = patch.ResolvedModel
		sets = append(sets, "resolved_model = ?")
		args = append(args, *patch.ResolvedModel)
	}
	if patch.InputTokens != nil {
		current.InputTokens = *patch.InputTokens
		sets = append(sets, "input_tokens = ?")
		args = append(args, *patch.InputTokens)
	}
	if patch.OutputTokens != nil {
		current.OutputTokens = *patch.OutputTokens
		sets = append(sets, "output_tokens = ?")
		args = append(args, *patch.OutputTokens)
	}
	if patch.GitShaEnd != nil {
		current.GitShas.End = *patch.GitShaEnd
		sets = append(sets, "git_sha_end = ?")
		args = append(args, *patch.GitShaEnd)
	}
	if patch.Started {
		now := s.now()
		current.StartedAt = &now
		sets = append(sets, "started_at = ?")
		args = append(args, now)
	}
	if patch.Completed {
		now := s.now()
		current.CompletedAt = &now
		sets = append(sets, "completed_at = ?")
		args = append(args, now)
	}

	args = append(args, id)
	query := "UPDATE tasks SET "
	for i, set := range sets {
		if i > 0 {
			query += ", "
		}
		query += set
	}
	query += " WHERE id = ?"

	res, err := s.writer().ExecContext(ctx, s.writer().Rebind(query), args...)
	if err != nil {
		return nil, apperr.FromRepository(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, apperr.NotFoundf("task %s", id)
	}

	s.emit(ctx, "tasks", eventbus.Patched, id, current)
	return current, nil
}
