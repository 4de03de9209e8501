package service

import (
	"context"

	"github.com/agor/agor/internal/store"
	v1 "github.com/agor/agor/pkg/api/v1"
)

// TaskPatchRequest is the RPC-facing shape for finalizing a Task,
// authenticated with an executor token rather than a user principal
// (spec.md §4.5 step 6: the owning Executor is the only writer). Field
// names mirror internal/rpcclient.TaskPatchRequest, the wire shape the
// Executor Process sends, so the RPC handler can decode the request body
// directly into this struct.
type TaskPatchRequest struct {
	Status        v1.TaskStatus    `json:"status"`
	Reason        v1.FailureReason `json:"reason,omitempty"`
	ResolvedModel *string          `json:"resolved_model,omitempty"`
	InputTokens   *int             `json:"input_tokens,omitempty"`
	OutputTokens  *int             `json:"output_tokens,omitempty"`
	ToolUseCount  *int             `json:"tool_use_count,omitempty"`
	GitShaEnd     *string          `json:"git_sha_end,omitempty"`
}

// GetTask implements tasks.get.
func (s *Service) GetTask(ctx context.Context, principal v1.Principal, id string) (*v1.Task, error) {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	sess, err := s.store.GetSession(ctx, task.SessionID)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(principal, sess.OwnerID); err != nil {
		return nil, err
	}
	return task, nil
}

// ListTasks implements tasks.find scoped to one session.
func (s *Service) ListTasks(ctx context.Context, principal v1.Principal, sessionID string) ([]*v1.Task, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(principal, sess.OwnerID); err != nil {
		return nil, err
	}
	return s.store.ListTasksBySession(ctx, sessionID)
}

// PatchTaskFromExecutor finalizes a Task's terminal status and usage
// counters. Authenticated by the RPC handler with an executor token
// scoped to this exact task id, not a user Principal — no other writer
// may mutate a running Task (spec.md §3 "Tasks ... mutated only by the
// owning Executor").
func (s *Service) PatchTaskFromExecutor(ctx context.Context, taskID string, req TaskPatchRequest) (*v1.Task, error) {
	patch := store.TaskPatch{
		ResolvedModel: req.ResolvedModel,
		InputTokens:   req.InputTokens,
		OutputTokens:  req.OutputTokens,
		ToolUseCount:  req.ToolUseCount,
		GitShaEnd:     req.GitShaEnd,
	}
	if req.Status != "" {
		status := req.Status
		patch.Status = &status
		patch.Completed = status == v1.TaskCompleted || status == v1.TaskFailed
	}
	if req.Reason != "" {
		reason := req.Reason
		patch.Reason = &reason
	}
	return s.store.PatchTask(ctx, taskID, patch)
}
