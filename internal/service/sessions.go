package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/agor/agor/internal/common/apperr"
	"github.com/agor/agor/internal/store"
	v1 "github.com/agor/agor/pkg/api/v1"
)

// CreateSession implements sessions.create against an existing Worktree.
func (s *Service) CreateSession(ctx context.Context, principal v1.Principal, req v1.CreateSessionRequest) (*v1.Session, error) {
	if !req.Vendor.Valid() {
		return nil, apperr.Validationf("unsupported vendor family %q", req.Vendor)
	}
	wt, err := s.store.GetWorktree(ctx, req.WorktreeID)
	if err != nil {
		return nil, err
	}

	sess := &v1.Session{
		OwnerID:      principal.UserID,
		Vendor:       req.Vendor,
		WorktreeID:   wt.ID,
		WorkDir:      wt.Path,
		Model:        req.Model,
		AllowedTools: req.AllowedTools,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// GetSession implements sessions.get.
func (s *Service) GetSession(ctx context.Context, principal v1.Principal, id string) (*v1.Session, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(principal, sess.OwnerID); err != nil {
		return nil, err
	}
	return sess, nil
}

// ListSessions implements sessions.find scoped to the principal's own sessions.
func (s *Service) ListSessions(ctx context.Context, principal v1.Principal) ([]*v1.Session, error) {
	return s.store.ListSessionsByOwner(ctx, principal.UserID)
}

// RemoveSession implements sessions.remove, cascading to tasks and
// messages (spec.md §3 lifecycle).
func (s *Service) RemoveSession(ctx context.Context, principal v1.Principal, id string) error {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if err := requireOwner(principal, sess.OwnerID); err != nil {
		return err
	}
	return s.store.RemoveSession(ctx, id)
}

// PatchSessionAgentID implements the narrow sessions.patch(agent_session_id=...)
// call the Executor Process makes at the end of its lifecycle step 5
// (spec.md §4.5), authenticated with an executor token rather than a user
// principal — the caller (the RPC handler) is responsible for verifying
// the executor token scopes to this session before calling this method.
func (s *Service) PatchSessionAgentID(ctx context.Context, sessionID, agentSessionID string) (*v1.Session, error) {
	return s.store.PatchSession(ctx, sessionID, store.SessionPatch{AgentSessionID: &agentSessionID})
}

// Prompt implements sessions.prompt: delegates scheduling to the Task
// Scheduler (C4) after confirming ownership. The new Task id is returned
// synchronously; further progress is observed via events (spec.md §4.3).
func (s *Service) Prompt(ctx context.Context, principal v1.Principal, sessionID string, req v1.PromptRequest) (*v1.Task, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(principal, sess.OwnerID); err != nil {
		return nil, err
	}
	return s.scheduler.EnqueuePrompt(ctx, sessionID, req)
}

// Cancel implements sessions.cancel: signals the scheduler to abort the
// identified Task after confirming the Task belongs to the session and the
// session belongs to the principal.
func (s *Service) Cancel(ctx context.Context, principal v1.Principal, sessionID, taskID string) error {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := requireOwner(principal, sess.OwnerID); err != nil {
		return err
	}
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.SessionID != sessionID {
		return apperr.Validationf("task %s does not belong to session %s", taskID, sessionID)
	}
	return s.scheduler.Cancel(ctx, taskID)
}

// Fork implements sessions.fork: creates a sibling session whose
// forked_from/fork_point_task are set, cloning config but not messages
// (the vendor resume token is deliberately dropped, spec.md §4.3).
func (s *Service) Fork(ctx context.Context, principal v1.Principal, sessionID string, req v1.ForkRequest) (*v1.Session, error) {
	source, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(principal, source.OwnerID); err != nil {
		return nil, err
	}
	task, err := s.store.GetTask(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}
	if task.SessionID != sessionID {
		return nil, apperr.Validationf("task %s does not belong to session %s", req.TaskID, sessionID)
	}

	forkedFrom := sessionID
	forkPoint := req.TaskID
	sibling := &v1.Session{
		OwnerID:      source.OwnerID,
		Vendor:       source.Vendor,
		WorktreeID:   source.WorktreeID,
		WorkDir:      source.WorkDir,
		Model:        source.Model,
		AllowedTools: append([]string{}, source.AllowedTools...),
		Genealogy: v1.Genealogy{
			ForkedFrom:    &forkedFrom,
			ForkPointTask: &forkPoint,
		},
	}
	if err := s.store.CreateSession(ctx, sibling); err != nil {
		return nil, err
	}

	if _, err := s.Prompt(ctx, principal, sibling.ID, v1.PromptRequest{Prompt: req.Prompt}); err != nil {
		s.log.Warn("fork created but initial prompt failed", zap.String("session_id", sibling.ID), zap.Error(err))
		return sibling, err
	}
	return sibling, nil
}

// Spawn implements sessions.spawn: creates a child session
// (parent_session, spawn_point_task), inheriting model/permission config,
// guarded against genealogy cycles (spec.md §9, §4.3; SPEC_FULL.md §12
// "Genealogy traversal helpers").
func (s *Service) Spawn(ctx context.Context, principal v1.Principal, sessionID string, req v1.SpawnRequest) (*v1.Session, error) {
	parent, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(principal, parent.OwnerID); err != nil {
		return nil, err
	}
	task, err := s.store.GetTask(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}
	if task.SessionID != sessionID {
		return nil, apperr.Validationf("task %s does not belong to session %s", req.TaskID, sessionID)
	}

	parentID := sessionID
	spawnPoint := req.TaskID
	model := parent.Model
	if req.Config != nil {
		model = req.Config
	}
	child := &v1.Session{
		OwnerID:      parent.OwnerID,
		Vendor:       parent.Vendor,
		WorktreeID:   parent.WorktreeID,
		WorkDir:      parent.WorkDir,
		Model:        model,
		AllowedTools: append([]string{}, parent.AllowedTools...),
		Genealogy: v1.Genealogy{
			ParentSession:  &parentID,
			SpawnPointTask: &spawnPoint,
		},
	}
	if err := s.store.CreateSession(ctx, child); err != nil {
		return nil, err
	}

	cyclic, err := s.store.WouldCycle(ctx, child.ID, parentID)
	if err != nil {
		return nil, err
	}
	if cyclic {
		_ = s.store.RemoveSession(ctx, child.ID)
		return nil, apperr.Validationf("spawning session %s from %s would create a genealogy cycle", child.ID, sessionID)
	}

	if req.Prompt != "" {
		if _, err := s.Prompt(ctx, principal, child.ID, v1.PromptRequest{Prompt: req.Prompt}); err != nil {
			s.log.Warn("spawn created but initial prompt failed", zap.String("session_id", child.ID), zap.Error(err))
			return child, err
		}
	}
	return child, nil
}
