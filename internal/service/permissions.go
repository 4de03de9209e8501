package service

import (
	"context"

	v1 "github.com/agor/agor/pkg/api/v1"
)

// GetPermissionRequest implements permissionRequests.get.
func (s *Service) GetPermissionRequest(ctx context.Context, principal v1.Principal, id string) (*v1.PermissionRequest, error) {
	req, err := s.store.GetPermissionRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.requireSessionOwner(ctx, principal, req.SessionID); err != nil {
		return nil, err
	}
	return req, nil
}

// ListPermissionRequests implements permissionRequests.find scoped to one task.
func (s *Service) ListPermissionRequests(ctx context.Context, principal v1.Principal, taskID string) ([]*v1.PermissionRequest, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := s.requireSessionOwner(ctx, principal, task.SessionID); err != nil {
		return nil, err
	}
	return s.store.ListPermissionRequestsByTask(ctx, taskID)
}

// DecidePermissionRequest implements permissions.decide (spec.md §4.9 step
// 3): the Arbiter owns the idempotence and allowed-tools-extension logic,
// this method only confirms the deciding principal owns the requesting
// session first.
func (s *Service) DecidePermissionRequest(ctx context.Context, principal v1.Principal, requestID string, allow bool, scope v1.PermissionDecisionScope) error {
	req, err := s.store.GetPermissionRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if err := s.requireSessionOwner(ctx, principal, req.SessionID); err != nil {
		return err
	}
	return s.arbiter.Decide(ctx, requestID, allow, scope)
}

func (s *Service) requireSessionOwner(ctx context.Context, principal v1.Principal, sessionID string) error {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	return requireOwner(principal, sess.OwnerID)
}
