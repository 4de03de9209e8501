package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/agor/agor/internal/common/apperr"
	"github.com/agor/agor/internal/eventbus"
	v1 "github.com/agor/agor/pkg/api/v1"
)

// CreatePermissionRequest records an undecided PermissionRequest raised by
// an adapter's on_permission_request callback (C9).
func (s *Store) CreatePermissionRequest(ctx context.Context, req *v1.PermissionRequest) error {
	if req.ID == "" {
		req.ID = uuid.Must(uuid.NewV7()).String()
	}
	req.CreatedAt = s.now()

	_, err := s.writer().ExecContext(ctx, s.writer().Rebind(`
		INSERT INTO permission_requests (id, task_id, session_id, tool_name, input_preview,
			decided, allowed, scope, created_at, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), req.ID, req.TaskID, req.SessionID, req.ToolName, req.InputPreview,
		false, false, string(req.Scope), req.CreatedAt, nil)
	if err != nil {
		return apperr.FromRepository(err)
	}

	s.emit(ctx, "permission_requests", eventbus.Created, req.ID, req)
	return nil
}

// GetPermissionRequest returns a PermissionRequest by id.
func (s *Store) GetPermissionRequest(ctx context.Context, id string) (*v1.PermissionRequest, error) {
	var req v1.PermissionRequest
	err := s.reader().GetContext(ctx, &req, s.reader().Rebind(`SELECT * FROM permission_requests WHERE id = ?`), id)
	if err != nil {
		return nil, apperr.FromRepository(err)
	}
	return &req, nil
}

// ListPermissionRequestsByTask returns every PermissionRequest raised
// during a Task, in the order they were created.
func (s *Store) ListPermissionRequestsByTask(ctx context.Context, taskID string) ([]*v1.PermissionRequest, error) {
	var rows []*v1.PermissionRequest
	err := s.reader().SelectContext(ctx, &rows,
		s.reader().Rebind(`SELECT * FROM permission_requests WHERE task_id = ? ORDER BY created_at ASC`), taskID)
	if err != nil {
		return nil, apperr.FromRepository(err)
	}
	return rows, nil
}

// DecidePermissionRequest records the arbiter's resolution. Calling it
// twice on the same request is rejected with apperr.Conflict — a decision
// is made exactly once (C9).
func (s *Store) DecidePermissionRequest(ctx context.Context, id string, allow bool, scope v1.PermissionDecisionScope) (*v1.PermissionRequest, error) {
	req, err := s.GetPermissionRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Decided {
		return nil, apperr.Conflictf("permission request %s already decided", id)
	}

	now := s.now()
	res, err := s.writer().ExecContext(ctx, s.writer().Rebind(`
		UPDATE permission_requests SET decided = ?, allowed = ?, scope = ?, decided_at = ?
		WHERE id = ? AND decided = ?
	`), true, allow, string(scope), now, id, false)
	if err != nil {
		return nil, apperr.FromRepository(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, apperr.Conflictf("permission request %s already decided", id)
	}

	req.Decided, req.Allowed, req.Scope, req.DecidedAt = true, allow, scope, &now
	s.emit(ctx, "permission_requests", eventbus.Patched, id, req)
	return req, nil
}
