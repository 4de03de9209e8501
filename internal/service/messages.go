package service

import (
	"context"

	"github.com/agor/agor/internal/common/apperr"
	v1 "github.com/agor/agor/pkg/api/v1"
)

// CreateMessage implements messages.create, the call the Executor Process
// makes for every incremental block it receives from a Vendor Tool
// Adapter (spec.md §4.5 step 5). Authorization here is narrower than the
// principal-based checks elsewhere: the caller is an executor token
// scoped to one session and task, so the RPC handler verifies the token's
// session id matches draft.SessionID before calling this method rather than repeating
// an ownership lookup on every message of a streaming response.
func (s *Service) CreateMessage(ctx context.Context, draft v1.DraftMessage) (*v1.Message, error) {
	if draft.SessionID == "" {
		return nil, apperr.Validationf("message draft missing session_id")
	}
	return s.store.AppendMessage(ctx, draft)
}

// GetMessage implements messages.get.
func (s *Service) GetMessage(ctx context.Context, principal v1.Principal, id string) (*v1.Message, error) {
	msg, err := s.store.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	sess, err := s.store.GetSession(ctx, msg.SessionID)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(principal, sess.OwnerID); err != nil {
		return nil, err
	}
	return msg, nil
}

// ListMessages implements messages.find scoped to one session, returned
// in index order (spec.md §5 ordering guarantees).
func (s *Service) ListMessages(ctx context.Context, principal v1.Principal, sessionID string) ([]*v1.Message, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(principal, sess.OwnerID); err != nil {
		return nil, err
	}
	return s.store.ListMessagesBySession(ctx, sessionID)
}
