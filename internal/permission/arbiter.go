// Package permission implements the Permission Arbiter (C9): synchronous
// permission prompts raised by executor tool calls, routed to the
// originating user's live clients and resolved via permissions.decide
// (spec.md §4.9).
package permission

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agor/agor/internal/common/apperr"
	"github.com/agor/agor/internal/common/logger"
	v1 "github.com/agor/agor/pkg/api/v1"
)

// Store is the subset of internal/store.Store the Arbiter needs.
// PatchSessionAllowedTools is a narrow wrapper store.Store exposes around
// its general PatchSession, so this leaf package doesn't need to import
// the store package's patch struct.
type Store interface {
	CreatePermissionRequest(ctx context.Context, req *v1.PermissionRequest) error
	DecidePermissionRequest(ctx context.Context, id string, allow bool, scope v1.PermissionDecisionScope) (*v1.PermissionRequest, error)
	GetSession(ctx context.Context, id string) (*v1.Session, error)
	PatchSessionAllowedTools(ctx context.Context, id string, tools []string) (*v1.Session, error)
}

// Decision is the outcome returned to the blocked adapter callback.
type Decision struct {
	Allow bool
	Scope v1.PermissionDecisionScope
}

type pendingRequest struct {
	ch chan Decision
}

// Arbiter blocks an adapter's on_permission_request callback on an
// internal future until a decision arrives via Decide, or the configured
// timeout elapses (default-deny on expiry, spec.md §4.9 step 5).
type Arbiter struct {
	store   Store
	log     *logger.Logger
	timeout time.Duration

	mu       sync.Mutex
	pendings map[string]*pendingRequest
}

// New constructs an Arbiter with the configured permission-prompt timeout
// (never below 30s, enforced by internal/common/config's validate()).
func New(store Store, log *logger.Logger, timeout time.Duration) *Arbiter {
	return &Arbiter{
		store:    store,
		log:      log.WithFields(zap.String("component", "permission-arbiter")),
		timeout:  timeout,
		pendings: make(map[string]*pendingRequest),
	}
}

// Request is called by the RPC handler serving the adapter's blocked
// on_permission_request. It writes the request entity (fanning out via the
// Event Bus through the Store's emit-after-commit discipline), then blocks
// until Decide is called for this id or the timeout elapses.
func (a *Arbiter) Request(ctx context.Context, taskID, sessionID, toolName, inputPreview string) (Decision, error) {
	req := &v1.PermissionRequest{
		TaskID:       taskID,
		SessionID:    sessionID,
		ToolName:     toolName,
		InputPreview: inputPreview,
	}
	if err := a.store.CreatePermissionRequest(ctx, req); err != nil {
		return Decision{}, err
	}

	pending := &pendingRequest{ch: make(chan Decision, 1)}
	a.mu.Lock()
	a.pendings[req.ID] = pending
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.pendings, req.ID)
		a.mu.Unlock()
	}()

	timer := time.NewTimer(a.timeout)
	defer timer.Stop()

	select {
	case d := <-pending.ch:
		return d, nil
	case <-timer.C:
		a.log.Warn("permission request timed out, defaulting to deny",
			zap.String("request_id", req.ID), zap.String("tool_name", toolName))
		if _, err := a.store.DecidePermissionRequest(ctx, req.ID, false, v1.ScopeOnce); err != nil && !apperr.Is(err, apperr.Conflict) {
			a.log.WithError(err).Error("failed to persist timeout deny decision")
		}
		return Decision{Allow: false, Scope: v1.ScopeOnce}, nil
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	}
}

// Decide implements permissions.decide: the first decision for a request
// id wins, later ones are rejected with apperr.Conflict (spec.md §4.9 step
// 3, and store.DecidePermissionRequest's own idempotence guard). If scope
// extends beyond "once", the session's allowed-tools list is atomically
// extended before returning, per step 4.
func (a *Arbiter) Decide(ctx context.Context, requestID string, allow bool, scope v1.PermissionDecisionScope) error {
	req, err := a.store.DecidePermissionRequest(ctx, requestID, allow, scope)
	if err != nil {
		return err
	}

	if allow && scope != v1.ScopeOnce {
		if err := a.extendAllowedTools(ctx, req.SessionID, req.ToolName); err != nil {
			return err
		}
	}

	a.mu.Lock()
	pending, ok := a.pendings[requestID]
	a.mu.Unlock()
	if ok {
		select {
		case pending.ch <- Decision{Allow: allow, Scope: scope}:
		default:
		}
	}
	return nil
}

func (a *Arbiter) extendAllowedTools(ctx context.Context, sessionID, toolName string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	sess, err := a.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	for _, t := range sess.AllowedTools {
		if t == toolName {
			return nil
		}
	}
	updated := append(append([]string{}, sess.AllowedTools...), toolName)
	_, err = a.store.PatchSessionAllowedTools(ctx, sessionID, updated)
	return err
}
