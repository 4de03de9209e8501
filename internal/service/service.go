package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/agor/agor/internal/common/apperr"
	"github.com/agor/agor/internal/common/logger"
	"github.com/agor/agor/internal/mcp"
	"github.com/agor/agor/internal/permission"
	"github.com/agor/agor/internal/store"
	v1 "github.com/agor/agor/pkg/api/v1"
)

// Scheduler is the subset of internal/scheduler.Scheduler the Service
// Layer drives from sessions.prompt/sessions.cancel.
type Scheduler interface {
	EnqueuePrompt(ctx context.Context, sessionID string, req v1.PromptRequest) (*v1.Task, error)
	Cancel(ctx context.Context, taskID string) error
}

// Store is the subset of internal/store.Store every service file in this
// package draws from. Declared once here, not per-file, because most
// verbs span more than one entity (e.g. sessions.fork reads the session,
// writes a new one, and reads the source task).
type Store interface {
	// sessions
	CreateSession(ctx context.Context, sess *v1.Session) error
	GetSession(ctx context.Context, id string) (*v1.Session, error)
	ListSessionsByOwner(ctx context.Context, ownerID string) ([]*v1.Session, error)
	ListSessionsByWorktree(ctx context.Context, worktreeID string) ([]*v1.Session, error)
	PatchSession(ctx context.Context, id string, patch store.SessionPatch) (*v1.Session, error)
	RemoveSession(ctx context.Context, id string) error
	Ancestors(ctx context.Context, id string) ([]string, error)
	WouldCycle(ctx context.Context, childCandidate, proposedParent string) (bool, error)

	// tasks
	CreateTask(ctx context.Context, task *v1.Task) error
	GetTask(ctx context.Context, id string) (*v1.Task, error)
	ListTasksBySession(ctx context.Context, sessionID string) ([]*v1.Task, error)
	PatchTask(ctx context.Context, id string, patch store.TaskPatch) (*v1.Task, error)

	// messages
	AppendMessage(ctx context.Context, draft v1.DraftMessage) (*v1.Message, error)
	GetMessage(ctx context.Context, id string) (*v1.Message, error)
	ListMessagesBySession(ctx context.Context, sessionID string) ([]*v1.Message, error)

	// worktrees
	CreateWorktree(ctx context.Context, wt *v1.Worktree) error
	GetWorktree(ctx context.Context, id string) (*v1.Worktree, error)
	ListWorktreesByBoard(ctx context.Context, boardID string) ([]*v1.Worktree, error)
	AssignWorktreeBoard(ctx context.Context, worktreeID string, boardID *string) error
	RemoveWorktree(ctx context.Context, id string) error

	// boards
	CreateBoard(ctx context.Context, b *v1.Board) error
	GetBoard(ctx context.Context, id string) (*v1.Board, error)
	ListBoards(ctx context.Context) ([]*v1.Board, error)
	RemoveBoard(ctx context.Context, id string) error
	UpsertObject(ctx context.Context, boardID string, obj v1.BoardObject) (*v1.Board, error)
	BatchUpsertObjects(ctx context.Context, boardID string, objs []v1.BoardObject) (*v1.Board, error)
	RemoveObject(ctx context.Context, boardID, objectID string) (*v1.Board, error)
	UpdatePosition(ctx context.Context, boardID, objectID string, x, y float64) (*v1.Board, error)

	// mcp
	CreateMCPServer(ctx context.Context, srv *v1.MCPServer) error
	GetMCPServer(ctx context.Context, id string) (*v1.MCPServer, error)
	ListMCPServersByOwner(ctx context.Context, ownerID string) ([]*v1.MCPServer, error)
	RemoveMCPServer(ctx context.Context, id string) error
	AssignMCPServerToSession(ctx context.Context, sessionID, mcpServerID string, enabled bool) error
	ListMCPAssignmentsForSession(ctx context.Context, sessionID string) ([]v1.SessionMCPAssignment, error)
	RemoveMCPAssignment(ctx context.Context, sessionID, mcpServerID string) error

	// users
	CreateUser(ctx context.Context, u *v1.User) error
	GetUser(ctx context.Context, id string) (*v1.User, error)
	GetUserByEmail(ctx context.Context, email string) (*v1.User, error)

	// permissions
	CreatePermissionRequest(ctx context.Context, req *v1.PermissionRequest) error
	GetPermissionRequest(ctx context.Context, id string) (*v1.PermissionRequest, error)
	ListPermissionRequestsByTask(ctx context.Context, taskID string) ([]*v1.PermissionRequest, error)
	DecidePermissionRequest(ctx context.Context, id string, allow bool, scope v1.PermissionDecisionScope) (*v1.PermissionRequest, error)
}

// Service is the Service Layer (C3): the single facade every RPC handler
// calls into. One instance is constructed at daemon startup and shared by
// the RPC surface and, indirectly, by the Task Scheduler it wires up.
type Service struct {
	store     Store
	scheduler Scheduler
	arbiter   *permission.Arbiter
	signer    *TokenSigner
	log       *logger.Logger
}

// New constructs the Service Layer facade.
func New(store Store, scheduler Scheduler, arbiter *permission.Arbiter, signer *TokenSigner, log *logger.Logger) *Service {
	return &Service{
		store:     store,
		scheduler: scheduler,
		arbiter:   arbiter,
		signer:    signer,
		log:       log.WithFields(zap.String("component", "service")),
	}
}

// requireOwner enforces that principal owns or is permitted the target
// entity (spec.md §4.3: "every verb validates that the principal owns or
// is permitted the target entity"). The admin role bypasses ownership
// checks.
func requireOwner(principal v1.Principal, ownerID string) error {
	if principal.Role == "admin" {
		return nil
	}
	if principal.UserID != ownerID {
		return apperr.Forbiddenf("principal %s does not own this resource", principal.UserID)
	}
	return nil
}

// ResolveMCPServers runs the MCP Resolver's selection pass (C7) for a
// session, serving the RPC handler behind internal/rpcclient.Client's
// ResolveMCPServers — the daemon-side half of the selection/render split
// (spec.md §4.7). The principal must own the session.
func (s *Service) ResolveMCPServers(ctx context.Context, principal v1.Principal, sessionID string) ([]v1.ResolvedMCPServer, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(principal, sess.OwnerID); err != nil {
		return nil, err
	}
	return mcp.Select(ctx, s.store, sess)
}
