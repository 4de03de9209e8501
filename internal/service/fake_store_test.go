package service

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/agor/agor/internal/common/apperr"
	"github.com/agor/agor/internal/store"
	v1 "github.com/agor/agor/pkg/api/v1"
)

// fakeStore is an in-memory stand-in for internal/store.Store, following
// internal/scheduler/scheduler_test.go's fakeStore pattern: plain maps
// guarded by one mutex, deep-copied in and out so callers can't mutate
// state through a returned pointer.
type fakeStore struct {
	mu sync.Mutex

	sessions    map[string]*v1.Session
	tasks       map[string]*v1.Task
	messages    map[string]*v1.Message
	worktrees   map[string]*v1.Worktree
	boards      map[string]*v1.Board
	mcpServers  map[string]*v1.MCPServer
	assignments map[string]v1.SessionMCPAssignment
	users       map[string]*v1.User
	permReqs    map[string]*v1.PermissionRequest
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions:    make(map[string]*v1.Session),
		tasks:       make(map[string]*v1.Task),
		messages:    make(map[string]*v1.Message),
		worktrees:   make(map[string]*v1.Worktree),
		boards:      make(map[string]*v1.Board),
		mcpServers:  make(map[string]*v1.MCPServer),
		assignments: make(map[string]v1.SessionMCPAssignment),
		users:       make(map[string]*v1.User),
		permReqs:    make(map[string]*v1.PermissionRequest),
	}
}

func newID() string { return uuid.Must(uuid.NewV7()).String() }

// sessions

func (f *fakeStore) CreateSession(ctx context.Context, sess *v1.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sess.ID == "" {
		sess.ID = newID()
	}
	if sess.Status == "" {
		sess.Status = v1.SessionIdle
	}
	cp := *sess
	f.sessions[sess.ID] = &cp
	return nil
}

func (f *fakeStore) GetSession(ctx context.Context, id string) (*v1.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[id]
	if !ok {
		return nil, apperr.NotFoundf("session %s", id)
	}
	cp := *sess
	return &cp, nil
}

func (f *fakeStore) ListSessionsByOwner(ctx context.Context, ownerID string) ([]*v1.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*v1.Session
	for _, sess := range f.sessions {
		if sess.OwnerID == ownerID {
			cp := *sess
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) ListSessionsByWorktree(ctx context.Context, worktreeID string) ([]*v1.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*v1.Session
	for _, sess := range f.sessions {
		if sess.WorktreeID == worktreeID {
			cp := *sess
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) PatchSession(ctx context.Context, id string, patch store.SessionPatch) (*v1.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[id]
	if !ok {
		return nil, apperr.NotFoundf("session %s", id)
	}
	if patch.Status != nil {
		sess.Status = *patch.Status
	}
	if patch.AgentSessionID != nil {
		sess.AgentSessionID = patch.AgentSessionID
	}
	if patch.MessageCount != nil {
		sess.MessageCount = *patch.MessageCount
	}
	if patch.ToolUseCount != nil {
		sess.ToolUseCount = *patch.ToolUseCount
	}
	if patch.AllowedTools != nil {
		sess.AllowedTools = *patch.AllowedTools
	}
	if patch.GitState != nil {
		sess.GitState = *patch.GitState
	}
	cp := *sess
	return &cp, nil
}

func (f *fakeStore) RemoveSession(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[id]; !ok {
		return apperr.NotFoundf("session %s", id)
	}
	delete(f.sessions, id)
	return nil
}

func (f *fakeStore) Ancestors(ctx context.Context, id string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	current := id
	for {
		sess, ok := f.sessions[current]
		if !ok || sess.Genealogy.ParentSession == nil {
			return out, nil
		}
		out = append(out, *sess.Genealogy.ParentSession)
		current = *sess.Genealogy.ParentSession
	}
}

func (f *fakeStore) WouldCycle(ctx context.Context, childCandidate, proposedParent string) (bool, error) {
	if childCandidate == proposedParent {
		return true, nil
	}
	ancestors, err := f.Ancestors(ctx, proposedParent)
	if err != nil {
		return false, err
	}
	for _, a := range ancestors {
		if a == childCandidate {
			return true, nil
		}
	}
	return false, nil
}

// tasks

func (f *fakeStore) CreateTask(ctx context.Context, task *v1.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if task.ID == "" {
		task.ID = newID()
	}
	cp := *task
	f.tasks[task.ID] = &cp
	return nil
}

func (f *fakeStore) GetTask(ctx context.Context, id string) (*v1.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, apperr.NotFoundf("task %s", id)
	}
	cp := *t
	return &cp, nil
}

func (f *fakeStore) ListTasksBySession(ctx context.Context, sessionID string) ([]*v1.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*v1.Task
	for _, t := range f.tasks {
		if t.SessionID == sessionID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) PatchTask(ctx context.Context, id string, patch store.TaskPatch) (*v1.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, apperr.NotFoundf("task %s", id)
	}
	if patch.Status != nil {
		t.Status = *patch.Status
	}
	if patch.Reason != nil {
		t.Reason = *patch.Reason
	}
	if patch.ResolvedModel != nil {
		t.ResolvedModel = patch.ResolvedModel
	}
	if patch.InputTokens != nil {
		t.InputTokens = *patch.InputTokens
	}
	if patch.OutputTokens != nil {
		t.OutputTokens = *patch.OutputTokens
	}
	if patch.ToolUseCount != nil {
		t.ToolUseCount = *patch.ToolUseCount
	}
	if patch.GitShaEnd != nil {
		t.GitShas.End = *patch.GitShaEnd
	}
	cp := *t
	return &cp, nil
}

// messages

func (f *fakeStore) AppendMessage(ctx context.Context, draft v1.DraftMessage) (*v1.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := &v1.Message{
		ID:        newID(),
		SessionID: draft.SessionID,
		TaskID:    draft.TaskID,
		Role:      draft.Role,
		Content:   draft.Content,
		ToolUses:  draft.ToolUses,
		Metadata:  draft.Metadata,
	}
	f.messages[msg.ID] = msg
	return msg, nil
}

func (f *fakeStore) GetMessage(ctx context.Context, id string) (*v1.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok {
		return nil, apperr.NotFoundf("message %s", id)
	}
	cp := *m
	return &cp, nil
}

func (f *fakeStore) ListMessagesBySession(ctx context.Context, sessionID string) ([]*v1.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*v1.Message
	for _, m := range f.messages {
		if m.SessionID == sessionID {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

// worktrees

func (f *fakeStore) CreateWorktree(ctx context.Context, wt *v1.Worktree) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if wt.ID == "" {
		wt.ID = newID()
	}
	cp := *wt
	f.worktrees[wt.ID] = &cp
	return nil
}

func (f *fakeStore) GetWorktree(ctx context.Context, id string) (*v1.Worktree, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wt, ok := f.worktrees[id]
	if !ok {
		return nil, apperr.NotFoundf("worktree %s", id)
	}
	cp := *wt
	return &cp, nil
}

func (f *fakeStore) ListWorktreesByBoard(ctx context.Context, boardID string) ([]*v1.Worktree, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*v1.Worktree
	for _, wt := range f.worktrees {
		if wt.BoardID != nil && *wt.BoardID == boardID {
			cp := *wt
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) AssignWorktreeBoard(ctx context.Context, worktreeID string, boardID *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	wt, ok := f.worktrees[worktreeID]
	if !ok {
		return apperr.NotFoundf("worktree %s", worktreeID)
	}
	wt.BoardID = boardID
	return nil
}

func (f *fakeStore) RemoveWorktree(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.worktrees[id]; !ok {
		return apperr.NotFoundf("worktree %s", id)
	}
	delete(f.worktrees, id)
	return nil
}

// boards

func (f *fakeStore) CreateBoard(ctx context.Context, b *v1.Board) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b.ID == "" {
		b.ID = newID()
	}
	if b.Objects == nil {
		b.Objects = map[string]v1.BoardObject{}
	}
	cp := *b
	f.boards[b.ID] = &cp
	return nil
}

func (f *fakeStore) GetBoard(ctx context.Context, id string) (*v1.Board, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.boards[id]
	if !ok {
		return nil, apperr.NotFoundf("board %s", id)
	}
	cp := *b
	cp.Objects = map[string]v1.BoardObject{}
	for k, v := range b.Objects {
		cp.Objects[k] = v
	}
	return &cp, nil
}

func (f *fakeStore) ListBoards(ctx context.Context) ([]*v1.Board, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*v1.Board
	for _, b := range f.boards {
		cp := *b
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeStore) RemoveBoard(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.boards[id]; !ok {
		return apperr.NotFoundf("board %s", id)
	}
	delete(f.boards, id)
	return nil
}

func (f *fakeStore) UpsertObject(ctx context.Context, boardID string, obj v1.BoardObject) (*v1.Board, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.boards[boardID]
	if !ok {
		return nil, apperr.NotFoundf("board %s", boardID)
	}
	b.Objects[obj.ID] = obj
	cp := *b
	return &cp, nil
}

func (f *fakeStore) BatchUpsertObjects(ctx context.Context, boardID string, objs []v1.BoardObject) (*v1.Board, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.boards[boardID]
	if !ok {
		return nil, apperr.NotFoundf("board %s", boardID)
	}
	for _, obj := range objs {
		b.Objects[obj.ID] = obj
	}
	cp := *b
	return &cp, nil
}

func (f *fakeStore) RemoveObject(ctx context.Context, boardID, objectID string) (*v1.Board, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.boards[boardID]
	if !ok {
		return nil, apperr.NotFoundf("board %s", boardID)
	}
	delete(b.Objects, objectID)
	cp := *b
	return &cp, nil
}

func (f *fakeStore) UpdatePosition(ctx context.Context, boardID, objectID string, x, y float64) (*v1.Board, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.boards[boardID]
	if !ok {
		return nil, apperr.NotFoundf("board %s", boardID)
	}
	obj, ok := b.Objects[objectID]
	if ok {
		obj.X, obj.Y = x, y
		b.Objects[objectID] = obj
	}
	cp := *b
	return &cp, nil
}

// mcp

func (f *fakeStore) CreateMCPServer(ctx context.Context, srv *v1.MCPServer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if srv.ID == "" {
		srv.ID = newID()
	}
	cp := *srv
	f.mcpServers[srv.ID] = &cp
	return nil
}

func (f *fakeStore) GetMCPServer(ctx context.Context, id string) (*v1.MCPServer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	srv, ok := f.mcpServers[id]
	if !ok {
		return nil, apperr.NotFoundf("mcp server %s", id)
	}
	cp := *srv
	return &cp, nil
}

func (f *fakeStore) ListMCPServersByOwner(ctx context.Context, ownerID string) ([]*v1.MCPServer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*v1.MCPServer
	for _, srv := range f.mcpServers {
		if srv.OwnerID == nil || *srv.OwnerID == ownerID {
			cp := *srv
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) RemoveMCPServer(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.mcpServers[id]; !ok {
		return apperr.NotFoundf("mcp server %s", id)
	}
	delete(f.mcpServers, id)
	return nil
}

func (f *fakeStore) AssignMCPServerToSession(ctx context.Context, sessionID, mcpServerID string, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assignments[sessionID+":"+mcpServerID] = v1.SessionMCPAssignment{
		SessionID: sessionID, MCPServerID: mcpServerID, Enabled: enabled,
	}
	return nil
}

func (f *fakeStore) ListMCPAssignmentsForSession(ctx context.Context, sessionID string) ([]v1.SessionMCPAssignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []v1.SessionMCPAssignment
	for _, a := range f.assignments {
		if a.SessionID == sessionID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeStore) RemoveMCPAssignment(ctx context.Context, sessionID, mcpServerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := sessionID + ":" + mcpServerID
	if _, ok := f.assignments[key]; !ok {
		return apperr.NotFoundf("assignment %s", key)
	}
	delete(f.assignments, key)
	return nil
}

// users

func (f *fakeStore) CreateUser(ctx context.Context, u *v1.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u.ID == "" {
		u.ID = newID()
	}
	if u.Role == "" {
		u.Role = "user"
	}
	cp := *u
	f.users[u.ID] = &cp
	return nil
}

func (f *fakeStore) GetUser(ctx context.Context, id string) (*v1.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, apperr.NotFoundf("user %s", id)
	}
	cp := *u
	return &cp, nil
}

func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (*v1.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperr.NotFoundf("user with email %s", email)
}

// permissions

func (f *fakeStore) CreatePermissionRequest(ctx context.Context, req *v1.PermissionRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.ID == "" {
		req.ID = newID()
	}
	cp := *req
	f.permReqs[req.ID] = &cp
	return nil
}

func (f *fakeStore) GetPermissionRequest(ctx context.Context, id string) (*v1.PermissionRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.permReqs[id]
	if !ok {
		return nil, apperr.NotFoundf("permission request %s", id)
	}
	cp := *req
	return &cp, nil
}

func (f *fakeStore) ListPermissionRequestsByTask(ctx context.Context, taskID string) ([]*v1.PermissionRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*v1.PermissionRequest
	for _, req := range f.permReqs {
		if req.TaskID == taskID {
			cp := *req
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) DecidePermissionRequest(ctx context.Context, id string, allow bool, scope v1.PermissionDecisionScope) (*v1.PermissionRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.permReqs[id]
	if !ok {
		return nil, apperr.NotFoundf("permission request %s", id)
	}
	if req.Decided {
		return nil, apperr.Conflictf("permission request %s already decided", id)
	}
	req.Decided, req.Allowed, req.Scope = true, allow, scope
	cp := *req
	return &cp, nil
}

// PatchSessionAllowedTools satisfies internal/permission.Store without
// going through the general PatchSession path, matching the real Store's
// narrow wrapper.
func (f *fakeStore) PatchSessionAllowedTools(ctx context.Context, id string, tools []string) (*v1.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[id]
	if !ok {
		return nil, apperr.NotFoundf("session %s", id)
	}
	sess.AllowedTools = tools
	cp := *sess
	return &cp, nil
}

// fakeScheduler is a minimal in-memory stand-in for service.Scheduler.
type fakeScheduler struct {
	mu          sync.Mutex
	enqueueErr  error
	cancelErr   error
	lastSession string
	lastPrompt  v1.PromptRequest
	cancelled   []string
}

func (f *fakeScheduler) EnqueuePrompt(ctx context.Context, sessionID string, req v1.PromptRequest) (*v1.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqueueErr != nil {
		return nil, f.enqueueErr
	}
	f.lastSession = sessionID
	f.lastPrompt = req
	return &v1.Task{ID: newID(), SessionID: sessionID, Status: v1.TaskPending, Prompt: req.Prompt}, nil
}

func (f *fakeScheduler) Cancel(ctx context.Context, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, taskID)
	return nil
}
