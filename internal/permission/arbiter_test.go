package permission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/agor/agor/internal/common/apperr"
	"github.com/agor/agor/internal/common/logger"
	v1 "github.com/agor/agor/pkg/api/v1"
)

type fakeStore struct {
	mu       sync.Mutex
	requests map[string]*v1.PermissionRequest
	sessions map[string]*v1.Session
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		requests: make(map[string]*v1.PermissionRequest),
		sessions: make(map[string]*v1.Session),
	}
}

func (f *fakeStore) CreatePermissionRequest(ctx context.Context, req *v1.PermissionRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.ID == "" {
		req.ID = uuid.Must(uuid.NewV7()).String()
	}
	f.requests[req.ID] = req
	return nil
}

func (f *fakeStore) DecidePermissionRequest(ctx context.Context, id string, allow bool, scope v1.PermissionDecisionScope) (*v1.PermissionRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[id]
	if !ok {
		return nil, apperr.NotFoundf("permission request %s", id)
	}
	if req.Decided {
		return nil, apperr.Conflictf("permission request %s already decided", id)
	}
	req.Decided, req.Allowed, req.Scope = true, allow, scope
	return req, nil
}

func (f *fakeStore) GetSession(ctx context.Context, id string) (*v1.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[id]
	if !ok {
		return nil, apperr.NotFoundf("session %s", id)
	}
	return sess, nil
}

func (f *fakeStore) PatchSessionAllowedTools(ctx context.Context, id string, tools []string) (*v1.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[id]
	if !ok {
		return nil, apperr.NotFoundf("session %s", id)
	}
	sess.AllowedTools = tools
	return sess, nil
}

func newTestArbiter(timeout time.Duration) (*Arbiter, *fakeStore) {
	fs := newFakeStore()
	return New(fs, logger.Default(), timeout), fs
}

func TestArbiterDecideBeforeTimeoutAllows(t *testing.T) {
	a, fs := newTestArbiter(time.Second)
	fs.sessions["sess-1"] = &v1.Session{ID: "sess-1"}

	type result struct {
		d   Decision
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		d, err := a.Request(context.Background(), "task-1", "sess-1", "bash", "rm -rf /tmp/x")
		resCh <- result{d, err}
	}()

	require.Eventually(t, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return len(a.pendings) == 1
	}, time.Second, time.Millisecond)

	var reqID string
	a.mu.Lock()
	for id := range a.pendings {
		reqID = id
	}
	a.mu.Unlock()

	require.NoError(t, a.Decide(context.Background(), reqID, true, v1.ScopeOnce))

	res := <-resCh
	require.NoError(t, res.err)
	require.True(t, res.d.Allow)
	require.Equal(t, v1.ScopeOnce, res.d.Scope)
}

func TestArbiterTimeoutDefaultsToDeny(t *testing.T) {
	a, fs := newTestArbiter(10 * time.Millisecond)
	fs.sessions["sess-1"] = &v1.Session{ID: "sess-1"}

	d, err := a.Request(context.Background(), "task-1", "sess-1", "bash", "rm -rf /")
	require.NoError(t, err)
	require.False(t, d.Allow)
	require.Equal(t, v1.ScopeOnce, d.Scope)

	fs.mu.Lock()
	var decided bool
	for _, r := range fs.requests {
		decided = r.Decided && !r.Allowed
	}
	fs.mu.Unlock()
	require.True(t, decided)
}

func TestArbiterDecideTwiceConflicts(t *testing.T) {
	a, fs := newTestArbiter(time.Second)
	fs.sessions["sess-1"] = &v1.Session{ID: "sess-1"}

	go func() {
		_, _ = a.Request(context.Background(), "task-1", "sess-1", "bash", "ls")
	}()

	require.Eventually(t, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return len(a.pendings) == 1
	}, time.Second, time.Millisecond)

	var reqID string
	a.mu.Lock()
	for id := range a.pendings {
		reqID = id
	}
	a.mu.Unlock()

	require.NoError(t, a.Decide(context.Background(), reqID, true, v1.ScopeOnce))
	err := a.Decide(context.Background(), reqID, false, v1.ScopeOnce)
	require.True(t, apperr.Is(err, apperr.Conflict))
}

func TestArbiterScopeBeyondOnceExtendsAllowedTools(t *testing.T) {
	a, fs := newTestArbiter(time.Second)
	fs.sessions["sess-1"] = &v1.Session{ID: "sess-1", AllowedTools: []string{"read"}}

	go func() {
		_, _ = a.Request(context.Background(), "task-1", "sess-1", "bash", "ls")
	}()

	require.Eventually(t, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return len(a.pendings) == 1
	}, time.Second, time.Millisecond)

	var reqID string
	a.mu.Lock()
	for id := range a.pendings {
		reqID = id
	}
	a.mu.Unlock()

	require.NoError(t, a.Decide(context.Background(), reqID, true, v1.ScopeSession))

	sess, err := fs.GetSession(context.Background(), "sess-1")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"read", "bash"}, sess.AllowedTools)
}
