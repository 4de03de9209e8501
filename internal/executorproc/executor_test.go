package executorproc

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agor/agor/internal/common/logger"
	"github.com/agor/agor/internal/rpcclient"
	"github.com/agor/agor/internal/vendors"
	v1 "github.com/agor/agor/pkg/api/v1"
)

type fakeDaemonClient struct {
	mu       sync.Mutex
	session  *v1.Session
	servers  []v1.ResolvedMCPServer
	messages []v1.DraftMessage
	patched  *rpcclient.TaskPatchRequest
	allow    bool
	cancelCh chan struct{}
}

func (f *fakeDaemonClient) GetSession(ctx context.Context, sessionID string) (*v1.Session, error) {
	return f.session, nil
}

func (f *fakeDaemonClient) ResolveMCPServers(ctx context.Context, sessionID string) ([]v1.ResolvedMCPServer, error) {
	return f.servers, nil
}

func (f *fakeDaemonClient) CreateMessage(ctx context.Context, draft v1.DraftMessage) (*v1.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, draft)
	return &v1.Message{ID: "msg-1"}, nil
}

func (f *fakeDaemonClient) PatchSessionAgentID(ctx context.Context, sessionID, agentSessionID string) error {
	return nil
}

func (f *fakeDaemonClient) PatchTask(ctx context.Context, taskID string, req rpcclient.TaskPatchRequest) (*v1.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := req
	f.patched = &cp
	return &v1.Task{ID: taskID, Status: req.Status, Reason: req.Reason}, nil
}

func (f *fakeDaemonClient) SubscribeCancel(ctx context.Context, taskID string) (<-chan struct{}, error) {
	if f.cancelCh == nil {
		f.cancelCh = make(chan struct{})
	}
	return f.cancelCh, nil
}

func (f *fakeDaemonClient) RequestPermission(ctx context.Context, taskID, toolName, inputPreview string) (bool, error) {
	return f.allow, nil
}

type fakeAdapter struct {
	family        v1.VendorFamily
	raisePerm     bool
	resumeTok     string
	cancelled     bool
	waitForCancel chan struct{} // if set, Prompt blocks until Cancel closes it
}

func (a *fakeAdapter) Family() v1.VendorFamily { return a.family }

func (a *fakeAdapter) Start(ctx context.Context, cfg vendors.SpawnConfig) (string, error) {
	return a.resumeTok, nil
}

func (a *fakeAdapter) Prompt(ctx context.Context, prompt string, events chan<- vendors.StreamEvent) error {
	if a.waitForCancel != nil {
		<-a.waitForCancel
	}
	if a.raisePerm {
		allowed := make(chan bool, 1)
		events <- vendors.StreamEvent{Permission: &vendors.PermissionRaised{
			ToolName:     "bash",
			InputPreview: "rm -rf /tmp/x",
			Resolve:      func(allow bool) { allowed <- allow },
		}}
		<-allowed
	}
	events <- vendors.StreamEvent{Message: &v1.DraftMessage{
		Role:    v1.RoleAssistant,
		Content: v1.WrapString("done"),
		Metadata: v1.MessageMetadata{
			Model:        "claude-x",
			InputTokens:  10,
			OutputTokens: 20,
		},
	}}
	events <- vendors.StreamEvent{Done: &vendors.Completion{
		ResolvedModel: "claude-x",
		InputTokens:   10,
		OutputTokens:  20,
	}}
	return nil
}

func (a *fakeAdapter) Cancel(ctx context.Context) error {
	a.cancelled = true
	if a.waitForCancel != nil {
		close(a.waitForCancel)
	}
	return nil
}

func (a *fakeAdapter) Close() error { return nil }

func TestRunCompletesTaskWithUsageCounts(t *testing.T) {
	client := &fakeDaemonClient{
		session: &v1.Session{ID: "sess-1", Vendor: v1.VendorClaudeCode, WorkDir: "/tmp/wt"},
	}
	adapter := &fakeAdapter{family: v1.VendorClaudeCode}

	err := Run(context.Background(), Config{
		SessionID: "sess-1",
		TaskID:    "task-1",
		Prompt:    "hello",
	}, client, func(family v1.VendorFamily, log *logger.Logger) (vendors.Adapter, error) {
		return adapter, nil
	}, logger.Default())

	require.NoError(t, err)
	require.NotNil(t, client.patched)
	require.Equal(t, v1.TaskCompleted, client.patched.Status)
	require.Equal(t, 20, *client.patched.OutputTokens)
	require.Len(t, client.messages, 1)
}

func TestRunResolvesPermissionRequestThroughDaemon(t *testing.T) {
	client := &fakeDaemonClient{
		session: &v1.Session{ID: "sess-1", Vendor: v1.VendorClaudeCode},
		allow:   true,
	}
	adapter := &fakeAdapter{family: v1.VendorClaudeCode, raisePerm: true}

	err := Run(context.Background(), Config{
		SessionID: "sess-1",
		TaskID:    "task-1",
		Prompt:    "hello",
	}, client, func(family v1.VendorFamily, log *logger.Logger) (vendors.Adapter, error) {
		return adapter, nil
	}, logger.Default())

	require.NoError(t, err)
	require.Equal(t, v1.TaskCompleted, client.patched.Status)
}

func TestRunMarksCancelledOnCancelSignal(t *testing.T) {
	client := &fakeDaemonClient{
		session:  &v1.Session{ID: "sess-1", Vendor: v1.VendorClaudeCode},
		cancelCh: make(chan struct{}),
	}
	adapter := &fakeAdapter{family: v1.VendorClaudeCode, waitForCancel: make(chan struct{})}
	close(client.cancelCh) // already-cancelled, exercises the abort path deterministically

	err := Run(context.Background(), Config{
		SessionID: "sess-1",
		TaskID:    "task-1",
		Prompt:    "hello",
	}, client, func(family v1.VendorFamily, log *logger.Logger) (vendors.Adapter, error) {
		return adapter, nil
	}, logger.Default())

	require.NoError(t, err)
	require.Equal(t, v1.TaskFailed, client.patched.Status)
	require.Equal(t, v1.FailureCancelled, client.patched.Reason)
}
