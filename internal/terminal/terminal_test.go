package terminal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agor/agor/internal/common/config"
	"github.com/agor/agor/internal/common/logger"
	"github.com/agor/agor/internal/eventbus"
)

func testConfig() config.TerminalConfig {
	return config.TerminalConfig{
		PreferTmux:   false, // keep these tests hermetic: no tmux dependency on the test host
		TmuxPrefix:   "agor-",
		DefaultShell: "/bin/sh",
		DefaultCols:  80,
		DefaultRows:  24,
	}
}

func TestCreateFindRemove(t *testing.T) {
	bus := eventbus.NewMemoryEventBus()
	svc := New(bus, testConfig(), logger.Default())
	defer svc.Close()

	wt := "worktree-1"
	sess, err := svc.Create(context.Background(), CreateOptions{
		UserID:     "user-1",
		WorktreeID: &wt,
		Shell:      "/bin/sh",
		Cols:       80,
		Rows:       24,
	})
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)

	found := svc.Find("user-1", &wt)
	require.Len(t, found, 1)
	require.Equal(t, sess.ID, found[0].ID)

	require.NoError(t, svc.Remove(context.Background(), sess.ID))
	require.Empty(t, svc.Find("user-1", &wt))
}

func TestPatchUnknownSessionIsNotFound(t *testing.T) {
	bus := eventbus.NewMemoryEventBus()
	svc := New(bus, testConfig(), logger.Default())
	defer svc.Close()

	err := svc.Patch(context.Background(), "does-not-exist", PatchOptions{Input: []byte("ls\n")})
	require.Error(t, err)
}

func TestDataEventsFanOut(t *testing.T) {
	bus := eventbus.NewMemoryEventBus()
	svc := New(bus, testConfig(), logger.Default())
	defer svc.Close()

	sess, err := svc.Create(context.Background(), CreateOptions{
		UserID: "user-1",
		Shell:  "/bin/sh",
		Cols:   80,
		Rows:   24,
	})
	require.NoError(t, err)

	received := make(chan eventbus.Event, 8)
	_, err = bus.Subscribe(context.Background(), "terminal."+sess.ID+".data", func(ctx context.Context, subject string, ev eventbus.Event) error {
		received <- ev
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, svc.Patch(context.Background(), sess.ID, PatchOptions{Input: []byte("echo hi\n")}))

	select {
	case ev := <-received:
		require.Equal(t, eventbus.Patched, ev.Verb)
		require.Equal(t, sess.ID, ev.EntityID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a terminal data event")
	}

	require.NoError(t, svc.Remove(context.Background(), sess.ID))
}

func TestTmuxSessionAndWindowNaming(t *testing.T) {
	require.Equal(t, "agor-12345678", tmuxSessionName("agor-", "123456789abcdef"))
	require.Equal(t, "agor-ab", tmuxSessionName("agor-", "ab"))
	require.Equal(t, "wt-uuid-1234", tmuxWindowName("wt-uuid-1234"))
	require.Equal(t, "wt-uuid-1234", tmuxWindowName("wt.uuid:1234"))
}
