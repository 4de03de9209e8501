package claudecode

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/agor/agor/internal/common/logger"
	"github.com/agor/agor/internal/db"
	"github.com/agor/agor/internal/eventbus"
	"github.com/agor/agor/internal/store"
	v1 "github.com/agor/agor/pkg/api/v1"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	writer, err := db.OpenSQLite(dbPath)
	require.NoError(t, err)
	reader, err := db.OpenSQLiteReader(dbPath)
	require.NoError(t, err)
	pool := db.NewPool(sqlx.NewDb(writer, "sqlite3"), sqlx.NewDb(reader, "sqlite3"))
	st, err := store.New(pool, "sqlite3", eventbus.NewMemoryEventBus(), logger.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

const sampleTranscript = `
{"type":"system","session_id":"claude-sess-abc","session_status":"new"}
{"type":"user","message":{"role":"user","content":"list files"}}
{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"tu1","name":"Bash","input":{"command":"ls"}}]}}
{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_result","tool_use_id":"tu1","content":"a.go\nb.go"}]}}
{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"Here are the files."}]}}
{"type":"result","subtype":"success","total_input_tokens":120,"total_output_tokens":45}
{"type":"user","message":{"role":"user","content":"and again"}}
{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"Sure."}]}}
{"type":"result","subtype":"success","total_input_tokens":30,"total_output_tokens":10}
`

func writeTranscript(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conversation.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestImportCreatesSessionTasksAndMessages(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	wt := &v1.Worktree{RepoID: "repo-1", Path: "/work/repo-1", Ref: "main", CreatorID: "user-1"}
	require.NoError(t, st.CreateWorktree(ctx, wt))

	path := writeTranscript(t, strings.TrimLeft(sampleTranscript, "\n"))
	imp := New(st, wt.ID, wt.Path, "user-1", t.TempDir())

	sess, err := imp.Import(ctx, path)
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)
	require.NotNil(t, sess.AgentSessionID)
	require.Equal(t, "claude-sess-abc", *sess.AgentSessionID)

	reloaded, err := st.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, 2, len(reloaded.TaskIDs))

	tasks, err := st.ListTasksBySession(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	require.Equal(t, "list files", tasks[0].Prompt)
	require.Equal(t, v1.TaskCompleted, tasks[0].Status)
	require.Equal(t, 120, tasks[0].InputTokens)
	require.Equal(t, "and again", tasks[1].Prompt)

	msgs, err := st.ListMessagesBySession(ctx, sess.ID)
	require.NoError(t, err)

	var sawToolUse, sawToolResult bool
	for _, m := range msgs {
		for _, b := range m.Content {
			if b.Type == v1.BlockToolUse {
				sawToolUse = true
				require.Equal(t, "tu1", b.ToolUseID)
			}
			if b.Type == v1.BlockToolResult {
				sawToolResult = true
				require.Equal(t, "tu1", b.ToolUseRefID)
			}
		}
	}
	require.True(t, sawToolUse, "expected a tool_use block")
	require.True(t, sawToolResult, "expected a tool_result block referencing it")
}

func TestImportIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	wt := &v1.Worktree{RepoID: "repo-1", Path: "/work/repo-1", Ref: "main", CreatorID: "user-1"}
	require.NoError(t, st.CreateWorktree(ctx, wt))

	path := writeTranscript(t, strings.TrimLeft(sampleTranscript, "\n"))
	cacheDir := t.TempDir()
	imp := New(st, wt.ID, wt.Path, "user-1", cacheDir)

	first, err := imp.Import(ctx, path)
	require.NoError(t, err)

	// A second importer instance (as a fresh CLI invocation would
	// construct) re-importing the same transcript must be a no-op: same
	// Session id, no duplicate Messages.
	imp2 := New(st, wt.ID, wt.Path, "user-1", cacheDir)
	second, err := imp2.Import(ctx, path)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	msgs, err := st.ListMessagesBySession(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 6)
}

func TestImportWithNoResumeTokenIsNotCached(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	wt := &v1.Worktree{RepoID: "repo-1", Path: "/work/repo-1", Ref: "main", CreatorID: "user-1"}
	require.NoError(t, st.CreateWorktree(ctx, wt))

	path := writeTranscript(t, `{"type":"user","message":{"role":"user","content":"hi"}}
{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"hello"}]}}
{"type":"result","subtype":"success"}
`)
	imp := New(st, wt.ID, wt.Path, "user-1", t.TempDir())

	first, err := imp.Import(ctx, path)
	require.NoError(t, err)
	require.Nil(t, first.AgentSessionID)

	second, err := imp.Import(ctx, path)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID, "without a resume token, nothing dedups re-import")
}
