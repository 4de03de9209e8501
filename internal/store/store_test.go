package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/agor/agor/internal/common/logger"
	"github.com/agor/agor/internal/db"
	"github.com/agor/agor/internal/eventbus"
	v1 "github.com/agor/agor/pkg/api/v1"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	writer, err := db.OpenSQLite(dbPath)
	require.NoError(t, err)
	reader, err := db.OpenSQLiteReader(dbPath)
	require.NoError(t, err)

	pool := db.NewPool(sqlx.NewDb(writer, "sqlite3"), sqlx.NewDb(reader, "sqlite3"))
	s, err := New(pool, "sqlite3", eventbus.NewMemoryEventBus(), logger.Default())
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })
	return s
}

// seedWorktree creates the minimal Worktree every Session's FK requires.
func seedWorktree(t *testing.T, s *Store) *v1.Worktree {
	t.Helper()
	wt := &v1.Worktree{RepoID: "repo-1", Path: "/work/repo-1", Ref: "main", CreatorID: "user-1"}
	require.NoError(t, s.CreateWorktree(context.Background(), wt))
	return wt
}

func seedSession(t *testing.T, s *Store, worktreeID string) *v1.Session {
	t.Helper()
	sess := &v1.Session{OwnerID: "user-1", Vendor: v1.VendorClaudeCode, WorktreeID: worktreeID, WorkDir: "/work/repo-1"}
	require.NoError(t, s.CreateSession(context.Background(), sess))
	return sess
}

func seedTask(t *testing.T, s *Store, sessionID string) *v1.Task {
	t.Helper()
	task := &v1.Task{SessionID: sessionID, Prompt: "do the thing"}
	require.NoError(t, s.CreateTask(context.Background(), task))
	return task
}
