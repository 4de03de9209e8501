package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agor/agor/internal/common/apperr"
	v1 "github.com/agor/agor/pkg/api/v1"
)

func seedMCPServer(t *testing.T, s *Store, ownerID string) *v1.MCPServer {
	t.Helper()
	srv := &v1.MCPServer{
		Name:      "filesystem",
		Transport: v1.MCPTransportStdio,
		Scope:     v1.MCPScopeGlobal,
		OwnerID:   &ownerID,
		Enabled:   true,
		Source:    v1.MCPSourceUser,
		Command:   "npx",
		Args:      []string{"-y", "@modelcontextprotocol/server-filesystem"},
	}
	require.NoError(t, s.CreateMCPServer(context.Background(), srv))
	return srv
}

func TestCreateAndGetMCPServer(t *testing.T) {
	s := newTestStore(t)
	srv := seedMCPServer(t, s, "user-1")

	got, err := s.GetMCPServer(context.Background(), srv.ID)
	require.NoError(t, err)
	require.Equal(t, "filesystem", got.Name)
	require.Equal(t, []string{"-y", "@modelcontextprotocol/server-filesystem"}, got.Args)
}

func TestListMCPServersByOwnerIncludesSystemScoped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mine := seedMCPServer(t, s, "user-1")

	system := &v1.MCPServer{
		Name: "system-tool", Transport: v1.MCPTransportStdio, Scope: v1.MCPScopeGlobal,
		Source: v1.MCPSourceSystem, Command: "system-tool",
	}
	require.NoError(t, s.CreateMCPServer(ctx, system))

	others := &v1.MCPServer{
		Name: "not-mine", Transport: v1.MCPTransportStdio, Scope: v1.MCPScopeGlobal,
		OwnerID: strPtr("user-2"), Source: v1.MCPSourceUser, Command: "x",
	}
	require.NoError(t, s.CreateMCPServer(ctx, others))

	list, err := s.ListMCPServersByOwner(ctx, "user-1")
	require.NoError(t, err)
	ids := make(map[string]bool, len(list))
	for _, srv := range list {
		ids[srv.ID] = true
	}
	require.True(t, ids[mine.ID])
	require.True(t, ids[system.ID])
	require.False(t, ids[others.ID])
}

func TestRemoveMCPServerNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.RemoveMCPServer(context.Background(), "missing")
	require.True(t, apperr.Is(err, apperr.NotFound))
}

func TestAssignAndRemoveMCPAssignment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wt := seedWorktree(t, s)
	sess := seedSession(t, s, wt.ID)
	srv := seedMCPServer(t, s, "user-1")

	require.NoError(t, s.AssignMCPServerToSession(ctx, sess.ID, srv.ID, true))
	require.NoError(t, s.AssignMCPServerToSession(ctx, sess.ID, srv.ID, false))

	assignments, err := s.ListMCPAssignmentsForSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	require.False(t, assignments[0].Enabled)

	require.NoError(t, s.RemoveMCPAssignment(ctx, sess.ID, srv.ID))
	assignments, err = s.ListMCPAssignmentsForSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Empty(t, assignments)
}

func TestRemoveMCPAssignmentNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.RemoveMCPAssignment(context.Background(), "missing-session", "missing-server")
	require.True(t, apperr.Is(err, apperr.NotFound))
}

func strPtr(s string) *string { return &s }
