package service

import (
	"context"

	"github.com/agor/agor/internal/common/apperr"
	v1 "github.com/agor/agor/pkg/api/v1"
)

// CreateMCPServer implements mcpServers.create. System-sourced servers
// (owner_id IS NULL, visible to every user) are registered by an admin
// principal passing ownerID=nil in req; anyone else always registers a
// server scoped to themselves.
func (s *Service) CreateMCPServer(ctx context.Context, principal v1.Principal, srv v1.MCPServer) (*v1.MCPServer, error) {
	if principal.Role != "admin" {
		owner := principal.UserID
		srv.OwnerID = &owner
	}
	if err := s.store.CreateMCPServer(ctx, &srv); err != nil {
		return nil, err
	}
	return &srv, nil
}

// GetMCPServer implements mcpServers.get.
func (s *Service) GetMCPServer(ctx context.Context, id string) (*v1.MCPServer, error) {
	return s.store.GetMCPServer(ctx, id)
}

// ListMCPServers implements mcpServers.find: every system server plus
// every server the principal owns (internal/store.Store.ListMCPServersByOwner).
func (s *Service) ListMCPServers(ctx context.Context, principal v1.Principal) ([]*v1.MCPServer, error) {
	return s.store.ListMCPServersByOwner(ctx, principal.UserID)
}

// RemoveMCPServer implements mcpServers.remove.
func (s *Service) RemoveMCPServer(ctx context.Context, principal v1.Principal, id string) error {
	srv, err := s.store.GetMCPServer(ctx, id)
	if err != nil {
		return err
	}
	if srv.OwnerID != nil {
		if err := requireOwner(principal, *srv.OwnerID); err != nil {
			return err
		}
	} else if principal.Role != "admin" {
		return apperr.Forbiddenf("only an admin may remove a system mcp server")
	}
	return s.store.RemoveMCPServer(ctx, id)
}

// AssignMCPServer implements sessions.assignMcpServer: attaches or updates
// the isolated-mode session↔server edge the Resolver (C7) reads.
func (s *Service) AssignMCPServer(ctx context.Context, principal v1.Principal, sessionID, mcpServerID string, enabled bool) error {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := requireOwner(principal, sess.OwnerID); err != nil {
		return err
	}
	return s.store.AssignMCPServerToSession(ctx, sessionID, mcpServerID, enabled)
}

// ListMCPAssignments implements sessions.mcpAssignments.
func (s *Service) ListMCPAssignments(ctx context.Context, principal v1.Principal, sessionID string) ([]v1.SessionMCPAssignment, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(principal, sess.OwnerID); err != nil {
		return nil, err
	}
	return s.store.ListMCPAssignmentsForSession(ctx, sessionID)
}

// RemoveMCPAssignment implements sessions.removeMcpServer.
func (s *Service) RemoveMCPAssignment(ctx context.Context, principal v1.Principal, sessionID, mcpServerID string) error {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := requireOwner(principal, sess.OwnerID); err != nil {
		return err
	}
	return s.store.RemoveMCPAssignment(ctx, sessionID, mcpServerID)
}
