package store

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/agor/agor/internal/common/apperr"
	"github.com/agor/agor/internal/eventbus"
	v1 "github.com/agor/agor/pkg/api/v1"
)

type mcpServerRow struct {
	ID        string  `db:"id"`
	Name      string  `db:"name"`
	Transport string  `db:"transport"`
	Scope     string  `db:"scope"`
	OwnerID   *string `db:"owner_id"`
	Enabled   bool    `db:"enabled"`
	Source    string  `db:"source"`
	Command   string  `db:"command"`
	Args      string  `db:"args"`
	Env       string  `db:"env"`
	URL       string  `db:"url"`
	AuthToken string  `db:"auth_token"`
}

func rowToMCPServer(r mcpServerRow) (*v1.MCPServer, error) {
	srv := &v1.MCPServer{
		ID:        r.ID,
		Name:      r.Name,
		Transport: v1.MCPTransport(r.Transport),
		Scope:     v1.MCPScope(r.Scope),
		OwnerID:   r.OwnerID,
		Enabled:   r.Enabled,
		Source:    v1.MCPServerSource(r.Source),
		Command:   r.Command,
		URL:       r.URL,
		AuthToken: r.AuthToken,
	}
	if r.Args != "" {
		if err := json.Unmarshal([]byte(r.Args), &srv.Args); err != nil {
			return nil, apperr.Internalf(err, "unmarshal mcp server args")
		}
	}
	if r.Env != "" {
		if err := json.Unmarshal([]byte(r.Env), &srv.Env); err != nil {
			return nil, apperr.Internalf(err, "unmarshal mcp server env")
		}
	}
	return srv, nil
}

// CreateMCPServer registers a new MCP server definition.
func (s *Store) CreateMCPServer(ctx context.Context, srv *v1.MCPServer) error {
	if srv.ID == "" {
		srv.ID = uuid.Must(uuid.NewV7()).String()
	}
	now := s.now()
	srv.CreatedAt, srv.UpdatedAt = now, now

	args, err := json.Marshal(srv.Args)
	if err != nil {
		return apperr.Internalf(err, "marshal mcp server args")
	}
	env, err := json.Marshal(srv.Env)
	if err != nil {
		return apperr.Internalf(err, "marshal mcp server env")
	}

	_, err = s.writer().ExecContext(ctx, s.writer().Rebind(`
		INSERT INTO mcp_servers (id, name, transport, scope, owner_id, enabled, source,
			command, args, env, url, auth_token, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), srv.ID, srv.Name, string(srv.Transport), string(srv.Scope), srv.OwnerID, srv.Enabled,
		string(srv.Source), srv.Command, string(args), string(env), srv.URL, srv.AuthToken, now, now)
	if err != nil {
		return apperr.FromRepository(err)
	}

	s.emit(ctx, "mcp_servers", eventbus.Created, srv.ID, srv)
	return nil
}

// GetMCPServer returns an MCPServer by id.
func (s *Store) GetMCPServer(ctx context.Context, id string) (*v1.MCPServer, error) {
	var row mcpServerRow
	err := s.reader().GetContext(ctx, &row, s.reader().Rebind(`SELECT * FROM mcp_servers WHERE id = ?`), id)
	if err != nil {
		return nil, apperr.FromRepository(err)
	}
	return rowToMCPServer(row)
}

// ListMCPServersByOwner returns every server owned by ownerID, plus any
// system-sourced servers (owner_id IS NULL). Scope is not filtered on.
func (s *Store) ListMCPServersByOwner(ctx context.Context, ownerID string) ([]*v1.MCPServer, error) {
	var rows []mcpServerRow
	err := s.reader().SelectContext(ctx, &rows,
		s.reader().Rebind(`SELECT * FROM mcp_servers WHERE owner_id = ? OR owner_id IS NULL ORDER BY created_at ASC`), ownerID)
	if err != nil {
		return nil, apperr.FromRepository(err)
	}
	out := make([]*v1.MCPServer, 0, len(rows))
	for _, r := range rows {
		srv, err := rowToMCPServer(r)
		if err != nil {
			return nil, err
		}
		out = append(out, srv)
	}
	return out, nil
}

// RemoveMCPServer deletes an MCPServer definition; assignments referencing
// it are removed via ON DELETE CASCADE.
func (s *Store) RemoveMCPServer(ctx context.Context, id string) error {
	res, err := s.writer().ExecContext(ctx, s.writer().Rebind(`DELETE FROM mcp_servers WHERE id = ?`), id)
	if err != nil {
		return apperr.FromRepository(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFoundf("mcp server %s", id)
	}
	s.emit(ctx, "mcp_servers", eventbus.Removed, id, map[string]string{"id": id})
	return nil
}

// AssignMCPServerToSession upserts the isolated-mode session↔server edge.
func (s *Store) AssignMCPServerToSession(ctx context.Context, sessionID, mcpServerID string, enabled bool) error {
	_, err := s.writer().ExecContext(ctx, s.writer().Rebind(`
		INSERT INTO session_mcp_assignments (session_id, mcp_server_id, enabled, added_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (session_id, mcp_server_id) DO UPDATE SET enabled = excluded.enabled
	`), sessionID, mcpServerID, enabled, s.now())
	if err != nil {
		return apperr.FromRepository(err)
	}
	s.emit(ctx, "session_mcp_assignments", eventbus.Patched, sessionID+":"+mcpServerID,
		v1.SessionMCPAssignment{SessionID: sessionID, MCPServerID: mcpServerID, Enabled: enabled, AddedAt: s.now()})
	return nil
}

// ListMCPAssignmentsForSession returns the explicit assignments attached to
// a Session, the input to the Resolver's (C7) isolated-mode pass.
func (s *Store) ListMCPAssignmentsForSession(ctx context.Context, sessionID string) ([]v1.SessionMCPAssignment, error) {
	var out []v1.SessionMCPAssignment
	err := s.reader().SelectContext(ctx, &out,
		s.reader().Rebind(`SELECT session_id, mcp_server_id, enabled, added_at FROM session_mcp_assignments WHERE session_id = ?`), sessionID)
	if err != nil {
		return nil, apperr.FromRepository(err)
	}
	return out, nil
}

// RemoveMCPAssignment detaches a server from a session.
func (s *Store) RemoveMCPAssignment(ctx context.Context, sessionID, mcpServerID string) error {
	res, err := s.writer().ExecContext(ctx, s.writer().Rebind(`
		DELETE FROM session_mcp_assignments WHERE session_id = ? AND mcp_server_id = ?
	`), sessionID, mcpServerID)
	if err != nil {
		return apperr.FromRepository(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFoundf("assignment %s:%s", sessionID, mcpServerID)
	}
	s.emit(ctx, "session_mcp_assignments", eventbus.Removed, sessionID+":"+mcpServerID,
		map[string]string{"session_id": sessionID, "mcp_server_id": mcpServerID})
	return nil
}
