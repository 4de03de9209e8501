package store

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/agor/agor/internal/common/apperr"
	"github.com/agor/agor/internal/eventbus"
	v1 "github.com/agor/agor/pkg/api/v1"
)

type sessionRow struct {
	ID             string  `db:"id"`
	OwnerID        string  `db:"owner_id"`
	Vendor         string  `db:"vendor"`
	Status         string  `db:"status"`
	AgentSessionID *string `db:"agent_session_id"`
	WorktreeID     string  `db:"worktree_id"`
	WorkDir        string  `db:"work_dir"`
	GitState       string  `db:"git_state"`
	ForkedFrom     *string `db:"forked_from"`
	ForkPointTask  *string `db:"fork_point_task"`
	ParentSession  *string `db:"parent_session"`
	SpawnPointTask *string `db:"spawn_point_task"`
	MessageCount   int     `db:"message_count"`
	ToolUseCount   int     `db:"tool_use_count"`
	AllowedTools   string  `db:"allowed_tools"`
	Model          *string `db:"model"`
	CreatedAt      string  `db:"created_at"`
	UpdatedAt      string  `db:"updated_at"`
}

// CreateSession inserts a new Session in idle status with zero counters.
// Genealogy fields are set by Fork/Spawn, not by plain creation.
func (s *Store) CreateSession(ctx context.Context, sess *v1.Session) error {
	if sess.ID == "" {
		sess.ID = uuid.Must(uuid.NewV7()).String()
	}
	now := s.now()
	sess.CreatedAt, sess.UpdatedAt = now, now
	if sess.Status == "" {
		sess.Status = v1.SessionIdle
	}

	gitState, err := json.Marshal(sess.GitState)
	if err != nil {
		return apperr.Internalf(err, "marshal git_state")
	}
	allowedTools, err := json.Marshal(sess.AllowedTools)
	if err != nil {
		return apperr.Internalf(err, "marshal allowed_tools")
	}
	var modelJSON *string
	if sess.Model != nil {
		b, err := json.Marshal(sess.Model)
		if err != nil {
			return apperr.Internalf(err, "marshal model")
		}
		str := string(b)
		modelJSON = &str
	}

	query := s.writer().Rebind(`
		INSERT INTO sessions (id, owner_id, vendor, status, agent_session_id, worktree_id, work_dir,
			git_state, forked_from, fork_point_task, parent_session, spawn_point_task,
			message_count, tool_use_count, allowed_tools, model, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err = s.writer().ExecContext(ctx, query,
		sess.ID, sess.OwnerID, string(sess.Vendor), string(sess.Status), sess.AgentSessionID,
		sess.WorktreeID, sess.WorkDir, string(gitState), sess.Genealogy.ForkedFrom,
		sess.Genealogy.ForkPointTask, sess.Genealogy.ParentSession, sess.Genealogy.SpawnPointTask,
		0, 0, string(allowedTools), modelJSON, now, now,
	)
	if err != nil {
		return apperr.FromRepository(err)
	}

	if sess.Genealogy.ParentSession != nil {
		if err := s.addChild(ctx, *sess.Genealogy.ParentSession, sess.ID); err != nil {
			return err
		}
	}

	s.emit(ctx, "sessions", eventbus.Created, sess.ID, sess)
	return nil
}

func rowToSession(r sessionRow) (*v1.Session, error) {
	sess := &v1.Session{
		ID:             r.ID,
		OwnerID:        r.OwnerID,
		Vendor:         v1.VendorFamily(r.Vendor),
		Status:         v1.SessionStatus(r.Status),
		AgentSessionID: r.AgentSessionID,
		WorktreeID:     r.WorktreeID,
		WorkDir:        r.WorkDir,
		MessageCount:   r.MessageCount,
		ToolUseCount:   r.ToolUseCount,
		Genealogy: v1.Genealogy{
			ForkedFrom:     r.ForkedFrom,
			ForkPointTask:  r.ForkPointTask,
			ParentSession:  r.ParentSession,
			SpawnPointTask: r.SpawnPointTask,
		},
	}
	if r.GitState != "" {
		if err := json.Unmarshal([]byte(r.GitState), &sess.GitState); err != nil {
			return nil, apperr.Internalf(err, "unmarshal git_state")
		}
	}
	if r.AllowedTools != "" {
		if err := json.Unmarshal([]byte(r.AllowedTools), &sess.AllowedTools); err != nil {
			return nil, apperr.Internalf(err, "unmarshal allowed_tools")
		}
	}
	if r.Model != nil && *r.Model != "" {
		var mc v1.ModelConfig
		if err := json.Unmarshal([]byte(*r.Model), &mc); err != nil {
			return nil, apperr.Internalf(err, "unmarshal model")
		}
		sess.Model = &mc
	}
	return sess, nil
}

// GetSession returns a Session along with its ordered task ids and
// genealogy children, computed from the tasks/sessions tables rather than
// denormalized onto the row.
func (s *Store) GetSession(ctx context.Context, id string) (*v1.Session, error) {
	var row sessionRow
	err := s.reader().GetContext(ctx, &row, s.reader().Rebind(`SELECT * FROM sessions WHERE id = ?`), id)
	if err != nil {
		return nil, apperr.FromRepository(err)
	}
	sess, err := rowToSession(row)
	if err != nil {
		return nil, err
	}

	if err := s.reader().SelectContext(ctx, &sess.TaskIDs,
		s.reader().Rebind(`SELECT id FROM tasks WHERE session_id = ? ORDER BY created_at ASC`), id); err != nil {
		return nil, apperr.FromRepository(err)
	}
	if err := s.reader().SelectContext(ctx, &sess.Genealogy.Children,
		s.reader().Rebind(`SELECT id FROM sessions WHERE parent_session = ? ORDER BY created_at ASC`), id); err != nil {
		return nil, apperr.FromRepository(err)
	}
	return sess, nil
}

// ListSessionsByOwner returns every Session owned by ownerID, newest first.
func (s *Store) ListSessionsByOwner(ctx context.Context, ownerID string) ([]*v1.Session, error) {
	var rows []sessionRow
	err := s.reader().SelectContext(ctx, &rows,
		s.reader().Rebind(`SELECT * FROM sessions WHERE owner_id = ? ORDER BY created_at DESC`), ownerID)
	if err != nil {
		return nil, apperr.FromRepository(err)
	}
	out := make([]*v1.Session, 0, len(rows))
	for _, r := range rows {
		sess, err := rowToSession(r)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

// ListSessionsByWorktree returns every Session referencing worktreeID,
// oldest first. Used by the worktree removal path to enumerate the
// sessions a cascade-delete must take with it (spec.md §5 invariant
// "deleting a worktree cascades to its sessions").
func (s *Store) ListSessionsByWorktree(ctx context.Context, worktreeID string) ([]*v1.Session, error) {
	var rows []sessionRow
	err := s.reader().SelectContext(ctx, &rows,
		s.reader().Rebind(`SELECT * FROM sessions WHERE worktree_id = ? ORDER BY created_at ASC`), worktreeID)
	if err != nil {
		return nil, apperr.FromRepository(err)
	}
	out := make([]*v1.Session, 0, len(rows))
	for _, r := range rows {
		sess, err := rowToSession(r)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

// SessionPatch carries only the fields a caller wants to change; nil means
// unchanged, matching the Service Layer's `patch` verb semantics (spec.md §6).
type SessionPatch struct {
	Status         *v1.SessionStatus
	AgentSessionID *string
	MessageCount   *int
	ToolUseCount   *int
	AllowedTools   *[]string
	GitState       *v1.GitState
}

// PatchSession applies a partial update and emits `sessions.patched`.
func (s *Store) PatchSession(ctx context.Context, id string, patch SessionPatch) (*v1.Session, error) {
	current, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}

	sets := []string{"updated_at = ?"}
	args := []any{s.now()}

	if patch.Status != nil {
		current.Status = *patch.Status
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if patch.AgentSessionID != nil {
		current.AgentSessionID = patch.AgentSessionID
		sets = append(sets, "agent_session_id = ?")
		args = append(args, *patch.AgentSessionID)
	}
	if patch.MessageCount != nil {
		current.MessageCount = *patch.MessageCount
		sets = append(sets, "message_count = ?")
		args = append(args, *patch.MessageCount)
	}
	if patch.ToolUseCount != nil {
		current.ToolUseCount = *patch.ToolUseCount
		sets = append(sets, "tool_use_count = ?")
		args = append(args, *patch.ToolUseCount)
	}
	if patch.AllowedTools != nil {
		current.AllowedTools = *patch.AllowedTools
		b, err := json.Marshal(*patch.AllowedTools)
		if err != nil {
			return nil, apperr.Internalf(err, "marshal allowed_tools")
		}
		sets = append(sets, "allowed_tools = ?")
		args = append(args, string(b))
	}
	if patch.GitState != nil {
		current.GitState = *patch.GitState
		b, err := json.Marshal(*patch.GitState)
		if err != nil {
			return nil, apperr.Internalf(err, "marshal git_state")
		}
		sets = append(sets, "git_state = ?")
		args = append(args, string(b))
	}

	args = append(args, id)
	query := "UPDATE sessions SET "
	for i, set := range sets {
		if i > 0 {
			query += ", "
		}
		query += set
	}
	query += " WHERE id = ?"

	res, err := s.writer().ExecContext(ctx, s.writer().Rebind(query), args...)
	if err != nil {
		return nil, apperr.FromRepository(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, apperr.NotFoundf("session %s", id)
	}

	s.emit(ctx, "sessions", eventbus.Patched, id, current)
	return current, nil
}

// SetVendorResumeToken is idempotent: setting the same token twice is a
// no-op write that still emits a patched event, matching §4.1.
func (s *Store) SetVendorResumeToken(ctx context.Context, sessionID, token string) error {
	_, err := s.PatchSession(ctx, sessionID, SessionPatch{AgentSessionID: &token})
	return err
}

// PatchSessionAllowedTools narrows PatchSession to the one field the
// Permission Arbiter (C9) needs when a decision's scope extends a grant
// past "once", so that package can depend on a small interface instead of
// the general SessionPatch type.
func (s *Store) PatchSessionAllowedTools(ctx context.Context, sessionID string, tools []string) (*v1.Session, error) {
	return s.PatchSession(ctx, sessionID, SessionPatch{AllowedTools: &tools})
}

// RemoveSession deletes a Session; ON DELETE CASCADE removes its tasks and
// messages (spec.md §3 lifecycle: "deleting a worktree cascades to its
// sessions"; here the reverse direction, explicit user command, cascades
// tasks → messages).
func (s *Store) RemoveSession(ctx context.Context, id string) error {
	res, err := s.writer().ExecContext(ctx, s.writer().Rebind(`DELETE FROM sessions WHERE id = ?`), id)
	if err != nil {
		return apperr.FromRepository(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFoundf("session %s", id)
	}
	s.emit(ctx, "sessions", eventbus.Removed, id, map[string]string{"id": id})
	return nil
}

func (s *Store) addChild(ctx context.Context, parentID, childID string) error {
	// Children are derived from sessions.parent_session, not stored
	// denormalized on the parent row, so nothing to write here beyond what
	// CreateSession already persisted on the child; this hook exists so
	// callers have one place to extend (e.g. emit a genealogy-specific
	// event) without touching CreateSession's SQL.
	s.emit(ctx, "sessions", eventbus.Patched, parentID, map[string]any{"id": parentID, "child_added": childID})
	return nil
}

// Ancestors walks parent_session edges to the root. WouldCycle builds on it
// to check the "no child may be its own ancestor" rule (spec.md §9); only
// spawn edges are parent_session edges, fork edges are not walked.
func (s *Store) Ancestors(ctx context.Context, id string) ([]string, error) {
	var ancestors []string
	current := id
	seen := map[string]bool{current: true}
	for {
		var parent *string
		err := s.reader().GetContext(ctx, &parent,
			s.reader().Rebind(`SELECT parent_session FROM sessions WHERE id = ?`), current)
		if err != nil {
			return nil, apperr.FromRepository(err)
		}
		if parent == nil {
			break
		}
		if seen[*parent] {
			return nil, apperr.Internalf(nil, "genealogy cycle detected at %s", *parent)
		}
		ancestors = append(ancestors, *parent)
		seen[*parent] = true
		current = *parent
	}
	return ancestors, nil
}

// WouldCycle reports whether setting proposedParent as childCandidate's
// parent would create a cycle (proposedParent is, or descends from,
// childCandidate).
func (s *Store) WouldCycle(ctx context.Context, childCandidate, proposedParent string) (bool, error) {
	if childCandidate == proposedParent {
		return true, nil
	}
	ancestors, err := s.Ancestors(ctx, proposedParent)
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
