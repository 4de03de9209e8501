package store

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/agor/agor/internal/common/apperr"
	"github.com/agor/agor/internal/eventbus"
	v1 "github.com/agor/agor/pkg/api/v1"
)

type messageRow struct {
	ID        string  `db:"id"`
	SessionID string  `db:"session_id"`
	Index     int     `db:"idx"`
	TaskID    *string `db:"task_id"`
	Role      string  `db:"role"`
	Content   string  `db:"content"`
	ToolUses  *string `db:"tool_uses"`
	Metadata  string  `db:"metadata"`
}

func rowToMessage(r messageRow) (*v1.Message, error) {
	msg := &v1.Message{
		ID:        r.ID,
		SessionID: r.SessionID,
		Index:     r.Index,
		TaskID:    r.TaskID,
		Role:      v1.MessageRole(r.Role),
	}
	if err := json.Unmarshal([]byte(r.Content), &msg.Content); err != nil {
		return nil, apperr.Internalf(err, "unmarshal message content")
	}
	if r.ToolUses != nil && *r.ToolUses != "" {
		var tu v1.ToolUsesSummary
		if err := json.Unmarshal([]byte(*r.ToolUses), &tu); err != nil {
			return nil, apperr.Internalf(err, "unmarshal tool_uses")
		}
		msg.ToolUses = &tu
	}
	if r.Metadata != "" {
		if err := json.Unmarshal([]byte(r.Metadata), &msg.Metadata); err != nil {
			return nil, apperr.Internalf(err, "unmarshal message metadata")
		}
	}
	return msg, nil
}

// AppendMessage allocates the next dense `index` within draft.SessionID and
// inserts the message in one transaction (spec.md §4.1's critical atomic
// operation). A per-session in-process mutex plus the transaction
// guarantees two concurrent appenders never collide, matching invariant 2
// ("Message.index is unique per session and forms a dense monotonic
// sequence") and the boundary test ("two concurrent messages.create calls
// assign distinct index values with no gap").
func (s *Store) AppendMessage(ctx context.Context, draft v1.DraftMessage) (*v1.Message, error) {
	lock := s.lockFor(draft.SessionID)
	lock.Lock()
	defer lock.Unlock()

	for _, b := range draft.Content {
		if b.Type != v1.BlockToolResult {
			continue
		}
		if _, err := s.FindToolUse(ctx, draft.SessionID, b.ToolUseRefID); err != nil {
			return nil, err
		}
	}

	content, err := json.Marshal(draft.Content)
	if err != nil {
		return nil, apperr.Internalf(err, "marshal message content")
	}
	var toolUsesJSON *string
	if draft.ToolUses != nil {
		b, err := json.Marshal(draft.ToolUses)
		if err != nil {
			return nil, apperr.Internalf(err, "marshal tool_uses")
		}
		str := string(b)
		toolUsesJSON = &str
	}
	metadata, err := json.Marshal(draft.Metadata)
	if err != nil {
		return nil, apperr.Internalf(err, "marshal message metadata")
	}

	msg := &v1.Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		SessionID: draft.SessionID,
		TaskID:    draft.TaskID,
		Role:      draft.Role,
		Content:   draft.Content,
		ToolUses:  draft.ToolUses,
		Metadata:  draft.Metadata,
		CreatedAt: s.now(),
	}

	var toolUseDelta int
	for _, b := range draft.Content {
		if b.Type == v1.BlockToolUse {
			toolUseDelta++
		}
	}

	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		var nextIndex int
		if err := tx.GetContext(ctx, &nextIndex,
			tx.Rebind(`SELECT COALESCE(MAX(idx), -1) + 1 FROM messages WHERE session_id = ?`), draft.SessionID); err != nil {
			return apperr.FromRepository(err)
		}
		msg.Index = nextIndex

		_, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO messages (id, session_id, idx, task_id, role, content, tool_uses, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`), msg.ID, msg.SessionID, msg.Index, msg.TaskID, string(msg.Role), string(content), toolUsesJSON, string(metadata), msg.CreatedAt)
		if err != nil {
			return apperr.FromRepository(err)
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE sessions SET message_count = ?, tool_use_count = tool_use_count + ?, updated_at = ? WHERE id = ?
		`), nextIndex+1, toolUseDelta, s.now(), draft.SessionID); err != nil {
			return apperr.FromRepository(err)
		}

		if draft.TaskID != nil {
			if _, err := tx.ExecContext(ctx, tx.Rebind(`
				UPDATE tasks SET start_index = CASE WHEN end_index = 0 THEN ? ELSE start_index END, end_index = ?, tool_use_count = tool_use_count + ?, updated_at = ? WHERE id = ?
			`), nextIndex, nextIndex+1, toolUseDelta, s.now(), *draft.TaskID); err != nil {
				return apperr.FromRepository(err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, "messages", eventbus.Created, msg.ID, msg)
	return msg, nil
}

// GetMessage returns a Message by id.
func (s *Store) GetMessage(ctx context.Context, id string) (*v1.Message, error) {
	var row messageRow
	err := s.reader().GetContext(ctx, &row, s.reader().Rebind(`SELECT * FROM messages WHERE id = ?`), id)
	if err != nil {
		return nil, apperr.FromRepository(err)
	}
	return rowToMessage(row)
}

// ListMessagesBySession returns every Message in a session in index order —
// the order a subscriber must also observe per spec.md §5.
func (s *Store) ListMessagesBySession(ctx context.Context, sessionID string) ([]*v1.Message, error) {
	var rows []messageRow
	err := s.reader().SelectContext(ctx, &rows,
		s.reader().Rebind(`SELECT * FROM messages WHERE session_id = ? ORDER BY idx ASC`), sessionID)
	if err != nil {
		return nil, apperr.FromRepository(err)
	}
	out := make([]*v1.Message, 0, len(rows))
	for _, r := range rows {
		msg, err := rowToMessage(r)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

// FindToolUse returns the tool_use block with the given id within a
// session. AppendMessage calls this for every tool_result block in a draft
// before insert, so a dangling tool_use_id is rejected as a protocol error
// rather than stored (invariant 7: "a tool_result block references a
// tool_use_id previously emitted in the same session").
func (s *Store) FindToolUse(ctx context.Context, sessionID, toolUseID string) (*v1.Block, error) {
	messages, err := s.ListMessagesBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for _, msg := range messages {
		for _, block := range msg.Content {
			if block.Type == v1.BlockToolUse && block.ToolUseID == toolUseID {
				b := block
				return &b, nil
			}
		}
	}
	return nil, apperr.Validationf("tool_use_id %s not found in session %s", toolUseID, sessionID)
}
