// Package claudecode parses Claude Code's on-disk project transcript
// (~/.claude/projects/<slug>/<uuid>.jsonl, one claudecode.CLIMessage per
// line) into Sessions, Tasks and Messages, preserving tool_use/tool_result
// linkage (spec.md §6). Grounded on the kept pkg/claudecode client's own
// wire types — the importer reads the same CLIMessage shape the adapter's
// stdout parser already decodes, just replayed from a file instead of a
// live subprocess.
package claudecode

import (
	"bufio"
	"context"
	"encoding/json"
	"os"

	"github.com/agor/agor/internal/common/apperr"
	"github.com/agor/agor/internal/store"
	"github.com/agor/agor/internal/vendors/transcript"
	"github.com/agor/agor/pkg/claudecode"
	v1 "github.com/agor/agor/pkg/api/v1"
)

// Importer binds a transcript import to one Worktree/owner pair. Build
// one per CLI invocation of `session load-claude`.
type Importer struct {
	store      transcript.Store
	worktreeID string
	workDir    string
	ownerID    string
	cacheDir   string
}

// New returns an Importer that creates Sessions against worktreeID, owned
// by ownerID. cacheDir is normally config.ImportCacheDir("claude-code").
func New(st transcript.Store, worktreeID, workDir, ownerID, cacheDir string) *Importer {
	return &Importer{store: st, worktreeID: worktreeID, workDir: workDir, ownerID: ownerID, cacheDir: cacheDir}
}

// Import reads the transcript at path and returns the Session it produced
// (or the Session a prior Import of the same conversation already
// produced, per the cache marker keyed on the transcript's vendor resume
// token).
func (imp *Importer) Import(ctx context.Context, path string) (*v1.Session, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}

	resumeToken := resumeTokenOf(lines)
	if existing, err := transcript.CheckMarker(ctx, imp.store, imp.cacheDir, resumeToken); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	sess := &v1.Session{
		OwnerID:    imp.ownerID,
		Vendor:     v1.VendorClaudeCode,
		Status:     v1.SessionIdle,
		WorktreeID: imp.worktreeID,
		WorkDir:    imp.workDir,
	}
	if resumeToken != "" {
		sess.AgentSessionID = &resumeToken
	}
	if err := imp.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}

	if err := imp.replay(ctx, sess.ID, lines); err != nil {
		return nil, err
	}
	if err := transcript.WriteMarker(imp.cacheDir, resumeToken, sess.ID); err != nil {
		return nil, err
	}
	return sess, nil
}

func readLines(path string) ([]claudecode.CLIMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperr.NotFoundf("transcript %s: %v", path, err)
	}
	defer func() { _ = f.Close() }()

	var lines []claudecode.CLIMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var msg claudecode.CLIMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		lines = append(lines, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, apperr.Internalf(err, "scan transcript %s", path)
	}
	return lines, nil
}

// resumeTokenOf returns the vendor session id Claude Code assigned this
// conversation, read off the first message that carries one.
func resumeTokenOf(lines []claudecode.CLIMessage) string {
	for _, msg := range lines {
		if msg.SessionID != "" {
			return msg.SessionID
		}
	}
	return ""
}

// replay walks the transcript in order, opening a new Task at each user
// message and closing it at the matching result message, appending one
// Message per assistant line (all of that line's content blocks) in between so the
// tool_use<->tool_result pairing already present in each line's content
// blocks is preserved verbatim.
func (imp *Importer) replay(ctx context.Context, sessionID string, lines []claudecode.CLIMessage) error {
	var task *v1.Task

	closeTask := func(result *claudecode.CLIMessage) error {
		if task == nil {
			return nil
		}
		// tool_use_count and end_index are already maintained by
		// AppendMessage as each Message lands; this patch only closes
		// out status/timing/usage.
		patch := store.TaskPatch{Completed: true}
		status := v1.TaskCompleted
		if result != nil && result.IsError {
			status = v1.TaskFailed
		}
		patch.Status = &status
		if result != nil {
			if usage := result.TotalInputTokens; usage > 0 {
				in := int(result.TotalInputTokens)
				patch.InputTokens = &in
			}
			if result.TotalOutputTokens > 0 {
				out := int(result.TotalOutputTokens)
				patch.OutputTokens = &out
			}
		}
		if _, err := imp.store.PatchTask(ctx, task.ID, patch); err != nil {
			return err
		}
		task = nil
		return nil
	}

	for i := range lines {
		msg := &lines[i]
		switch msg.Type {
		case claudecode.MessageTypeUser:
			if task != nil {
				if err := closeTask(nil); err != nil {
					return err
				}
			}
			prompt := userPromptText(msg)
			t := &v1.Task{SessionID: sessionID, Prompt: prompt}
			if err := imp.store.CreateTask(ctx, t); err != nil {
				return err
			}
			if _, err := imp.store.PatchTask(ctx, t.ID, store.TaskPatch{Started: true}); err != nil {
				return err
			}
			task = t
			if err := imp.appendMessage(ctx, sessionID, t.ID, v1.RoleUser, v1.WrapString(prompt)); err != nil {
				return err
			}

		case claudecode.MessageTypeAssistant:
			if task == nil {
				continue
			}
			blocks, _ := assistantBlocks(msg)
			if len(blocks) == 0 {
				continue
			}
			if err := imp.appendMessage(ctx, sessionID, task.ID, v1.RoleAssistant, blocks); err != nil {
				return err
			}

		case claudecode.MessageTypeResult:
			if err := closeTask(msg); err != nil {
				return err
			}
		}
	}
	return closeTask(nil)
}

func userPromptText(msg *claudecode.CLIMessage) string {
	if msg.Message == nil {
		return ""
	}
	if s := msg.Message.GetContentString(); s != "" {
		return s
	}
	for _, b := range msg.Message.GetContentBlocks() {
		if b.Type == "text" {
			return b.Text
		}
	}
	return ""
}

// assistantBlocks converts one assistant line's content into the common
// Block model, counting tool_use blocks as it goes.
func assistantBlocks(msg *claudecode.CLIMessage) ([]v1.Block, int) {
	if msg.Message == nil {
		return nil, 0
	}
	var out []v1.Block
	var toolUses int
	for _, b := range msg.Message.GetContentBlocks() {
		switch b.Type {
		case "text":
			out = append(out, v1.Block{Type: v1.BlockText, Text: b.Text})
		case "tool_use":
			toolUses++
			input, _ := json.Marshal(b.Input)
			out = append(out, v1.Block{
				Type:      v1.BlockToolUse,
				ToolUseID: b.ID,
				ToolName:  b.Name,
				ToolInput: input,
			})
		case "tool_result":
			content, _ := json.Marshal(b.Content)
			out = append(out, v1.Block{
				Type:         v1.BlockToolResult,
				ToolUseRefID: b.ToolUseID,
				Content:      content,
				IsError:      b.IsError,
			})
		}
	}
	return out, toolUses
}

func (imp *Importer) appendMessage(ctx context.Context, sessionID, taskID string, role v1.MessageRole, content []v1.Block) error {
	_, err := imp.store.AppendMessage(ctx, v1.DraftMessage{
		SessionID: sessionID,
		TaskID:    &taskID,
		Role:      role,
		Content:   content,
	})
	return err
}
