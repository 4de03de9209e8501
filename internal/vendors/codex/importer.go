// Package codex parses Codex's on-disk session transcript
// (~/.codex/sessions/<date>/<uuid>.jsonl, one pkg/codex.Notification per
// line) into Sessions, Tasks and Messages. Grounded on the kept pkg/codex
// client's item/turn notification types: the transcript is the same
// method+params envelope the client's stdio reader already decodes live,
// replayed from a file (spec.md §6).
package codex

import (
	"bufio"
	"context"
	"encoding/json"
	"os"

	"github.com/agor/agor/internal/common/apperr"
	"github.com/agor/agor/internal/store"
	"github.com/agor/agor/internal/vendors/transcript"
	"github.com/agor/agor/pkg/codex"
	v1 "github.com/agor/agor/pkg/api/v1"
)

// Importer binds a transcript import to one Worktree/owner pair.
type Importer struct {
	store      transcript.Store
	worktreeID string
	workDir    string
	ownerID    string
	cacheDir   string
}

// New returns an Importer that creates Sessions against worktreeID, owned
// by ownerID. cacheDir is normally config.ImportCacheDir("codex").
func New(st transcript.Store, worktreeID, workDir, ownerID, cacheDir string) *Importer {
	return &Importer{store: st, worktreeID: worktreeID, workDir: workDir, ownerID: ownerID, cacheDir: cacheDir}
}

// Import reads the transcript at path and returns the Session it
// produced, or the Session a prior Import of the same thread already
// produced (the thread id is Codex's vendor resume token, per spec.md §3).
func (imp *Importer) Import(ctx context.Context, path string) (*v1.Session, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}

	threadID := threadIDOf(lines)
	if existing, err := transcript.CheckMarker(ctx, imp.store, imp.cacheDir, threadID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	sess := &v1.Session{
		OwnerID:    imp.ownerID,
		Vendor:     v1.VendorCodex,
		Status:     v1.SessionIdle,
		WorktreeID: imp.worktreeID,
		WorkDir:    imp.workDir,
	}
	if threadID != "" {
		sess.AgentSessionID = &threadID
	}
	if err := imp.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}

	if err := imp.replay(ctx, sess.ID, lines); err != nil {
		return nil, err
	}
	if err := transcript.WriteMarker(imp.cacheDir, threadID, sess.ID); err != nil {
		return nil, err
	}
	return sess, nil
}

func readLines(path string) ([]codex.Notification, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperr.NotFoundf("transcript %s: %v", path, err)
	}
	defer func() { _ = f.Close() }()

	var lines []codex.Notification
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var note codex.Notification
		if err := json.Unmarshal(raw, &note); err != nil {
			continue
		}
		lines = append(lines, note)
	}
	if err := scanner.Err(); err != nil {
		return nil, apperr.Internalf(err, "scan transcript %s", path)
	}
	return lines, nil
}

func threadIDOf(lines []codex.Notification) string {
	for _, note := range lines {
		if note.Method != codex.NotifyThreadStarted {
			continue
		}
		var params struct {
			ThreadID string `json:"threadId"`
		}
		if err := json.Unmarshal(note.Params, &params); err == nil && params.ThreadID != "" {
			return params.ThreadID
		}
	}
	return ""
}

// replay opens a new Task at each user-turn start (turn/started carries no
// prompt text of its own in this wire shape, so the Task's prompt is
// reconstructed from the first userMessage item of that turn) and closes
// it at turn/completed, appending one Message per completed item —
// agentMessage, reasoning, commandExecution and fileChange items all
// upcast to the common Block model, preserving each commandExecution's
// id as its tool_use/tool_result pairing key.
func (imp *Importer) replay(ctx context.Context, sessionID string, lines []codex.Notification) error {
	var task *v1.Task
	var pendingPrompt string

	closeTask := func() error {
		if task == nil {
			return nil
		}
		status := v1.TaskCompleted
		if _, err := imp.store.PatchTask(ctx, task.ID, store.TaskPatch{Status: &status, Completed: true}); err != nil {
			return err
		}
		task, pendingPrompt = nil, ""
		return nil
	}

	for _, note := range lines {
		switch note.Method {
		case codex.NotifyItemStarted, codex.NotifyItemCompleted:
			var params codex.ItemCompletedParams
			if err := json.Unmarshal(note.Params, &params); err != nil || params.Item == nil {
				continue
			}
			if note.Method == codex.NotifyItemStarted && params.Item.Type == "userMessage" {
				pendingPrompt = itemText(params.Item)
				continue
			}
			if note.Method != codex.NotifyItemCompleted {
				continue
			}
			if params.Item.Type == "userMessage" {
				if task != nil {
					if err := closeTask(); err != nil {
						return err
					}
				}
				prompt := itemText(params.Item)
				if prompt == "" {
					prompt = pendingPrompt
				}
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
				continue
			}
			if task == nil {
				continue
			}
			blocks := itemBlocks(params.Item)
			if len(blocks) == 0 {
				continue
			}
			if err := imp.appendMessage(ctx, sessionID, task.ID, v1.RoleAssistant, blocks); err != nil {
				return err
			}

		case codex.NotifyTurnCompleted:
			if err := closeTask(); err != nil {
				return err
			}
		}
	}
	return closeTask()
}

func itemText(item *codex.Item) string {
	for _, part := range item.Content {
		if part.Text != "" {
			return part.Text
		}
	}
	for _, part := range item.Summary {
		if part.Text != "" {
			return part.Text
		}
	}
	return ""
}

// itemBlocks upcasts one completed Codex item to the common Block model.
// commandExecution items become a tool_use/tool_result pair, both keyed by
// the item's own id, mirroring the claude-code importer's block shape
// even though Codex reports invocation and output as a single item.
func itemBlocks(item *codex.Item) []v1.Block {
	switch item.Type {
	case "agentMessage", "reasoning":
		if text := itemText(item); text != "" {
			return []v1.Block{{Type: v1.BlockText, Text: text}}
		}
		return nil
	case "commandExecution":
		input, _ := json.Marshal(map[string]string{"command": item.Command, "cwd": item.Cwd})
		output, _ := json.Marshal(item.AggregatedOutput)
		isError := item.ExitCode != nil && *item.ExitCode != 0
		return []v1.Block{
			{Type: v1.BlockToolUse, ToolUseID: item.ID, ToolName: "shell", ToolInput: input},
			{Type: v1.BlockToolResult, ToolUseRefID: item.ID, Content: output, IsError: isError},
		}
	case "fileChange":
		paths := make([]string, 0, len(item.Changes))
		for _, c := range item.Changes {
			paths = append(paths, c.Path)
		}
		input, _ := json.Marshal(map[string]any{"paths": paths})
		return []v1.Block{{Type: v1.BlockToolUse, ToolUseID: item.ID, ToolName: "apply_patch", ToolInput: input}}
	default:
		return nil
	}
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
