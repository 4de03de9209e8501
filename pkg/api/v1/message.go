package v1

import (
	"encoding/json"
	"time"
)

// MessageRole is who authored a Message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// BlockType tags the variant of a content Block. Decoding a block of an
// unlisted type keeps its Type and only the fields Block declares; any other
// fields of that block are not kept.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
	BlockImage      BlockType = "image"
)

// Block is one typed piece of Message content. The union `string | Block[]`
// described in spec.md is always stored as Block[] here: WrapString turns a
// bare string into a single text Block when a message is built. Decoding a
// bare JSON string as message content is not supported.
type Block struct {
	Type BlockType `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ToolUseID string          `json:"id,omitempty"`
	ToolName  string          `json:"name,omitempty"`
	ToolInput json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseRefID string          `json:"tool_use_id,omitempty"`
	Content      json.RawMessage `json:"content,omitempty"`
	IsError      bool            `json:"is_error,omitempty"`

	// image
	ImageData      string `json:"data,omitempty"`
	ImageMediaType string `json:"media_type,omitempty"`

	// RawExtra is excluded from JSON, and decoding does not fill it.
	RawExtra json.RawMessage `json:"-"`
}

// WrapString canonicalizes a bare string message body into a single text Block.
func WrapString(s string) []Block {
	return []Block{{Type: BlockText, Text: s}}
}

// ToolUsesSummary is the denormalized per-Message count of tool_use blocks,
// avoiding a client-side scan of Content to render a badge.
type ToolUsesSummary struct {
	Count int      `json:"count"`
	Names []string `json:"names,omitempty"`
}

// MessageMetadata carries usage accounting. Per spec.md §9 open questions,
// token counts are plumbed through but at least one adapter may leave them
// zero; consumers must tolerate placeholders.
type MessageMetadata struct {
	Model        string `json:"model,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
}

// Message is one append-only entry in a Session's ordered log.
type Message struct {
	ID        string      `json:"id" db:"id"`
	SessionID string      `json:"session_id" db:"session_id"`
	Index     int         `json:"index" db:"idx"`
	TaskID    *string     `json:"task_id,omitempty" db:"task_id"`
	Role      MessageRole `json:"role" db:"role"`

	Content []Block `json:"content" db:"-"`

	ToolUses *ToolUsesSummary `json:"tool_uses,omitempty" db:"-"`
	Metadata MessageMetadata  `json:"metadata" db:"-"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// DraftMessage is the input to Message.append: everything except the
// allocated index, which the store assigns atomically.
type DraftMessage struct {
	SessionID string
	TaskID    *string
	Role      MessageRole
	Content   []Block
	ToolUses  *ToolUsesSummary
	Metadata  MessageMetadata
}
