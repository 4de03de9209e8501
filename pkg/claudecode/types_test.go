package claudecode

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetResultDataHandlesEveryResultShape(t *testing.T) {
	tests := []struct {
		name     string
		result   json.RawMessage
		wantNil  bool
		wantText string
	}{
		{name: "empty result", result: nil, wantNil: true},
		{name: "string result is not a ResultData", result: json.RawMessage(`"error message"`), wantNil: true},
		{
			name:     "object result carries text",
			result:   json.RawMessage(`{"text":"success message","session_id":"abc123"}`),
			wantNil:  false,
			wantText: "success message",
		},
		{name: "malformed JSON", result: json.RawMessage(`{invalid`), wantNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &CLIMessage{Result: tt.result}
			got := msg.GetResultData()
			if tt.wantNil {
				require.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			require.Equal(t, tt.wantText, got.Text)
		})
	}
}

func TestGetResultStringOnlyUnwrapsStringResults(t *testing.T) {
	tests := []struct {
		name   string
		result json.RawMessage
		want   string
	}{
		{name: "empty result", result: nil, want: ""},
		{name: "string result", result: json.RawMessage(`"error message"`), want: "error message"},
		{name: "object result does not collapse to a string", result: json.RawMessage(`{"text":"success"}`), want: ""},
		{name: "malformed JSON", result: json.RawMessage(`{invalid`), want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &CLIMessage{Result: tt.result}
			require.Equal(t, tt.want, msg.GetResultString())
		})
	}
}

// TestCLIMessageUnmarshalsSystemAndAssistantEnvelopes mirrors the two
// envelope shapes claudeCodeAdapter.Prompt switches on most often.
func TestCLIMessageUnmarshalsSystemAndAssistantEnvelopes(t *testing.T) {
	var systemMsg CLIMessage
	require.NoError(t, json.Unmarshal([]byte(`{"type":"system","session_id":"abc123","session_status":"active"}`), &systemMsg))
	require.Equal(t, MessageTypeSystem, systemMsg.Type)
	require.Equal(t, "abc123", systemMsg.SessionID)

	var assistantMsg CLIMessage
	require.NoError(t, json.Unmarshal(
		[]byte(`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"Hello"}],"model":"claude-3"}}`),
		&assistantMsg))
	require.Equal(t, MessageTypeAssistant, assistantMsg.Type)
	require.NotNil(t, assistantMsg.Message)
	require.Equal(t, "claude-3", assistantMsg.Message.Model)
}

func TestControlRequestUnmarshalsCanUseTool(t *testing.T) {
	var req ControlRequest
	require.NoError(t, json.Unmarshal(
		[]byte(`{"subtype":"can_use_tool","tool_name":"Bash","input":{"command":"ls -la"},"tool_use_id":"tool123"}`),
		&req))
	require.Equal(t, SubtypeCanUseTool, req.Subtype)
	require.Equal(t, ToolBash, req.ToolName)
	require.Equal(t, "ls -la", req.Input["command"])
}

func TestControlResponseMessageMarshalsNestedResponse(t *testing.T) {
	resp := &ControlResponseMessage{
		Type:      MessageTypeControlResponse,
		RequestID: "req123",
		Response: &ControlResponse{
			Subtype: "success",
			Result:  &PermissionResult{Behavior: BehaviorAllow},
		},
	}

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(data, &parsed))
	require.Equal(t, string(MessageTypeControlResponse), parsed["type"])
	require.Equal(t, "req123", parsed["request_id"])
}

func TestUserMessageMarshalsToCLIWireFormat(t *testing.T) {
	msg := &UserMessage{
		Type: MessageTypeUser,
		Message: UserMessageBody{
			Role:    "user",
			Content: "Hello, Claude!",
		},
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"user","message":{"role":"user","content":"Hello, Claude!"}}`, string(data))
}

func TestContentBlockUnmarshalsEveryBlockType(t *testing.T) {
	tests := []struct {
		name  string
		json  string
		check func(t *testing.T, block ContentBlock)
	}{
		{
			name: "text block",
			json: `{"type":"text","text":"Hello world"}`,
			check: func(t *testing.T, block ContentBlock) {
				require.Equal(t, "text", block.Type)
				require.Equal(t, "Hello world", block.Text)
			},
		},
		{
			name: "thinking block",
			json: `{"type":"thinking","thinking":"Let me analyze..."}`,
			check: func(t *testing.T, block ContentBlock) {
				require.Equal(t, "thinking", block.Type)
				require.Equal(t, "Let me analyze...", block.Thinking)
			},
		},
		{
			// The tool_use_id linkage store.FindToolUse enforces is keyed on
			// this ID field, so it must survive unmarshal untouched.
			name: "tool_use block",
			json: `{"type":"tool_use","id":"tool123","name":"Bash","input":{"command":"ls"}}`,
			check: func(t *testing.T, block ContentBlock) {
				require.Equal(t, "tool_use", block.Type)
				require.Equal(t, "tool123", block.ID)
				require.Equal(t, "Bash", block.Name)
			},
		},
		{
			name: "tool_result block",
			json: `{"type":"tool_result","tool_use_id":"tool123","content":"output","is_error":false}`,
			check: func(t *testing.T, block ContentBlock) {
				require.Equal(t, "tool_result", block.Type)
				require.Equal(t, "tool123", block.ToolUseID)
				require.Equal(t, "output", block.Content)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var block ContentBlock
			require.NoError(t, json.Unmarshal([]byte(tt.json), &block))
			tt.check(t, block)
		})
	}
}

func TestModelUsageStatsContextWindowIsOptional(t *testing.T) {
	var stats ModelUsageStats
	require.NoError(t, json.Unmarshal([]byte(`{"context_window": 200000}`), &stats))
	require.NotNil(t, stats.ContextWindow)
	require.Equal(t, int64(200000), *stats.ContextWindow)

	var stats2 ModelUsageStats
	require.NoError(t, json.Unmarshal([]byte(`{}`), &stats2))
	require.Nil(t, stats2.ContextWindow)
}
