package opencode

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSDKEventDispatchesOnType(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantType  string
		wantError bool
	}{
		{
			name:     "message.updated event",
			input:    `{"type":"message.updated","properties":{"info":{"id":"123","sessionID":"sess-1","role":"assistant"}}}`,
			wantType: SDKEventMessageUpdated,
		},
		{
			name:     "message.part.updated event",
			input:    `{"type":"message.part.updated","properties":{"part":{"type":"text","text":"hello"}}}`,
			wantType: SDKEventMessagePartUpdated,
		},
		{
			name:     "permission.asked event",
			input:    `{"type":"permission.asked","properties":{"id":"perm-1","sessionID":"sess-1","permission":"edit"}}`,
			wantType: SDKEventPermissionAsked,
		},
		{
			name:     "session.idle event",
			input:    `{"type":"session.idle","properties":{"sessionID":"sess-1"}}`,
			wantType: SDKEventSessionIdle,
		},
		{
			name:     "session.error event",
			input:    `{"type":"session.error","properties":{"sessionID":"sess-1","error":{"message":"something went wrong"}}}`,
			wantType: SDKEventSessionError,
		},
		{name: "malformed JSON", input: `{invalid`, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := ParseSDKEvent([]byte(tt.input))
			if tt.wantError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantType, event.Type)
		})
	}
}

func TestParseMessageUpdatedUnpacksNestedTokenUsage(t *testing.T) {
	input := `{"info":{"id":"msg-123","sessionID":"sess-456","role":"assistant","model":{"providerID":"anthropic","modelID":"claude-3-sonnet"},"tokens":{"input":100,"output":50,"cache":{"read":20}}}}`

	props, err := ParseMessageUpdated(json.RawMessage(input))
	require.NoError(t, err)
	require.Equal(t, "msg-123", props.Info.ID)
	require.Equal(t, "sess-456", props.Info.SessionID)
	require.Equal(t, "assistant", props.Info.Role)
	require.NotNil(t, props.Info.Model)
	require.Equal(t, "anthropic", props.Info.Model.ProviderID)
	require.NotNil(t, props.Info.Tokens)
	require.Equal(t, 100, props.Info.Tokens.Input)
	require.Equal(t, 50, props.Info.Tokens.Output)
	require.NotNil(t, props.Info.Tokens.Cache)
	require.Equal(t, 20, props.Info.Tokens.Cache.Read)
}

func TestParseMessagePartUpdatedCoversEveryPartType(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantType string
		wantText string
		wantID   string
	}{
		{
			name:     "text part with ID",
			input:    `{"part":{"id":"part-123","type":"text","messageID":"msg-1","sessionID":"sess-1","text":"Hello world"},"delta":"Hello"}`,
			wantType: PartTypeText,
			wantText: "Hello world",
			wantID:   "part-123",
		},
		{
			name:     "text part without an ID",
			input:    `{"part":{"type":"text","messageID":"msg-1","sessionID":"sess-1","text":"Hello world"},"delta":"Hello"}`,
			wantType: PartTypeText,
			wantText: "Hello world",
		},
		{
			name:     "reasoning part",
			input:    `{"part":{"id":"reason-1","type":"reasoning","messageID":"msg-1","sessionID":"sess-1","text":"Let me think..."}}`,
			wantType: PartTypeReasoning,
			wantText: "Let me think...",
			wantID:   "reason-1",
		},
		{
			name:     "tool part",
			input:    `{"part":{"id":"tool-1","type":"tool","messageID":"msg-1","sessionID":"sess-1","callID":"call-1","tool":"bash","state":{"status":"running","title":"Running command"}}}`,
			wantType: PartTypeTool,
			wantID:   "tool-1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			props, err := ParseMessagePartUpdated(json.RawMessage(tt.input))
			require.NoError(t, err)
			require.Equal(t, tt.wantType, props.Part.Type)
			if tt.wantText != "" {
				require.Equal(t, tt.wantText, props.Part.Text)
			}
			require.Equal(t, tt.wantID, props.Part.ID)
		})
	}
}

func TestParsePermissionAskedCarriesToolAndMetadata(t *testing.T) {
	input := `{"id":"perm-123","sessionID":"sess-456","permission":"bash","patterns":["npm run *"],"metadata":{"command":"npm run test"},"tool":{"callID":"call-789"}}`

	props, err := ParsePermissionAsked(json.RawMessage(input))
	require.NoError(t, err)
	require.Equal(t, "perm-123", props.ID)
	require.Equal(t, "sess-456", props.SessionID)
	require.Equal(t, "bash", props.Permission)
	require.Equal(t, []string{"npm run *"}, props.Patterns)
	require.NotNil(t, props.Tool)
	require.Equal(t, "call-789", props.Tool.CallID)
	require.Equal(t, "npm run test", props.Metadata["command"])
}

func TestParseSessionIdleExtractsSessionID(t *testing.T) {
	props, err := ParseSessionIdle(json.RawMessage(`{"sessionID":"sess-123"}`))
	require.NoError(t, err)
	require.Equal(t, "sess-123", props.SessionID)
}

func TestParseSessionErrorPrefersDataMessageAndName(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantKind    string
		wantMessage string
	}{
		{
			name:        "name and data.message",
			input:       `{"sessionID":"sess-1","error":{"name":"ProviderAuthError","data":{"message":"API key invalid"}}}`,
			wantKind:    "ProviderAuthError",
			wantMessage: "API key invalid",
		},
		{
			name:        "type and message",
			input:       `{"sessionID":"sess-1","error":{"type":"RateLimitError","message":"Rate limit exceeded"}}`,
			wantKind:    "RateLimitError",
			wantMessage: "Rate limit exceeded",
		},
		{name: "no error present", input: `{"sessionID":"sess-1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			props, err := ParseSessionError(json.RawMessage(tt.input))
			require.NoError(t, err)

			if tt.wantKind == "" {
				require.Nil(t, props.Error)
				return
			}
			require.NotNil(t, props.Error)
			require.Equal(t, tt.wantKind, props.Error.GetKind())
			require.Equal(t, tt.wantMessage, props.Error.GetMessage())
		})
	}
}

func TestSDKErrorGetKindFallsBackFromNameToType(t *testing.T) {
	tests := []struct {
		name     string
		err      SDKError
		wantKind string
	}{
		{name: "name takes precedence", err: SDKError{Name: "AuthError", Type: "SomeType"}, wantKind: "AuthError"},
		{name: "falls back to type", err: SDKError{Type: "SomeType"}, wantKind: "SomeType"},
		{name: "falls back to unknown", err: SDKError{}, wantKind: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.wantKind, tt.err.GetKind())
		})
	}
}

func TestSDKErrorGetMessagePrefersNestedData(t *testing.T) {
	tests := []struct {
		name        string
		err         SDKError
		wantMessage string
	}{
		{
			name:        "data.message takes precedence over top-level message",
			err:         SDKError{Message: "outer message", Data: &struct{ Message string `json:"message,omitempty"` }{Message: "inner message"}},
			wantMessage: "inner message",
		},
		{name: "falls back to top-level message", err: SDKError{Message: "outer message"}, wantMessage: "outer message"},
		{name: "empty when nothing set", err: SDKError{}, wantMessage: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.wantMessage, tt.err.GetMessage())
		})
	}
}

func TestToolStateUpdateRoundTripsEveryStatus(t *testing.T) {
	for _, status := range []string{ToolStatusPending, ToolStatusRunning, ToolStatusCompleted, ToolStatusError} {
		t.Run(status, func(t *testing.T) {
			state := ToolStateUpdate{Status: status}
			require.Equal(t, status, state.Status)
		})
	}
}

func TestExecutorEventMarshalsAndUnmarshalsCleanly(t *testing.T) {
	event := ExecutorEvent{Type: EventTypeSessionStart, SessionID: "sess-123"}

	data, err := json.Marshal(event)
	require.NoError(t, err)

	var parsed ExecutorEvent
	require.NoError(t, json.Unmarshal(data, &parsed))
	require.Equal(t, event.Type, parsed.Type)
	require.Equal(t, event.SessionID, parsed.SessionID)
}
