package opencode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agor/agor/internal/common/logger"
)

func newTestLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	return log
}

func TestGenerateServerPasswordProducesUniqueValues(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		pw := GenerateServerPassword()
		require.NotEmpty(t, pw)
		require.False(t, seen[pw], "password repeated across calls")
		seen[pw] = true
	}
}

func TestBuildAuthHeaderIsBasicAuth(t *testing.T) {
	client := NewClient("http://localhost:8080", "/workspace", "test-password", newTestLogger())
	require.True(t, strings.HasPrefix(client.buildAuthHeader(), "Basic "))
}

func TestWaitForHealthRetriesUntilHealthy(t *testing.T) {
	tests := []struct {
		name      string
		responses []HealthResponse
	}{
		{
			name:      "healthy immediately",
			responses: []HealthResponse{{Healthy: true, Version: "1.0.0"}},
		},
		{
			name: "healthy after one unhealthy poll",
			responses: []HealthResponse{
				{Healthy: false, Version: "1.0.0"},
				{Healthy: true, Version: "1.0.0"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			callCount := 0
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if !strings.HasPrefix(r.URL.Path, "/global/health") {
					http.Error(w, "not found", http.StatusNotFound)
					return
				}
				resp := tt.responses[callCount%len(tt.responses)]
				callCount++
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(resp)
			}))
			defer server.Close()

			client := NewClient(server.URL, "/workspace", "test-password", newTestLogger())
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			require.NoError(t, client.WaitForHealth(ctx))
		})
	}
}

func TestCreateSessionReturnsServerAssignedID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Contains(t, r.URL.Path, "/session")
		require.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "Basic "))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(SessionResponse{ID: "sess-123"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "/workspace", "test-password", newTestLogger())
	sessionID, err := client.CreateSession(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sess-123", sessionID)
}

func TestForkSessionHitsForkEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Contains(t, r.URL.Path, "/session/sess-123/fork")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(SessionResponse{ID: "sess-456"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "/workspace", "test-password", newTestLogger())
	newSessionID, err := client.ForkSession(context.Background(), "sess-123")
	require.NoError(t, err)
	require.Equal(t, "sess-456", newSessionID)
}

func TestSendPromptInterpretsServerResponseShapes(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		response   string
		wantError  bool
	}{
		{name: "success envelope", statusCode: http.StatusOK, response: `{"info":{},"parts":[]}`},
		{
			name:       "named error envelope",
			statusCode: http.StatusOK,
			response:   `{"name":"SomeError","data":{"message":"something went wrong"}}`,
			wantError:  true,
		},
		{name: "http error status", statusCode: http.StatusInternalServerError, response: `{"error":"internal error"}`, wantError: true},
		{name: "empty body", statusCode: http.StatusOK, response: ``, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.statusCode)
				_, _ = fmt.Fprint(w, tt.response)
			}))
			defer server.Close()

			client := NewClient(server.URL, "/workspace", "test-password", newTestLogger())
			err := client.SendPrompt(context.Background(), "sess-123", "Hello", nil, "", "")
			if tt.wantError {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestSendPromptForwardsModelAgentAndVariant(t *testing.T) {
	var receivedBody PromptRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&receivedBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"info":{},"parts":[]}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "/workspace", "test-password", newTestLogger())
	model := &ModelSpec{ProviderID: "anthropic", ModelID: "claude-3-sonnet"}
	require.NoError(t, client.SendPrompt(context.Background(), "sess-123", "Hello", model, "coder", "default"))

	require.NotNil(t, receivedBody.Model)
	require.Equal(t, "anthropic", receivedBody.Model.ProviderID)
	require.Equal(t, "coder", receivedBody.Agent)
	require.Equal(t, "default", receivedBody.Variant)
}

func TestAbortHitsAbortEndpoint(t *testing.T) {
	aborted := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && strings.Contains(r.URL.Path, "/abort") {
			aborted = true
			w.WriteHeader(http.StatusOK)
			return
		}
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL, "/workspace", "test-password", newTestLogger())
	require.NoError(t, client.Abort(context.Background(), "sess-123"))
	require.True(t, aborted)
}

func TestReplyPermissionDefaultsRejectMessage(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		message *string
	}{
		{name: "allow once", reply: PermissionReplyOnce, message: nil},
		{name: "reject with explicit message", reply: PermissionReplyReject, message: strPtr("User denied")},
		{name: "reject without message falls back to default", reply: PermissionReplyReject, message: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var receivedBody PermissionReplyRequest
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewDecoder(r.Body).Decode(&receivedBody)
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			client := NewClient(server.URL, "/workspace", "test-password", newTestLogger())
			require.NoError(t, client.ReplyPermission(context.Background(), "perm-123", tt.reply, tt.message))
			require.Equal(t, tt.reply, receivedBody.Reply)

			if tt.message != nil {
				require.Equal(t, *tt.message, receivedBody.Message)
			} else if tt.reply == PermissionReplyReject {
				require.NotEmpty(t, receivedBody.Message)
			}
		})
	}
}

func TestControlChannelIsReadyBeforeAnyEvent(t *testing.T) {
	client := NewClient("http://localhost:8080", "/workspace", "test-password", newTestLogger())
	require.NotNil(t, client.ControlChannel())
}

func TestSetEventHandlerStoresCallback(t *testing.T) {
	client := NewClient("http://localhost:8080", "/workspace", "test-password", newTestLogger())
	client.SetEventHandler(func(event *SDKEventEnvelope) {})

	client.mu.RLock()
	h := client.eventHandler
	client.mu.RUnlock()
	require.NotNil(t, h)
}

func TestCloseIsIdempotent(t *testing.T) {
	client := NewClient("http://localhost:8080", "/workspace", "test-password", newTestLogger())
	client.Close()
	client.Close() // must not panic on the already-closed control channel

	client.mu.RLock()
	closed := client.closed
	client.mu.RUnlock()
	require.True(t, closed)
}

func TestEventMatchesSessionFiltersTheSharedSSEStream(t *testing.T) {
	client := NewClient("http://localhost:8080", "/workspace", "test-password", newTestLogger())

	tests := []struct {
		name      string
		eventType string
		props     string
		sessionID string
		want      bool
	}{
		{name: "message.updated matches", eventType: SDKEventMessageUpdated, props: `{"info":{"sessionID":"sess-123"}}`, sessionID: "sess-123", want: true},
		{name: "message.updated for another session", eventType: SDKEventMessageUpdated, props: `{"info":{"sessionID":"sess-456"}}`, sessionID: "sess-123", want: false},
		{name: "message.part.updated matches", eventType: SDKEventMessagePartUpdated, props: `{"part":{"sessionID":"sess-123"}}`, sessionID: "sess-123", want: true},
		{name: "unrecognized event type falls through to default case", eventType: SDKEventSessionIdle, props: `{"sessionID":"sess-123"}`, sessionID: "sess-123", want: true},
		{name: "no sessionID in properties lets it through", eventType: SDKEventSessionIdle, props: `{}`, sessionID: "sess-123", want: true},
		{name: "nil properties lets it through", eventType: SDKEventSessionIdle, props: "", sessionID: "sess-123", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var props json.RawMessage
			if tt.props != "" {
				props = json.RawMessage(tt.props)
			}
			event := &SDKEventEnvelope{Type: tt.eventType, Properties: props}
			require.Equal(t, tt.want, client.eventMatchesSession(event, tt.sessionID))
		})
	}
}

func strPtr(s string) *string {
	return &s
}
