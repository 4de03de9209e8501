package rpc

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agor/agor/internal/common/apperr"
	v1 "github.com/agor/agor/pkg/api/v1"
)

// createMessageRequest mirrors v1.DraftMessage but with JSON tags, since
// DraftMessage carries none (it's built in-process by the vendor adapters,
// the transcript importers and the Executor, as well as decoded here from
// the Executor's wire payload).
type createMessageRequest struct {
	SessionID string             `json:"session_id" binding:"required"`
	TaskID    *string            `json:"task_id,omitempty"`
	Role      v1.MessageRole     `json:"role" binding:"required"`
	Content   []v1.Block         `json:"content"`
	ToolUses  *v1.ToolUsesSummary `json:"tool_uses,omitempty"`
	Metadata  v1.MessageMetadata `json:"metadata,omitempty"`
}

// handleCreateMessage implements messages.create, the third
// executor-token-only verb (spec.md §4.5 step 5): the caller authenticates
// with a token scoped to one task, so this handler confirms the draft's
// session id matches the token's before calling the Service Layer, which
// itself takes no Principal for this method.
func (s *Server) handleCreateMessage(c *gin.Context) {
	claims, ok := mustExecutorClaims(c)
	if !ok {
		return
	}
	var req createMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest(err))
		return
	}
	if req.SessionID != claims.SessionID {
		writeError(c, apperr.Forbiddenf("executor token is not scoped to session %s", req.SessionID))
		return
	}
	draft := v1.DraftMessage{
		SessionID: req.SessionID,
		TaskID:    req.TaskID,
		Role:      req.Role,
		Content:   req.Content,
		ToolUses:  req.ToolUses,
		Metadata:  req.Metadata,
	}
	msg, err := s.svc.CreateMessage(c.Request.Context(), draft)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (s *Server) handleGetMessage(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	msg, err := s.svc.GetMessage(c.Request.Context(), principal, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}
