package rpc

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agor/agor/internal/common/apperr"
	"github.com/agor/agor/internal/service"
	v1 "github.com/agor/agor/pkg/api/v1"
)

func (s *Server) handleGetTask(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	task, err := s.svc.GetTask(c.Request.Context(), principal, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// handlePatchTaskFromExecutor implements tasks.patch, the second
// executor-token-only verb (spec.md §4.5 step 6): the owning Executor
// finalizes its own Task's terminal status, authenticated by the token's
// task id rather than session ownership.
func (s *Server) handlePatchTaskFromExecutor(c *gin.Context) {
	claims, ok := mustExecutorClaims(c)
	if !ok {
		return
	}
	taskID := c.Param("id")
	if claims.TaskID != taskID {
		writeError(c, apperr.Forbiddenf("executor token is not scoped to task %s", taskID))
		return
	}
	var req service.TaskPatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest(err))
		return
	}
	task, err := s.svc.PatchTaskFromExecutor(c.Request.Context(), taskID, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// handleRequestPermission implements the RPC side of the Permission
// Arbiter's (C9) synchronous request/response shape (spec.md §4.9): an
// executor-token-scoped call that writes a PermissionRequest and blocks
// until permissions.decide resolves it or the configured timeout expires.
type requestPermissionRequest struct {
	ToolName     string `json:"tool_name" binding:"required"`
	InputPreview string `json:"input_preview"`
}

type requestPermissionResponse struct {
	Allow bool                        `json:"allow"`
	Scope v1.PermissionDecisionScope `json:"scope"`
}

func (s *Server) handleRequestPermission(c *gin.Context) {
	claims, ok := mustExecutorClaims(c)
	if !ok {
		return
	}
	taskID := c.Param("id")
	if claims.TaskID != taskID {
		writeError(c, apperr.Forbiddenf("executor token is not scoped to task %s", taskID))
		return
	}
	var req requestPermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest(err))
		return
	}
	decision, err := s.arbiter.Request(c.Request.Context(), taskID, claims.SessionID, req.ToolName, req.InputPreview)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, requestPermissionResponse{Allow: decision.Allow, Scope: decision.Scope})
}

func (s *Server) handleListPermissionRequests(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	reqs, err := s.svc.ListPermissionRequests(c.Request.Context(), principal, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, reqs)
}

func (s *Server) handleGetPermissionRequest(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	req, err := s.svc.GetPermissionRequest(c.Request.Context(), principal, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

type decidePermissionRequestBody struct {
	Allow bool                        `json:"allow"`
	Scope v1.PermissionDecisionScope `json:"scope" binding:"required"`
}

func (s *Server) handleDecidePermissionRequest(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	var req decidePermissionRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest(err))
		return
	}
	if err := s.svc.DecidePermissionRequest(c.Request.Context(), principal, c.Param("id"), req.Allow, req.Scope); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
