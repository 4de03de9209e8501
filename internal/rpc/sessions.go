package rpc

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agor/agor/internal/common/apperr"
	v1 "github.com/agor/agor/pkg/api/v1"
)

func (s *Server) handleCreateSession(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	var req v1.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest(err))
		return
	}
	sess, err := s.svc.CreateSession(c.Request.Context(), principal, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (s *Server) handleGetSession(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	sess, err := s.svc.GetSession(c.Request.Context(), principal, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) handleListSessions(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	sessions, err := s.svc.ListSessions(c.Request.Context(), principal)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

func (s *Server) handleRemoveSession(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	if err := s.svc.RemoveSession(c.Request.Context(), principal, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handlePatchSessionAgentID implements sessions.patch(agent_session_id),
// one of the three executor-token-only verbs (spec.md §4.5 step 5): the
// caller authenticates with the session token minted at spawn time, not
// a user Principal, so this handler checks the token's session id rather
// than calling mustPrincipal.
type patchSessionAgentIDRequest struct {
	AgentSessionID string `json:"agent_session_id" binding:"required"`
}

func (s *Server) handlePatchSessionAgentID(c *gin.Context) {
	claims, ok := mustExecutorClaims(c)
	if !ok {
		return
	}
	sessionID := c.Param("id")
	if claims.SessionID != sessionID {
		writeError(c, apperr.Forbiddenf("executor token is not scoped to session %s", sessionID))
		return
	}
	var req patchSessionAgentIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest(err))
		return
	}
	sess, err := s.svc.PatchSessionAgentID(c.Request.Context(), sessionID, req.AgentSessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) handleResolveMCPServers(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	servers, err := s.svc.ResolveMCPServers(c.Request.Context(), principal, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, servers)
}

func (s *Server) handlePrompt(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	var req v1.PromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest(err))
		return
	}
	task, err := s.svc.Prompt(c.Request.Context(), principal, c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (s *Server) handleCancel(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	var req v1.CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest(err))
		return
	}
	if err := s.svc.Cancel(c.Request.Context(), principal, c.Param("id"), req.TaskID); err != nil {
		writeError(c, err)
		return
	}
	// internal/scheduler signals the local executor process directly, but
	// also notify over the event subscription the Executor's
	// rpcclient.SubscribeCancel is blocked on — this is the only path that
	// reaches an executor that isn't this daemon's direct child process.
	s.publishTaskCancel(c.Request.Context(), req.TaskID)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleFork(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	var req v1.ForkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest(err))
		return
	}
	sess, err := s.svc.Fork(c.Request.Context(), principal, c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (s *Server) handleSpawn(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	var req v1.SpawnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest(err))
		return
	}
	sess, err := s.svc.Spawn(c.Request.Context(), principal, c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (s *Server) handleListTasks(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	tasks, err := s.svc.ListTasks(c.Request.Context(), principal, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}

func (s *Server) handleListMessages(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	messages, err := s.svc.ListMessages(c.Request.Context(), principal, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

func (s *Server) handleListMCPAssignments(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	assignments, err := s.svc.ListMCPAssignments(c.Request.Context(), principal, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, assignments)
}

type assignMCPServerRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleAssignMCPServer(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	var req assignMCPServerRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		writeError(c, badRequest(err))
		return
	}
	if err := s.svc.AssignMCPServer(c.Request.Context(), principal, c.Param("id"), c.Param("serverId"), req.Enabled); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleRemoveMCPAssignment(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	if err := s.svc.RemoveMCPAssignment(c.Request.Context(), principal, c.Param("id"), c.Param("serverId")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
