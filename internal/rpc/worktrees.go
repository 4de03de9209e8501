package rpc

import (
	"net/http"

	"github.com/gin-gonic/gin"

	v1 "github.com/agor/agor/pkg/api/v1"
)

func (s *Server) handleCreateWorktree(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	var req v1.CreateWorktreeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest(err))
		return
	}
	wt, err := s.svc.CreateWorktree(c.Request.Context(), principal, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, wt)
}

func (s *Server) handleGetWorktree(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	wt, err := s.svc.GetWorktree(c.Request.Context(), principal, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, wt)
}

func (s *Server) handleListWorktreesByBoard(c *gin.Context) {
	if _, ok := mustPrincipal(c); !ok {
		return
	}
	boardID := c.Query("board_id")
	if boardID == "" {
		writeError(c, badRequest(errMissingBoardID))
		return
	}
	worktrees, err := s.svc.ListWorktreesByBoard(c.Request.Context(), boardID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, worktrees)
}

type assignWorktreeBoardRequest struct {
	BoardID *string `json:"board_id"`
}

func (s *Server) handleAssignWorktreeBoard(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	var req assignWorktreeBoardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest(err))
		return
	}
	if err := s.svc.AssignWorktreeBoard(c.Request.Context(), principal, c.Param("id"), req.BoardID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleRemoveWorktree(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	if err := s.svc.RemoveWorktree(c.Request.Context(), principal, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
