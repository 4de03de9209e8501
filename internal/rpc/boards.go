package rpc

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	v1 "github.com/agor/agor/pkg/api/v1"
)

func (s *Server) handleCreateBoard(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	var req v1.CreateBoardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest(err))
		return
	}
	b, err := s.svc.CreateBoard(c.Request.Context(), principal, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

func (s *Server) handleGetBoard(c *gin.Context) {
	if _, ok := mustPrincipal(c); !ok {
		return
	}
	b, err := s.svc.GetBoard(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (s *Server) handleListBoards(c *gin.Context) {
	if _, ok := mustPrincipal(c); !ok {
		return
	}
	boards, err := s.svc.ListBoards(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, boards)
}

func (s *Server) handleRemoveBoard(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	if err := s.svc.RemoveBoard(c.Request.Context(), principal, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleUpsertObject(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	var req v1.UpsertObjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest(err))
		return
	}
	b, err := s.svc.UpsertObject(c.Request.Context(), principal, c.Param("id"), req.Object)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (s *Server) handleBatchUpsertObjects(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	var req v1.BatchUpsertObjectsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest(err))
		return
	}
	b, err := s.svc.BatchUpsertObjects(c.Request.Context(), principal, c.Param("id"), req.Objects)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (s *Server) handleRemoveObject(c *gin.Context) {
	if _, ok := mustPrincipal(c); !ok {
		return
	}
	b, err := s.svc.RemoveObject(c.Request.Context(), c.Param("id"), c.Param("objectId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (s *Server) handleUpdatePosition(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	var req v1.UpdatePositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest(err))
		return
	}
	b, err := s.svc.UpdatePosition(c.Request.Context(), principal, c.Param("id"), c.Param("objectId"), req.X, req.Y)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (s *Server) handleBoardToYAML(c *gin.Context) {
	if _, ok := mustPrincipal(c); !ok {
		return
	}
	text, err := s.svc.ToYAML(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/yaml", []byte(text))
}

func (s *Server) handleBoardFromYAML(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, badRequest(err))
		return
	}
	b, err := s.svc.FromBlob(c.Request.Context(), principal, body)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

type cloneBoardRequest struct {
	Name string `json:"name" binding:"required"`
}

func (s *Server) handleCloneBoard(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	var req cloneBoardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest(err))
		return
	}
	b, err := s.svc.Clone(c.Request.Context(), principal, c.Param("id"), req.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}
