package rpc

import (
	"net/http"

	"github.com/gin-gonic/gin"

	v1 "github.com/agor/agor/pkg/api/v1"
)

func (s *Server) handleCreateMCPServer(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	var req v1.MCPServer
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest(err))
		return
	}
	srv, err := s.svc.CreateMCPServer(c.Request.Context(), principal, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, srv)
}

func (s *Server) handleGetMCPServer(c *gin.Context) {
	if _, ok := mustPrincipal(c); !ok {
		return
	}
	srv, err := s.svc.GetMCPServer(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, srv)
}

func (s *Server) handleListMCPServers(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	servers, err := s.svc.ListMCPServers(c.Request.Context(), principal)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, servers)
}

func (s *Server) handleRemoveMCPServer(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	if err := s.svc.RemoveMCPServer(c.Request.Context(), principal, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
