package rpc

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type loginRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type loginResponse struct {
	User  any    `json:"user"`
	Token string `json:"token"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest(err))
		return
	}
	user, token, err := s.svc.Login(c.Request.Context(), req.Email)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, loginResponse{User: user, Token: token})
}

func (s *Server) handleWhoami(c *gin.Context) {
	principal, ok := mustPrincipal(c)
	if !ok {
		return
	}
	user, err := s.svc.Whoami(c.Request.Context(), principal)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}
