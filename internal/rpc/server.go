// Package rpc is the daemon's RPC surface (part of the Executor Process
// and Terminal Service wiring, spec.md §4.3/§4.4/§4.5/§4.9): a gin HTTP
// router carrying CRUD+verb calls for every entity the Service Layer
// (C3) exposes, plus a gorilla/websocket endpoint fanning out Event Bus
// (C2) subscriptions and bridging the Terminal Service (C8).
//
// Grounded on the teacher's internal/agentctl/server/api.Server: a thin
// gin.Engine wrapper constructed once at startup, routes grouped under
// /api/v1, a websocket.Upgrader shared across streaming endpoints.
package rpc

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/agor/agor/internal/common/httpmw"
	"github.com/agor/agor/internal/common/logger"
	"github.com/agor/agor/internal/eventbus"
	"github.com/agor/agor/internal/permission"
	"github.com/agor/agor/internal/service"
	"github.com/agor/agor/internal/terminal"
)

// Server is the daemon's single HTTP+WebSocket listener.
type Server struct {
	cfg Config

	svc      *service.Service
	signer   *service.TokenSigner
	bus      eventbus.EventBus
	arbiter  *permission.Arbiter
	terminal *terminal.Service

	log    *logger.Logger
	router *gin.Engine

	upgrader websocket.Upgrader
}

// Config is the subset of the daemon's server configuration the RPC
// layer needs to bind and time out connections.
type Config struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Deps bundles the components the RPC layer dispatches to. All fields
// are required.
type Deps struct {
	Service     *service.Service
	Signer      *service.TokenSigner
	EventBus    eventbus.EventBus
	Arbiter     *permission.Arbiter
	Terminal    *terminal.Service
	Logger      *logger.Logger
}

// NewServer wires the router and registers every route. Call Handler to
// obtain an http.Handler suitable for http.Server.
func NewServer(cfg Config, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:      cfg,
		svc:      deps.Service,
		signer:   deps.Signer,
		bus:      deps.EventBus,
		arbiter:  deps.Arbiter,
		terminal: deps.Terminal,
		log:      deps.Logger.WithFields(),
		router:   gin.New(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// The daemon is local-only (spec.md §1 Non-goals: "no
				// multi-host distribution"); any client that can reach
				// the bound port is already trusted at the OS level.
				return true
			},
		},
	}

	s.router.Use(gin.Recovery())
	s.router.Use(httpmw.RequestLogger(s.log, "agord"))
	s.router.Use(httpmw.OtelTracing("agord"))

	s.setupRoutes()
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api/v1")
	api.Use(s.authMiddleware())
	{
		api.POST("/auth/login", s.handleLogin)
		api.GET("/auth/whoami", s.handleWhoami)

		api.POST("/worktrees", s.handleCreateWorktree)
		api.GET("/worktrees/:id", s.handleGetWorktree)
		api.GET("/worktrees", s.handleListWorktreesByBoard)
		api.PATCH("/worktrees/:id/board", s.handleAssignWorktreeBoard)
		api.DELETE("/worktrees/:id", s.handleRemoveWorktree)

		api.POST("/sessions", s.handleCreateSession)
		api.GET("/sessions/:id", s.handleGetSession)
		api.GET("/sessions", s.handleListSessions)
		api.DELETE("/sessions/:id", s.handleRemoveSession)
		api.PATCH("/sessions/:id", s.handlePatchSessionAgentID)
		api.GET("/sessions/:id/mcp-servers", s.handleResolveMCPServers)
		api.POST("/sessions/:id/prompt", s.handlePrompt)
		api.POST("/sessions/:id/cancel", s.handleCancel)
		api.POST("/sessions/:id/fork", s.handleFork)
		api.POST("/sessions/:id/spawn", s.handleSpawn)
		api.GET("/sessions/:id/tasks", s.handleListTasks)
		api.GET("/sessions/:id/messages", s.handleListMessages)
		api.GET("/sessions/:id/mcp-assignments", s.handleListMCPAssignments)
		api.PUT("/sessions/:id/mcp-assignments/:serverId", s.handleAssignMCPServer)
		api.DELETE("/sessions/:id/mcp-assignments/:serverId", s.handleRemoveMCPAssignment)

		api.GET("/tasks/:id", s.handleGetTask)
		api.PATCH("/tasks/:id", s.handlePatchTaskFromExecutor)
		api.POST("/tasks/:id/permissions", s.handleRequestPermission)
		api.GET("/tasks/:id/permission-requests", s.handleListPermissionRequests)
		api.POST("/permission-requests/:id/decide", s.handleDecidePermissionRequest)
		api.GET("/permission-requests/:id", s.handleGetPermissionRequest)

		api.POST("/messages", s.handleCreateMessage)
		api.GET("/messages/:id", s.handleGetMessage)

		api.POST("/boards", s.handleCreateBoard)
		api.GET("/boards/:id", s.handleGetBoard)
		api.GET("/boards", s.handleListBoards)
		api.DELETE("/boards/:id", s.handleRemoveBoard)
		api.POST("/boards/:id/objects", s.handleUpsertObject)
		api.POST("/boards/:id/objects/batch", s.handleBatchUpsertObjects)
		api.DELETE("/boards/:id/objects/:objectId", s.handleRemoveObject)
		api.PATCH("/boards/:id/objects/:objectId/position", s.handleUpdatePosition)
		api.GET("/boards/:id/export.yaml", s.handleBoardToYAML)
		api.POST("/boards/import.yaml", s.handleBoardFromYAML)
		api.POST("/boards/:id/clone", s.handleCloneBoard)

		api.POST("/mcp-servers", s.handleCreateMCPServer)
		api.GET("/mcp-servers/:id", s.handleGetMCPServer)
		api.GET("/mcp-servers", s.handleListMCPServers)
		api.DELETE("/mcp-servers/:id", s.handleRemoveMCPServer)

		api.GET("/events", s.handleEventsWS)
		api.GET("/terminals/:sessionId/stream", s.handleTerminalWS)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
