// Package api implements the HTTP surface (spec §6, component C6) on
// top of gin-gonic/gin, the teacher's chosen HTTP framework dependency.
package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/agent-infra/sandboxd/internal/logging"
	"github.com/agent-infra/sandboxd/internal/sandbox/lifecycle"
	"github.com/agent-infra/sandboxd/internal/sberrors"
)

// Server wires the Lifecycle Controller to the HTTP endpoints named in
// spec §6.
type Server struct {
	controller *lifecycle.Controller
	logger     logging.Logger
	engine     *gin.Engine
}

// New builds the gin engine and registers every route.
func New(controller *lifecycle.Controller, logger logging.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	engine.Use(cors.New(corsCfg))

	s := &Server{controller: controller, logger: logging.OrNop(logger), engine: engine}
	s.routes()
	return s
}

// Handler returns the http.Handler to mount on an *http.Server, so main
// keeps ownership of listener lifecycle and graceful shutdown.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/containers", s.handleListProfiles)
	s.engine.POST("/containers/start", s.handleStart)
	s.engine.POST("/containers/exec", s.handleExec)
	s.engine.POST("/containers/stop", s.handleStop)
	s.engine.GET("/containers/status", s.handleContainerStatus)
	s.engine.POST("/containers/cleanup", s.handleCleanup)
	s.engine.GET("/sessions", s.handleListSessions)
	s.engine.GET("/sessions/:id", s.handleGetSession)
	s.engine.POST("/sessions/:id/extend", s.handleExtend)
	s.engine.DELETE("/sessions/:id", s.handleClose)
	s.engine.GET("/containers/:id/logs", s.handleLogStream)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (s *Server) fail(c *gin.Context, err error) {
	c.JSON(sberrors.StatusCode(err), errorBody{Error: err.Error(), Code: sberrors.Code(err)})
}

// serviceName is reported on GET /health (spec §6).
const serviceName = "sandboxd"

func (s *Server) handleHealth(c *gin.Context) {
	status := "ok"
	docker := "connected"
	if !s.controller.EngineHealthy() {
		status = "degraded"
		docker = "unavailable"
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "service": serviceName, "docker": docker})
}

type profileView struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Triggers     []string `json:"triggers,omitempty"`
	NeedsConfirm bool     `json:"needs_confirm"`
}

func (s *Server) handleListProfiles(c *gin.Context) {
	profiles := s.controller.Profiles()
	out := make([]profileView, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, profileView{
			Name:         p.Name,
			Description:  p.Description,
			Triggers:     p.Triggers,
			NeedsConfirm: p.Security.NeedsConfirm,
		})
	}
	c.JSON(http.StatusOK, gin.H{"containers": out, "count": len(out)})
}

type startRequestBody struct {
	ContainerName string `json:"container_name" binding:"required"`
	Code          string `json:"code"`
	Command       string `json:"command"`
	TimeoutSecs   int    `json:"timeout"`
	KeepAlive     bool   `json:"keep_alive"`
	TTLSeconds    int    `json:"ttl_seconds"`
	EnableTTYD    bool   `json:"enable_ttyd"`
}

func (s *Server) handleStart(c *gin.Context) {
	var body startRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error(), Code: "InvalidRequest"})
		return
	}

	req := lifecycle.StartRequest{
		ProfileName: body.ContainerName,
		Code:        body.Code,
		Command:     body.Command,
		KeepAlive:   body.KeepAlive,
		TTLSeconds:  body.TTLSeconds,
		EnableTTYD:  body.EnableTTYD,
	}
	if body.TimeoutSecs > 0 {
		req.Timeout = time.Duration(body.TimeoutSecs) * time.Second
	}

	result, err := s.controller.Start(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type execRequestBody struct {
	ContainerID string `json:"container_id" binding:"required"`
	Command     string `json:"command" binding:"required"`
	TimeoutSecs int    `json:"timeout"`
}

func (s *Server) handleExec(c *gin.Context) {
	var body execRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error(), Code: "InvalidRequest"})
		return
	}

	timeout := time.Duration(0)
	if body.TimeoutSecs > 0 {
		timeout = time.Duration(body.TimeoutSecs) * time.Second
	}

	result, err := s.controller.Exec(c.Request.Context(), body.ContainerID, body.Command, timeout)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, lifecycle.ExecResponse{ExecutionResult: result})
}

type stopRequestBody struct {
	ContainerID string `json:"container_id" binding:"required"`
}

func (s *Server) handleStop(c *gin.Context) {
	var body stopRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error(), Code: "InvalidRequest"})
		return
	}
	result := s.controller.Stop(c.Request.Context(), body.ContainerID)
	c.JSON(http.StatusOK, result)
}

// handleContainerStatus implements GET /containers/status (spec §6:
// {active_containers:[…], count}).
func (s *Server) handleContainerStatus(c *gin.Context) {
	sessions := s.controller.Status(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"active_containers": sessions, "count": len(sessions)})
}

// handleListSessions implements the session-addressed GET /sessions variant.
func (s *Server) handleListSessions(c *gin.Context) {
	sessions := s.controller.Status(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
}

func (s *Server) handleGetSession(c *gin.Context) {
	info, err := s.controller.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

type extendRequestBody struct {
	ExtendSeconds int `json:"extend_seconds" binding:"required"`
}

func (s *Server) handleExtend(c *gin.Context) {
	var body extendRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error(), Code: "InvalidRequest"})
		return
	}
	newTTL, err := s.controller.Extend(c.Request.Context(), c.Param("id"), body.ExtendSeconds)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ttl_seconds": newTTL})
}

func (s *Server) handleClose(c *gin.Context) {
	result, err := s.controller.Close(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleCleanup(c *gin.Context) {
	stopped := s.controller.CleanupAll(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"stopped": stopped, "count": len(stopped)})
}
