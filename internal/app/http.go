package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"contentdesk/core/internal/config"
	"contentdesk/core/internal/rbac"
	"contentdesk/core/internal/remote"
	"contentdesk/core/internal/store"
	"contentdesk/core/internal/util"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	gatherer   prometheus.Gatherer
	logger     *zap.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, gatherer prometheus.Gatherer, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, gatherer: gatherer, logger: logger}
}

func (s *HTTPServer) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog(), cors.New(s.corsConfig()))

	r.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/api/ready", s.handleReady)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api")
	api.GET("/state", s.handleState)
	api.GET("/permissions", s.handlePermissions)
	api.POST("/sync", s.handleSync)
	api.GET("/settings", s.handleGetSettings)
	api.PUT("/settings", s.requireActor, s.handlePutSettings)

	projects := api.Group("/projects")
	projects.GET("", s.handleListProjects)
	projects.POST("", s.requireActor, s.handleCreateProject)
	projects.GET("/:id", s.handleGetProject)
	projects.PUT("/:id", s.requireActor, s.handleUpdateProject)
	projects.DELETE("/:id", s.requireActor, s.handleDeleteProject)
	projects.POST("/:id/seen", s.handleMarkSeen)
	projects.GET("/:id/transitions", s.handleListTransitions)
	projects.POST("/:id/transitions", s.requireActor, s.handleTransition)
	projects.GET("/:id/threads", s.handleListThreads)
	projects.POST("/:id/threads", s.requireActor, s.handleCreateThread)

	threads := api.Group("/threads")
	threads.POST("/:id/comments", s.requireActor, s.handleAddComment)
	threads.PUT("/:id", s.requireActor, s.handleUpdateThread)

	return r
}

func (s *HTTPServer) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Content-Type", "X-Request-ID", actorIDHeader, actorNameHeader, actorEmailHeader, actorRoleHeader},
		ExposeHeaders: []string{"X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}
	if s.corsOrigin == "" || s.corsOrigin == "*" {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = strings.Split(s.corsOrigin, ",")
	}
	return cfg
}

func (s *HTTPServer) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = util.NewID("")
		}
		c.Header("X-Request-ID", requestID)
		c.Header("Cache-Control", "no-store")

		started := time.Now()
		c.Next()

		s.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(started)),
		)
	}
}

func (s *HTTPServer) handleReady(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := gin.H{
		"mirror": gin.H{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["mirror"] = gin.H{"status": "error", "error": err.Error()}
	}
	if s.service.State().IsLoading {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["projects"] = gin.H{"status": "loading"}
	}

	c.JSON(statusCode, gin.H{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, s.service.State())
}

func (s *HTTPServer) handlePermissions(c *gin.Context) {
	actor := actorFromRequest(c)
	c.JSON(http.StatusOK, gin.H{
		"role":        rbac.Normalize(actor.Role),
		"permissions": rbac.PermissionsFor(rbac.Role(actor.Role)),
	})
}

func (s *HTTPServer) handleSync(c *gin.Context) {
	if err := s.service.Sync(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.service.State())
}

func (s *HTTPServer) handleGetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, s.service.Endpoints())
}

func (s *HTTPServer) handlePutSettings(c *gin.Context) {
	var body config.Endpoints
	if !decodeBody(c, &body) {
		return
	}
	if err := s.service.SetEndpoints(c.Request.Context(), body); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.service.Endpoints())
}

func (s *HTTPServer) handleListProjects(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"items": s.service.Projects()})
}

func (s *HTTPServer) handleGetProject(c *gin.Context) {
	project, ok := s.service.Project(c.Param("id"))
	if !ok {
		writeError(c, notFoundError("project"))
		return
	}
	c.JSON(http.StatusOK, project)
}

func (s *HTTPServer) handleCreateProject(c *gin.Context) {
	var body CreateProjectInput
	if !decodeBody(c, &body) {
		return
	}
	project, err := s.service.Create(c.Request.Context(), actorFromRequest(c), body)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, project)
}

func (s *HTTPServer) handleUpdateProject(c *gin.Context) {
	var body store.ProjectPatch
	if !decodeBody(c, &body) {
		return
	}
	project, err := s.service.Update(c.Request.Context(), actorFromRequest(c), c.Param("id"), body)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

func (s *HTTPServer) handleDeleteProject(c *gin.Context) {
	if err := s.service.Remove(c.Request.Context(), actorFromRequest(c), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *HTTPServer) handleMarkSeen(c *gin.Context) {
	if err := s.service.MarkSeen(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *HTTPServer) handleListTransitions(c *gin.Context) {
	transitions, err := s.service.AvailableTransitions(actorFromRequest(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": transitions})
}

func (s *HTTPServer) handleTransition(c *gin.Context) {
	var body TransitionInput
	if !decodeBody(c, &body) {
		return
	}
	project, err := s.service.Transition(c.Request.Context(), actorFromRequest(c), c.Param("id"), body)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

func (s *HTTPServer) handleListThreads(c *gin.Context) {
	threads, err := s.service.Threads(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": threads})
}

func (s *HTTPServer) handleCreateThread(c *gin.Context) {
	var body CreateThreadInput
	if !decodeBody(c, &body) {
		return
	}
	thread, err := s.service.CreateThread(c.Request.Context(), actorFromRequest(c), c.Param("id"), body)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, thread)
}

func (s *HTTPServer) handleAddComment(c *gin.Context) {
	var body AddCommentInput
	if !decodeBody(c, &body) {
		return
	}
	thread, err := s.service.AddComment(c.Request.Context(), actorFromRequest(c), c.Param("id"), body)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, thread)
}

func (s *HTTPServer) handleUpdateThread(c *gin.Context) {
	var body UpdateThreadInput
	if !decodeBody(c, &body) {
		return
	}
	thread, err := s.service.UpdateThread(c.Request.Context(), actorFromRequest(c), c.Param("id"), body)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, thread)
}

const (
	actorIDHeader    = "X-User-Id"
	actorNameHeader  = "X-User-Name"
	actorEmailHeader = "X-User-Email"
	actorRoleHeader  = "X-User-Role"
)

// actorFromRequest reads the acting user from the headers set by the front
// end's auth layer. An unknown role is treated as viewer.
func actorFromRequest(c *gin.Context) store.User {
	return store.User{
		ID:    strings.TrimSpace(c.GetHeader(actorIDHeader)),
		Name:  strings.TrimSpace(c.GetHeader(actorNameHeader)),
		Email: strings.TrimSpace(c.GetHeader(actorEmailHeader)),
		Role:  string(rbac.Normalize(strings.TrimSpace(c.GetHeader(actorRoleHeader)))),
	}
}

func (s *HTTPServer) requireActor(c *gin.Context) {
	actor := actorFromRequest(c)
	if actor.ID == "" && actor.Name == "" {
		abortWithError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}
	c.Next()
}

func decodeBody(c *gin.Context, target any) bool {
	if err := c.ShouldBindJSON(target); err != nil {
		abortWithError(c, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body", nil)
		return false
	}
	return true
}

func writeError(c *gin.Context, err error) {
	status, code, message, details := mapError(err)
	abortWithError(c, status, code, message, details)
}

func abortWithError(c *gin.Context, status int, code, message string, details any) {
	response := gin.H{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	c.AbortWithStatusJSON(status, response)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var remoteErr *remote.Error
	if errors.As(err, &remoteErr) {
		return http.StatusBadGateway, "REMOTE_UNAVAILABLE", remoteErr.Error(), gin.H{
			"status":     remoteErr.Status,
			"statusText": remoteErr.StatusText,
		}
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
