// Package http serves the JSON/REST surface the channels consume.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/salmalm/salmalm/internal/application"
	apperrors "github.com/salmalm/salmalm/pkg/errors"
)

// Server wraps the gin engine and the listener lifecycle.
type Server struct {
	app    *application.App
	auth   *authState
	logger *zap.Logger
	engine *gin.Engine
	srv    *http.Server
}

func NewServer(app *application.App, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		app:    app,
		auth:   newAuthState(app),
		logger: logger,
		engine: gin.New(),
	}
	s.engine.Use(gin.Recovery(), s.requestLog())
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.engine

	r.POST("/auth/login", s.handleLogin)
	r.POST("/auth/register", s.handleRegister)
	r.GET("/uptime", s.handleUptime)
	r.GET("/metrics", gin.WrapH(s.app.Monitor.Handler()))

	api := r.Group("/", s.auth.middleware())
	{
		api.POST("/chat", s.handleChat)
		api.POST("/chat/stream", s.handleChatStream)
		api.POST("/chat/abort", s.handleChatAbort)
		api.POST("/chat/regenerate", s.handleRegenerate)

		api.GET("/sessions", s.handleSessionList)
		api.POST("/sessions/create", s.handleSessionCreate)
		api.POST("/sessions/delete", s.handleSessionDelete)
		api.POST("/sessions/rename", s.handleSessionRename)
		api.POST("/sessions/clear", s.handleSessionClear)
		api.POST("/sessions/rollback", s.handleSessionRollback)
		api.POST("/sessions/branch", s.handleSessionBranch)
		api.GET("/sessions/:id/messages", s.handleSessionMessages)
		api.GET("/sessions/:id/last", s.handleSessionLast)
		api.GET("/sessions/:id/summary", s.handleSessionSummary)
		api.GET("/sessions/:id/alternatives", s.handleSessionAlternatives)
		api.POST("/sessions/bookmark", s.handleBookmarkAdd)
		api.GET("/sessions/:id/bookmarks", s.handleBookmarkList)
		api.POST("/sessions/group", s.handleGroupAssign)
		api.GET("/sessions/groups", s.handleGroupList)

		api.GET("/cron", s.handleCronList)
		api.POST("/cron/add", s.handleCronAdd)
		api.POST("/cron/delete", s.handleCronDelete)
		api.POST("/cron/toggle", s.handleCronToggle)
		api.POST("/cron/run", s.handleCronRun)

		api.GET("/status", s.handleStatus)
		api.GET("/usage/daily", s.handleUsageDaily)
		api.GET("/usage/monthly", s.handleUsageMonthly)
		api.GET("/doctor", s.handleDoctor)
	}
}

// Handler exposes the engine for the websocket upgrader and tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Mount attaches an extra handler (the websocket endpoint) at path.
func (s *Server) Mount(path string, h http.Handler) {
	s.engine.GET(path, s.auth.middleware(), gin.WrapH(h))
}

// Run serves until the context is cancelled, then drains for 30 seconds.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.app.Config.Host, s.app.Config.Port)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.ListenAndServe() }()
	s.logger.Info("http server listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.app.Monitor.Request("http")
		s.logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}

// fail maps an application error onto a status code and a JSON body.
func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch apperrors.CodeOf(err) {
	case apperrors.CodeInvalidInput:
		status = http.StatusBadRequest
	case apperrors.CodeNotFound:
		status = http.StatusNotFound
	case apperrors.CodeUnauthorized:
		status = http.StatusUnauthorized
	case apperrors.CodeForbidden:
		status = http.StatusForbidden
	case apperrors.CodeRateLimited:
		status = http.StatusTooManyRequests
	case apperrors.CodeCostCap:
		status = http.StatusPaymentRequired
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
