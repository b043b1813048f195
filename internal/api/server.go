// Package api exposes the registry over HTTP. It is a thin adapter: every
// route translates a request into a hooks or service call.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/linwei/iface-registry/internal/hooks"
	"github.com/linwei/iface-registry/internal/service"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the HTTP adapter over the hooks façade.
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	logger     *zap.Logger
}

// NewServer creates the HTTP server and wires all routes.
func NewServer(config ServerConfig, h *hooks.Hooks, svc *service.Service, scanCfg ScanSettings, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	s := &Server{
		config: config,
		router: router,
		logger: logger,
	}

	router.Use(gin.Recovery())
	router.Use(s.loggingMiddleware())

	handlers := NewHandlers(h, svc, scanCfg, logger)

	router.GET("/healthz", handlers.HealthCheck)

	hooksGroup := router.Group("/hooks")
	{
		hooksGroup.POST("/process-done", handlers.ProcessDone)
		hooksGroup.POST("/assigned", handlers.Assigned)
		hooksGroup.POST("/response-written", handlers.ResponseWritten)
		hooksGroup.POST("/confirmed", handlers.Confirmed)
		hooksGroup.POST("/unconfirmed", handlers.Unconfirmed)
		hooksGroup.POST("/ignored", handlers.Ignored)
		hooksGroup.POST("/unignored", handlers.Unignored)
	}

	router.POST("/display-status", handlers.DisplayStatus)
	router.POST("/scan/finalize", handlers.FinalizeScan)

	tasks := router.Group("/tasks")
	{
		tasks.GET("/history", handlers.TaskHistory)
		tasks.GET("/force-assign", handlers.ForceAssignCandidates)
		tasks.GET("/events", handlers.InterfaceEvents)
	}

	maintenance := router.Group("/maintenance")
	{
		maintenance.POST("/enable", handlers.EnableMaintenance)
		maintenance.POST("/disable", handlers.DisableMaintenance)
	}

	return s
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		s.logger.Info("HTTP request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}

// Start runs the server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", zap.String("address", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", zap.Error(err))
		return err
	}
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", zap.Error(err))
		return err
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}
