// Package http wires the gateway's Gin router: route registration for the
// OpenAI- and Ollama-compatible endpoints, plus a structured request-logging
// middleware.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/axonrelay/gateway/internal/domain/neutral"
	"github.com/axonrelay/gateway/internal/interfaces/http/handlers"
)

// Server wraps the gateway's HTTP listener.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// Config configures the HTTP listener.
type Config struct {
	Host string
	Port int
	Mode string // local, production
}

// EventTap serves the optional operator debug socket mirroring every
// emitted frame. Satisfied by *websocket.Tap.
type EventTap interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
}

// NewServer builds a Server that routes every gateway endpoint to gw,
// registered under both a versioned and unversioned group. tap may be nil.
func NewServer(cfg Config, gw *handlers.GatewayHandler, tap EventTap, logger *zap.Logger) *Server {
	if cfg.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().Unix()})
	})

	setupRoutes(router, gw, tap)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &Server{
		server: &http.Server{Addr: addr, Handler: router},
		logger: logger,
	}
}

// Start launches the listener in the background.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting HTTP server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// setupRoutes registers every gateway endpoint, versioned and unversioned
// alike, plus the optional operator debug socket.
func setupRoutes(router *gin.Engine, gw *handlers.GatewayHandler, tap EventTap) {
	openaiChatProbe := handlers.ToolProbeMiddleware(neutral.OpenAIChatCompletion)
	ollamaChatProbe := handlers.ToolProbeMiddleware(neutral.OllamaChat)

	for _, prefix := range []string{"/v1", ""} {
		grp := router.Group(prefix)
		grp.POST("/chat/completions", openaiChatProbe, gw.ChatCompletions)
		grp.POST("/completions", gw.Completions)
		grp.GET("/models", gw.ListModels)
	}

	api := router.Group("/api")
	api.POST("/chat", ollamaChatProbe, gw.Chat)
	api.DELETE("/chat", gw.CancelChat)
	api.POST("/generate", gw.Generate)
	api.DELETE("/generate", gw.CancelGenerate)
	api.GET("/tags", gw.Tags)
	api.GET("/version", gw.Version)

	if tap != nil {
		router.GET("/ws/events", func(c *gin.Context) {
			tap.ServeWS(c.Writer, c.Request)
		})
	}
}

// ginLogger is a structured request-logging middleware.
func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", statusCode),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		)
	}
}
