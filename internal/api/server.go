// Package api provides the HTTP server: routing, middleware, and the glue
// between the collapse engine, the model registry, and the upstream client.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/monoturn/monoturn/internal/api/handlers"
	"github.com/monoturn/monoturn/internal/api/middleware"
	"github.com/monoturn/monoturn/internal/config"
	"github.com/monoturn/monoturn/internal/conversation"
	"github.com/monoturn/monoturn/internal/logging"
	"github.com/monoturn/monoturn/internal/provider"
	"github.com/monoturn/monoturn/internal/registry"
	"github.com/monoturn/monoturn/internal/scaffold"
	"github.com/monoturn/monoturn/internal/session"
)

// Server is the HTTP API server. Configuration reloads swap the chat
// handler atomically; in-flight requests keep the handler they started with.
type Server struct {
	engine *gin.Engine
	server *http.Server

	chat   atomic.Pointer[handlers.ChatHandler]
	keys   atomic.Pointer[[]string]
	models *registry.ModelRegistry
	flags  *session.FreshFlags

	upstreamClient *http.Client
}

// NewServer builds the server from the initial configuration. upstreamClient
// may be nil; a default client with the configured timeout is used then.
func NewServer(cfg *config.Config, models *registry.ModelRegistry, upstreamClient *http.Client, debug bool) (*Server, error) {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		models:         models,
		flags:          session.NewFreshFlags(),
		upstreamClient: upstreamClient,
	}
	if err := s.ApplyConfig(cfg); err != nil {
		return nil, err
	}

	engine := gin.New()
	engine.Use(logging.GinLogrusLogger())
	engine.Use(logging.GinLogrusRecovery())
	engine.Use(middleware.PrometheusMiddleware())

	s.engine = engine
	s.registerRoutes()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 30 * time.Second,
	}
	return s, nil
}

// ApplyConfig rebuilds the request-path state from a new configuration. Used
// both at construction and on hot reload.
func (s *Server) ApplyConfig(cfg *config.Config) error {
	blocks, err := scaffold.Load(cfg.Scaffold.ProgressFile, cfg.Scaffold.EnvironmentFile)
	if err != nil {
		return fmt.Errorf("load scaffold blocks: %w", err)
	}
	engine := conversation.NewEngine(conversation.Thresholds{
		FamilyLimit: cfg.Collapse.FamilyThreshold,
		GlobalLimit: cfg.Collapse.GlobalThreshold,
	}, blocks)

	adapter, ok := provider.Lookup(provider.Dialect(cfg.Upstream.Dialect))
	if !ok {
		return fmt.Errorf("no provider adapter for dialect %q", cfg.Upstream.Dialect)
	}

	client := s.upstreamClient
	if client == nil {
		client = &http.Client{Timeout: cfg.UpstreamTimeout()}
	}

	chat := handlers.NewChatHandler(engine, s.flags, adapter, cfg.Upstream.URL, cfg.Upstream.Model, client)
	s.chat.Store(chat)

	keys := make([]string, len(cfg.APIKeys))
	copy(keys, cfg.APIKeys)
	s.keys.Store(&keys)
	return nil
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		logging.SkipGinRequestLogging(c)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/metrics", middleware.MetricsHandler())

	auth := s.engine.Group("/", s.authMiddleware())
	auth.POST("/v1/chat/completions", func(c *gin.Context) {
		s.chat.Load().Handle(c)
	})

	modelsHandler := handlers.NewModelsHandler(s.models)
	auth.GET("/v1/models", modelsHandler.List)
	auth.GET("/v1/models/:id", modelsHandler.Get)
}

// authMiddleware reads the current key set on every request so reloads take
// effect without rebuilding routes.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		keys := s.keys.Load()
		if keys == nil {
			c.Next()
			return
		}
		middleware.APIKeyAuth(*keys)(c)
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start runs the HTTP server until it fails or is shut down.
func (s *Server) Start() error {
	log.Infof("listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}
