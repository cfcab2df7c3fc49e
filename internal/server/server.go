// Package server exposes the retrieval service over HTTP: search, stats,
// entity mutation hooks, backfill, and health probes.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/novadesk/retrieval/internal/config"
	"github.com/novadesk/retrieval/internal/embed"
	"github.com/novadesk/retrieval/internal/lifecycle"
	"github.com/novadesk/retrieval/internal/search"
)

// requestIDKey is the gin context key carrying the per-request ID.
const requestIDKey = "request_id"

// Server is the HTTP server wiring the query engine and the lifecycle
// coordinator.
type Server struct {
	config      *config.Config
	router      *gin.Engine
	searcher    search.Searcher
	coordinator *lifecycle.Coordinator
	embedder    embed.Embedder
	httpServer  *http.Server
}

// New creates a server instance.
func New(cfg *config.Config, searcher search.Searcher, coordinator *lifecycle.Coordinator, embedder embed.Embedder) *Server {
	return &Server{
		config:      cfg,
		searcher:    searcher,
		coordinator: coordinator,
		embedder:    embedder,
	}
}

// Setup builds routes and middleware. Must be called before Start.
func (s *Server) Setup() {
	gin.SetMode(gin.ReleaseMode)

	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(requestIDMiddleware())
	s.router.Use(requestLogMiddleware())

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port),
		Handler: s.router,
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ready", s.handleReady)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/search", s.handleSearch)
		v1.GET("/stats/:tenant_id", s.handleStats)
		v1.POST("/backfill", s.handleBackfill)

		entities := v1.Group("/entities")
		{
			entities.POST("", s.handleUpsertEntity)
			entities.DELETE("/:tenant_id/:entity_id", s.handleDeleteEntity)
		}
	}
}

// Handler returns the HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving. Blocks until the listener fails or Stop is called.
func (s *Server) Start() error {
	slog.Info("http server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	slog.Info("http server stopping")
	return s.httpServer.Shutdown(ctx)
}

// requestIDMiddleware tags each request with a UUID, echoed in the
// X-Request-ID response header.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// requestLogMiddleware emits one structured log line per request.
func requestLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		slog.Info("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", c.GetString(requestIDKey)))
	}
}
