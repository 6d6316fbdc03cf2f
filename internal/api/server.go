package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/convosync/internal/config"
	"github.com/convosync/internal/store"
	"github.com/convosync/internal/webhook"
)

// Server represents the API server
type Server struct {
	echo      *echo.Echo
	cfg       *config.Config
	store     *store.Store
	verifier  *webhook.Verifier
	router    *webhook.Router
	startedAt time.Time
}

// NewServer creates a new API server around the injected storage handle and
// event router. Nothing here reaches for ambient singletons; the composition
// root owns every dependency.
func NewServer(cfg *config.Config, st *store.Store, router *webhook.Router) *Server {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server := &Server{
		echo:      e,
		cfg:       cfg,
		store:     st,
		verifier:  webhook.NewVerifier(cfg.Webhook.Secret),
		router:    router,
		startedAt: time.Now(),
	}

	e.RouteNotFound("/*", server.routeNotFound)

	// Setup routes
	server.setupRoutes()

	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	// Signature-authenticated ingress
	s.echo.POST("/webhook", s.handleWebhook)

	// Health check endpoint
	s.echo.GET("/health", s.handleHealth)

	// Static-key-authenticated administrative surface
	admin := s.echo.Group("/api", s.RequireAPIKey())
	admin.POST("/sync", s.handleManualSync)
	admin.GET("/conversations", s.handleListConversations)
	admin.GET("/conversations/:id/messages", s.handleListMessages)
}

// Start begins the API server
func (s *Server) Start() error {
	go func() {
		addr := fmt.Sprintf(":%d", s.cfg.Server.Port)
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("shutting down the server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	dbStatus := "connected"
	status := "healthy"
	code := http.StatusOK
	if err := s.store.Health(c.Request().Context()); err != nil {
		dbStatus = "disconnected"
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return c.JSON(code, map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
		"memory": map[string]any{
			"alloc_mb":       mem.Alloc / 1024 / 1024,
			"total_alloc_mb": mem.TotalAlloc / 1024 / 1024,
			"goroutines":     runtime.NumGoroutine(),
		},
		"database": dbStatus,
	})
}

func (s *Server) routeNotFound(c echo.Context) error {
	return c.JSON(http.StatusNotFound, map[string]any{
		"error":     "Route not found",
		"method":    c.Request().Method,
		"path":      c.Request().URL.Path,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
