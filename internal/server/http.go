package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"qcommander/config"
	"qcommander/internal/bots"
	"qcommander/internal/configstore"
	"qcommander/internal/orchestrator"
	"qcommander/internal/providers"
)

// Server wraps the Echo server
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// Config holds server configuration options
type Config struct {
	Port           string // used for the read-only server_port config field
	Token          string // auth token for config mutation
	MetricsEnabled bool   // whether to expose the Prometheus metrics endpoint
	BodySizeLimit  int64  // max request body size in bytes (default: 1MB)
}

// Deps are the collaborators the handlers dispatch into.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Providers    *providers.Set
	Settings     *configstore.Store
	Bots         *bots.Store
}

// New creates a new HTTP server
func New(deps Deps, cfg *Config) *Server {
	e := echo.New()
	e.HideBanner = true

	handler := NewHandler(deps, cfg.Port)

	// Global middleware stack (order matters)
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	bodySizeLimit := config.DefaultBodySizeLimit
	if cfg.BodySizeLimit > 0 {
		bodySizeLimit = cfg.BodySizeLimit
	}
	e.Use(middleware.BodyLimit(strconv.FormatInt(bodySizeLimit, 10)))

	// Public routes
	e.GET("/health", handler.Health)
	if cfg.MetricsEnabled {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}

	// Streaming transports
	e.GET("/assistant/sse", handler.AssistantSSE)
	e.POST("/sse", handler.SubmitSSE)
	e.GET("/assistant/ws", handler.AssistantWS)

	// Runtime config; mutation requires the auth token
	e.GET("/assistant/config", handler.GetConfig)
	e.PATCH("/assistant/config", handler.PatchConfig, RequireToken(cfg.Token))

	// Bot profiles
	e.GET("/bots", handler.ListBots)
	e.POST("/bots", handler.CreateBot)
	e.GET("/bots/:id", handler.GetBot)
	e.PATCH("/bots/:id", handler.UpdateBot)
	e.DELETE("/bots/:id", handler.DeleteBot)

	return &Server{
		echo:    e,
		handler: handler,
	}
}

// Start starts the HTTP server on the given address
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements the http.Handler interface, allowing Server to be used with httptest
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
