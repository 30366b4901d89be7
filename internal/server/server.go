package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/config"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/decision"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/fallback"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/requestadapter"
)

// Server is the crisis-detection HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler { return s.handler }

// Handlers returns the underlying Handlers.
func (s *Server) Handlers() *Handlers { return s.handlers }

// ServerConfig holds all dependencies and configuration for creating a Server.
type ServerConfig struct {
	Engine  *decision.Engine
	Breaker *fallback.Controller
	View    *config.View
	Logger  *slog.Logger

	// Optional MCP transport, mounted at /mcp when non-nil.
	MCPServer *mcpserver.MCPServer

	Port                     int
	ReadTimeout              time.Duration
	WriteTimeout             time.Duration
	Version                  string
	MaxRequestBodyBytes      int64
	StartedAt                time.Time
	ReadinessCheck           func() bool
	AdapterOptions           requestadapter.Options
	OpenAPISpec              []byte // optional embedded OpenAPI YAML, served at GET /openapi.yaml

	// ExtraRoutes registers additional handlers on the shared mux, after the
	// built-in routes. Middlewares wrap the whole chain outermost-first —
	// the first entry sees every request before anything else does.
	ExtraRoutes []func(*http.ServeMux)
	Middlewares []func(http.Handler) http.Handler
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Engine:              cfg.Engine,
		Breaker:             cfg.Breaker,
		View:                cfg.View,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		StartedAt:           cfg.StartedAt,
		ReadinessCheck:      cfg.ReadinessCheck,
		AdapterOptions:      cfg.AdapterOptions,
		OpenAPISpec:         cfg.OpenAPISpec,
	})

	mux := http.NewServeMux()

	mux.Handle("POST /analyze", http.HandlerFunc(h.HandleAnalyze))
	mux.Handle("POST /analyze/batch", http.HandlerFunc(h.HandleAnalyzeBatch))
	mux.Handle("GET /health", http.HandlerFunc(h.HandleHealth))
	mux.Handle("GET /config/consensus", http.HandlerFunc(h.HandleGetConsensusConfig))
	mux.Handle("PUT /config/consensus", http.HandlerFunc(h.HandlePutConsensusConfig))

	if len(cfg.OpenAPISpec) > 0 {
		mux.Handle("GET /openapi.yaml", http.HandlerFunc(h.HandleOpenAPISpec))
	}

	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", mcpHTTP)
	}

	for _, fn := range cfg.ExtraRoutes {
		fn(mux)
	}

	// Middleware chain (outermost executes first): request ID → tracing →
	// logging → recovery → handler. No auth or CORS layer — this core has
	// no accounts and no browser callers.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	// Caller-supplied middlewares wrap outermost, in reverse registration
	// order, so the first-registered one is the very first to see a request.
	for i := len(cfg.Middlewares) - 1; i >= 0; i-- {
		handler = cfg.Middlewares[i](handler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  2 * cfg.ReadTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
