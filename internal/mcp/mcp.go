// Package mcp exposes the ensemble decision engine over the Model Context
// Protocol, so MCP-compatible agents (Discord bots, moderation tooling) can
// call analyze_message and service_health the same way they'd call the HTTP
// API. It is a stateless, read-only tool surface: no resources, prompts, or
// roots, since this domain has no audit trail to browse and no per-session
// state to track.
package mcp

import (
	"log/slog"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/config"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/decision"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/fallback"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/requestadapter"
)

const serverInstructions = `This server scores a message for crisis risk using an ensemble of
four text classifiers (bart, sentiment, irony, emotions).

TOOLS:
- analyze_message: score a single message, returns severity, crisis_score,
  recommended_action, and an optional human-readable explanation.
- service_health: check which of the four models are currently available.

Call analyze_message for any message that needs a moderation decision. A
"critical" or "high" severity means the recommended_action should be acted
on promptly; "safe" and "low" need no action.`

// Server wraps the MCP server with the Decision Engine.
type Server struct {
	mcpServer *mcpserver.MCPServer
	engine    *decision.Engine
	breaker   *fallback.Controller
	view      *config.View
	logger    *slog.Logger
	startedAt time.Time
	adapter   requestadapter.Options
}

// New creates and configures the MCP server with the analyze_message and
// service_health tools registered.
func New(engine *decision.Engine, breaker *fallback.Controller, view *config.View, logger *slog.Logger, version string, startedAt time.Time, adapterOpts requestadapter.Options) *Server {
	s := &Server{
		engine:    engine,
		breaker:   breaker,
		view:      view,
		logger:    logger,
		startedAt: startedAt,
		adapter:   adapterOpts,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"ash-nlp",
		version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithInstructions(serverInstructions),
	)

	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
