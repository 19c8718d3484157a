package mcpserver

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/contental/keyserver/internal/core"
)

// Operator is the owner account the MCP server acts on behalf of. Every
// tool call is scoped to this account, exactly as if the owner had called
// the REST API with their own session.
type Operator struct {
	ID       string
	Username string
}

// Server exposes the key lifecycle as MCP tools so AI agents can issue,
// inspect, and revoke keys without going through the REST API.
type Server struct {
	services *core.Services
	operator Operator
	defaults core.IssueDefaults
	logger   zerolog.Logger
	server   *server.MCPServer
}

// New creates a Server pre-loaded with all key management tools. The
// returned server is ready to serve over stdio or HTTP.
func New(services *core.Services, operator Operator, defaults core.IssueDefaults, logger zerolog.Logger) *Server {
	s := &Server{
		services: services,
		operator: operator,
		defaults: defaults,
		logger:   logger,
	}

	mcpSrv := server.NewMCPServer(
		"keyserver",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("License key management for the "+operator.Username+" account."),
	)
	s.registerTools(mcpSrv)

	s.server = mcpSrv
	return s
}

// Server returns the underlying mcp-go server instance.
func (s *Server) Server() *server.MCPServer {
	return s.server
}

// ServeStdio runs the MCP server in stdio mode, for clients that launch
// the server as a subprocess.
func (s *Server) ServeStdio() error {
	s.logger.Info().Str("operator", s.operator.Username).Msg("starting MCP server in stdio mode")
	return server.ServeStdio(s.server)
}

// ServeHTTP runs the MCP server in Streamable HTTP mode on the given
// address.
func (s *Server) ServeHTTP(addr string) error {
	httpSrv := server.NewStreamableHTTPServer(s.server)
	s.logger.Info().Str("addr", addr).Str("operator", s.operator.Username).Msg("starting MCP HTTP server")
	return httpSrv.Start(addr)
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}
}

func mutatingAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{ReadOnlyHint: boolPtr(false)}
}

func boolPtr(b bool) *bool {
	return &b
}

// successJSON marshals data to JSON and returns it as a tool result.
func successJSON(data any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal tool response: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

// toolError returns a tool-level error result. These stay visible to the
// LLM so it can self-correct; they do not terminate the session.
func toolError(format string, args ...any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(fmt.Sprintf(format, args...)), nil
}
