package mcpserver

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/coderunner/config"
	"github.com/isdmx/coderunner/sandbox"
)

// ToolRunCode is the name of the code execution tool
const ToolRunCode = "run_code"

// MCPServer represents the MCP server
type MCPServer struct {
	config    *config.Config
	logger    *zap.Logger
	runner    sandbox.Service
	mcpServer *server.MCPServer
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, runner sandbox.Service) (*MCPServer, error) {
	s := &MCPServer{
		config: cfg,
		logger: logger,
		runner: runner,
	}

	s.mcpServer = server.NewMCPServer("coderunner", "A sandboxed code execution server")
	s.registerRunCodeTool()

	return s, nil
}

// registerRunCodeTool registers the run_code tool
func (s *MCPServer) registerRunCodeTool() {
	languageDescription := fmt.Sprintf("Source language, one of %s (defaults to python)",
		strings.Join(s.runner.Languages(), ", "))
	tool := mcp.Tool{
		Name:        ToolRunCode,
		Description: "Run a source snippet in a sandbox and return its combined output. Unknown or missing languages run as Python.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "User-provided source code",
				},
				// No enum: aliases and unknown names are accepted and fall
				// back to python.
				"language": map[string]any{
					"type":        "string",
					"description": languageDescription,
				},
			},
			Required: []string{"code"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleRunCode)
}

// handleRunCode handles the run_code tool
func (s *MCPServer) handleRunCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}
	language := request.GetString("language", "")

	s.logger.Info("code execution requested", zap.String("language", language), zap.String("transport", "mcp"))

	resp := s.runner.Run(ctx, sandbox.Request{Code: code, Language: language})

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: resp.Output,
			},
		},
		IsError: resp.Result.Failure == sandbox.FailureInfrastructure,
	}, nil
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// Handler returns the streamable HTTP handler for mounting on a router
func (s *MCPServer) Handler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcpServer)
}

// GetMCPServer returns the underlying MCP server
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
