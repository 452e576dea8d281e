// Package mcp implements the Model Context Protocol server for Nagare.
//
// The MCP server exposes flow authoring and execution to MCP-compatible
// agents through tools, resources and prompts. Definitions arrive as JSON
// text from a generative caller and pass through the same validation as the
// HTTP API before anything is written.
package mcp

import (
	"log/slog"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/nagare/internal/connector"
	"github.com/ashita-ai/nagare/internal/service/executor"
	"github.com/ashita-ai/nagare/internal/service/flows"
	"github.com/ashita-ai/nagare/internal/service/runs"
)

// Server wraps the MCP server with Nagare's service layer.
type Server struct {
	mcpServer *mcpserver.MCPServer
	flows     *flows.Service
	tracker   *runs.Tracker
	executor  *executor.Executor
	registry  *connector.Registry
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all resources, tools
// and prompts.
func New(flowSvc *flows.Service, tracker *runs.Tracker, exec *executor.Executor, registry *connector.Registry, logger *slog.Logger, version string) *Server {
	s := &Server{
		flows:    flowSvc,
		tracker:  tracker,
		executor: exec,
		registry: registry,
		logger:   logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"nagare",
		version,
		mcpserver.WithResourceCapabilities(false, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithPromptCapabilities(true),
		mcpserver.WithInstructions(serverInstructions),
	)

	s.registerResources()
	s.registerTools()
	s.registerPrompts()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

const serverInstructions = `Nagare stores versioned workflow definitions and executes them step by step
through registered connectors.

Typical session:
1. nagare_list_connectors to see which connectors and actions exist.
2. nagare_validate_flow on a draft definition until it reports valid.
3. nagare_create_flow to persist it as version 1.
4. nagare_modify_flow to insert, update or delete single steps; each change
   creates a new version.
5. nagare_execute_flow, then nagare_run_status to inspect step results.`
