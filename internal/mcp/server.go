// Package mcp exposes searchlight to MCP clients over stdio: a search tool
// and a crawl status tool.
package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Version is the MCP server version.
const Version = "0.1.0"

// Server is the MCP server for searchlight.
type Server struct {
	deps   *Deps
	server *mcp.Server
	logger *slog.Logger
}

// NewServer creates an MCP server with all tools registered.
func NewServer(deps *Deps, logger *slog.Logger) (*Server, error) {
	if deps == nil || deps.Searcher == nil || deps.Jobs == nil {
		return nil, errors.New("mcp server requires a searcher and a job store")
	}
	if logger == nil {
		logger = slog.Default()
	}

	impl := &mcp.Implementation{
		Name:    "searchlight",
		Version: Version,
	}

	s := &Server{
		deps:   deps,
		server: mcp.NewServer(impl, nil),
		logger: logger,
	}
	s.registerTools()
	return s, nil
}

// Run starts the MCP server over stdio.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}
