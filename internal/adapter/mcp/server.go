// Package mcp exposes Roundtable's read models over the Model Context
// Protocol so MCP-compatible agents can inspect threads without going
// through the HTTP API.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/Roundtable/internal/domain/changeset"
	"github.com/Strob0t/Roundtable/internal/domain/document"
	"github.com/Strob0t/Roundtable/internal/domain/roster"
	"github.com/Strob0t/Roundtable/internal/domain/run"
)

// DocumentReader reads a thread's shared documents.
type DocumentReader interface {
	Documents(ctx context.Context, threadID string) ([]document.Document, error)
	Document(ctx context.Context, threadID, docID string) (*document.Document, error)
	DocumentRevisions(ctx context.Context, threadID, docID string) ([]document.Revision, error)
}

// ChangeSetReader reads a thread's staged change-sets.
type ChangeSetReader interface {
	List(ctx context.Context, threadID string) ([]changeset.Detail, error)
	Get(ctx context.Context, threadID, changeSetID string) (*changeset.Detail, error)
	Pending(ctx context.Context, threadID string) (*changeset.Detail, error)
}

// RunReader reads a thread's run history and agent statuses.
type RunReader interface {
	Runs(ctx context.Context, threadID string) ([]run.Run, error)
	AgentStatuses(ctx context.Context, threadID string) ([]run.AgentStatusEvent, error)
}

// ServerConfig configures the MCP server transport.
type ServerConfig struct {
	Addr    string
	Name    string
	Version string
	APIKey  string
}

// ServerDeps are the read models the server exposes. Nil members disable
// their tools with an error result rather than a panic.
type ServerDeps struct {
	Documents  DocumentReader
	ChangeSets ChangeSetReader
	Runs       RunReader
	Roster     []roster.Specialist
}

// Server hosts the MCP tools and resources over streamable HTTP.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer
	httpSrv   *http.Server
}

// NewServer creates a configured MCP server. Start must be called to serve.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{cfg: cfg, deps: deps}

	s.mcpServer = mcpserver.NewMCPServer(
		cfg.Name,
		cfg.Version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// Start serves the MCP streamable HTTP transport on the configured address.
// It returns immediately; serve errors are logged.
func (s *Server) Start() error {
	if s.cfg.Addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/mcp", AuthMiddleware(s.cfg.APIKey, mcpserver.NewStreamableHTTPServer(s.mcpServer)))

	s.httpSrv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("mcp server failed", "error", err)
		}
	}()
	slog.Info("mcp server listening", "addr", s.cfg.Addr)
	return nil
}

// Stop shuts the transport down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("mcp server shutdown: %w", err)
	}
	return nil
}
