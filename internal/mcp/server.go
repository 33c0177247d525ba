// Package mcp exposes the session manager as MCP tools over stdio.
package mcp

import (
	"log/slog"
	"sync"

	"github.com/mark3labs/mcp-go/server"

	"github.com/acolita/promptshell/internal/adapters/realfs"
	"github.com/acolita/promptshell/internal/config"
	"github.com/acolita/promptshell/internal/ports"
	"github.com/acolita/promptshell/internal/session"
)

// Version is reported to MCP clients.
const Version = "0.3.0"

// Server wraps the MCP server implementation.
type Server struct {
	mcpServer  *server.MCPServer
	manager    *session.Manager
	fs         ports.FileSystem
	lookup     func(string) string
	configPath string
	logger     *slog.Logger

	// serialises edits of the config file
	configMu sync.Mutex
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithFileSystem sets the filesystem used for local files and the config.
func WithFileSystem(fs ports.FileSystem) ServerOption {
	return func(s *Server) {
		s.fs = fs
	}
}

// WithConfigPath enables the server_add tool, which writes to path.
func WithConfigPath(path string) ServerOption {
	return func(s *Server) {
		s.configPath = path
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = l
	}
}

// NewServer creates an MCP server backed by manager.
func NewServer(manager *session.Manager, opts ...ServerOption) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"promptshell",
			Version,
			server.WithToolCapabilities(false),
			server.WithLogging(),
		),
		manager: manager,
		fs:      realfs.New(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	// script variables come from the same environment as credentials
	s.lookup = s.fs.Getenv

	s.registerTools()
	s.registerTunnelTools()
	s.registerFileTools()
	s.registerConfigTools()
	s.registerScriptTools()
	return s
}

// Run starts the MCP server on stdio transport.
func (s *Server) Run() error {
	s.logger.Info("starting MCP server on stdio transport")
	return server.ServeStdio(s.mcpServer)
}

// UpdateConfig applies a new configuration at runtime. Open handles keep
// the settings they were created with.
func (s *Server) UpdateConfig(cfg *config.Config) {
	if err := s.manager.UpdateConfig(cfg); err != nil {
		s.logger.Warn("config update rejected, keeping previous", slog.String("error", err.Error()))
		return
	}
	s.logger.Info("configuration hot-reloaded")
}
