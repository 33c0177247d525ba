package mcp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/acolita/promptshell/internal/config"
)

// registerConfigTools registers the config management tools.
func (s *Server) registerConfigTools() {
	s.mcpServer.AddTool(serverAddTool(), s.handleServerAdd)
}

func serverAddTool() mcp.Tool {
	return mcp.NewTool("server_add",
		mcp.WithDescription(`Add a server to the config file so ssh_connect can reach it.

Secrets are never written to the file. For password auth name an environment
variable with password_env, or let the operator be prompted on first connect
(the answer is kept in the OS keyring).`),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Server name used with ssh_connect"),
		),
		mcp.WithString("host",
			mcp.Required(),
			mcp.Description("Host name or IP address"),
		),
		mcp.WithNumber("port",
			mcp.Description("SSH port (default: 22)"),
		),
		mcp.WithString("user",
			mcp.Required(),
			mcp.Description("SSH username"),
		),
		mcp.WithString("auth_type",
			mcp.Description("Authentication: key (default), agent, password or none"),
		),
		mcp.WithString("key_path",
			mcp.Description("Private key path for key auth"),
		),
		mcp.WithString("password_env",
			mcp.Description("Environment variable holding the password"),
		),
		mcp.WithString("prompt",
			mcp.Description(descPrompt),
		),
	)
}

func (s *Server) handleServerAdd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.configPath == "" {
		return mcp.NewToolResultError(
			"No config file path set. Start the server with --config flag to enable config management.",
		), nil
	}

	name := mcp.ParseString(req, "name", "")
	host := mcp.ParseString(req, "host", "")
	port := mcp.ParseInt(req, "port", 22)
	user := mcp.ParseString(req, "user", "")
	authType := mcp.ParseString(req, "auth_type", "key")
	keyPath := mcp.ParseString(req, "key_path", "")
	passwordEnv := mcp.ParseString(req, "password_env", "")
	promptPattern := mcp.ParseString(req, "prompt", "")

	if name == "" {
		return mcp.NewToolResultError("name is required"), nil
	}
	if host == "" {
		return mcp.NewToolResultError("host is required"), nil
	}
	if user == "" {
		return mcp.NewToolResultError("user is required"), nil
	}

	srv := config.ServerConfig{
		Name: name,
		Host: host,
		Port: port,
		User: user,
		Auth: config.AuthConfig{
			Type:        authType,
			Path:        keyPath,
			PasswordEnv: passwordEnv,
		},
		Channel: config.ChannelConfig{Prompt: promptPattern},
	}

	s.configMu.Lock()
	defer s.configMu.Unlock()

	// edit the file as written, not the manager's in-memory copy
	cfg, err := config.Load(s.configPath, s.fs)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("load config: %v", err)), nil
	}
	if err := cfg.AddServer(srv); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("add server: %v", err)), nil
	}
	if err := cfg.Validate(); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid server: %v", err)), nil
	}
	if err := config.Save(cfg, s.configPath, s.fs); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("save config: %v", err)), nil
	}
	// the file watcher will reload too; applying now makes the server
	// usable by the very next call
	if err := s.manager.UpdateConfig(cfg); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("apply config: %v", err)), nil
	}

	s.logger.Info("server configuration saved",
		slog.String("server_name", name),
		slog.String("host", host),
		slog.String("config_path", s.configPath),
	)

	return jsonResult(map[string]any{
		"status":      "saved",
		"server_name": name,
		"host":        host,
		"port":        port,
		"user":        user,
		"auth_type":   authType,
		"config_path": s.configPath,
	})
}
