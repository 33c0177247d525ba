package mcp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
)

// registerTunnelTools registers the port-forwarding tools.
func (s *Server) registerTunnelTools() {
	s.mcpServer.AddTool(sshForwardTool(), s.handleSSHForward)
	s.mcpServer.AddTool(tunnelCloseTool(), s.handleTunnelClose)
}

func sshForwardTool() mcp.Tool {
	return mcp.NewTool("ssh_forward",
		mcp.WithDescription(`Listen on a local address and forward each accepted connection
through the SSH connection to a remote address (like ssh -L).

Example: local_addr "127.0.0.1:0" with remote_addr "db.internal:5432" gives a
local port reaching the database behind the jump host. Port 0 picks a free port;
the bound address is returned. Close with tunnel_close or ssh_disconnect.`),
		mcp.WithString("connection_id",
			mcp.Required(),
			mcp.Description(descConnectionID),
		),
		mcp.WithString("remote_addr",
			mcp.Required(),
			mcp.Description("Destination host:port as seen from the server"),
		),
		mcp.WithString("local_addr",
			mcp.Description("Local listen address (default: '127.0.0.1:0')"),
		),
	)
}

func tunnelCloseTool() mcp.Tool {
	return mcp.NewTool("tunnel_close",
		mcp.WithDescription("Stop a port forward created by ssh_forward"),
		mcp.WithString("tunnel_id",
			mcp.Required(),
			mcp.Description("The tunnel ID returned by ssh_forward"),
		),
	)
}

func (s *Server) handleSSHForward(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	connID := mcp.ParseString(req, "connection_id", "")
	if connID == "" {
		return mcp.NewToolResultError(errConnectionIDRequired), nil
	}
	remote := mcp.ParseString(req, "remote_addr", "")
	if remote == "" {
		return mcp.NewToolResultError("remote_addr is required"), nil
	}
	local := mcp.ParseString(req, "local_addr", "127.0.0.1:0")

	t, err := s.manager.Forward(connID, local, remote)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("forward: %v", err)), nil
	}

	s.logger.Info("tunnel created",
		slog.String("tunnel_id", t.ID),
		slog.String("local", t.Forward.Addr().String()),
		slog.String("remote", remote),
	)

	return jsonResult(map[string]any{
		"tunnel_id":     t.ID,
		"connection_id": connID,
		"local_addr":    t.Forward.Addr().String(),
		"remote_addr":   remote,
	})
}

func (s *Server) handleTunnelClose(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := mcp.ParseString(req, "tunnel_id", "")
	if id == "" {
		return mcp.NewToolResultError("tunnel_id is required"), nil
	}
	if err := s.manager.CloseTunnel(id); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("close tunnel: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"status":    "closed",
		"tunnel_id": id,
	})
}
