package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/acolita/promptshell/internal/prompt"
	"github.com/acolita/promptshell/internal/shell"
)

// registerTools registers the connection and shell tools.
func (s *Server) registerTools() {
	s.mcpServer.AddTool(sshConnectTool(), s.handleSSHConnect)
	s.mcpServer.AddTool(sshExecTool(), s.handleSSHExec)
	s.mcpServer.AddTool(shellOpenTool(), s.handleShellOpen)
	s.mcpServer.AddTool(shellSendTool(), s.handleShellSend)
	s.mcpServer.AddTool(shellCloseTool(), s.handleShellClose)
	s.mcpServer.AddTool(sshDisconnectTool(), s.handleSSHDisconnect)
	s.mcpServer.AddTool(sshListTool(), s.handleSSHList)
}

// Tool definitions

func sshConnectTool() mcp.Tool {
	return mcp.NewTool("ssh_connect",
		mcp.WithDescription(`Open an SSH connection to a server from the config file.

The server name is looked up by exact name first, then by the glob patterns in
the config's "match" fields. Credentials come from environment variables, the OS
keyring or an interactive prompt, never from the tool call.

Returns a connection ID used by ssh_exec, shell_open, file_put, file_get and
ssh_forward.`),
		mcp.WithString("server",
			mcp.Required(),
			mcp.Description("Server name as configured"),
		),
	)
}

func sshExecTool() mcp.Tool {
	return mcp.NewTool("ssh_exec",
		mcp.WithDescription("Run a one-shot command on a fresh exec channel and return its output"),
		mcp.WithString("connection_id",
			mcp.Required(),
			mcp.Description(descConnectionID),
		),
		mcp.WithString("command",
			mcp.Required(),
			mcp.Description("The command to execute"),
		),
	)
}

func shellOpenTool() mcp.Tool {
	return mcp.NewTool("shell_open",
		mcp.WithDescription(`Open an interactive shell channel on a connection.

The channel waits for the prompt before returning. Use this for devices that only
offer an interactive shell (network gear, appliances) or when commands must share
state such as the working directory.`),
		mcp.WithString("connection_id",
			mcp.Required(),
			mcp.Description(descConnectionID),
		),
		mcp.WithString("prompt",
			mcp.Description(descPrompt),
		),
	)
}

func shellSendTool() mcp.Tool {
	return mcp.NewTool("shell_send",
		mcp.WithDescription(`Send a line to an interactive shell and wait for the prompt.

If the prompt is not seen the partial output is returned with completion
"timeout" or "eof". When that output ends in a question (password, yes/no,
pager) a "pending" object describes it; answer with another shell_send, using
secret=true for passwords so they are masked in logs and recordings.`),
		mcp.WithString("shell_id",
			mcp.Required(),
			mcp.Description(descShellID),
		),
		mcp.WithString("input",
			mcp.Required(),
			mcp.Description("The command or answer to send"),
		),
		mcp.WithString("prompt",
			mcp.Description("Prompt to wait for instead of the shell's prompt (family name or regex)"),
		),
		mcp.WithBoolean("secret",
			mcp.Description("Mask the input in logs and recordings (default: false)"),
		),
	)
}

func shellCloseTool() mcp.Tool {
	return mcp.NewTool("shell_close",
		mcp.WithDescription("Close an interactive shell channel"),
		mcp.WithString("shell_id",
			mcp.Required(),
			mcp.Description(descShellID),
		),
	)
}

func sshDisconnectTool() mcp.Tool {
	return mcp.NewTool("ssh_disconnect",
		mcp.WithDescription("Close a connection together with its shells and tunnels"),
		mcp.WithString("connection_id",
			mcp.Required(),
			mcp.Description(descConnectionID),
		),
	)
}

func sshListTool() mcp.Tool {
	return mcp.NewTool("ssh_list",
		mcp.WithDescription("List open connections, shells and tunnels"),
	)
}

// Tool handlers

func (s *Server) handleSSHConnect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := mcp.ParseString(req, "server", "")
	if name == "" {
		return mcp.NewToolResultError("server is required"), nil
	}

	conn, err := s.manager.Connect(ctx, name)
	if err != nil {
		s.logger.Info("connect failed", slog.String("server", name), slog.String("error", err.Error()))
		return mcp.NewToolResultError(fmt.Sprintf("connect %s: %v", name, err)), nil
	}

	return jsonResult(map[string]any{
		"connection_id": conn.ID,
		"server":        conn.Server.Name,
		"target":        conn.Client.Target(),
		"fingerprint":   conn.Client.Fingerprint(),
		"prompt":        conn.Channel.PromptPattern(),
	})
}

func (s *Server) handleSSHExec(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	connID := mcp.ParseString(req, "connection_id", "")
	command := mcp.ParseString(req, "command", "")
	if connID == "" {
		return mcp.NewToolResultError(errConnectionIDRequired), nil
	}
	if command == "" {
		return mcp.NewToolResultError("command is required"), nil
	}

	res, err := s.manager.Exec(connID, command)
	if err != nil {
		var te *shell.TimeoutError
		if !errors.As(err, &te) {
			return mcp.NewToolResultError(fmt.Sprintf("exec: %v", err)), nil
		}
		return jsonResult(map[string]any{
			"output":     te.Partial,
			"completion": te.Completion,
			"timed_out":  true,
			"hint":       hintTimeout,
		})
	}

	out := map[string]any{
		"output":     res.Output,
		"completion": res.Completion,
		"elapsed_ms": res.Elapsed.Milliseconds(),
	}
	if res.Stderr != "" {
		out["stderr"] = res.Stderr
	}
	if res.Completion == shell.CompletionTimeout {
		out["hint"] = hintTimeout
	}
	return jsonResult(out)
}

func (s *Server) handleShellOpen(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	connID := mcp.ParseString(req, "connection_id", "")
	if connID == "" {
		return mcp.NewToolResultError(errConnectionIDRequired), nil
	}
	promptPattern := mcp.ParseString(req, "prompt", "")

	sh, err := s.manager.OpenShell(connID, promptPattern)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("open shell: %v", err)), nil
	}

	return jsonResult(map[string]any{
		"shell_id":      sh.ID,
		"connection_id": sh.ConnID,
		"prompt":        sh.Prompt,
	})
}

func (s *Server) handleShellSend(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	shellID := mcp.ParseString(req, "shell_id", "")
	if shellID == "" {
		return mcp.NewToolResultError(errShellIDRequired), nil
	}
	input := mcp.ParseString(req, "input", "")
	promptPattern := mcp.ParseString(req, "prompt", "")
	secret := mcp.ParseBoolean(req, "secret", false)

	res, err := s.manager.Send(shellID, input, promptPattern, secret)
	if err != nil {
		var te *shell.TimeoutError
		if !errors.As(err, &te) {
			return mcp.NewToolResultError(fmt.Sprintf("send: %v", err)), nil
		}
		res.Output = te.Partial
		res.Completion = te.Completion
	}
	return jsonResult(sendResult(res, err != nil))
}

func (s *Server) handleShellClose(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	shellID := mcp.ParseString(req, "shell_id", "")
	if shellID == "" {
		return mcp.NewToolResultError(errShellIDRequired), nil
	}
	if err := s.manager.CloseShell(shellID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("close shell: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"status":   "closed",
		"shell_id": shellID,
	})
}

func (s *Server) handleSSHDisconnect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	connID := mcp.ParseString(req, "connection_id", "")
	if connID == "" {
		return mcp.NewToolResultError(errConnectionIDRequired), nil
	}
	if err := s.manager.Disconnect(connID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("disconnect: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"status":        "disconnected",
		"connection_id": connID,
	})
}

func (s *Server) handleSSHList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	handles := s.manager.List()
	return jsonResult(map[string]any{
		"handles": handles,
		"count":   len(handles),
	})
}

// sendResult shapes a shell.Result for the client, describing any
// question the output ends in.
func sendResult(res shell.Result, timedOut bool) map[string]any {
	out := map[string]any{
		"output":     res.Output,
		"completion": res.Completion,
		"elapsed_ms": res.Elapsed.Milliseconds(),
	}
	if timedOut {
		out["timed_out"] = true
	}
	switch {
	case res.Pending != nil:
		out["pending"] = pendingInfo(res.Pending)
		if res.Pending.IsPasswordPrompt() {
			out["hint"] = hintPasswordPending
		} else {
			out["hint"] = res.Pending.Hint()
		}
	case res.Completion != shell.CompletionPrompt:
		out["hint"] = hintTimeout
	}
	return out
}

func pendingInfo(d *prompt.Detection) map[string]any {
	info := map[string]any{
		"name":    d.Pattern.Name,
		"type":    d.Pattern.Type,
		"matched": d.MatchedText,
	}
	if d.SuggestedResponse != "" {
		info["suggested_response"] = d.SuggestedResponse
	}
	return info
}

// Helper functions

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
