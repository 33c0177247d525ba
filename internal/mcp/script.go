package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/acolita/promptshell/internal/expect"
)

func (s *Server) registerScriptTools() {
	s.mcpServer.AddTool(scriptRunTool(), s.handleScriptRun)
}

func scriptRunTool() mcp.Tool {
	return mcp.NewTool("script_run",
		mcp.WithDescription(`Run an expect-style script on an open shell.

The script is YAML: a list of steps, each sending a line and optionally checking
the output with expect/require/reject regexes. Answers respond to questions the
output ends in, for example:

  steps:
    - send: sudo apt-get upgrade
      answers:
        - question: sudo_password
          send: ${SUDO_PASSWORD}
        - question: apt_confirmation
          suggested: true

${VAR} references are expanded from the server's environment, never from the
tool call. Answers to password prompts are sent as secrets.`),
		mcp.WithString("shell_id",
			mcp.Required(),
			mcp.Description(descShellID),
		),
		mcp.WithString("script",
			mcp.Required(),
			mcp.Description("The script as YAML"),
		),
	)
}

func (s *Server) handleScriptRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	shellID := mcp.ParseString(req, "shell_id", "")
	if shellID == "" {
		return mcp.NewToolResultError(errShellIDRequired), nil
	}
	source := mcp.ParseString(req, "script", "")
	if source == "" {
		return mcp.NewToolResultError("script is required"), nil
	}

	script, err := expect.Parse([]byte(source))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sh, err := s.manager.Shell(shellID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("script: %v", err)), nil
	}

	runner := expect.NewRunner(sh.Channel,
		expect.WithLookup(s.lookup),
		expect.WithLogger(s.logger),
	)
	report, err := runner.Run(ctx, script)
	steps := make([]map[string]any, 0, len(report.Steps))
	for _, st := range report.Steps {
		step := map[string]any{
			"name":       st.Name,
			"output":     st.Output,
			"completion": st.Completion,
			"elapsed_ms": st.Elapsed.Milliseconds(),
		}
		if len(st.Answered) > 0 {
			step["answered"] = st.Answered
		}
		if st.Err != nil {
			step["error"] = st.Err.Error()
		}
		steps = append(steps, step)
	}

	out := map[string]any{
		"script":     report.Script,
		"steps":      steps,
		"failed":     report.Failed,
		"elapsed_ms": report.Elapsed.Milliseconds(),
	}
	if err != nil {
		out["error"] = err.Error()
	}
	return jsonResult(out)
}
