package mcp

// Common error messages and descriptions used across MCP tools.
const (
	// Tool parameter descriptions
	descConnectionID = "The connection ID returned by ssh_connect"
	descShellID      = "The shell ID returned by shell_open"
	descPrompt       = "Prompt family (linux, cisco, huawei, any) or a regex. Defaults to the server's configured prompt"

	// Common error messages
	errConnectionIDRequired = "connection_id is required"
	errShellIDRequired      = "shell_id is required"
	errRemotePathRequired   = "remote_path is required"
	errOpenLocalFile        = "open local file: %v"

	// Hints attached to shell_send results
	hintPasswordPending = "The output ends in a password prompt. Answer with shell_send and secret=true."
	hintTimeout         = "The prompt was not seen before the timeout. The output may be incomplete."
)
