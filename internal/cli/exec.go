package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/acolita/promptshell/internal/shell"
)

func newExecCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "exec <server> <command>...",
		Short: "Run a one-shot command",
		Long: `Runs a command on a fresh exec channel and prints its output.

Example:
  promptshell exec core-1 uptime
  promptshell exec core-1 'df -h /var'`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, conn, cleanup, err := a.connect(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := m.Exec(conn.ID, strings.Join(args[1:], " "))
			var te *shell.TimeoutError
			if errors.As(err, &te) {
				fmt.Fprintln(a.streams.Out, te.Partial)
				return err
			}
			if err != nil {
				return err
			}

			if res.Output != "" {
				fmt.Fprintln(a.streams.Out, res.Output)
			}
			if res.Stderr != "" {
				fmt.Fprintln(a.streams.Err, res.Stderr)
			}
			if res.Completion == shell.CompletionTimeout {
				fmt.Fprintf(a.streams.Err, "warning: command did not finish within %s, output may be incomplete\n", conn.Config.Timeout())
			}
			return nil
		},
	}
}
