package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/acolita/promptshell/internal/session"
	"github.com/acolita/promptshell/internal/shell"
)

const (
	replExit   = ":exit"
	replSecret = ":secret"
)

func newShellCommand(a *app) *cobra.Command {
	var promptPattern string

	cmd := &cobra.Command{
		Use:   "shell <server>",
		Short: "Open an interactive channel and send lines from stdin",
		Long: `Opens an interactive shell channel and sends each input line, printing the
response once the prompt comes back.

When a response ends in a password question the secret is read from the
terminal without echo and sent masked. ":secret" does the same on demand and
":exit" (or end of input) closes the channel.

Example:
  promptshell shell edge-sw1 --prompt cisco
  printf 'show version\nshow clock\n' | promptshell shell edge-sw1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, conn, cleanup, err := a.connect(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer cleanup()

			sh, err := m.OpenShell(conn.ID, promptPattern)
			if err != nil {
				return err
			}
			return a.repl(cmd, m, sh)
		},
	}
	cmd.Flags().StringVar(&promptPattern, "prompt", "", "Prompt family (linux, cisco, huawei, any) or regex (default: from config)")
	return cmd
}

func (a *app) repl(cmd *cobra.Command, m *session.Manager, sh *session.Shell) error {
	sc := bufio.NewScanner(a.streams.In)
	for sc.Scan() {
		if err := cmd.Context().Err(); err != nil {
			return nil
		}
		line := strings.TrimRight(sc.Text(), "\r")

		var (
			res shell.Result
			err error
		)
		switch strings.TrimSpace(line) {
		case replExit:
			return nil
		case replSecret:
			res, err = a.sendSecret(m, sh, "Secret", "Sent masked to the remote shell")
		default:
			res, err = m.Send(sh.ID, line, "", false)
		}

		res, err = tolerateTimeout(res, err)
		// answer password questions until the prompt returns
		for err == nil && res.Pending != nil && res.Pending.IsPasswordPrompt() {
			a.printResult(res)
			res, err = a.sendSecret(m, sh, strings.TrimSpace(res.Pending.MatchedText), res.Pending.Hint())
			res, err = tolerateTimeout(res, err)
		}
		if err != nil {
			return err
		}
		a.printResult(res)
		if res.Completion == shell.CompletionEOF {
			return nil
		}
	}
	return sc.Err()
}

// tolerateTimeout turns a strict timeout back into a partial result; the
// Result returned alongside it still carries the output and any question.
func tolerateTimeout(res shell.Result, err error) (shell.Result, error) {
	var te *shell.TimeoutError
	if errors.As(err, &te) {
		res.Output, res.Completion = te.Partial, te.Completion
		return res, nil
	}
	return res, err
}

func (a *app) sendSecret(m *session.Manager, sh *session.Shell, title, desc string) (shell.Result, error) {
	secret, err := a.prompter.PromptSecret(title, desc)
	if err != nil {
		return shell.Result{}, err
	}
	return m.Send(sh.ID, secret, "", true)
}

func (a *app) printResult(res shell.Result) {
	if res.Output != "" {
		fmt.Fprintln(a.streams.Out, res.Output)
	}
	switch {
	case res.Pending != nil && !res.Pending.IsPasswordPrompt():
		fmt.Fprintf(a.streams.Err, "[%s] %s\n", res.Pending.Pattern.Name, res.Pending.Hint())
	case res.Completion == shell.CompletionTimeout:
		fmt.Fprintln(a.streams.Err, "[timeout] prompt not seen, output may be incomplete")
	case res.Completion == shell.CompletionEOF:
		fmt.Fprintln(a.streams.Err, "[eof] remote closed the channel")
	}
}
