package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/acolita/promptshell/internal/expect"
)

func newRunCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run <server> <script.yaml>",
		Short: "Run an expect-style script over an interactive channel",
		Long: `Loads a YAML script, opens a shell channel with the script's prompt and runs
the steps in order. Answers may reference environment variables as ${NAME}.

Example script:
  name: save-config
  prompt: cisco
  steps:
    - send: terminal length 0
    - send: copy running-config startup-config
      answers:
        - question: cisco_confirm
          suggested: true
      require: "\\[OK\\]"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			script, err := expect.Load(a.fs, args[1])
			if err != nil {
				return err
			}

			m, conn, cleanup, err := a.connect(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer cleanup()

			sh, err := m.OpenShell(conn.ID, script.Prompt)
			if err != nil {
				return err
			}

			runner := expect.NewRunner(sh.Channel,
				expect.WithLookup(a.fs.Getenv),
				expect.WithLogger(a.logger),
			)
			report, err := runner.Run(cmd.Context(), script)
			for _, st := range report.Steps {
				status := "ok"
				if st.Err != nil {
					status = "FAILED: " + st.Err.Error()
				}
				fmt.Fprintf(a.streams.Err, "--- %s (%s) %s\n", st.Name, st.Elapsed.Round(1e6), status)
				if st.Output != "" {
					fmt.Fprintln(a.streams.Out, st.Output)
				}
			}
			fmt.Fprintf(a.streams.Err, "%d steps, %d failed, %s\n", len(report.Steps), report.Failed, report.Elapsed.Round(1e6))
			return err
		},
	}
}
