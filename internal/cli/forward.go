package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newForwardCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "forward <server> <local-addr> <remote-addr>",
		Short: "Forward a local port through the SSH connection",
		Long: `Listens on local-addr and forwards each connection through the server to
remote-addr, like ssh -L. Runs until interrupted.

Example:
  promptshell forward bastion 127.0.0.1:15432 db.internal:5432`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, conn, cleanup, err := a.connect(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer cleanup()

			t, err := m.Forward(conn.ID, args[1], args[2])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.streams.Err, "forwarding %s -> %s via %s\n", t.Forward.Addr(), args[2], conn.Client.Target())

			<-cmd.Context().Done()
			connections, sent, received := t.Forward.Stats()
			fmt.Fprintf(a.streams.Err, "closed after %d connections, %d bytes sent, %d received\n", connections, sent, received)
			return nil
		},
	}
}
