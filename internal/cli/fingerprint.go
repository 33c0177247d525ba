package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newFingerprintCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint <server>",
		Short: "Print the server's host key fingerprint",
		Long: `Connects far enough to receive the host key and prints its fingerprint in
the server's configured algorithm (md5, sha1, sha256 or raw). No credentials
are sent. Paste the value into host_key.fingerprint to pin the key.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.newManager(false)
			if err != nil {
				return err
			}
			defer m.CloseAll()

			fp, err := m.Fingerprint(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(a.streams.Out, fp)
			return nil
		},
	}
}
