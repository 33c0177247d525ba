package cli

import (
	"bytes"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

func newPutCommand(a *app) *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "put <server> <local-file> <remote-path>",
		Short: "Upload a file over SFTP",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			perm, err := strconv.ParseUint(mode, 8, 32)
			if err != nil || perm > 0o7777 {
				return fmt.Errorf("invalid mode %q: want octal such as 0644", mode)
			}
			data, err := a.fs.ReadFile(args[1])
			if err != nil {
				return err
			}

			m, conn, cleanup, err := a.connect(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer cleanup()

			n, err := m.Put(conn.ID, bytes.NewReader(data), args[2], os.FileMode(perm))
			if err != nil {
				return err
			}
			fmt.Fprintf(a.streams.Err, "%s -> %s:%s (%d bytes)\n", args[1], args[0], args[2], n)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "0644", "Octal mode for the remote file")
	return cmd
}

func newGetCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <server> <remote-path> [local-file]",
		Short: "Download a file over SFTP",
		Long: `Downloads a remote file. Without local-file the content is written to
stdout.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, conn, cleanup, err := a.connect(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer cleanup()

			var buf bytes.Buffer
			n, err := m.Get(conn.ID, args[1], &buf)
			if err != nil {
				return err
			}
			if len(args) == 2 {
				_, err = a.streams.Out.Write(buf.Bytes())
				return err
			}
			if err := a.fs.WriteFile(args[2], buf.Bytes(), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(a.streams.Err, "%s:%s -> %s (%d bytes)\n", args[0], args[1], args[2], n)
			return nil
		},
	}
}
