package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/acolita/promptshell/internal/config"
	"github.com/acolita/promptshell/internal/mcp"
)

func newMCPCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the MCP tools on stdio",
		Long: `Runs an MCP server on stdin/stdout exposing connect, exec, shell, file
transfer and forwarding tools. Connections from a previous run are reopened
under their old IDs. Config file edits are applied without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.newManager(true)
			if err != nil {
				return err
			}
			defer m.CloseAll()

			if restored := m.Restore(cmd.Context()); len(restored) > 0 {
				a.logger.Info("connections restored", slog.Int("count", len(restored)))
			}

			server := mcp.NewServer(m,
				mcp.WithFileSystem(a.fs),
				mcp.WithConfigPath(a.configPath),
				mcp.WithLogger(a.logger),
			)

			watcher, err := config.NewWatcher(a.configPath, a.logger, func(cfg *config.Config) {
				a.applyOverrides(cfg)
				server.UpdateConfig(cfg)
			})
			if err != nil {
				a.logger.Warn("config hot-reload disabled", slog.String("error", err.Error()))
			} else {
				defer watcher.Close()
				a.logger.Info("config hot-reload enabled", slog.String("path", a.configPath))
			}

			a.logger.Info("starting promptshell", slog.String("version", Version))

			errc := make(chan error, 1)
			go func() { errc <- server.Run() }()
			select {
			case err := <-errc:
				return err
			case <-cmd.Context().Done():
				a.logger.Info("received shutdown signal")
				return nil
			}
		},
	}
}
