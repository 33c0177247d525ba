// Package cli implements the promptshell command tree.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/acolita/promptshell/internal/adapters/realdialog"
	"github.com/acolita/promptshell/internal/adapters/realfs"
	"github.com/acolita/promptshell/internal/config"
	"github.com/acolita/promptshell/internal/logging"
	"github.com/acolita/promptshell/internal/ports"
	"github.com/acolita/promptshell/internal/recording"
	"github.com/acolita/promptshell/internal/security"
	"github.com/acolita/promptshell/internal/session"
)

// Version is set at build time.
var Version = "dev"

// Streams are the process's standard streams.
type Streams struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// app holds what every subcommand needs once flags are parsed.
type app struct {
	streams Streams
	fs      ports.FileSystem

	configPath string
	logLevel   string
	logFormat  string

	cfg      *config.Config
	logger   *slog.Logger
	prompter ports.CredentialPrompter
}

// Option configures the command tree.
type Option func(*app)

// WithFileSystem replaces the real filesystem.
func WithFileSystem(fsys ports.FileSystem) Option {
	return func(a *app) { a.fs = fsys }
}

// WithPrompter replaces the terminal credential prompt.
func WithPrompter(p ports.CredentialPrompter) Option {
	return func(a *app) { a.prompter = p }
}

// NewRootCommand builds the promptshell command tree.
func NewRootCommand(streams Streams, opts ...Option) *cobra.Command {
	a := &app{streams: streams, fs: realfs.New()}
	for _, opt := range opts {
		opt(a)
	}

	root := &cobra.Command{
		Use:   "promptshell",
		Short: "Drive interactive SSH shells by prompt",
		Long: `promptshell runs commands on SSH servers and network devices, either as
one-shot exec requests or through an interactive shell channel that waits for
the device prompt after every line.

Quick start:
  promptshell exec core-1 uptime
  promptshell shell edge-sw1 --prompt cisco
  promptshell run edge-sw1 backup.yaml
  promptshell mcp

Servers, credentials sources and channel settings come from the config file
(default: $XDG_CONFIG_HOME/promptshell/config.yaml).`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	root.SetIn(streams.In)
	root.SetOut(streams.Out)
	root.SetErr(streams.Err)
	root.SetVersionTemplate("promptshell {{.Version}}\n")

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Config file (default: $XDG_CONFIG_HOME/promptshell/config.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "Log format: json or text (overrides config)")

	root.AddCommand(
		newExecCommand(a),
		newShellCommand(a),
		newRunCommand(a),
		newFingerprintCommand(a),
		newPutCommand(a),
		newGetCommand(a),
		newForwardCommand(a),
		newMCPCommand(a),
	)
	return root
}

// Execute runs the command tree on the process streams and returns the
// exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand(Streams{In: os.Stdin, Out: os.Stdout, Err: os.Stderr})
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func (a *app) setup() error {
	if a.configPath == "" {
		a.configPath = config.DefaultConfigPath(a.fs)
	}
	cfg, err := config.Load(a.configPath, a.fs)
	if err != nil {
		return err
	}
	a.applyOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg

	a.logger = logging.New(a.streams.Err, logging.Options{
		Level:    cfg.Logging.Level,
		Format:   cfg.Logging.Format,
		Sanitize: cfg.Logging.Sanitize,
	})
	slog.SetDefault(a.logger)

	if a.prompter == nil {
		a.prompter = realdialog.New()
	}
	return nil
}

func (a *app) applyOverrides(cfg *config.Config) {
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Logging.Format = a.logFormat
	}
}

// newManager wires a session manager for the loaded configuration. The
// MCP server also persists handles so they survive a restart.
func (a *app) newManager(persist bool) (*session.Manager, error) {
	var store *security.KeyringStore
	if a.cfg.Security.UseKeyring {
		store = security.NewKeyringStore(a.logger)
	}

	opts := session.Options{
		FS:       a.fs,
		Logger:   a.logger,
		Resolver: security.NewResolver(a.fs, store, a.prompter, a.logger),
	}
	if a.cfg.Recording.Enabled {
		dir := a.cfg.Recording.Path
		if dir == "" {
			dir = filepath.Join(filepath.Dir(session.DefaultStorePath(a.fs)), "recordings")
		}
		opts.Recordings = recording.NewManager(dir, true, a.fs, nil)
	}
	if persist {
		opts.Store = session.NewStore(a.fs, session.DefaultStorePath(a.fs), a.logger)
	}
	return session.NewManager(a.cfg, opts)
}

// connect opens a manager and one connection to server. The returned
// function closes both.
func (a *app) connect(ctx context.Context, server string) (*session.Manager, *session.Connection, func(), error) {
	m, err := a.newManager(false)
	if err != nil {
		return nil, nil, nil, err
	}
	conn, err := m.Connect(ctx, server)
	if err != nil {
		m.CloseAll()
		return nil, nil, nil, err
	}
	cleanup := func() {
		if err := m.CloseAll(); err != nil {
			a.logger.Debug("close", slog.String("error", err.Error()))
		}
	}
	return m, conn, cleanup, nil
}
