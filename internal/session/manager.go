// Package session keeps the connections, shell channels and port forwards
// opened on behalf of the CLI and the MCP server, addressed by handle.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	gossh "golang.org/x/crypto/ssh"

	"github.com/acolita/promptshell/internal/adapters/realclock"
	"github.com/acolita/promptshell/internal/adapters/realfs"
	"github.com/acolita/promptshell/internal/chanconf"
	"github.com/acolita/promptshell/internal/config"
	"github.com/acolita/promptshell/internal/ports"
	"github.com/acolita/promptshell/internal/prompt"
	"github.com/acolita/promptshell/internal/recording"
	"github.com/acolita/promptshell/internal/security"
	"github.com/acolita/promptshell/internal/shell"
	"github.com/acolita/promptshell/internal/ssh"
)

var (
	// ErrNotFound is returned for unknown handles.
	ErrNotFound = errors.New("handle not found")
	// ErrClosed is returned after CloseAll.
	ErrClosed = errors.New("session manager closed")
)

// Connection is an authenticated SSH connection to one server.
type Connection struct {
	ID      string
	Server  config.ServerConfig
	Client  *ssh.Client
	Channel config.ChannelConfig
	Config  chanconf.Configuration
	Opened  time.Time
}

// Shell is an open interactive channel on a connection.
type Shell struct {
	ID      string
	ConnID  string
	Prompt  string
	Channel *shell.Channel
	Opened  time.Time
}

// Tunnel is a local port forward through a connection.
type Tunnel struct {
	ID      string
	ConnID  string
	Remote  string
	Forward *ssh.Forward
	Opened  time.Time
}

// Info summarises a handle for listings.
type Info struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"` // connection, shell, tunnel
	Parent      string    `json:"parent,omitempty"`
	Server      string    `json:"server,omitempty"`
	Target      string    `json:"target,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	Live        bool      `json:"live"`
	Opened      time.Time `json:"opened"`
}

// Options carries the manager's collaborators. Zero fields get real
// implementations.
type Options struct {
	FS         ports.FileSystem
	Dialer     ports.SSHDialer
	Clock      ports.Clock
	Logger     *slog.Logger
	Resolver   *security.Resolver
	Recordings *recording.Manager
	Store      *Store
}

// Manager owns every open handle.
type Manager struct {
	mu     sync.Mutex
	cfg    *config.Config
	guard  *security.CommandFilter
	detect *prompt.Detector
	closed bool

	conns   map[string]*Connection
	shells  map[string]*Shell
	tunnels map[string]*Tunnel

	fs         ports.FileSystem
	dialer     ports.SSHDialer
	clock      ports.Clock
	logger     *slog.Logger
	resolver   *security.Resolver
	recordings *recording.Manager
	store      *Store
}

// NewManager validates cfg and returns an empty manager.
func NewManager(cfg *config.Config, opts Options) (*Manager, error) {
	m := &Manager{
		conns:      make(map[string]*Connection),
		shells:     make(map[string]*Shell),
		tunnels:    make(map[string]*Tunnel),
		fs:         opts.FS,
		dialer:     opts.Dialer,
		clock:      opts.Clock,
		logger:     opts.Logger,
		resolver:   opts.Resolver,
		recordings: opts.Recordings,
		store:      opts.Store,
	}
	if m.fs == nil {
		m.fs = realfs.New()
	}
	if m.clock == nil {
		m.clock = realclock.New()
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if err := m.UpdateConfig(cfg); err != nil {
		return nil, err
	}
	return m, nil
}

// UpdateConfig swaps in a new configuration. Open handles keep the
// settings they were created with; the command filter applies at once.
func (m *Manager) UpdateConfig(cfg *config.Config) error {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	guard, err := security.FilterFromConfig(cfg.Security)
	if err != nil {
		return fmt.Errorf("command filter: %w", err)
	}
	det := prompt.NewDetector()
	for _, p := range cfg.PromptDetection.CustomPatterns {
		if err := det.AddPatternFromConfig(p.Name, p.Regex, p.Type, p.MaskInput); err != nil {
			return fmt.Errorf("prompt pattern %s: %w", p.Name, err)
		}
	}

	m.mu.Lock()
	m.cfg = cfg
	m.guard = guard
	m.detect = det
	m.mu.Unlock()
	return nil
}

// Config returns the current configuration.
func (m *Manager) Config() *config.Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Connect resolves name through the configuration and opens a connection.
func (m *Manager) Connect(ctx context.Context, name string) (*Connection, error) {
	return m.connect(ctx, name, uuid.NewString())
}

func (m *Manager) connect(ctx context.Context, name, id string) (*Connection, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	cfg := m.cfg
	m.mu.Unlock()

	srv, err := cfg.Server(name)
	if err != nil {
		return nil, err
	}
	merged, err := cfg.MergedChannel(srv)
	if err != nil {
		return nil, err
	}
	chCfg, err := merged.Build()
	if err != nil {
		return nil, fmt.Errorf("server %s: %w", srv.Name, err)
	}

	client, err := m.dial(ctx, srv, chCfg)
	if err != nil {
		return nil, err
	}

	conn := &Connection{
		ID:      id,
		Server:  srv,
		Client:  client,
		Channel: merged,
		Config:  chCfg,
		Opened:  m.clock.Now(),
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		client.Close()
		return nil, ErrClosed
	}
	m.conns[id] = conn
	store := m.store
	m.mu.Unlock()

	m.logger.Info("connected",
		slog.String("id", id),
		slog.Any("server", srv),
		slog.String("target", client.Target()),
		slog.String("fingerprint", client.Fingerprint()),
	)
	if store != nil {
		store.Save(Record{
			ID:          id,
			Server:      srv.Name,
			Target:      client.Target(),
			Fingerprint: client.Fingerprint(),
			Opened:      conn.Opened,
		})
	}
	return conn, nil
}

func (m *Manager) dial(ctx context.Context, srv config.ServerConfig, chCfg chanconf.Configuration) (*ssh.Client, error) {
	methods, err := m.authMethods(srv)
	if err != nil {
		return nil, fmt.Errorf("auth for %s: %w", srv.Name, err)
	}
	defer methods.Close()

	hostKeys, err := m.hostKeyCallback(srv)
	if err != nil {
		return nil, fmt.Errorf("host keys for %s: %w", srv.Name, err)
	}

	opts := ssh.DefaultClientOptions()
	opts.Host = srv.Host
	if srv.Port != 0 {
		opts.Port = srv.Port
	}
	opts.User = srv.User
	opts.AuthMethods = methods.Methods
	opts.HostKeyCallback = hostKeys
	opts.FingerprintAlgorithm = chCfg.FingerprintAlgorithm()
	opts.ExpectedFingerprint = srv.HostKey.Fingerprint
	opts.Methods = chCfg.Methods()
	opts.Clock = m.clock
	opts.Dialer = m.dialer
	opts.Logger = m.logger

	client, err := ssh.NewClient(opts)
	if err != nil {
		return nil, err
	}

	done := make(chan error, 1)
	go func() { done <- client.Connect() }()
	select {
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("connect %s: %w", srv.Name, err)
		}
		return client, nil
	case <-ctx.Done():
		go func() {
			if <-done == nil {
				client.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// Fingerprint fetches the host key fingerprint of the named server in its
// configured algorithm. Only the key exchange has to succeed, so no
// credentials are used and the key is not verified.
func (m *Manager) Fingerprint(ctx context.Context, name string) (string, error) {
	m.mu.Lock()
	cfg := m.cfg
	m.mu.Unlock()

	srv, err := cfg.Server(name)
	if err != nil {
		return "", err
	}
	chCfg, err := cfg.ChannelFor(srv)
	if err != nil {
		return "", fmt.Errorf("server %s: %w", srv.Name, err)
	}

	opts := ssh.DefaultClientOptions()
	opts.Host = srv.Host
	if srv.Port != 0 {
		opts.Port = srv.Port
	}
	opts.User = srv.User
	opts.HostKeyCallback = gossh.InsecureIgnoreHostKey()
	opts.FingerprintAlgorithm = chCfg.FingerprintAlgorithm()
	opts.Methods = chCfg.Methods()
	opts.Clock = m.clock
	opts.Dialer = m.dialer
	opts.Logger = m.logger

	client, err := ssh.NewClient(opts)
	if err != nil {
		return "", err
	}
	done := make(chan error, 1)
	go func() { done <- client.Connect() }()
	select {
	case err = <-done:
	case <-ctx.Done():
		go func() { <-done; client.Close() }()
		return "", ctx.Err()
	}
	client.Close()

	if fp := client.Fingerprint(); fp != "" {
		return fp, nil
	}
	if err == nil {
		err = errors.New("no host key received")
	}
	return "", fmt.Errorf("fingerprint %s: %w", srv.Name, err)
}

// Connection returns the connection for id.
func (m *Manager) Connection(id string) (*Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[id]
	if !ok {
		return nil, fmt.Errorf("connection %s: %w", id, ErrNotFound)
	}
	return c, nil
}

// Shell returns the shell for id.
func (m *Manager) Shell(id string) (*Shell, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shells[id]
	if !ok {
		return nil, fmt.Errorf("shell %s: %w", id, ErrNotFound)
	}
	return s, nil
}

func (m *Manager) shellOptions(conn *Connection, extra ...shell.Option) []shell.Option {
	m.mu.Lock()
	guard, det := m.guard, m.detect
	m.mu.Unlock()

	opts := []shell.Option{
		shell.WithClock(m.clock),
		shell.WithLogger(m.logger.With(slog.String("conn", conn.ID))),
		shell.WithGuard(guard),
		shell.WithDetector(det),
		shell.WithLineEnding(LineEnding(conn.Channel.LineEnding)),
	}
	if conn.Channel.Telnet {
		opts = append(opts, shell.WithFilters(shell.NewTelnetFilter()))
	}
	return append(opts, extra...)
}

// Exec runs a one-shot command on the connection.
func (m *Manager) Exec(connID, command string) (shell.ExecResult, error) {
	conn, err := m.Connection(connID)
	if err != nil {
		return shell.ExecResult{}, err
	}
	return shell.NewExecutor(conn.Client, conn.Config, m.shellOptions(conn)...).ExecuteResult(command)
}

// OpenShell opens an interactive channel. An empty promptPattern uses the
// server's configured prompt.
func (m *Manager) OpenShell(connID, promptPattern string) (*Shell, error) {
	conn, err := m.Connection(connID)
	if err != nil {
		return nil, err
	}
	if promptPattern == "" {
		promptPattern = conn.Channel.PromptPattern()
	} else {
		promptPattern = prompt.Resolve(promptPattern)
	}
	if promptPattern == "" {
		promptPattern = prompt.Any()
	}

	id := uuid.NewString()
	var extra []shell.Option
	if m.recordings != nil {
		rec, err := m.recordings.Start(id, recording.Meta{
			Title:  conn.Client.Target(),
			Term:   string(conn.Config.TermType()),
			Width:  conn.Config.Width(),
			Height: conn.Config.Height(),
		})
		if err != nil {
			m.logger.Warn("recording not started", slog.String("error", err.Error()))
		} else if rec != nil {
			extra = append(extra, shell.WithRecorder(rec))
		}
	}

	ch := shell.NewChannel(conn.Client, conn.Config, m.shellOptions(conn, extra...)...)
	if err := ch.Open(promptPattern); err != nil {
		m.stopRecording(id)
		return nil, err
	}

	sh := &Shell{ID: id, ConnID: connID, Prompt: promptPattern, Channel: ch, Opened: m.clock.Now()}
	m.mu.Lock()
	m.shells[id] = sh
	m.mu.Unlock()
	return sh, nil
}

// Send writes command to the shell and waits for promptPattern, or the
// shell's prompt when empty. Secret sends are masked in logs and recordings.
func (m *Manager) Send(shellID, command, promptPattern string, secret bool) (shell.Result, error) {
	sh, err := m.Shell(shellID)
	if err != nil {
		return shell.Result{}, err
	}
	if promptPattern == "" {
		promptPattern = sh.Prompt
	} else {
		promptPattern = prompt.Resolve(promptPattern)
	}
	if secret {
		return sh.Channel.SendSecret(command, promptPattern)
	}
	return sh.Channel.SendResult(command, promptPattern)
}

// CloseShell closes and forgets the shell.
func (m *Manager) CloseShell(id string) error {
	m.mu.Lock()
	sh, ok := m.shells[id]
	delete(m.shells, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("shell %s: %w", id, ErrNotFound)
	}
	sh.Channel.Close()
	m.stopRecording(id)
	return nil
}

func (m *Manager) stopRecording(id string) {
	if m.recordings == nil {
		return
	}
	if err := m.recordings.Stop(id); err != nil {
		m.logger.Warn("recording close failed", slog.String("id", id), slog.String("error", err.Error()))
	}
}

// Put uploads r to remotePath on the connection.
func (m *Manager) Put(connID string, r io.Reader, remotePath string, perm os.FileMode) (int64, error) {
	conn, err := m.Connection(connID)
	if err != nil {
		return 0, err
	}
	fc, err := conn.Client.SFTP()
	if err != nil {
		return 0, err
	}
	return fc.Put(r, remotePath, perm)
}

// Get downloads remotePath from the connection into w.
func (m *Manager) Get(connID, remotePath string, w io.Writer) (int64, error) {
	conn, err := m.Connection(connID)
	if err != nil {
		return 0, err
	}
	fc, err := conn.Client.SFTP()
	if err != nil {
		return 0, err
	}
	return fc.Get(remotePath, w)
}

// Forward listens on localAddr and forwards to remoteAddr through the
// connection.
func (m *Manager) Forward(connID, localAddr, remoteAddr string) (*Tunnel, error) {
	conn, err := m.Connection(connID)
	if err != nil {
		return nil, err
	}
	fwd, err := conn.Client.LocalForward(localAddr, remoteAddr)
	if err != nil {
		return nil, err
	}
	t := &Tunnel{ID: uuid.NewString(), ConnID: connID, Remote: remoteAddr, Forward: fwd, Opened: m.clock.Now()}
	m.mu.Lock()
	m.tunnels[t.ID] = t
	m.mu.Unlock()
	return t, nil
}

// CloseTunnel stops a forward.
func (m *Manager) CloseTunnel(id string) error {
	m.mu.Lock()
	t, ok := m.tunnels[id]
	delete(m.tunnels, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("tunnel %s: %w", id, ErrNotFound)
	}
	return t.Forward.Close()
}

// Disconnect closes the connection together with its shells and tunnels.
func (m *Manager) Disconnect(id string) error {
	m.mu.Lock()
	conn, ok := m.conns[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("connection %s: %w", id, ErrNotFound)
	}
	delete(m.conns, id)
	store := m.store
	var shells []*Shell
	for sid, sh := range m.shells {
		if sh.ConnID == id {
			shells = append(shells, sh)
			delete(m.shells, sid)
		}
	}
	var tunnels []*Tunnel
	for tid, t := range m.tunnels {
		if t.ConnID == id {
			tunnels = append(tunnels, t)
			delete(m.tunnels, tid)
		}
	}
	m.mu.Unlock()

	var errs []error
	for _, sh := range shells {
		sh.Channel.Close()
		m.stopRecording(sh.ID)
	}
	for _, t := range tunnels {
		errs = append(errs, t.Forward.Close())
	}
	errs = append(errs, conn.Client.Close())
	if store != nil {
		store.Delete(id)
	}
	m.logger.Info("disconnected", slog.String("id", id), slog.String("target", conn.Client.Target()))
	return errors.Join(errs...)
}

// List returns every open handle, connections first.
func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Info, 0, len(m.conns)+len(m.shells)+len(m.tunnels))
	for _, c := range m.conns {
		out = append(out, Info{
			ID:          c.ID,
			Kind:        "connection",
			Server:      c.Server.Name,
			Target:      c.Client.Target(),
			Fingerprint: c.Client.Fingerprint(),
			Live:        c.Client.IsLive(),
			Opened:      c.Opened,
		})
	}
	for _, s := range m.shells {
		out = append(out, Info{
			ID:     s.ID,
			Kind:   "shell",
			Parent: s.ConnID,
			Detail: s.Prompt,
			Live:   s.Channel.IsOpen(),
			Opened: s.Opened,
		})
	}
	for _, t := range m.tunnels {
		conns, sent, recv := t.Forward.Stats()
		out = append(out, Info{
			ID:     t.ID,
			Kind:   "tunnel",
			Parent: t.ConnID,
			Target: t.Remote,
			Detail: fmt.Sprintf("%s conns=%d sent=%d received=%d", t.Forward.Addr(), conns, sent, recv),
			Live:   true,
			Opened: t.Opened,
		})
	}
	order := map[string]int{"connection": 0, "shell": 1, "tunnel": 2}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return order[out[i].Kind] < order[out[j].Kind]
		}
		if !out[i].Opened.Equal(out[j].Opened) {
			return out[i].Opened.Before(out[j].Opened)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Restore reconnects the connections recorded in the store under their
// previous handles. Records that cannot be restored are dropped.
func (m *Manager) Restore(ctx context.Context) []string {
	if m.store == nil {
		return nil
	}
	var restored []string
	for _, rec := range m.store.Records() {
		if _, err := m.connect(ctx, rec.Server, rec.ID); err != nil {
			m.logger.Warn("restore failed",
				slog.String("id", rec.ID),
				slog.String("server", rec.Server),
				slog.String("error", err.Error()),
			)
			m.store.Delete(rec.ID)
			continue
		}
		restored = append(restored, rec.ID)
	}
	return restored
}

// CloseAll disconnects everything. The store keeps its records so the
// next process can Restore them.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	m.closed = true
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	store := m.store
	m.store = nil
	m.mu.Unlock()

	var errs []error
	for _, id := range ids {
		errs = append(errs, m.Disconnect(id))
	}
	m.mu.Lock()
	m.store = store
	m.mu.Unlock()
	if m.recordings != nil {
		errs = append(errs, m.recordings.CloseAll())
	}
	return errors.Join(errs...)
}

// LineEnding maps lf, crlf and cr to their bytes. Anything else is used
// verbatim, and "" means "\n".
func LineEnding(s string) string {
	switch s {
	case "", "lf":
		return "\n"
	case "crlf":
		return "\r\n"
	case "cr":
		return "\r"
	}
	return s
}
