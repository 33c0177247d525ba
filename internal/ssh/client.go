// Package ssh connects to remote hosts and exposes the connection as a
// ports.RemoteSession for the shell package.
package ssh

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/acolita/promptshell/internal/adapters/realclock"
	"github.com/acolita/promptshell/internal/adapters/realsshdialer"
	"github.com/acolita/promptshell/internal/chanconf"
	"github.com/acolita/promptshell/internal/ports"
	"github.com/acolita/promptshell/internal/sftp"
)

var (
	// ErrNotConnected is returned when the client has no live connection.
	ErrNotConnected = errors.New("ssh client not connected")
	// ErrShellBusy is returned when a second shell is requested while one
	// is still open on the same client.
	ErrShellBusy = errors.New("a shell is already open on this connection")
)

// Client manages one SSH connection and implements ports.RemoteSession.
type Client struct {
	mu     sync.Mutex
	conn   *ssh.Client
	config *ssh.ClientConfig
	host   string
	port   int

	live        atomic.Bool
	shellOpen   atomic.Bool
	fingerprint atomic.Value // string

	keepaliveInterval time.Duration
	keepaliveStop     chan struct{}

	// lazily initialized
	sftpClient *sftp.Client

	clock  ports.Clock
	dialer ports.SSHDialer
	logger *slog.Logger
}

// ClientOptions configures a Client.
type ClientOptions struct {
	Host string
	Port int
	User string

	// AuthMethods may be empty, in which case only "none" is attempted.
	AuthMethods     []ssh.AuthMethod
	HostKeyCallback ssh.HostKeyCallback

	// FingerprintAlgorithm selects how Fingerprint formats the host key.
	FingerprintAlgorithm chanconf.FingerprintAlgorithm
	// ExpectedFingerprint pins the host key when set.
	ExpectedFingerprint string
	Methods             chanconf.Methods

	Timeout           time.Duration
	KeepaliveInterval time.Duration

	Clock  ports.Clock
	Dialer ports.SSHDialer
	Logger *slog.Logger
}

// DefaultClientOptions returns default client options.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		Port:                 22,
		Timeout:              30 * time.Second,
		KeepaliveInterval:    30 * time.Second,
		FingerprintAlgorithm: chanconf.FingerprintMD5,
	}
}

// NewClient validates opts and returns an unconnected Client.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if opts.User == "" {
		return nil, fmt.Errorf("user is required")
	}
	if opts.Port == 0 {
		opts.Port = 22
	}
	if opts.Port < 0 || opts.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", opts.Port)
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.KeepaliveInterval == 0 {
		opts.KeepaliveInterval = 30 * time.Second
	}
	if opts.FingerprintAlgorithm == "" {
		opts.FingerprintAlgorithm = chanconf.FingerprintMD5
	}
	if _, err := chanconf.ParseFingerprintAlgorithm(string(opts.FingerprintAlgorithm)); err != nil {
		return nil, err
	}
	if opts.HostKeyCallback == nil {
		opts.HostKeyCallback = ssh.InsecureIgnoreHostKey()
	}
	for _, name := range opts.Methods.Compression {
		if name != "none" {
			return nil, fmt.Errorf("%w: compression method %q is not supported", chanconf.ErrValidation, name)
		}
	}

	c := &Client{
		host:              opts.Host,
		port:              opts.Port,
		keepaliveInterval: opts.KeepaliveInterval,
		clock:             opts.Clock,
		dialer:            opts.Dialer,
		logger:            opts.Logger,
	}
	c.fingerprint.Store("")
	if c.clock == nil {
		c.clock = realclock.New()
	}
	if c.dialer == nil {
		c.dialer = realsshdialer.New()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	c.config = &ssh.ClientConfig{
		Config: ssh.Config{
			KeyExchanges: opts.Methods.KeyExchanges,
			Ciphers:      opts.Methods.Ciphers,
			MACs:         opts.Methods.MACs,
		},
		User:              opts.User,
		Auth:              opts.AuthMethods,
		HostKeyCallback:   fingerprintCallback(opts.HostKeyCallback, opts.FingerprintAlgorithm, opts.ExpectedFingerprint, c.recordFingerprint),
		HostKeyAlgorithms: opts.Methods.HostKeyAlgorithms,
		Timeout:           opts.Timeout,
	}
	return c, nil
}

func (c *Client) recordFingerprint(fp string) {
	c.fingerprint.Store(fp)
}

// Connect establishes the SSH connection. It is a no-op when already
// connected.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && c.live.Load() {
		return nil
	}

	addr := c.addr()
	conn, err := c.dialer.Dial("tcp", addr, c.config)
	if err != nil {
		return fmt.Errorf("ssh dial %s: %w", addr, err)
	}

	c.conn = conn
	c.live.Store(true)
	c.keepaliveStop = make(chan struct{})

	go c.keepalive(conn, c.keepaliveStop)
	go func() {
		err := conn.Wait()
		c.live.Store(false)
		c.logger.Debug("ssh connection ended", "target", c.Target(), "error", err)
	}()

	c.logger.Info("ssh connected", "target", c.Target(), "fingerprint", c.Fingerprint())
	return nil
}

// keepalive sends periodic keepalive requests. A failed request marks the
// connection dead.
func (c *Client) keepalive(conn *ssh.Client, stop <-chan struct{}) {
	ticker := c.clock.NewTicker(c.keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			if _, _, err := conn.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				c.logger.Warn("ssh keepalive failed", "target", c.Target(), "error", err)
				c.live.Store(false)
				return
			}
		}
	}
}

// Close closes the SFTP subsystem and the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.keepaliveStop != nil {
		close(c.keepaliveStop)
		c.keepaliveStop = nil
	}
	if c.sftpClient != nil {
		c.sftpClient.Close()
		c.sftpClient = nil
	}

	c.live.Store(false)
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// IsLive reports whether the connection is up.
func (c *Client) IsLive() bool {
	return c.live.Load()
}

// Target returns "user@host:port".
func (c *Client) Target() string {
	return c.config.User + "@" + c.addr()
}

// User returns the login name.
func (c *Client) User() string {
	return c.config.User
}

// Fingerprint returns the server host key fingerprint recorded during the
// last handshake, or "" before Connect.
func (c *Client) Fingerprint() string {
	return c.fingerprint.Load().(string)
}

// SFTP returns the file transfer client for this connection.
func (c *Client) SFTP() (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, ErrNotConnected
	}
	if c.sftpClient == nil {
		c.sftpClient = sftp.NewClient(c.conn)
	}
	return c.sftpClient, nil
}

func (c *Client) addr() string {
	return net.JoinHostPort(c.host, strconv.Itoa(c.port))
}

func (c *Client) newSession() (*ssh.Session, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil || !c.live.Load() {
		return nil, ErrNotConnected
	}
	session, err := conn.NewSession()
	if err != nil {
		return nil, fmt.Errorf("new session: %w", err)
	}
	return session, nil
}

// OpenShell starts an interactive shell with a pseudo-terminal. Only one
// shell may be open per client at a time.
func (c *Client) OpenShell(req ports.TermRequest) (ports.Stream, error) {
	if !c.shellOpen.CompareAndSwap(false, true) {
		return nil, ErrShellBusy
	}

	s, err := c.openStream(req, func(sess *ssh.Session) error { return sess.Shell() }, func() { c.shellOpen.Store(false) })
	if err != nil {
		c.shellOpen.Store(false)
		return nil, fmt.Errorf("open shell: %w", err)
	}
	return s, nil
}

// OpenExec runs command on a new session with a pseudo-terminal.
func (c *Client) OpenExec(command string, req ports.TermRequest) (ports.Stream, error) {
	s, err := c.openStream(req, func(sess *ssh.Session) error { return sess.Start(command) }, nil)
	if err != nil {
		return nil, fmt.Errorf("exec %q: %w", command, err)
	}
	return s, nil
}

func (c *Client) openStream(req ports.TermRequest, start func(*ssh.Session) error, onClose func()) (*stream, error) {
	sess, err := c.newSession()
	if err != nil {
		return nil, err
	}

	for k, v := range req.Env {
		// Servers commonly restrict AcceptEnv; a refusal is not fatal.
		if err := sess.Setenv(k, v); err != nil {
			c.logger.Debug("setenv refused", "target", c.Target(), "name", k)
		}
	}

	if err := requestPty(sess, req); err != nil {
		sess.Close()
		return nil, err
	}

	s, err := newStream(sess, c.clock, onClose)
	if err != nil {
		sess.Close()
		return nil, err
	}

	if err := start(sess); err != nil {
		s.abort()
		return nil, err
	}
	s.run()
	return s, nil
}
