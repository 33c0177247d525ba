// Package mockssh runs an in-process SSH server backed by local shells for
// integration tests.
package mockssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// PtyRequest is a pty-req as received from the client.
type PtyRequest struct {
	Term    string
	Columns uint32
	Rows    uint32
	Width   uint32
	Height  uint32
	Modes   string
}

// Server is a mock SSH server.
type Server struct {
	listener net.Listener
	config   *ssh.ServerConfig
	hostKey  ssh.PublicKey
	addr     string
	shell    string
	banner   string
	noAuth   bool
	execPty  bool
	users    map[string]string // username -> password
	files    sftp.Handlers     // shared by every sftp subsystem request
	done     chan struct{}
	wg       sync.WaitGroup

	mu        sync.Mutex
	sessions  []*session
	ptyReqs   []PtyRequest
	envs      []map[string]string
	execCmds  []string
	authUsers []string
}

type session struct {
	channel ssh.Channel
	pty     *os.File
	cmd     *exec.Cmd
	env     map[string]string
}

// Option configures the server.
type Option func(*Server)

// WithShell sets the program run for shell and exec requests.
func WithShell(shell string) Option {
	return func(s *Server) {
		s.shell = shell
	}
}

// WithUser adds a user/password pair.
func WithUser(username, password string) Option {
	return func(s *Server) {
		s.users[username] = password
	}
}

// WithNoClientAuth accepts the "none" authentication method.
func WithNoClientAuth() Option {
	return func(s *Server) {
		s.noAuth = true
	}
}

// WithBanner sends msg as the pre-authentication banner.
func WithBanner(msg string) Option {
	return func(s *Server) {
		s.banner = msg
	}
}

// WithoutExecPty records pty requests on exec channels but runs the
// command on pipes, keeping stderr separate from stdout.
func WithoutExecPty() Option {
	return func(s *Server) {
		s.execPty = false
	}
}

// New starts a server on a random loopback port.
func New(opts ...Option) (*Server, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate host key: %w", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}

	s := &Server{
		shell:   "/bin/sh",
		users:   map[string]string{"test": "test"},
		hostKey: signer.PublicKey(),
		files:   sftp.InMemHandler(),
		execPty: true,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	config := &ssh.ServerConfig{
		NoClientAuth: s.noAuth,
		PasswordCallback: func(c ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			s.mu.Lock()
			expected, ok := s.users[c.User()]
			s.mu.Unlock()
			if ok && string(password) == expected {
				s.recordAuth(c.User())
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %q", c.User())
		},
	}
	if s.banner != "" {
		config.BannerCallback = func(ssh.ConnMetadata) string { return s.banner }
	}
	config.AddHostKey(signer)
	s.config = config

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	s.listener = listener
	s.addr = listener.Addr().String()

	s.wg.Add(1)
	go s.acceptLoop()

	slog.Debug("mock SSH server started", "addr", s.addr)
	return s, nil
}

// Addr returns host:port.
func (s *Server) Addr() string { return s.addr }

// Host returns the listening host.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.addr)
	return host
}

// Port returns the listening port.
func (s *Server) Port() string {
	_, port, _ := net.SplitHostPort(s.addr)
	return port
}

// HostKey returns the server public key.
func (s *Server) HostKey() ssh.PublicKey { return s.hostKey }

// PtyRequests returns every pty-req received, in order.
func (s *Server) PtyRequests() []PtyRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PtyRequest(nil), s.ptyReqs...)
}

// Envs returns the environment sent for each started shell or exec.
func (s *Server) Envs() []map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]string(nil), s.envs...)
}

// ExecCommands returns the commands of every exec request.
func (s *Server) ExecCommands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.execCmds...)
}

// AuthenticatedUsers lists users that passed password authentication.
func (s *Server) AuthenticatedUsers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.authUsers...)
}

func (s *Server) recordAuth(user string) {
	s.mu.Lock()
	s.authUsers = append(s.authUsers, user)
	s.mu.Unlock()
}

// Close stops the server and kills running sessions.
func (s *Server) Close() error {
	close(s.done)
	err := s.listener.Close()

	s.mu.Lock()
	for _, sess := range s.sessions {
		if sess.pty != nil {
			sess.pty.Close()
		}
		if sess.cmd != nil && sess.cmd.Process != nil {
			sess.cmd.Process.Kill()
		}
		sess.channel.Close()
	}
	s.sessions = nil
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				slog.Debug("accept error", "error", err)
				continue
			}
		}
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(netConn net.Conn) {
	defer s.wg.Done()
	defer netConn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		slog.Debug("ssh handshake failed", "error", err)
		return
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		switch newChannel.ChannelType() {
		case "session":
			channel, requests, err := newChannel.Accept()
			if err != nil {
				continue
			}
			s.wg.Add(1)
			go s.handleChannel(channel, requests)
		case "direct-tcpip":
			s.wg.Add(1)
			go s.handleDirectTCPIP(newChannel)
		default:
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
		}
	}
}

// directTCPIP is the RFC 4254 section 7.2 payload.
type directTCPIP struct {
	Host       string
	Port       uint32
	OriginHost string
	OriginPort uint32
}

func (s *Server) handleDirectTCPIP(newChannel ssh.NewChannel) {
	defer s.wg.Done()

	var msg directTCPIP
	if err := ssh.Unmarshal(newChannel.ExtraData(), &msg); err != nil {
		newChannel.Reject(ssh.ConnectionFailed, "malformed request")
		return
	}
	target, err := net.Dial("tcp", net.JoinHostPort(msg.Host, fmt.Sprint(msg.Port)))
	if err != nil {
		newChannel.Reject(ssh.ConnectionFailed, err.Error())
		return
	}
	channel, requests, err := newChannel.Accept()
	if err != nil {
		target.Close()
		return
	}
	go ssh.DiscardRequests(requests)

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(target, channel)
		if tc, ok := target.(*net.TCPConn); ok {
			tc.CloseWrite()
		}
		done <- struct{}{}
	}()
	go func() {
		io.Copy(channel, target)
		channel.CloseWrite()
		done <- struct{}{}
	}()
	<-done
	<-done
	channel.Close()
	target.Close()
}

func (s *Server) handleChannel(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer s.wg.Done()

	sess := &session{channel: channel, env: map[string]string{}}
	s.mu.Lock()
	s.sessions = append(s.sessions, sess)
	s.mu.Unlock()

	var ptyReq *PtyRequest
	started := false

	for req := range requests {
		ok := true
		switch req.Type {
		case "pty-req":
			var msg PtyRequest
			if err := ssh.Unmarshal(req.Payload, &msg); err != nil {
				ok = false
				break
			}
			ptyReq = &msg
			s.mu.Lock()
			s.ptyReqs = append(s.ptyReqs, msg)
			s.mu.Unlock()

		case "env":
			var msg struct{ Name, Value string }
			if err := ssh.Unmarshal(req.Payload, &msg); err != nil {
				ok = false
				break
			}
			sess.env[msg.Name] = msg.Value

		case "shell", "exec":
			if started {
				ok = false
				break
			}
			var args []string
			if req.Type == "exec" {
				var msg struct{ Command string }
				if err := ssh.Unmarshal(req.Payload, &msg); err != nil {
					ok = false
					break
				}
				args = []string{"-c", msg.Command}
				s.mu.Lock()
				s.execCmds = append(s.execCmds, msg.Command)
				s.mu.Unlock()
			}
			started = true
			s.mu.Lock()
			s.envs = append(s.envs, copyEnv(sess.env))
			s.mu.Unlock()

			// Reply before running so the client's Shell/Start returns.
			if req.WantReply {
				req.Reply(true, nil)
			}
			runPty := ptyReq
			if req.Type == "exec" && !s.execPty {
				runPty = nil
			}
			go s.run(sess, runPty, args...)
			continue

		case "subsystem":
			var msg struct{ Name string }
			if err := ssh.Unmarshal(req.Payload, &msg); err != nil || msg.Name != "sftp" || started {
				ok = false
				break
			}
			started = true
			if req.WantReply {
				req.Reply(true, nil)
			}
			go s.serveSFTP(channel)
			continue

		case "window-change":
			var msg struct{ Columns, Rows, Width, Height uint32 }
			if err := ssh.Unmarshal(req.Payload, &msg); err != nil {
				ok = false
				break
			}
			s.mu.Lock()
			f := sess.pty
			s.mu.Unlock()
			if f != nil {
				resize(f, msg.Columns, msg.Rows, msg.Width, msg.Height)
			}

		default:
			ok = false
		}
		if req.WantReply {
			req.Reply(ok, nil)
		}
	}
}

// serveSFTP answers the sftp subsystem from the in-memory tree.
func (s *Server) serveSFTP(channel ssh.Channel) {
	srv := sftp.NewRequestServer(channel, s.files)
	if err := srv.Serve(); err != nil && err != io.EOF {
		slog.Debug("mock sftp session ended", "error", err)
	}
	srv.Close()
	channel.Close()
}

func (s *Server) run(sess *session, ptyReq *PtyRequest, args ...string) {
	cmd := exec.Command(s.shell, args...)
	cmd.Env = os.Environ()
	for k, v := range sess.env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	if ptyReq == nil {
		cmd.Stdout = sess.channel
		cmd.Stderr = sess.channel.Stderr()
		stdin, err := cmd.StdinPipe()
		if err == nil {
			err = cmd.Start()
		}
		if err != nil {
			sendExitStatus(sess.channel, 1)
			return
		}
		// Not waited on: the client may never close its side.
		go func() {
			io.Copy(stdin, sess.channel)
			stdin.Close()
		}()
		s.mu.Lock()
		sess.cmd = cmd
		s.mu.Unlock()
		sendExitStatus(sess.channel, exitCode(cmd.Wait()))
		return
	}

	ptmx, err := pty.StartWithSize(cmd, winsize(ptyReq.Columns, ptyReq.Rows, ptyReq.Width, ptyReq.Height))
	if err != nil {
		slog.Debug("pty start failed", "error", err)
		sendExitStatus(sess.channel, 1)
		return
	}
	s.mu.Lock()
	sess.pty = ptmx
	sess.cmd = cmd
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		io.Copy(sess.channel, ptmx)
		close(done)
	}()
	go io.Copy(ptmx, sess.channel)

	err = cmd.Wait()
	<-done
	ptmx.Close()
	sendExitStatus(sess.channel, exitCode(err))
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return 1
}

func sendExitStatus(channel ssh.Channel, code int) {
	channel.CloseWrite()
	channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(code)}))
	channel.Close()
}

func winsize(cols, rows, width, height uint32) *pty.Winsize {
	ws := &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows), X: uint16(width), Y: uint16(height)}
	if ws.Cols == 0 {
		ws.Cols = 80
	}
	if ws.Rows == 0 {
		ws.Rows = 24
	}
	return ws
}

func resize(f *os.File, cols, rows, width, height uint32) {
	if err := pty.Setsize(f, winsize(cols, rows, width, height)); err != nil {
		slog.Debug("resize failed", "error", err)
	}
}

func copyEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}
