package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
)

// DialTunnel opens a direct-tcpip channel to host:port through the
// connection. The returned conn is independent of any shell channel.
func (c *Client) DialTunnel(host string, port int) (net.Conn, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil || !c.live.Load() {
		return nil, ErrNotConnected
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	tc, err := conn.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tunnel to %s: %w", addr, err)
	}
	return tc, nil
}

// Forward is a local listener whose connections are carried to a remote
// address through the SSH connection (ssh -L).
type Forward struct {
	listener net.Listener
	remote   string
	client   *Client

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	total    atomic.Int64
	sent     atomic.Int64
	received atomic.Int64
}

// LocalForward listens on localAddr and forwards every accepted connection
// to remoteAddr as seen from the server.
func (c *Client) LocalForward(localAddr, remoteAddr string) (*Forward, error) {
	host, portStr, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return nil, fmt.Errorf("remote address %q: %w", remoteAddr, err)
	}
	if _, err := strconv.Atoi(portStr); err != nil {
		return nil, fmt.Errorf("remote port %q: %w", portStr, err)
	}
	if !c.IsLive() {
		return nil, ErrNotConnected
	}

	ln, err := net.Listen("tcp", localAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", localAddr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	f := &Forward{
		listener: ln,
		remote:   net.JoinHostPort(host, portStr),
		client:   c,
		ctx:      ctx,
		cancel:   cancel,
	}
	f.wg.Add(1)
	go f.accept()

	c.logger.Info("local forward started", "target", c.Target(), "local", ln.Addr().String(), "remote", f.remote)
	return f, nil
}

// Addr is the local listening address.
func (f *Forward) Addr() net.Addr {
	return f.listener.Addr()
}

// Stats returns connection and byte counters.
func (f *Forward) Stats() (connections, sent, received int64) {
	return f.total.Load(), f.sent.Load(), f.received.Load()
}

// Close stops listening and waits for active connections to finish.
func (f *Forward) Close() error {
	f.cancel()
	err := f.listener.Close()
	f.wg.Wait()
	return err
}

func (f *Forward) accept() {
	defer f.wg.Done()
	for {
		local, err := f.listener.Accept()
		if err != nil {
			if f.ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				f.client.logger.Warn("forward accept failed", "error", err)
			}
			return
		}
		f.total.Add(1)
		f.wg.Add(1)
		go f.handle(local)
	}
}

func (f *Forward) handle(local net.Conn) {
	defer f.wg.Done()
	defer local.Close()

	host, portStr, _ := net.SplitHostPort(f.remote)
	port, _ := strconv.Atoi(portStr)
	remote, err := f.client.DialTunnel(host, port)
	if err != nil {
		f.client.logger.Warn("forward dial failed", "remote", f.remote, "error", err)
		return
	}
	defer remote.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		n, _ := io.Copy(remote, local)
		f.sent.Add(n)
		if cw, ok := remote.(interface{ CloseWrite() error }); ok {
			_ = cw.CloseWrite()
		}
	}()
	go func() {
		defer wg.Done()
		n, _ := io.Copy(local, remote)
		f.received.Add(n)
		if cw, ok := local.(interface{ CloseWrite() error }); ok {
			_ = cw.CloseWrite()
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-f.ctx.Done():
		local.Close()
		remote.Close()
		<-done
	}
}
