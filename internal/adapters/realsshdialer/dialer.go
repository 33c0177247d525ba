// Package realsshdialer implements ports.SSHDialer over TCP.
package realsshdialer

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
)

// Dialer opens a TCP connection with TCP keepalive enabled and performs the
// SSH handshake on it. The handshake is bounded by config.Timeout.
type Dialer struct {
	KeepAlive time.Duration
}

// New returns a Dialer with a 30s TCP keepalive.
func New() *Dialer {
	return &Dialer{KeepAlive: 30 * time.Second}
}

// Dial connects to addr and authenticates with config.
func (d *Dialer) Dial(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	nd := net.Dialer{Timeout: config.Timeout, KeepAlive: d.KeepAlive}
	conn, err := nd.Dial(network, addr)
	if err != nil {
		return nil, err
	}

	if config.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(config.Timeout))
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(c, chans, reqs), nil
}
