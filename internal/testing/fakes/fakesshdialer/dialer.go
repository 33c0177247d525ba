// Package fakesshdialer provides a ports.SSHDialer that records calls and
// can redirect them to a test server.
package fakesshdialer

import (
	"fmt"
	"sync"

	"golang.org/x/crypto/ssh"
)

// DialFunc has the signature of ssh.Dial.
type DialFunc func(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)

// Dialer fails every dial until configured.
type Dialer struct {
	mu    sync.Mutex
	dial  DialFunc
	calls []DialCall
}

// DialCall records a call to Dial.
type DialCall struct {
	Network string
	Addr    string
	Config  *ssh.ClientConfig
}

// New returns an unconfigured Dialer.
func New() *Dialer {
	return &Dialer{dial: func(string, string, *ssh.ClientConfig) (*ssh.Client, error) {
		return nil, fmt.Errorf("fakesshdialer: not configured")
	}}
}

// Dial records the call and delegates to the configured function.
func (d *Dialer) Dial(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	d.mu.Lock()
	d.calls = append(d.calls, DialCall{Network: network, Addr: addr, Config: config})
	dial := d.dial
	d.mu.Unlock()
	return dial(network, addr, config)
}

// Calls returns the recorded calls.
func (d *Dialer) Calls() []DialCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DialCall(nil), d.calls...)
}

// SetDialFunc replaces the dial behaviour.
func (d *Dialer) SetDialFunc(fn DialFunc) {
	d.mu.Lock()
	d.dial = fn
	d.mu.Unlock()
}

// SetError makes every dial fail with err.
func (d *Dialer) SetError(err error) {
	d.SetDialFunc(func(string, string, *ssh.ClientConfig) (*ssh.Client, error) {
		return nil, err
	})
}

// Redirect sends every dial to target, keeping the client config, so a
// client configured for a production address reaches a local test server.
func (d *Dialer) Redirect(target string) {
	d.SetDialFunc(func(network, _ string, config *ssh.ClientConfig) (*ssh.Client, error) {
		return ssh.Dial(network, target, config)
	})
}
