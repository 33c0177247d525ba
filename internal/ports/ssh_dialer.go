package ports

import (
	"golang.org/x/crypto/ssh"
)

// SSHDialer abstracts SSH connection establishment for testing.
type SSHDialer interface {
	// Dial establishes an authenticated SSH connection to addr.
	Dial(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)
}
