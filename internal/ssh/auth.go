package ssh

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/acolita/promptshell/internal/ports"
)

// ErrUnsupportedAuth is returned for authentication variants the transport
// cannot perform.
var ErrUnsupportedAuth = errors.New("authentication method not supported")

// Auth is one of NoneAuth, AgentAuth, PasswordAuth, PubkeyAuth or
// HostbasedAuth.
type Auth interface {
	// Method is the SSH method name ("none", "publickey", ...).
	Method() string
	sealed()
}

// NoneAuth attempts the "none" method only.
type NoneAuth struct{}

// AgentAuth signs with keys held by an ssh-agent. An empty Socket uses
// $SSH_AUTH_SOCK.
type AgentAuth struct {
	Socket string
}

// PasswordAuth sends the password with the password and
// keyboard-interactive methods.
type PasswordAuth struct {
	Password string
}

// PubkeyAuth authenticates with a private key. With no KeyPath, the
// IdentityFile configured for Host in ~/.ssh/config is used, then the
// default key locations.
type PubkeyAuth struct {
	KeyPath    string
	Passphrase string
	Host       string
}

// HostbasedAuth authenticates the client host. It is modelled for
// configuration completeness; the transport has no client support for it.
type HostbasedAuth struct {
	Hostname  string
	LocalUser string
	KeyPath   string
}

func (NoneAuth) Method() string      { return "none" }
func (AgentAuth) Method() string     { return "publickey" }
func (PasswordAuth) Method() string  { return "password" }
func (PubkeyAuth) Method() string    { return "publickey" }
func (HostbasedAuth) Method() string { return "hostbased" }

func (NoneAuth) sealed()      {}
func (AgentAuth) sealed()     {}
func (PasswordAuth) sealed()  {}
func (PubkeyAuth) sealed()    {}
func (HostbasedAuth) sealed() {}

var defaultKeys = []string{
	"~/.ssh/id_ed25519",
	"~/.ssh/id_ecdsa",
	"~/.ssh/id_rsa",
}

// AuthMethods holds the transport methods for an Auth and any resources
// they keep open.
type AuthMethods struct {
	Methods []ssh.AuthMethod
	closers []func() error
}

// Close releases resources such as the agent connection.
func (a *AuthMethods) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// BuildAuthMethods turns an Auth variant into transport auth methods.
// Files and environment are read through fsys.
func BuildAuthMethods(a Auth, fsys ports.FileSystem) (*AuthMethods, error) {
	switch a := a.(type) {
	case NoneAuth:
		// The client always tries "none" first; no extra method needed.
		return &AuthMethods{}, nil

	case AgentAuth:
		socket := a.Socket
		if socket == "" {
			socket = fsys.Getenv("SSH_AUTH_SOCK")
		}
		if socket == "" {
			return nil, fmt.Errorf("agent auth: SSH_AUTH_SOCK not set")
		}
		conn, err := net.Dial("unix", socket)
		if err != nil {
			return nil, fmt.Errorf("agent auth: dial %s: %w", socket, err)
		}
		client := agent.NewClient(conn)
		return &AuthMethods{
			Methods: []ssh.AuthMethod{ssh.PublicKeysCallback(client.Signers)},
			closers: []func() error{conn.Close},
		}, nil

	case PasswordAuth:
		if a.Password == "" {
			return nil, fmt.Errorf("password auth: empty password")
		}
		return &AuthMethods{Methods: []ssh.AuthMethod{
			ssh.Password(a.Password),
			keyboardInteractive(a.Password),
		}}, nil

	case PubkeyAuth:
		signer, err := loadPubkeySigner(a, fsys)
		if err != nil {
			return nil, fmt.Errorf("pubkey auth: %w", err)
		}
		return &AuthMethods{Methods: []ssh.AuthMethod{ssh.PublicKeys(signer)}}, nil

	case HostbasedAuth:
		return nil, fmt.Errorf("hostbased auth for %s@%s: %w", a.LocalUser, a.Hostname, ErrUnsupportedAuth)

	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedAuth, a)
	}
}

func loadPubkeySigner(a PubkeyAuth, fsys ports.FileSystem) (ssh.Signer, error) {
	if a.KeyPath != "" {
		return parseKeyFile(fsys, a.KeyPath, a.Passphrase)
	}

	var candidates []string
	if a.Host != "" {
		if p := sshConfigIdentityFile(fsys, a.Host); p != "" {
			candidates = append(candidates, p)
		}
	}
	candidates = append(candidates, defaultKeys...)

	var errs []error
	for _, path := range candidates {
		signer, err := parseKeyFile(fsys, path, a.Passphrase)
		if err == nil {
			return signer, nil
		}
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("no usable private key: %w", errors.Join(errs...))
}

func parseKeyFile(fsys ports.FileSystem, path, passphrase string) (ssh.Signer, error) {
	expanded := expandPath(fsys, path)
	data, err := fsys.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("read key %s: %w", expanded, err)
	}

	var signer ssh.Signer
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(data, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(data)
	}
	if err != nil {
		return nil, fmt.Errorf("parse key %s: %w", expanded, err)
	}
	return signer, nil
}

func keyboardInteractive(password string) ssh.AuthMethod {
	return ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range questions {
			answers[i] = password
		}
		return answers, nil
	})
}

// expandPath expands a leading ~/ to the home directory.
func expandPath(fsys ports.FileSystem, path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := fsys.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// sshConfigIdentityFile returns the first IdentityFile that applies to host
// in ~/.ssh/config.
func sshConfigIdentityFile(fsys ports.FileSystem, host string) string {
	data, err := fsys.ReadFile(expandPath(fsys, "~/.ssh/config"))
	if err != nil {
		return ""
	}

	matches := false
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, " ")
		if !ok {
			key, value, ok = strings.Cut(line, "=")
			if !ok {
				continue
			}
		}
		value = strings.Trim(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(value), "=")), `"`)

		switch strings.ToLower(key) {
		case "host":
			matches = matchHostPatterns(host, strings.Fields(value))
		case "match":
			matches = false
		case "identityfile":
			if matches {
				return expandPath(fsys, value)
			}
		}
	}
	return ""
}

// matchHostPatterns applies ssh_config Host semantics: any positive
// pattern must match and no negated (!) pattern may match.
func matchHostPatterns(host string, patterns []string) bool {
	matched := false
	for _, p := range patterns {
		negated := strings.HasPrefix(p, "!")
		p = strings.TrimPrefix(p, "!")
		ok, err := doublestar.Match(strings.ToLower(p), strings.ToLower(host))
		if err != nil || !ok {
			continue
		}
		if negated {
			return false
		}
		matched = true
	}
	return matched
}
