package session

import (
	"errors"
	"fmt"
	"log/slog"

	gossh "golang.org/x/crypto/ssh"

	"github.com/acolita/promptshell/internal/config"
	"github.com/acolita/promptshell/internal/ssh"
)

// ErrNoResolver is returned when a server needs a secret and the manager
// has no credential resolver.
var ErrNoResolver = errors.New("no credential resolver configured")

// authMethods maps the configured auth type onto an ssh.Auth variant. Secrets
// are resolved lazily: a key passphrase is only requested when the key
// turns out to be encrypted.
func (m *Manager) authMethods(srv config.ServerConfig) (*ssh.AuthMethods, error) {
	auth, err := m.authFor(srv, "")
	if err != nil {
		return nil, err
	}
	methods, err := ssh.BuildAuthMethods(auth, m.fs)
	var missing *gossh.PassphraseMissingError
	if !errors.As(err, &missing) {
		return methods, err
	}
	if m.resolver == nil {
		return nil, fmt.Errorf("key is encrypted: %w", ErrNoResolver)
	}
	keyPath := srv.Auth.Path
	if keyPath == "" {
		keyPath = "default key"
	}
	pass, perr := m.resolver.Passphrase(srv, keyPath)
	if perr != nil {
		return nil, perr
	}
	auth, err = m.authFor(srv, pass)
	if err != nil {
		return nil, err
	}
	return ssh.BuildAuthMethods(auth, m.fs)
}

func (m *Manager) authFor(srv config.ServerConfig, passphrase string) (ssh.Auth, error) {
	switch srv.Auth.Type {
	case "", "key":
		return ssh.PubkeyAuth{KeyPath: srv.Auth.Path, Passphrase: passphrase, Host: srv.Host}, nil
	case "none":
		return ssh.NoneAuth{}, nil
	case "agent":
		return ssh.AgentAuth{Socket: srv.Auth.AgentSocket}, nil
	case "password":
		if m.resolver == nil {
			return nil, fmt.Errorf("password for %s: %w", srv.Name, ErrNoResolver)
		}
		pw, err := m.resolver.Password(srv)
		if err != nil {
			return nil, err
		}
		return ssh.PasswordAuth{Password: pw}, nil
	case "hostbased":
		return ssh.HostbasedAuth{Hostname: srv.Host, LocalUser: srv.Auth.LocalUser, KeyPath: srv.Auth.Path}, nil
	default:
		return nil, fmt.Errorf("unknown auth type %q", srv.Auth.Type)
	}
}

func (m *Manager) hostKeyCallback(srv config.ServerConfig) (gossh.HostKeyCallback, error) {
	if srv.HostKey.Insecure {
		m.logger.Warn("host key verification disabled", slog.Any("server", srv))
		return gossh.InsecureIgnoreHostKey(), nil
	}
	return ssh.KnownHostsCallback(m.fs, srv.HostKey.KnownHosts, srv.HostKey.Strict)
}
