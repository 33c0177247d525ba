package security

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/acolita/promptshell/internal/config"
	"github.com/acolita/promptshell/internal/ports"
)

// ErrNoCredential is returned when no source could supply a secret.
var ErrNoCredential = errors.New("no credential available")

// Resolver looks secrets up in the environment, then the keyring, then
// asks the operator. Keyring and prompter are optional.
type Resolver struct {
	fs       ports.FileSystem
	keyring  *KeyringStore
	prompter ports.CredentialPrompter
	logger   *slog.Logger
}

// NewResolver returns a Resolver. store and prompter may be nil.
func NewResolver(fsys ports.FileSystem, store *KeyringStore, prompter ports.CredentialPrompter, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{fs: fsys, keyring: store, prompter: prompter, logger: logger}
}

// Password returns the login password for the server.
func (r *Resolver) Password(s config.ServerConfig) (string, error) {
	lookup := func() (string, error) { return r.keyring.ServerPassword(s.Host, s.User) }
	save := func(v string) error { return r.keyring.StoreServerPassword(s.Host, s.User, v) }
	title := fmt.Sprintf("Password for %s@%s", s.User, s.Host)
	return r.resolve("password", s.Auth.PasswordEnv, lookup, save, title, "SSH login password")
}

// Passphrase returns the passphrase protecting the key at keyPath.
func (r *Resolver) Passphrase(s config.ServerConfig, keyPath string) (string, error) {
	lookup := func() (string, error) { return r.keyring.KeyPassphrase(keyPath) }
	save := func(v string) error { return r.keyring.StoreKeyPassphrase(keyPath, v) }
	title := fmt.Sprintf("Passphrase for %s", keyPath)
	return r.resolve("passphrase", s.Auth.PassphraseEnv, lookup, save, title, "Private key passphrase")
}

func (r *Resolver) resolve(kind, env string, lookup func() (string, error), save func(string) error, title, desc string) (string, error) {
	if env != "" && r.fs != nil {
		if v := r.fs.Getenv(env); v != "" {
			r.logger.Debug("credential from environment", slog.String("kind", kind), slog.String("env", env))
			return v, nil
		}
	}

	useKeyring := r.keyring != nil && r.keyring.IsEnabled()
	if useKeyring {
		v, err := lookup()
		if err != nil {
			r.logger.Warn("keyring lookup failed", slog.String("kind", kind), slog.String("error", err.Error()))
		} else if v != "" {
			r.logger.Debug("credential from keyring", slog.String("kind", kind))
			return v, nil
		}
	}

	if r.prompter == nil {
		return "", fmt.Errorf("%s: %w", kind, ErrNoCredential)
	}
	v, err := r.prompter.PromptSecret(title, desc)
	if err != nil {
		return "", fmt.Errorf("prompt %s: %w", kind, err)
	}
	if v == "" {
		return "", fmt.Errorf("%s: %w", kind, ErrNoCredential)
	}
	if useKeyring {
		if err := save(v); err != nil {
			r.logger.Warn("keyring store failed", slog.String("kind", kind), slog.String("error", err.Error()))
		}
	}
	return v, nil
}
