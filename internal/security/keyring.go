package security

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zalando/go-keyring"
)

// KeyringService is the service name under which secrets are stored.
const KeyringService = "promptshell"

// ErrKeyringUnavailable is returned when the OS keyring cannot be used.
var ErrKeyringUnavailable = errors.New("keyring not available")

const (
	keyServerFmt     = "server:%s@%s"
	keyPassphraseFmt = "key-passphrase:%s"
	probeKey         = "__promptshell_probe__"
)

// KeyringStore keeps server passwords and key passphrases in the OS
// keyring (macOS Keychain, Secret Service, Windows Credential Manager).
type KeyringStore struct {
	mu      sync.RWMutex
	enabled bool
	logger  *slog.Logger
}

// NewKeyringStore probes the keyring and returns a store that is disabled
// when the probe fails.
func NewKeyringStore(logger *slog.Logger) *KeyringStore {
	if logger == nil {
		logger = slog.Default()
	}
	ks := &KeyringStore{enabled: true, logger: logger}
	if err := keyring.Set(KeyringService, probeKey, "probe"); err != nil {
		logger.Debug("keyring not available", slog.String("error", err.Error()))
		ks.enabled = false
		return ks
	}
	_ = keyring.Delete(KeyringService, probeKey)
	return ks
}

// IsEnabled reports whether the keyring is usable.
func (ks *KeyringStore) IsEnabled() bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.enabled
}

// SetEnabled turns keyring use on or off.
func (ks *KeyringStore) SetEnabled(enabled bool) {
	ks.mu.Lock()
	ks.enabled = enabled
	ks.mu.Unlock()
}

// ServerPassword returns the stored password for user@host. A missing
// entry yields an empty string and a nil error.
func (ks *KeyringStore) ServerPassword(host, user string) (string, error) {
	return ks.get(fmt.Sprintf(keyServerFmt, user, host))
}

// StoreServerPassword saves the password for user@host.
func (ks *KeyringStore) StoreServerPassword(host, user, password string) error {
	return ks.set(fmt.Sprintf(keyServerFmt, user, host), password)
}

// DeleteServerPassword removes the password for user@host.
func (ks *KeyringStore) DeleteServerPassword(host, user string) error {
	return ks.del(fmt.Sprintf(keyServerFmt, user, host))
}

// KeyPassphrase returns the stored passphrase for the private key at path.
func (ks *KeyringStore) KeyPassphrase(path string) (string, error) {
	return ks.get(fmt.Sprintf(keyPassphraseFmt, path))
}

// StoreKeyPassphrase saves the passphrase for the private key at path.
func (ks *KeyringStore) StoreKeyPassphrase(path, passphrase string) error {
	return ks.set(fmt.Sprintf(keyPassphraseFmt, path), passphrase)
}

// DeleteKeyPassphrase removes the passphrase for the private key at path.
func (ks *KeyringStore) DeleteKeyPassphrase(path string) error {
	return ks.del(fmt.Sprintf(keyPassphraseFmt, path))
}

// values are base64 encoded so arbitrary bytes survive every backend
func (ks *KeyringStore) set(key, value string) error {
	if !ks.IsEnabled() {
		return ErrKeyringUnavailable
	}
	encoded := base64.StdEncoding.EncodeToString([]byte(value))
	if err := keyring.Set(KeyringService, key, encoded); err != nil {
		return fmt.Errorf("keyring set %s: %w", key, err)
	}
	ks.logger.Debug("stored secret in keyring", slog.String("entry", key))
	return nil
}

func (ks *KeyringStore) get(key string) (string, error) {
	if !ks.IsEnabled() {
		return "", ErrKeyringUnavailable
	}
	encoded, err := keyring.Get(KeyringService, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("keyring get %s: %w", key, err)
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode keyring entry %s: %w", key, err)
	}
	defer WipeBytes(raw)
	return string(raw), nil
}

func (ks *KeyringStore) del(key string) error {
	if !ks.IsEnabled() {
		return ErrKeyringUnavailable
	}
	err := keyring.Delete(KeyringService, key)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keyring delete %s: %w", key, err)
	}
	return nil
}
