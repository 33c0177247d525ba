package ssh

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/acolita/promptshell/internal/chanconf"
	"github.com/acolita/promptshell/internal/ports"
)

// ErrHostKeyMismatch is returned when the server key does not match the
// pinned fingerprint.
var ErrHostKeyMismatch = errors.New("host key fingerprint mismatch")

// Fingerprint formats key with the given algorithm.
//
//	md5    colon separated hex (legacy OpenSSH form)
//	sha1   colon separated hex
//	sha256 "SHA256:" followed by unpadded base64
//	raw    hex of the wire encoded key
func Fingerprint(key ssh.PublicKey, algo chanconf.FingerprintAlgorithm) (string, error) {
	switch algo {
	case chanconf.FingerprintMD5, "":
		return ssh.FingerprintLegacyMD5(key), nil
	case chanconf.FingerprintSHA1:
		sum := sha1.Sum(key.Marshal())
		return colonHex(sum[:]), nil
	case chanconf.FingerprintSHA256:
		return ssh.FingerprintSHA256(key), nil
	case chanconf.FingerprintRaw:
		return hex.EncodeToString(key.Marshal()), nil
	default:
		return "", fmt.Errorf("%w: unknown fingerprint algorithm %q", chanconf.ErrValidation, algo)
	}
}

func colonHex(b []byte) string {
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = fmt.Sprintf("%02x", v)
	}
	return strings.Join(parts, ":")
}

// normalizeFingerprint makes pins comparable regardless of case and the
// optional "MD5:" prefix.
func normalizeFingerprint(s string) string {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(strings.ToUpper(s), "MD5:"); ok {
		return strings.ToLower(rest)
	}
	if strings.HasPrefix(s, "SHA256:") {
		// base64 is case sensitive
		return s
	}
	return strings.ToLower(s)
}

// fingerprintCallback wraps next so that the server key fingerprint is
// recorded and, when pin is set, enforced.
func fingerprintCallback(next ssh.HostKeyCallback, algo chanconf.FingerprintAlgorithm, pin string, record func(string)) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		fp, err := Fingerprint(key, algo)
		if err != nil {
			return err
		}
		if pin != "" && normalizeFingerprint(pin) != normalizeFingerprint(fp) {
			return fmt.Errorf("%w for %s: got %s", ErrHostKeyMismatch, hostname, fp)
		}
		if next != nil {
			if err := next(hostname, remote, key); err != nil {
				return err
			}
		}
		record(fp)
		return nil
	}
}

// KnownHostsCallback verifies host keys against an OpenSSH known_hosts
// file. An empty path means ~/.ssh/known_hosts. When the file does not
// exist, every key is accepted unless strict is set.
func KnownHostsCallback(fsys ports.FileSystem, path string, strict bool) (ssh.HostKeyCallback, error) {
	if path == "" {
		path = "~/.ssh/known_hosts"
	}
	expanded := expandPath(fsys, path)

	if _, err := fsys.Stat(expanded); err != nil {
		if strict {
			return nil, fmt.Errorf("known_hosts %s: %w", expanded, err)
		}
		return ssh.InsecureIgnoreHostKey(), nil
	}

	callback, err := knownhosts.New(expanded)
	if err != nil {
		return nil, fmt.Errorf("parse known_hosts: %w", err)
	}
	return callback, nil
}
