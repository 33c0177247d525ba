package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net"
	"regexp"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"

	"github.com/acolita/promptshell/internal/chanconf"
	"github.com/acolita/promptshell/internal/testing/fakes/fakefs"
)

func newPublicKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	key, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("NewPublicKey: %v", err)
	}
	return key
}

func TestFingerprint_Formats(t *testing.T) {
	key := newPublicKey(t)

	tests := []struct {
		algo chanconf.FingerprintAlgorithm
		re   string
	}{
		{chanconf.FingerprintMD5, `^([0-9a-f]{2}:){15}[0-9a-f]{2}$`},
		{chanconf.FingerprintSHA1, `^([0-9a-f]{2}:){19}[0-9a-f]{2}$`},
		{chanconf.FingerprintSHA256, `^SHA256:[A-Za-z0-9+/]{43}$`},
		{chanconf.FingerprintRaw, `^[0-9a-f]+$`},
	}
	for _, tt := range tests {
		t.Run(string(tt.algo), func(t *testing.T) {
			got, err := Fingerprint(key, tt.algo)
			if err != nil {
				t.Fatalf("Fingerprint() error = %v", err)
			}
			if !regexp.MustCompile(tt.re).MatchString(got) {
				t.Errorf("Fingerprint() = %q, want match for %s", got, tt.re)
			}
		})
	}

	raw, _ := Fingerprint(key, chanconf.FingerprintRaw)
	if len(raw) != 2*len(key.Marshal()) {
		t.Errorf("raw fingerprint length = %d, want %d", len(raw), 2*len(key.Marshal()))
	}
}

func TestFingerprint_UnknownAlgorithm(t *testing.T) {
	_, err := Fingerprint(newPublicKey(t), "crc32")
	if !errors.Is(err, chanconf.ErrValidation) {
		t.Errorf("error = %v, want ErrValidation", err)
	}
}

func TestFingerprintCallback(t *testing.T) {
	key := newPublicKey(t)
	md5 := ssh.FingerprintLegacyMD5(key)
	addr := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 22}

	nextErr := errors.New("known_hosts mismatch")

	tests := []struct {
		name     string
		pin      string
		next     ssh.HostKeyCallback
		wantErr  error
		recorded string
	}{
		{"no pin", "", nil, nil, md5},
		{"matching pin", md5, nil, nil, md5},
		{"pin with prefix and case", "MD5:" + strings.ToUpper(md5), nil, nil, md5},
		{"mismatching pin", "00:11:22", nil, ErrHostKeyMismatch, ""},
		{"next callback rejects", "", func(string, net.Addr, ssh.PublicKey) error { return nextErr }, nextErr, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var recorded string
			cb := fingerprintCallback(tt.next, chanconf.FingerprintMD5, tt.pin, func(fp string) { recorded = fp })

			err := cb("router:22", addr, key)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("callback error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("callback error = %v, want %v", err, tt.wantErr)
			}
			if recorded != tt.recorded {
				t.Errorf("recorded = %q, want %q", recorded, tt.recorded)
			}
		})
	}
}

func TestKnownHostsCallback_MissingFile(t *testing.T) {
	fs := fakefs.New()

	cb, err := KnownHostsCallback(fs, "", false)
	if err != nil {
		t.Fatalf("KnownHostsCallback() error = %v", err)
	}
	if err := cb("h:22", &net.TCPAddr{}, newPublicKey(t)); err != nil {
		t.Errorf("lenient callback rejected key: %v", err)
	}

	if _, err := KnownHostsCallback(fs, "", true); err == nil {
		t.Error("strict KnownHostsCallback() should fail without a file")
	}
}
