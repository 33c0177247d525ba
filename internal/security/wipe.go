package security

import "crypto/rand"

// WipeBytes overwrites data with random bytes and then zeros.
func WipeBytes(data []byte) {
	if len(data) == 0 {
		return
	}
	_, _ = rand.Read(data)
	clear(data)
}

// SecureBytes holds a private copy of a secret until Wipe is called.
type SecureBytes struct {
	data []byte
}

// NewSecureBytes copies data.
func NewSecureBytes(data []byte) *SecureBytes {
	return &SecureBytes{data: append([]byte(nil), data...)}
}

// Data returns the held bytes without copying.
func (sb *SecureBytes) Data() []byte { return sb.data }

// String returns the secret as a string.
func (sb *SecureBytes) String() string { return string(sb.data) }

// Len returns the secret length.
func (sb *SecureBytes) Len() int { return len(sb.data) }

// Wipe clears the secret. It is safe to call more than once.
func (sb *SecureBytes) Wipe() {
	WipeBytes(sb.data)
	sb.data = nil
}
