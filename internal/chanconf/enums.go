package chanconf

import (
	"fmt"
	"strings"
)

// TermType is the virtual terminal type requested from the remote side.
type TermType string

const (
	TermANSI    TermType = "ansi"
	TermDumb    TermType = "dumb"
	TermHurd    TermType = "hurd"
	TermPCANSI  TermType = "pcansi"
	TermLinux   TermType = "linux"
	TermXterm   TermType = "xterm"
	TermXtermR6 TermType = "xterm-r6"
	TermVT100   TermType = "vt100"
	TermVT102   TermType = "vt102"
	TermVanilla TermType = "vanilla"
)

var termTypes = []TermType{
	TermANSI, TermDumb, TermHurd, TermPCANSI, TermLinux,
	TermXterm, TermXtermR6, TermVT100, TermVT102, TermVanilla,
}

// Valid reports whether t is a known terminal type.
func (t TermType) Valid() bool {
	for _, known := range termTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseTermType accepts the terminal names case-insensitively.
// "xterm_r6" is accepted as a spelling of "xterm-r6".
func ParseTermType(s string) (TermType, error) {
	t := TermType(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-"))
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown terminal type %q", ErrValidation, s)
	}
	return t, nil
}

// DimensionUnit says whether terminal width and height are characters or pixels.
type DimensionUnit string

const (
	UnitChars  DimensionUnit = "chars"
	UnitPixels DimensionUnit = "pixels"
)

func (u DimensionUnit) Valid() bool {
	return u == UnitChars || u == UnitPixels
}

func ParseDimensionUnit(s string) (DimensionUnit, error) {
	u := DimensionUnit(strings.ToLower(strings.TrimSpace(s)))
	if !u.Valid() {
		return "", fmt.Errorf("%w: unknown dimension unit %q", ErrValidation, s)
	}
	return u, nil
}

// FingerprintAlgorithm selects how the server host key fingerprint is rendered.
type FingerprintAlgorithm string

const (
	FingerprintMD5    FingerprintAlgorithm = "md5"
	FingerprintSHA1   FingerprintAlgorithm = "sha1"
	FingerprintSHA256 FingerprintAlgorithm = "sha256"
	// FingerprintRaw is the hex encoding of the wire-format public key.
	FingerprintRaw FingerprintAlgorithm = "raw"
)

func (a FingerprintAlgorithm) Valid() bool {
	switch a {
	case FingerprintMD5, FingerprintSHA1, FingerprintSHA256, FingerprintRaw:
		return true
	}
	return false
}

func ParseFingerprintAlgorithm(s string) (FingerprintAlgorithm, error) {
	a := FingerprintAlgorithm(strings.ToLower(strings.TrimSpace(s)))
	if !a.Valid() {
		return "", fmt.Errorf("%w: unknown fingerprint algorithm %q", ErrValidation, s)
	}
	return a, nil
}
