// Package chanconf holds the immutable channel parameters shared by shell
// channels and one-shot executors.
//
// A Configuration is a value. Every With* method validates its argument and
// returns a modified copy; the receiver is never changed, so one value can be
// handed to any number of channels.
package chanconf

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/encoding/htmlindex"

	"github.com/acolita/promptshell/internal/ports"
)

// ErrValidation is wrapped by every error returned from a With* method.
var ErrValidation = errors.New("invalid configuration")

// Defaults.
const (
	DefaultTimeout           = 10 * time.Second
	DefaultInterCommandDelay = 3500 * time.Microsecond
	DefaultWidth             = 80
	DefaultHeight            = 25
)

// Configuration is the set of parameters for a channel or executor.
// The zero value is not usable; start from Default.
type Configuration struct {
	timeout           time.Duration
	interCommandDelay time.Duration
	termType          TermType
	width             int
	height            int
	unit              DimensionUnit
	env               map[string]string
	outputEncoding    string
	fingerprint       FingerprintAlgorithm
	methods           Methods
	strictTimeout     bool
}

// Default returns a Configuration with the stock settings.
func Default() Configuration {
	return Configuration{
		timeout:           DefaultTimeout,
		interCommandDelay: DefaultInterCommandDelay,
		termType:          TermVanilla,
		width:             DefaultWidth,
		height:            DefaultHeight,
		unit:              UnitChars,
		fingerprint:       FingerprintMD5,
	}
}

// Timeout is the response deadline for a single read cycle.
func (c Configuration) Timeout() time.Duration { return c.timeout }

// InterCommandDelay is slept before every read cycle.
func (c Configuration) InterCommandDelay() time.Duration { return c.interCommandDelay }

func (c Configuration) TermType() TermType                         { return c.termType }
func (c Configuration) Width() int                                 { return c.width }
func (c Configuration) Height() int                                { return c.height }
func (c Configuration) DimensionUnit() DimensionUnit               { return c.unit }
func (c Configuration) OutputEncoding() string                     { return c.outputEncoding }
func (c Configuration) FingerprintAlgorithm() FingerprintAlgorithm { return c.fingerprint }

// StrictTimeout reports whether a missed prompt is returned as an error
// alongside the partial output instead of as a degraded success.
func (c Configuration) StrictTimeout() bool { return c.strictTimeout }

// Env returns a copy of the environment, or nil if none is set.
func (c Configuration) Env() map[string]string {
	return maps.Clone(c.env)
}

// Methods returns a copy of the crypto method preferences.
func (c Configuration) Methods() Methods {
	return c.methods.clone()
}

// WithTimeout sets the response deadline. d must be positive.
func (c Configuration) WithTimeout(d time.Duration) (Configuration, error) {
	if d <= 0 {
		return c, fmt.Errorf("%w: timeout must be positive, got %s", ErrValidation, d)
	}
	n := c.clone()
	n.timeout = d
	return n, nil
}

// WithInterCommandDelay sets the settle delay. d must not be negative.
func (c Configuration) WithInterCommandDelay(d time.Duration) (Configuration, error) {
	if d < 0 {
		return c, fmt.Errorf("%w: inter-command delay must not be negative, got %s", ErrValidation, d)
	}
	n := c.clone()
	n.interCommandDelay = d
	return n, nil
}

func (c Configuration) WithTermType(t TermType) (Configuration, error) {
	if !t.Valid() {
		return c, fmt.Errorf("%w: unknown terminal type %q", ErrValidation, string(t))
	}
	n := c.clone()
	n.termType = t
	return n, nil
}

func (c Configuration) WithWidth(w int) (Configuration, error) {
	if w <= 0 {
		return c, fmt.Errorf("%w: terminal width must be positive, got %d", ErrValidation, w)
	}
	n := c.clone()
	n.width = w
	return n, nil
}

func (c Configuration) WithHeight(h int) (Configuration, error) {
	if h <= 0 {
		return c, fmt.Errorf("%w: terminal height must be positive, got %d", ErrValidation, h)
	}
	n := c.clone()
	n.height = h
	return n, nil
}

func (c Configuration) WithDimensionUnit(u DimensionUnit) (Configuration, error) {
	if !u.Valid() {
		return c, fmt.Errorf("%w: unknown dimension unit %q", ErrValidation, string(u))
	}
	n := c.clone()
	n.unit = u
	return n, nil
}

// WithEnv replaces the environment. A nil or empty map clears it.
// The map is copied.
func (c Configuration) WithEnv(env map[string]string) (Configuration, error) {
	for name := range env {
		if err := validateEnvName(name); err != nil {
			return c, err
		}
	}
	n := c.clone()
	if len(env) == 0 {
		n.env = nil
	} else {
		n.env = maps.Clone(env)
	}
	return n, nil
}

// WithEnvVar adds or replaces a single environment variable.
func (c Configuration) WithEnvVar(name, value string) (Configuration, error) {
	if err := validateEnvName(name); err != nil {
		return c, err
	}
	n := c.clone()
	if n.env == nil {
		n.env = make(map[string]string, 1)
	}
	n.env[name] = value
	return n, nil
}

// WithOutputEncoding sets the character set remote output is decoded from.
// Names follow the WHATWG encoding labels ("utf-8", "windows-1251",
// "shift_jis", ...). An empty name means passthrough.
func (c Configuration) WithOutputEncoding(name string) (Configuration, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name != "" {
		if _, err := htmlindex.Get(name); err != nil {
			return c, fmt.Errorf("%w: unknown output encoding %q", ErrValidation, name)
		}
	}
	n := c.clone()
	n.outputEncoding = name
	return n, nil
}

func (c Configuration) WithFingerprintAlgorithm(a FingerprintAlgorithm) (Configuration, error) {
	if !a.Valid() {
		return c, fmt.Errorf("%w: unknown fingerprint algorithm %q", ErrValidation, string(a))
	}
	n := c.clone()
	n.fingerprint = a
	return n, nil
}

// WithMethods sets the crypto method preferences passed to the transport.
func (c Configuration) WithMethods(m Methods) (Configuration, error) {
	if err := m.validate(); err != nil {
		return c, err
	}
	n := c.clone()
	n.methods = m.clone()
	return n, nil
}

// WithStrictTimeout toggles strict timeout handling.
func (c Configuration) WithStrictTimeout(strict bool) Configuration {
	n := c.clone()
	n.strictTimeout = strict
	return n
}

// TermRequest projects the terminal settings onto a transport request.
func (c Configuration) TermRequest() ports.TermRequest {
	return ports.TermRequest{
		Term:   string(c.termType),
		Env:    c.Env(),
		Width:  c.width,
		Height: c.height,
		Unit:   string(c.unit),
	}
}

// ToMap returns the settings as a flat map for logging and introspection.
func (c Configuration) ToMap() map[string]any {
	m := map[string]any{
		"timeout":             c.timeout.String(),
		"inter_command_delay": c.interCommandDelay.String(),
		"term_type":           string(c.termType),
		"width":               c.width,
		"height":              c.height,
		"dimension_unit":      string(c.unit),
		"output_encoding":     c.outputEncoding,
		"fingerprint":         string(c.fingerprint),
		"strict_timeout":      c.strictTimeout,
	}
	if c.env != nil {
		names := slices.Sorted(maps.Keys(c.env))
		m["env"] = names
	}
	if !c.methods.empty() {
		m["methods"] = c.methods.toMap()
	}
	return m
}

func (c Configuration) clone() Configuration {
	n := c
	n.env = maps.Clone(c.env)
	n.methods = c.methods.clone()
	return n
}

func validateEnvName(name string) error {
	if name == "" || strings.ContainsAny(name, "= \t\n\x00") {
		return fmt.Errorf("%w: invalid environment variable name %q", ErrValidation, name)
	}
	return nil
}
