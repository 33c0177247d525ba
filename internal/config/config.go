// Package config loads the promptshell YAML configuration: server
// definitions, channel defaults and the ambient logging, recording and
// security settings.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/acolita/promptshell/internal/adapters/realfs"
	"github.com/acolita/promptshell/internal/chanconf"
	"github.com/acolita/promptshell/internal/ports"
	"github.com/acolita/promptshell/internal/prompt"
)

// ErrServerNotFound is returned by Server when no entry matches.
var ErrServerNotFound = errors.New("server not found")

// DefaultConfigPath returns $XDG_CONFIG_HOME/promptshell/config.yaml,
// falling back to ~/.config.
func DefaultConfigPath(fsys ...ports.FileSystem) string {
	f := pick(fsys)
	dir := f.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := f.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "promptshell", "config.yaml")
}

// Config is the top-level configuration.
type Config struct {
	Defaults        ChannelConfig   `yaml:"defaults"`
	Servers         []ServerConfig  `yaml:"servers"`
	Security        SecurityConfig  `yaml:"security"`
	Logging         LoggingConfig   `yaml:"logging"`
	Recording       RecordingConfig `yaml:"recording"`
	PromptDetection PromptConfig    `yaml:"prompt_detection"`
}

// ChannelConfig mirrors chanconf.Configuration in YAML form. Zero fields
// inherit from Config.Defaults, then from chanconf.Default.
type ChannelConfig struct {
	Timeout           time.Duration     `yaml:"timeout,omitempty"`
	InterCommandDelay time.Duration     `yaml:"inter_command_delay,omitempty"`
	Term              string            `yaml:"term,omitempty"`
	Width             int               `yaml:"width,omitempty"`
	Height            int               `yaml:"height,omitempty"`
	Unit              string            `yaml:"unit,omitempty"`
	Env               map[string]string `yaml:"env,omitempty"`
	Encoding          string            `yaml:"encoding,omitempty"`
	Fingerprint       string            `yaml:"fingerprint_algorithm,omitempty"`
	StrictTimeout     *bool             `yaml:"strict_timeout,omitempty"`
	Methods           chanconf.Methods  `yaml:"methods,omitempty"`

	// Prompt is a family name (linux, cisco, huawei, any) or a regex.
	Prompt     string `yaml:"prompt,omitempty"`
	LineEnding string `yaml:"line_ending,omitempty"`
	Telnet     bool   `yaml:"telnet_filter,omitempty"`
}

// ServerConfig defines a remote host. Match, when set, is a glob that
// lets one entry serve many host names; the requested name becomes the
// host unless Host is set.
type ServerConfig struct {
	Name    string        `yaml:"name"`
	Match   string        `yaml:"match,omitempty"`
	Host    string        `yaml:"host,omitempty"`
	Port    int           `yaml:"port,omitempty"`
	User    string        `yaml:"user"`
	Auth    AuthConfig    `yaml:"auth"`
	HostKey HostKeyConfig `yaml:"host_key,omitempty"`
	Channel ChannelConfig `yaml:"channel,omitempty"`
}

// AuthConfig selects an authentication variant. Secrets are never stored
// in the file; they come from environment variables, the OS keyring or an
// interactive prompt.
type AuthConfig struct {
	Type          string `yaml:"type"`                     // none, agent, password, key, hostbased
	Path          string `yaml:"path,omitempty"`           // private key
	PassphraseEnv string `yaml:"passphrase_env,omitempty"` // env var holding the key passphrase
	PasswordEnv   string `yaml:"password_env,omitempty"`   // env var holding the password
	AgentSocket   string `yaml:"agent_socket,omitempty"`
	LocalUser     string `yaml:"local_user,omitempty"` // hostbased
}

// HostKeyConfig controls server key verification.
type HostKeyConfig struct {
	KnownHosts  string `yaml:"known_hosts,omitempty"`
	Fingerprint string `yaml:"fingerprint,omitempty"` // pin, in the channel's fingerprint algorithm
	Strict      bool   `yaml:"strict,omitempty"`      // fail when known_hosts is missing
	Insecure    bool   `yaml:"insecure,omitempty"`
}

// SecurityConfig defines command filtering and credential storage.
type SecurityConfig struct {
	CommandBlocklist []string `yaml:"command_blocklist"`
	CommandAllowlist []string `yaml:"command_allowlist"`
	UseKeyring       bool     `yaml:"use_keyring"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level    string `yaml:"level"`  // debug, info, warn, error
	Format   string `yaml:"format"` // json, text
	Sanitize bool   `yaml:"sanitize"`
}

// RecordingConfig defines transcript recording.
type RecordingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// PromptConfig adds interactive-question patterns to the detector.
type PromptConfig struct {
	CustomPatterns []PatternConfig `yaml:"custom_patterns"`
}

// PatternConfig defines a custom question pattern.
type PatternConfig struct {
	Name      string `yaml:"name"`
	Regex     string `yaml:"regex"`
	Type      string `yaml:"type"` // password, confirmation, pager, text
	MaskInput bool   `yaml:"mask_input"`
}

var validAuthTypes = map[string]bool{
	"none": true, "agent": true, "password": true, "key": true, "hostbased": true,
}

var validLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Defaults: ChannelConfig{Prompt: string(prompt.Linux)},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Sanitize: true,
		},
	}
}

func pick(fsys []ports.FileSystem) ports.FileSystem {
	if len(fsys) > 0 && fsys[0] != nil {
		return fsys[0]
	}
	return realfs.New()
}

// Load reads path over the defaults. A missing file yields the defaults.
// An optional FileSystem can be passed for testing.
func Load(path string, fsys ...ports.FileSystem) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := pick(fsys).ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to path, creating the directory.
func Save(cfg *Config, path string, fsys ...ports.FileSystem) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	f := pick(fsys)
	if err := f.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return f.WriteFile(path, data, 0o600)
}

// Validate checks every section and returns all problems joined.
func (c *Config) Validate() error {
	var errs []error

	if c.Logging.Level != "" && !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	if f := c.Logging.Format; f != "" && f != "json" && f != "text" {
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", f))
	}
	if _, err := c.Defaults.Build(); err != nil {
		errs = append(errs, fmt.Errorf("defaults: %w", err))
	}

	seen := make(map[string]bool)
	for i, s := range c.Servers {
		label := s.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("server %s: name is required", label))
		} else if seen[s.Name] {
			errs = append(errs, fmt.Errorf("server %s: duplicate name", label))
		}
		seen[s.Name] = true

		if s.Host == "" && s.Match == "" {
			errs = append(errs, fmt.Errorf("server %s: host or match is required", label))
		}
		if s.Match != "" && !doublestar.ValidatePattern(s.Match) {
			errs = append(errs, fmt.Errorf("server %s: invalid match pattern %q", label, s.Match))
		}
		if s.Port < 0 || s.Port > 65535 {
			errs = append(errs, fmt.Errorf("server %s: invalid port %d", label, s.Port))
		}
		if s.User == "" {
			errs = append(errs, fmt.Errorf("server %s: user is required", label))
		}
		if t := s.Auth.Type; t != "" && !validAuthTypes[t] {
			errs = append(errs, fmt.Errorf("server %s: unknown auth type %q", label, t))
		}
		if _, err := c.ChannelFor(s); err != nil {
			errs = append(errs, fmt.Errorf("server %s: %w", label, err))
		}
	}

	for _, p := range append(append([]string{}, c.Security.CommandBlocklist...), c.Security.CommandAllowlist...) {
		if _, err := regexp.Compile(p); err != nil {
			errs = append(errs, fmt.Errorf("security: invalid command pattern %q: %w", p, err))
		}
	}
	for _, p := range c.PromptDetection.CustomPatterns {
		if _, err := regexp.Compile(p.Regex); err != nil {
			errs = append(errs, fmt.Errorf("prompt_detection: pattern %q: %w", p.Name, err))
		}
	}
	return errors.Join(errs...)
}

// AddServer appends server, rejecting duplicate names.
func (c *Config) AddServer(server ServerConfig) error {
	for _, s := range c.Servers {
		if s.Name == server.Name {
			return fmt.Errorf("server %q already exists", server.Name)
		}
	}
	c.Servers = append(c.Servers, server)
	return nil
}

// Server finds the entry for name: an exact Name match first, then the
// first Match glob that accepts it.
func (c *Config) Server(name string) (ServerConfig, error) {
	for _, s := range c.Servers {
		if s.Name == name {
			return s, nil
		}
	}
	for _, s := range c.Servers {
		if s.Match == "" {
			continue
		}
		ok, err := doublestar.Match(s.Match, name)
		if err != nil || !ok {
			continue
		}
		if s.Host == "" {
			s.Host = name
		}
		s.Name = name
		return s, nil
	}
	return ServerConfig{}, fmt.Errorf("%w: %q", ErrServerNotFound, name)
}

// ChannelFor merges the server channel settings over Defaults and builds
// the result.
func (c *Config) ChannelFor(s ServerConfig) (chanconf.Configuration, error) {
	merged, err := c.MergedChannel(s)
	if err != nil {
		return chanconf.Configuration{}, err
	}
	return merged.Build()
}

// MergedChannel returns the server channel settings with unset fields
// filled from Defaults.
func (c *Config) MergedChannel(s ServerConfig) (ChannelConfig, error) {
	merged := s.Channel
	merged.Env = copyEnv(s.Channel.Env)
	if err := mergo.Merge(&merged, c.Defaults); err != nil {
		return ChannelConfig{}, fmt.Errorf("merge channel defaults: %w", err)
	}
	return merged, nil
}

// Build validates the settings through chanconf.
func (cc ChannelConfig) Build() (chanconf.Configuration, error) {
	cfg := chanconf.Default()
	var err error

	steps := []func() error{
		func() error {
			if cc.Timeout == 0 {
				return nil
			}
			cfg, err = cfg.WithTimeout(cc.Timeout)
			return err
		},
		func() error {
			if cc.InterCommandDelay == 0 {
				return nil
			}
			cfg, err = cfg.WithInterCommandDelay(cc.InterCommandDelay)
			return err
		},
		func() error {
			if cc.Term == "" {
				return nil
			}
			t, perr := chanconf.ParseTermType(cc.Term)
			if perr != nil {
				return perr
			}
			cfg, err = cfg.WithTermType(t)
			return err
		},
		func() error {
			if cc.Width == 0 {
				return nil
			}
			cfg, err = cfg.WithWidth(cc.Width)
			return err
		},
		func() error {
			if cc.Height == 0 {
				return nil
			}
			cfg, err = cfg.WithHeight(cc.Height)
			return err
		},
		func() error {
			if cc.Unit == "" {
				return nil
			}
			u, perr := chanconf.ParseDimensionUnit(cc.Unit)
			if perr != nil {
				return perr
			}
			cfg, err = cfg.WithDimensionUnit(u)
			return err
		},
		func() error {
			if len(cc.Env) == 0 {
				return nil
			}
			cfg, err = cfg.WithEnv(cc.Env)
			return err
		},
		func() error {
			if cc.Encoding == "" {
				return nil
			}
			cfg, err = cfg.WithOutputEncoding(cc.Encoding)
			return err
		},
		func() error {
			if cc.Fingerprint == "" {
				return nil
			}
			a, perr := chanconf.ParseFingerprintAlgorithm(cc.Fingerprint)
			if perr != nil {
				return perr
			}
			cfg, err = cfg.WithFingerprintAlgorithm(a)
			return err
		},
		func() error {
			cfg, err = cfg.WithMethods(cc.Methods)
			return err
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return chanconf.Configuration{}, err
		}
	}
	if cc.StrictTimeout != nil {
		cfg = cfg.WithStrictTimeout(*cc.StrictTimeout)
	}
	if cc.Prompt != "" {
		if _, err := regexp.Compile(prompt.Resolve(cc.Prompt)); err != nil {
			return chanconf.Configuration{}, fmt.Errorf("%w: prompt %q: %v", chanconf.ErrValidation, cc.Prompt, err)
		}
	}
	return cfg, nil
}

// PromptPattern returns the resolved prompt regex, or "" when unset.
func (cc ChannelConfig) PromptPattern() string {
	return prompt.Resolve(cc.Prompt)
}

// LogValue reports the server without secrets.
func (s ServerConfig) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", s.Name),
		slog.String("host", s.Host),
		slog.Int("port", s.Port),
		slog.String("user", s.User),
		slog.String("auth", s.Auth.Type),
	)
}

func copyEnv(env map[string]string) map[string]string {
	if env == nil {
		return nil
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}
