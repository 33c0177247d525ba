package config

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/acolita/promptshell/internal/chanconf"
	"github.com/acolita/promptshell/internal/prompt"
	"github.com/acolita/promptshell/internal/testing/fakes/fakefs"
)

const sampleConfig = `
defaults:
  timeout: 15s
  term: vt100
  prompt: linux
  env:
    LANG: C
servers:
  - name: web1
    host: web1.example.com
    user: deploy
    auth:
      type: key
      path: ~/.ssh/deploy
    channel:
      width: 132
      env:
        TZ: UTC
  - name: core switches
    match: "core-*"
    port: 2222
    user: admin
    auth:
      type: password
      password_env: CORE_PASSWORD
    host_key:
      fingerprint: "SHA256:abc"
    channel:
      prompt: cisco
      telnet_filter: true
      strict_timeout: true
      methods:
        kex: [diffie-hellman-group14-sha1]
security:
  command_blocklist: ["rm -rf /"]
logging:
  level: debug
  format: text
recording:
  enabled: true
  path: /var/log/promptshell
prompt_detection:
  custom_patterns:
    - name: enable_password
      regex: "(?i)enable password:"
      type: password
      mask_input: true
`

func loadSample(t *testing.T) *Config {
	t.Helper()
	fs := fakefs.New()
	fs.AddFile("/etc/promptshell.yaml", []byte(sampleConfig), 0o600)
	cfg, err := Load("/etc/promptshell.yaml", fs)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return cfg
}

// ============================================================================
// Load / Save
// ============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" || !cfg.Logging.Sanitize {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if cfg.Defaults.Prompt != "linux" {
		t.Errorf("Defaults.Prompt = %q, want linux", cfg.Defaults.Prompt)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoad_EmptyPathAndMissingFile(t *testing.T) {
	for _, path := range []string{"", "/nope/config.yaml"} {
		cfg, err := Load(path, fakefs.New())
		if err != nil {
			t.Fatalf("Load(%q) error = %v", path, err)
		}
		if cfg.Logging.Level != "info" {
			t.Errorf("Load(%q) did not return defaults", path)
		}
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	fs := fakefs.New()
	fs.AddFile("/c.yaml", []byte(":::invalid{{{"), 0o600)
	if _, err := Load("/c.yaml", fs); err == nil {
		t.Error("Load() expected parse error")
	}
}

func TestLoad_Sample(t *testing.T) {
	cfg := loadSample(t)

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if len(cfg.Servers) != 2 {
		t.Fatalf("Servers = %d, want 2", len(cfg.Servers))
	}
	if cfg.Defaults.Timeout != 15*time.Second {
		t.Errorf("Defaults.Timeout = %v", cfg.Defaults.Timeout)
	}
	if cfg.Servers[1].Channel.StrictTimeout == nil || !*cfg.Servers[1].Channel.StrictTimeout {
		t.Error("strict_timeout not parsed")
	}
	if cfg.Logging.Format != "text" || !cfg.Logging.Sanitize {
		t.Errorf("Logging = %+v (sanitize should keep its default)", cfg.Logging)
	}
	if got := cfg.PromptDetection.CustomPatterns; len(got) != 1 || !got[0].MaskInput {
		t.Errorf("CustomPatterns = %+v", got)
	}
}

func TestSave_RoundTrip(t *testing.T) {
	fs := fakefs.New()
	cfg := loadSample(t)

	if err := Save(cfg, "/home/test/.config/promptshell/config.yaml", fs); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	loaded, err := Load("/home/test/.config/promptshell/config.yaml", fs)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(loaded.Servers) != 2 || loaded.Servers[1].Match != "core-*" {
		t.Errorf("round trip servers = %+v", loaded.Servers)
	}
}

func TestDefaultConfigPath(t *testing.T) {
	fs := fakefs.New()
	fs.SetHomeDir("/home/ops")
	if got := DefaultConfigPath(fs); got != "/home/ops/.config/promptshell/config.yaml" {
		t.Errorf("DefaultConfigPath() = %q", got)
	}
	fs.SetEnv("XDG_CONFIG_HOME", "/xdg")
	if got := DefaultConfigPath(fs); got != "/xdg/promptshell/config.yaml" {
		t.Errorf("DefaultConfigPath() with XDG = %q", got)
	}
}

// ============================================================================
// Validate
// ============================================================================

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"missing name", func(c *Config) { c.Servers = []ServerConfig{{Host: "h", User: "u"}} }, "name is required"},
		{"duplicate", func(c *Config) {
			c.Servers = []ServerConfig{{Name: "a", Host: "h", User: "u"}, {Name: "a", Host: "h", User: "u"}}
		}, "duplicate"},
		{"no host", func(c *Config) { c.Servers = []ServerConfig{{Name: "a", User: "u"}} }, "host or match"},
		{"bad port", func(c *Config) { c.Servers = []ServerConfig{{Name: "a", Host: "h", User: "u", Port: 99999}} }, "invalid port"},
		{"no user", func(c *Config) { c.Servers = []ServerConfig{{Name: "a", Host: "h"}} }, "user is required"},
		{"bad auth", func(c *Config) {
			c.Servers = []ServerConfig{{Name: "a", Host: "h", User: "u", Auth: AuthConfig{Type: "kerberos"}}}
		}, "unknown auth type"},
		{"bad term", func(c *Config) { c.Defaults.Term = "wyse60" }, "defaults"},
		{"bad channel", func(c *Config) {
			c.Servers = []ServerConfig{{Name: "a", Host: "h", User: "u", Channel: ChannelConfig{Width: -1}}}
		}, "server a"},
		{"bad prompt", func(c *Config) { c.Defaults.Prompt = "([" }, "prompt"},
		{"bad blocklist", func(c *Config) { c.Security.CommandBlocklist = []string{"(["} }, "security"},
		{"bad custom pattern", func(c *Config) {
			c.PromptDetection.CustomPatterns = []PatternConfig{{Name: "x", Regex: "(["}}
		}, "prompt_detection"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestAddServer(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.AddServer(ServerConfig{Name: "a", Host: "h", User: "u"}); err != nil {
		t.Fatalf("AddServer() error = %v", err)
	}
	if err := cfg.AddServer(ServerConfig{Name: "a", Host: "h2", User: "u"}); err == nil {
		t.Error("AddServer() duplicate should fail")
	}
}

// ============================================================================
// Server lookup and channel merging
// ============================================================================

func TestServer_Lookup(t *testing.T) {
	cfg := loadSample(t)

	tests := []struct {
		name     string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{"web1", "web1.example.com", 0, false},
		{"core-07", "core-07", 2222, false},
		{"edge-01", "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := cfg.Server(tt.name)
			if tt.wantErr {
				if !errors.Is(err, ErrServerNotFound) {
					t.Fatalf("Server() error = %v, want ErrServerNotFound", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Server() error = %v", err)
			}
			if s.Host != tt.wantHost || s.Port != tt.wantPort || s.Name != tt.name {
				t.Errorf("Server() = %+v", s)
			}
		})
	}
}

func TestChannelFor_MergesDefaults(t *testing.T) {
	cfg := loadSample(t)

	web, _ := cfg.Server("web1")
	ch, err := cfg.ChannelFor(web)
	if err != nil {
		t.Fatalf("ChannelFor() error = %v", err)
	}
	if ch.Timeout() != 15*time.Second {
		t.Errorf("Timeout = %v, want inherited 15s", ch.Timeout())
	}
	if ch.TermType() != chanconf.TermVT100 {
		t.Errorf("TermType = %q, want vt100", ch.TermType())
	}
	if ch.Width() != 132 || ch.Height() != 25 {
		t.Errorf("size = %dx%d, want 132x25", ch.Width(), ch.Height())
	}
	if env := ch.Env(); env["LANG"] != "C" || env["TZ"] != "UTC" {
		t.Errorf("Env = %v, want merged LANG and TZ", env)
	}
	if ch.StrictTimeout() {
		t.Error("StrictTimeout inherited unexpectedly")
	}

	// Merging must not leak server env into the shared defaults.
	if _, ok := cfg.Defaults.Env["TZ"]; ok {
		t.Error("defaults env was mutated")
	}

	core, _ := cfg.Server("core-01")
	merged, err := cfg.MergedChannel(core)
	if err != nil {
		t.Fatalf("MergedChannel() error = %v", err)
	}
	if merged.PromptPattern() != prompt.Cisco.Pattern() {
		t.Errorf("PromptPattern = %q, want cisco", merged.PromptPattern())
	}
	coreCh, _ := merged.Build()
	if !coreCh.StrictTimeout() {
		t.Error("StrictTimeout = false, want true")
	}
	if m := coreCh.Methods(); len(m.KeyExchanges) != 1 {
		t.Errorf("Methods = %+v", m)
	}
}

func TestServerConfig_LogValueOmitsSecrets(t *testing.T) {
	s := ServerConfig{Name: "a", Host: "h", User: "u", Auth: AuthConfig{Type: "password", PasswordEnv: "SECRET_VAR"}}
	var b strings.Builder
	slog.New(slog.NewTextHandler(&b, nil)).Info("server", "server", s)
	if strings.Contains(b.String(), "SECRET_VAR") {
		t.Errorf("log output leaks env var name: %s", b.String())
	}
	if !strings.Contains(b.String(), "server.host=h") {
		t.Errorf("log output = %s", b.String())
	}
}

// ============================================================================
// Watcher
// ============================================================================

func writeConfigFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, "logging:\n  level: info\n")

	var mu sync.Mutex
	var changed *Config
	w, err := NewWatcher(path, quietLogger(), func(cfg *Config) {
		mu.Lock()
		changed = cfg
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Close()

	writeConfigFile(t, path, "logging:\n  level: debug\n")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if w.Config().Logging.Level == "debug" {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if got := w.Config().Logging.Level; got != "debug" {
		t.Fatalf("Config().Logging.Level = %q after reload, want debug", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if changed == nil || changed.Logging.Level != "debug" {
		t.Error("onChange not called with the reloaded config")
	}
}

func TestWatcher_KeepsLastGoodConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, "logging:\n  level: warn\n")

	var mu sync.Mutex
	calls := 0
	w, err := NewWatcher(path, quietLogger(), func(*Config) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Close()

	writeConfigFile(t, path, ":::invalid{{{")
	time.Sleep(300 * time.Millisecond)
	writeConfigFile(t, path, "logging:\n  level: shouting\n")
	time.Sleep(300 * time.Millisecond)

	if got := w.Config().Logging.Level; got != "warn" {
		t.Errorf("Config().Logging.Level = %q, want warn", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Errorf("onChange called %d times, want 0", calls)
	}
}

func TestNewWatcher_Errors(t *testing.T) {
	if _, err := NewWatcher("/nonexistent/dir/config.yaml", quietLogger(), nil); err == nil {
		t.Error("NewWatcher() on missing directory should fail")
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, "logging:\n  level: shouting\n")
	if _, err := NewWatcher(path, quietLogger(), nil); err == nil {
		t.Error("NewWatcher() on invalid config should fail")
	}
}
