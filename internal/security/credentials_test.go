package security

import (
	"errors"
	"testing"

	"github.com/acolita/promptshell/internal/config"
	"github.com/acolita/promptshell/internal/testing/fakes/fakefs"
)

type stubPrompter struct {
	answer string
	err    error
	titles []string
}

func (p *stubPrompter) PromptSecret(title, _ string) (string, error) {
	p.titles = append(p.titles, title)
	return p.answer, p.err
}

func server() config.ServerConfig {
	return config.ServerConfig{
		Name: "core-1",
		Host: "10.0.0.1",
		User: "admin",
		Auth: config.AuthConfig{Type: "password", PasswordEnv: "CORE_PASS", PassphraseEnv: "CORE_KEY_PASS"},
	}
}

func TestResolver_Password(t *testing.T) {
	tests := []struct {
		name       string
		env        string
		stored     string
		prompter   *stubPrompter
		noKeyring  bool
		want       string
		wantErr    error
		wantPrompt bool
		wantSaved  string
	}{
		{
			name:     "environment first",
			env:      "from-env",
			stored:   "from-keyring",
			prompter: &stubPrompter{answer: "typed"},
			want:     "from-env",
		},
		{
			name:     "keyring second",
			stored:   "from-keyring",
			prompter: &stubPrompter{answer: "typed"},
			want:     "from-keyring",
		},
		{
			name:       "prompt last and saved",
			prompter:   &stubPrompter{answer: "typed"},
			want:       "typed",
			wantPrompt: true,
			wantSaved:  "typed",
		},
		{
			name:       "prompt without keyring",
			prompter:   &stubPrompter{answer: "typed"},
			noKeyring:  true,
			want:       "typed",
			wantPrompt: true,
		},
		{
			name:    "nothing available",
			wantErr: ErrNoCredential,
		},
		{
			name:       "empty answer",
			prompter:   &stubPrompter{},
			wantErr:    ErrNoCredential,
			wantPrompt: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ks := mockKeyring(t)
			if tt.stored != "" {
				_ = ks.StoreServerPassword("10.0.0.1", "admin", tt.stored)
			}
			fsys := fakefs.New()
			if tt.env != "" {
				fsys.SetEnv("CORE_PASS", tt.env)
			}
			store := ks
			if tt.noKeyring {
				store = nil
			}

			var r *Resolver
			if tt.prompter != nil {
				r = NewResolver(fsys, store, tt.prompter, nil)
			} else {
				r = NewResolver(fsys, store, nil, nil)
			}

			got, err := r.Password(server())
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Password() error = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("Password() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Password() = %q, want %q", got, tt.want)
			}
			if tt.prompter != nil && (len(tt.prompter.titles) > 0) != tt.wantPrompt {
				t.Errorf("prompted = %v, want %v", len(tt.prompter.titles) > 0, tt.wantPrompt)
			}
			if tt.wantSaved != "" {
				saved, _ := ks.ServerPassword("10.0.0.1", "admin")
				if saved != tt.wantSaved {
					t.Errorf("saved = %q, want %q", saved, tt.wantSaved)
				}
			}
		})
	}
}

func TestResolver_PromptError(t *testing.T) {
	boom := errors.New("no tty")
	r := NewResolver(fakefs.New(), nil, &stubPrompter{err: boom}, nil)
	if _, err := r.Password(server()); !errors.Is(err, boom) {
		t.Errorf("Password() error = %v, want %v", err, boom)
	}
}

func TestResolver_Passphrase(t *testing.T) {
	ks := mockKeyring(t)
	p := &stubPrompter{answer: "typed"}
	r := NewResolver(fakefs.New(), ks, p, nil)

	got, err := r.Passphrase(server(), "/keys/core")
	if err != nil || got != "typed" {
		t.Fatalf("Passphrase() = %q, %v; want typed, nil", got, err)
	}
	if len(p.titles) != 1 || p.titles[0] != "Passphrase for /keys/core" {
		t.Errorf("prompt titles = %v", p.titles)
	}

	got, err = r.Passphrase(server(), "/keys/core")
	if err != nil || got != "typed" {
		t.Fatalf("second Passphrase() = %q, %v", got, err)
	}
	if len(p.titles) != 1 {
		t.Errorf("second lookup prompted again; titles = %v", p.titles)
	}

	fsys := fakefs.New()
	fsys.SetEnv("CORE_KEY_PASS", "env-pass")
	r = NewResolver(fsys, ks, p, nil)
	if got, _ := r.Passphrase(server(), "/keys/other"); got != "env-pass" {
		t.Errorf("Passphrase() with env = %q, want env-pass", got)
	}
}
