package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Activation.Hotkey != "ctrl+shift+space" {
		t.Errorf("hotkey = %q", cfg.Activation.Hotkey)
	}
	if cfg.Transcription.Transport != CredentialAssemblyAI {
		t.Errorf("transport = %q", cfg.Transcription.Transport)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	cfg.Activation.WakeWords = []WakeWord{{Keyword: "jarvis", Sensitivity: 0.6}}
	cfg.Delivery.Overrides = map[string]Override{
		"code": {Transforms: []string{"comment:// "}, Strategies: []string{"type"}},
	}
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("config mode = %v, want 0600", perm)
	}

	got, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(got.Activation.WakeWords) != 1 || got.Activation.WakeWords[0].Keyword != "jarvis" {
		t.Errorf("wake words = %+v", got.Activation.WakeWords)
	}
	if o := got.Delivery.Overrides["code"]; len(o.Strategies) != 1 || o.Strategies[0] != "type" {
		t.Errorf("override = %+v", o)
	}
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"activation":{"hotkey":"alt+space","hotkey_source":"register"}}`), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Activation.Hotkey != "alt+space" || cfg.Activation.HotkeySource != "register" {
		t.Errorf("activation = %+v", cfg.Activation)
	}
	if cfg.Audio.Backend != "malgo" || cfg.Transcription.MaxReconnects != 3 {
		t.Errorf("defaults lost: audio=%+v transcription=%+v", cfg.Audio, cfg.Transcription)
	}
}

func TestMigration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	legacyData := map[string]any{
		"api_key":  "sk-test-key",
		"provider": "OpenAI",
	}
	data, _ := json.Marshal(legacyData)
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.APIKey != "" || cfg.Provider != "" {
		t.Errorf("legacy fields not cleared: %q %q", cfg.APIKey, cfg.Provider)
	}
	if len(cfg.Credentials) != 1 {
		t.Fatalf("expected 1 credential, got %d", len(cfg.Credentials))
	}
	cred := cfg.Credentials[0]
	if cred.APIKey != "sk-test-key" || cred.Type != CredentialOpenAI || cred.ID == "" {
		t.Errorf("credential = %+v", cred)
	}
	if cfg.Transcription.CredentialID != cred.ID || cfg.Transcription.Transport != CredentialOpenAI {
		t.Errorf("transcription not linked to credential: %+v", cfg.Transcription)
	}

	// The migrated form is written back.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), `"provider"`) {
		t.Error("legacy fields still on disk")
	}
	again, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(again.Credentials) != 1 {
		t.Errorf("migration ran twice: %d credentials", len(again.Credentials))
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "bad backend", mutate: func(c *Config) { c.Audio.Backend = "alsa" }, wantErr: "audio.backend"},
		{name: "bad hotkey source", mutate: func(c *Config) { c.Activation.HotkeySource = "poll" }, wantErr: "hotkey_source"},
		{name: "no trigger", mutate: func(c *Config) { c.Activation.Hotkey = "" }, wantErr: "need a hotkey"},
		{
			name:    "sensitivity out of range",
			mutate:  func(c *Config) { c.Activation.WakeWords = []WakeWord{{Keyword: "jarvis", Sensitivity: 1.5}} },
			wantErr: "outside [0,1]",
		},
		{name: "bad transport", mutate: func(c *Config) { c.Transcription.Transport = "whisper" }, wantErr: "transcription.transport"},
		{name: "dangling credential", mutate: func(c *Config) { c.Transcription.CredentialID = "nope" }, wantErr: "credential not found"},
		{name: "bad strategy", mutate: func(c *Config) { c.Delivery.Strategies = []string{"paste", "telepathy"} }, wantErr: "telepathy"},
		{
			name:    "bad override strategy",
			mutate:  func(c *Config) { c.Delivery.Overrides = map[string]Override{"vim": {Strategies: []string{"fax"}}} },
			wantErr: "overrides[vim]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestResolveKey(t *testing.T) {
	t.Setenv("VOXTYPE_API_KEY", "")
	t.Setenv("ASSEMBLYAI_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	cfg := defaultConfig()
	cfg.path = filepath.Join(t.TempDir(), "config.json")
	id, err := cfg.AddCredential(Credential{Name: "work", Type: CredentialOpenAI, APIKey: "sk-work"})
	if err != nil {
		t.Fatal(err)
	}

	if got, err := cfg.ResolveKey(id, CredentialOpenAI); err != nil || got != "sk-work" {
		t.Errorf("ResolveKey(id) = %q, %v", got, err)
	}
	if got, err := cfg.ResolveKey("", CredentialOpenAI); err != nil || got != "sk-work" {
		t.Errorf("ResolveKey(type) = %q, %v", got, err)
	}
	if _, err := cfg.ResolveKey("", CredentialAssemblyAI); !errors.Is(err, ErrNoCredential) {
		t.Errorf("ResolveKey without key = %v, want ErrNoCredential", err)
	}

	t.Setenv("ASSEMBLYAI_API_KEY", "aai-env")
	if got, err := cfg.ResolveKey("", CredentialAssemblyAI); err != nil || got != "aai-env" {
		t.Errorf("ResolveKey(env) = %q, %v", got, err)
	}

	cfg.Transcription.CredentialID = id
	if err := cfg.RemoveCredential(id); err == nil {
		t.Error("removed a credential in use")
	}
	cfg.Transcription.CredentialID = ""
	if err := cfg.RemoveCredential(id); err != nil {
		t.Errorf("RemoveCredential: %v", err)
	}
}

func TestAddCredentialValidates(t *testing.T) {
	cfg := defaultConfig()
	cfg.path = filepath.Join(t.TempDir(), "config.json")
	tests := []Credential{
		{Type: CredentialOpenAI, APIKey: "k"},
		{Name: "n", Type: CredentialOpenAI},
		{Name: "n", Type: "azure", APIKey: "k"},
	}
	for _, c := range tests {
		if _, err := cfg.AddCredential(c); err == nil {
			t.Errorf("AddCredential(%+v) succeeded", c)
		}
	}
}
