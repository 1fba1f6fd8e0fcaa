// Package config handles application configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	appName        = "voxtype"
	configFileName = "config.json"
)

// Credential types.
const (
	CredentialAssemblyAI = "assemblyai"
	CredentialOpenAI     = "openai"
	CredentialPicovoice  = "picovoice"
)

// envKeys lists the environment variables consulted, in order, when a
// credential of that type is not configured.
var envKeys = map[string][]string{
	CredentialAssemblyAI: {"VOXTYPE_API_KEY", "ASSEMBLYAI_API_KEY"},
	CredentialOpenAI:     {"VOXTYPE_API_KEY", "OPENAI_API_KEY"},
	CredentialPicovoice:  {"PICOVOICE_ACCESS_KEY"},
}

// ErrNoCredential is returned when no key is configured or in the environment.
var ErrNoCredential = errors.New("no credential configured")

// Credential is a stored API key.
type Credential struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type"` // "assemblyai", "openai", "picovoice"
	APIKey string `json:"api_key"`
}

// Config represents the application configuration.
type Config struct {
	// Legacy fields (deprecated, kept for migration)
	APIKey   string `json:"api_key,omitempty"`
	Provider string `json:"provider,omitempty"`

	LogLevel    string       `json:"log_level,omitempty"`
	Credentials []Credential `json:"credentials,omitempty"`

	Audio         AudioConfig         `json:"audio"`
	Activation    ActivationConfig    `json:"activation"`
	Transcription TranscriptionConfig `json:"transcription"`
	Delivery      DeliveryConfig      `json:"delivery"`
	History       HistoryConfig       `json:"history"`
	Notifications NotificationConfig  `json:"notifications"`

	path string
}

// AudioConfig selects the capture device.
type AudioConfig struct {
	Backend        string        `json:"backend"` // "malgo" or "portaudio"
	DeviceID       string        `json:"device_id,omitempty"`
	LatencyMS      int           `json:"latency_ms"`
	StallTimeoutMS int           `json:"stall_timeout_ms"`
	DebugAudioDir  string        `json:"debug_audio_dir,omitempty"`
	Silence        SilenceConfig `json:"silence"`
}

// SilenceConfig ends a session when the speaker stops talking.
type SilenceConfig struct {
	Threshold   float32 `json:"threshold"`
	TrailingMS  int     `json:"trailing_ms"`
	InitialMS   int     `json:"initial_ms"`
	MinSpeechMS int     `json:"min_speech_ms"`
}

// ActivationConfig holds the hotkey and wake word settings.
type ActivationConfig struct {
	Hotkey       string `json:"hotkey"`
	HotkeySource string `json:"hotkey_source"` // "hook" or "register"
	CooldownMS   int    `json:"cooldown_ms"`

	WakeWords    []WakeWord `json:"wake_words,omitempty"`
	RefractoryMS int        `json:"refractory_ms"`
	ModelPath    string     `json:"model_path,omitempty"`
	CredentialID string     `json:"credential_id,omitempty"` // Picovoice access key
}

// WakeWord is one keyword with its sensitivity in [0, 1].
type WakeWord struct {
	Keyword     string  `json:"keyword"`
	Sensitivity float32 `json:"sensitivity"`
	Path        string  `json:"path,omitempty"`
}

// TranscriptionConfig selects and tunes the streaming service.
type TranscriptionConfig struct {
	Transport    string   `json:"transport"` // "assemblyai" or "openai"
	CredentialID string   `json:"credential_id,omitempty"`
	URL          string   `json:"url,omitempty"`
	Model        string   `json:"model,omitempty"`
	Language     string   `json:"language,omitempty"`
	Keyterms     []string `json:"keyterms,omitempty"`

	MaxReconnects     int `json:"max_reconnects"`
	BackoffBaseMS     int `json:"backoff_base_ms"`
	BackoffMaxMS      int `json:"backoff_max_ms"`
	BufferFrames      int `json:"buffer_frames"`
	ConnectTimeoutMS  int `json:"connect_timeout_ms"`
	FinalizeTimeoutMS int `json:"finalize_timeout_ms"`
}

// DeliveryConfig controls how text reaches the focused application.
type DeliveryConfig struct {
	Strategies        []string            `json:"strategies"`
	SettleDelayMS     int                 `json:"settle_delay_ms"`
	StrategyTimeoutMS int                 `json:"strategy_timeout_ms"`
	TypeChunk         int                 `json:"type_chunk"`
	QueueSize         int                 `json:"queue_size"`
	Overrides         map[string]Override `json:"overrides,omitempty"` // keyed by process name
}

// Override customizes delivery for one application.
type Override struct {
	Transforms []string `json:"transforms,omitempty"` // "upper", "lower", "comment:<marker>"
	Strategies []string `json:"strategies,omitempty"`
}

// HistoryConfig controls the local transcript log.
type HistoryConfig struct {
	Enabled       bool   `json:"enabled"`
	Dir           string `json:"dir,omitempty"`
	RetentionDays int    `json:"retention_days"`
}

// NotificationConfig controls user-facing feedback.
type NotificationConfig struct {
	Desktop        bool   `json:"desktop"`
	Cue            bool   `json:"cue"`
	ErrorTimeoutMS int    `json:"error_timeout_ms"`
	SentryDSN      string `json:"sentry_dsn,omitempty"`
}

// Load loads configuration from the default path.
// Returns default config if the file doesn't exist.
func Load() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, fmt.Errorf("get config path: %w", err)
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path. Missing fields take defaults.
func LoadFile(path string) (*Config, error) {
	cfg := defaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.migrateToNewFormat() {
		if err := cfg.Save(); err != nil {
			return nil, fmt.Errorf("save migrated config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string {
	return c.path
}

// Save persists the configuration to disk.
func (c *Config) Save() error {
	path := c.path
	if path == "" {
		p, err := configPath()
		if err != nil {
			return fmt.Errorf("get config path: %w", err)
		}
		path = p
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	// Keys live in this file.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	c.path = path
	return nil
}

// Validate checks values that would otherwise fail deep inside a component.
func (c *Config) Validate() error {
	var errs []error
	switch c.Audio.Backend {
	case "malgo", "portaudio":
	default:
		errs = append(errs, fmt.Errorf("audio.backend: unknown backend %q", c.Audio.Backend))
	}
	switch c.Activation.HotkeySource {
	case "hook", "register":
	default:
		errs = append(errs, fmt.Errorf("activation.hotkey_source: unknown source %q", c.Activation.HotkeySource))
	}
	if c.Activation.Hotkey == "" && len(c.Activation.WakeWords) == 0 {
		errs = append(errs, errors.New("activation: need a hotkey or at least one wake word"))
	}
	for _, w := range c.Activation.WakeWords {
		if w.Keyword == "" {
			errs = append(errs, errors.New("activation.wake_words: keyword required"))
		}
		if w.Sensitivity < 0 || w.Sensitivity > 1 {
			errs = append(errs, fmt.Errorf("activation.wake_words: %s: sensitivity %v outside [0,1]", w.Keyword, w.Sensitivity))
		}
	}
	switch c.Transcription.Transport {
	case CredentialAssemblyAI, CredentialOpenAI:
	default:
		errs = append(errs, fmt.Errorf("transcription.transport: unknown transport %q", c.Transcription.Transport))
	}
	if id := c.Transcription.CredentialID; id != "" && c.GetCredential(id) == nil {
		errs = append(errs, fmt.Errorf("transcription.credential_id: credential not found: %s", id))
	}
	if id := c.Activation.CredentialID; id != "" && c.GetCredential(id) == nil {
		errs = append(errs, fmt.Errorf("activation.credential_id: credential not found: %s", id))
	}
	for _, s := range c.Delivery.Strategies {
		if !validStrategy(s) {
			errs = append(errs, fmt.Errorf("delivery.strategies: unknown strategy %q", s))
		}
	}
	for app, o := range c.Delivery.Overrides {
		for _, s := range o.Strategies {
			if !validStrategy(s) {
				errs = append(errs, fmt.Errorf("delivery.overrides[%s]: unknown strategy %q", app, s))
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func validStrategy(s string) bool {
	return s == "paste" || s == "type" || s == "accessibility"
}

func configPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get user config dir: %w", err)
	}
	return filepath.Join(dir, appName, configFileName), nil
}

// DataDir returns the directory for local state such as history.
func DataDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get user config dir: %w", err)
	}
	return filepath.Join(dir, appName), nil
}

func defaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Audio: AudioConfig{
			Backend:        "malgo",
			LatencyMS:      50,
			StallTimeoutMS: 2000,
			Silence: SilenceConfig{
				Threshold:   0.015,
				TrailingMS:  2000,
				InitialMS:   6000,
				MinSpeechMS: 300,
			},
		},
		Activation: ActivationConfig{
			Hotkey:       "ctrl+shift+space",
			HotkeySource: "hook",
			CooldownMS:   750,
			RefractoryMS: 1000,
		},
		Transcription: TranscriptionConfig{
			Transport:         CredentialAssemblyAI,
			MaxReconnects:     3,
			BackoffBaseMS:     250,
			BackoffMaxMS:      4000,
			BufferFrames:      256,
			ConnectTimeoutMS:  10000,
			FinalizeTimeoutMS: 3000,
		},
		Delivery: DeliveryConfig{
			Strategies:        []string{"paste", "type", "accessibility"},
			SettleDelayMS:     250,
			StrategyTimeoutMS: 2000,
			TypeChunk:         16,
			QueueSize:         16,
		},
		History: HistoryConfig{
			Enabled:       true,
			RetentionDays: 30,
		},
		Notifications: NotificationConfig{
			Desktop:        true,
			Cue:            true,
			ErrorTimeoutMS: 10000,
		},
	}
}

// Millis converts a config millisecond value to a duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// ─────────────────────────────────────────────────────────────────────────────
// Migration from Legacy Format
// ─────────────────────────────────────────────────────────────────────────────

// migrateToNewFormat moves the legacy top-level api_key/provider pair into a
// credential referenced by the transcription settings. It reports whether
// anything changed.
func (c *Config) migrateToNewFormat() bool {
	if c.APIKey == "" && c.Provider == "" {
		return false
	}

	typ := strings.ToLower(c.Provider)
	if typ == "" {
		typ = CredentialAssemblyAI
	}
	if c.APIKey != "" {
		cred := Credential{
			ID:     uuid.New().String(),
			Name:   typ + " (migrated)",
			Type:   typ,
			APIKey: c.APIKey,
		}
		c.Credentials = append(c.Credentials, cred)
		if c.Transcription.CredentialID == "" {
			c.Transcription.CredentialID = cred.ID
		}
	}
	c.Transcription.Transport = typ
	c.APIKey, c.Provider = "", ""
	return true
}

// ─────────────────────────────────────────────────────────────────────────────
// API Credential Management
// ─────────────────────────────────────────────────────────────────────────────

// GetCredential returns a credential by ID.
func (c *Config) GetCredential(id string) *Credential {
	for i := range c.Credentials {
		if c.Credentials[i].ID == id {
			return &c.Credentials[i]
		}
	}
	return nil
}

// AddCredential adds a new API credential and returns its ID.
func (c *Config) AddCredential(cred Credential) (string, error) {
	if cred.Name == "" {
		return "", fmt.Errorf("credential name required")
	}
	if cred.APIKey == "" {
		return "", fmt.Errorf("api key required")
	}
	if _, ok := envKeys[cred.Type]; !ok {
		return "", fmt.Errorf("unknown credential type %q", cred.Type)
	}

	if cred.ID == "" {
		cred.ID = uuid.New().String()
	}

	c.Credentials = append(c.Credentials, cred)
	return cred.ID, c.Save()
}

// RemoveCredential removes a credential by ID.
// Returns error if the credential is in use.
func (c *Config) RemoveCredential(id string) error {
	if c.Transcription.CredentialID == id {
		return fmt.Errorf("credential in use by transcription")
	}
	if c.Activation.CredentialID == id {
		return fmt.Errorf("credential in use by wake word")
	}

	idx := slices.IndexFunc(c.Credentials, func(x Credential) bool {
		return x.ID == id
	})
	if idx == -1 {
		return fmt.Errorf("credential not found: %s", id)
	}

	c.Credentials = slices.Delete(c.Credentials, idx, idx+1)
	return c.Save()
}

// ResolveKey returns the key for credential id, falling back to the first
// credential of typ and then to the environment.
func (c *Config) ResolveKey(id, typ string) (string, error) {
	if id != "" {
		cred := c.GetCredential(id)
		if cred == nil {
			return "", fmt.Errorf("credential not found: %s", id)
		}
		return cred.APIKey, nil
	}
	for _, cred := range c.Credentials {
		if cred.Type == typ {
			return cred.APIKey, nil
		}
	}
	for _, k := range envKeys[typ] {
		if v := getenv(k, ""); v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w for %s", ErrNoCredential, typ)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
