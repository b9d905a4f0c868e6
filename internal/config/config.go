// Package config loads go-voicecall configuration from an optional YAML
// file with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	DefaultPort          = 8099
	DefaultAddress       = "0.0.0.0"
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultModel         = "gpt-realtime"
	DefaultVoice         = "marin"
	DefaultInstructions  = "You are a helpful voice assistant."
	DefaultTemperature   = 0.7
	DefaultTranscriber   = "gpt-4o-mini-transcribe"
	DefaultLanguage      = "en"
	DefaultSignaling     = "mediated"
	DefaultSTUN          = "stun:stun.l.google.com:19302"
)

// Config is the complete configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	OpenAI  OpenAIConfig  `yaml:"openai"`
	Call    CallConfig    `yaml:"call"`
	Wake    WakeConfig    `yaml:"wake"`
	Audio   AudioConfig   `yaml:"audio"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig is the add-on HTTP server.
type ServerConfig struct {
	Address     string `yaml:"address"`
	Port        int    `yaml:"port"`
	CORSOrigins string `yaml:"cors_origins"`
}

// OpenAIConfig holds upstream credentials and session defaults.
type OpenAIConfig struct {
	APIKey       string  `yaml:"api_key"`
	BaseURL      string  `yaml:"base_url"`
	Model        string  `yaml:"model"`
	Voice        string  `yaml:"voice"`
	Instructions string  `yaml:"instructions"`
	Temperature  float64 `yaml:"temperature"`
}

// CallConfig selects the signaling strategy and WebRTC settings.
type CallConfig struct {
	// Signaling is "direct" or "mediated".
	Signaling string `yaml:"signaling"`

	// CredentialURL and SessionURL default to this process's own server.
	CredentialURL string `yaml:"credential_url"`
	SessionURL    string `yaml:"session_url"`

	ICEServers    []string      `yaml:"ice_servers"`
	GatherTimeout time.Duration `yaml:"gather_timeout"`
}

// WakeConfig controls the wake word detector.
type WakeConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Phrase       string        `yaml:"phrase"`
	Model        string        `yaml:"model"`
	Language     string        `yaml:"language"`
	RestartDelay time.Duration `yaml:"restart_delay"`
}

// AudioConfig selects audio devices.
type AudioConfig struct {
	Backend      string `yaml:"backend"`
	InputDevice  string `yaml:"input_device"`
	OutputDevice string `yaml:"output_device"`
}

// LoggingConfig controls the logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:     DefaultAddress,
			Port:        DefaultPort,
			CORSOrigins: "*",
		},
		OpenAI: OpenAIConfig{
			BaseURL:      DefaultOpenAIBaseURL,
			Model:        DefaultModel,
			Voice:        DefaultVoice,
			Instructions: DefaultInstructions,
			Temperature:  DefaultTemperature,
		},
		Call: CallConfig{
			Signaling:     DefaultSignaling,
			ICEServers:    []string{DefaultSTUN},
			GatherTimeout: 5 * time.Second,
		},
		Wake: WakeConfig{
			Model:    DefaultTranscriber,
			Language: DefaultLanguage,
		},
		Audio: AudioConfig{
			Backend: "auto",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables looked up with
// lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("OPENAI_API_KEY", &c.OpenAI.APIKey)
	str("OPENAI_BASE_URL", &c.OpenAI.BaseURL)
	str("OPENAI_MODEL", &c.OpenAI.Model)
	str("OPENAI_VOICE", &c.OpenAI.Voice)
	str("OPENAI_INSTRUCTIONS", &c.OpenAI.Instructions)
	str("VOICECALL_SIGNALING", &c.Call.Signaling)
	str("VOICECALL_AUDIO_BACKEND", &c.Audio.Backend)
	str("LOG_LEVEL", &c.Logging.Level)

	if v, ok := lookup("OPENAI_TEMPERATURE"); ok && v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("OPENAI_TEMPERATURE: %w", err)
		}
		c.OpenAI.Temperature = t
	}
	if v, ok := lookup("VOICECALL_WAKE_PHRASE"); ok && strings.TrimSpace(v) != "" {
		c.Wake.Phrase = strings.TrimSpace(v)
		c.Wake.Enabled = true
	}
	if v, ok := lookup("PORT"); ok && v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Server.Port = p
	}
	return nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.OpenAI.BaseURL == "" {
		errs = append(errs, errors.New("openai base_url cannot be empty"))
	}
	if c.OpenAI.Temperature < 0 || c.OpenAI.Temperature > 2 {
		errs = append(errs, fmt.Errorf("openai temperature must be between 0 and 2, got %v", c.OpenAI.Temperature))
	}
	switch strings.ToLower(c.Call.Signaling) {
	case "direct", "mediated":
	default:
		errs = append(errs, fmt.Errorf("call signaling must be direct or mediated, got %q", c.Call.Signaling))
	}
	if c.Call.GatherTimeout <= 0 {
		errs = append(errs, fmt.Errorf("call gather_timeout must be positive, got %v", c.Call.GatherTimeout))
	}
	if c.Wake.Enabled && strings.TrimSpace(c.Wake.Phrase) == "" {
		errs = append(errs, errors.New("wake phrase is required when wake is enabled"))
	}
	if c.Wake.RestartDelay < 0 {
		errs = append(errs, fmt.Errorf("wake restart_delay cannot be negative, got %v", c.Wake.RestartDelay))
	}
	return errors.Join(errs...)
}

// ListenAddr returns the server address in host:port form.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}

// LocalURL returns a URL on this process's own server.
func (c *Config) LocalURL(path string) string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", c.Server.Port, path)
}

// CredentialURL returns the configured credential endpoint or the local one.
func (c *Config) CredentialURL() string {
	if c.Call.CredentialURL != "" {
		return c.Call.CredentialURL
	}
	return c.LocalURL("/api/client_secret")
}

// SessionURL returns the configured relay endpoint or the local one.
func (c *Config) SessionURL() string {
	if c.Call.SessionURL != "" {
		return c.Call.SessionURL
	}
	return c.LocalURL("/api/session")
}
