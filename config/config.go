// Package config loads echomemo settings from YAML, the environment and
// command-line overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"echomemo/encoder"
	"echomemo/kv"
	"echomemo/transcriber"
)

const (
	EnvConfig  = "ECHOMEMO_CONFIG"
	EnvDataDir = "ECHOMEMO_DATA_DIR"
)

type Config struct {
	App           AppConfig           `yaml:"app"`
	Storage       StorageConfig       `yaml:"storage"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Audio         AudioConfig         `yaml:"audio"`
}

func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription: %w", err)
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio: %w", err)
	}
	return nil
}

type AppConfig struct {
	LogLevel string `yaml:"log_level"`
	LogPath  string `yaml:"log_path"`
}

func (c *AppConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.LogLevel, validation.In("debug", "info", "warn", "error")),
	)
}

type StorageConfig struct {
	Backend string `yaml:"backend"`
	Dir     string `yaml:"dir"`
}

func (c *StorageConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required, validation.In(kv.BackendSQLite, kv.BackendFile)),
		validation.Field(&c.Dir, validation.Required),
	)
}

// ClipDir is where recorded clips are kept.
func (c *StorageConfig) ClipDir() string {
	return filepath.Join(c.Dir, "clips")
}

type TranscriptionConfig struct {
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	AudioModel string `yaml:"audio_model"`
	APIKey     string `yaml:"api_key"`
	Language   string `yaml:"language"`
	BaseURL    string `yaml:"base_url"`
}

func (c *TranscriptionConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Provider, validation.Required,
			validation.In(transcriber.ProviderGemini, transcriber.ProviderGroq, transcriber.ProviderOpenAI)),
		validation.Field(&c.Language, validation.Length(0, 8)),
	)
}

// Client returns the transcriber configuration.
func (c *TranscriptionConfig) Client() transcriber.Config {
	return transcriber.Config{
		Provider:   c.Provider,
		APIKey:     c.APIKey,
		Model:      c.Model,
		AudioModel: c.AudioModel,
		Language:   c.Language,
		BaseURL:    c.BaseURL,
	}
}

// keyEnv lists the environment variables consulted, in order, when no
// api_key is configured.
var keyEnv = map[string][]string{
	transcriber.ProviderGemini: {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
	transcriber.ProviderGroq:   {"GROQ_API_KEY"},
	transcriber.ProviderOpenAI: {"OPENAI_API_KEY"},
}

// ResolveAPIKey fills APIKey from the provider's environment variables when
// it is empty.
func (c *TranscriptionConfig) ResolveAPIKey() {
	if c.APIKey != "" {
		return
	}
	for _, name := range keyEnv[c.Provider] {
		if v := os.Getenv(name); v != "" {
			c.APIKey = v
			return
		}
	}
}

type AudioConfig struct {
	Device string `yaml:"device"`
	Format string `yaml:"format"`
	Beep   bool   `yaml:"beep"`
}

func (c *AudioConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Format, validation.Required, validation.In(encoder.FormatFLAC, encoder.FormatWAV)),
	)
}

// DefaultDataDir returns ECHOMEMO_DATA_DIR or the per-user config directory.
func DefaultDataDir() string {
	if d := os.Getenv(EnvDataDir); d != "" {
		return d
	}
	if d, err := os.UserConfigDir(); err == nil {
		return filepath.Join(d, "echomemo")
	}
	return ".echomemo"
}

// DefaultPath returns ECHOMEMO_CONFIG or config.yaml inside the data
// directory.
func DefaultPath() string {
	if p := os.Getenv(EnvConfig); p != "" {
		return p
	}
	return filepath.Join(DefaultDataDir(), "config.yaml")
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			LogLevel: "info",
		},
		Storage: StorageConfig{
			Backend: kv.BackendSQLite,
			Dir:     DefaultDataDir(),
		},
		Transcription: TranscriptionConfig{
			Provider: transcriber.ProviderGemini,
			Model:    transcriber.DefaultGeminiModel,
		},
		Audio: AudioConfig{
			Format: encoder.FormatFLAC,
			Beep:   true,
		},
	}
}

// Read loads filename over the defaults. A missing file is not an error.
// API keys fall back to the environment afterwards.
func Read(filename string) (*Config, error) {
	cfg := NewDefaultConfig()
	if err := LoadOptional(filename, cfg); err != nil {
		return nil, err
	}
	if cfg.Transcription.Provider != transcriber.ProviderGemini && cfg.Transcription.Model == transcriber.DefaultGeminiModel {
		cfg.Transcription.Model = ""
	}
	cfg.Transcription.ResolveAPIKey()
	return cfg, nil
}
