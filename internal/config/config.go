package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort           = 8000
	defaultStoragePath    = "data/conversations.json"
	defaultRequestTimeout = 120 * time.Second
	defaultStreamTimeout  = 30 * time.Second
	defaultMaxTokens      = 1024
)

// Config represents the server configuration parsed from YAML.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Timeouts  TimeoutsConfig  `yaml:"timeouts"`
	Providers ProvidersConfig `yaml:"providers"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	// Debug exposes configuration failure details to callers.
	Debug bool `yaml:"debug"`
}

// StorageConfig locates the conversation file.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// TimeoutsConfig bounds vendor calls.
type TimeoutsConfig struct {
	Request time.Duration `yaml:"request"`
	Stream  time.Duration `yaml:"stream"`
}

// ProvidersConfig holds per-vendor transport settings. Credentials and model
// lists always come from the environment.
type ProvidersConfig struct {
	OpenAI    ProviderConfig `yaml:"openai"`
	Anthropic ProviderConfig `yaml:"anthropic"`
	Ollama    ProviderConfig `yaml:"ollama"`
	NVIDIA    ProviderConfig `yaml:"nvidia"`
}

// ProviderConfig captures routing info for a provider.
type ProviderConfig struct {
	BaseURL   string  `yaml:"base_url"`
	Headers   Headers `yaml:"headers"`
	MaxTokens int     `yaml:"max_tokens"`
}

// Headers contains additional HTTP headers to send with a provider request.
type Headers map[string]string

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:        defaultPort,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Storage: StorageConfig{Path: defaultStoragePath},
		Timeouts: TimeoutsConfig{
			Request: defaultRequestTimeout,
			Stream:  defaultStreamTimeout,
		},
		Providers: ProvidersConfig{
			Anthropic: ProviderConfig{MaxTokens: defaultMaxTokens},
		},
	}
}

// Load reads YAML configuration from disk over the defaults and validates
// the result. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, cfg.Validate()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage.path must not be empty")
	}
	if c.Timeouts.Request <= 0 {
		return fmt.Errorf("timeouts.request must be positive, got %s", c.Timeouts.Request)
	}
	if c.Timeouts.Stream <= 0 {
		return fmt.Errorf("timeouts.stream must be positive, got %s", c.Timeouts.Stream)
	}

	providers := map[string]ProviderConfig{
		"openai":    c.Providers.OpenAI,
		"anthropic": c.Providers.Anthropic,
		"ollama":    c.Providers.Ollama,
		"nvidia":    c.Providers.NVIDIA,
	}
	for name, provider := range providers {
		if err := validateProvider(name, provider); err != nil {
			return err
		}
	}
	return nil
}

func validateProvider(name string, provider ProviderConfig) error {
	if base := strings.TrimSpace(provider.BaseURL); base != "" &&
		!strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		return fmt.Errorf("provider %s: base_url %q must start with http:// or https://", name, base)
	}
	if provider.MaxTokens < 0 {
		return fmt.Errorf("provider %s: max_tokens must not be negative", name)
	}

	for headerKey := range provider.Headers {
		if !isCanonicalHTTPHeader(headerKey) {
			return fmt.Errorf("provider %s: header %q is not a valid canonical HTTP header", name, headerKey)
		}
	}
	return nil
}

func isCanonicalHTTPHeader(header string) bool {
	if header == "" {
		return false
	}

	for _, r := range header {
		if !(r == '-' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')) {
			return false
		}
	}
	return true
}
