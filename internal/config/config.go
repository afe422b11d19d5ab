// Package config loads and validates threadline configuration.
// Configuration source priority (highest to lowest):
// 1. Command-line flags (applied by cmd)
// 2. Environment variables, including a .env file in the working directory
// 3. Config file path specified via --config flag, ./threadline.yaml or
//    ~/.config/threadline/config.yaml
// 4. Built-in defaults
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

//go:embed providers_default.yaml
var defaultProvidersYAML []byte

// ProviderDefaults holds the default base URL and model for a provider.
type ProviderDefaults struct {
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
}

// LoadProviderDefaults parses the embedded defaults.
func LoadProviderDefaults() map[string]ProviderDefaults {
	defs := make(map[string]ProviderDefaults)
	_ = yaml.Unmarshal(defaultProvidersYAML, &defs)
	return defs
}

// ProviderConfig holds configuration for a single provider.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	// ImageInput overrides image support detection. nil = auto-detect.
	ImageInput *bool `yaml:"image_input"`
}

// StorageConfig locates persisted state.
type StorageConfig struct {
	// Dir holds one JSONL log per conversation.
	Dir string `yaml:"dir"`
	// RegistryFile is the session registry. Relative paths are resolved
	// against Dir.
	RegistryFile string `yaml:"registry_file"`
	// Locking: "file" (advisory lock, default) | "mutex" (single process only)
	Locking     string        `yaml:"locking"`
	LockTimeout time.Duration `yaml:"lock_timeout"`
}

// SummaryConfig holds the rolling summary thresholds.
type SummaryConfig struct {
	Enabled           bool   `yaml:"enabled"`
	KeepLast          int    `yaml:"keep_last"`
	UpdateEveryNTurns int    `yaml:"update_every_n_turns"`
	MaxChars          int    `yaml:"max_chars"`
	Model             string `yaml:"model"` // empty = main model
}

// CompletionConfig tunes model calls.
type CompletionConfig struct {
	Store           bool          `yaml:"store"`
	ChainResponses  bool          `yaml:"chain_responses"`
	MaxOutputTokens int           `yaml:"max_output_tokens"`
	Timeout         time.Duration `yaml:"timeout"`
	Retries         int           `yaml:"retries"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// RateLimit is requests per second across the API. 0 disables limiting.
	RateLimit    float64 `yaml:"rate_limit"`
	RateBurst    int     `yaml:"rate_burst"`
	MaxBodyBytes int64   `yaml:"max_body_bytes"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}

// TelegramConfig holds bot settings.
type TelegramConfig struct {
	Token      string `yaml:"token"`
	DailyLimit int    `yaml:"daily_limit"` // 0 = unlimited
	ChunkLimit int    `yaml:"chunk_limit"`
	// Workers caps turns running at once across users.
	Workers    int `yaml:"workers"`
	QueueDepth int `yaml:"queue_depth"`
	// SendRate is outgoing messages per second.
	SendRate float64 `yaml:"send_rate"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `yaml:"level"`
	// Path receives JSON logs at debug level in addition to the console.
	Path string `yaml:"path"`
}

// HousekeepingConfig schedules registry maintenance.
type HousekeepingConfig struct {
	Schedule           string        `yaml:"schedule"`
	StaleInFlight      time.Duration `yaml:"stale_in_flight"`
	UsageRetentionDays int           `yaml:"usage_retention_days"`
}

// Config is the complete configuration structure for threadline.
type Config struct {
	// Provider is the active provider name (e.g. "openai", "anthropic", "deepseek")
	Provider string `yaml:"provider"`

	// Model overrides the provider's default model.
	Model string `yaml:"model"`

	// Providers holds per-provider configuration.
	Providers map[string]*ProviderConfig `yaml:"providers"`

	// SystemPromptPath points at the anchor prompt. Empty uses the built-in prompt.
	SystemPromptPath string `yaml:"system_prompt_path"`

	Storage      StorageConfig      `yaml:"storage"`
	Summary      SummaryConfig      `yaml:"summary"`
	Completion   CompletionConfig   `yaml:"completion"`
	Server       ServerConfig       `yaml:"server"`
	Telegram     TelegramConfig     `yaml:"telegram"`
	Log          LogConfig          `yaml:"log"`
	Housekeeping HousekeepingConfig `yaml:"housekeeping"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Provider:  "openai",
		Providers: make(map[string]*ProviderConfig),
		Storage: StorageConfig{
			Dir:          "conversations",
			RegistryFile: "registry.json",
			Locking:      "file",
			LockTimeout:  5 * time.Second,
		},
		Summary: SummaryConfig{
			Enabled:           true,
			KeepLast:          12,
			UpdateEveryNTurns: 6,
			MaxChars:          4000,
		},
		Completion: CompletionConfig{
			Store:   true,
			Timeout: 3 * time.Minute,
			Retries: 3,
		},
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         8000,
			RateBurst:    10,
			MaxBodyBytes: 1 << 20,
		},
		Telegram: TelegramConfig{
			DailyLimit: 50,
			ChunkLimit: 4096,
			Workers:    8,
			QueueDepth: 4,
			SendRate:   20,
		},
		Log: LogConfig{
			Level: "info",
			Path:  "logs/app.log",
		},
		Housekeeping: HousekeepingConfig{
			Schedule:           "0 */10 * * * *",
			StaleInFlight:      15 * time.Minute,
			UsageRetentionDays: 30,
		},
	}
}

// Load reads the config file and merges environment variable overrides.
// An explicit path that does not exist is an error; the implicit locations
// are optional.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// .env never overrides variables already set in the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	explicit := configPath != ""
	if !explicit {
		configPath = findConfigFile()
	}
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
			}
		case explicit || !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	if cfg.Providers == nil {
		cfg.Providers = make(map[string]*ProviderConfig)
	}
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	candidates := []string{"threadline.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "threadline", "config.yaml"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// GetProviderConfig returns the config for the named provider, or an empty config if not found.
func (c *Config) GetProviderConfig(name string) *ProviderConfig {
	if pc, ok := c.Providers[name]; ok && pc != nil {
		return pc
	}
	return &ProviderConfig{}
}

// RegistryPath resolves the registry file location.
func (c *Config) RegistryPath() string {
	if filepath.IsAbs(c.Storage.RegistryFile) {
		return c.Storage.RegistryFile
	}
	return filepath.Join(c.Storage.Dir, c.Storage.RegistryFile)
}

// Validate rejects settings the runtime cannot work with.
func (c *Config) Validate() error {
	var errs []error
	if c.Summary.KeepLast < 1 {
		errs = append(errs, fmt.Errorf("summary.keep_last must be >= 1, got %d", c.Summary.KeepLast))
	}
	if c.Summary.UpdateEveryNTurns < 1 {
		errs = append(errs, fmt.Errorf("summary.update_every_n_turns must be >= 1, got %d", c.Summary.UpdateEveryNTurns))
	}
	if c.Summary.MaxChars < 1 {
		errs = append(errs, fmt.Errorf("summary.max_chars must be >= 1, got %d", c.Summary.MaxChars))
	}
	switch c.Storage.Locking {
	case "file", "mutex":
	default:
		errs = append(errs, fmt.Errorf("storage.locking must be \"file\" or \"mutex\", got %q", c.Storage.Locking))
	}
	if c.Storage.Dir == "" {
		errs = append(errs, errors.New("storage.dir must not be empty"))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Telegram.ChunkLimit < 0 || c.Telegram.DailyLimit < 0 {
		errs = append(errs, errors.New("telegram limits must not be negative"))
	}
	return errors.Join(errs...)
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("THREADLINE_PROVIDER"); v != "" {
		cfg.Provider = v
	}

	providerCfg := func(name string) *ProviderConfig {
		if cfg.Providers[name] == nil {
			cfg.Providers[name] = &ProviderConfig{}
		}
		return cfg.Providers[name]
	}

	// Vendor-specific keys
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		providerCfg("openai").APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		providerCfg("anthropic").APIKey = v
	}

	// Generic overrides for the active provider
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		providerCfg(cfg.Provider).APIKey = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		providerCfg(cfg.Provider).BaseURL = v
	}
	if v := firstEnv("THREADLINE_MODEL", "LLM_MODEL"); v != "" {
		cfg.Model = v
	}

	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("THREADLINE_STORAGE_DIR"); v != "" {
		cfg.Storage.Dir = v
	}
	if v := os.Getenv("THREADLINE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("THREADLINE_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("THREADLINE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
