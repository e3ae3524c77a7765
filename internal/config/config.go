// Package config loads and validates lensclip configuration.
package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/menta2k/lensclip/internal/errors"
	"github.com/menta2k/lensclip/internal/logging"
	"github.com/menta2k/lensclip/pkg/types"
)

//go:embed categories.yaml
var categoriesYAML []byte

// EnvPrefix prefixes environment overrides, e.g. LENSCLIP_IDENTIFICATION_API_KEY
const EnvPrefix = "LENSCLIP"

// Identification backends
const (
	BackendGemini = "gemini"
	BackendOllama = "ollama"
	BackendOpenAI = "openai"
	BackendMock   = "mock"
)

// Config holds the application configuration
type Config struct {
	Storage        StorageConfig        `mapstructure:"storage" yaml:"storage"`
	Database       DatabaseConfig       `mapstructure:"database" yaml:"database"`
	Vision         VisionConfig         `mapstructure:"vision" yaml:"vision"`
	Identification IdentificationConfig `mapstructure:"identification" yaml:"identification"`
	Narration      NarrationConfig      `mapstructure:"narration" yaml:"narration"`
	Retry          RetryConfig          `mapstructure:"retry" yaml:"retry"`
	Worker         WorkerConfig         `mapstructure:"worker" yaml:"worker"`
	MQTT           MQTTConfig           `mapstructure:"mqtt" yaml:"mqtt"`
	Logging        logging.Config       `mapstructure:"logging" yaml:"logging"`
	Metrics        MetricsConfig        `mapstructure:"metrics" yaml:"metrics"`
	Settings       SettingsConfig       `mapstructure:"settings" yaml:"settings"`
	Categories     []types.Category     `mapstructure:"categories" yaml:"categories,omitempty"`
}

// StorageConfig holds the blob store location
type StorageConfig struct {
	Root string `mapstructure:"root" yaml:"root"`
}

// DatabaseConfig holds the sqlite database location
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// VisionConfig holds Cloud Vision credentials. Without credentials the
// pipeline runs without localization.
type VisionConfig struct {
	APIKey          string `mapstructure:"api_key" yaml:"api_key"`
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint"`
	MaxResults      int    `mapstructure:"max_results" yaml:"max_results"`
}

// IdentificationConfig selects and configures the identification backend
type IdentificationConfig struct {
	Backend  string `mapstructure:"backend" yaml:"backend"`
	APIKey   string `mapstructure:"api_key" yaml:"api_key"`
	Model    string `mapstructure:"model" yaml:"model"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	// RatePerSecond limits outbound calls; zero disables the limit
	RatePerSecond float64 `mapstructure:"rate_per_second" yaml:"rate_per_second"`
	Burst         int     `mapstructure:"burst" yaml:"burst"`
}

// NarrationConfig configures text-to-speech and the audio cache
type NarrationConfig struct {
	APIKey          string        `mapstructure:"api_key" yaml:"api_key"`
	CredentialsFile string        `mapstructure:"credentials_file" yaml:"credentials_file"`
	Endpoint        string        `mapstructure:"endpoint" yaml:"endpoint"`
	Language        string        `mapstructure:"language" yaml:"language"`
	Voice           string        `mapstructure:"voice" yaml:"voice"`
	Rate            float64       `mapstructure:"rate" yaml:"rate"`
	TTL             time.Duration `mapstructure:"ttl" yaml:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
}

// RetryConfig is the policy for calls to remote services
type RetryConfig struct {
	Attempts    int           `mapstructure:"attempts" yaml:"attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	CallTimeout time.Duration `mapstructure:"call_timeout" yaml:"call_timeout"`
}

// WorkerConfig tunes the analysis job queue
type WorkerConfig struct {
	Workers     int           `mapstructure:"workers" yaml:"workers"`
	Capacity    int           `mapstructure:"capacity" yaml:"capacity"`
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	RetryDelay  time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	JobTimeout  time.Duration `mapstructure:"job_timeout" yaml:"job_timeout"`
}

// MQTTConfig configures event publishing
type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Broker   string `mapstructure:"broker" yaml:"broker"`
	ClientID string `mapstructure:"client_id" yaml:"client_id"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	Topic    string `mapstructure:"topic" yaml:"topic"`
	QoS      int    `mapstructure:"qos" yaml:"qos"`
	Retain   bool   `mapstructure:"retain" yaml:"retain"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
}

// SettingsConfig configures the runtime settings cache
type SettingsConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
}

// DefaultCategories returns the embedded category allow-list
func DefaultCategories() []types.Category {
	var cats []types.Category
	if err := yaml.Unmarshal(categoriesYAML, &cats); err != nil {
		panic(fmt.Sprintf("config: embedded categories.yaml is invalid: %v", err))
	}
	return cats
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Storage:  StorageConfig{Root: "./data/blobs"},
		Database: DatabaseConfig{Path: "./data/lensclip.db"},
		Vision:   VisionConfig{MaxResults: 10},
		Identification: IdentificationConfig{
			Backend: BackendGemini,
			Model:   "gemini-2.0-flash",
			Burst:   1,
		},
		Narration: NarrationConfig{
			Language:        "en-US",
			Voice:           "en-US-Neural2-J",
			Rate:            0.9,
			TTL:             7 * 24 * time.Hour,
			CleanupInterval: 6 * time.Hour,
		},
		Retry: RetryConfig{
			Attempts:    3,
			BaseDelay:   100 * time.Millisecond,
			CallTimeout: 30 * time.Second,
		},
		Worker: WorkerConfig{
			Workers:     2,
			Capacity:    256,
			MaxAttempts: 3,
			RetryDelay:  10 * time.Second,
			JobTimeout:  5 * time.Minute,
		},
		MQTT: MQTTConfig{
			ClientID: "lensclip",
			Topic:    "lensclip/observations",
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "text",
		},
		Metrics:    MetricsConfig{Listen: ":9464"},
		Settings:   SettingsConfig{CacheTTL: 60 * time.Second},
		Categories: DefaultCategories(),
	}
}

// Load reads the configuration. Defaults are overlaid with the YAML file at
// path (when non-empty or found at the default location) and then with
// LENSCLIP_* environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// Seed every key so environment overrides apply to all of them
	base, err := yaml.Marshal(Default())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal defaults: %w", err)
	}
	if err := v.ReadConfig(bytes.NewReader(base)); err != nil {
		return nil, fmt.Errorf("failed to read defaults: %w", err)
	}

	if path == "" {
		if p := GetConfigPath(); fileExists(p) {
			path = p
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, errors.New(fmt.Errorf("failed to read config file %s: %w", path, err)).
				Category(errors.CategoryConfiguration).
				Component("config").
				Build()
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.New(fmt.Errorf("failed to parse config: %w", err)).
			Category(errors.CategoryConfiguration).
			Component("config").
			Build()
	}
	if len(cfg.Categories) == 0 {
		cfg.Categories = DefaultCategories()
	}
	for i := range cfg.Categories {
		cfg.Categories[i].Key = strings.ToLower(strings.TrimSpace(cfg.Categories[i].Key))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Credentials may be present
	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return errors.Newf(format, args...).
		Category(errors.CategoryConfiguration).
		Component("config").
		Build()
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Storage.Root) == "" {
		return invalid("storage.root cannot be empty")
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		return invalid("database.path cannot be empty")
	}

	switch c.Identification.Backend {
	case BackendGemini, BackendOllama, BackendOpenAI, BackendMock:
	default:
		return invalid("identification.backend must be one of gemini, ollama, openai, mock (got %q)", c.Identification.Backend)
	}
	if c.Identification.Backend != BackendMock && c.Identification.Model == "" {
		return invalid("identification.model cannot be empty")
	}
	if c.Identification.RatePerSecond < 0 {
		return invalid("identification.rate_per_second cannot be negative")
	}

	if c.Narration.Rate <= 0 || c.Narration.Rate > 4 {
		return invalid("narration.rate must be in (0, 4]")
	}
	if c.Narration.TTL <= 0 {
		return invalid("narration.ttl must be positive")
	}

	if c.Retry.Attempts < 1 {
		return invalid("retry.attempts must be at least 1")
	}
	if c.Retry.BaseDelay < 0 || c.Retry.CallTimeout < 0 {
		return invalid("retry delays cannot be negative")
	}

	if c.Worker.Workers < 1 || c.Worker.Capacity < 1 || c.Worker.MaxAttempts < 1 {
		return invalid("worker.workers, worker.capacity and worker.max_attempts must be positive")
	}
	if c.Worker.RetryDelay <= 0 {
		return invalid("worker.retry_delay must be positive")
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return invalid("mqtt.broker is required when mqtt is enabled")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return invalid("mqtt.qos must be 0, 1 or 2")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return invalid("logging.format must be text or json")
	}

	return validateCategories(c.Categories)
}

func validateCategories(cats []types.Category) error {
	seen := make(map[string]struct{}, len(cats))
	for _, cat := range cats {
		if cat.Key == "" {
			return invalid("category key cannot be empty")
		}
		if cat.Key != strings.ToLower(cat.Key) {
			return invalid("category key %q must be lowercase", cat.Key)
		}
		if _, dup := seen[cat.Key]; dup {
			return invalid("duplicate category key %q", cat.Key)
		}
		seen[cat.Key] = struct{}{}
	}
	if _, ok := seen[types.DefaultCategory]; !ok {
		return invalid("categories must include %q", types.DefaultCategory)
	}
	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./lensclip.yaml"
	}
	return filepath.Join(home, ".config", "lensclip", "config.yaml")
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}
