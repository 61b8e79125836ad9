// Package config loads the settings passed explicitly into the fetch and
// resample operations. Values are layered: defaults, then an optional JSON or
// YAML file, then an optional .env file, then OHLCV_* environment variables.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/johnayoung/go-ohlcv-history/internal/models"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "OHLCV_"

// AppConfig represents the complete application configuration
type AppConfig struct {
	AppName string `json:"app_name" yaml:"app_name" env:"APP_NAME"`

	Source   SourceConfig   `json:"source" yaml:"source"`
	Fetch    FetchConfig    `json:"fetch" yaml:"fetch"`
	Resample ResampleConfig `json:"resample" yaml:"resample"`
	Storage  StorageConfig  `json:"storage" yaml:"storage"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
}

// SourceConfig configures the market data source
type SourceConfig struct {
	Type        string            `json:"type" yaml:"type" env:"SOURCE_TYPE"`                // "binance", "coinbase"
	BaseURL     string            `json:"base_url" yaml:"base_url" env:"SOURCE_BASE_URL"`    // Override for the REST endpoint
	APIKey      string            `json:"api_key" yaml:"api_key" env:"API_KEY"`              // Optional, public endpoints need none
	APISecret   string            `json:"api_secret" yaml:"api_secret" env:"API_SECRET"`     // Optional
	RateLimit   float64           `json:"rate_limit" yaml:"rate_limit" env:"RATE_LIMIT"`     // Requests per second
	Burst       int               `json:"burst" yaml:"burst" env:"RATE_BURST"`               // Limiter burst size
	Timeout     string            `json:"timeout" yaml:"timeout" env:"HTTP_TIMEOUT"`         // HTTP request timeout
	RetryPolicy RetryPolicyConfig `json:"retry_policy" yaml:"retry_policy"`
}

// RetryPolicyConfig configures retry behavior for page requests
type RetryPolicyConfig struct {
	MaxAttempts  int     `json:"max_attempts" yaml:"max_attempts" env:"RETRY_MAX_ATTEMPTS"`
	InitialDelay string  `json:"initial_delay" yaml:"initial_delay" env:"RETRY_INITIAL_DELAY"`
	MaxDelay     string  `json:"max_delay" yaml:"max_delay" env:"RETRY_MAX_DELAY"`
	Multiplier   float64 `json:"multiplier" yaml:"multiplier" env:"RETRY_MULTIPLIER"`
	Jitter       bool    `json:"jitter" yaml:"jitter" env:"RETRY_JITTER"`
}

// FetchConfig configures the paginated fetch
type FetchConfig struct {
	PageLimit   int  `json:"page_limit" yaml:"page_limit" env:"PAGE_LIMIT"`       // Rows requested per page
	Stream      bool `json:"stream" yaml:"stream" env:"STREAM"`                   // Append pages to disk as they arrive
	KeepPartial bool `json:"keep_partial" yaml:"keep_partial" env:"KEEP_PARTIAL"` // Persist rows fetched before a failure
}

// ResampleConfig configures derived resolutions
type ResampleConfig struct {
	Resolutions []string `json:"resolutions" yaml:"resolutions" env:"RESAMPLE_RESOLUTIONS" envSeparator:","`
	AsOf        string   `json:"as_of" yaml:"as_of" env:"RESAMPLE_AS_OF"` // Drop buckets ending after this instant
	Concurrency int      `json:"concurrency" yaml:"concurrency" env:"RESAMPLE_CONCURRENCY"`
}

// StorageConfig configures persisted series
type StorageConfig struct {
	OutputDir    string `json:"output_dir" yaml:"output_dir" env:"OUTPUT_DIR"`
	WriteParquet bool   `json:"write_parquet" yaml:"write_parquet" env:"WRITE_PARQUET"` // Write a .parquet twin next to each CSV
}

// LoggingConfig configures structured logging
type LoggingConfig struct {
	Level         string            `json:"level" yaml:"level" env:"LOG_LEVEL"`                   // debug, info, warn, error
	Format        string            `json:"format" yaml:"format" env:"LOG_FORMAT"`                // json, text
	Output        string            `json:"output" yaml:"output" env:"LOG_OUTPUT"`                // stdout, stderr, file
	FilePath      string            `json:"file_path" yaml:"file_path" env:"LOG_FILE_PATH"`       // Log file path
	MaxSize       int               `json:"max_size" yaml:"max_size" env:"LOG_MAX_SIZE"`          // Maximum log file size in MB
	MaxBackups    int               `json:"max_backups" yaml:"max_backups" env:"LOG_MAX_BACKUPS"` // Maximum log file backups
	MaxAge        int               `json:"max_age" yaml:"max_age" env:"LOG_MAX_AGE"`             // Maximum log file age in days
	Compress      bool              `json:"compress" yaml:"compress" env:"LOG_COMPRESS"`          // Compress rotated files
	ContextFields map[string]string `json:"context_fields" yaml:"context_fields"`                 // Attributes added to every record
}

// ConfigManager loads and validates the application configuration
type ConfigManager struct {
	config     *AppConfig
	configPath string
	envFile    string
	logger     *slog.Logger
}

// NewConfigManager creates a manager for the given file. An empty path skips
// the file layer; a missing file is not an error.
func NewConfigManager(configPath string, logger *slog.Logger) *ConfigManager {
	if logger == nil {
		logger = slog.Default()
	}

	return &ConfigManager{
		configPath: configPath,
		envFile:    ".env",
		logger:     logger,
	}
}

// WithEnvFile sets the dotenv file read before environment overrides.
func (cm *ConfigManager) WithEnvFile(path string) *ConfigManager {
	cm.envFile = path
	return cm
}

// LoadConfig loads configuration from multiple sources with priority order:
// 1. Environment variables (highest priority)
// 2. .env file
// 3. Configuration file
// 4. Default values (lowest priority)
func (cm *ConfigManager) LoadConfig(ctx context.Context) (*AppConfig, error) {
	config := DefaultConfig()

	if cm.configPath != "" {
		if err := cm.loadFromFile(config); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := cm.loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	cm.config = config
	cm.logger.DebugContext(ctx, "configuration loaded",
		"config_path", cm.configPath,
		"source_type", config.Source.Type,
		"page_limit", config.Fetch.PageLimit,
		"log_level", config.Logging.Level)

	return config, nil
}

// loadFromFile decodes a JSON or YAML file, chosen by extension
func (cm *ConfigManager) loadFromFile(config *AppConfig) error {
	data, err := os.ReadFile(cm.configPath)
	if os.IsNotExist(err) {
		cm.logger.Debug("config file does not exist, using defaults", "path", cm.configPath)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cm.configPath, err)
	}

	switch strings.ToLower(filepath.Ext(cm.configPath)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	default:
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", cm.configPath, err)
	}

	cm.logger.Debug("loaded configuration from file", "path", cm.configPath)
	return nil
}

// loadFromEnv applies the dotenv file (without overriding real environment
// variables) and then OHLCV_* overrides
func (cm *ConfigManager) loadFromEnv(config *AppConfig) error {
	if cm.envFile != "" {
		if err := godotenv.Load(cm.envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load env file %s: %w", cm.envFile, err)
		}
	}

	return env.ParseWithOptions(config, env.Options{Prefix: EnvPrefix})
}

// GetConfig returns the last loaded configuration
func (cm *ConfigManager) GetConfig() *AppConfig {
	return cm.config
}

// Validate collects every configuration problem into one error
func (c *AppConfig) Validate() error {
	var errors []string

	switch c.Source.Type {
	case "binance", "coinbase":
	case "":
		errors = append(errors, "source.type is required")
	default:
		errors = append(errors, fmt.Sprintf("source.type %q is not supported (binance, coinbase)", c.Source.Type))
	}
	if c.Source.RateLimit <= 0 {
		errors = append(errors, "source.rate_limit must be greater than 0")
	}
	if c.Source.Timeout != "" {
		if _, err := time.ParseDuration(c.Source.Timeout); err != nil {
			errors = append(errors, fmt.Sprintf("source.timeout is not a valid duration: %v", err))
		}
	}

	retry := c.Source.RetryPolicy
	if retry.MaxAttempts <= 0 {
		errors = append(errors, "source.retry_policy.max_attempts must be greater than 0")
	}
	for name, value := range map[string]string{"initial_delay": retry.InitialDelay, "max_delay": retry.MaxDelay} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			errors = append(errors, fmt.Sprintf("source.retry_policy.%s is not a valid duration: %v", name, err))
		}
	}

	if c.Fetch.PageLimit <= 0 {
		errors = append(errors, "fetch.page_limit must be greater than 0")
	}

	if len(c.Resample.Resolutions) == 0 {
		errors = append(errors, "resample.resolutions must not be empty")
	}
	for _, r := range c.Resample.Resolutions {
		if _, err := models.ParseResolution(r); err != nil {
			errors = append(errors, fmt.Sprintf("resample.resolutions: %v", err))
		}
	}
	if c.Resample.AsOf != "" {
		if _, err := models.ParseTimestamp(c.Resample.AsOf); err != nil {
			errors = append(errors, fmt.Sprintf("resample.as_of: %v", err))
		}
	}
	if c.Resample.Concurrency < 0 {
		errors = append(errors, "resample.concurrency must not be negative")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		errors = append(errors, "logging.level must be one of: debug, info, warn, error")
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		errors = append(errors, "logging.format must be one of: json, text")
	}

	switch c.Logging.Output {
	case "stdout", "stderr":
	case "file":
		if c.Logging.FilePath == "" {
			errors = append(errors, "logging.file_path is required when output is file")
		}
	default:
		errors = append(errors, "logging.output must be one of: stdout, stderr, file")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *AppConfig {
	return &AppConfig{
		AppName: "ohlcv-history",
		Source: SourceConfig{
			Type:      "binance",
			RateLimit: 10,
			Burst:     1,
			Timeout:   "30s",
			RetryPolicy: RetryPolicyConfig{
				MaxAttempts:  8,
				InitialDelay: "1s",
				MaxDelay:     "60s",
				Multiplier:   2,
				Jitter:       false,
			},
		},
		Fetch: FetchConfig{
			PageLimit: 1000,
		},
		Resample: ResampleConfig{
			Resolutions: []string{"1min", "5min", "15min", "60min", "1D"},
			Concurrency: 0,
		},
		Storage: StorageConfig{
			OutputDir:    "data",
			WriteParquet: true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			MaxSize:    100, // 100MB
			MaxBackups: 5,
			MaxAge:     30, // 30 days
			Compress:   true,
		},
	}
}

// ResampleResolutions parses the configured resolution labels.
func (c *AppConfig) ResampleResolutions() ([]models.Resolution, error) {
	return models.ParseResolutions(strings.Join(c.Resample.Resolutions, ","))
}

// String returns the configuration as JSON with secrets redacted
func (c *AppConfig) String() string {
	sanitized := *c
	if sanitized.Source.APIKey != "" {
		sanitized.Source.APIKey = "[REDACTED]"
	}
	if sanitized.Source.APISecret != "" {
		sanitized.Source.APISecret = "[REDACTED]"
	}

	data, _ := json.MarshalIndent(&sanitized, "", "  ")
	return string(data)
}
