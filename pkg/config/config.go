package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for merge-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8088"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Join suggestion provider (OpenAI-compatible endpoint)
	Provider ProviderConfig `yaml:"provider"`

	// Ingestion and merge limits
	Limits LimitsConfig `yaml:"limits"`

	// Downstream import pipeline
	Importer ImporterConfig `yaml:"importer"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"merge_engine"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"merge_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	MaxIdleConns   int32  `yaml:"max_idle_conns" env:"PGMAX_IDLE_CONNS" env-default:"5"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// ProviderConfig holds the external join suggestion provider settings.
// If BaseURL is empty the engine runs rule-based analysis only.
type ProviderConfig struct {
	BaseURL        string `yaml:"base_url" env:"PROVIDER_BASE_URL" env-default:""`
	Model          string `yaml:"model" env:"PROVIDER_MODEL" env-default:"gpt-4o-mini"`
	APIKey         string `yaml:"-" env:"PROVIDER_API_KEY"` // Secret - not in YAML
	TimeoutSeconds int    `yaml:"timeout_seconds" env:"PROVIDER_TIMEOUT_SECONDS" env-default:"30"`
}

// Timeout returns the provider call timeout as a duration.
func (c *ProviderConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// IsAvailable returns true if a provider endpoint is configured.
func (c *ProviderConfig) IsAvailable() bool {
	return c.BaseURL != "" && c.Model != ""
}

// LimitsConfig bounds ingestion, profiling and merge work.
type LimitsConfig struct {
	// SampleRows is how many data rows are sampled per file for profiling.
	SampleRows int `yaml:"sample_rows" env:"LIMIT_SAMPLE_ROWS" env-default:"50"`
	// PreviewRows is the default merged-preview row limit.
	PreviewRows int `yaml:"preview_rows" env:"LIMIT_PREVIEW_ROWS" env-default:"100"`
	// MergeMaxRows aborts merges whose output would exceed this many rows.
	MergeMaxRows int64 `yaml:"merge_max_rows" env:"LIMIT_MERGE_MAX_ROWS" env-default:"1000000"`
	// ProfileWorkers bounds how many files are profiled concurrently.
	ProfileWorkers int `yaml:"profile_workers" env:"LIMIT_PROFILE_WORKERS" env-default:"4"`
	// MaxUploadBytes caps the total multipart upload size.
	MaxUploadBytes int64 `yaml:"max_upload_bytes" env:"LIMIT_MAX_UPLOAD_BYTES" env-default:"104857600"`
}

// ImporterConfig holds the downstream import pipeline endpoint.
type ImporterConfig struct {
	BaseURL        string `yaml:"base_url" env:"IMPORTER_BASE_URL" env-default:""`
	APIKey         string `yaml:"-" env:"IMPORTER_API_KEY"` // Secret - not in YAML
	TimeoutSeconds int    `yaml:"timeout_seconds" env:"IMPORTER_TIMEOUT_SECONDS" env-default:"60"`
}

// Timeout returns the importer call timeout as a duration.
func (c *ImporterConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Limits.SampleRows <= 0 {
		return fmt.Errorf("limits.sample_rows must be positive, got %d", c.Limits.SampleRows)
	}
	if c.Limits.PreviewRows <= 0 {
		return fmt.Errorf("limits.preview_rows must be positive, got %d", c.Limits.PreviewRows)
	}
	if c.Limits.MergeMaxRows <= 0 {
		return fmt.Errorf("limits.merge_max_rows must be positive, got %d", c.Limits.MergeMaxRows)
	}
	if c.Limits.ProfileWorkers <= 0 {
		return fmt.Errorf("limits.profile_workers must be positive, got %d", c.Limits.ProfileWorkers)
	}
	if c.Provider.TimeoutSeconds <= 0 {
		return fmt.Errorf("provider.timeout_seconds must be positive, got %d", c.Provider.TimeoutSeconds)
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
