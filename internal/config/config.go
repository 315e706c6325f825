// Package config provides application configuration with multi-source
// priority.
//
// Sources (highest to lowest):
//  1. Environment variables (SEMIDX_* and DATABASE_URL)
//  2. Config file (~/.semidx/config.yaml or ./config.yaml)
//  3. Defaults
//
// Sensitive values (the PostgreSQL password) are masked in MarshalJSON and
// String, so a Config can be logged safely. Validation uses sentinel
// errors checked with errors.Is.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidEmbedder indicates the embedder model settings are invalid.
	ErrInvalidEmbedder = errors.New("invalid embedder configuration")

	// ErrInvalidPostgres indicates the PostgreSQL settings are invalid.
	ErrInvalidPostgres = errors.New("invalid PostgreSQL configuration")

	// ErrInvalidScheduler indicates the scheduler settings are invalid.
	ErrInvalidScheduler = errors.New("invalid scheduler configuration")

	// ErrInvalidQuery indicates the query settings are invalid.
	ErrInvalidQuery = errors.New("invalid query configuration")

	// ErrInvalidCache indicates the cache settings are invalid.
	ErrInvalidCache = errors.New("invalid cache configuration")
)

const (
	// DefaultEmbedderModel truncates to 768 dimensions via
	// OutputDimensionality; the pgvector schema uses vector(768).
	DefaultEmbedderModel = "gemini-embedding-001"

	// DefaultEmbedderDimension matches the vectors table schema.
	DefaultEmbedderDimension = 768

	// DefaultCollection is the vector store collection for all artifacts.
	DefaultCollection = "artifacts"
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// Embedding provider configuration
	EmbedderModel     string  `mapstructure:"embedder_model" json:"embedder_model"`
	EmbedderDimension int     `mapstructure:"embedder_dimension" json:"embedder_dimension"`
	EmbedTimeoutSecs  int     `mapstructure:"embed_timeout_seconds" json:"embed_timeout_seconds"`
	EmbedRatePerSec   float64 `mapstructure:"embed_rate_per_second" json:"embed_rate_per_second"`
	EmbedBurst        int     `mapstructure:"embed_burst" json:"embed_burst"`

	// Vector store configuration
	Collection string `mapstructure:"collection" json:"collection"`

	// PostgreSQL connection (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Embedding cache bounds
	CacheMaxEntries int   `mapstructure:"cache_max_entries" json:"cache_max_entries"`
	CacheMaxBytes   int64 `mapstructure:"cache_max_bytes" json:"cache_max_bytes"`

	// Ingestion scheduler
	Workers       int `mapstructure:"workers" json:"workers"`
	QueueSize     int `mapstructure:"queue_size" json:"queue_size"`
	MaxAttempts   int `mapstructure:"max_attempts" json:"max_attempts"`
	BackoffBaseMS int `mapstructure:"backoff_base_ms" json:"backoff_base_ms"`
	BackoffCapMS  int `mapstructure:"backoff_cap_ms" json:"backoff_cap_ms"`

	// Query engine
	MinScore    float32 `mapstructure:"min_score" json:"min_score"`
	DefaultTopK int     `mapstructure:"default_top_k" json:"default_top_k"`
	MaxTopK     int     `mapstructure:"max_top_k" json:"max_top_k"`

	// Logging
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`
	LogLevel string `mapstructure:"log_level" json:"log_level"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".semidx")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides the individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("embedder_model", DefaultEmbedderModel)
	viper.SetDefault("embedder_dimension", DefaultEmbedderDimension)
	viper.SetDefault("embed_timeout_seconds", 30)
	viper.SetDefault("embed_rate_per_second", 10.0)
	viper.SetDefault("embed_burst", 20)

	viper.SetDefault("collection", DefaultCollection)

	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "semidx")
	viper.SetDefault("postgres_password", "semidx_dev_password")
	viper.SetDefault("postgres_db_name", "semidx")
	viper.SetDefault("postgres_ssl_mode", "disable")

	viper.SetDefault("cache_max_entries", 4096)
	viper.SetDefault("cache_max_bytes", 64<<20)

	viper.SetDefault("workers", 4)
	viper.SetDefault("queue_size", 1024)
	viper.SetDefault("max_attempts", 5)
	viper.SetDefault("backoff_base_ms", 500)
	viper.SetDefault("backoff_cap_ms", 30000)

	viper.SetDefault("min_score", 0.5)
	viper.SetDefault("default_top_k", 5)
	viper.SetDefault("max_top_k", 100)

	viper.SetDefault("log_json", false)
	viper.SetDefault("log_level", "info")
}

// bindEnvVariables binds environment overrides explicitly.
// GEMINI_API_KEY is read directly by Genkit, not via Viper; Validate only
// checks its presence.
func bindEnvVariables() {
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("embedder_model", "SEMIDX_EMBEDDER_MODEL")
	mustBind("embedder_dimension", "SEMIDX_EMBEDDER_DIMENSION")
	mustBind("collection", "SEMIDX_COLLECTION")
	mustBind("workers", "SEMIDX_WORKERS")
	mustBind("min_score", "SEMIDX_MIN_SCORE")
	mustBind("log_json", "SEMIDX_LOG_JSON")
	mustBind("log_level", "SEMIDX_LOG_LEVEL")
}

// maskedValue uses full-width blocks to avoid substring matches between a
// partially masked secret and the original value.
const maskedValue = "████████"

// maskSecret masks a secret for safe logging. Secrets of 8 characters or
// fewer are fully masked; longer ones keep the first and last 2 characters
// for debug utility. This defends against accidental logging, nothing more.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field
// masking. When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
