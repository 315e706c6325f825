package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
)

var validSSLModes = []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// API key, required for all embedding operations. Genkit reads it
	// directly from the environment.
	if os.Getenv("GEMINI_API_KEY") == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required\n"+
			"Get your API key at: https://ai.google.dev/gemini-api/docs/api-key",
			ErrMissingAPIKey)
	}

	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedder)
	}
	if c.EmbedderDimension < 1 || c.EmbedderDimension > 4096 {
		return fmt.Errorf("%w: embedder_dimension must be between 1 and 4096, got %d",
			ErrInvalidEmbedder, c.EmbedderDimension)
	}
	if c.EmbedTimeoutSecs < 1 {
		return fmt.Errorf("%w: embed_timeout_seconds must be positive, got %d",
			ErrInvalidEmbedder, c.EmbedTimeoutSecs)
	}
	if c.EmbedRatePerSec <= 0 {
		return fmt.Errorf("%w: embed_rate_per_second must be positive, got %g",
			ErrInvalidEmbedder, c.EmbedRatePerSec)
	}

	if c.Collection == "" {
		return fmt.Errorf("%w: collection cannot be empty", ErrInvalidQuery)
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgres)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: port must be between 1 and 65535, got %d", ErrInvalidPostgres, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgres)
	}
	if c.PostgresPassword == "" {
		return fmt.Errorf("%w: postgres_password must be set", ErrInvalidPostgres)
	}
	if c.PostgresPassword == "semidx_dev_password" {
		slog.Warn("Using default development password for PostgreSQL",
			"warning", "Change postgres_password for production deployments")
	}
	if len(c.PostgresPassword) < 8 {
		return fmt.Errorf("%w: postgres_password must be at least 8 characters (got %d)",
			ErrInvalidPostgres, len(c.PostgresPassword))
	}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: sslmode must be one of %v, got %q",
			ErrInvalidPostgres, validSSLModes, c.PostgresSSLMode)
	}

	if c.CacheMaxEntries < 1 {
		return fmt.Errorf("%w: cache_max_entries must be positive, got %d",
			ErrInvalidCache, c.CacheMaxEntries)
	}
	if c.CacheMaxBytes < 1 {
		return fmt.Errorf("%w: cache_max_bytes must be positive, got %d",
			ErrInvalidCache, c.CacheMaxBytes)
	}

	if c.Workers < 1 || c.Workers > 256 {
		return fmt.Errorf("%w: workers must be between 1 and 256, got %d",
			ErrInvalidScheduler, c.Workers)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("%w: queue_size must be positive, got %d",
			ErrInvalidScheduler, c.QueueSize)
	}
	if c.MaxAttempts < 1 || c.MaxAttempts > 20 {
		return fmt.Errorf("%w: max_attempts must be between 1 and 20, got %d",
			ErrInvalidScheduler, c.MaxAttempts)
	}
	if c.BackoffBaseMS < 1 || c.BackoffCapMS < c.BackoffBaseMS {
		return fmt.Errorf("%w: backoff_base_ms must be positive and no greater than backoff_cap_ms",
			ErrInvalidScheduler)
	}

	if c.MinScore < 0 || c.MinScore > 1 {
		return fmt.Errorf("%w: min_score must be between 0 and 1, got %g",
			ErrInvalidQuery, c.MinScore)
	}
	if c.DefaultTopK < 1 || c.MaxTopK < c.DefaultTopK {
		return fmt.Errorf("%w: default_top_k must be positive and no greater than max_top_k",
			ErrInvalidQuery)
	}

	return nil
}
