package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"slices"
)

// validSSLModes are the SSL modes accepted by the pgx driver.
var validSSLModes = []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// Model API key (read directly by the Genkit googlegenai plugin).
	if os.Getenv("GEMINI_API_KEY") == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required", ErrMissingAPIKey)
	}

	if c.Model == "" {
		return fmt.Errorf("%w: model cannot be empty", ErrInvalidModelName)
	}
	if c.ModerationModel == "" {
		return fmt.Errorf("%w: moderation_model cannot be empty", ErrInvalidModelName)
	}

	// Temperature range: 0.0 (deterministic) to 2.0 (maximum creativity)
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("%w: must be between 0.0 and 2.0, got %.2f", ErrInvalidTemperature, c.Temperature)
	}

	if c.MaxHistoryMessages < MinHistoryMessages || c.MaxHistoryMessages > MaxAllowedHistoryMessages {
		return fmt.Errorf("%w: max_history_messages must be between %d and %d, got %d",
			ErrInvalidHistoryLimit, MinHistoryMessages, MaxAllowedHistoryMessages, c.MaxHistoryMessages)
	}

	// PostgreSQL
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not a valid sslmode", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}
	if c.PostgresPassword == "mesura_dev_password" {
		slog.Warn("using the default development password for PostgreSQL",
			"hint", "change postgres_password for production deployments")
	}

	// Object storage
	if c.MinioEndpoint == "" || c.MinioBucket == "" {
		return fmt.Errorf("%w: minio_endpoint and minio_bucket are required", ErrInvalidObjectStore)
	}

	// Analysis service
	parsed, err := url.Parse(c.AnalysisBaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidAnalysisURL, c.AnalysisBaseURL)
	}

	return nil
}
