// Package config provides application configuration with multi-source
// priority.
//
// Sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.mesura/config.yaml)
//  3. Default values
//
// Categories:
//   - AI: primary and moderation model selection
//   - Storage: PostgreSQL connection, MinIO object storage (see storage.go)
//   - Analysis: external statistics service endpoint
//   - Server: address, CORS, rate limiting, proxy trust
//
// Sensitive values (passwords, keys, tokens) are masked in MarshalJSON and
// never logged in clear text.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required model API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidAnalysisURL indicates the analysis service URL is invalid.
	ErrInvalidAnalysisURL = errors.New("invalid analysis service URL")

	// ErrInvalidObjectStore indicates the object storage settings are invalid.
	ErrInvalidObjectStore = errors.New("invalid object storage configuration")

	// ErrInvalidHistoryLimit indicates max_history_messages is out of range.
	ErrInvalidHistoryLimit = errors.New("invalid history limit")
)

const (
	// DefaultMaxHistoryMessages is the default number of prior messages
	// loaded as generation context.
	DefaultMaxHistoryMessages int32 = 50

	// MaxAllowedHistoryMessages is the absolute maximum to prevent OOM.
	MaxAllowedHistoryMessages int32 = 1000

	// MinHistoryMessages is the minimum allowed history window.
	MinHistoryMessages int32 = 2
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON. When
// adding new secret fields, update MarshalJSON as well.
type Config struct {
	// AI model configuration. Model names are provider-qualified Genkit
	// names, e.g. "googleai/gemini-2.5-pro".
	Model           string  `mapstructure:"model" json:"model"`
	ModerationModel string  `mapstructure:"moderation_model" json:"moderation_model"`
	Temperature     float32 `mapstructure:"temperature" json:"temperature"`
	MaxTurns        int     `mapstructure:"max_turns" json:"max_turns"`
	Language        string  `mapstructure:"language" json:"language"`

	// Conversation history window for generation context.
	MaxHistoryMessages int32 `mapstructure:"max_history_messages" json:"max_history_messages"`

	// PostgreSQL (see storage.go for DSN helpers).
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// MinIO object storage for uploaded spreadsheets.
	MinioEndpoint  string `mapstructure:"minio_endpoint" json:"minio_endpoint"`
	MinioAccessKey string `mapstructure:"minio_access_key" json:"minio_access_key"`
	MinioSecretKey string `mapstructure:"minio_secret_key" json:"minio_secret_key"` // SENSITIVE
	MinioBucket    string `mapstructure:"minio_bucket" json:"minio_bucket"`
	MinioUseSSL    bool   `mapstructure:"minio_use_ssl" json:"minio_use_ssl"`

	// External analysis (statistics) service.
	AnalysisBaseURL string `mapstructure:"analysis_base_url" json:"analysis_base_url"`
	AnalysisAPIKey  string `mapstructure:"analysis_api_key" json:"analysis_api_key"` // SENSITIVE

	// Server configuration.
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"`
	RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"`

	// Tracing (OTLP/HTTP endpoint; empty disables tracing export).
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".mesura")
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
		// A missing config file is not an error; defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// AI defaults
	viper.SetDefault("model", "googleai/gemini-2.5-pro")
	viper.SetDefault("moderation_model", "googleai/gemini-2.5-flash")
	viper.SetDefault("temperature", 0.4)
	viper.SetDefault("max_turns", 4)
	viper.SetDefault("language", "es")
	viper.SetDefault("max_history_messages", DefaultMaxHistoryMessages)

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "mesura")
	viper.SetDefault("postgres_password", "mesura_dev_password")
	viper.SetDefault("postgres_db_name", "mesura")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// MinIO defaults (local dev stack)
	viper.SetDefault("minio_endpoint", "localhost:9000")
	viper.SetDefault("minio_access_key", "mesura")
	viper.SetDefault("minio_bucket", "mesura-uploads")
	viper.SetDefault("minio_use_ssl", false)

	// Analysis service defaults
	viper.SetDefault("analysis_base_url", "http://localhost:8100")

	// Server defaults
	viper.SetDefault("cors_origins", []string{"http://localhost:5173"})
	viper.SetDefault("trust_proxy", false)
	viper.SetDefault("rate_burst", 0)
}

// bindEnvVariables binds environment variables explicitly. Secrets only come
// from the environment, never from the config file in deployment.
func bindEnvVariables() {
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("postgres_password", "MESURA_POSTGRES_PASSWORD")
	mustBind("minio_secret_key", "MESURA_MINIO_SECRET_KEY")
	mustBind("analysis_api_key", "MESURA_ANALYSIS_API_KEY")
	mustBind("analysis_base_url", "MESURA_ANALYSIS_BASE_URL")
	mustBind("model", "MESURA_MODEL")
	mustBind("moderation_model", "MESURA_MODERATION_MODEL")
	mustBind("cors_origins", "MESURA_CORS_ORIGINS")
	mustBind("trust_proxy", "MESURA_TRUST_PROXY")
	mustBind("rate_burst", "MESURA_RATE_BURST")
	mustBind("otlp_endpoint", "MESURA_OTLP_ENDPOINT")

	// NOTE: GEMINI_API_KEY is read directly by the Genkit googlegenai
	// plugin, not via viper. Validate() checks its presence.
}

// maskedValue is the placeholder for masked sensitive data. Full-width
// blocks avoid accidental substring matches against real secret content.
const maskedValue = "████████"

// maskSecret masks a secret for safe logging. Secrets of 8 characters or
// fewer are fully masked; longer ones keep the first and last two
// characters for debugging.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with sensitive fields masked.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.MinioSecretKey = maskSecret(a.MinioSecretKey)
	a.AnalysisAPIKey = maskSecret(a.AnalysisAPIKey)
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

// qualifiedModel normalizes a model name to its provider-qualified Genkit
// form. Names already containing "/" are returned as-is; bare names default
// to the googleai provider.
func qualifiedModel(name string) string {
	if strings.Contains(name, "/") {
		return name
	}
	return "googleai/" + name
}

// FullModelName returns the provider-qualified primary model name.
func (c *Config) FullModelName() string {
	return qualifiedModel(c.Model)
}

// FullModerationModelName returns the provider-qualified moderation model
// name.
func (c *Config) FullModerationModelName() string {
	return qualifiedModel(c.ModerationModel)
}
