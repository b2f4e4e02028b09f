package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr         string
	CORSAllowedOrigins []string

	// Logging configuration
	LogLevel  string
	LogFormat string

	// Database configuration
	DatabaseURL      string
	DatabaseMaxConns int

	// NATS configuration
	NATSURL string

	// Redis configuration. An empty URL disables SMS deduplication.
	RedisURL    string
	SMSDedupTTL time.Duration

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Scoring configuration. Empty paths use the built-in tables.
	FraudRulesPath   string
	TrustWeightsPath string

	// Trust score refresh interval for per-user schedules
	TrustRefreshInterval    time.Duration
	MinTrustRefreshInterval time.Duration

	// Worker metrics endpoint
	MetricsAddr string
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.CORSAllowedOrigins = parseList("CORS_ALLOWED_ORIGINS", "*")

	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.LogFormat = getEnvOrDefault("LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text, got %q", cfg.LogFormat))
	}

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	maxConns, err := parseInt("DATABASE_MAX_CONNS", 10)
	if err != nil {
		errs = append(errs, err)
	} else if maxConns < 1 {
		errs = append(errs, fmt.Errorf("DATABASE_MAX_CONNS must be at least 1, got %d", maxConns))
	} else {
		cfg.DatabaseMaxConns = maxConns
	}

	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	cfg.RedisURL = os.Getenv("REDIS_URL")
	dedupTTL, err := parseDuration("SMS_DEDUP_TTL", "24h")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.SMSDedupTTL = dedupTTL
	}

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "tajiri-sms")

	cfg.FraudRulesPath = os.Getenv("FRAUD_RULES_PATH")
	cfg.TrustWeightsPath = os.Getenv("TRUST_WEIGHTS_PATH")

	refresh, err := parseDuration("TRUST_REFRESH_INTERVAL", "24h")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.TrustRefreshInterval = refresh
	}

	minRefresh, err := parseDuration("MIN_TRUST_REFRESH_INTERVAL", "1h")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.MinTrustRefreshInterval = minRefresh
	}

	if cfg.MinTrustRefreshInterval > cfg.TrustRefreshInterval {
		errs = append(errs, fmt.Errorf("MIN_TRUST_REFRESH_INTERVAL (%v) cannot be greater than TRUST_REFRESH_INTERVAL (%v)",
			cfg.MinTrustRefreshInterval, cfg.TrustRefreshInterval))
	}

	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9091")

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.MinTrustRefreshInterval > c.TrustRefreshInterval {
		errs = append(errs, fmt.Errorf("MinTrustRefreshInterval cannot be greater than TrustRefreshInterval"))
	}

	if c.TrustRefreshInterval < time.Minute {
		errs = append(errs, fmt.Errorf("TrustRefreshInterval must be at least 1 minute"))
	}

	if c.RedisURL != "" && c.SMSDedupTTL <= 0 {
		errs = append(errs, fmt.Errorf("SMSDedupTTL must be positive when RedisURL is set"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

// parseList splits a comma-separated environment variable, dropping empty entries.
func parseList(key, defaultValue string) []string {
	var out []string
	for _, part := range strings.Split(getEnvOrDefault(key, defaultValue), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
