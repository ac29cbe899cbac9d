// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage backends selected by the DATABASE_URL scheme.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// DatabaseURL is a postgres:// URL or sqlite:<path>. "sqlite::memory:"
	// keeps everything in process.
	DatabaseURL string

	// JWT settings.
	JWTPrivateKeyPath string // Path to Ed25519 private key PEM file.
	JWTPublicKeyPath  string // Path to Ed25519 public key PEM file.
	JWTExpiration     time.Duration

	// OTEL settings.
	OTELEndpoint      string
	OTELInsecure      bool
	ServiceName       string
	PrometheusEnabled bool

	// Rate limiting, per project.
	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int

	// Operational settings.
	LogLevel            string
	MaxRequestBodyBytes int64 // Maximum request body size in bytes.
	RunFlatBuilder      bool  // Also build the OpenTelemetry-shaped span on ingest.
}

// Load reads configuration from environment variables with sensible defaults.
// Every malformed variable is reported, not just the first.
func Load() (Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var cfg Config
	var err error

	cfg.Port, err = envInt("TRACING_PORT", 8080)
	collect(err)
	cfg.ReadTimeout, err = envDuration("TRACING_READ_TIMEOUT", 30*time.Second)
	collect(err)
	cfg.WriteTimeout, err = envDuration("TRACING_WRITE_TIMEOUT", 30*time.Second)
	collect(err)
	cfg.ShutdownTimeout, err = envDuration("TRACING_SHUTDOWN_TIMEOUT", 10*time.Second)
	collect(err)
	cfg.DatabaseURL = envStr("DATABASE_URL", "sqlite:tracing.db")
	cfg.JWTPrivateKeyPath = envStr("TRACING_JWT_PRIVATE_KEY", "")
	cfg.JWTPublicKeyPath = envStr("TRACING_JWT_PUBLIC_KEY", "")
	cfg.JWTExpiration, err = envDuration("TRACING_JWT_EXPIRATION", 24*time.Hour)
	collect(err)
	cfg.OTELEndpoint = envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	cfg.OTELInsecure, err = envBool("TRACING_OTEL_INSECURE", false)
	collect(err)
	cfg.ServiceName = envStr("OTEL_SERVICE_NAME", "tracing")
	cfg.PrometheusEnabled, err = envBool("TRACING_PROMETHEUS_ENABLED", false)
	collect(err)
	cfg.RateLimitEnabled, err = envBool("TRACING_RATE_LIMIT_ENABLED", true)
	collect(err)
	cfg.RateLimitRPS, err = envFloat("TRACING_RATE_LIMIT_RPS", 50)
	collect(err)
	cfg.RateLimitBurst, err = envInt("TRACING_RATE_LIMIT_BURST", 100)
	collect(err)
	cfg.LogLevel = envStr("TRACING_LOG_LEVEL", "info")
	maxBody, err := envInt("TRACING_MAX_REQUEST_BODY_BYTES", 10*1024*1024) // 10 MB default
	collect(err)
	cfg.MaxRequestBodyBytes = int64(maxBody)
	cfg.RunFlatBuilder, err = envBool("TRACING_RUN_FLAT_BUILDER", false)
	collect(err)

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and consistent.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("config: DATABASE_URL is required")
	}
	if _, _, err := c.Storage(); err != nil {
		return err
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: TRACING_PORT %d is out of range", c.Port)
	}
	if c.MaxRequestBodyBytes <= 0 {
		return errors.New("config: TRACING_MAX_REQUEST_BODY_BYTES must be positive")
	}
	if c.RateLimitEnabled && (c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0) {
		return errors.New("config: TRACING_RATE_LIMIT_RPS and TRACING_RATE_LIMIT_BURST must be positive")
	}
	if (c.JWTPrivateKeyPath == "") != (c.JWTPublicKeyPath == "") {
		return errors.New("config: TRACING_JWT_PRIVATE_KEY and TRACING_JWT_PUBLIC_KEY must be set together")
	}
	return nil
}

// Storage resolves DatabaseURL to a backend and the DSN or file path to
// open it with.
func (c Config) Storage() (backend, dsn string, err error) {
	switch {
	case strings.HasPrefix(c.DatabaseURL, "postgres://"), strings.HasPrefix(c.DatabaseURL, "postgresql://"):
		return BackendPostgres, c.DatabaseURL, nil
	case strings.HasPrefix(c.DatabaseURL, "sqlite:"):
		path := strings.TrimPrefix(strings.TrimPrefix(c.DatabaseURL, "sqlite:"), "//")
		if path == "" {
			return "", "", errors.New("config: DATABASE_URL sqlite: needs a file path")
		}
		return BackendSQLite, path, nil
	}
	return "", "", fmt.Errorf("config: DATABASE_URL has unsupported scheme (want postgres:// or sqlite:)")
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
