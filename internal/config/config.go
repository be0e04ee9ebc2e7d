// Package config provides centralized configuration management for Booker services.
// It uses envconfig for environment variable loading and validator for validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

const (
	// EnvPrefix is the prefix of every environment variable read by Load.
	EnvPrefix = "BOOKER"

	// EnvironmentProduction enables the hardening checks in each section's Validate.
	EnvironmentProduction = "production"
)

// Config holds the complete application configuration.
type Config struct {
	App           AppConfig           `envconfig:"APP"`
	Server        ServerConfig        `envconfig:"SERVER"`
	Database      DatabaseConfig      `envconfig:"DB"`
	Redis         RedisConfig         `envconfig:"REDIS"`
	Observability ObservabilityConfig `envconfig:"OBSERVABILITY"`
	Relay         RelayConfig         `envconfig:"RELAY"`
}

// AppConfig contains core application settings.
type AppConfig struct {
	Name            string        `envconfig:"NAME" default:"booker"`
	Version         string        `envconfig:"VERSION" default:"dev"`
	Environment     string        `envconfig:"ENV" default:"development" validate:"oneof=development staging production"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	LogFormat       string        `envconfig:"LOG_FORMAT" default:"text" validate:"oneof=json text"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Control ControlPlaneConfig `envconfig:"CONTROL"`
}

// Load reads configuration from environment variables with the BOOKER prefix.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate runs struct tag validation, then the per-section rules that depend
// on the environment.
func (c *Config) Validate() error {
	validate := validator.New()

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validation error: %w", err)
	}

	if err := c.Database.Validate(c.App.Environment); err != nil {
		return err
	}

	// Redis is only required by the relay; the control plane runs without it.
	if c.Relay.Enabled || c.Redis.IsConfigured() {
		if err := c.Redis.Validate(c.App.Environment); err != nil {
			return err
		}
	}

	if err := c.Server.Control.Validate(c.App.Environment); err != nil {
		return err
	}

	if err := c.Observability.Validate(); err != nil {
		return err
	}

	if c.Observability.Port == c.Server.Control.Port {
		return fmt.Errorf("observability port %s collides with control plane port", c.Observability.Port)
	}

	return nil
}

// LogConfig logs the effective settings. Secrets and connection strings are
// never included.
func (c *Config) LogConfig(log *slog.Logger) {
	log.Info("configuration loaded",
		slog.String("app_name", c.App.Name),
		slog.String("version", c.App.Version),
		slog.String("environment", c.App.Environment),
		slog.String("log_level", c.App.LogLevel),
		slog.String("log_format", c.App.LogFormat),
		slog.Duration("shutdown_timeout", c.App.ShutdownTimeout),
		slog.String("control_port", c.Server.Control.Port),
		slog.String("observability_port", c.Observability.Port),
		slog.Bool("tls_enabled", c.Server.Control.TLSEnabled),
		slog.Bool("db_configured", c.Database.IsConfigured()),
		slog.Bool("db_migrate_on_start", c.Database.MigrateOnStart),
		slog.Bool("redis_configured", c.Redis.IsConfigured()),
		slog.Bool("relay_enabled", c.Relay.Enabled),
		slog.Duration("relay_interval", c.Relay.Interval),
		slog.Duration("db_statement_timeout", c.Database.StatementTimeout),
	)
}

func validatePort(port, context string) error {
	if port == "" {
		return fmt.Errorf("%s port cannot be empty", context)
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("%s port must be a number: %w", context, err)
	}
	if n < 1 || n > 65535 {
		return fmt.Errorf("%s port must be between 1 and 65535, got %d", context, n)
	}
	return nil
}

func validateHost(host, context string) error {
	return validateNoWhitespace(host, context+" host")
}

func validateNoWhitespace(value, field string) error {
	switch {
	case value == "":
		return fmt.Errorf("%s cannot be empty", field)
	case strings.TrimSpace(value) != value:
		return fmt.Errorf("%s cannot contain whitespace", field)
	}
	return nil
}

// minProductionPasswordLen applies to both the database and the broker.
const minProductionPasswordLen = 12

func validatePasswordStrength(password, context, environment string) error {
	if environment == EnvironmentProduction && len(password) < minProductionPasswordLen {
		return fmt.Errorf("%s password must be at least %d characters in production", context, minProductionPasswordLen)
	}
	return nil
}

func isSecureSSLMode(mode string) bool {
	return slices.Contains([]string{"require", "verify-ca", "verify-full"}, mode)
}

func parseAndValidateURL(rawURL string, schemes []string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if !slices.Contains(schemes, u.Scheme) {
		return nil, fmt.Errorf("invalid scheme '%s', must be one of: %v", u.Scheme, schemes)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("host is required in URL")
	}
	return u, nil
}
