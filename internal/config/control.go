package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"time"
)

// ControlPlaneConfig configures the booking REST API listener.
type ControlPlaneConfig struct {
	Port              string        `envconfig:"PORT" default:"8080"`
	Host              string        `envconfig:"HOST" default:"0.0.0.0"`
	ReadTimeout       time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
	ReadHeaderTimeout time.Duration `envconfig:"READ_HEADER_TIMEOUT" default:"5s"`
	IdleTimeout       time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
	MaxHeaderBytes    int           `envconfig:"MAX_HEADER_BYTES" default:"524288" validate:"min=1"`

	// APIKeyHash is the hex SHA-256 of the bearer key admins present.
	// Empty disables auth outside production.
	APIKeyHash string `envconfig:"API_KEY_HASH"`

	TLSEnabled bool   `envconfig:"TLS_ENABLED" default:"false"`
	TLSCert    string `envconfig:"TLS_CERT_FILE"`
	TLSKey     string `envconfig:"TLS_KEY_FILE"`
}

// Addr is the listen address for http.Server.
func (c *ControlPlaneConfig) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// Validate checks the listener. Production requires an API key hash and TLS.
func (c *ControlPlaneConfig) Validate(environment string) error {
	if err := errors.Join(
		validatePort(c.Port, "control plane"),
		validateHost(c.Host, "control plane"),
	); err != nil {
		return err
	}

	if c.TLSEnabled && (c.TLSCert == "" || c.TLSKey == "") {
		return fmt.Errorf("TLS enabled but cert or key file not specified")
	}

	if environment != EnvironmentProduction {
		return nil
	}
	if c.APIKeyHash == "" {
		return fmt.Errorf("API key hash is required in production environment")
	}
	if err := validateSHA256Hash(c.APIKeyHash); err != nil {
		return fmt.Errorf("invalid API key hash: %w", err)
	}
	if !c.TLSEnabled {
		return fmt.Errorf("TLS must be enabled in production environment")
	}
	return nil
}

func validateSHA256Hash(hash string) error {
	if len(hash) != hex.EncodedLen(32) {
		return fmt.Errorf("SHA-256 hash must be 64 characters, got %d", len(hash))
	}
	if _, err := hex.DecodeString(hash); err != nil {
		return fmt.Errorf("hash must be valid hexadecimal: %w", err)
	}
	return nil
}
