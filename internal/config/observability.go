package config

import (
	"fmt"
	"strings"
	"time"
)

// ObservabilityConfig holds configuration for the observability server (metrics, health checks).
type ObservabilityConfig struct {
	Port string `envconfig:"PORT" default:"9090"`

	// Timeout bounds reads, writes and idle connections on the health server.
	Timeout time.Duration `envconfig:"TIMEOUT" default:"5s" validate:"min=1s"`

	LivenessPath  string `envconfig:"LIVENESS_PATH" default:"/healthz"`
	ReadinessPath string `envconfig:"READINESS_PATH" default:"/readyz"`
	MetricsPath   string `envconfig:"METRICS_PATH" default:"/metrics"`
}

// Validate checks the port and that the three paths are absolute and distinct.
func (o *ObservabilityConfig) Validate() error {
	if err := validatePort(o.Port, "observability"); err != nil {
		return err
	}

	seen := make(map[string]struct{}, 3)
	for _, p := range []string{o.LivenessPath, o.ReadinessPath, o.MetricsPath} {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("observability path %q must start with '/'", p)
		}
		if _, dup := seen[p]; dup {
			return fmt.Errorf("observability path %q is used twice", p)
		}
		seen[p] = struct{}{}
	}
	return nil
}
