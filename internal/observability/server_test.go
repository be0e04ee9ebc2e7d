package observability_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/booker/internal/config"
	"github.com/rafaeljc/booker/internal/observability"
	"github.com/rafaeljc/booker/internal/testsupport"
)

type healthBody struct {
	Status       string `json:"status"`
	Service      string `json:"service"`
	Version      string `json:"version"`
	Dependencies map[string]struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	} `json:"dependencies"`
}

func newServer(checkers ...observability.Checker) http.Handler {
	app := &config.AppConfig{Name: "booker-test", Version: "v0.0.0-test", Environment: "development"}
	cfg := &config.ObservabilityConfig{
		Port:          "0",
		Timeout:       time.Second,
		LivenessPath:  "/alive",
		ReadinessPath: "/check-deps",
		MetricsPath:   "/telemetry",
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return observability.NewServer(log, app, cfg, checkers...).Handler()
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, healthBody) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	var body healthBody
	if rr.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	}
	return rr, body
}

func up(name string) observability.Checker {
	return observability.CheckerFunc{Dependency: name, Fn: func(context.Context) error { return nil }}
}

func down(name string, err error) observability.Checker {
	return observability.CheckerFunc{Dependency: name, Fn: func(context.Context) error { return err }}
}

func TestLiveness(t *testing.T) {
	rr, body := get(t, newServer(down("postgres", errors.New("refused"))), "/alive")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "booker-test", body.Service)
	assert.Equal(t, "v0.0.0-test", body.Version)
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name       string
		checkers   []observability.Checker
		wantCode   int
		wantStatus string
		wantDeps   map[string]string
	}{
		{
			name:       "no dependencies",
			wantCode:   http.StatusOK,
			wantStatus: "ready",
			wantDeps:   map[string]string{},
		},
		{
			name:       "all up",
			checkers:   []observability.Checker{up("postgres"), up("redis")},
			wantCode:   http.StatusOK,
			wantStatus: "ready",
			wantDeps:   map[string]string{"postgres": "up", "redis": "up"},
		},
		{
			name:       "one down",
			checkers:   []observability.Checker{up("postgres"), down("redis", errors.New("connection refused"))},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unavailable",
			wantDeps:   map[string]string{"postgres": "up", "redis": "down"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, body := get(t, newServer(tt.checkers...), "/check-deps")

			assert.Equal(t, tt.wantCode, rr.Code)
			assert.Equal(t, tt.wantStatus, body.Status)
			got := map[string]string{}
			for name, d := range body.Dependencies {
				got[name] = d.Status
			}
			assert.Equal(t, tt.wantDeps, got)
		})
	}

	t.Run("failure detail and gauge", func(t *testing.T) {
		_, body := get(t, newServer(down("redis", errors.New("connection refused"))), "/check-deps")
		assert.Equal(t, "connection refused", body.Dependencies["redis"].Error)
		assert.Zero(t, testsupport.GetMetricValue(t, "booker_dependency_up", map[string]string{"dependency": "redis"}))

		get(t, newServer(up("redis")), "/check-deps")
		assert.Equal(t, 1.0, testsupport.GetMetricValue(t, "booker_dependency_up", map[string]string{"dependency": "redis"}))
	})

	t.Run("slow checker is cut by the timeout", func(t *testing.T) {
		slow := observability.CheckerFunc{Dependency: "postgres", Fn: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}}
		rr, body := get(t, newServer(slow), "/check-deps")
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.Equal(t, "down", body.Dependencies["postgres"].Status)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	observability.RelayBacklog.Set(3)

	rr := httptest.NewRecorder()
	newServer().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/telemetry", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "go_goroutines")
	assert.Contains(t, rr.Body.String(), "booker_relay_backlog 3")
}
