//go:build integration

package observability_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/booker/internal/broker"
	"github.com/rafaeljc/booker/internal/config"
	"github.com/rafaeljc/booker/internal/database"
	"github.com/rafaeljc/booker/internal/observability"
	"github.com/rafaeljc/booker/internal/testsupport"
)

func TestObservabilityServer_Integration(t *testing.T) {
	ctx := context.Background()

	pgContainer, err := testsupport.StartPostgresContainer(ctx)
	require.NoError(t, err)
	defer pgContainer.Terminate(ctx)

	redisContainer, err := testsupport.StartRedisContainer(ctx)
	require.NoError(t, err)
	defer redisContainer.Terminate(ctx)

	freePort, err := getFreePort()
	require.NoError(t, err)

	obsCfg := &config.ObservabilityConfig{
		Port:          fmt.Sprintf("%d", freePort),
		Timeout:       time.Second,
		LivenessPath:  "/alive",
		ReadinessPath: "/check-deps",
		MetricsPath:   "/telemetry",
	}
	app := &config.AppConfig{Name: "booker-test", Version: "v0.0.0-test", Environment: "development"}

	server := observability.NewServer(slog.New(slog.NewTextHandler(io.Discard, nil)), app, obsCfg,
		database.NewHealthChecker(pgContainer.DB),
		broker.NewHealthChecker(redisContainer.Client),
	)
	server.Start()
	defer func() { _ = server.Shutdown(ctx) }()

	baseURL := fmt.Sprintf("http://localhost:%d", freePort)

	require.Eventually(t, func() bool {
		resp, err := http.Get(baseURL + "/alive")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 100*time.Millisecond, "server failed to start")

	t.Run("ready when postgres and redis are up", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/check-deps")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("metrics are served", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/telemetry")
		require.NoError(t, err)
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		assert.Contains(t, string(body), `booker_dependency_up{dependency="postgres"} 1`)
	})

	t.Run("unavailable when redis stops", func(t *testing.T) {
		require.NoError(t, redisContainer.Container.Stop(ctx, nil))

		resp, err := http.Get(baseURL + "/check-deps")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})
}

// getFreePort asks the kernel for a free TCP port.
func getFreePort() (int, error) {
	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
