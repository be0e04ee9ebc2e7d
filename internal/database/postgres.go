// Package database provides the PostgreSQL connection factory, the schema
// migration step and the database health checker.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rafaeljc/booker/internal/config"
	"github.com/rafaeljc/booker/internal/logger"
	"github.com/rafaeljc/booker/internal/observability"
)

// NewPostgresPool initializes a PostgreSQL connection pool from configuration.
// It pings with retries so the service can start alongside its database.
func NewPostgresPool(ctx context.Context, cfg *config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config cannot be nil")
	}

	// 1. Parse the configuration string
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// 2. Pool tuning
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	for k, v := range cfg.RuntimeParams() {
		poolCfg.ConnConfig.RuntimeParams[k] = v
	}

	// 3. Create the pool (connections are established lazily)
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// 4. Verify connectivity with linear backoff
	attempts := max(cfg.PingMaxRetries, 1)
	for attempt := 1; ; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		err = pool.Ping(pingCtx)
		cancel()
		if err == nil {
			break
		}
		if attempt >= attempts {
			pool.Close()
			return nil, fmt.Errorf("failed to ping database after %d attempts: %w", attempt, err)
		}

		logger.FromContext(ctx).Warn("database not ready, retrying", slog.Int("attempt", attempt), slog.Any("error", err))
		select {
		case <-ctx.Done():
			pool.Close()
			return nil, ctx.Err()
		case <-time.After(cfg.PingBackoff * time.Duration(attempt)):
		}
	}

	observability.DBPoolMaxConns.Set(float64(poolCfg.MaxConns))
	return pool, nil
}

// RunPoolMonitor periodically exports pool statistics until ctx is cancelled.
// It is meant to run as a sidecar goroutine.
func RunPoolMonitor(ctx context.Context, pool *pgxpool.Pool, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		recordPoolStats(pool.Stat())

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func recordPoolStats(s *pgxpool.Stat) {
	observability.DBPoolAcquiredConns.Set(float64(s.AcquiredConns()))
	observability.DBPoolIdleConns.Set(float64(s.IdleConns()))
	observability.DBPoolTotalConns.Set(float64(s.TotalConns()))
	observability.DBPoolMaxConns.Set(float64(s.MaxConns()))
	observability.DBPoolWaitCount.Set(float64(s.EmptyAcquireCount()))
}
