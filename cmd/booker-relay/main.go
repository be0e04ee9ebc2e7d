// Package main runs the announcement relay: it drains the PostgreSQL outbox
// into the Redis queue and channel.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rafaeljc/booker/internal/broker"
	"github.com/rafaeljc/booker/internal/config"
	"github.com/rafaeljc/booker/internal/database"
	"github.com/rafaeljc/booker/internal/logger"
	"github.com/rafaeljc/booker/internal/observability"
	"github.com/rafaeljc/booker/internal/relay"
	"github.com/rafaeljc/booker/internal/store"
)

func main() {
	if err := run(); err != nil {
		log.Printf("fatal error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if !cfg.Relay.Enabled {
		return fmt.Errorf("relay is disabled; set BOOKER_RELAY_ENABLED=true")
	}

	l := logger.New(&cfg.App)
	slog.SetDefault(l)
	cfg.LogConfig(l)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	initCtx := logger.WithContext(ctx, l)

	pool, err := database.NewPostgresPool(initCtx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer pool.Close()
	go database.RunPoolMonitor(ctx, pool, cfg.Database.MonitorInterval)

	rdb, err := broker.NewRedisClient(initCtx, &cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer rdb.Close()

	obs := observability.NewServer(logger.Component(l, "observability"), &cfg.App, &cfg.Observability,
		database.NewHealthChecker(pool),
		broker.NewHealthChecker(rdb),
	)
	obs.Start()

	pub := broker.NewPublisher(rdb, cfg.Relay.QueueKey, cfg.Relay.Channel)
	worker, err := relay.New(logger.Component(l, "relay"), cfg.Relay, store.NewPostgresStore(pool), pub)
	if err != nil {
		return err
	}

	// Blocks until SIGINT/SIGTERM.
	runErr := worker.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := obs.Shutdown(shutdownCtx); err != nil {
		l.Error("observability shutdown failed", slog.String("error", err.Error()))
	}

	l.Info("relay exited")
	return runErr
}
