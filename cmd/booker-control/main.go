// Package main initializes and runs the Booker control plane.
//
// It is the composition root of the REST API: configuration, PostgreSQL pool
// and schema, admission service, health server and the server lifecycle.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rafaeljc/booker/internal/admission"
	"github.com/rafaeljc/booker/internal/broker"
	"github.com/rafaeljc/booker/internal/config"
	"github.com/rafaeljc/booker/internal/controlapi"
	"github.com/rafaeljc/booker/internal/database"
	"github.com/rafaeljc/booker/internal/logger"
	"github.com/rafaeljc/booker/internal/observability"
	"github.com/rafaeljc/booker/internal/store"
)

func main() {
	if err := run(); err != nil {
		log.Printf("fatal error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	// -------------------------------------------------------------------------
	// 1. Configuration
	// -------------------------------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	l := logger.New(&cfg.App)
	slog.SetDefault(l)
	cfg.LogConfig(l)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// -------------------------------------------------------------------------
	// 2. Infrastructure
	// -------------------------------------------------------------------------
	pool, err := database.NewPostgresPool(logger.WithContext(ctx, l), &cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer pool.Close()

	if cfg.Database.MigrateOnStart {
		if err := database.Migrate(ctx, pool, logger.Component(l, "migrate")); err != nil {
			return err
		}
	}
	go database.RunPoolMonitor(ctx, pool, cfg.Database.MonitorInterval)

	checkers := []observability.Checker{database.NewHealthChecker(pool)}

	// Redis is optional here; when configured it joins readiness so that
	// a broken broker is visible before announcements pile up.
	if cfg.Redis.IsConfigured() {
		rdb, err := broker.NewRedisClient(logger.WithContext(ctx, l), &cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer rdb.Close()
		checkers = append(checkers, broker.NewHealthChecker(rdb))
	}

	obs := observability.NewServer(logger.Component(l, "observability"), &cfg.App, &cfg.Observability, checkers...)
	obs.Start()

	// -------------------------------------------------------------------------
	// 3. Wiring
	// -------------------------------------------------------------------------
	st := store.NewPostgresStore(pool)
	svc := admission.NewService(st, nil, l)

	ctrl := cfg.Server.Control
	skipAuth := ctrl.APIKeyHash == "" && cfg.App.Environment != config.EnvironmentProduction
	if skipAuth {
		l.Warn("control plane authentication disabled: no API key hash configured")
	}
	api := controlapi.NewAPIWithConfig(st, svc, ctrl.APIKeyHash, skipAuth)

	// -------------------------------------------------------------------------
	// 4. HTTP server
	// -------------------------------------------------------------------------
	srv := &http.Server{
		Addr:              ctrl.Addr(),
		Handler:           api.Router,
		ReadTimeout:       ctrl.ReadTimeout,
		WriteTimeout:      ctrl.WriteTimeout,
		ReadHeaderTimeout: ctrl.ReadHeaderTimeout,
		IdleTimeout:       ctrl.IdleTimeout,
		MaxHeaderBytes:    ctrl.MaxHeaderBytes,
		ErrorLog:          slog.NewLogLogger(l.Handler(), slog.LevelError),
	}

	errChan := make(chan error, 1)
	go func() {
		l.Info("control plane listening", slog.String("addr", srv.Addr), slog.Bool("tls", ctrl.TLSEnabled))
		var err error
		if ctrl.TLSEnabled {
			err = srv.ListenAndServeTLS(ctrl.TLSCert, ctrl.TLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("control plane server failed: %w", err)
		}
	}()

	// -------------------------------------------------------------------------
	// 5. Graceful shutdown
	// -------------------------------------------------------------------------
	var runErr error
	select {
	case runErr = <-errChan:
	case <-ctx.Done():
		l.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Error("control plane shutdown failed", slog.String("error", err.Error()))
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		l.Error("observability shutdown failed", slog.String("error", err.Error()))
	}

	l.Info("service exited")
	return runErr
}
