package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

// HealthChecker reports PostgreSQL readiness: the server answers and the
// booking schema has been migrated.
type HealthChecker struct {
	pool *pgxpool.Pool
}

func NewHealthChecker(pool *pgxpool.Pool) *HealthChecker {
	return &HealthChecker{pool: pool}
}

func (h *HealthChecker) Name() string {
	return "postgres"
}

func (h *HealthChecker) Check(ctx context.Context) error {
	if h.pool == nil {
		return errors.New("database pool is nil")
	}

	var migrated bool
	if err := h.pool.QueryRow(ctx, "SELECT to_regclass('public.bookings') IS NOT NULL").Scan(&migrated); err != nil {
		return err
	}
	if !migrated {
		return errors.New("schema not migrated")
	}
	return nil
}
