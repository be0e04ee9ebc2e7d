// Package store provides the Data Access Layer for the Booker application.
// It handles all direct interactions with PostgreSQL using the pgx driver and
// builds dynamic statements with squirrel.
package store

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when a looked up row does not exist.
	ErrNotFound = errors.New("store: record not found")

	// ErrDuplicate is returned on unique constraint violations.
	ErrDuplicate = errors.New("store: duplicate record")

	// ErrReference is returned on foreign key violations.
	ErrReference = errors.New("store: referenced record does not exist")

	// ErrAlreadyCancelled is returned when a cancellation already exists for a booking.
	ErrAlreadyCancelled = errors.New("store: booking already cancelled")
)

// PostgreSQL error codes mapped by this package.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// DBTX is the subset of pgx shared by pools and transactions.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pool is a DBTX able to start transactions (*pgxpool.Pool, pgxmock pools).
type Pool interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Queries lists every persistence operation. The same set is available on the
// pool (autocommit) and inside a unit of work.
type Queries interface {
	ResourceQueries
	RuleQueries
	BookingQueries
	RequestQueries
	AnnouncementQueries
}

// Store is Queries plus explicit units of work.
type Store interface {
	Queries

	// InTx runs fn inside one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(q Queries) error) error

	// InReadOnlyTx runs fn inside a read-only transaction that never commits writes.
	InReadOnlyTx(ctx context.Context, fn func(q Queries) error) error
}

// Compile-time check to verify that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// psql builds statements with PostgreSQL placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// queries implements Queries over any DBTX.
type queries struct {
	db DBTX
}

// PostgresStore is the implementation of Store backed by PostgreSQL.
type PostgresStore struct {
	*queries
	pool Pool
}

// NewPostgresStore creates a new repository instance with the given connection pool.
func NewPostgresStore(pool Pool) *PostgresStore {
	if pool == nil {
		panic("store: database pool cannot be nil")
	}
	return &PostgresStore{
		queries: &queries{db: pool},
		pool:    pool,
	}
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(q Queries) error) error {
	return s.runTx(ctx, pgx.TxOptions{}, fn)
}

func (s *PostgresStore) InReadOnlyTx(ctx context.Context, fn func(q Queries) error) error {
	return s.runTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly}, fn)
}

func (s *PostgresStore) runTx(ctx context.Context, opts pgx.TxOptions, fn func(q Queries) error) error {
	tx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	// Safe to call after commit.
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&queries{db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// paginate applies limit and offset; a zero limit means no limit.
func paginate(b sq.SelectBuilder, limit, offset uint64) sq.SelectBuilder {
	if limit > 0 {
		b = b.Limit(limit)
	}
	if offset > 0 {
		b = b.Offset(offset)
	}
	return b
}

// mapError translates driver errors into this package's sentinels.
// Errors that do not map are returned wrapped with msg.
func mapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
		case pgForeignKeyViolation:
			return fmt.Errorf("%w: %s", ErrReference, pgErr.ConstraintName)
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}
