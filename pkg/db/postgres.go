// Package db opens the PostgreSQL pool and runs booking transactions.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shiva/rentwheels/config"
)

// DefaultTxTimeout bounds a booking transaction, including row-lock wait.
const DefaultTxTimeout = 5 * time.Second

// ErrSchemaMissing is reported by HealthCheck when the bookings table does
// not exist yet, i.e. `rentwheels migrate` has not been run.
var ErrSchemaMissing = errors.New("postgres: bookings schema not migrated")

// PoolConfig builds the pgx pool settings. Sessions run in UTC; conversion
// to the display timezone happens in the application, never in SQL.
func PoolConfig(cfg config.PostgresConfig) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	pc.MaxConns, pc.MinConns = cfg.MaxConns, cfg.MinConns
	pc.MaxConnLifetime = time.Hour
	pc.MaxConnIdleTime = 15 * time.Minute
	pc.HealthCheckPeriod = 30 * time.Second

	params := pc.ConnConfig.RuntimeParams
	params["timezone"] = "UTC"
	params["application_name"] = "rentwheels"
	return pc, nil
}

// NewPostgresPool opens the pool and fails fast if the server is unreachable.
func NewPostgresPool(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	pc, err := PoolConfig(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return pool, nil
}

// HealthCheck pings the pool and confirms the bookings table exists.
func HealthCheck(ctx context.Context, pool *pgxpool.Pool) error {
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var migrated bool
	if err := pool.QueryRow(checkCtx, `SELECT to_regclass('public.bookings') IS NOT NULL`).Scan(&migrated); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if !migrated {
		return ErrSchemaMissing
	}
	return nil
}

// ─── Transactions ───────────────────────────────────────────

// TxBeginner is satisfied by *pgxpool.Pool and *pgx.Conn.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// TxFunc runs inside a transaction. Returning an error rolls back.
type TxFunc func(ctx context.Context, tx pgx.Tx) error

// InTx runs fn in a READ COMMITTED transaction and commits if fn succeeds.
// A positive timeout bounds the whole transaction. Errors returned by fn
// are passed through unwrapped so callers can match their own sentinels.
func InTx(ctx context.Context, b TxBeginner, timeout time.Duration, fn TxFunc) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := b.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}
