// Package storage provides the PostgreSQL span store.
//
// It manages connection pooling via pgxpool, forward-only migrations, and
// the span read, write and aggregation queries. The SQL text itself is
// rendered through a Dialect so the SQLite store can share it.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/metric"

	"github.com/Agenta-AI/agenta-sub004/internal/telemetry"
)

// DB wraps a pgxpool.Pool.
type DB struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	dialect Postgres
}

// New creates a new DB with a connection pool and verifies connectivity.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse pool DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	return &DB{
		pool:   pool,
		logger: logger,
	}, nil
}

// Pool returns the underlying connection pool for use by other packages.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Backend names the storage engine for health reporting.
func (db *DB) Backend() string {
	return db.dialect.String()
}

// Close shuts down the connection pool.
func (db *DB) Close(_ context.Context) {
	db.pool.Close()
}

// RegisterPoolMetrics exports pool saturation gauges through the global
// meter provider.
func (db *DB) RegisterPoolMetrics() {
	meter := telemetry.Meter("tracing/storage")

	total, err := meter.Int64ObservableGauge("tracing.db.pool.connections",
		metric.WithDescription("Open connections in the pool"))
	if err != nil {
		db.logger.Warn("storage: register pool metric", "error", err)
		return
	}
	idle, err := meter.Int64ObservableGauge("tracing.db.pool.idle",
		metric.WithDescription("Idle connections in the pool"))
	if err != nil {
		db.logger.Warn("storage: register pool metric", "error", err)
		return
	}
	acquired, err := meter.Int64ObservableGauge("tracing.db.pool.acquired",
		metric.WithDescription("Connections currently checked out"))
	if err != nil {
		db.logger.Warn("storage: register pool metric", "error", err)
		return
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		stat := db.pool.Stat()
		o.ObserveInt64(total, int64(stat.TotalConns()))
		o.ObserveInt64(idle, int64(stat.IdleConns()))
		o.ObserveInt64(acquired, int64(stat.AcquiredConns()))
		return nil
	}, total, idle, acquired)
	if err != nil {
		db.logger.Warn("storage: register pool metrics callback", "error", err)
	}
}
