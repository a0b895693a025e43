package utils

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DriverPgx is the database/sql name registered by github.com/jackc/pgx/v5/stdlib.
const DriverPgx = "pgx"

// PostgresPoolConfig tunes database/sql pooling and the startup ping.
// Zero fields take the defaults below.
type PostgresPoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	PingTimeout time.Duration
	// PingAttempts > 1 retries the startup ping with doubling backoff, for
	// containers that start before the database accepts connections.
	PingAttempts int
	PingBackoff  time.Duration
}

func (c PostgresPoolConfig) withDefaults() PostgresPoolConfig {
	c.MaxOpenConns = orInt(c.MaxOpenConns, 25)
	c.MaxIdleConns = orInt(c.MaxIdleConns, 10)
	c.ConnMaxLifetime = orDuration(c.ConnMaxLifetime, 30*time.Minute)
	c.ConnMaxIdleTime = orDuration(c.ConnMaxIdleTime, 5*time.Minute)
	c.PingTimeout = orDuration(c.PingTimeout, 5*time.Second)
	c.PingAttempts = orInt(c.PingAttempts, 1)
	c.PingBackoff = orDuration(c.PingBackoff, 500*time.Millisecond)
	return c
}

// OpenPostgres opens a pooled *sql.DB and pings it.
// An empty driverName means DriverPgx; the caller still imports the driver.
// dsn must not be logged; it contains secrets.
func OpenPostgres(ctx context.Context, driverName, dsn string, pool PostgresPoolConfig) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	if driverName == "" {
		driverName = DriverPgx
	}
	pool = pool.withDefaults()

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	err = retry(ctx, pool.PingAttempts, pool.PingBackoff, func() error {
		return HealthCheck(ctx, db, pool.PingTimeout)
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// HealthCheck pings the DB with a timeout.
func HealthCheck(ctx context.Context, db *sql.DB, timeout time.Duration) error {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("db ping failed: %w", err)
	}
	return nil
}
