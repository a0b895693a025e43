package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig tunes the go-redis client. Zero fields take the defaults below.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	PoolSize        int
	MinIdleConns    int
	PoolTimeout     time.Duration
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	PingTimeout  time.Duration
	PingAttempts int
	PingBackoff  time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	c.DialTimeout = orDuration(c.DialTimeout, 3*time.Second)
	c.ReadTimeout = orDuration(c.ReadTimeout, 2*time.Second)
	c.WriteTimeout = orDuration(c.WriteTimeout, 2*time.Second)
	c.PoolSize = orInt(c.PoolSize, 20)
	c.MinIdleConns = max(c.MinIdleConns, 0)
	c.PoolTimeout = orDuration(c.PoolTimeout, 4*time.Second)
	c.ConnMaxIdleTime = orDuration(c.ConnMaxIdleTime, 5*time.Minute)
	c.ConnMaxLifetime = orDuration(c.ConnMaxLifetime, 30*time.Minute)
	c.PingTimeout = orDuration(c.PingTimeout, 2*time.Second)
	c.PingAttempts = orInt(c.PingAttempts, 1)
	c.PingBackoff = orDuration(c.PingBackoff, 500*time.Millisecond)
	return c
}

func (c RedisConfig) options() *redis.Options {
	return &redis.Options{
		Addr:            c.Addr,
		Password:        c.Password,
		DB:              c.DB,
		DialTimeout:     c.DialTimeout,
		ReadTimeout:     c.ReadTimeout,
		WriteTimeout:    c.WriteTimeout,
		PoolSize:        c.PoolSize,
		MinIdleConns:    c.MinIdleConns,
		PoolTimeout:     c.PoolTimeout,
		ConnMaxIdleTime: c.ConnMaxIdleTime,
		ConnMaxLifetime: c.ConnMaxLifetime,
	}
}

// OpenRedis builds a client and PINGs it.
// Presence is the only consumer; callers skip it when Addr is empty.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	cfg = cfg.withDefaults()

	rdb := redis.NewClient(cfg.options())
	err := retry(ctx, cfg.PingAttempts, cfg.PingBackoff, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
		return nil
	})
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}
