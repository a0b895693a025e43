package utils

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPostgresPoolDefaults(t *testing.T) {
	p := PostgresPoolConfig{}.withDefaults()
	if p.MaxOpenConns != 25 || p.MaxIdleConns != 10 || p.PingTimeout != 5*time.Second || p.PingAttempts != 1 {
		t.Fatalf("unexpected defaults: %+v", p)
	}
	p = PostgresPoolConfig{MaxOpenConns: 4}.withDefaults()
	if p.MaxOpenConns != 4 {
		t.Fatalf("explicit value overridden: %+v", p)
	}
}

func TestOpenPostgres_RequiresDSN(t *testing.T) {
	if _, err := OpenPostgres(context.Background(), "", "", PostgresPoolConfig{}); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
}

func TestRedisDefaults(t *testing.T) {
	c := RedisConfig{MinIdleConns: -1}.withDefaults()
	if c.PoolSize != 20 || c.MinIdleConns != 0 || c.DialTimeout != 3*time.Second {
		t.Fatalf("unexpected defaults: %+v", c)
	}
}

func TestOpenRedis_RequiresAddr(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}

func TestRetry(t *testing.T) {
	calls := 0
	err := retry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("expected success on third attempt, calls=%d err=%v", calls, err)
	}

	calls = 0
	err = retry(context.Background(), 2, time.Millisecond, func() error {
		calls++
		return errors.New("down")
	})
	if err == nil || calls != 2 {
		t.Fatalf("expected last error after 2 attempts, calls=%d err=%v", calls, err)
	}
}

func TestRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := retry(ctx, 5, time.Hour, func() error { return errors.New("down") })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
