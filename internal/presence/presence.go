package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Tracker mirrors registry membership into shared storage so other processes
// (dashboards, other hub instances) can see who is online.
type Tracker interface {
	Online(ctx context.Context, userID, connID string) error
	Refresh(ctx context.Context, userID, connID string) error
	Offline(ctx context.Context, userID, connID string) error
	Lookup(ctx context.Context, userID string) (Entry, bool, error)
}

// Entry is the stored presence value.
type Entry struct {
	Instance string
	ConnID   string
}

func (e Entry) String() string { return e.Instance + "/" + e.ConnID }

// Nop is used when Redis is not configured.
type Nop struct{}

func (Nop) Online(context.Context, string, string) error  { return nil }
func (Nop) Refresh(context.Context, string, string) error { return nil }
func (Nop) Offline(context.Context, string, string) error { return nil }
func (Nop) Lookup(context.Context, string) (Entry, bool, error) {
	return Entry{}, false, nil
}

const keyPrefix = "hub:presence:"

func Key(userID string) string { return keyPrefix + userID }

// RedisTracker stores one key per user holding "<instance>/<conn>" with a TTL.
// A connection only refreshes or clears the key while it still owns it, so a
// replaced connection cannot erase its successor.
type RedisTracker struct {
	rdb      *redis.Client
	ttl      time.Duration
	instance string
}

func NewRedisTracker(rdb *redis.Client, instance string, ttl time.Duration) (*RedisTracker, error) {
	if rdb == nil {
		return nil, errors.New("presence: redis client is nil")
	}
	if ttl <= 0 {
		return nil, errors.New("presence: ttl must be > 0")
	}
	return &RedisTracker{rdb: rdb, ttl: ttl, instance: instance}, nil
}

var refreshIfOwnerScript = redis.NewScript(`
-- KEYS[1] = presence key
-- ARGV[1] = expected value
-- ARGV[2] = ttl_ms (int)
--
-- Returns 1 if the key was owned and refreshed, 0 otherwise.
if redis.call('GET', KEYS[1]) == ARGV[1] then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  return 1
end
return 0
`)

var deleteIfOwnerScript = redis.NewScript(`
-- KEYS[1] = presence key
-- ARGV[1] = expected value
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

func (t *RedisTracker) value(connID string) string {
	return Entry{Instance: t.instance, ConnID: connID}.String()
}

// Online claims the key for connID, replacing any previous owner.
func (t *RedisTracker) Online(ctx context.Context, userID, connID string) error {
	if userID == "" || connID == "" {
		return errors.New("presence: user and connection ids are required")
	}
	return t.rdb.Set(ctx, Key(userID), t.value(connID), t.ttl).Err()
}

func (t *RedisTracker) Refresh(ctx context.Context, userID, connID string) error {
	_, err := refreshIfOwnerScript.Run(ctx, t.rdb, []string{Key(userID)}, t.value(connID), t.ttl.Milliseconds()).Int()
	return err
}

func (t *RedisTracker) Offline(ctx context.Context, userID, connID string) error {
	_, err := deleteIfOwnerScript.Run(ctx, t.rdb, []string{Key(userID)}, t.value(connID)).Int()
	return err
}

func (t *RedisTracker) Lookup(ctx context.Context, userID string) (Entry, bool, error) {
	v, err := t.rdb.Get(ctx, Key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	e, err := parseEntry(v)
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

// CountOnline counts presence keys across every instance.
func (t *RedisTracker) CountOnline(ctx context.Context) (int64, error) {
	var (
		cursor uint64
		total  int64
	)
	for {
		keys, next, err := t.rdb.Scan(ctx, cursor, keyPrefix+"*", 200).Result()
		if err != nil {
			return 0, err
		}
		total += int64(len(keys))
		if next == 0 {
			return total, nil
		}
		cursor = next
	}
}

func parseEntry(v string) (Entry, error) {
	for i := len(v) - 1; i >= 0; i-- {
		if v[i] == '/' {
			return Entry{Instance: v[:i], ConnID: v[i+1:]}, nil
		}
	}
	return Entry{}, fmt.Errorf("presence: malformed entry %q", v)
}
