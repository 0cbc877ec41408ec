package kvstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// Each key is a hash with fields "value" and "version". The scripts run
// atomically on the server, which makes CompareAndSwap safe across
// processes sharing one Redis.

// casScript: KEYS[1]=key ARGV[1]=value ARGV[2]=expected version ARGV[3]=ttl ms.
// Returns the new version, or -1 on mismatch.
var casScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
if not cur then cur = '0' end
if cur ~= ARGV[2] then return -1 end
local nv = tonumber(cur) + 1
redis.call('HSET', KEYS[1], 'value', ARGV[1], 'version', nv)
if tonumber(ARGV[3]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[3])
else
	redis.call('PERSIST', KEYS[1])
end
return nv
`)

// setScript: KEYS[1]=key ARGV[1]=value ARGV[2]=ttl ms. Returns the new version.
var setScript = redis.NewScript(`
local nv = redis.call('HINCRBY', KEYS[1], 'version', 1)
redis.call('HSET', KEYS[1], 'value', ARGV[1])
if tonumber(ARGV[2]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
else
	redis.call('PERSIST', KEYS[1])
end
return nv
`)

// RedisStore is a [Store] on Redis. Expiry is native (PEXPIRE).
type RedisStore struct {
	client *redis.Client
}

// RedisOptions configures [NewRedisStore].
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisStore connects to Redis and verifies the connection with PING.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	vals, err := r.client.HMGet(ctx, key, "value", "version").Result()
	if err != nil {
		return Entry{}, false, fmt.Errorf("get %s: %w", key, err)
	}
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return Entry{}, false, nil
	}

	value, _ := vals[0].(string)
	rawVersion, _ := vals[1].(string)
	version, err := strconv.ParseInt(rawVersion, 10, 64)
	if err != nil {
		return Entry{}, false, fmt.Errorf("get %s: bad version %q: %w", key, rawVersion, err)
	}
	return Entry{Value: value, Version: version}, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) (int64, error) {
	version, err := setScript.Run(ctx, r.client, []string{key}, value, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("set %s: %w", key, err)
	}
	return version, nil
}

func (r *RedisStore) CompareAndSwap(ctx context.Context, key, value string, version int64, ttl time.Duration) (int64, error) {
	next, err := casScript.Run(ctx, r.client, []string{key},
		value, strconv.FormatInt(version, 10), ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("compare-and-swap %s: %w", key, err)
	}
	if next < 0 {
		return 0, ErrVersionConflict
	}
	return next, nil
}

// Close closes the Redis client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
