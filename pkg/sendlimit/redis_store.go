package sendlimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis so counters are shared across
// application instances. Counters live in fixed hour/day buckets with
// a TTL slightly longer than the window, so stale buckets expire on
// their own.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// RedisStoreOption configures a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithKeyPrefix overrides the default "sendlimit" key prefix.
func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(rs *RedisStore) {
		if prefix != "" {
			rs.keyPrefix = prefix
		}
	}
}

// NewRedisStore creates a Redis-backed counter store.
func NewRedisStore(client *redis.Client, opts ...RedisStoreOption) (*RedisStore, error) {
	if client == nil {
		return nil, ErrStoreNil
	}

	rs := &RedisStore{
		client:    client,
		keyPrefix: "sendlimit",
	}
	for _, opt := range opts {
		opt(rs)
	}
	return rs, nil
}

func (rs *RedisStore) Incr(ctx context.Context, key Key, now time.Time) (Counts, error) {
	hourKey, dayKey := rs.bucketKeys(key, now)

	pipe := rs.client.TxPipeline()
	hourIncr := pipe.Incr(ctx, hourKey)
	pipe.Expire(ctx, hourKey, 2*time.Hour)
	dayIncr := pipe.Incr(ctx, dayKey)
	pipe.Expire(ctx, dayKey, 25*time.Hour)

	if _, err := pipe.Exec(ctx); err != nil {
		return Counts{}, err
	}
	return Counts{
		Hour: int(hourIncr.Val()),
		Day:  int(dayIncr.Val()),
	}, nil
}

func (rs *RedisStore) Peek(ctx context.Context, key Key, now time.Time) (Counts, error) {
	hourKey, dayKey := rs.bucketKeys(key, now)

	values, err := rs.client.MGet(ctx, hourKey, dayKey).Result()
	if err != nil {
		return Counts{}, err
	}

	return Counts{
		Hour: parseCount(values[0]),
		Day:  parseCount(values[1]),
	}, nil
}

func (rs *RedisStore) Reset(ctx context.Context, key Key) error {
	now := time.Now()
	hourKey, dayKey := rs.bucketKeys(key, now)
	return rs.client.Del(ctx, hourKey, dayKey).Err()
}

func (rs *RedisStore) bucketKeys(key Key, now time.Time) (string, string) {
	base := rs.keyPrefix + ":" + key.String()
	hourKey := fmt.Sprintf("%s:h:%s", base, now.UTC().Format("2006010215"))
	dayKey := fmt.Sprintf("%s:d:%s", base, now.UTC().Format("20060102"))
	return hourKey, dayKey
}

func parseCount(v any) int {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}
