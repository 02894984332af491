package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps entries as JSON values that expire with the freshness
// window.
type RedisStore struct {
	rdb    redis.Cmdable
	prefix string
}

func NewRedisStore(rdb redis.Cmdable) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: "respcache"}
}

func (s *RedisStore) key(k string) string {
	return fmt.Sprintf("%s:%s", s.prefix, k)
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, error) {
	var e Entry
	err := s.rdb.Get(ctx, s.key(key)).Scan(&e)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error {
	return s.rdb.Set(ctx, s.key(key), entry, ttl).Err()
}
