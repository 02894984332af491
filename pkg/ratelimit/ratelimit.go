package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	extratelimit "github.com/vnmchuo/ratelimiter"
)

// Limiter caps how many requests a tenant may send per minute, independent
// of its monthly quota. It is a thin wrapper around
// github.com/vnmchuo/ratelimiter.
type Limiter struct {
	store  extratelimit.Limiter
	prefix string
}

func NewLimiter(rdb *redis.Client, scope string, perMinute int64) *Limiter {
	store := extratelimit.NewRedisStore(rdb,
		extratelimit.WithLimit(int(perMinute)),
		extratelimit.WithWindow(time.Minute),
	)
	return &Limiter{store: store, prefix: scope}
}

func NewTestLimiter(store extratelimit.Limiter, scope string) *Limiter {
	return &Limiter{store: store, prefix: scope}
}

func (l *Limiter) key(tenantID string) string {
	return fmt.Sprintf("ratelimit:%s:tenant:%s", l.prefix, tenantID)
}

// Allow consumes one request from the tenant's window.
func (l *Limiter) Allow(ctx context.Context, tenantID string) (bool, error) {
	res, err := l.store.Allow(ctx, l.key(tenantID))
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}

// Status reports whether the tenant's next request would be admitted,
// without consuming from the window.
func (l *Limiter) Status(ctx context.Context, tenantID string) (bool, error) {
	res, err := l.store.Status(ctx, l.key(tenantID))
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}
