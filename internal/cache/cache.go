// Package cache stores generation results so identical billable requests are
// not paid for twice.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// FreshFor is how long a stored result may be served.
const FreshFor = 24 * time.Hour

type Entry struct {
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// MarshalBinary implements encoding.BinaryMarshaler for Redis
func (e *Entry) MarshalBinary() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for Redis
func (e *Entry) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, e)
}

// Store is a single-key upsert backend. Get returns nil, nil when the key is
// absent. ttl is a hint; freshness is always re-checked by Cache.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error
}

// Purger is implemented by stores that need explicit eviction.
type Purger interface {
	Purge(ctx context.Context, createdBefore time.Time) (int, error)
}

type Cache struct {
	store Store
	now   func() time.Time
}

func New(store Store, now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{store: store, now: now}
}

// Lookup returns the entry for fingerprint if it is younger than FreshFor.
func (c *Cache) Lookup(ctx context.Context, fingerprint string) (*Entry, bool, error) {
	e, err := c.store.Get(ctx, fingerprint)
	if err != nil {
		return nil, false, fmt.Errorf("cache lookup: %w", err)
	}
	if e == nil || c.now().Sub(e.CreatedAt) >= FreshFor {
		return nil, false, nil
	}
	return e, true, nil
}

// Store upserts payload under fingerprint, replacing any previous entry.
func (c *Cache) Store(ctx context.Context, fingerprint string, payload []byte) error {
	e := &Entry{Payload: payload, CreatedAt: c.now()}
	if err := c.store.Set(ctx, fingerprint, e, FreshFor); err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	return nil
}

// Purge evicts stale entries when the backend supports it. Stores with
// native expiry report zero.
func (c *Cache) Purge(ctx context.Context) (int, error) {
	p, ok := c.store.(Purger)
	if !ok {
		return 0, nil
	}
	return p.Purge(ctx, c.now().Add(-FreshFor))
}

// Fingerprint derives a tenant-qualified cache key from the parts that
// identify a request, such as a review id.
func Fingerprint(tenantID string, parts ...string) string {
	h := sha256.New()
	h.Write([]byte(tenantID))
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return fmt.Sprintf("%s:%s", tenantID, hex.EncodeToString(h.Sum(nil)))
}
