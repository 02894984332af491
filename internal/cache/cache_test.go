package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type brokenStore struct{}

func (brokenStore) Get(ctx context.Context, key string) (*Entry, error) {
	return nil, errors.New("redis: connection refused")
}

func (brokenStore) Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error {
	return errors.New("redis: connection refused")
}

func TestCache_FreshnessWindow(t *testing.T) {
	clk := &clock{t: time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)}
	c := New(NewMemoryStore(), clk.Now)
	ctx := context.Background()
	fp := Fingerprint("tenant-1", "review-42")

	require.NoError(t, c.Store(ctx, fp, []byte(`{"reply":"thanks!"}`)))

	e, ok, err := c.Lookup(ctx, fp)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"reply":"thanks!"}`, string(e.Payload))

	clk.Advance(FreshFor - time.Second)
	_, ok, err = c.Lookup(ctx, fp)
	require.NoError(t, err)
	assert.True(t, ok, "entry should still be fresh just before the window closes")

	clk.Advance(time.Second)
	_, ok, err = c.Lookup(ctx, fp)
	require.NoError(t, err)
	assert.False(t, ok, "entry should be stale at exactly 24h")
}

func TestCache_Miss(t *testing.T) {
	c := New(NewMemoryStore(), nil)
	e, ok, err := c.Lookup(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, e)
}

func TestCache_StoreOverwrites(t *testing.T) {
	clk := &clock{t: time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)}
	c := New(NewMemoryStore(), clk.Now)
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "k", []byte("first")))
	clk.Advance(23 * time.Hour)
	require.NoError(t, c.Store(ctx, "k", []byte("second")))
	clk.Advance(2 * time.Hour)

	e, ok, err := c.Lookup(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second", string(e.Payload))
}

func TestCache_StoreError(t *testing.T) {
	c := New(brokenStore{}, nil)
	assert.Error(t, c.Store(context.Background(), "k", []byte("x")))
	_, _, err := c.Lookup(context.Background(), "k")
	assert.Error(t, err)
}

func TestCache_Purge(t *testing.T) {
	clk := &clock{t: time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	c := New(store, clk.Now)
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "old", []byte("a")))
	clk.Advance(20 * time.Hour)
	require.NoError(t, c.Store(ctx, "new", []byte("b")))
	clk.Advance(5 * time.Hour)

	n, err := c.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, store.Len())
}

func TestCache_PurgeUnsupported(t *testing.T) {
	c := New(brokenStore{}, nil)
	n, err := c.Purge(context.Background())
	assert.NoError(t, err)
	assert.Zero(t, n)
}

func TestFingerprint_TenantQualified(t *testing.T) {
	a := Fingerprint("tenant-a", "review-1")
	b := Fingerprint("tenant-b", "review-1")

	assert.NotEqual(t, a, b)
	assert.Equal(t, a, Fingerprint("tenant-a", "review-1"))
	assert.Regexp(t, `^tenant-a:[0-9a-f]{64}$`, a)
	assert.NotEqual(t, Fingerprint("t", "ab", "c"), Fingerprint("t", "a", "bc"))
}
