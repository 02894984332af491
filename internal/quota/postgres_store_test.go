package quota

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnmchuo/usage-governor/internal/plan"
	"github.com/vnmchuo/usage-governor/internal/testpg"
)

func TestPostgresStore_GetAbsentIsZero(t *testing.T) {
	store := NewPostgresStore(testpg.New(t))

	rec, err := store.Get(context.Background(), Key{TenantID: "t1", Metric: plan.MetricSMS, Month: "2026-06"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.Count)
	assert.True(t, rec.Cost.IsZero())
}

func TestPostgresStore_ConcurrentAddLosesNothing(t *testing.T) {
	store := NewPostgresStore(testpg.New(t))
	ctx := context.Background()
	key := Key{TenantID: "t1", Metric: plan.MetricSMS, Month: "2026-06"}
	unit := decimal.RequireFromString("0.0075")

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Add(ctx, key, 1, unit)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(n), rec.Count)
	assert.True(t, rec.Cost.Equal(unit.Mul(decimal.NewFromInt(n))), "cost = %s", rec.Cost)
}

func TestPostgresStore_AddWithinNeverCrossesCeiling(t *testing.T) {
	store := NewPostgresStore(testpg.New(t))
	ctx := context.Background()
	key := Key{TenantID: "t1", Metric: plan.MetricAIText, Month: "2026-06"}
	limit := plan.LimitFor("free", plan.MetricAIText)

	const callers = 60
	var granted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, ok, err := store.AddWithin(ctx, key, 1, decimal.Zero, limit)
			if !assert.NoError(t, err) {
				return
			}
			assert.LessOrEqual(t, rec.Count, limit.MaxCount)
			if ok {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(limit.MaxCount), granted.Load())
	rec, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, limit.MaxCount, rec.Count)
}

func TestPostgresStore_MonthsAreSeparateRows(t *testing.T) {
	store := NewPostgresStore(testpg.New(t))
	ctx := context.Background()
	june := Key{TenantID: "t1", Metric: plan.MetricAIText, Month: "2026-06"}
	july := Key{TenantID: "t1", Metric: plan.MetricAIText, Month: "2026-07"}

	_, err := store.Add(ctx, june, 5, decimal.Zero)
	require.NoError(t, err)
	rec, err := store.Add(ctx, july, 1, decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Count)

	rec, err = store.Get(ctx, june)
	require.NoError(t, err)
	assert.Equal(t, int64(5), rec.Count)
}
