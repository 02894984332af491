package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vnmchuo/usage-governor/internal/plan"
)

type failingStore struct{ err error }

func (f *failingStore) Get(ctx context.Context, key Key) (Record, error) { return Record{}, f.err }
func (f *failingStore) Add(ctx context.Context, key Key, count int64, cost decimal.Decimal) (Record, error) {
	return Record{}, f.err
}
func (f *failingStore) AddWithin(ctx context.Context, key Key, count int64, cost decimal.Decimal, limit plan.Limit) (Record, bool, error) {
	return Record{}, false, f.err
}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

var june = time.Date(2026, 6, 10, 8, 0, 0, 0, time.UTC)

func newTestLedger(store Store) *Ledger {
	return NewLedger(store, zap.NewNop(), fixedClock(june))
}

func TestMonthKey(t *testing.T) {
	assert.Equal(t, "2026-06", MonthKey(june))
	// 23:30 on Jan 31 in UTC-5 is already February in UTC.
	ny := time.FixedZone("EST", -5*3600)
	assert.Equal(t, "2026-02", MonthKey(time.Date(2026, 1, 31, 23, 30, 0, 0, ny)))
}

func TestCheck_EmptyMonth(t *testing.T) {
	l := newTestLedger(NewMemoryStore())
	d := l.Check(context.Background(), "t1", plan.MetricAIText, "standard")

	assert.True(t, d.Allowed)
	assert.Equal(t, Usage{Used: 0, Limit: 400, Remaining: 400}, d.Usage)
	assert.Empty(t, d.Reason)
}

func TestCheck_CountCeiling(t *testing.T) {
	store := NewMemoryStore()
	l := newTestLedger(store)
	ctx := context.Background()

	_, err := l.Increment(ctx, "t1", plan.MetricAIText, 400, decimal.Zero)
	require.NoError(t, err)

	d := l.Check(ctx, "t1", plan.MetricAIText, "standard")
	assert.False(t, d.Allowed)
	assert.Equal(t, Usage{Used: 400, Limit: 400, Remaining: 0}, d.Usage)
	assert.Contains(t, d.Reason, "400 of 400")
}

func TestCheck_CostCeilingBlocksBeforeCount(t *testing.T) {
	store := NewMemoryStore()
	l := newTestLedger(store)
	ctx := context.Background()

	// standard ai_image: 50 images, at most $5.00
	_, err := l.Increment(ctx, "t1", plan.MetricAIImage, 10, decimal.RequireFromString("4.99"))
	require.NoError(t, err)

	d := l.Check(ctx, "t1", plan.MetricAIImage, "standard")
	assert.False(t, d.Allowed)
	assert.Equal(t, int64(10), d.Usage.Used)
	assert.Equal(t, int64(50), d.Usage.Limit)
	assert.Contains(t, d.Reason, "$5.00")
}

func TestCheck_DisabledMetric(t *testing.T) {
	l := newTestLedger(&failingStore{err: errors.New("down")})
	d := l.Check(context.Background(), "t1", plan.MetricSMS, "free")

	assert.False(t, d.Allowed)
	assert.Equal(t, int64(0), d.Usage.Limit)
	assert.Contains(t, d.Reason, "not included")
}

func TestCheck_FailsOpen(t *testing.T) {
	l := newTestLedger(&failingStore{err: errors.New("connection reset")})
	d := l.Check(context.Background(), "t1", plan.MetricAIText, "standard")

	assert.True(t, d.Allowed)
	assert.True(t, d.Degraded)
}

func TestIncrement_FailsLoud(t *testing.T) {
	boom := errors.New("connection reset")
	l := newTestLedger(&failingStore{err: boom})

	_, err := l.IncrementDefault(context.Background(), "t1", plan.MetricAIText, "standard")
	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "increment", se.Op)
	assert.ErrorIs(t, err, boom)
}

func TestIncrement_RejectsNegativeDelta(t *testing.T) {
	store := NewMemoryStore()
	l := newTestLedger(store)
	ctx := context.Background()

	_, err := l.Increment(ctx, "t1", plan.MetricSMS, 3, decimal.Zero)
	require.NoError(t, err)

	_, err = l.Increment(ctx, "t1", plan.MetricSMS, -5, decimal.Zero)
	assert.ErrorIs(t, err, ErrNegativeUsage)
	_, err = l.Increment(ctx, "t1", plan.MetricSMS, 1, decimal.NewFromInt(-1))
	assert.ErrorIs(t, err, ErrNegativeUsage)
	_, err = l.Consume(ctx, "t1", plan.MetricSMS, "pro", -1, decimal.Zero)
	assert.ErrorIs(t, err, ErrNegativeUsage)

	rec, err := store.Get(ctx, Key{TenantID: "t1", Metric: plan.MetricSMS, Month: "2026-06"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.Count)
}

func TestIncrement_Concurrent(t *testing.T) {
	store := NewMemoryStore()
	l := newTestLedger(store)
	ctx := context.Background()

	_, err := l.Increment(ctx, "t1", plan.MetricSMS, 7, decimal.Zero)
	require.NoError(t, err)

	const n = 250
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.IncrementDefault(ctx, "t1", plan.MetricSMS, "pro")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := store.Get(ctx, Key{TenantID: "t1", Metric: plan.MetricSMS, Month: "2026-06"})
	require.NoError(t, err)
	assert.Equal(t, int64(7+n), rec.Count)
	assert.True(t, rec.Cost.Equal(decimal.RequireFromString("0.0075").Mul(decimal.NewFromInt(n))))
}

func TestConsume_NeverExceedsCeilingUnderContention(t *testing.T) {
	store := NewMemoryStore()
	l := newTestLedger(store)
	ctx := context.Background()

	const callers = 100
	var wg sync.WaitGroup
	var mu sync.Mutex
	granted, rejected := 0, 0

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Consume(ctx, "t1", plan.MetricAIText, "free", 1, decimal.Zero)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				granted++
				return
			}
			assert.ErrorIs(t, err, ErrQuotaExceeded)
			rejected++
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, granted)
	assert.Equal(t, callers-20, rejected)

	rec, _ := store.Get(ctx, Key{TenantID: "t1", Metric: plan.MetricAIText, Month: "2026-06"})
	assert.Equal(t, int64(20), rec.Count)
}

func TestConsume_ExceededCarriesUsage(t *testing.T) {
	l := newTestLedger(NewMemoryStore())
	ctx := context.Background()

	_, err := l.Increment(ctx, "t1", plan.MetricAIText, 20, decimal.Zero)
	require.NoError(t, err)

	_, err = l.Consume(ctx, "t1", plan.MetricAIText, "free", 1, decimal.Zero)
	var ex *ExceededError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, Usage{Used: 20, Limit: 20, Remaining: 0}, ex.Decision.Usage)
	assert.NotEmpty(t, ex.Decision.Reason)
}

func TestConsume_StorageError(t *testing.T) {
	l := newTestLedger(&failingStore{err: errors.New("down")})
	_, err := l.Consume(context.Background(), "t1", plan.MetricAIText, "pro", 1, decimal.Zero)

	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "consume", se.Op)
}

func TestLedger_MonthRollover(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 6, 30, 23, 59, 0, 0, time.UTC)
	l := NewLedger(store, zap.NewNop(), func() time.Time { return now })
	ctx := context.Background()

	_, err := l.Increment(ctx, "t1", plan.MetricAIText, 400, decimal.Zero)
	require.NoError(t, err)
	assert.False(t, l.Check(ctx, "t1", plan.MetricAIText, "standard").Allowed)

	now = now.Add(2 * time.Minute)
	d := l.Check(ctx, "t1", plan.MetricAIText, "standard")
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(0), d.Usage.Used)

	// June stays on record.
	rec, _ := store.Get(ctx, Key{TenantID: "t1", Metric: plan.MetricAIText, Month: "2026-06"})
	assert.Equal(t, int64(400), rec.Count)
}

func TestFits(t *testing.T) {
	maxCost := decimal.RequireFromString("1.00")
	limit := plan.Limit{MaxCount: 3, MaxCost: &maxCost}

	assert.True(t, Fits(Record{Count: 2, Cost: decimal.RequireFromString("0.50")}, limit, 1, decimal.RequireFromString("0.50")))
	assert.False(t, Fits(Record{Count: 3}, limit, 1, decimal.Zero))
	assert.False(t, Fits(Record{Count: 0, Cost: decimal.RequireFromString("0.90")}, limit, 1, decimal.RequireFromString("0.11")))
	assert.False(t, Fits(Record{}, plan.Limit{}, 1, decimal.Zero))
}
