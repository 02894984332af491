// Package quota meters billable operations per tenant and calendar month.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vnmchuo/usage-governor/internal/plan"
)

// Key identifies one usage record. Month is "YYYY-MM" in UTC.
type Key struct {
	TenantID string
	Metric   plan.Metric
	Month    string
}

// Record is a snapshot of one month's consumption.
type Record struct {
	Count int64
	Cost  decimal.Decimal
}

// Store persists usage records. Absent records read as zero. Add and
// AddWithin must apply their delta as one atomic read-modify-write.
type Store interface {
	Get(ctx context.Context, key Key) (Record, error)
	Add(ctx context.Context, key Key, count int64, cost decimal.Decimal) (Record, error)
	// AddWithin applies the delta only if the result stays within limit, and
	// reports whether it did. The returned record is the post-call state.
	AddWithin(ctx context.Context, key Key, count int64, cost decimal.Decimal, limit plan.Limit) (Record, bool, error)
}

// Usage is the count dimension of a record against its plan ceiling.
type Usage struct {
	Used      int64 `json:"used"`
	Limit     int64 `json:"limit"`
	Remaining int64 `json:"remaining"`
}

type Decision struct {
	Allowed bool   `json:"allowed"`
	Usage   Usage  `json:"usage"`
	Reason  string `json:"reason,omitempty"`
	// Degraded is set when usage could not be read and the check failed open.
	Degraded bool `json:"-"`
}

var (
	ErrQuotaExceeded = errors.New("quota exceeded")
	ErrNegativeUsage = errors.New("usage delta must not be negative")
)

type ExceededError struct {
	TenantID string
	Metric   plan.Metric
	Decision Decision
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: tenant %s %s %d/%d", e.TenantID, e.Metric, e.Decision.Usage.Used, e.Decision.Usage.Limit)
}

func (e *ExceededError) Is(target error) bool { return target == ErrQuotaExceeded }

// StorageError wraps a failure of the backing store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("usage store %s: %v", e.Op, e.Err) }

func (e *StorageError) Unwrap() error { return e.Err }

// MonthKey formats t as the UTC calendar month used to key records.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

type Ledger struct {
	store Store
	log   *zap.Logger
	now   func() time.Time
}

func NewLedger(store Store, log *zap.Logger, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{store: store, log: log, now: now}
}

func (l *Ledger) key(tenantID string, metric plan.Metric) Key {
	return Key{TenantID: tenantID, Metric: metric, Month: MonthKey(l.now())}
}

// Check reports whether one more unit at the metric's default cost fits the
// plan. It is advisory and fails open when usage cannot be read.
func (l *Ledger) Check(ctx context.Context, tenantID string, metric plan.Metric, planName string) Decision {
	limit := plan.LimitFor(planName, metric)
	if limit.Disabled() {
		return decide(Record{}, limit, metric, 1, limit.DefaultCost)
	}
	key := l.key(tenantID, metric)

	rec, err := l.store.Get(ctx, key)
	if err != nil {
		l.log.Error("usage read failed, allowing request",
			zap.String("tenant_id", tenantID),
			zap.String("metric", string(metric)),
			zap.String("month", key.Month),
			zap.Error(err),
		)
		return Decision{
			Allowed:  true,
			Usage:    Usage{Limit: limit.MaxCount, Remaining: limit.MaxCount},
			Degraded: true,
		}
	}

	return decide(rec, limit, metric, 1, limit.DefaultCost)
}

// Increment records amount units costing cost in the current month.
func (l *Ledger) Increment(ctx context.Context, tenantID string, metric plan.Metric, amount int64, cost decimal.Decimal) (Record, error) {
	if amount < 0 || cost.IsNegative() {
		return Record{}, fmt.Errorf("%w: amount %d, cost %s", ErrNegativeUsage, amount, cost)
	}
	key := l.key(tenantID, metric)
	rec, err := l.store.Add(ctx, key, amount, cost)
	if err != nil {
		l.log.Error("usage increment failed",
			zap.String("tenant_id", tenantID),
			zap.String("metric", string(metric)),
			zap.String("month", key.Month),
			zap.Int64("amount", amount),
			zap.Error(err),
		)
		return Record{}, &StorageError{Op: "increment", Err: err}
	}
	return rec, nil
}

// IncrementDefault records a single unit at the plan's default cost.
func (l *Ledger) IncrementDefault(ctx context.Context, tenantID string, metric plan.Metric, planName string) (Record, error) {
	return l.Increment(ctx, tenantID, metric, 1, plan.LimitFor(planName, metric).DefaultCost)
}

// Consume checks and records amount units in one store transaction. It
// returns *ExceededError without recording anything when either ceiling
// would be crossed.
func (l *Ledger) Consume(ctx context.Context, tenantID string, metric plan.Metric, planName string, amount int64, cost decimal.Decimal) (Decision, error) {
	if amount < 0 || cost.IsNegative() {
		return Decision{}, fmt.Errorf("%w: amount %d, cost %s", ErrNegativeUsage, amount, cost)
	}
	limit := plan.LimitFor(planName, metric)
	key := l.key(tenantID, metric)

	if limit.Disabled() {
		d := decide(Record{}, limit, metric, amount, cost)
		return d, &ExceededError{TenantID: tenantID, Metric: metric, Decision: d}
	}

	rec, ok, err := l.store.AddWithin(ctx, key, amount, cost, limit)
	if err != nil {
		l.log.Error("usage consume failed",
			zap.String("tenant_id", tenantID),
			zap.String("metric", string(metric)),
			zap.String("month", key.Month),
			zap.Error(err),
		)
		return Decision{}, &StorageError{Op: "consume", Err: err}
	}
	if !ok {
		d := decide(rec, limit, metric, amount, cost)
		return d, &ExceededError{TenantID: tenantID, Metric: metric, Decision: d}
	}

	return Decision{Allowed: true, Usage: usageOf(rec, limit)}, nil
}

// Fits reports whether adding count units costing cost to rec stays within
// both ceilings of limit.
func Fits(rec Record, limit plan.Limit, count int64, cost decimal.Decimal) bool {
	if limit.Disabled() || rec.Count+count > limit.MaxCount {
		return false
	}
	if limit.MaxCost != nil && rec.Cost.Add(cost).GreaterThan(*limit.MaxCost) {
		return false
	}
	return true
}

func usageOf(rec Record, limit plan.Limit) Usage {
	remaining := limit.MaxCount - rec.Count
	if remaining < 0 {
		remaining = 0
	}
	return Usage{Used: rec.Count, Limit: limit.MaxCount, Remaining: remaining}
}

func decide(rec Record, limit plan.Limit, metric plan.Metric, count int64, cost decimal.Decimal) Decision {
	d := Decision{Usage: usageOf(rec, limit)}
	switch {
	case limit.Disabled():
		d.Reason = fmt.Sprintf("%s is not included in your plan. Upgrade your plan to enable it.", metricLabel(metric))
	case rec.Count+count > limit.MaxCount:
		d.Reason = fmt.Sprintf("You have used %d of %d %s this month. Upgrade your plan or wait for next month's reset.",
			rec.Count, limit.MaxCount, unitLabel(metric))
	case limit.MaxCost != nil && rec.Cost.Add(cost).GreaterThan(*limit.MaxCost):
		d.Usage.Remaining = 0
		d.Reason = fmt.Sprintf("The monthly spend limit of $%s for %s has been reached. Upgrade your plan or wait for next month's reset.",
			limit.MaxCost.StringFixed(2), unitLabel(metric))
	default:
		d.Allowed = true
	}
	return d
}

func metricLabel(m plan.Metric) string {
	switch m {
	case plan.MetricAIText:
		return "AI text generation"
	case plan.MetricAIImage:
		return "AI image generation"
	case plan.MetricSMS:
		return "SMS sending"
	}
	return string(m)
}

func unitLabel(m plan.Metric) string {
	switch m {
	case plan.MetricAIText:
		return "AI text generations"
	case plan.MetricAIImage:
		return "AI images"
	case plan.MetricSMS:
		return "SMS messages"
	}
	return string(m)
}
