// Package billing keeps the append-only audit trail of billed generations.
package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vnmchuo/usage-governor/internal/plan"
)

type UsageEvent struct {
	ID           string          `json:"id"`
	TenantID     string          `json:"tenant_id"`
	RequestID    string          `json:"request_id"`
	Metric       plan.Metric     `json:"metric"`
	Provider     string          `json:"provider"`
	Model        string          `json:"model"`
	InputTokens  int             `json:"input_tokens"`
	OutputTokens int             `json:"output_tokens"`
	CostUSD      decimal.Decimal `json:"cost_usd"`
	LatencyMs    int64           `json:"latency_ms"`
	Cached       bool            `json:"cached"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Summary aggregates a tenant's events over a time range.
type Summary struct {
	Requests     int             `json:"total_requests"`
	CachedHits   int             `json:"cached_hits"`
	TotalCostUSD decimal.Decimal `json:"total_cost_usd"`
}

type Store interface {
	LogUsage(ctx context.Context, event *UsageEvent) error
	GetUsageByTenant(ctx context.Context, tenantID string, from, to time.Time) ([]*UsageEvent, error)
	Summarize(ctx context.Context, tenantID string, from, to time.Time) (Summary, error)
}
